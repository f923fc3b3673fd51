/*
Copyright 2025 Altaira Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package httpapi

import (
	"context"
	"sync"
	"time"

	"github.com/altairalabs/vaultchat/internal/store"
)

// fakeAuthStore is a minimal in-memory store.Store covering the users and
// refresh-credential operations the auth routes exercise.
type fakeAuthStore struct {
	store.Store

	mu        sync.Mutex
	users     map[int64]*store.User
	byName    map[string]int64
	refresh   map[string]*store.RefreshCredential
	nextID    int64
}

func newFakeAuthStore() *fakeAuthStore {
	return &fakeAuthStore{
		users:   make(map[int64]*store.User),
		byName:  make(map[string]int64),
		refresh: make(map[string]*store.RefreshCredential),
		nextID:  1,
	}
}

func (f *fakeAuthStore) CreateUser(ctx context.Context, username, passwordHash, publicKey string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, taken := f.byName[username]; taken {
		return nil, store.ErrUsernameTaken
	}
	id := f.nextID
	f.nextID++
	user := &store.User{ID: id, Username: username, PasswordHash: passwordHash, PublicKey: publicKey, Active: true}
	f.users[id] = user
	f.byName[username] = id
	return user, nil
}

func (f *fakeAuthStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeAuthStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byName[username]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return f.users[id], nil
}

func (f *fakeAuthStore) CreateRefreshToken(ctx context.Context, jti string, userID int64, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[jti] = &store.RefreshCredential{JTI: jti, UserID: userID, ExpiresAt: expiresAt}
	return nil
}

func (f *fakeAuthStore) GetRefreshToken(ctx context.Context, jti string) (*store.RefreshCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cred, ok := f.refresh[jti]
	if !ok {
		return nil, store.ErrRefreshTokenNotFound
	}
	return cred, nil
}

func (f *fakeAuthStore) RevokeRefreshToken(ctx context.Context, jti string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cred, ok := f.refresh[jti]
	if !ok {
		return store.ErrRefreshTokenNotFound
	}
	cred.Revoked = true
	return nil
}
