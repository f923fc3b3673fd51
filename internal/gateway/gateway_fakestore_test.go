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

package gateway

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/altairalabs/vaultchat/internal/store"
)

// fakeGatewayStore is a minimal in-memory store.Store covering just the
// users and room/ledger operations the gateway's end-to-end tests drive.
type fakeGatewayStore struct {
	mu       sync.Mutex
	users    map[int64]*store.User
	rooms    map[int64]*store.Room
	members  map[int64]map[int64]bool
	ledger   map[int64]map[int64]string
	messages map[int64][]store.Message
	nextRoom int64
	nextMsg  int64
}

func newFakeGatewayStore() *fakeGatewayStore {
	return &fakeGatewayStore{
		users:    make(map[int64]*store.User),
		rooms:    make(map[int64]*store.Room),
		members:  make(map[int64]map[int64]bool),
		ledger:   make(map[int64]map[int64]string),
		messages: make(map[int64][]store.Message),
		nextRoom: 1,
		nextMsg:  1,
	}
}

func (f *fakeGatewayStore) addUser(u *store.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
}

func (f *fakeGatewayStore) CreateUser(ctx context.Context, username, passwordHash, publicKey string) (*store.User, error) {
	return nil, nil
}

func (f *fakeGatewayStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeGatewayStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return nil, store.ErrUserNotFound
}
func (f *fakeGatewayStore) CreateRefreshToken(ctx context.Context, jti string, userID int64, expiresAt time.Time) error {
	return nil
}
func (f *fakeGatewayStore) GetRefreshToken(ctx context.Context, jti string) (*store.RefreshCredential, error) {
	return nil, store.ErrRefreshTokenNotFound
}
func (f *fakeGatewayStore) RevokeRefreshToken(ctx context.Context, jti string) error { return nil }

func (f *fakeGatewayStore) CreateRoom(ctx context.Context, creatorID int64, displayName string, group bool, invitees []int64, wraps []store.ParticipantWrap) (*store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextRoom
	f.nextRoom++
	room := &store.Room{ID: id, DisplayName: displayName, Group: group, CurrentKeyVersion: 1}
	f.rooms[id] = room

	members := map[int64]bool{creatorID: true}
	for _, uid := range invitees {
		members[uid] = true
	}
	f.members[id] = members

	ledger := make(map[int64]string, len(wraps))
	for _, w := range wraps {
		ledger[w.UserID] = w.WrappedKey
	}
	f.ledger[id] = ledger
	return room, nil
}

func (f *fakeGatewayStore) GetRoom(ctx context.Context, roomID int64) (*store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return nil, store.ErrRoomNotFound
	}
	return room, nil
}

func (f *fakeGatewayStore) GetParticipants(ctx context.Context, roomID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.members[roomID]
	if !ok {
		return nil, store.ErrRoomNotFound
	}
	out := make([]int64, 0, len(members))
	for uid := range members {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (f *fakeGatewayStore) IsParticipant(ctx context.Context, roomID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[roomID][userID], nil
}

func (f *fakeGatewayStore) ListRoomsForUser(ctx context.Context, userID int64) ([]store.RoomSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.RoomSummary
	for id, members := range f.members {
		if !members[userID] {
			continue
		}
		participants := make([]int64, 0, len(members))
		for uid := range members {
			participants = append(participants, uid)
		}
		sort.Slice(participants, func(i, j int) bool { return participants[i] < participants[j] })
		out = append(out, store.RoomSummary{Room: *f.rooms[id], Participants: participants})
	}
	return out, nil
}

func (f *fakeGatewayStore) RenameRoom(ctx context.Context, roomID, callerID int64, displayName string) (*store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return nil, store.ErrRoomNotFound
	}
	room.DisplayName = displayName
	return room, nil
}

func (f *fakeGatewayStore) InviteToRoom(ctx context.Context, roomID, callerID int64, expectedVersion int, newUserIDs []int64, wraps []store.ParticipantWrap) (*store.InviteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	room, ok := f.rooms[roomID]
	if !ok {
		return nil, store.ErrRoomNotFound
	}
	if room.CurrentKeyVersion != expectedVersion {
		return nil, store.ErrVersionConflict
	}

	var added []int64
	for _, uid := range newUserIDs {
		if !f.members[roomID][uid] {
			f.members[roomID][uid] = true
			added = append(added, uid)
		}
	}
	room.CurrentKeyVersion++
	for _, w := range wraps {
		f.ledger[roomID][w.UserID] = w.WrappedKey
	}

	id := f.nextMsg
	f.nextMsg++
	msg := store.Message{ID: id, RoomID: roomID, Type: store.MessageTypeSystem, KeyVersion: room.CurrentKeyVersion}
	f.messages[roomID] = append(f.messages[roomID], msg)

	return &store.InviteResult{Room: room, SystemMessage: &msg, AddedUserIDs: added}, nil
}

func (f *fakeGatewayStore) LeaveRoom(ctx context.Context, roomID, userID int64) (*store.LeaveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	room, ok := f.rooms[roomID]
	if !ok {
		return nil, store.ErrRoomNotFound
	}
	delete(f.members[roomID], userID)

	remaining := make([]int64, 0, len(f.members[roomID]))
	for uid := range f.members[roomID] {
		remaining = append(remaining, uid)
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i] < remaining[j] })

	if len(remaining) == 0 {
		delete(f.rooms, roomID)
		return &store.LeaveResult{RoomDeleted: true}, nil
	}
	room.RotationPending = true
	return &store.LeaveResult{Room: room, RemainingParticipants: remaining}, nil
}

func (f *fakeGatewayStore) RotateKey(ctx context.Context, roomID, callerID int64, expectedVersion int, wraps []store.ParticipantWrap) (*store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return nil, store.ErrRoomNotFound
	}
	if room.CurrentKeyVersion != expectedVersion {
		return nil, store.ErrVersionConflict
	}
	room.CurrentKeyVersion++
	room.RotationPending = false
	for _, w := range wraps {
		f.ledger[roomID][w.UserID] = w.WrappedKey
	}
	return room, nil
}

func (f *fakeGatewayStore) WrappedKeysFor(ctx context.Context, userID, roomID int64) (store.Wraps, error) {
	return store.Wraps{}, nil
}

func (f *fakeGatewayStore) AppendUserMessage(ctx context.Context, roomID, senderID int64, ciphertext, iv string, keyVersion int) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.members[roomID][senderID] {
		return nil, store.ErrNotParticipant
	}
	id := f.nextMsg
	f.nextMsg++
	msg := store.Message{ID: id, RoomID: roomID, SenderID: &senderID, Type: store.MessageTypeUser, Ciphertext: ciphertext, IV: iv, KeyVersion: keyVersion}
	f.messages[roomID] = append(f.messages[roomID], msg)
	return &msg, nil
}

func (f *fakeGatewayStore) GetMessages(ctx context.Context, roomID int64, limit, offset int) ([]store.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.messages[roomID]
	reversed := make([]store.Message, len(all))
	for i, m := range all {
		reversed[len(all)-1-i] = m
	}
	if offset >= len(reversed) {
		return nil, false, nil
	}
	end := offset + limit
	hasMore := end < len(reversed)
	if end > len(reversed) {
		end = len(reversed)
	}
	return reversed[offset:end], hasMore, nil
}

func (f *fakeGatewayStore) MarkDelivered(ctx context.Context, messageID int64) error { return nil }
func (f *fakeGatewayStore) Ping(ctx context.Context) error                          { return nil }
func (f *fakeGatewayStore) Close()                                                  {}
