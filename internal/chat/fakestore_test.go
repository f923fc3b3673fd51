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

package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/altairalabs/vaultchat/internal/store"
)

// memStore is a minimal, non-concurrent-safe-beyond-a-mutex in-memory
// store.Store, exercising the same invariants the postgres provider
// enforces (ledger completeness, version conflict, cascade delete) so
// internal/chat's tests don't need a real database.
type memStore struct {
	mu       sync.Mutex
	rooms    map[int64]*store.Room
	members  map[int64]map[int64]bool
	ledger   map[int64]map[int]map[int64]string // roomID -> version -> userID -> wrap
	messages map[int64][]store.Message
	nextRoom int64
	nextMsg  int64
}

func newMemStore() *memStore {
	return &memStore{
		rooms:    make(map[int64]*store.Room),
		members:  make(map[int64]map[int64]bool),
		ledger:   make(map[int64]map[int]map[int64]string),
		messages: make(map[int64][]store.Message),
		nextRoom: 1,
		nextMsg:  1,
	}
}

func (m *memStore) CreateUser(ctx context.Context, username, passwordHash, publicKey string) (*store.User, error) {
	return nil, nil
}
func (m *memStore) GetUserByID(ctx context.Context, id int64) (*store.User, error)       { return nil, nil }
func (m *memStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return nil, nil
}
func (m *memStore) CreateRefreshToken(ctx context.Context, jti string, userID int64, expiresAt time.Time) error {
	return nil
}
func (m *memStore) GetRefreshToken(ctx context.Context, jti string) (*store.RefreshCredential, error) {
	return nil, nil
}
func (m *memStore) RevokeRefreshToken(ctx context.Context, jti string) error { return nil }

func wrapSet(wraps []store.ParticipantWrap, required map[int64]bool) bool {
	if len(wraps) != len(required) {
		return false
	}
	for _, w := range wraps {
		if !required[w.UserID] {
			return false
		}
	}
	return true
}

func (m *memStore) CreateRoom(ctx context.Context, creatorID int64, displayName string, group bool, invitees []int64, wraps []store.ParticipantWrap) (*store.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	required := map[int64]bool{creatorID: true}
	for _, id := range invitees {
		required[id] = true
	}
	if !wrapSet(wraps, required) {
		return nil, store.ErrIncompleteWraps
	}

	id := m.nextRoom
	m.nextRoom++
	room := &store.Room{ID: id, DisplayName: displayName, Group: group, CurrentKeyVersion: 1}
	m.rooms[id] = room

	members := make(map[int64]bool, len(required))
	for uid := range required {
		members[uid] = true
	}
	m.members[id] = members

	version := make(map[int64]string, len(wraps))
	for _, w := range wraps {
		version[w.UserID] = w.WrappedKey
	}
	m.ledger[id] = map[int]map[int64]string{1: version}

	return room, nil
}

func (m *memStore) GetRoom(ctx context.Context, roomID int64) (*store.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, store.ErrRoomNotFound
	}
	return room, nil
}

func (m *memStore) GetParticipants(ctx context.Context, roomID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.members[roomID]
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

func (m *memStore) IsParticipant(ctx context.Context, roomID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.members[roomID]
	if !ok {
		return false, store.ErrRoomNotFound
	}
	return members[userID], nil
}

func (m *memStore) ListRoomsForUser(ctx context.Context, userID int64) ([]store.RoomSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.RoomSummary
	for id, members := range m.members {
		if !members[userID] {
			continue
		}
		participants := make([]int64, 0, len(members))
		for uid := range members {
			participants = append(participants, uid)
		}
		sort.Slice(participants, func(i, j int) bool { return participants[i] < participants[j] })
		out = append(out, store.RoomSummary{Room: *m.rooms[id], Participants: participants})
	}
	return out, nil
}

func (m *memStore) RenameRoom(ctx context.Context, roomID, callerID int64, displayName string) (*store.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, store.ErrRoomNotFound
	}
	if !m.members[roomID][callerID] {
		return nil, store.ErrNotParticipant
	}
	room.DisplayName = displayName
	return room, nil
}

func (m *memStore) InviteToRoom(ctx context.Context, roomID, callerID int64, expectedVersion int, newUserIDs []int64, wraps []store.ParticipantWrap) (*store.InviteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, store.ErrRoomNotFound
	}
	if !m.members[roomID][callerID] {
		return nil, store.ErrNotParticipant
	}
	if room.CurrentKeyVersion != expectedVersion {
		return nil, store.ErrVersionConflict
	}

	required := map[int64]bool{}
	for uid := range m.members[roomID] {
		required[uid] = true
	}
	var added []int64
	for _, uid := range newUserIDs {
		if !required[uid] {
			required[uid] = true
			added = append(added, uid)
		}
	}
	if !wrapSet(wraps, required) {
		return nil, store.ErrIncompleteWraps
	}

	newVersion := room.CurrentKeyVersion + 1
	room.CurrentKeyVersion = newVersion
	for uid := range required {
		m.members[roomID][uid] = true
	}
	version := make(map[int64]string, len(wraps))
	for _, w := range wraps {
		version[w.UserID] = w.WrappedKey
	}
	m.ledger[roomID][newVersion] = version

	msg := m.appendSystemMessage(roomID, newVersion)

	return &store.InviteResult{Room: room, SystemMessage: msg, AddedUserIDs: added}, nil
}

func (m *memStore) LeaveRoom(ctx context.Context, roomID, userID int64) (*store.LeaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, store.ErrRoomNotFound
	}
	if !m.members[roomID][userID] {
		return nil, store.ErrNotParticipant
	}
	delete(m.members[roomID], userID)
	delete(m.ledger[roomID][room.CurrentKeyVersion], userID)

	remaining := make([]int64, 0, len(m.members[roomID]))
	for uid := range m.members[roomID] {
		remaining = append(remaining, uid)
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i] < remaining[j] })

	if len(remaining) == 0 {
		delete(m.rooms, roomID)
		delete(m.members, roomID)
		delete(m.ledger, roomID)
		delete(m.messages, roomID)
		return &store.LeaveResult{RoomDeleted: true}, nil
	}

	room.RotationPending = true
	msg := m.appendSystemMessage(roomID, room.CurrentKeyVersion)
	return &store.LeaveResult{Room: room, RemainingParticipants: remaining, SystemMessage: msg}, nil
}

func (m *memStore) RotateKey(ctx context.Context, roomID, callerID int64, expectedVersion int, wraps []store.ParticipantWrap) (*store.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, store.ErrRoomNotFound
	}
	if !m.members[roomID][callerID] {
		return nil, store.ErrNotParticipant
	}
	if room.CurrentKeyVersion != expectedVersion {
		return nil, store.ErrVersionConflict
	}

	required := map[int64]bool{}
	for uid := range m.members[roomID] {
		required[uid] = true
	}
	if !wrapSet(wraps, required) {
		return nil, store.ErrIncompleteWraps
	}

	newVersion := room.CurrentKeyVersion + 1
	room.CurrentKeyVersion = newVersion
	room.RotationPending = false
	version := make(map[int64]string, len(wraps))
	for _, w := range wraps {
		version[w.UserID] = w.WrappedKey
	}
	m.ledger[roomID][newVersion] = version
	return room, nil
}

func (m *memStore) WrappedKeysFor(ctx context.Context, userID, roomID int64) (store.Wraps, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := store.Wraps{}
	for version, wraps := range m.ledger[roomID] {
		if wrap, ok := wraps[userID]; ok {
			out[version] = wrap
		}
	}
	return out, nil
}

func (m *memStore) appendSystemMessage(roomID int64, keyVersion int) *store.Message {
	id := m.nextMsg
	m.nextMsg++
	msg := store.Message{ID: id, RoomID: roomID, Type: store.MessageTypeSystem, KeyVersion: keyVersion}
	m.messages[roomID] = append(m.messages[roomID], msg)
	return &msg
}

func (m *memStore) AppendUserMessage(ctx context.Context, roomID, senderID int64, ciphertext, iv string, keyVersion int) (*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.members[roomID][senderID] {
		return nil, store.ErrNotParticipant
	}
	if room, ok := m.rooms[roomID]; ok && keyVersion > room.CurrentKeyVersion {
		return nil, store.ErrKeyVersionTooNew
	}
	id := m.nextMsg
	m.nextMsg++
	msg := store.Message{
		ID: id, RoomID: roomID, SenderID: &senderID, Type: store.MessageTypeUser,
		Ciphertext: ciphertext, IV: iv, KeyVersion: keyVersion,
	}
	m.messages[roomID] = append(m.messages[roomID], msg)
	return &msg, nil
}

func (m *memStore) GetMessages(ctx context.Context, roomID int64, limit, offset int) ([]store.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.messages[roomID]
	// Reverse-chronological: most recently appended first.
	reversed := make([]store.Message, len(all))
	for i, msg := range all {
		reversed[len(all)-1-i] = msg
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

func (m *memStore) MarkDelivered(ctx context.Context, messageID int64) error { return nil }

func (m *memStore) Ping(ctx context.Context) error { return nil }
func (m *memStore) Close()                         {}
