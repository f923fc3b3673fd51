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

package store

import (
	"context"
	"time"
)

// Store is the seam internal/chat and internal/httpapi mutate through. Every
// multi-step operation below (CreateRoom, InviteToRoom, LeaveRoom,
// RotateKey) is a single atomic unit: the implementation must commit all of
// its effects or none of them, and must serialise concurrent callers on the
// same room so exactly one of a racing pair wins (store.ErrVersionConflict
// for the loser).
type Store interface {
	// Users and credentials (external auth collaborator's persistence).
	CreateUser(ctx context.Context, username, passwordHash, publicKey string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	CreateRefreshToken(ctx context.Context, jti string, userID int64, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, jti string) (*RefreshCredential, error)
	RevokeRefreshToken(ctx context.Context, jti string) error

	// Room membership, key ledger, and the rotation protocol (C3/C4/C7).
	CreateRoom(ctx context.Context, creatorID int64, displayName string, group bool, invitees []int64, wraps []ParticipantWrap) (*Room, error)
	GetRoom(ctx context.Context, roomID int64) (*Room, error)
	GetParticipants(ctx context.Context, roomID int64) ([]int64, error)
	IsParticipant(ctx context.Context, roomID, userID int64) (bool, error)
	ListRoomsForUser(ctx context.Context, userID int64) ([]RoomSummary, error)
	RenameRoom(ctx context.Context, roomID, callerID int64, displayName string) (*Room, error)

	// expectedVersion is the room's current_key_version as last observed by
	// the caller (carried in the client's invite/rotate_key event); it is
	// compared against the version seen under the room's row lock so that
	// of two racing requests built against the same snapshot, the second to
	// reach the lock fails with ErrVersionConflict instead of silently
	// installing a second, redundant version.
	InviteToRoom(ctx context.Context, roomID, callerID int64, expectedVersion int, newUserIDs []int64, wraps []ParticipantWrap) (*InviteResult, error)
	LeaveRoom(ctx context.Context, roomID, userID int64) (*LeaveResult, error)
	RotateKey(ctx context.Context, roomID, callerID int64, expectedVersion int, wraps []ParticipantWrap) (*Room, error)

	WrappedKeysFor(ctx context.Context, userID, roomID int64) (Wraps, error)

	// Messages (C5).
	AppendUserMessage(ctx context.Context, roomID, senderID int64, ciphertext, iv string, keyVersion int) (*Message, error)
	GetMessages(ctx context.Context, roomID int64, limit, offset int) (msgs []Message, hasMore bool, err error)
	MarkDelivered(ctx context.Context, messageID int64) error

	Ping(ctx context.Context) error
	Close()
}

// InviteResult is the atomic effect of InviteToRoom: the updated room, the
// system message recorded at the new version (nil in the Postgres provider
// when no invitee was a new participant), and the full set of invitee
// ids that were actually new participants (duplicates in newUserIDs that
// were already participants are silently dropped per spec.md §8's
// boundary behavior).
type InviteResult struct {
	Room          *Room
	SystemMessage *Message
	AddedUserIDs  []int64
}

// LeaveResult is the atomic effect of LeaveRoom.
type LeaveResult struct {
	RoomDeleted           bool
	Room                  *Room
	RemainingParticipants []int64
	SystemMessage         *Message
}
