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

// Package store defines the persistence-agnostic entities and the Store
// seam that internal/chat and internal/httpapi mutate through. The only
// implementation is internal/store/postgres.
package store

import "time"

// MessageType distinguishes user ciphertext from server-originated
// informational events.
type MessageType string

const (
	MessageTypeUser   MessageType = "user"
	MessageTypeSystem MessageType = "system"
)

// User is the persisted account record. PublicKey is the client's
// long-lived ML-KEM public key, base64-encoded; the server never inspects
// its contents beyond the decoded-length check performed at registration.
type User struct {
	ID             int64
	Username       string
	PasswordHash   string
	PublicKey      string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RefreshCredential backs the external token collaborator's refresh flow.
type RefreshCredential struct {
	JTI       string
	UserID    int64
	Revoked   bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Room is a chat room's durable state. CurrentKeyVersion is the ledger
// head; RotationPending is true from the moment a participant leaves until
// a subsequent rotate completes.
type Room struct {
	ID                int64
	DisplayName       string
	Group             bool
	CurrentKeyVersion int
	RotationPending   bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// KeyLedgerEntry is one (room, user, version) wrap. Purged marks an entry
// removed for forward secrecy (a leaver's wrap at the pre-departure
// version); purged entries are excluded from WrappedKeysFor.
type KeyLedgerEntry struct {
	RoomID     int64
	UserID     int64
	Version    int
	WrappedKey string
	CreatedAt  time.Time
	RevokedAt  *time.Time
	Purged     bool
}

// Message is an immutable, append-only chat record.
type Message struct {
	ID         int64
	RoomID     int64
	SenderID   *int64
	Type       MessageType
	Ciphertext string
	IV         string
	KeyVersion int
	Delivered  bool
	CreatedAt  time.Time
}

// Wraps is a version -> wrapped-key map, the shape WrappedKeysFor and the
// connected event both use.
type Wraps map[int]string

// ParticipantWrap pairs a user id with the wrap it should receive, the unit
// of a completeness-checked install request.
type ParticipantWrap struct {
	UserID     int64
	WrappedKey string
}

// RoomSummary is a room plus the caller's participant-scoped view of it,
// the shape the connected event and ListRoomsForUser return.
type RoomSummary struct {
	Room         Room
	Participants []int64
	Wraps        Wraps
}
