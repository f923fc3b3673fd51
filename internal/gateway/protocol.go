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

// Package gateway implements the Realtime Session Gateway: C2 (Session
// Registry), C6 (Event Dispatcher), and the WebSocket transport that drives
// client-originated events into internal/chat and fans out the resulting
// events per spec.md §4.6.
package gateway

import (
	"encoding/json"
	"time"
)

// Event names, client-originated (inbound) and server-originated (outbound),
// as named in spec.md §2 and §4.6.
const (
	EventCreateRoom  = "create_room"
	EventInvite      = "invite"
	EventLeave       = "leave"
	EventRotateKey   = "rotate_key"
	EventSendMessage = "send_message"
	EventGetMessages = "get_messages"

	EventConnected        = "connected"
	EventRotationRequired = "rotation_required"
	EventRoomCreated      = "room_created"
	EventUsersInvited     = "users_invited"
	EventInvitedToRoom    = "invited_to_room"
	EventUserLeft         = "user_left"
	EventKeyRotated       = "key_rotated"
	EventNewMessage       = "new_message"
	EventMessages         = "messages"
	EventError            = "error"
)

// InboundEnvelope is the wire shape of a client-originated event: spec.md
// §6's "{event: string, data: object}".
type InboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// OutboundEnvelope is the wire shape of a server-originated event.
type OutboundEnvelope struct {
	Event     string `json:"event"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

func newEnvelope(event string, data any) *OutboundEnvelope {
	return &OutboundEnvelope{Event: event, Data: data, Timestamp: time.Now().UnixMilli()}
}

// ErrorPayload is the sole shape of an `error` event per spec.md §7: "a
// concise human-readable string", never a stack trace or internal id.
type ErrorPayload struct {
	Message string `json:"message"`
}

// --- inbound request shapes -------------------------------------------------
//
// Per spec.md §9 ("Dynamically typed event payloads"), each inbound event's
// data is decoded into one of these strongly typed records; unknown fields
// are ignored by encoding/json and missing required fields are caught by
// each handler's own validation rather than by struct tags.

// WrapEntry is the wire shape of one (user, wrapped key) pair as carried in
// encrypted_keys / new_wraps arrays.
type WrapEntry struct {
	UserID  int64  `json:"user_id"`
	Wrapped string `json:"wrapped"`
}

// CreateRoomRequest is the data payload of a create_room event.
type CreateRoomRequest struct {
	Name           string      `json:"name"`
	Group          bool        `json:"group"`
	ParticipantIDs []int64     `json:"participant_ids"`
	EncryptedKeys  []WrapEntry `json:"encrypted_keys"`
}

// InviteRequest is the data payload of an invite event.
type InviteRequest struct {
	Room            int64       `json:"room"`
	Invited         []int64     `json:"invited"`
	NewWraps        []WrapEntry `json:"new_wraps"`
	ExpectedVersion int         `json:"expected_version"`
}

// LeaveRequest is the data payload of a leave event.
type LeaveRequest struct {
	Room int64 `json:"room"`
}

// RotateKeyRequest is the data payload of a rotate_key event.
type RotateKeyRequest struct {
	Room            int64       `json:"room"`
	NewWraps        []WrapEntry `json:"new_wraps"`
	ExpectedVersion int         `json:"expected_version"`
}

// SendMessageRequest is the data payload of a send_message event.
type SendMessageRequest struct {
	Room       int64  `json:"room"`
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	KeyVersion int    `json:"key_version"`
}

// GetMessagesRequest is the data payload of a get_messages event.
type GetMessagesRequest struct {
	Room   int64 `json:"room"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// RenameRoomRequest is the data payload of a rename_room event
// (SPEC_FULL.md §9.1 supplemented operation).
type RenameRoomRequest struct {
	Room int64  `json:"room"`
	Name string `json:"name"`
}

// --- outbound payload shapes -------------------------------------------------

// RoomView is the participant-and-wraps shape of a room as sent to clients
// in `connected` and `room_created`.
type RoomView struct {
	RoomID                int64            `json:"room_id"`
	Name                  string           `json:"name,omitempty"`
	Group                 bool             `json:"group"`
	CurrentKeyVersion     int              `json:"current_key_version"`
	RotationPending       bool             `json:"rotation_pending"`
	ParticipantIDs        []int64          `json:"participant_ids"`
	EncryptedSymmetricKeys map[string]string `json:"encrypted_symmetric_keys,omitempty"`
}

// ConnectedPayload is the `connected` event's payload.
type ConnectedPayload struct {
	UserID   int64      `json:"user_id"`
	Username string     `json:"username"`
	Rooms    []RoomView `json:"rooms"`
}

// RotationRequiredPayload is the `rotation_required` event's payload.
type RotationRequiredPayload struct {
	Room   int64  `json:"room"`
	Reason string `json:"reason"`
}

// RoomCreatedPayload is the `room_created` event's payload.
type RoomCreatedPayload struct {
	Room             RoomView `json:"room"`
	EncryptionSetup  bool     `json:"encryption_setup"`
}

// UsersInvitedPayload is the `users_invited` event's payload, broadcast to
// the room.
type UsersInvitedPayload struct {
	Room       int64   `json:"room"`
	Invited    []int64 `json:"invited"`
	NewVersion int     `json:"new_version"`
	Inviter    int64   `json:"inviter"`
}

// InvitedToRoomPayload is the `invited_to_room` event's payload, targeted to
// the invitee's sessions.
type InvitedToRoomPayload struct {
	Room       RoomView `json:"room"`
	Inviter    int64    `json:"inviter"`
	Wrapped    string   `json:"wrapped"`
	NewVersion int      `json:"new_version"`
}

// UserLeftPayload is the `user_left` event's payload.
type UserLeftPayload struct {
	Room             int64 `json:"room"`
	UserID           int64 `json:"user_id"`
	RotationRequired bool  `json:"rotation_required"`
}

// KeyRotatedPayload is the `key_rotated` event's payload, emitted
// individually per recipient (each one's wrap differs).
type KeyRotatedPayload struct {
	Room       int64  `json:"room"`
	NewVersion int    `json:"new_version"`
	Reason     string `json:"reason"`
	Rotator    int64  `json:"rotator"`
	Wrapped    string `json:"wrapped"`
}

// MessagePayload is the wire shape of a Message record as carried by
// `new_message` and the `messages` history response.
type MessagePayload struct {
	ID          int64     `json:"id"`
	Room        int64     `json:"room"`
	SenderID    *int64    `json:"sender_id"`
	MessageType string    `json:"message_type"`
	Ciphertext  string    `json:"ciphertext"`
	IV          string    `json:"iv"`
	KeyVersion  int       `json:"key_version"`
	CreatedAt   time.Time `json:"created_at"`
}

// MessagesPayload is the `messages` (get_messages response) payload.
type MessagesPayload struct {
	Room     int64            `json:"room"`
	Messages []MessagePayload `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// RoomRenamedPayload is the outbound payload for the rename_room
// supplemented operation (SPEC_FULL.md §9.1).
type RoomRenamedPayload struct {
	Room int64  `json:"room"`
	Name string `json:"name"`
}
