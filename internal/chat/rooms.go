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

	"github.com/altairalabs/vaultchat/internal/apperror"
	"github.com/altairalabs/vaultchat/internal/store"
)

// Wrap is a (user, wrapped key) pair as carried in an inbound event's
// encrypted_keys / new_wraps field.
type Wrap struct {
	UserID     int64
	WrappedKey string
}

func toStoreWraps(in []Wrap) []store.ParticipantWrap {
	out := make([]store.ParticipantWrap, len(in))
	for i, w := range in {
		out[i] = store.ParticipantWrap{UserID: w.UserID, WrappedKey: w.WrappedKey}
	}
	return out
}

// CreateRoomResult is C7 step 1's committed effect.
type CreateRoomResult struct {
	Room         store.Room
	Participants []int64
}

// CreateRoom installs ledger version 1 for {creator} ∪ invitees atomically
// with the room insert. wraps must cover exactly that set.
func (e *Engine) CreateRoom(ctx context.Context, creatorID int64, displayName string, group bool, invitees []int64, wraps []Wrap) (*CreateRoomResult, error) {
	if len(wraps) == 0 {
		return nil, apperror.Validation("at least one wrapped key is required")
	}
	room, err := e.store.CreateRoom(ctx, creatorID, displayName, group, invitees, toStoreWraps(wraps))
	if err != nil {
		return nil, mapStoreErr(err)
	}
	participants, err := e.store.GetParticipants(ctx, room.ID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return &CreateRoomResult{Room: *room, Participants: participants}, nil
}

// InviteResult is C7 step 2's committed effect.
type InviteResult struct {
	Room          store.Room
	AddedUserIDs  []int64
	SystemMessage *store.Message
	Wraps         map[int64]string
}

// Invite installs ledger version current+1 covering (current participants
// ∪ new invitees); completeness is enforced by the store before any state
// change. expectedVersion is the version the caller's wraps were built
// against, compared under the room's lock to surface racing requests as a
// conflict (spec.md §4.7's fairness requirement).
func (e *Engine) Invite(ctx context.Context, roomID, callerID int64, expectedVersion int, newUserIDs []int64, wraps []Wrap) (*InviteResult, error) {
	if len(newUserIDs) == 0 {
		return nil, apperror.Validation("invite requires at least one user id")
	}
	res, err := e.store.InviteToRoom(ctx, roomID, callerID, expectedVersion, newUserIDs, toStoreWraps(wraps))
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return &InviteResult{
		Room:          *res.Room,
		AddedUserIDs:  res.AddedUserIDs,
		SystemMessage: res.SystemMessage,
		Wraps:         toWraps(toStoreWraps(wraps)),
	}, nil
}

// LeaveResult is C7 step 3's committed effect.
type LeaveResult struct {
	RoomDeleted           bool
	Room                  store.Room
	RemainingParticipants []int64
	SystemMessage         *store.Message
}

// Leave removes the caller, purges their wrap at the current version, and
// marks the room's rotation as pending (or deletes the room if it is now
// empty, cascading its messages and ledger).
func (e *Engine) Leave(ctx context.Context, roomID, userID int64) (*LeaveResult, error) {
	res, err := e.store.LeaveRoom(ctx, roomID, userID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	out := &LeaveResult{
		RoomDeleted:           res.RoomDeleted,
		RemainingParticipants: res.RemainingParticipants,
		SystemMessage:         res.SystemMessage,
	}
	if res.Room != nil {
		out.Room = *res.Room
	}
	return out, nil
}

// RotateResult is C7 step 4's committed effect.
type RotateResult struct {
	Room  store.Room
	Wraps map[int64]string
}

// Rotate installs a new key version covering exactly the current
// participant set (set equality, not subset) and clears rotation_pending.
func (e *Engine) Rotate(ctx context.Context, roomID, callerID int64, expectedVersion int, wraps []Wrap) (*RotateResult, error) {
	if len(wraps) == 0 {
		return nil, apperror.Validation("rotate requires at least one wrapped key")
	}
	sw := toStoreWraps(wraps)
	room, err := e.store.RotateKey(ctx, roomID, callerID, expectedVersion, sw)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return &RotateResult{Room: *room, Wraps: toWraps(sw)}, nil
}

// RenameRoom updates display_name; it carries no key-rotation coupling
// since a display name is not cryptographic material (SPEC_FULL.md §9.1).
func (e *Engine) RenameRoom(ctx context.Context, roomID, callerID int64, displayName string) (*store.Room, error) {
	if displayName == "" {
		return nil, apperror.Validation("display name must not be empty")
	}
	room, err := e.store.RenameRoom(ctx, roomID, callerID, displayName)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return room, nil
}

// RoomsForUser returns every room the user participates in, each with its
// participant list and the caller's own wrapped-key map — the shape the
// connected event needs to let a reconnecting client decrypt back-history.
func (e *Engine) RoomsForUser(ctx context.Context, userID int64) ([]store.RoomSummary, error) {
	summaries, err := e.store.ListRoomsForUser(ctx, userID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return summaries, nil
}
