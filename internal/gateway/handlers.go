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
	"encoding/json"
	"strconv"

	"github.com/go-logr/logr"

	"github.com/altairalabs/vaultchat/internal/apperror"
	"github.com/altairalabs/vaultchat/internal/auth"
	"github.com/altairalabs/vaultchat/internal/chat"
	"github.com/altairalabs/vaultchat/internal/store"
)

func errMessage(err error) string {
	return apperror.Message(err)
}

func unknownEventError(event string) error {
	return apperror.Validation("unknown event %q", event)
}

// roomIDPeek is the common shape of every inbound event payload that names
// a room, used to enrich the handler's logger before the typed decode.
type roomIDPeek struct {
	Room int64 `json:"room"`
}

func peekRoomID(raw json.RawMessage) (int64, bool) {
	var p roomIDPeek
	if err := json.Unmarshal(raw, &p); err != nil || p.Room == 0 {
		return 0, false
	}
	return p.Room, true
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero, apperror.Validation("malformed event payload: %v", err)
	}
	return v, nil
}

func toWraps(in []WrapEntry) []chat.Wrap {
	out := make([]chat.Wrap, len(in))
	for i, w := range in {
		out[i] = chat.Wrap{UserID: w.UserID, WrappedKey: w.Wrapped}
	}
	return out
}

func roomView(room store.Room, participants []int64, wraps store.Wraps) RoomView {
	v := RoomView{
		RoomID:            room.ID,
		Name:              room.DisplayName,
		Group:             room.Group,
		CurrentKeyVersion: room.CurrentKeyVersion,
		RotationPending:   room.RotationPending,
		ParticipantIDs:    participants,
	}
	if len(wraps) > 0 {
		v.EncryptedSymmetricKeys = make(map[string]string, len(wraps))
		for version, key := range wraps {
			v.EncryptedSymmetricKeys[strconv.Itoa(version)] = key
		}
	}
	return v
}

func messagePayload(m store.Message) MessagePayload {
	return MessagePayload{
		ID:          m.ID,
		Room:        m.RoomID,
		SenderID:    m.SenderID,
		MessageType: string(m.Type),
		Ciphertext:  m.Ciphertext,
		IV:          m.IV,
		KeyVersion:  m.KeyVersion,
		CreatedAt:   m.CreatedAt,
	}
}

// onConnected sends the `connected` event (spec.md §4.6) and, for any room
// where rotation is pending and this connect makes the user the first
// online participant, a targeted `rotation_required` (spec.md §4.7 step 3's
// "on-connect for pending").
func (s *Server) onConnected(ctx context.Context, sessionID string, identity *auth.Verified, log logr.Logger) {
	summaries, err := s.engine.RoomsForUser(ctx, identity.UserID)
	if err != nil {
		log.Error(err, "failed to load rooms for connect")
		s.dispatcher.ToSession(sessionID, EventError, ErrorPayload{Message: "failed to load rooms"})
		return
	}

	views := make([]RoomView, 0, len(summaries))
	for _, summary := range summaries {
		s.dispatcher.Subscribe(sessionID, summary.Room.ID)
		views = append(views, roomView(summary.Room, summary.Participants, summary.Wraps))

		if summary.Room.RotationPending {
			// The connecting session has already been registered, so if this
			// user is the first online participant (spec.md §4.7 step 3's
			// "first encountered"), FirstOnlineParticipant resolves to them.
			if first, ok := s.dispatcher.FirstOnlineParticipant(summary.Participants); ok && first == identity.UserID {
				s.dispatcher.ToSession(sessionID, EventRotationRequired, RotationRequiredPayload{
					Room:   summary.Room.ID,
					Reason: "pending rotation from a prior departure",
				})
			}
		}
	}

	s.dispatcher.ToSession(sessionID, EventConnected, ConnectedPayload{
		UserID:   identity.UserID,
		Username: identity.Username,
		Rooms:    views,
	})
}

func (s *Server) handleCreateRoom(ctx context.Context, sessionID string, userID int64, raw json.RawMessage, log logr.Logger) error {
	req, err := decode[CreateRoomRequest](raw)
	if err != nil {
		return err
	}
	if len(req.EncryptedKeys) == 0 {
		return apperror.Validation("encrypted_keys must not be empty")
	}

	result, err := s.engine.CreateRoom(ctx, userID, req.Name, req.Group, req.ParticipantIDs, toWraps(req.EncryptedKeys))
	if err != nil {
		return err
	}

	room := result.Room
	s.dispatcher.Subscribe(sessionID, room.ID)
	for _, pid := range result.Participants {
		if pid == userID {
			continue
		}
		for _, sid := range s.registry.SessionsOfUser(pid) {
			s.dispatcher.Subscribe(sid, room.ID)
		}
	}

	payload := RoomCreatedPayload{
		Room:            roomView(room, result.Participants, nil),
		EncryptionSetup: true,
	}
	s.dispatcher.Broadcast(room.ID, EventRoomCreated, payload, nil)
	return nil
}

func (s *Server) handleInvite(ctx context.Context, sessionID string, userID int64, raw json.RawMessage, log logr.Logger) error {
	req, err := decode[InviteRequest](raw)
	if err != nil {
		return err
	}
	if len(req.Invited) == 0 {
		return apperror.Validation("invited must not be empty")
	}

	result, err := s.engine.Invite(ctx, req.Room, userID, req.ExpectedVersion, req.Invited, toWraps(req.NewWraps))
	if err != nil {
		if apperror.KindOf(err) == apperror.KindConflict {
			s.metrics.RotationConflict()
		}
		return err
	}
	s.metrics.RotationCompleted()

	room := result.Room
	for _, uid := range req.Invited {
		for _, sid := range s.registry.SessionsOfUser(uid) {
			s.dispatcher.Subscribe(sid, room.ID)
		}
	}

	s.dispatcher.Broadcast(room.ID, EventUsersInvited, UsersInvitedPayload{
		Room:       room.ID,
		Invited:    result.AddedUserIDs,
		NewVersion: room.CurrentKeyVersion,
		Inviter:    userID,
	}, nil)

	if result.SystemMessage != nil {
		s.dispatcher.Broadcast(room.ID, EventNewMessage, messagePayload(*result.SystemMessage), nil)
	}

	for _, uid := range result.AddedUserIDs {
		wrapped := result.Wraps[uid]
		s.dispatcher.ToUser(uid, EventInvitedToRoom, InvitedToRoomPayload{
			Room:       roomView(room, nil, nil),
			Inviter:    userID,
			Wrapped:    wrapped,
			NewVersion: room.CurrentKeyVersion,
		})
	}
	return nil
}

func (s *Server) handleLeave(ctx context.Context, sessionID string, userID int64, raw json.RawMessage, log logr.Logger) error {
	req, err := decode[LeaveRequest](raw)
	if err != nil {
		return err
	}

	result, err := s.engine.Leave(ctx, req.Room, userID)
	if err != nil {
		return err
	}

	s.dispatcher.Unsubscribe(sessionID, req.Room)

	if result.RoomDeleted {
		s.dispatcher.Broadcast(req.Room, EventUserLeft, UserLeftPayload{
			Room:             req.Room,
			UserID:           userID,
			RotationRequired: false,
		}, nil)
		return nil
	}

	s.dispatcher.Broadcast(req.Room, EventUserLeft, UserLeftPayload{
		Room:             req.Room,
		UserID:           userID,
		RotationRequired: true,
	}, nil)

	if result.SystemMessage != nil {
		s.dispatcher.Broadcast(req.Room, EventNewMessage, messagePayload(*result.SystemMessage), nil)
	}

	if target, ok := s.dispatcher.FirstOnlineParticipant(result.RemainingParticipants); ok {
		s.dispatcher.ToUser(target, EventRotationRequired, RotationRequiredPayload{
			Room:   req.Room,
			Reason: "a participant left; rotate_key is required",
		})
	}
	return nil
}

func (s *Server) handleRotateKey(ctx context.Context, sessionID string, userID int64, raw json.RawMessage, log logr.Logger) error {
	req, err := decode[RotateKeyRequest](raw)
	if err != nil {
		return err
	}
	if len(req.NewWraps) == 0 {
		return apperror.Validation("new_wraps must not be empty")
	}

	result, err := s.engine.Rotate(ctx, req.Room, userID, req.ExpectedVersion, toWraps(req.NewWraps))
	if err != nil {
		if apperror.KindOf(err) == apperror.KindConflict {
			s.metrics.RotationConflict()
		}
		return err
	}
	s.metrics.RotationCompleted()

	room := result.Room
	participants, perr := s.engine.Store().GetParticipants(ctx, room.ID)
	if perr != nil {
		log.Error(perr, "failed to load participants after rotation")
		return nil
	}

	for _, uid := range participants {
		wrapped := result.Wraps[uid]
		s.dispatcher.ToUser(uid, EventKeyRotated, KeyRotatedPayload{
			Room:       room.ID,
			NewVersion: room.CurrentKeyVersion,
			Reason:     "explicit rotation",
			Rotator:    userID,
			Wrapped:    wrapped,
		})
	}
	return nil
}

func (s *Server) handleSendMessage(ctx context.Context, sessionID string, userID int64, raw json.RawMessage, log logr.Logger) error {
	req, err := decode[SendMessageRequest](raw)
	if err != nil {
		return err
	}

	msg, err := s.engine.SendMessage(ctx, req.Room, userID, req.Ciphertext, req.IV, req.KeyVersion)
	if err != nil {
		return err
	}

	payload := messagePayload(*msg)
	s.dispatcher.Broadcast(req.Room, EventNewMessage, payload, nil)
	return nil
}

func (s *Server) handleGetMessages(ctx context.Context, sessionID string, userID int64, raw json.RawMessage) error {
	req, err := decode[GetMessagesRequest](raw)
	if err != nil {
		return err
	}

	msgs, hasMore, err := s.engine.History(ctx, req.Room, userID, req.Limit, req.Offset)
	if err != nil {
		return err
	}

	payloads := make([]MessagePayload, len(msgs))
	for i, m := range msgs {
		payloads[i] = messagePayload(m)
	}

	s.dispatcher.ToSession(sessionID, EventMessages, MessagesPayload{
		Room:     req.Room,
		Messages: payloads,
		HasMore:  hasMore,
	})
	return nil
}

func (s *Server) handleRenameRoom(ctx context.Context, sessionID string, userID int64, raw json.RawMessage) error {
	req, err := decode[RenameRoomRequest](raw)
	if err != nil {
		return err
	}

	room, err := s.engine.RenameRoom(ctx, req.Room, userID, req.Name)
	if err != nil {
		return err
	}

	s.dispatcher.Broadcast(room.ID, "room_renamed", RoomRenamedPayload{Room: room.ID, Name: room.DisplayName}, nil)
	return nil
}
