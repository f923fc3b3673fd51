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

// DefaultPageLimit and MaxPageLimit are constants per spec.md §6 ("all
// other limits... are constants"), not environment-driven configuration.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 50
)

// SendMessage appends a user ciphertext message; the sender must be a
// current participant of the room.
func (e *Engine) SendMessage(ctx context.Context, roomID, senderID int64, ciphertext, iv string, keyVersion int) (*store.Message, error) {
	if keyVersion < 1 {
		return nil, apperror.Validation("key_version must be >= 1")
	}
	msg, err := e.store.AppendUserMessage(ctx, roomID, senderID, ciphertext, iv, keyVersion)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return msg, nil
}

// History is C5's history operation: reverse-chronological pagination,
// restricted to participants. offset=0, limit=0 is a documented boundary
// case (spec.md §8) returning an empty page; only the participant check
// reaches storage, no messages are read.
func (e *Engine) History(ctx context.Context, roomID, callerID int64, limit, offset int) ([]store.Message, bool, error) {
	isParticipant, err := e.store.IsParticipant(ctx, roomID, callerID)
	if err != nil {
		return nil, false, mapStoreErr(err)
	}
	if !isParticipant {
		return nil, false, apperror.AuthorizationDenied("not a participant of room %d", roomID)
	}

	if limit <= 0 {
		return nil, false, nil
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	msgs, hasMore, err := e.store.GetMessages(ctx, roomID, limit, offset)
	if err != nil {
		return nil, false, mapStoreErr(err)
	}
	return msgs, hasMore, nil
}

// MarkDelivered records first successful fan-out to a recipient's live
// session. Best-effort: a failure here never unwinds the message append or
// blocks delivery to other sessions.
func (e *Engine) MarkDelivered(ctx context.Context, messageID int64) error {
	return e.store.MarkDelivered(ctx, messageID)
}
