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
	"errors"

	"github.com/altairalabs/vaultchat/internal/apperror"
	"github.com/altairalabs/vaultchat/internal/store"
)

// mapStoreErr converts a store sentinel error into the apperror taxonomy
// spec.md §7 names, wrapping anything unrecognised as a storage failure.
func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, store.ErrRoomNotFound), errors.Is(err, store.ErrUserNotFound), errors.Is(err, store.ErrRefreshTokenNotFound):
		return apperror.NotFound("%v", err)
	case errors.Is(err, store.ErrNotParticipant):
		return apperror.AuthorizationDenied("%v", err)
	case errors.Is(err, store.ErrAlreadyParticipant), errors.Is(err, store.ErrUsernameTaken), errors.Is(err, store.ErrVersionConflict):
		return apperror.Conflict("%v", err)
	case errors.Is(err, store.ErrIncompleteWraps), errors.Is(err, store.ErrKeyVersionTooNew):
		return apperror.StateInvariant("%v", err)
	case errors.Is(err, store.ErrRefreshTokenRevoked):
		return apperror.Unauthenticated("%v", err)
	default:
		return apperror.StorageFailure(err, "storage operation failed")
	}
}
