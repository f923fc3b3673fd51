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

// Package httpapi implements the external auth routes spec.md §1 places
// out of scope for the core but which a runnable repository must still
// serve: /auth/register, /auth/login, /auth/refresh, /auth/logout.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/altairalabs/vaultchat/internal/apperror"
	"github.com/altairalabs/vaultchat/internal/auth"
	"github.com/altairalabs/vaultchat/internal/httputil"
	"github.com/altairalabs/vaultchat/internal/store"
)

// Handler serves the auth HTTP surface. It is the external collaborator
// spec.md §1 names (password hashing, token minting) wired to the
// persistent store for user and refresh-credential records.
type Handler struct {
	store           store.Store
	codec           auth.TokenCodec
	hasher          auth.PasswordHasher
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	log             logr.Logger
}

// NewHandler constructs a Handler.
func NewHandler(s store.Store, codec auth.TokenCodec, hasher auth.PasswordHasher, accessTTL, refreshTTL time.Duration, log logr.Logger) *Handler {
	return &Handler{
		store:           s,
		codec:           codec,
		hasher:          hasher,
		accessTokenTTL:  accessTTL,
		refreshTokenTTL: refreshTTL,
		log:             log.WithName("httpapi"),
	}
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TokenResponse is the JSON body returned by register, login, and refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	UserID       int64  `json:"user_id"`
	Username     string `json:"username"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(apperror.KindOf(err))
	if writeErr := httputil.WriteJSON(w, status, ErrorResponse{Error: apperror.Message(err)}); writeErr != nil {
		h.log.Error(writeErr, "failed to write error response")
	}
}

func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperror.KindAuthorizationDenied:
		return http.StatusForbidden
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindValidation:
		return http.StatusBadRequest
	case apperror.KindConflict:
		return http.StatusConflict
	case apperror.KindStateInvariant:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperror.Validation("malformed request body")
	}
	return nil
}

// mintTokenPair mints an access/refresh token pair and records the refresh
// credential, the shared tail of register/login/refresh.
func (h *Handler) mintTokenPair(r *http.Request, userID int64, username string) (*TokenResponse, error) {
	accessToken, _, err := h.codec.Mint(userID, username, auth.TokenKindAccess, h.accessTokenTTL)
	if err != nil {
		return nil, apperror.StorageFailure(err, "failed to mint access token")
	}
	refreshToken, jti, err := h.codec.Mint(userID, username, auth.TokenKindRefresh, h.refreshTokenTTL)
	if err != nil {
		return nil, apperror.StorageFailure(err, "failed to mint refresh token")
	}

	if err := h.store.CreateRefreshToken(r.Context(), jti, userID, time.Now().Add(h.refreshTokenTTL)); err != nil {
		return nil, apperror.StorageFailure(err, "failed to persist refresh credential")
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(h.accessTokenTTL.Seconds()),
		UserID:       userID,
		Username:     username,
	}, nil
}
