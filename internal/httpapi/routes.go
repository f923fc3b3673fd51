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

package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/altairalabs/vaultchat/internal/apperror"
	"github.com/altairalabs/vaultchat/internal/auth"
	"github.com/altairalabs/vaultchat/internal/httputil"
	"github.com/altairalabs/vaultchat/internal/store"
)

// RegisterRequest is the /auth/register request body.
type RegisterRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	PublicKey string `json:"public_key"`
}

// Register creates a user account and mints an initial token pair.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	if req.Username == "" || req.Password == "" {
		h.writeError(w, apperror.Validation("username and password are required"))
		return
	}
	if err := auth.ValidatePublicKey(req.PublicKey); err != nil {
		h.writeError(w, err)
		return
	}

	passwordHash, err := h.hasher.Hash(req.Password)
	if err != nil {
		h.writeError(w, apperror.StorageFailure(err, "failed to hash password"))
		return
	}

	user, err := h.store.CreateUser(r.Context(), req.Username, passwordHash, req.PublicKey)
	if err != nil {
		h.writeError(w, mapStoreErr(err))
		return
	}

	tokens, err := h.mintTokenPair(r, user.ID, user.Username)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := httputil.WriteJSON(w, http.StatusCreated, tokens); err != nil {
		h.log.Error(err, "failed to write register response")
	}
}

// LoginRequest is the /auth/login request body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates a user by password and mints a token pair.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		h.writeError(w, apperror.Unauthenticated("invalid username or password"))
		return
	}
	if !user.Active {
		h.writeError(w, apperror.Unauthenticated("account disabled"))
		return
	}
	if !h.hasher.Verify(user.PasswordHash, req.Password) {
		h.writeError(w, apperror.Unauthenticated("invalid username or password"))
		return
	}

	tokens, err := h.mintTokenPair(r, user.ID, user.Username)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := httputil.WriteJSON(w, http.StatusOK, tokens); err != nil {
		h.log.Error(err, "failed to write login response")
	}
}

// RefreshRequest is the /auth/refresh request body.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a still-valid refresh token for a new token pair,
// revoking the presented refresh token in the same request (SPEC_FULL.md
// §9.1's refresh-token rotation).
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	claims, err := h.codec.Parse(req.RefreshToken)
	if err != nil {
		h.writeError(w, apperror.Unauthenticated("invalid or expired refresh token"))
		return
	}
	if claims.Kind != auth.TokenKindRefresh {
		h.writeError(w, apperror.Unauthenticated("wrong token type: expected refresh token"))
		return
	}

	cred, err := h.store.GetRefreshToken(r.Context(), claims.ID)
	if err != nil {
		h.writeError(w, apperror.Unauthenticated("unknown refresh token"))
		return
	}
	if cred.Revoked {
		h.writeError(w, apperror.Unauthenticated("refresh token has been revoked"))
		return
	}
	if time.Now().After(cred.ExpiresAt) {
		h.writeError(w, apperror.Unauthenticated("refresh token expired"))
		return
	}

	user, err := h.store.GetUserByID(r.Context(), cred.UserID)
	if err != nil || !user.Active {
		h.writeError(w, apperror.Unauthenticated("account unavailable"))
		return
	}

	if err := h.store.RevokeRefreshToken(r.Context(), claims.ID); err != nil {
		h.writeError(w, apperror.StorageFailure(err, "failed to revoke prior refresh token"))
		return
	}

	tokens, err := h.mintTokenPair(r, user.ID, user.Username)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := httputil.WriteJSON(w, http.StatusOK, tokens); err != nil {
		h.log.Error(err, "failed to write refresh response")
	}
}

// LogoutRequest is the /auth/logout request body.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Logout revokes a refresh token so it can no longer mint new access
// tokens.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	claims, err := h.codec.Parse(req.RefreshToken)
	if err != nil {
		// Already-invalid tokens need no action: logout is idempotent.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.store.RevokeRefreshToken(r.Context(), claims.ID); err != nil && !errors.Is(err, store.ErrRefreshTokenNotFound) {
		h.writeError(w, apperror.StorageFailure(err, "failed to revoke refresh token"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrUsernameTaken):
		return apperror.Conflict("username is already taken")
	case errors.Is(err, store.ErrUserNotFound):
		return apperror.NotFound("user not found")
	default:
		return apperror.StorageFailure(err, "storage operation failed")
	}
}
