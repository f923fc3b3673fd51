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

package auth

import (
	"context"
	"errors"

	"github.com/altairalabs/vaultchat/internal/apperror"
)

// UserLookup reads the users table. It is the minimal read surface C1
// needs; the concrete implementation is internal/store's Store.
type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (*Identity, error)
}

// Identity is the subset of store.User the Credential Verifier needs. It
// avoids an import of internal/store from internal/auth, keeping the
// dependency direction store -> chat -> gateway, auth standalone.
type Identity struct {
	ID       int64
	Username string
	Active   bool
}

// Verified is the successful result of Verify: the resolved user identity.
type Verified struct {
	UserID   int64
	Username string
}

// Verifier is C1, the Credential Verifier: it decodes an access token via
// TokenCodec and layers the domain checks spec.md §4.1 requires (token
// type must be "access"; resolved user must exist and be active).
type Verifier struct {
	codec  TokenCodec
	lookup UserLookup
}

func NewVerifier(codec TokenCodec, lookup UserLookup) *Verifier {
	return &Verifier{codec: codec, lookup: lookup}
}

// Verify resolves an access token string to an authenticated identity, or
// an *apperror.Error classified per spec.md §4.1's error kind set.
func (v *Verifier) Verify(ctx context.Context, token string) (*Verified, error) {
	claims, err := v.codec.Parse(token)
	if err != nil {
		if errors.Is(err, ErrExpired) {
			return nil, apperror.Unauthenticated("access token expired")
		}
		return nil, apperror.Unauthenticated("malformed access token")
	}
	if claims.Kind != TokenKindAccess {
		return nil, apperror.Unauthenticated("wrong token type: expected access token")
	}

	identity, err := v.lookup.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, apperror.Unauthenticated("unknown user")
	}
	if !identity.Active {
		return nil, apperror.Unauthenticated("user account disabled")
	}

	return &Verified{UserID: identity.ID, Username: identity.Username}, nil
}
