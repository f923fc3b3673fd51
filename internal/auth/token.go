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

// Package auth is the external token-minting/decoding and password-hashing
// collaborator spec.md §1 places out of scope for the core, implemented
// concretely here since this is a complete runnable repository. C1, the
// Credential Verifier proper, layers the domain checks (token type, user
// active) on top of TokenCodec.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind distinguishes access from refresh tokens; only TokenKindAccess
// may authenticate a gateway connection.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Claims is the payload minted into both access and refresh tokens.
type Claims struct {
	UserID   int64     `json:"uid"`
	Username string    `json:"username"`
	Kind     TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// TokenCodec mints and parses access/refresh tokens. It is the external
// "token minting and decoding" collaborator named in spec.md §1.
type TokenCodec interface {
	Mint(userID int64, username string, kind TokenKind, ttl time.Duration) (string, string, error)
	Parse(token string) (*Claims, error)
}

// ErrMalformed and ErrExpired classify TokenCodec.Parse failures the way C1
// needs to distinguish them (spec.md §4.1's error kind set: malformed,
// wrong_type, expired, user_unknown, user_disabled). ErrWrongType names the
// wrong_type kind; JWTCodec.Parse does not return it, since the token-kind
// check is made by Verifier.
var (
	ErrMalformed = errors.New("auth: malformed token")
	ErrWrongType = errors.New("auth: wrong token kind")
	ErrExpired   = errors.New("auth: token expired")
)

// JWTCodec implements TokenCodec with HS256 over a shared server secret,
// the idiom the teacher's pkg/license/validator.go uses for
// jwt.ParseWithClaims, adapted from RS256-licensing to a self-issued HMAC
// scheme appropriate for an in-repo token authority.
type JWTCodec struct {
	secret []byte
}

func NewJWTCodec(secret []byte) *JWTCodec {
	return &JWTCodec{secret: secret}
}

// Mint returns the signed token string and its jti (used as the
// RefreshCredential primary key for refresh tokens; ignored by callers for
// access tokens).
func (c *JWTCodec) Mint(userID int64, username string, kind TokenKind, ttl time.Duration) (string, string, error) {
	jti, err := newJTI()
	if err != nil {
		return "", "", fmt.Errorf("auth: generating jti: %w", err)
	}

	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, jti, nil
}

func (c *JWTCodec) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrMalformed, t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return claims, nil
}
