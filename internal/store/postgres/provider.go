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

// Package postgres implements store.Store over PostgreSQL via pgx, grounded
// on the explicit-transaction and row-locking idioms of the teacher's
// session store provider.
package postgres

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/altairalabs/vaultchat/internal/store"
)

var _ store.Store = (*Provider)(nil)

// Provider implements store.Store using PostgreSQL.
type Provider struct {
	pool     *pgxpool.Pool
	ownsPool bool
}

// New creates a Provider that owns the underlying connection pool. The pool
// is created from cfg and verified with a ping. Close shuts down the pool.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("postgres: connection string is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing connection string: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}
	return &Provider{pool: pool, ownsPool: true}, nil
}

// NewFromPool wraps an existing pool. Close is a no-op; the caller retains
// ownership.
func NewFromPool(pool *pgxpool.Pool) *Provider {
	return &Provider{pool: pool, ownsPool: false}
}

func (p *Provider) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Provider) Close() {
	if p.ownsPool {
		p.pool.Close()
	}
}

func (p *Provider) beginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin tx: %w", err)
	}
	return tx, nil
}

// --- users & refresh tokens --------------------------------------------------

func (p *Provider) CreateUser(ctx context.Context, username, passwordHash, publicKey string) (*store.User, error) {
	query := `INSERT INTO users (username, password_hash, public_key)
		SELECT $1, $2, $3
		WHERE NOT EXISTS (SELECT 1 FROM users WHERE username = $1)
		RETURNING id, username, password_hash, public_key, active, created_at, updated_at`

	row := p.pool.QueryRow(ctx, query, username, passwordHash, publicKey)
	u, err := scanUser(row)
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrUsernameTaken
		}
		return nil, fmt.Errorf("postgres: create user: %w", err)
	}
	return u, nil
}

func (p *Provider) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `SELECT id, username, password_hash, public_key, active, created_at, updated_at
		FROM users WHERE id = $1`
	u, err := scanUser(p.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("postgres: get user: %w", err)
	}
	return u, nil
}

func (p *Provider) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `SELECT id, username, password_hash, public_key, active, created_at, updated_at
		FROM users WHERE username = $1`
	u, err := scanUser(p.pool.QueryRow(ctx, query, username))
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("postgres: get user by username: %w", err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (*store.User, error) {
	var u store.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.PublicKey, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *Provider) CreateRefreshToken(ctx context.Context, jti string, userID int64, expiresAt time.Time) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO refresh_tokens (jti, user_id, expires_at) VALUES ($1, $2, $3)`,
		jti, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("postgres: create refresh token: %w", err)
	}
	return nil
}

func (p *Provider) GetRefreshToken(ctx context.Context, jti string) (*store.RefreshCredential, error) {
	var rc store.RefreshCredential
	err := p.pool.QueryRow(ctx,
		`SELECT jti, user_id, revoked, expires_at, created_at FROM refresh_tokens WHERE jti = $1`, jti,
	).Scan(&rc.JTI, &rc.UserID, &rc.Revoked, &rc.ExpiresAt, &rc.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("postgres: get refresh token: %w", err)
	}
	return &rc, nil
}

func (p *Provider) RevokeRefreshToken(ctx context.Context, jti string) error {
	res, err := p.pool.Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE jti = $1`, jti)
	if err != nil {
		return fmt.Errorf("postgres: revoke refresh token: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrRefreshTokenNotFound
	}
	return nil
}

// --- rooms, ledger, rotation --------------------------------------------------

func (p *Provider) GetRoom(ctx context.Context, roomID int64) (*store.Room, error) {
	r, err := scanRoom(p.pool.QueryRow(ctx, roomColumns+` FROM rooms WHERE id = $1`, roomID))
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrRoomNotFound
		}
		return nil, fmt.Errorf("postgres: get room: %w", err)
	}
	return r, nil
}

const roomColumns = `SELECT id, display_name, is_group, current_key_version, rotation_pending, created_at, updated_at`

func scanRoom(row pgx.Row) (*store.Room, error) {
	var r store.Room
	if err := row.Scan(&r.ID, &r.DisplayName, &r.Group, &r.CurrentKeyVersion, &r.RotationPending, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *Provider) GetParticipants(ctx context.Context, roomID int64) ([]int64, error) {
	rows, err := p.pool.Query(ctx, `SELECT user_id FROM room_participants WHERE room_id = $1 ORDER BY user_id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get participants: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan participant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Provider) IsParticipant(ctx context.Context, roomID, userID int64) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM room_participants WHERE room_id = $1 AND user_id = $2)`,
		roomID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check participant: %w", err)
	}
	return exists, nil
}

func (p *Provider) RenameRoom(ctx context.Context, roomID, callerID int64, displayName string) (*store.Room, error) {
	isParticipant, err := p.IsParticipant(ctx, roomID, callerID)
	if err != nil {
		return nil, err
	}
	if !isParticipant {
		return nil, store.ErrNotParticipant
	}
	res, err := p.pool.Exec(ctx,
		`UPDATE rooms SET display_name = $2, updated_at = now() WHERE id = $1`, roomID, displayName)
	if err != nil {
		return nil, fmt.Errorf("postgres: rename room: %w", err)
	}
	if res.RowsAffected() == 0 {
		return nil, store.ErrRoomNotFound
	}
	return p.GetRoom(ctx, roomID)
}

func (p *Provider) ListRoomsForUser(ctx context.Context, userID int64) ([]store.RoomSummary, error) {
	rows, err := p.pool.Query(ctx, roomColumns+` FROM rooms r
		WHERE EXISTS (SELECT 1 FROM room_participants rp WHERE rp.room_id = r.id AND rp.user_id = $1)
		ORDER BY r.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rooms: %w", err)
	}
	var rooms []store.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan room: %w", err)
		}
		rooms = append(rooms, *r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summaries := make([]store.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		participants, err := p.GetParticipants(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		wraps, err := p.WrappedKeysFor(ctx, userID, r.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, store.RoomSummary{Room: r, Participants: participants, Wraps: wraps})
	}
	return summaries, nil
}

func (p *Provider) WrappedKeysFor(ctx context.Context, userID, roomID int64) (store.Wraps, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key_version, wrapped_key FROM symmetric_keys
		WHERE room_id = $1 AND user_id = $2 AND purged = FALSE
		ORDER BY key_version`, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: wrapped keys for: %w", err)
	}
	defer rows.Close()

	wraps := store.Wraps{}
	for rows.Next() {
		var version int
		var wrapped string
		if err := rows.Scan(&version, &wrapped); err != nil {
			return nil, fmt.Errorf("postgres: scan wrap: %w", err)
		}
		wraps[version] = wrapped
	}
	return wraps, rows.Err()
}

// lockRoom acquires the room's row lock for the duration of tx and returns
// its current state, serialising every concurrent writer on this room.
func lockRoom(ctx context.Context, tx pgx.Tx, roomID int64) (*store.Room, error) {
	r, err := scanRoom(tx.QueryRow(ctx, roomColumns+` FROM rooms WHERE id = $1 FOR UPDATE`, roomID))
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrRoomNotFound
		}
		return nil, fmt.Errorf("postgres: lock room: %w", err)
	}
	return r, nil
}

func participantsTx(ctx context.Context, tx pgx.Tx, roomID int64) ([]int64, error) {
	rows, err := tx.Query(ctx, `SELECT user_id FROM room_participants WHERE room_id = $1 ORDER BY user_id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("postgres: participants in tx: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// installLedgerVersion revokes all entries at version-1, inserts entries at
// version for every wrap, and bumps the room's current_key_version, all
// within the caller's transaction. version must equal the room's current
// version + 1 (or 1 on bootstrap, where the room row was just inserted at
// current_key_version = 0 in the same transaction).
func installLedgerVersion(ctx context.Context, tx pgx.Tx, roomID int64, version int, wraps []store.ParticipantWrap) error {
	if version > 1 {
		_, err := tx.Exec(ctx,
			`UPDATE symmetric_keys SET revoked_at = now()
			WHERE room_id = $1 AND key_version = $2 AND revoked_at IS NULL`,
			roomID, version-1)
		if err != nil {
			return fmt.Errorf("postgres: revoke prior version: %w", err)
		}
	}

	for _, w := range wraps {
		_, err := tx.Exec(ctx,
			`INSERT INTO symmetric_keys (room_id, user_id, key_version, wrapped_key)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (room_id, user_id, key_version) DO NOTHING`,
			roomID, w.UserID, version, w.WrappedKey)
		if err != nil {
			return fmt.Errorf("postgres: install wrap for user %d: %w", w.UserID, err)
		}
	}

	_, err := tx.Exec(ctx,
		`UPDATE rooms SET current_key_version = $2, updated_at = now() WHERE id = $1`, roomID, version)
	if err != nil {
		return fmt.Errorf("postgres: bump version: %w", err)
	}
	return nil
}

// wrapsCoverExactly reports whether the user ids in wraps are exactly the
// ids in required, with no duplicates and no extras.
func wrapsCoverExactly(wraps []store.ParticipantWrap, required []int64) bool {
	if len(wraps) != len(required) {
		return false
	}
	want := map[int64]bool{}
	for _, id := range required {
		want[id] = true
	}
	seen := map[int64]bool{}
	for _, w := range wraps {
		if !want[w.UserID] || seen[w.UserID] {
			return false
		}
		seen[w.UserID] = true
	}
	return true
}

func (p *Provider) CreateRoom(ctx context.Context, creatorID int64, displayName string, group bool, invitees []int64, wraps []store.ParticipantWrap) (*store.Room, error) {
	required := dedupeInt64(append([]int64{creatorID}, invitees...))

	if !wrapsCoverExactly(wraps, required) {
		return nil, store.ErrIncompleteWraps
	}

	tx, err := p.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var roomID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO rooms (display_name, is_group, current_key_version) VALUES ($1, $2, 0) RETURNING id`,
		displayName, group).Scan(&roomID)
	if err != nil {
		return nil, fmt.Errorf("postgres: insert room: %w", err)
	}

	for _, uid := range required {
		if _, err := tx.Exec(ctx,
			`INSERT INTO room_participants (room_id, user_id) VALUES ($1, $2)`, roomID, uid); err != nil {
			return nil, fmt.Errorf("postgres: insert participant %d: %w", uid, err)
		}
	}

	if err := installLedgerVersion(ctx, tx, roomID, 1, wraps); err != nil {
		return nil, err
	}

	room, err := scanRoom(tx.QueryRow(ctx, roomColumns+` FROM rooms WHERE id = $1`, roomID))
	if err != nil {
		return nil, fmt.Errorf("postgres: read created room: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit create room: %w", err)
	}
	return room, nil
}

func (p *Provider) InviteToRoom(ctx context.Context, roomID, callerID int64, expectedVersion int, newUserIDs []int64, wraps []store.ParticipantWrap) (*store.InviteResult, error) {
	tx, err := p.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	room, err := lockRoom(ctx, tx, roomID)
	if err != nil {
		return nil, err
	}
	if room.CurrentKeyVersion != expectedVersion {
		return nil, store.ErrVersionConflict
	}

	current, err := participantsTx(ctx, tx, roomID)
	if err != nil {
		return nil, err
	}
	if !containsInt64(current, callerID) {
		return nil, store.ErrNotParticipant
	}

	currentSet := map[int64]bool{}
	for _, id := range current {
		currentSet[id] = true
	}
	var added []int64
	for _, id := range dedupeInt64(newUserIDs) {
		if !currentSet[id] {
			added = append(added, id)
		}
	}

	required := append(append([]int64{}, current...), added...)
	if !wrapsCoverExactly(wraps, required) {
		return nil, store.ErrIncompleteWraps
	}

	for _, uid := range added {
		if _, err := tx.Exec(ctx,
			`INSERT INTO room_participants (room_id, user_id) VALUES ($1, $2)`, roomID, uid); err != nil {
			return nil, fmt.Errorf("postgres: insert invitee %d: %w", uid, err)
		}
	}

	newVersion := room.CurrentKeyVersion + 1
	if err := installLedgerVersion(ctx, tx, roomID, newVersion, wraps); err != nil {
		return nil, err
	}

	var sysMsg *store.Message
	if len(added) > 0 {
		text := systemJoinText(ctx, tx, added)
		sysMsg, err = appendMessageTx(ctx, tx, roomID, nil, store.MessageTypeSystem, text, dummyIV, newVersion)
		if err != nil {
			return nil, err
		}
	}

	updatedRoom, err := scanRoom(tx.QueryRow(ctx, roomColumns+` FROM rooms WHERE id = $1`, roomID))
	if err != nil {
		return nil, fmt.Errorf("postgres: read invited room: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit invite: %w", err)
	}
	return &store.InviteResult{Room: updatedRoom, SystemMessage: sysMsg, AddedUserIDs: added}, nil
}

func (p *Provider) LeaveRoom(ctx context.Context, roomID, userID int64) (*store.LeaveResult, error) {
	tx, err := p.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	room, err := lockRoom(ctx, tx, roomID)
	if err != nil {
		return nil, err
	}

	current, err := participantsTx(ctx, tx, roomID)
	if err != nil {
		return nil, err
	}
	if !containsInt64(current, userID) {
		return nil, store.ErrNotParticipant
	}

	if _, err := tx.Exec(ctx, `DELETE FROM room_participants WHERE room_id = $1 AND user_id = $2`, roomID, userID); err != nil {
		return nil, fmt.Errorf("postgres: remove participant: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE symmetric_keys SET purged = TRUE
		WHERE room_id = $1 AND user_id = $2 AND key_version = $3`,
		roomID, userID, room.CurrentKeyVersion); err != nil {
		return nil, fmt.Errorf("postgres: purge leaver wrap: %w", err)
	}

	remaining := make([]int64, 0, len(current)-1)
	for _, id := range current {
		if id != userID {
			remaining = append(remaining, id)
		}
	}

	result := &store.LeaveResult{RemainingParticipants: remaining}

	if len(remaining) == 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, roomID); err != nil {
			return nil, fmt.Errorf("postgres: delete empty room: %w", err)
		}
		result.RoomDeleted = true
	} else {
		if _, err := tx.Exec(ctx,
			`UPDATE rooms SET rotation_pending = TRUE, updated_at = now() WHERE id = $1`, roomID); err != nil {
			return nil, fmt.Errorf("postgres: set rotation pending: %w", err)
		}
		text := systemLeaveText(ctx, tx, userID)
		sysMsg, err := appendMessageTx(ctx, tx, roomID, nil, store.MessageTypeSystem, text, dummyIV, room.CurrentKeyVersion)
		if err != nil {
			return nil, err
		}
		result.SystemMessage = sysMsg

		updatedRoom, err := scanRoom(tx.QueryRow(ctx, roomColumns+` FROM rooms WHERE id = $1`, roomID))
		if err != nil {
			return nil, fmt.Errorf("postgres: read room after leave: %w", err)
		}
		result.Room = updatedRoom
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit leave: %w", err)
	}
	return result, nil
}

func (p *Provider) RotateKey(ctx context.Context, roomID, callerID int64, expectedVersion int, wraps []store.ParticipantWrap) (*store.Room, error) {
	tx, err := p.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	room, err := lockRoom(ctx, tx, roomID)
	if err != nil {
		return nil, err
	}
	if room.CurrentKeyVersion != expectedVersion {
		return nil, store.ErrVersionConflict
	}

	current, err := participantsTx(ctx, tx, roomID)
	if err != nil {
		return nil, err
	}
	if !containsInt64(current, callerID) {
		return nil, store.ErrNotParticipant
	}
	if !wrapsCoverExactly(wraps, current) {
		return nil, store.ErrIncompleteWraps
	}

	newVersion := room.CurrentKeyVersion + 1
	if err := installLedgerVersion(ctx, tx, roomID, newVersion, wraps); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE rooms SET rotation_pending = FALSE, updated_at = now() WHERE id = $1`, roomID); err != nil {
		return nil, fmt.Errorf("postgres: clear rotation pending: %w", err)
	}

	updatedRoom, err := scanRoom(tx.QueryRow(ctx, roomColumns+` FROM rooms WHERE id = $1`, roomID))
	if err != nil {
		return nil, fmt.Errorf("postgres: read rotated room: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit rotate: %w", err)
	}
	return updatedRoom, nil
}

// --- messages -----------------------------------------------------------------

const dummyIV = "AAAAAAAAAAAAAAAAAAAAAA=="

func (p *Provider) AppendUserMessage(ctx context.Context, roomID, senderID int64, ciphertext, iv string, keyVersion int) (*store.Message, error) {
	isParticipant, err := p.IsParticipant(ctx, roomID, senderID)
	if err != nil {
		return nil, err
	}
	if !isParticipant {
		return nil, store.ErrNotParticipant
	}

	room, err := p.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if keyVersion > room.CurrentKeyVersion {
		return nil, store.ErrKeyVersionTooNew
	}

	var id int64
	var createdAt time.Time
	err = p.pool.QueryRow(ctx,
		`INSERT INTO messages (room_id, sender_id, message_type, ciphertext, iv, key_version)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`,
		roomID, senderID, store.MessageTypeUser, ciphertext, iv, keyVersion).Scan(&id, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: append user message: %w", err)
	}

	sid := senderID
	return &store.Message{
		ID: id, RoomID: roomID, SenderID: &sid, Type: store.MessageTypeUser,
		Ciphertext: ciphertext, IV: iv, KeyVersion: keyVersion, CreatedAt: createdAt,
	}, nil
}

// appendMessageTx inserts a message within an already-open transaction. A
// system message's content arrives as plain text; spec.md §4.5/§9 require it
// be stored base64-encoded like a real ciphertext, with a dummy IV, so a
// client can treat every row the same way and switch on message_type only to
// decide whether to decrypt.
func appendMessageTx(ctx context.Context, tx pgx.Tx, roomID int64, senderID *int64, msgType store.MessageType, content, iv string, keyVersion int) (*store.Message, error) {
	stored := content
	if msgType == store.MessageTypeSystem {
		stored = base64.StdEncoding.EncodeToString([]byte(content))
	}

	var id int64
	var createdAt time.Time
	err := tx.QueryRow(ctx,
		`INSERT INTO messages (room_id, sender_id, message_type, ciphertext, iv, key_version, delivered)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE) RETURNING id, created_at`,
		roomID, senderID, msgType, stored, iv, keyVersion).Scan(&id, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: append message: %w", err)
	}
	return &store.Message{
		ID: id, RoomID: roomID, SenderID: senderID, Type: msgType,
		Ciphertext: stored, IV: iv, KeyVersion: keyVersion, Delivered: true, CreatedAt: createdAt,
	}, nil
}

func (p *Provider) GetMessages(ctx context.Context, roomID int64, limit, offset int) ([]store.Message, bool, error) {
	query := `SELECT id, room_id, sender_id, message_type, ciphertext, iv, key_version, delivered, created_at,
		count(*) OVER() AS total_count
		FROM messages WHERE room_id = $1
		ORDER BY created_at DESC, id DESC`
	args := []any{roomID}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get messages: %w", err)
	}
	defer rows.Close()

	var msgs []store.Message
	var total int64
	for rows.Next() {
		var m store.Message
		var senderID *int64
		if err := rows.Scan(&m.ID, &m.RoomID, &senderID, &m.Type, &m.Ciphertext, &m.IV, &m.KeyVersion, &m.Delivered, &m.CreatedAt, &total); err != nil {
			return nil, false, fmt.Errorf("postgres: scan message: %w", err)
		}
		m.SenderID = senderID
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	hasMore := int64(offset)+int64(len(msgs)) < total
	return msgs, hasMore, nil
}

func (p *Provider) MarkDelivered(ctx context.Context, messageID int64) error {
	_, err := p.pool.Exec(ctx, `UPDATE messages SET delivered = TRUE WHERE id = $1 AND delivered = FALSE`, messageID)
	if err != nil {
		return fmt.Errorf("postgres: mark delivered: %w", err)
	}
	return nil
}

// --- small helpers --------------------------------------------------------

func isNoRows(err error) bool {
	return err == pgx.ErrNoRows
}

func containsInt64(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func dedupeInt64(ids []int64) []int64 {
	seen := map[int64]bool{}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func usernamesFor(ctx context.Context, tx pgx.Tx, ids []int64) []string {
	if len(ids) == 0 {
		return nil
	}
	rows, err := tx.Query(ctx, `SELECT username FROM users WHERE id = ANY($1) ORDER BY username`, ids)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if rows.Scan(&n) == nil {
			names = append(names, n)
		}
	}
	return names
}

func systemJoinText(ctx context.Context, tx pgx.Tx, ids []int64) string {
	names := usernamesFor(ctx, tx, ids)
	if len(names) == 0 {
		return "a new member joined the room"
	}
	return strings.Join(names, ", ") + " joined the room"
}

func systemLeaveText(ctx context.Context, tx pgx.Tx, id int64) string {
	names := usernamesFor(ctx, tx, []int64{id})
	if len(names) == 0 {
		return "a member left the room"
	}
	return names[0] + " left the room"
}
