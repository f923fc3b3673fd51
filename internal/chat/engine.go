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

// Package chat implements the storage-agnostic core of the Room & Key
// Lifecycle Engine: C3 (Key Ledger), C4 (Room Membership Manager), C5
// (Message Store), and C7 (Rotation Coordinator). Every method returns a
// result describing the committed effect; internal/gateway is responsible
// for translating a result into the named events of spec.md §4.6 and
// fanning them out — this package never touches a transport session.
package chat

import "github.com/altairalabs/vaultchat/internal/store"

// Engine is the single entry point the gateway drives for every
// client-originated event (spec.md §2's create_room, invite, leave,
// rotate_key, send_message, get_messages).
type Engine struct {
	store store.Store
}

func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// Store exposes the underlying store.Store for callers that need a direct
// read without a second construction path (the gateway uses it to reload a
// room's participants after a rotation).
func (e *Engine) Store() store.Store { return e.store }

func toWraps(in []store.ParticipantWrap) map[int64]string {
	out := make(map[int64]string, len(in))
	for _, w := range in {
		out[w.UserID] = w.WrappedKey
	}
	return out
}
