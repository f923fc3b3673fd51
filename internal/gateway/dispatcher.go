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
	"sync"

	"github.com/go-logr/logr"
)

// Transport is the minimal send capability the Dispatcher needs from the
// WebSocket server. Implementations must be safe to call concurrently and
// must never block the caller beyond one session's own write timeout — a
// slow session must not stall fan-out to others (spec.md §4.6, §5).
type Transport interface {
	Send(sessionID string, env *OutboundEnvelope) error
}

// Dispatcher is C6, the Event Dispatcher. It maintains room→sessions and
// user→sessions indices and routes realtime events without ever holding its
// own locks across a transport write (spec.md §5's "must not hold any
// shared lock while writing to a session").
type Dispatcher struct {
	registry  *Registry
	transport Transport
	relay     EventRelay
	log       logr.Logger

	mu       sync.RWMutex
	roomSubs map[int64]map[string]struct{}
}

// NewDispatcher constructs a Dispatcher backed by the given Registry and
// Transport.
func NewDispatcher(registry *Registry, transport Transport, log logr.Logger) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		transport: transport,
		log:       log.WithName("dispatcher"),
		roomSubs:  make(map[int64]map[string]struct{}),
	}
}

// SetRelay installs the cross-process EventRelay. Broadcast publishes
// through it after delivering locally; nil (the default) keeps Broadcast
// entirely local.
func (d *Dispatcher) SetRelay(relay EventRelay) {
	d.relay = relay
}

// Subscribe adds a session to a room's fan-out set.
func (d *Dispatcher) Subscribe(sessionID string, roomID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.roomSubs[roomID] == nil {
		d.roomSubs[roomID] = make(map[string]struct{})
	}
	d.roomSubs[roomID][sessionID] = struct{}{}
}

// Unsubscribe removes a session from a room's fan-out set.
func (d *Dispatcher) Unsubscribe(sessionID string, roomID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set := d.roomSubs[roomID]
	if set == nil {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(d.roomSubs, roomID)
	}
}

// UnsubscribeAll removes a session from every room it was subscribed to,
// called on disconnect.
func (d *Dispatcher) UnsubscribeAll(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for roomID, set := range d.roomSubs {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(d.roomSubs, roomID)
		}
	}
}

// roomSessions snapshots the session ids subscribed to a room. It must be
// called without holding d.mu for longer than the copy.
func (d *Dispatcher) roomSessions(roomID int64, exclude map[string]bool) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	set := d.roomSubs[roomID]
	out := make([]string, 0, len(set))
	for id := range set {
		if exclude[id] {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Broadcast delivers event/payload to every session subscribed to room,
// excluding any session id in exclude. Delivery is best-effort and
// at-most-once per session per call; a send failure is logged and does not
// abort delivery to the remaining sessions. If a relay is installed, the
// event is also published for other gateway instances' own locally
// connected sessions to receive via DeliverRemote.
func (d *Dispatcher) Broadcast(roomID int64, event string, payload any, exclude map[string]bool) {
	d.broadcastLocal(roomID, event, payload, exclude)

	if d.relay != nil {
		if err := d.relay.Publish(context.Background(), roomID, event, payload); err != nil {
			d.log.V(1).Info("relay publish failed", "room", roomID, "event", event, "err", err.Error())
		}
	}
}

// DeliverRemote fans an event received from another gateway instance out to
// this instance's own locally connected sessions. It never re-publishes to
// the relay: that would echo the event back across every instance forever.
func (d *Dispatcher) DeliverRemote(roomID int64, event string, payload any) {
	d.broadcastLocal(roomID, event, payload, nil)
}

func (d *Dispatcher) broadcastLocal(roomID int64, event string, payload any, exclude map[string]bool) {
	env := newEnvelope(event, payload)
	for _, sessionID := range d.roomSessions(roomID, exclude) {
		if err := d.transport.Send(sessionID, env); err != nil {
			d.log.V(1).Info("broadcast send failed", "session_id", sessionID, "event", event, "err", err.Error())
		}
	}
}

// ToUser delivers event/payload to every live session of a user. Used for
// targeted rotation requests and invite notifications.
func (d *Dispatcher) ToUser(userID int64, event string, payload any) {
	env := newEnvelope(event, payload)
	for _, sessionID := range d.registry.SessionsOfUser(userID) {
		if err := d.transport.Send(sessionID, env); err != nil {
			d.log.V(1).Info("to_user send failed", "session_id", sessionID, "event", event, "err", err.Error())
		}
	}
}

// ToSession delivers event/payload to exactly one session: the
// acknowledgement/error path.
func (d *Dispatcher) ToSession(sessionID, event string, payload any) {
	if err := d.transport.Send(sessionID, newEnvelope(event, payload)); err != nil {
		d.log.V(1).Info("to_session send failed", "session_id", sessionID, "event", event, "err", err.Error())
	}
}

// FirstOnlineParticipant returns the first of candidateUserIDs that has at
// least one live session, per spec.md §4.7 step 3's "deliver a targeted
// rotation_required to one currently-connected remaining participant
// (first encountered)".
func (d *Dispatcher) FirstOnlineParticipant(candidateUserIDs []int64) (int64, bool) {
	for _, uid := range candidateUserIDs {
		if len(d.registry.SessionsOfUser(uid)) > 0 {
			return uid, true
		}
	}
	return 0, false
}
