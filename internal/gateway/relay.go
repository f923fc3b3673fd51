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
	"time"

	"github.com/go-logr/logr"
	goredis "github.com/redis/go-redis/v9"
)

// relayChannel is the single Redis Pub/Sub channel every gateway instance
// publishes to and subscribes on. Room scoping happens in the payload, not
// the channel name, since the set of rooms live on any one instance changes
// with every connect/disconnect.
const relayChannel = "vaultchat:gateway:events"

const relayPublishTimeout = 2 * time.Second

// relayMessage is the wire shape published on relayChannel. InstanceID lets
// a subscriber ignore the events it published itself.
type relayMessage struct {
	InstanceID string          `json:"instance_id"`
	RoomID     int64           `json:"room_id"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
}

// EventRelay is the cross-process fan-out hook Broadcast calls after
// delivering to its own locally connected sessions. spec.md §5 calls
// multi-instance fan-out out of scope for a single process; EventRelay is
// the seam a second gateway instance plugs into so a room's participants
// stay in sync regardless of which instance they're connected to.
type EventRelay interface {
	Publish(ctx context.Context, roomID int64, event string, payload any) error
}

// RedisRelay implements EventRelay over Redis Pub/Sub. It is wired only when
// REDIS_ADDRS is configured; a single-process deployment never constructs
// one and Dispatcher.Broadcast stays entirely local.
type RedisRelay struct {
	client     goredis.UniversalClient
	instanceID string
	log        logr.Logger
}

// NewRedisRelay wraps a Redis client as an EventRelay. instanceID must be
// unique per gateway process so a publisher never re-delivers its own
// events to itself through the subscription loop.
func NewRedisRelay(client goredis.UniversalClient, instanceID string, log logr.Logger) *RedisRelay {
	return &RedisRelay{client: client, instanceID: instanceID, log: log.WithName("relay")}
}

// Publish marshals payload and publishes it to relayChannel.
func (r *RedisRelay) Publish(ctx context.Context, roomID int64, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(relayMessage{
		InstanceID: r.instanceID,
		RoomID:     roomID,
		Event:      event,
		Payload:    raw,
	})
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, relayPublishTimeout)
	defer cancel()
	return r.client.Publish(pubCtx, relayChannel, encoded).Err()
}

// Run subscribes to relayChannel and delivers every event published by a
// different instance into dispatcher's locally connected sessions, until ctx
// is cancelled. Call it in its own goroutine.
func (r *RedisRelay) Run(ctx context.Context, dispatcher *Dispatcher) {
	sub := r.client.Subscribe(ctx, relayChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.deliver(dispatcher, msg.Payload)
		}
	}
}

func (r *RedisRelay) deliver(dispatcher *Dispatcher, raw string) {
	var relayed relayMessage
	if err := json.Unmarshal([]byte(raw), &relayed); err != nil {
		r.log.V(1).Info("dropping malformed relay message", "err", err.Error())
		return
	}
	if relayed.InstanceID == r.instanceID {
		return
	}

	var payload any
	if err := json.Unmarshal(relayed.Payload, &payload); err != nil {
		r.log.V(1).Info("dropping relay message with unparseable payload", "err", err.Error())
		return
	}
	dispatcher.DeliverRemote(relayed.RoomID, relayed.Event, payload)
}

// Close releases the underlying Redis client.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}
