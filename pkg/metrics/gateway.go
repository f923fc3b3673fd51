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

// Package metrics holds the Prometheus instrumentation for vaultchat's
// gateway, registered at process startup and scraped at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultEventDurationBuckets are the histogram buckets for inbound event
// handling latency: database round trips dominate, so the range favors
// sub-second resolution.
var DefaultEventDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// GatewayMetrics implements gateway.ServerMetrics with Prometheus
// instrumentation.
type GatewayMetrics struct {
	connectionsOpened prometheus.Counter
	connectionsClosed prometheus.Counter
	messagesReceived  prometheus.Counter
	messagesSent      prometheus.Counter
	eventsTotal       *prometheus.CounterVec
	eventDuration     *prometheus.HistogramVec
	rotationsTotal    *prometheus.CounterVec
}

// NewGatewayMetrics creates and registers all Prometheus metrics for the
// Realtime Session Gateway.
func NewGatewayMetrics() *GatewayMetrics {
	return &GatewayMetrics{
		connectionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vaultchat_gateway_connections_opened_total",
			Help: "Total number of WebSocket connections accepted.",
		}),
		connectionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vaultchat_gateway_connections_closed_total",
			Help: "Total number of WebSocket connections closed.",
		}),
		messagesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vaultchat_gateway_messages_received_total",
			Help: "Total number of WebSocket frames received.",
		}),
		messagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vaultchat_gateway_messages_sent_total",
			Help: "Total number of WebSocket frames sent.",
		}),
		eventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultchat_gateway_events_total",
			Help: "Total number of inbound events handled, by event name and outcome.",
		}, []string{"event", "status"}),
		eventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vaultchat_gateway_event_duration_seconds",
			Help:    "Inbound event handling duration in seconds.",
			Buckets: DefaultEventDurationBuckets,
		}, []string{"event"}),
		rotationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultchat_gateway_rotations_total",
			Help: "Total number of key rotation attempts, by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *GatewayMetrics) ConnectionOpened() { m.connectionsOpened.Inc() }
func (m *GatewayMetrics) ConnectionClosed() { m.connectionsClosed.Inc() }
func (m *GatewayMetrics) MessageReceived()  { m.messagesReceived.Inc() }
func (m *GatewayMetrics) MessageSent()      { m.messagesSent.Inc() }

func (m *GatewayMetrics) EventHandled(event, status string, durationSeconds float64) {
	m.eventsTotal.WithLabelValues(event, status).Inc()
	m.eventDuration.WithLabelValues(event).Observe(durationSeconds)
}

func (m *GatewayMetrics) RotationCompleted() { m.rotationsTotal.WithLabelValues("committed").Inc() }
func (m *GatewayMetrics) RotationConflict()  { m.rotationsTotal.WithLabelValues("conflict").Inc() }
