// cmdchat - encrypted room-based chat broker
// Copyright (C) 2025 cmdchat-go contributors
//
// This file is part of cmdchat.
//
// cmdchat is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// cmdchat is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with cmdchat. If not, see <https://www.gnu.org/licenses/>.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesDispatched tracks inbound payloads the dispatcher routed to a
	// handler, labeled by payload type.
	MessagesDispatched = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "dispatched_total",
			Help:      "Total number of decrypted payloads routed to a handler",
		},
		[]string{"type"}, // chat, system, rename, switch_room, ping, pong, file_init, file_chunk
	)

	// MessagesBroadcast tracks payloads fanned out to room members.
	MessagesBroadcast = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "broadcast_total",
			Help:      "Total number of payloads fanned out to room members",
		},
	)

	// RateLimitDrops tracks chat messages dropped by the sliding-window
	// rate limiter.
	RateLimitDrops = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "rate_limit_drops_total",
			Help:      "Total number of chat messages dropped for exceeding the rate limit",
		},
	)

	// BroadcastEncryptDuration tracks the per-recipient cost of delivering
	// a broadcast payload: waiting for the member's write lock, sealing
	// under its session cipher, and writing the frame.
	BroadcastEncryptDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "broadcast_encrypt_duration_seconds",
			Help:      "Per-recipient broadcast encryption duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~205ms
		},
	)

	// MessageSize tracks decrypted payload sizes.
	MessageSize = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "size_bytes",
			Help:      "Decrypted payload size in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10), // 64B to 16MB
		},
	)
)
