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
	// HandshakesInitiated tracks handshake attempts accepted by the listener,
	// before the hello frame has even been read.
	HandshakesInitiated = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshakes",
			Name:      "initiated_total",
			Help:      "Total number of handshake attempts accepted",
		},
	)

	// HandshakeOutcomes tracks how each handshake attempt ended: success,
	// or one of the failure reasons the state machine can report.
	HandshakeOutcomes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshakes",
			Name:      "outcomes_total",
			Help:      "Total number of handshake attempts by outcome",
		},
		[]string{"outcome"}, // success, expected_handshake, missing_public_key, unauthorized, bad_public_key, internal_error
	)

	// HandshakeDuration tracks wall-clock time from the start of a
	// handshake to its outcome, observed for successes and rejections alike.
	HandshakeDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "handshakes",
			Name:      "duration_seconds",
			Help:      "Handshake duration in seconds, from accept to registration",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
	)
)
