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
	// ConnectedClients tracks the number of sessions currently registered
	// across all rooms.
	ConnectedClients = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "connected_clients",
			Help:      "Number of currently registered sessions",
		},
	)

	// SessionsCreated tracks total sessions admitted into the registry.
	SessionsCreated = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Total number of sessions admitted into the registry",
		},
	)

	// SessionsClosed tracks sessions removed from the registry, labeled by
	// where the removal happened.
	SessionsClosed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "closed_total",
			Help:      "Total number of sessions removed from the registry",
		},
		[]string{"reason"}, // closed (connection teardown), write_error (broadcast reap), protocol_error (handshake_ok write failed)
	)
)
