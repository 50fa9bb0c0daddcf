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
	"sync"
	"time"
)

// MetricsCollector mirrors the broker's Prometheus counters as plain Go
// values, so the metrics ticker (CMDCHAT_METRICS_JSON) can emit a
// snapshot without scraping /metrics over HTTP.
type MetricsCollector struct {
	mu sync.RWMutex

	// Counters
	SessionsCreated     int64
	SessionsClosed      int64
	MessagesDispatched  int64
	MessagesBroadcast   int64
	RateLimitDrops      int64
	HandshakesInitiated int64
	HandshakesSucceeded int64
	HandshakesFailed    int64

	// Timing metrics, in microseconds
	HandshakeTimes        []int64
	BroadcastEncryptTimes []int64

	connectedClients int64
	startTime        time.Time
	maxTimingSamples int
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startTime:        time.Now(),
		maxTimingSamples: 1000, // keep last 1000 samples per timing metric
	}
}

// RecordSessionCreated records a session admitted into the registry.
func (mc *MetricsCollector) RecordSessionCreated() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.SessionsCreated++
	mc.connectedClients++
}

// RecordSessionClosed records a session removed from the registry.
func (mc *MetricsCollector) RecordSessionClosed() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.SessionsClosed++
	if mc.connectedClients > 0 {
		mc.connectedClients--
	}
}

// RecordHandshake records a completed handshake attempt, successful or not.
func (mc *MetricsCollector) RecordHandshake(success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.HandshakesInitiated++
	if success {
		mc.HandshakesSucceeded++
	} else {
		mc.HandshakesFailed++
	}
	mc.recordTiming(&mc.HandshakeTimes, duration)
}

// RecordDispatch records a decrypted payload routed to a handler.
func (mc *MetricsCollector) RecordDispatch() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.MessagesDispatched++
}

// RecordBroadcast records one payload delivered to one room member, along
// with the time spent sending it to that member (write lock, sealing
// under its session cipher, and frame write).
func (mc *MetricsCollector) RecordBroadcast(duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.MessagesBroadcast++
	mc.recordTiming(&mc.BroadcastEncryptTimes, duration)
}

// RecordRateLimitDrop records a chat message dropped by the rate limiter.
func (mc *MetricsCollector) RecordRateLimitDrop() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.RateLimitDrops++
}

// recordTiming appends a timing sample, trimmed to the last N entries.
func (mc *MetricsCollector) recordTiming(timings *[]int64, duration time.Duration) {
	microseconds := duration.Microseconds()
	*timings = append(*timings, microseconds)
	if len(*timings) > mc.maxTimingSamples {
		*timings = (*timings)[len(*timings)-mc.maxTimingSamples:]
	}
}

// GetSnapshot returns a point-in-time snapshot of current metrics.
func (mc *MetricsCollector) GetSnapshot() *MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return &MetricsSnapshot{
		Timestamp:               time.Now(),
		Uptime:                  time.Since(mc.startTime),
		ConnectedClients:        mc.connectedClients,
		SessionsCreated:         mc.SessionsCreated,
		SessionsClosed:          mc.SessionsClosed,
		MessagesDispatched:      mc.MessagesDispatched,
		MessagesBroadcast:       mc.MessagesBroadcast,
		RateLimitDrops:          mc.RateLimitDrops,
		HandshakesInitiated:     mc.HandshakesInitiated,
		HandshakesSucceeded:     mc.HandshakesSucceeded,
		HandshakesFailed:        mc.HandshakesFailed,
		AvgHandshakeTime:        calculateAverage(mc.HandshakeTimes),
		AvgBroadcastEncryptTime: calculateAverage(mc.BroadcastEncryptTimes),
		P95HandshakeTime:        calculatePercentile(mc.HandshakeTimes, 95),
		P95BroadcastEncryptTime: calculatePercentile(mc.BroadcastEncryptTimes, 95),
	}
}

// Reset clears all counters and timing samples, restarting the uptime clock.
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.SessionsCreated = 0
	mc.SessionsClosed = 0
	mc.MessagesDispatched = 0
	mc.MessagesBroadcast = 0
	mc.RateLimitDrops = 0
	mc.HandshakesInitiated = 0
	mc.HandshakesSucceeded = 0
	mc.HandshakesFailed = 0
	mc.connectedClients = 0

	mc.HandshakeTimes = nil
	mc.BroadcastEncryptTimes = nil

	mc.startTime = time.Now()
}

// MetricsSnapshot represents a point-in-time snapshot of metrics, as
// emitted by the JSON/log ticker.
type MetricsSnapshot struct {
	Timestamp time.Time
	Uptime    time.Duration

	ConnectedClients    int64
	SessionsCreated     int64
	SessionsClosed      int64
	MessagesDispatched  int64
	MessagesBroadcast   int64
	RateLimitDrops      int64
	HandshakesInitiated int64
	HandshakesSucceeded int64
	HandshakesFailed    int64

	// Timing averages, in microseconds
	AvgHandshakeTime        float64
	AvgBroadcastEncryptTime float64

	// 95th percentile timings, in microseconds
	P95HandshakeTime        int64
	P95BroadcastEncryptTime int64
}

// HandshakeSuccessRate returns the fraction of handshake attempts that
// reached REGISTERED, as a percentage.
func (ms *MetricsSnapshot) HandshakeSuccessRate() float64 {
	if ms.HandshakesInitiated == 0 {
		return 0
	}
	return float64(ms.HandshakesSucceeded) / float64(ms.HandshakesInitiated) * 100
}

// Helper functions

func calculateAverage(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum int64
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

func calculatePercentile(values []int64, percentile int) int64 {
	if len(values) == 0 {
		return 0
	}

	// Simple implementation - for production, use a proper percentile algorithm
	// This is an approximation
	index := len(values) * percentile / 100
	if index >= len(values) {
		index = len(values) - 1
	}

	// Create a copy and sort (simple bubble sort for small datasets)
	sorted := make([]int64, len(values))
	copy(sorted, values)

	for i := 0; i < len(sorted)-1; i++ {
		for j := 0; j < len(sorted)-i-1; j++ {
			if sorted[j] > sorted[j+1] {
				sorted[j], sorted[j+1] = sorted[j+1], sorted[j]
			}
		}
	}

	return sorted[index]
}

// Global metrics collector instance
var globalCollector = NewMetricsCollector()

// GetGlobalCollector returns the global metrics collector
func GetGlobalCollector() *MetricsCollector {
	return globalCollector
}
