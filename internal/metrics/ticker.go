package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/amariwan/cmdchat-go/internal/logger"
)

// Ticker periodically reports a snapshot of the global collector, either as
// a single JSON object on stdout (CMDCHAT_METRICS_JSON) or as a structured
// log line. A zero interval disables the ticker entirely, per the
// --metrics-interval server flag.
type Ticker struct {
	interval   time.Duration
	jsonOutput bool
	collector  *MetricsCollector
	log        logger.Logger
}

// NewTicker builds a Ticker over the global collector. jsonOutput mirrors
// whether CMDCHAT_METRICS_JSON is set.
func NewTicker(interval time.Duration, jsonOutput bool, log logger.Logger) *Ticker {
	return &Ticker{
		interval:   interval,
		jsonOutput: jsonOutput,
		collector:  GetGlobalCollector(),
		log:        log,
	}
}

// Run blocks, emitting one snapshot per interval until ctx is canceled. A
// non-positive interval returns immediately without emitting anything.
func (t *Ticker) Run(ctx context.Context) {
	if t.interval <= 0 {
		return
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.emit()
		}
	}
}

func (t *Ticker) emit() {
	snapshot := t.collector.GetSnapshot()

	if t.jsonOutput {
		data, err := json.Marshal(snapshotJSON{
			Timestamp:           snapshot.Timestamp.UTC().Format(time.RFC3339),
			UptimeSeconds:       snapshot.Uptime.Seconds(),
			ConnectedClients:    snapshot.ConnectedClients,
			SessionsCreated:     snapshot.SessionsCreated,
			SessionsClosed:      snapshot.SessionsClosed,
			MessagesDispatched:  snapshot.MessagesDispatched,
			MessagesBroadcast:   snapshot.MessagesBroadcast,
			RateLimitDrops:      snapshot.RateLimitDrops,
			HandshakesInitiated: snapshot.HandshakesInitiated,
			HandshakesSucceeded: snapshot.HandshakesSucceeded,
			HandshakesFailed:    snapshot.HandshakesFailed,
			HandshakeSuccessPct: snapshot.HandshakeSuccessRate(),
		})
		if err != nil {
			t.log.Error("failed to marshal metrics snapshot", logger.Error(err))
			return
		}
		fmt.Fprintln(os.Stdout, string(data))
		return
	}

	t.log.Info("metrics snapshot",
		logger.Int("connected_clients", int(snapshot.ConnectedClients)),
		logger.Int("sessions_created", int(snapshot.SessionsCreated)),
		logger.Int("sessions_closed", int(snapshot.SessionsClosed)),
		logger.Int("messages_broadcast", int(snapshot.MessagesBroadcast)),
		logger.Int("rate_limit_drops", int(snapshot.RateLimitDrops)),
		logger.Any("handshake_success_pct", snapshot.HandshakeSuccessRate()),
		logger.Duration("uptime", snapshot.Uptime),
	)
}

type snapshotJSON struct {
	Timestamp           string  `json:"timestamp"`
	UptimeSeconds       float64 `json:"uptime_seconds"`
	ConnectedClients    int64   `json:"connected_clients"`
	SessionsCreated     int64   `json:"sessions_created"`
	SessionsClosed      int64   `json:"sessions_closed"`
	MessagesDispatched  int64   `json:"messages_dispatched"`
	MessagesBroadcast   int64   `json:"messages_broadcast"`
	RateLimitDrops      int64   `json:"rate_limit_drops"`
	HandshakesInitiated int64   `json:"handshakes_initiated"`
	HandshakesSucceeded int64   `json:"handshakes_succeeded"`
	HandshakesFailed    int64   `json:"handshakes_failed"`
	HandshakeSuccessPct float64 `json:"handshake_success_pct"`
}
