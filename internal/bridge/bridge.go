// Package bridge owns the single long-lived LISTEN session against the
// database and translates incoming notifications into socket messages.
//
// While the session is down the bridge reconnects with backoff and
// notifications are not delivered; there is no buffering or replay.
// Callers who need stronger guarantees must layer them on top.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hydrabase/realtime/internal/backoff"
	"github.com/hydrabase/realtime/internal/hub"
	"github.com/hydrabase/realtime/internal/metrics"
	"github.com/hydrabase/realtime/internal/protocol"
	"github.com/hydrabase/realtime/internal/subscription"
)

const (
	stateDisconnected int32 = iota
	stateConnected
	stateReconnecting
)

type command struct {
	channel string
}

type Bridge struct {
	dial        Dialer
	idx         *subscription.Index
	hub         *hub.Hub
	m           *metrics.Metrics
	log         *slog.Logger
	policy      backoff.Policy
	waitTimeout time.Duration

	cmds  chan command
	state atomic.Int32
}

func New(dial Dialer, idx *subscription.Index, h *hub.Hub, m *metrics.Metrics, log *slog.Logger, waitTimeout time.Duration, policy backoff.Policy) *Bridge {
	if waitTimeout <= 0 {
		waitTimeout = 250 * time.Millisecond
	}
	return &Bridge{
		dial:        dial,
		idx:         idx,
		hub:         h,
		m:           m,
		log:         log.With("component", "bridge"),
		policy:      policy,
		waitTimeout: waitTimeout,
		cmds:        make(chan command, 256),
	}
}

// ChannelActive implements subscription.ChannelListener: a channel
// gained its first subscriber.
func (b *Bridge) ChannelActive(channel string) {
	b.enqueue(channel)
}

// ChannelIdle implements subscription.ChannelListener: the last
// subscriber left.
func (b *Bridge) ChannelIdle(channel string) {
	b.enqueue(channel)
}

// enqueue queues a reconcile hint for the channel. While the session
// is down the hint is redundant (resync rebuilds from the index on
// reconnect), so a full buffer drops it rather than wedging
// subscribe/unsubscribe callers behind a database outage.
func (b *Bridge) enqueue(channel string) {
	if b.state.Load() != stateConnected {
		select {
		case b.cmds <- command{channel: channel}:
		default:
		}
		return
	}
	b.cmds <- command{channel: channel}
}

// State reports the session state for health and stats.
func (b *Bridge) State() string {
	switch b.state.Load() {
	case stateConnected:
		return "connected"
	case stateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Run drives the session until ctx is cancelled. On every
// (re)establishment it issues LISTEN for whatever the subscription
// index currently says is active, so recovery is idempotent no matter
// which commands were lost with the old session.
func (b *Bridge) Run(ctx context.Context) {
	attempt := 0
	for ctx.Err() == nil {
		conn, err := b.dial(ctx)
		if err != nil {
			attempt++
			if !b.retryWait(ctx, attempt, err) {
				return
			}
			continue
		}

		if err := b.resync(ctx, conn); err != nil {
			b.closeConn(conn)
			attempt++
			if !b.retryWait(ctx, attempt, err) {
				return
			}
			continue
		}

		attempt = 0
		b.state.Store(stateConnected)
		b.log.Info("listen session established", "channels", len(b.idx.ActiveChannels()))

		err = b.serve(ctx, conn)
		b.closeConn(conn)
		if ctx.Err() != nil {
			b.state.Store(stateDisconnected)
			return
		}

		b.state.Store(stateReconnecting)
		b.m.BridgeReconnects.Inc()
		b.log.Warn("listen session lost", "error", err)
	}
}

func (b *Bridge) retryWait(ctx context.Context, attempt int, cause error) bool {
	b.state.Store(stateReconnecting)
	delay := b.policy.Duration(attempt)
	b.log.Error("listen session unavailable", "error", cause, "attempt", attempt, "retry_in", delay)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			b.state.Store(stateDisconnected)
			return false
		case <-b.cmds:
			// Stale while down; resync rebuilds from the index.
		case <-timer.C:
			return true
		}
	}
}

func (b *Bridge) resync(ctx context.Context, conn ListenConn) error {
	for _, ch := range b.idx.ActiveChannels() {
		if err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) serve(ctx context.Context, conn ListenConn) error {
	for {
		if err := b.drainCommands(ctx, conn); err != nil {
			return err
		}

		waitCtx, cancel := context.WithTimeout(ctx, b.waitTimeout)
		n, err := conn.WaitForNotification(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				// Just a poll interval expiring; lets queued
				// listen/unlisten commands interleave with the wait.
				continue
			}
			return err
		}
		b.dispatch(n.Channel, []byte(n.Payload))
	}
}

// drainCommands reconciles hinted channels against the index. The verb
// is resolved here, not when the hint was queued: a last-unsubscribe
// racing a first-subscribe can hand the bridge its transitions out of
// order, and only current membership says whether the session should
// be listening.
func (b *Bridge) drainCommands(ctx context.Context, conn ListenConn) error {
	for {
		select {
		case cmd := <-b.cmds:
			verb := "UNLISTEN "
			if len(b.idx.Members(cmd.channel)) > 0 {
				verb = "LISTEN "
			}
			if err := conn.Exec(ctx, verb+pgx.Identifier{cmd.channel}.Sanitize()); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// dispatch parses a raw notification and fans it out to the channel's
// subscribers, filtered by tenant. Returns the number of connections
// the message was queued for.
func (b *Bridge) dispatch(channel string, payload []byte) int {
	b.m.NotificationsReceived.Inc()
	env := protocol.ParseEnvelope(channel, payload)
	return b.hub.Publish(channel, env.TenantID, protocol.PostgresChange(env))
}

// Inject synthesizes a notification and routes it exactly as if it had
// arrived from the database stream. This is the HTTP trigger path other
// services use instead of writing to the database.
func (b *Bridge) Inject(channel string, data json.RawMessage, tenantID string) int {
	env := map[string]any{
		"event":     "notify",
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if tenantID != "" {
		env["tenantId"] = tenantID
	}
	payload, _ := json.Marshal(env)
	return b.dispatch(channel, payload)
}

func (b *Bridge) closeConn(conn ListenConn) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = conn.Close(ctx)
}
