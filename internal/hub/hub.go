// Package hub fans messages out to a channel's subscribers. It is
// best-effort broadcast over bounded per-connection buffers: a slow or
// mid-close socket drops its copy and never stalls the loop.
package hub

import (
	"log/slog"

	"github.com/hydrabase/realtime/internal/metrics"
	"github.com/hydrabase/realtime/internal/registry"
	"github.com/hydrabase/realtime/internal/subscription"
)

type Hub struct {
	reg *registry.Registry
	idx *subscription.Index
	m   *metrics.Metrics
	log *slog.Logger
}

func New(reg *registry.Registry, idx *subscription.Index, m *metrics.Metrics, log *slog.Logger) *Hub {
	return &Hub{reg: reg, idx: idx, m: m, log: log.With("component", "hub")}
}

// Publish delivers msg to every subscriber of channel whose tenant
// matches. An empty tenantID addresses all tenants on the channel.
// Returns the number of connections the message was queued for.
func (h *Hub) Publish(channel, tenantID string, msg []byte) int {
	delivered := 0
	for _, connID := range h.idx.Members(channel) {
		c, ok := h.reg.Get(connID)
		if !ok {
			// Subscriber mid-removal; skip rather than abort the loop.
			continue
		}
		if tenantID != "" && c.TenantID != tenantID {
			continue
		}
		if c.Send(msg) {
			delivered++
			h.m.MessagesDelivered.Inc()
		} else {
			h.m.MessagesDropped.Inc()
			h.log.Warn("dropped message for slow consumer",
				"channel", channel, "connection", connID)
		}
	}
	return delivered
}
