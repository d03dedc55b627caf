package gateway

import (
	"encoding/json"

	"github.com/hydrabase/realtime/internal/protocol"
	"github.com/hydrabase/realtime/internal/registry"
)

// route dispatches one inbound frame. Protocol violations answer the
// sender with an error frame and nothing else: the connection stays
// open and no other connection is affected.
func (s *Server) route(conn *registry.Conn, raw []byte) {
	msg, err := protocol.ParseClient(raw)
	if err != nil {
		conn.Send(protocol.Error(err.Error()))
		return
	}

	switch msg.Type {
	case protocol.KindSubscribe:
		s.handleSubscribe(conn, msg.Channel)
	case protocol.KindUnsubscribe:
		s.handleUnsubscribe(conn, msg.Channel)
	case protocol.KindBroadcast:
		s.handleBroadcast(conn, msg.Payload)
	case protocol.KindPresence:
		s.handlePresence(conn, msg.Channel, msg.Payload)
	case protocol.KindPing:
		conn.Send(protocol.Pong())
	}
}

func (s *Server) handleSubscribe(conn *registry.Conn, channel string) {
	s.idx.Subscribe(conn.ID, channel)
	conn.TrackChannel(channel)
	s.m.Channels.Set(float64(s.idx.Len()))
	conn.Send(protocol.Ack("subscribed", channel))
}

func (s *Server) handleUnsubscribe(conn *registry.Conn, channel string) {
	s.idx.Unsubscribe(conn.ID, channel)
	conn.UntrackChannel(channel)
	s.m.Channels.Set(float64(s.idx.Len()))
	conn.Send(protocol.Ack("unsubscribed", channel))
}

// handleBroadcast delivers to every other connection in the sender's
// tenant. The sender gets only the ack, never its own broadcast back.
func (s *Server) handleBroadcast(conn *registry.Conn, rawPayload json.RawMessage) {
	var payload protocol.BroadcastPayload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		conn.Send(protocol.Error("broadcast payload must be an object"))
		return
	}

	out := protocol.Broadcast(payload.Event, payload.Data, conn.UserID)
	s.reg.ForEachInTenant(conn.TenantID, func(other *registry.Conn) {
		if other.ID == conn.ID {
			return
		}
		if other.Send(out) {
			s.m.MessagesDelivered.Inc()
		} else {
			s.m.MessagesDropped.Inc()
		}
	})
	conn.Send(protocol.Ack("broadcast_sent", ""))
}

// handlePresence merges the update, syncs just the changed record to
// the channel, and answers the updater with the snapshot of its own
// tenant's records.
func (s *Server) handlePresence(conn *registry.Conn, channel string, rawPayload json.RawMessage) {
	var meta map[string]any
	if err := json.Unmarshal(rawPayload, &meta); err != nil {
		conn.Send(protocol.Error("presence payload must be an object"))
		return
	}

	rec := s.pres.Update(channel, conn.UserID, conn.TenantID, meta)
	s.hub.Publish(channel, conn.TenantID, protocol.PresenceEvent("sync", channel, rec))
	conn.Send(protocol.PresenceEvent("state", channel, s.pres.Snapshot(channel, conn.TenantID)))
}
