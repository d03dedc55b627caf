// Package gateway owns the websocket surface: handshake auth, one
// read/write pump pair per connection, and the full cleanup path that
// runs synchronously when a socket closes.
package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hydrabase/realtime/internal/auth"
	"github.com/hydrabase/realtime/internal/hub"
	"github.com/hydrabase/realtime/internal/metrics"
	"github.com/hydrabase/realtime/internal/presence"
	"github.com/hydrabase/realtime/internal/protocol"
	"github.com/hydrabase/realtime/internal/registry"
	"github.com/hydrabase/realtime/internal/subscription"
)

const writeWait = 10 * time.Second

type Options struct {
	SendBuffer      int
	MaxMessageBytes int64
	PingInterval    time.Duration
	// IdleTimeout closes connections with no inbound traffic. Zero
	// disables it; the protocol never requires clients to ping.
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

type Server struct {
	verifier *auth.Verifier
	reg      *registry.Registry
	idx      *subscription.Index
	pres     *presence.Tracker
	hub      *hub.Hub
	m        *metrics.Metrics
	log      *slog.Logger
	opts     Options
	upgrader websocket.Upgrader
}

func NewServer(verifier *auth.Verifier, reg *registry.Registry, idx *subscription.Index, pres *presence.Tracker, h *hub.Hub, m *metrics.Metrics, log *slog.Logger, opts Options) *Server {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 1 << 20
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}

	s := &Server{
		verifier: verifier,
		reg:      reg,
		idx:      idx,
		pres:     pres,
		hub:      h,
		m:        m,
		log:      log.With("component", "gateway"),
		opts:     opts,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.opts.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// ServeHTTP handles the socket handshake. Auth runs exactly once, before
// the connection exists anywhere; a rejected credential never leaves a
// trace in the registry.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := s.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := registry.NewConn(claims, s.opts.SendBuffer)
	s.reg.Add(conn)
	s.m.Connections.Inc()
	s.log.Info("client connected",
		"connection", conn.ID, "user", conn.UserID, "tenant", conn.TenantID)

	conn.Send(protocol.Connected(conn.ID))

	go s.writePump(sock, conn)
	s.readPump(sock, conn)

	// Socket closed: full cleanup before this handler returns, so no
	// fan-out can observe a ghost subscriber.
	s.removeConnection(conn)
}

func (s *Server) readPump(sock *websocket.Conn, conn *registry.Conn) {
	sock.SetReadLimit(s.opts.MaxMessageBytes)
	if s.opts.IdleTimeout > 0 {
		_ = sock.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		sock.SetPongHandler(func(string) error {
			return sock.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		})
	}

	for {
		messageType, data, err := sock.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.route(conn, data)
	}
}

func (s *Server) writePump(sock *websocket.Conn, conn *registry.Conn) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	defer sock.Close()

	for {
		select {
		case <-conn.Done():
			_ = sock.SetWriteDeadline(time.Now().Add(writeWait))
			_ = sock.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-conn.Outbox():
			_ = sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sock.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// removeConnection is the single cleanup path. Order matters: channel
// subscriptions first (driving reference-count cleanup), then presence,
// then the registry entry itself.
func (s *Server) removeConnection(conn *registry.Conn) {
	for _, ch := range conn.Channels() {
		s.idx.Unsubscribe(conn.ID, ch)
		conn.UntrackChannel(ch)
	}

	if !s.reg.UserHasOtherConns(conn.UserID, conn.TenantID, conn.ID) {
		for _, ch := range s.pres.RemoveUser(conn.UserID, conn.TenantID) {
			s.hub.Publish(ch, conn.TenantID,
				protocol.PresenceEvent("leave", ch, map[string]string{"userId": conn.UserID}))
		}
	}

	s.reg.Remove(conn.ID)
	conn.Close()
	s.m.Connections.Dec()
	s.m.Channels.Set(float64(s.idx.Len()))
	s.log.Info("client disconnected", "connection", conn.ID, "user", conn.UserID)
}
