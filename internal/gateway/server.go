// Package gateway exposes the session event stream to WebSocket
// subscribers and serves the subscribe/unsubscribe RPC surface.
package gateway

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/firezap/firezap/internal/broadcast"
	"github.com/firezap/firezap/internal/session"
	"github.com/firezap/firezap/pkg/protocol"
)

// Server owns all live WebSocket clients.
type Server struct {
	token       string
	registry    *session.Registry
	broadcaster *broadcast.Broadcaster
	router      *MethodRouter
	limiter     *RateLimiter
	upgrader    websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*Client
}

// NewServer creates the gateway. token may be empty to disable auth.
// ratePerMinute limits connection attempts per remote address.
func NewServer(token string, ratePerMinute, burst int, registry *session.Registry, broadcaster *broadcast.Broadcaster) *Server {
	s := &Server{
		token:       token,
		registry:    registry,
		broadcaster: broadcaster,
		limiter:     NewRateLimiter(ratePerMinute, burst),
		clients:     make(map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.router = NewMethodRouter(s)
	return s
}

// HandleWS upgrades an HTTP request to a gateway connection and blocks
// until the client disconnects.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(r.RemoteAddr) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s)
	s.addClient(client)
	defer s.removeClient(client)

	client.Run(r.Context())
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Shutdown notifies all clients and closes their connections.
func (s *Server) Shutdown() {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[string]*Client)
	s.mu.Unlock()

	frame := protocol.NewEvent(protocol.EventShutdown, nil)
	for _, c := range clients {
		c.SendEvent(*frame)
		c.Close()
	}
}

func (s *Server) addClient(c *Client) {
	s.mu.Lock()
	s.clients[c.ID()] = c
	s.mu.Unlock()
	slog.Debug("gateway client connected", "client", c.ID())
}

func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	_, present := s.clients[c.ID()]
	delete(s.clients, c.ID())
	s.mu.Unlock()

	s.broadcaster.DropSubscriber(c.ID())
	if present {
		c.Close()
	}
	slog.Debug("gateway client disconnected", "client", c.ID())
}
