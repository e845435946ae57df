// Package stream serves the live lifecycle feed: a websocket endpoint that
// broadcasts escalation and completion events to any connected subscriber.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/dragonrift/encounter/internal/config"
)

const (
	clientChSize = 256
	writeWait    = 10 * time.Second
)

// Envelope is the wire format of one broadcast message.
type Envelope struct {
	Type    string          `json:"type"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

// Dependencies holds all dependencies needed by the stream server.
type Dependencies struct {
	Cfg    config.StreamConfig
	Logger *slog.Logger
}

// Server accepts websocket subscribers and fans published events out to
// them. Slow subscribers are dropped rather than allowed to stall the feed.
type Server struct {
	deps     Dependencies
	upgrader ws.Upgrader
	httpSrv  *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn   *ws.Conn
	sendCh chan []byte
	done   chan struct{}
}

// NewServer creates a stream server for the configured listen address.
func NewServer(deps Dependencies) *Server {
	s := &Server{
		deps: deps,
		upgrader: ws.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleSubscribe)
	s.httpSrv = &http.Server{Addr: deps.Cfg.ListenAddr, Handler: mux}
	return s
}

// Start begins serving. It returns once the listener stops.
func (s *Server) Start() error {
	s.deps.Logger.Info("stream server listening", "addr", s.deps.Cfg.ListenAddr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler exposes the subscribe endpoint for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Logger.Error("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		conn:   conn,
		sendCh: make(chan []byte, clientChSize),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()

	s.deps.Logger.Info("stream subscriber connected", "remote", r.RemoteAddr, "subscribers", count)
	go s.writeLoop(c)
	go s.readLoop(c)
}

// writeLoop is the single writer for one subscriber connection.
func (s *Server) writeLoop(c *client) {
	for {
		select {
		case msg, ok := <-c.sendCh:
			if !ok {
				c.conn.WriteControl(ws.CloseMessage,
					ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(writeWait))
				c.conn.Close()
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(ws.TextMessage, msg); err != nil {
				s.drop(c)
				return
			}
		case <-c.done:
			c.conn.Close()
			return
		}
	}
}

// readLoop discards inbound frames and notices disconnects.
func (s *Server) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			s.drop(c)
			return
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	if ok {
		delete(s.clients, c)
	}
	s.mu.Unlock()
	if ok {
		close(c.done)
		c.conn.Close()
	}
}

// Publish broadcasts one event to every subscriber. Marshal failures are
// logged and swallowed; the caller is on the signal path and must not fail.
func (s *Server) Publish(topic string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.deps.Logger.Error("stream payload marshal failed", "topic", topic, "error", err)
		return
	}
	data, err := json.Marshal(Envelope{Type: topic, Time: time.Now().UTC(), Payload: raw})
	if err != nil {
		s.deps.Logger.Error("stream envelope marshal failed", "topic", topic, "error", err)
		return
	}

	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		select {
		case c.sendCh <- data:
		default:
			s.deps.Logger.Warn("dropping slow stream subscriber", "topic", topic)
			s.drop(c)
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (s *Server) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Shutdown closes every subscriber and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()

	for _, c := range clients {
		close(c.sendCh)
	}
	return s.httpSrv.Shutdown(ctx)
}
