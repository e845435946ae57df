// Package bridge is the wire attachment point for the game host. The host
// dials in over a websocket and keeps a single long-lived link: inbound
// frames carry raw signal callbacks that are fed to the dispatcher, outbound
// frames carry world commands. Spawns are request/acknowledge so the caller
// gets the entity id the host assigned; everything else is fire-and-forget.
package bridge

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/dragonrift/encounter/internal/config"
	"github.com/dragonrift/encounter/internal/dispatcher"
	"github.com/dragonrift/encounter/pkg/core"
)

const (
	sendChSize          = 4096
	writeWait           = 10 * time.Second
	defaultSpawnTimeout = 10 * time.Second
)

// Frame types on the host link.
const (
	TypeSpawn        = "spawn"
	TypeTeleport     = "teleport"
	TypeStageMessage = "stage_message"
	TypeBroadcast    = "broadcast"
	TypeConsole      = "console"
	TypeSignal       = "signal"
	TypeAck          = "ack"
)

// ErrNoHost is returned when a command is issued while no host is linked.
var ErrNoHost = errors.New("no host connected")

// Envelope is the framing for every message in both directions. Seq is only
// set on spawn requests and their acks.
type Envelope struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type spawnPayload struct {
	Template string          `json:"template"`
	Pos      core.Position3D `json:"pos"`
}

type teleportPayload struct {
	Participant core.ParticipantID `json:"participant"`
	Pos         core.Position3D    `json:"pos"`
	DelayMs     int64              `json:"delayMs"`
}

type stageMessagePayload struct {
	Stage        string               `json:"stage"`
	Phase        core.StagePhase      `json:"phase"`
	Participants []core.ParticipantID `json:"participants"`
	Placeholders map[string]string    `json:"placeholders,omitempty"`
}

type broadcastPayload struct {
	Kind         core.MessageKind  `json:"kind"`
	Placeholders map[string]string `json:"placeholders,omitempty"`
}

type consolePayload struct {
	Commands []string `json:"commands"`
}

type signalPayload struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

type ackPayload struct {
	BossID string `json:"bossId,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SignalSink receives inbound host callbacks.
type SignalSink interface {
	Dispatch(dispatcher.Signal) (any, error)
}

// Dependencies holds all dependencies needed by the bridge.
type Dependencies struct {
	Cfg    config.HostConfig
	Sink   SignalSink
	Logger *slog.Logger
}

// Server accepts the host link and implements the world-command interfaces
// on top of it. At most one link is active; a reconnecting host replaces the
// previous link.
type Server struct {
	deps     Dependencies
	upgrader ws.Upgrader
	httpSrv  *http.Server

	mu     sync.Mutex
	active *link
	closed bool

	nextSeq   atomic.Uint64
	pendingMu sync.Mutex
	pending   map[uint64]chan ackPayload
}

type link struct {
	conn   *ws.Conn
	sendCh chan []byte
	done   chan struct{}
}

// NewServer creates a host link server for the configured listen address.
func NewServer(deps Dependencies) *Server {
	s := &Server{
		deps: deps,
		upgrader: ws.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pending: make(map[uint64]chan ackPayload),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/host", s.handleConnect)
	s.httpSrv = &http.Server{Addr: deps.Cfg.ListenAddr, Handler: mux}
	return s
}

// Start begins serving. It returns once the listener stops.
func (s *Server) Start() error {
	s.deps.Logger.Info("host link listening", "addr", s.deps.Cfg.ListenAddr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler exposes the connect endpoint for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Connected reports whether a host link is currently up.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cfg.Secret != "" {
		got := r.URL.Query().Get("secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.deps.Cfg.Secret)) != 1 {
			s.deps.Logger.Warn("host link rejected, bad secret", "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Logger.Error("host link upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	l := &link{
		conn:   conn,
		sendCh: make(chan []byte, sendChSize),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	prev := s.active
	s.active = l
	s.mu.Unlock()

	// A host that restarted dials back in; the stale link just dies.
	if prev != nil {
		s.deps.Logger.Warn("host link replaced", "remote", r.RemoteAddr)
		close(prev.done)
		prev.conn.Close()
	} else {
		s.deps.Logger.Info("host link established", "remote", r.RemoteAddr)
	}

	go s.writeLoop(l)
	go s.readLoop(l)
}

// writeLoop is the single writer for the link connection.
func (s *Server) writeLoop(l *link) {
	for {
		select {
		case data := <-l.sendCh:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(ws.TextMessage, data); err != nil {
				s.deps.Logger.Warn("host link write error", "error", err)
				s.dropLink(l)
				return
			}
		case <-l.done:
			l.conn.Close()
			return
		}
	}
}

// readLoop consumes inbound frames: signal callbacks go to the sink, acks
// are routed to the spawn call waiting on them.
func (s *Server) readLoop(l *link) {
	for {
		_, message, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case <-l.done:
			default:
				s.deps.Logger.Warn("host link read error", "error", err)
			}
			s.dropLink(l)
			return
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.deps.Logger.Warn("host link bad frame", "error", err)
			continue
		}

		switch env.Type {
		case TypeSignal:
			var sig signalPayload
			if err := json.Unmarshal(env.Payload, &sig); err != nil {
				s.deps.Logger.Warn("host signal decode failed", "error", err)
				continue
			}
			if _, err := s.deps.Sink.Dispatch(dispatcher.Signal{
				Command:   sig.Command,
				Args:      sig.Args,
				Timestamp: time.Now(),
			}); err != nil {
				s.deps.Logger.Warn("host signal dispatch failed",
					"command", sig.Command, "error", err)
			}
		case TypeAck:
			var ack ackPayload
			if len(env.Payload) > 0 {
				if err := json.Unmarshal(env.Payload, &ack); err != nil {
					s.deps.Logger.Warn("host ack decode failed", "error", err)
					continue
				}
			}
			s.resolveAck(env.Seq, ack)
		default:
			s.deps.Logger.Debug("host frame ignored", "type", env.Type)
		}
	}
}

func (s *Server) resolveAck(seq uint64, ack ackPayload) {
	s.pendingMu.Lock()
	ch, ok := s.pending[seq]
	s.pendingMu.Unlock()
	if !ok {
		s.deps.Logger.Debug("ack for unknown seq", "seq", seq)
		return
	}
	select {
	case ch <- ack:
	default:
	}
}

func (s *Server) dropLink(l *link) {
	s.mu.Lock()
	current := s.active == l
	if current {
		s.active = nil
	}
	s.mu.Unlock()
	if current {
		close(l.done)
		l.conn.Close()
		s.deps.Logger.Info("host link lost")
	}
}

func (s *Server) current() *link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func marshalEnvelope(msgType string, seq uint64, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(Envelope{Type: msgType, Seq: seq, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope pushes a fire-and-forget frame onto the link.
func (s *Server) sendEnvelope(msgType string, payload any) error {
	l := s.current()
	if l == nil {
		return ErrNoHost
	}
	data, err := marshalEnvelope(msgType, 0, payload)
	if err != nil {
		return err
	}
	select {
	case l.sendCh <- data:
		return nil
	default:
		return fmt.Errorf("host send queue full, dropping %s", msgType)
	}
}

// Spawn asks the host to create an entity and waits for the assigned id.
func (s *Server) Spawn(templateID string, pos core.Position3D) (core.BossID, error) {
	l := s.current()
	if l == nil {
		return "", ErrNoHost
	}

	seq := s.nextSeq.Add(1)
	ch := make(chan ackPayload, 1)
	s.pendingMu.Lock()
	s.pending[seq] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, seq)
		s.pendingMu.Unlock()
	}()

	data, err := marshalEnvelope(TypeSpawn, seq, spawnPayload{Template: templateID, Pos: pos})
	if err != nil {
		return "", err
	}
	select {
	case l.sendCh <- data:
	default:
		return "", errors.New("host send queue full, dropping spawn")
	}

	timeout := s.deps.Cfg.SpawnTimeout
	if timeout <= 0 {
		timeout = defaultSpawnTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack := <-ch:
		if ack.Error != "" {
			return "", fmt.Errorf("host rejected spawn of %q: %s", templateID, ack.Error)
		}
		if ack.BossID == "" {
			return "", fmt.Errorf("spawn ack for %q carried no entity id", templateID)
		}
		return core.BossID(ack.BossID), nil
	case <-timer.C:
		return "", fmt.Errorf("timeout waiting for spawn ack of %q", templateID)
	case <-l.done:
		return "", errors.New("host disconnected while waiting for spawn ack")
	}
}

// ScheduleTeleport queues a participant move on the host.
func (s *Server) ScheduleTeleport(p core.ParticipantID, pos core.Position3D, delay time.Duration) error {
	return s.sendEnvelope(TypeTeleport, teleportPayload{
		Participant: p,
		Pos:         pos,
		DelayMs:     delay.Milliseconds(),
	})
}

// SendStageMessage delivers a stage transition message to the listed
// participants. The host owns template rendering; a link outage only logs.
func (s *Server) SendStageMessage(stage core.StageKey, phase core.StagePhase, participants []core.ParticipantID, placeholders map[string]string) {
	err := s.sendEnvelope(TypeStageMessage, stageMessagePayload{
		Stage:        stage.String(),
		Phase:        phase,
		Participants: participants,
		Placeholders: placeholders,
	})
	if err != nil {
		s.deps.Logger.Warn("stage message not delivered",
			"stage", stage, "phase", phase, "error", err)
	}
}

// Broadcast delivers a server-wide message.
func (s *Server) Broadcast(kind core.MessageKind, placeholders map[string]string) {
	if err := s.sendEnvelope(TypeBroadcast, broadcastPayload{Kind: kind, Placeholders: placeholders}); err != nil {
		s.deps.Logger.Warn("broadcast not delivered", "kind", kind, "error", err)
	}
}

// RunConsoleCommands executes a command batch on the host console.
func (s *Server) RunConsoleCommands(commands []string) error {
	if len(commands) == 0 {
		return nil
	}
	return s.sendEnvelope(TypeConsole, consolePayload{Commands: commands})
}

// Shutdown closes the active link and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	l := s.active
	s.active = nil
	s.mu.Unlock()

	if l != nil {
		close(l.done)
		l.conn.Close()
	}
	return s.httpSrv.Shutdown(ctx)
}
