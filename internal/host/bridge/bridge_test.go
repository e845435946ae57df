package bridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dragonrift/encounter/internal/config"
	"github.com/dragonrift/encounter/internal/dispatcher"
	"github.com/dragonrift/encounter/pkg/core"
)

type recordingSink struct {
	mu      sync.Mutex
	signals []dispatcher.Signal
}

func (r *recordingSink) Dispatch(s dispatcher.Signal) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, s)
	return nil, nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals)
}

func (r *recordingSink) signal(i int) dispatcher.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.signals[i]
}

func testServer(t *testing.T, cfg config.HostConfig) (*Server, *recordingSink, *httptest.Server) {
	t.Helper()
	sink := &recordingSink{}
	s := NewServer(Dependencies{
		Cfg:    cfg,
		Sink:   sink,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Shutdown(context.Background())
		ts.Close()
	})
	return s, sink, ts
}

func dialHost(t *testing.T, ts *httptest.Server, secret string) *ws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/host"
	if secret != "" {
		url += "?secret=" + secret
	}
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitConnected(t *testing.T, s *Server) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !s.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("host link never came up")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEnvelope(t *testing.T, conn *ws.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	return env
}

func TestConnect_RequiresSecret(t *testing.T) {
	_, _, ts := testServer(t, config.HostConfig{Secret: "hunter2"})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/host"
	_, _, err := ws.DefaultDialer.Dial(url, nil)
	assert.Error(t, err, "missing secret must fail the handshake")

	_, _, err = ws.DefaultDialer.Dial(url+"?secret=wrong", nil)
	assert.Error(t, err)

	conn, _, err := ws.DefaultDialer.Dial(url+"?secret=hunter2", nil)
	require.NoError(t, err)
	conn.Close()
}

func TestSignal_RoutedToSink(t *testing.T) {
	s, sink, ts := testServer(t, config.HostConfig{})
	conn := dialHost(t, ts, "")
	waitConnected(t, s)

	payload, err := json.Marshal(signalPayload{
		Command: ":JOIN:",
		Args:    []string{"dragon_rift", "p1", "false"},
	})
	require.NoError(t, err)
	frame, err := json.Marshal(Envelope{Type: TypeSignal, Payload: payload})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(ws.TextMessage, frame))

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("signal never reached the sink")
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := sink.signal(0)
	assert.Equal(t, ":JOIN:", got.Command)
	assert.Equal(t, []string{"dragon_rift", "p1", "false"}, got.Args)
	assert.False(t, got.Timestamp.IsZero())
}

func TestSpawn_RoundTrip(t *testing.T) {
	s, _, ts := testServer(t, config.HostConfig{})
	conn := dialHost(t, ts, "")
	waitConnected(t, s)

	// Host side: answer the spawn request with the assigned entity id.
	go func() {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if json.Unmarshal(msg, &env) != nil || env.Type != TypeSpawn {
			return
		}
		ack, _ := json.Marshal(ackPayload{BossID: "wyrm_7"})
		out, _ := json.Marshal(Envelope{Type: TypeAck, Seq: env.Seq, Payload: ack})
		conn.WriteMessage(ws.TextMessage, out)
	}()

	boss, err := s.Spawn("elder_wyrm", core.Position3D{X: 900, Y: 900, Z: 10})
	require.NoError(t, err)
	assert.Equal(t, core.BossID("wyrm_7"), boss)
}

func TestSpawn_HostRejects(t *testing.T) {
	s, _, ts := testServer(t, config.HostConfig{})
	conn := dialHost(t, ts, "")
	waitConnected(t, s)

	go func() {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if json.Unmarshal(msg, &env) != nil {
			return
		}
		ack, _ := json.Marshal(ackPayload{Error: "template not found"})
		out, _ := json.Marshal(Envelope{Type: TypeAck, Seq: env.Seq, Payload: ack})
		conn.WriteMessage(ws.TextMessage, out)
	}()

	_, err := s.Spawn("no_such_template", core.Position3D{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "template not found")
}

func TestSpawn_Timeout(t *testing.T) {
	s, _, ts := testServer(t, config.HostConfig{SpawnTimeout: 100 * time.Millisecond})
	dialHost(t, ts, "")
	waitConnected(t, s)

	// The host never acknowledges.
	_, err := s.Spawn("elder_wyrm", core.Position3D{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestCommands_NoHostConnected(t *testing.T) {
	s, _, _ := testServer(t, config.HostConfig{})

	_, err := s.Spawn("elder_wyrm", core.Position3D{})
	assert.ErrorIs(t, err, ErrNoHost)

	err = s.ScheduleTeleport("p1", core.Position3D{X: 1}, 0)
	assert.ErrorIs(t, err, ErrNoHost)

	assert.ErrorIs(t, s.RunConsoleCommands([]string{"fog_on"}), ErrNoHost)
	assert.NoError(t, s.RunConsoleCommands(nil), "empty batch is a no-op")

	// Notifier calls swallow the outage.
	s.Broadcast(core.MsgJoinOpen, nil)
	s.SendStageMessage(core.StageBattle, core.PhaseStart, nil, nil)
}

func TestBroadcast_Delivered(t *testing.T) {
	s, _, ts := testServer(t, config.HostConfig{})
	conn := dialHost(t, ts, "")
	waitConnected(t, s)

	s.Broadcast(core.MsgJoinOpen, map[string]string{"event": "dragon_rift"})

	env := readEnvelope(t, conn)
	assert.Equal(t, TypeBroadcast, env.Type)

	var payload broadcastPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, core.MsgJoinOpen, payload.Kind)
	assert.Equal(t, "dragon_rift", payload.Placeholders["event"])
}

func TestConsoleAndTeleport_Delivered(t *testing.T) {
	s, _, ts := testServer(t, config.HostConfig{})
	conn := dialHost(t, ts, "")
	waitConnected(t, s)

	require.NoError(t, s.RunConsoleCommands([]string{"fog_on dragon_rift", "music battle"}))
	require.NoError(t, s.ScheduleTeleport("p1", core.Position3D{X: 600, Y: 600, Z: 32}, 2*time.Second))

	env := readEnvelope(t, conn)
	assert.Equal(t, TypeConsole, env.Type)
	var console consolePayload
	require.NoError(t, json.Unmarshal(env.Payload, &console))
	assert.Equal(t, []string{"fog_on dragon_rift", "music battle"}, console.Commands)

	env = readEnvelope(t, conn)
	assert.Equal(t, TypeTeleport, env.Type)
	var tp teleportPayload
	require.NoError(t, json.Unmarshal(env.Payload, &tp))
	assert.Equal(t, core.ParticipantID("p1"), tp.Participant)
	assert.Equal(t, int64(2000), tp.DelayMs)
}

func TestReconnect_ReplacesLink(t *testing.T) {
	s, _, ts := testServer(t, config.HostConfig{})
	old := dialHost(t, ts, "")
	waitConnected(t, s)

	replacement := dialHost(t, ts, "")
	waitConnected(t, s)

	// The stale link is closed server-side.
	old.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := old.ReadMessage()
	assert.Error(t, err)

	// Commands flow over the replacement.
	require.NoError(t, s.RunConsoleCommands([]string{"status"}))
	env := readEnvelope(t, replacement)
	assert.Equal(t, TypeConsole, env.Type)
}
