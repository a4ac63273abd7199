package websocket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JokerTrickster/unity-dice-sub000/internal/domain"
	"github.com/JokerTrickster/unity-dice-sub000/internal/transport/websocket"
)

func testConfig(serverURL string) *websocket.Config {
	return &websocket.Config{
		ServerURL:            serverURL,
		HandshakeTimeout:     2 * time.Second,
		WriteTimeout:         2 * time.Second,
		PongWait:             10 * time.Second,
		MaxReconnectAttempts: 2,
		ReconnectSchedule:    []time.Duration{10 * time.Millisecond},
	}
}

// echoServer upgrades inbound connections, records the handshake request and
// echoes every text frame back.
type echoServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []*http.Request
	inbound  []string
	conns    []*gws.Conn
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	s := &echoServer{}
	upgrader := gws.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Clone(context.Background()))
		s.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.inbound = append(s.inbound, string(data))
			s.mu.Unlock()
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Server.Close)
	return s
}

func (s *echoServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *echoServer) lastRequest() *http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	return s.requests[len(s.requests)-1]
}

// dropConns closes the upgraded websocket connections to simulate a
// server-side drop; httptest's CloseClientConnections skips hijacked conns.
func (s *echoServer) dropConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func (s *echoServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.inbound...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestNewClientPanicsOnBadConfig(t *testing.T) {
	assert.Panics(t, func() { websocket.NewClient(nil, websocket.Events{}, nil) })
	assert.Panics(t, func() {
		websocket.NewClient(&websocket.Config{ServerURL: "http://not-ws"}, websocket.Events{}, nil)
	})
	assert.Panics(t, func() {
		cfg := testConfig("ws://localhost:1")
		cfg.ReconnectSchedule = nil
		websocket.NewClient(cfg, websocket.Events{}, nil)
	})
}

func TestConfigValidate(t *testing.T) {
	var nilCfg *websocket.Config
	assert.ErrorIs(t, nilCfg.Validate(), domain.ErrNilConfig)

	cfg := testConfig("ws://localhost:9000")
	require.NoError(t, cfg.Validate())

	cfg.ServerURL = "ftp://host"
	assert.Error(t, cfg.Validate())

	cfg = testConfig("ws://localhost:9000")
	cfg.PongWait = 0
	assert.Error(t, cfg.Validate())
}

func TestSendMessageBuffersWhileDisconnected(t *testing.T) {
	c := websocket.NewClient(testConfig("ws://localhost:1"), websocket.Events{}, nil)
	defer c.Dispose()

	assert.False(t, c.SendMessage("", domain.PriorityNormal))
	assert.True(t, c.SendMessage("hello", domain.PriorityNormal))
	assert.Equal(t, 1, c.QueuedCount())
	assert.False(t, c.IsConnected())
}

func TestSendMessageAfterDispose(t *testing.T) {
	c := websocket.NewClient(testConfig("ws://localhost:1"), websocket.Events{}, nil)
	c.Dispose()
	c.Dispose() // idempotent

	assert.False(t, c.SendMessage("late", domain.PriorityNormal))
}

func TestCustomHeaders(t *testing.T) {
	srv := newEchoServer(t)
	c := websocket.NewClient(testConfig(srv.wsURL()), websocket.Events{}, nil)
	defer c.Dispose()

	c.AddCustomHeader("", "dropped")
	c.AddCustomHeader("X-Client-Build", "1042")
	c.AddCustomHeader("X-Device", "editor")
	c.RemoveCustomHeader("X-Device")

	require.NoError(t, c.ConnectAsync(context.Background()))

	req := srv.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "1042", req.Header.Get("X-Client-Build"))
	assert.Empty(t, req.Header.Get("X-Device"))
}

func TestAuthTokenOnHandshake(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "player-7",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	srv := newEchoServer(t)
	c := websocket.NewClient(testConfig(srv.wsURL()), websocket.Events{}, nil)
	defer c.Dispose()

	c.SetAuthToken(token)
	assert.Equal(t, "player-7", c.TokenPlayerID())

	require.NoError(t, c.ConnectAsync(context.Background()))
	req := srv.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "Bearer "+token, req.Header.Get("Authorization"))
}

func TestOpaqueTokenStillSent(t *testing.T) {
	c := websocket.NewClient(testConfig("ws://localhost:1"), websocket.Events{}, nil)
	defer c.Dispose()

	c.SetAuthToken("not-a-jwt")
	assert.Empty(t, c.TokenPlayerID())

	c.SetAuthToken("")
	assert.Empty(t, c.TokenPlayerID())
}

func TestRoundTripThroughEchoServer(t *testing.T) {
	srv := newEchoServer(t)

	var mu sync.Mutex
	var received []string
	var connEvents []bool
	c := websocket.NewClient(testConfig(srv.wsURL()), websocket.Events{
		OnConnectionChanged: func(connected bool) {
			mu.Lock()
			connEvents = append(connEvents, connected)
			mu.Unlock()
		},
		OnMessageReceived: func(text string) {
			mu.Lock()
			received = append(received, text)
			mu.Unlock()
		},
	}, nil)
	defer c.Dispose()

	// Queued before the socket exists, flushed right after connect.
	require.True(t, c.SendMessage("early", domain.PriorityNormal))
	require.NoError(t, c.ConnectAsync(context.Background()))
	require.True(t, c.IsConnected())
	require.True(t, c.SendMessage("after", domain.PriorityNormal))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	})

	mu.Lock()
	assert.Equal(t, []string{"early", "after"}, received)
	assert.Equal(t, []bool{true}, connEvents)
	mu.Unlock()
	assert.Equal(t, []string{"early", "after"}, srv.received())
}

func TestDisconnectStopsDelivery(t *testing.T) {
	srv := newEchoServer(t)
	c := websocket.NewClient(testConfig(srv.wsURL()), websocket.Events{}, nil)
	defer c.Dispose()

	require.NoError(t, c.ConnectAsync(context.Background()))
	require.NoError(t, c.DisconnectAsync(context.Background()))
	assert.False(t, c.IsConnected())
	assert.Equal(t, domain.ConnDisconnected, c.CurrentState())

	// Accepted but buffered; no socket to flush through.
	require.True(t, c.SendMessage("held", domain.PriorityNormal))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, c.QueuedCount())
}

func TestReconnectAfterServerDrop(t *testing.T) {
	srv := newEchoServer(t)

	var mu sync.Mutex
	var progress []int
	c := websocket.NewClient(testConfig(srv.wsURL()), websocket.Events{
		OnReconnectProgress: func(attempt, _ int) {
			mu.Lock()
			progress = append(progress, attempt)
			mu.Unlock()
		},
	}, nil)
	defer c.Dispose()

	require.NoError(t, c.ConnectAsync(context.Background()))

	srv.dropConns()
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(progress) > 0
	})
	waitFor(t, func() bool { return c.IsConnected() })

	mu.Lock()
	assert.NotEmpty(t, progress)
	mu.Unlock()
}

func TestReconnectGivesUpWhenServerGone(t *testing.T) {
	srv := newEchoServer(t)
	url := srv.wsURL()
	srv.Close()

	var maxReached []int
	var mu sync.Mutex
	c := websocket.NewClient(testConfig(url), websocket.Events{
		OnMaxAttemptsReached: func(attempts int) {
			mu.Lock()
			maxReached = append(maxReached, attempts)
			mu.Unlock()
		},
	}, nil)
	defer c.Dispose()

	require.Error(t, c.ConnectAsync(context.Background()))
	waitFor(t, func() bool { return c.CurrentState() == domain.ConnFailed })

	assert.False(t, c.IsReconnecting())
	assert.Equal(t, 2, c.CurrentReconnectAttempt())
	mu.Lock()
	assert.Equal(t, []int{2}, maxReached)
	mu.Unlock()
}
