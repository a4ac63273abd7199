// Package websocket is the transport facade: it composes the connection
// manager, the outbound message queue and auth/header state into a single
// client object speaking the matching wire protocol over gorilla/websocket.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JokerTrickster/unity-dice-sub000/internal/connection"
	"github.com/JokerTrickster/unity-dice-sub000/internal/domain"
	"github.com/JokerTrickster/unity-dice-sub000/internal/protocol"
	"github.com/JokerTrickster/unity-dice-sub000/internal/queue"
)

// Config is the validated transport configuration. Constructing a client
// with a nil or invalid config is a programming error and panics.
type Config struct {
	ServerURL string

	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	PongWait          time.Duration
	HeartbeatInterval time.Duration

	MaxReconnectAttempts int
	ReconnectSchedule    []time.Duration

	SendRetryLimit int
}

// Validate reports the first problem that makes the config unusable.
func (c *Config) Validate() error {
	if c == nil {
		return domain.ErrNilConfig
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("server url %q is not a valid ws/wss URL", c.ServerURL)
	}
	if c.HandshakeTimeout <= 0 || c.WriteTimeout <= 0 || c.PongWait <= 0 {
		return fmt.Errorf("transport timeouts must be positive")
	}
	if len(c.ReconnectSchedule) == 0 {
		return fmt.Errorf("reconnect schedule must not be empty")
	}
	return nil
}

// Events are the only outward signals of the transport. Handlers run on
// client goroutines and must not block.
type Events struct {
	OnConnectionChanged  func(connected bool)
	OnMessageReceived    func(text string)
	OnError              func(text string)
	OnReconnectProgress  func(attempt, maxAttempts int)
	OnReconnectFailed    func(attempt int, err error)
	OnMaxAttemptsReached func(attempts int)
}

// Client is the transport facade.
type Client struct {
	cfg    Config
	events Events
	log    *zap.Logger

	connMgr *connection.Manager
	queue   *queue.Queue

	mu            sync.Mutex
	conn          *gws.Conn
	readDone      chan struct{}
	heartbeatStop chan struct{}
	authToken     string
	tokenPlayerID string
	headers       http.Header
	disposed      bool
}

// NewClient builds the facade. The configuration is assumed validated by the
// caller; nil or invalid config panics, distinguishing programmer error from
// runtime network failure.
func NewClient(cfg *Config, events Events, log *zap.Logger) *Client {
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("websocket client misconfigured: %v", err))
	}
	if log == nil {
		log = zap.NewNop()
	}

	c := &Client{
		cfg:     *cfg,
		events:  events,
		log:     log.With(zap.String("comp", "ws")),
		headers: make(http.Header),
	}

	c.queue = queue.NewQueue(queue.Config{RetryLimit: cfg.SendRetryLimit}, log)
	c.connMgr = connection.NewManager(
		connection.Config{
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			ReconnectSchedule:    cfg.ReconnectSchedule,
		},
		connection.Funcs{
			Connect:     c.dial,
			Disconnect:  c.closeConn,
			Send:        c.writeMessage,
			IsConnected: c.hasConn,
		},
		connection.Callbacks{
			OnStateChanged:       c.handleStateChanged,
			OnReconnectProgress:  events.OnReconnectProgress,
			OnReconnectFailed:    events.OnReconnectFailed,
			OnMaxAttemptsReached: events.OnMaxAttemptsReached,
		},
		log,
	)
	c.queue.StartProcessing()
	return c
}

// SetAuthToken stores the bearer token applied on the next connect. The token
// is parsed unverified to surface the player identity and warn on expiry;
// verification belongs to the server.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	c.authToken = token
	c.tokenPlayerID = ""
	c.mu.Unlock()
	if token == "" {
		return
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		c.log.Warn("auth token is not a parseable JWT", zap.Error(err))
		return
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(time.Now()) {
		c.log.Warn("auth token is already expired", zap.Time("expired_at", exp.Time))
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		c.mu.Lock()
		c.tokenPlayerID = sub
		c.mu.Unlock()
	}
}

// TokenPlayerID returns the subject claim of the current auth token, if any.
func (c *Client) TokenPlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenPlayerID
}

// AddCustomHeader registers a header applied on the next connect. Empty keys
// are logged and ignored, never fatal.
func (c *Client) AddCustomHeader(key, value string) {
	if key == "" {
		c.log.Warn("ignoring custom header with empty key")
		return
	}
	c.mu.Lock()
	c.headers.Set(key, value)
	c.mu.Unlock()
}

// RemoveCustomHeader drops a previously added header.
func (c *Client) RemoveCustomHeader(key string) {
	if key == "" {
		return
	}
	c.mu.Lock()
	c.headers.Del(key)
	c.mu.Unlock()
}

// SendMessage accepts text into the outbound queue. It succeeds even while
// disconnected; the queue buffers until a connection exists. Empty text and
// disposed clients are rejected.
func (c *Client) SendMessage(text string, priority domain.MessagePriority) bool {
	if text == "" {
		c.log.Warn("rejecting empty outbound message")
		return false
	}
	c.mu.Lock()
	disposed := c.disposed
	c.mu.Unlock()
	if disposed {
		return false
	}
	return c.queue.EnqueueMessage(text, priority)
}

// ConnectAsync establishes the connection through the connection manager.
func (c *Client) ConnectAsync(ctx context.Context) error {
	return c.connMgr.ConnectAsync(ctx)
}

// DisconnectAsync tears the connection down and stops any reconnection loop.
func (c *Client) DisconnectAsync(ctx context.Context) error {
	return c.connMgr.DisconnectAsync(ctx)
}

// StartReconnection exposes the reconnection loop for external triggers such
// as application resume.
func (c *Client) StartReconnection() {
	c.connMgr.StartReconnection()
}

// StopReconnection cancels any in-flight reconnection loop.
func (c *Client) StopReconnection() {
	c.connMgr.StopReconnection()
}

// State observers, pass-throughs to the connection manager.

func (c *Client) CurrentState() domain.ConnectionState { return c.connMgr.CurrentState() }
func (c *Client) IsConnected() bool                    { return c.connMgr.IsConnected() }
func (c *Client) IsReconnecting() bool                 { return c.connMgr.IsReconnecting() }
func (c *Client) CurrentReconnectAttempt() int         { return c.connMgr.CurrentReconnectAttempt() }

// QueuedCount reports outbound messages not yet sent.
func (c *Client) QueuedCount() int { return c.queue.QueuedCount() }

// Dispose is idempotent. After it returns, SendMessage fails and no further
// transport activity occurs.
func (c *Client) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.mu.Unlock()

	c.connMgr.StopReconnection()
	_ = c.connMgr.DisconnectAsync(context.Background())
	c.connMgr.Close()
	c.queue.Dispose()
	c.log.Info("client disposed")
}

// dial opens the websocket, applying auth and custom headers, and starts the
// read pump and heartbeat loop.
func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return domain.ErrDisposed
	}
	header := make(http.Header)
	for k, vs := range c.headers {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	if c.authToken != "" {
		header.Set("Authorization", "Bearer "+c.authToken)
	}
	c.mu.Unlock()

	dialer := gws.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.ServerURL, header)
	if err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	readDone := make(chan struct{})
	heartbeatStop := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.readDone = readDone
	c.heartbeatStop = heartbeatStop
	c.mu.Unlock()

	go c.readPump(conn, readDone)
	if c.cfg.HeartbeatInterval > 0 {
		go c.heartbeatLoop(heartbeatStop)
	}
	return nil
}

// closeConn closes the socket and waits for the read pump to exit.
func (c *Client) closeConn(context.Context) error {
	c.mu.Lock()
	conn := c.conn
	readDone := c.readDone
	heartbeatStop := c.heartbeatStop
	c.conn = nil
	c.readDone = nil
	c.heartbeatStop = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if heartbeatStop != nil {
		close(heartbeatStop)
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	_ = conn.WriteControl(gws.CloseMessage,
		gws.FormatCloseMessage(gws.CloseNormalClosure, ""), deadline)
	err := conn.Close()
	if readDone != nil {
		<-readDone
	}
	return err
}

func (c *Client) hasConn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// writeMessage is the queue's send delegate; installed only while connected.
func (c *Client) writeMessage(_ context.Context, payload string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.ErrNotConnected
	}
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(gws.TextMessage, []byte(payload))
}

// readPump delivers inbound text frames until the connection drops.
func (c *Client) readPump(conn *gws.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if gws.IsUnexpectedCloseError(err, gws.CloseGoingAway, gws.CloseNormalClosure) {
				c.log.Warn("connection dropped unexpectedly", zap.Error(err))
				if c.events.OnError != nil {
					c.events.OnError(err.Error())
				}
			}
			c.mu.Lock()
			current := c.conn == conn
			if current {
				c.conn = nil
				c.readDone = nil
				if c.heartbeatStop != nil {
					close(c.heartbeatStop)
					c.heartbeatStop = nil
				}
			}
			c.mu.Unlock()
			if current {
				// On a fresh goroutine: HandleConnectionLost may start a
				// reconnection loop whose disconnect path waits for this
				// pump to exit.
				go c.connMgr.HandleConnectionLost(err)
			}
			return
		}
		if c.events.OnMessageReceived != nil {
			c.events.OnMessageReceived(string(data))
		}
	}
}

// heartbeatLoop enqueues a low-priority heartbeat while the connection lives.
func (c *Client) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			env, err := protocol.CreateHeartbeatMessage()
			if err != nil {
				continue
			}
			text, err := protocol.SerializeMessage(env)
			if err != nil {
				continue
			}
			c.queue.EnqueueMessage(text, domain.PriorityLow)
		}
	}
}

// handleStateChanged bridges connection manager transitions to the facade's
// outward events and gates the queue's send delegate on connectivity.
func (c *Client) handleStateChanged(old, next domain.ConnectionState) {
	if next == domain.ConnConnected {
		c.queue.SetSendMessageFunction(c.writeMessage)
	} else if old == domain.ConnConnected {
		// Uninstall so the pump buffers instead of burning retries while
		// there is no socket.
		c.queue.SetSendMessageFunction(nil)
	}

	if c.events.OnConnectionChanged != nil {
		wasConnected := old == domain.ConnConnected
		isConnected := next == domain.ConnConnected
		if wasConnected != isConnected {
			c.events.OnConnectionChanged(isConnected)
		}
	}
}
