package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/flick/internal/logging"
)

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	AllowedOrigins []string
	MaxMessageSize int64
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	Logger         logging.Logger
}

// Manager upgrades HTTP requests to WebSocket sessions, registers them and
// runs one read pump and one write pump per connection.
//
// Invariants:
//   - a session is in the registry only while its transport is open
//   - OnDisconnect is called exactly once per OnConnect
//   - no session is accepted after Shutdown
type Manager struct {
	registry *Registry
	handler  SessionHandler
	cfg      ManagerConfig
	logger   logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	isShutdown bool
}

// NewManager creates a manager that reports session events to handler.
func NewManager(registry *Registry, handler SessionHandler, cfg ManagerConfig) *Manager {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		registry: registry,
		handler:  handler,
		cfg:      cfg,
		logger:   logger.WithComponent("websocket"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// IsWebSocketRequest reports whether r asks for a protocol upgrade.
func IsWebSocketRequest(r *http.Request) bool {
	return headerContainsToken(r.Header.Get("Connection"), "upgrade") &&
		headerContainsToken(r.Header.Get("Upgrade"), "websocket")
}

// ServeHTTP accepts a WebSocket connection and serves it until it closes.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	if m.isShutdown {
		m.mu.Unlock()
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  m.cfg.AllowedOrigins,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		m.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote_addr", clientAddr(r))
		return
	}
	if m.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(m.cfg.MaxMessageSize)
	}

	m.serve(conn, clientAddr(r))
}

func (m *Manager) serve(conn *websocket.Conn, remoteAddr string) {
	transport := newConnTransport(conn, m.cfg.SendBuffer)
	transport.onClose = func() { m.registry.UnregisterTransport(transport) }

	id := m.registry.Register(transport, remoteAddr)
	session, ok := m.registry.Get(id)
	if !ok {
		// Closed between Register and Get.
		_ = transport.Close("")
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		m.writePump(transport)
	}()

	m.registry.Activate(id, func() { m.handler.OnConnect(session) })
	m.readPump(session, transport)

	_ = transport.Close("")
	<-writerDone

	m.handler.OnDisconnect(session)
}

func (m *Manager) readPump(session *ClientSession, transport *connTransport) {
	for {
		msgType, frame, err := transport.conn.Read(m.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway &&
				!errors.Is(err, context.Canceled) && transport.IsOpen() {
				m.logger.Debug(m.ctx, "WebSocket read error", "client_id", session.ID, "error", err.Error())
			}
			return
		}
		if msgType != websocket.MessageText && msgType != websocket.MessageBinary {
			continue
		}
		m.handler.OnMessage(session, frame)
	}
}

func (m *Manager) writePump(transport *connTransport) {
	var pings <-chan time.Time
	if m.cfg.PingInterval > 0 {
		ticker := time.NewTicker(m.cfg.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case frame := <-transport.send:
			ctx, cancel := context.WithTimeout(m.ctx, m.cfg.WriteTimeout)
			err := transport.conn.Write(ctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				_ = transport.Close("write failed")
				return
			}

		case <-pings:
			ctx, cancel := context.WithTimeout(m.ctx, m.cfg.WriteTimeout)
			err := transport.conn.Ping(ctx)
			cancel()
			if err != nil {
				_ = transport.Close("ping failed")
				return
			}

		case <-transport.done:
			return
		}
	}
}

// Shutdown closes every session concurrently and waits for their goroutines
// to exit. Handshakes still running when ctx ends are cut short.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.isShutdown {
		m.mu.Unlock()
		return nil
	}
	m.isShutdown = true
	m.mu.Unlock()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		var closing sync.WaitGroup
		for _, session := range m.registry.All() {
			closing.Add(1)
			go func(transport Transport) {
				defer closing.Done()
				_ = transport.Close("Server shutting down")
			}(session.Transport)
		}
		closing.Wait()
	}()

	select {
	case <-closed:
	case <-ctx.Done():
		m.logger.Debug(ctx, "Close handshakes still pending, dropping connections")
	}
	// Ending the read context drops any connection still in its handshake.
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsShutdown returns whether the manager has been shut down.
func (m *Manager) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isShutdown
}

// connTransport adapts a coder/websocket connection to Transport. Frames
// are queued on send and written by the manager's write pump.
type connTransport struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
}

func newConnTransport(conn *websocket.Conn, buffer int) *connTransport {
	return &connTransport{
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (t *connTransport) Send(frame []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	select {
	case t.send <- frame:
		return nil
	case <-t.done:
		return ErrTransportClosed
	default:
		go func() { _ = t.Close("send buffer full") }()
		return ErrSendBufferFull
	}
}

func (t *connTransport) IsOpen() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Close marks the transport closed, unregisters it and closes the
// underlying connection. Only the first call has any effect.
func (t *connTransport) Close(reason string) error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		if t.onClose != nil {
			t.onClose()
		}
		err = t.conn.Close(websocket.StatusNormalClosure, reason)
	})
	return err
}
