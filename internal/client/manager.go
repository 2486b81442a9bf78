// Package client keeps a live websocket to the sync server open from the
// household's side. It reconnects after a fixed delay for as long as it is
// running and ignores events from connections it has already replaced.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pantry/internal/chat"
	myMiddleware "pantry/internal/middleware"
)

// DefaultDelay is the pause between a lost connection and the next attempt.
const DefaultDelay = 2 * time.Second

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the part of *websocket.Conn the manager uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type DialFunc func(ctx context.Context) (Conn, error)

type Options struct {
	// URL is the ws:// or wss:// endpoint, used by the default dialer.
	URL   string
	Token string
	Delay time.Duration
	Dial  DialFunc
	// OnFrame runs on the read goroutine for every frame received.
	OnFrame func(chat.RawFrame)
	// OnState runs with the manager's lock released.
	OnState func(State)
	Logger  *zap.Logger
}

// Manager owns at most one live connection at a time.
type Manager struct {
	opts Options
	log  *zap.Logger

	mu    sync.Mutex
	ctx   context.Context
	state State
	gen   uint64 // identifies the current attempt; older handles are stale
	conn  Conn
	timer *time.Timer
	done  chan struct{} // closed by Close
}

func New(opts Options) *Manager {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Dial == nil {
		opts.Dial = bearerDialer(opts.URL, opts.Token)
	}
	return &Manager{opts: opts, log: opts.Logger.Named("reconnect"), state: Disconnected, done: make(chan struct{})}
}

func bearerDialer(url, token string) DialFunc {
	d := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{myMiddleware.BearerSubprotocol, token},
	}
	return func(ctx context.Context) (Conn, error) {
		conn, _, err := d.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Start begins connecting. The manager stops when ctx is cancelled or Close
// is called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			m.Close()
		case <-m.done:
		}
	}()
	go m.connect()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Send writes a frame on the live connection. While not connected the frame
// is dropped and Send reports false.
func (m *Manager) Send(f chat.Frame) bool {
	data, err := f.Encode()
	if err != nil {
		m.log.Error("encode frame", zap.Error(err))
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected || m.conn == nil {
		return false
	}
	if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		m.log.Warn("write frame", zap.Error(err))
		return false
	}
	return true
}

// Reconnect drops the current connection and dials a fresh one right away.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	if m.state == Closed {
		m.mu.Unlock()
		return
	}
	m.gen++
	old := m.conn
	m.conn = nil
	m.stopTimerLocked()
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	go m.connect()
}

// Close tears the manager down. No reconnect happens afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == Closed {
		m.mu.Unlock()
		return
	}
	m.gen++
	old := m.conn
	m.conn = nil
	m.stopTimerLocked()
	m.state = Closed
	close(m.done)
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	m.notify(Closed)
}

func (m *Manager) connect() {
	m.mu.Lock()
	if m.state == Closed {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	ctx := m.ctx
	m.timer = nil
	m.state = Connecting
	m.mu.Unlock()
	m.notify(Connecting)

	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := m.opts.Dial(ctx)

	m.mu.Lock()
	if m.state == Closed || gen != m.gen {
		// Superseded while dialing.
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		m.state = Disconnected
		m.scheduleLocked()
		m.mu.Unlock()
		m.log.Warn("connect failed", zap.Duration("retry_in", m.opts.Delay), zap.Error(err))
		m.notify(Disconnected)
		return
	}
	m.conn = conn
	m.state = Connected
	m.mu.Unlock()

	m.log.Info("connected")
	m.notify(Connected)
	go m.readLoop(gen, conn)
}

func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		f, err := chat.ParseFrame(data)
		if err != nil {
			m.log.Warn("bad frame from server", zap.Error(err))
			continue
		}
		if m.opts.OnFrame != nil {
			m.opts.OnFrame(f)
		}
	}
}

// handleClose reacts to a connection ending. Only the current generation may
// schedule a reconnect.
func (m *Manager) handleClose(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || m.state == Closed {
		m.mu.Unlock()
		m.log.Debug("ignoring close of superseded connection", zap.Uint64("gen", gen))
		return
	}
	m.conn = nil
	m.state = Disconnected
	m.scheduleLocked()
	m.mu.Unlock()

	if !errors.Is(err, context.Canceled) {
		m.log.Warn("connection lost", zap.Duration("retry_in", m.opts.Delay), zap.Error(err))
	}
	m.notify(Disconnected)
}

func (m *Manager) scheduleLocked() {
	m.stopTimerLocked()
	m.timer = time.AfterFunc(m.opts.Delay, m.connect)
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) notify(s State) {
	if m.opts.OnState != nil {
		m.opts.OnState(s)
	}
}
