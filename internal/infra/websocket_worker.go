package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"perp_go/pkg/dexerr"

	"github.com/gorilla/websocket"
)

// ConnState is the lifecycle state of a WebSocket connection.
type ConnState int32

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
	ConnReconnecting
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "DISCONNECTED"
	case ConnConnecting:
		return "CONNECTING"
	case ConnConnected:
		return "CONNECTED"
	case ConnReconnecting:
		return "RECONNECTING"
	case ConnClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectionStatus is a snapshot of the state machine.
// Attempt and NextDelay are set while Reconnecting.
type ConnectionStatus struct {
	State     ConnState
	Attempt   int
	NextDelay time.Duration
	Since     time.Time
}

// ValidTransition reports whether from -> to is an edge of the state machine.
// Closed is terminal and reachable from every other state.
func ValidTransition(from, to ConnState) bool {
	if from == ConnClosed {
		return false
	}
	if to == ConnClosed {
		return true
	}
	switch from {
	case ConnDisconnected:
		return to == ConnConnecting
	case ConnConnecting:
		return to == ConnConnected || to == ConnReconnecting
	case ConnConnected:
		return to == ConnReconnecting
	case ConnReconnecting:
		return to == ConnConnecting
	}
	return false
}

// FrameWriter writes one text frame on the live socket.
// It is only valid for the duration of the handler callback that received it.
type FrameWriter interface {
	WriteFrame(msg []byte) error
}

// WebSocketHandler defines venue-specific logic for the BaseWSWorker.
// All callbacks run on the worker's single session goroutine, which owns the socket.
type WebSocketHandler interface {
	ID() string
	GetURL() string
	// OnConnect runs once per session, before any inbound frame is dispatched.
	OnConnect(ctx context.Context, w FrameWriter) error
	OnMessage(ctx context.Context, msg []byte)
	OnPing(ctx context.Context, w FrameWriter) error
	IsPong(msg []byte) bool
	// OnSync flushes queued work (after Kick and on every sync tick).
	OnSync(ctx context.Context, w FrameWriter) error
	// OnDisconnect runs after a Connected session ends, unless the worker is stopping.
	OnDisconnect(err error)
}

// WSConfig tunes the connection state machine.
type WSConfig struct {
	Backoff           BackoffPolicy
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SyncInterval      time.Duration
	WriteTimeout      time.Duration
}

// DefaultWSConfig returns production defaults.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		Backoff:           DefaultBackoffPolicy(),
		HandshakeTimeout:  10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		SyncInterval:      time.Second,
		WriteTimeout:      5 * time.Second,
	}
}

// BaseWSWorker manages the lifecycle of a WebSocket connection.
// The run goroutine is the only writer of the connection state and the only
// socket writer; other goroutines talk to it through Kick.
type BaseWSWorker struct {
	handler WebSocketHandler
	cfg     WSConfig

	mu        sync.RWMutex
	status    ConnectionStatus
	changed   chan struct{}
	observers []func(ConnectionStatus)
	started   bool

	kick     chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewBaseWSWorker creates a new generic WebSocket worker.
func NewBaseWSWorker(handler WebSocketHandler, cfg WSConfig) *BaseWSWorker {
	return &BaseWSWorker{
		handler: handler,
		cfg:     cfg,
		status:  ConnectionStatus{State: ConnDisconnected, Since: time.Now()},
		changed: make(chan struct{}),
		kick:    make(chan struct{}, 1),
	}
}

// OnStateChange registers an observer. Observers run on the worker goroutine and must not block.
func (w *BaseWSWorker) OnStateChange(fn func(ConnectionStatus)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.observers = append(w.observers, fn)
}

// Status returns the current state snapshot.
func (w *BaseWSWorker) Status() ConnectionStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Start initiates the connection loop. It is a no-op after the first call.
func (w *BaseWSWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started || w.status.State == ConnClosed {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.runLoop(ctx)
}

// Stop terminates the worker and moves it to Closed.
func (w *BaseWSWorker) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		w.wg.Wait()

		w.mu.RLock()
		state := w.status.State
		w.mu.RUnlock()
		if state != ConnClosed {
			w.setState(ConnectionStatus{State: ConnClosed})
		}
	})
}

// Kick wakes the session goroutine so it runs OnSync. It never blocks.
func (w *BaseWSWorker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// WaitConnected blocks until the state is Connected.
// It fails with Timeout when ctx expires first and with Closed after Stop.
func (w *BaseWSWorker) WaitConnected(ctx context.Context) error {
	for {
		w.mu.RLock()
		state, ch := w.status.State, w.changed
		w.mu.RUnlock()

		switch state {
		case ConnConnected:
			return nil
		case ConnClosed:
			return dexerr.New(dexerr.KindClosed, "ws wait", "worker is closed")
		}

		select {
		case <-ch:
		case <-ctx.Done():
			if e := dexerr.FromContext("ws wait", ctx.Err()); e != nil {
				return e
			}
			return ctx.Err()
		}
	}
}

func (w *BaseWSWorker) setState(next ConnectionStatus) {
	w.mu.Lock()
	if !ValidTransition(w.status.State, next.State) {
		from := w.status.State
		w.mu.Unlock()
		slog.Error("WS invalid state transition", "id", w.handler.ID(), "from", from, "to", next.State)
		return
	}
	next.Since = time.Now()
	w.status = next
	close(w.changed)
	w.changed = make(chan struct{})
	observers := append([]func(ConnectionStatus){}, w.observers...)
	w.mu.Unlock()

	for _, fn := range observers {
		fn(next)
	}
}

func (w *BaseWSWorker) runLoop(ctx context.Context) {
	defer w.wg.Done()
	defer w.setState(ConnectionStatus{State: ConnClosed})

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		w.setState(ConnectionStatus{State: ConnConnecting, Attempt: attempt})
		conn, err := w.connect(ctx)
		if err == nil {
			connectedAt := time.Now()
			w.setState(ConnectionStatus{State: ConnConnected})
			slog.Info("WS connected", "id", w.handler.ID(), "attempt", attempt)

			err = w.session(ctx, conn)
			if ctx.Err() != nil {
				return
			}
			w.handler.OnDisconnect(err)
			if time.Since(connectedAt) >= w.cfg.Backoff.StableAfter {
				attempt = 0
			}
		}
		if ctx.Err() != nil {
			return
		}

		delay := w.cfg.Backoff.Delay(attempt)
		attempt++
		slog.Warn("WS connection lost", "id", w.handler.ID(), "err", err, "attempt", attempt, "delay", delay)
		w.setState(ConnectionStatus{State: ConnReconnecting, Attempt: attempt, NextDelay: delay})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (w *BaseWSWorker) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: w.cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	header := make(http.Header)
	header.Set("User-Agent", GetUserAgent())

	dctx := ctx
	if w.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, w.cfg.HandshakeTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dctx, w.handler.GetURL(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if errors.Is(dctx.Err(), context.DeadlineExceeded) {
			return nil, dexerr.Wrap(dexerr.KindTimeout, "ws handshake", err)
		}
		return nil, dexerr.Wrap(dexerr.KindNetwork, "ws dial", err)
	}
	return conn, nil
}

// session runs one connected socket until it fails or ctx ends.
// A helper goroutine only reads; everything else happens here.
func (w *BaseWSWorker) session(ctx context.Context, conn *websocket.Conn) error {
	inbound := make(chan []byte, 256)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	var reader sync.WaitGroup

	reader.Add(1)
	go func() {
		defer reader.Done()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- msg:
			case <-done:
				return
			}
		}
	}()
	defer func() {
		close(done)
		conn.Close()
		reader.Wait()
	}()

	fw := &connWriter{conn: conn, timeout: w.cfg.WriteTimeout}
	if err := w.handler.OnConnect(ctx, fw); err != nil {
		return fmt.Errorf("OnConnect failed: %w", err)
	}

	var heartbeat, syncTick <-chan time.Time
	if w.cfg.HeartbeatInterval > 0 {
		t := time.NewTicker(w.cfg.HeartbeatInterval)
		defer t.Stop()
		heartbeat = t.C
	}
	if w.cfg.SyncInterval > 0 {
		t := time.NewTicker(w.cfg.SyncInterval)
		defer t.Stop()
		syncTick = t.C
	}

	var pongTimer *time.Timer
	var pongDeadline <-chan time.Time
	defer func() {
		if pongTimer != nil {
			pongTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fw.closeFrame()
			return ctx.Err()

		case err := <-readErr:
			// the reader queues every frame before it reports the error
			w.drain(ctx, inbound)
			return dexerr.Wrap(dexerr.KindNetwork, "ws read", err)

		case msg := <-inbound:
			if w.handler.IsPong(msg) {
				if pongTimer != nil {
					pongTimer.Stop()
				}
				pongDeadline = nil
				continue
			}
			w.handler.OnMessage(ctx, msg)

		case <-w.kick:
			if err := w.handler.OnSync(ctx, fw); err != nil {
				return err
			}

		case <-syncTick:
			if err := w.handler.OnSync(ctx, fw); err != nil {
				return err
			}

		case <-heartbeat:
			if pongDeadline != nil {
				continue
			}
			if err := w.handler.OnPing(ctx, fw); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			if w.cfg.HeartbeatTimeout > 0 {
				pongTimer = time.NewTimer(w.cfg.HeartbeatTimeout)
				pongDeadline = pongTimer.C
			}

		case <-pongDeadline:
			return dexerr.Newf(dexerr.KindTimeout, "ws heartbeat", "no pong within %s", w.cfg.HeartbeatTimeout)
		}
	}
}

func (w *BaseWSWorker) drain(ctx context.Context, inbound <-chan []byte) {
	for {
		select {
		case msg := <-inbound:
			if !w.handler.IsPong(msg) {
				w.handler.OnMessage(ctx, msg)
			}
		default:
			return
		}
	}
}

type connWriter struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (c *connWriter) WriteFrame(msg []byte) error {
	if c.timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return dexerr.Wrap(dexerr.KindNetwork, "ws write", err)
	}
	return nil
}

func (c *connWriter) closeFrame() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
