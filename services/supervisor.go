package services

import (
	"context"
	"net/http"
	"sync"
	"time"

	"chairlink/config"
	"chairlink/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// maxFrameSize bounds a single device frame
const maxFrameSize = 1 << 20

// Supervisor owns the device socket. It connects, reads until the socket
// fails, waits the retry delay and connects again, until stopped.
type Supervisor struct {
	url        string
	retryDelay time.Duration
	dialer     *websocket.Dialer
	handler    MessageHandler
	listeners  []ConnectivityListener
	logger     *zap.Logger
	metrics    *Metrics

	mu      sync.Mutex
	state   models.ConnectionState
	stopped bool
	conn    *websocket.Conn

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSupervisor creates a supervisor for the device configured in cfg
func NewSupervisor(cfg *config.Config, handler MessageHandler, logger *zap.Logger, metrics *Metrics, listeners ...ConnectivityListener) *Supervisor {
	return &Supervisor{
		url:        cfg.DeviceURL(),
		retryDelay: cfg.RetryDelay,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		handler:   handler,
		listeners: listeners,
		logger:    logger,
		metrics:   metrics,
		state:     models.StateDisconnected,
		stopCh:    make(chan struct{}),
	}
}

// Run loops connect, read, disconnect and retry. It returns only after Stop or
// once ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.logger.Info("Starting device connection supervisor",
		zap.String("url", s.url),
		zap.Duration("retry_delay", s.retryDelay))

	for s.active(ctx) {
		err := s.session(ctx)
		s.setState(ctx, models.StateDisconnected)

		if !s.active(ctx) {
			break
		}

		s.metrics.incConnectionFailures()
		s.logger.Warn("Device connection lost, retrying",
			zap.String("url", s.url),
			zap.Duration("retry_delay", s.retryDelay),
			zap.Error(err))

		if !s.wait(ctx) {
			break
		}
	}

	s.logger.Info("Device connection supervisor stopped")
	return nil
}

// session performs one connect attempt and, on success, reads until the socket fails
func (s *Supervisor) session(ctx context.Context) error {
	s.setState(ctx, models.StateConnecting)
	s.metrics.incConnectAttempts()

	conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return &TransportError{Op: "dial", URL: s.url, Err: err}
	}
	defer conn.Close()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.conn = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	// cancellation aborts a blocked read
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetReadLimit(maxFrameSize)

	s.logger.Info("Connected to device", zap.String("url", s.url))
	s.setState(ctx, models.StateConnected)

	return s.readLoop(ctx, conn)
}

func (s *Supervisor) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("Device closed the connection", zap.String("url", s.url))
			}
			return &TransportError{Op: "read", URL: s.url, Err: err}
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		s.metrics.incMessagesReceived()
		s.logger.Debug("Device message received", zap.Int("size", len(data)))
		s.handler.HandleMessage(ctx, data)
	}
}

// wait sleeps the retry delay; false means the supervisor should exit
func (s *Supervisor) wait(ctx context.Context) bool {
	timer := time.NewTimer(s.retryDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return s.active(ctx)
	}
}

func (s *Supervisor) active(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}

func (s *Supervisor) setState(ctx context.Context, state models.ConnectionState) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	if prev == state {
		return
	}
	s.metrics.setConnectionState(state)

	// listeners see the boolean view: connected or not
	switch {
	case state == models.StateConnected:
		s.notify(ctx, true)
	case state == models.StateDisconnected && prev == models.StateConnected:
		s.notify(ctx, false)
	}
}

func (s *Supervisor) notify(ctx context.Context, connected bool) {
	// listeners must see the disconnect even when ctx is already cancelled
	ctx = context.WithoutCancel(ctx)
	for _, l := range s.listeners {
		l.SetConnected(ctx, connected)
	}
}

// State returns the current connection state
func (s *Supervisor) State() models.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stop closes the active socket and prevents any further connect attempt
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		conn := s.conn
		s.mu.Unlock()

		close(s.stopCh)
		if conn != nil {
			conn.Close()
		}
		s.logger.Info("Device connection supervisor stopping")
	})
}
