// Package transport connects the sync agent to its remote over a gorilla
// websocket and keeps reconnecting until told to stop.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/serroba/docsync/internal/collab"
	"github.com/serroba/docsync/internal/ws"
	"go.uber.org/zap"
)

// Common errors.
var (
	ErrNotConnected = errors.New("websocket is not connected")
	ErrMissingURL   = errors.New("remote URL is required")
)

// Settings holds connection timeouts.
type Settings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReconnectDelay   time.Duration
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() Settings {
	return Settings{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReconnectDelay:   2 * time.Second,
	}
}

// Config holds configuration for creating a WebSocket.
type Config struct {
	URL      string
	Header   http.Header
	Settings Settings
	Logger   *zap.Logger
}

// WebSocket is a collab.Socket over gorilla/websocket. Run owns the
// connection; the other methods may be called from any goroutine.
type WebSocket struct {
	url      string
	header   http.Header
	settings Settings
	dialer   *websocket.Dialer
	logger   *zap.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	client       *ws.Client
	listener     collab.Listener
	disconnected bool
}

// Ensure WebSocket implements collab.Socket.
var _ collab.Socket = (*WebSocket)(nil)

// New creates a WebSocket. Zero settings fields take their defaults.
func New(cfg Config) (*WebSocket, error) {
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}

	settings := cfg.Settings
	defaults := DefaultSettings()

	if settings.HandshakeTimeout <= 0 {
		settings.HandshakeTimeout = defaults.HandshakeTimeout
	}

	if settings.WriteTimeout <= 0 {
		settings.WriteTimeout = defaults.WriteTimeout
	}

	if settings.ReconnectDelay <= 0 {
		settings.ReconnectDelay = defaults.ReconnectDelay
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebSocket{
		url:      cfg.URL,
		header:   cfg.Header,
		settings: settings,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: settings.HandshakeTimeout,
		},
		logger:   logger.With(zap.String("url", cfg.URL)),
		listener: noopListener{},
	}, nil
}

// Listen registers l for connection events.
func (s *WebSocket) Listen(l collab.Listener) {
	if l == nil {
		l = noopListener{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.listener = l
}

// Send writes one frame on the current connection.
func (s *WebSocket) Send(f ws.Frame) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client == nil {
		return ErrNotConnected
	}

	return client.Send(f)
}

// IsOpen reports whether a connection is established.
func (s *WebSocket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.client != nil
}

// Disconnect closes the current connection. Run reports the close and
// redials after the reconnect delay.
func (s *WebSocket) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	s.disconnected = conn != nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	return conn.Close()
}

// Run dials, pumps inbound messages to the listener and redials after every
// lost connection until ctx is done.
func (s *WebSocket) Run(ctx context.Context) error {
	for {
		if err := s.connect(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("connection failed", zap.Error(err))
			s.currentListener().OnError(err)
		}

		timer := time.NewTimer(s.settings.ReconnectDelay)

		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		case <-timer.C:
		}
	}
}

// connect runs one connection from dial to close.
func (s *WebSocket) connect(ctx context.Context) error {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, s.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	client := ws.NewClient(uuid.NewString(), conn)
	client.WriteTimeout = s.settings.WriteTimeout

	s.mu.Lock()
	s.conn, s.client, s.disconnected = conn, client, false
	listener := s.listener
	s.mu.Unlock()

	s.logger.Info("connected", zap.String("conn", client.ID))
	listener.OnOpen()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.settings.WriteTimeout))
		_ = conn.Close()
	})
	defer stop()

	var readErr error

	for {
		data, err := client.Receive()
		if err != nil {
			readErr = err

			break
		}

		listener.OnMessage(data)
	}

	s.mu.Lock()
	s.conn, s.client = nil, nil
	disconnected := s.disconnected
	s.mu.Unlock()

	_ = conn.Close()

	expected := disconnected || ctx.Err() != nil ||
		websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway)
	if !expected {
		s.logger.Warn("connection lost", zap.String("conn", client.ID), zap.Error(readErr))
		listener.OnError(readErr)
	} else {
		s.logger.Info("connection closed", zap.String("conn", client.ID))
	}

	listener.OnClose()

	return nil
}

func (s *WebSocket) currentListener() collab.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listener
}

type noopListener struct{}

func (noopListener) OnOpen()          {}
func (noopListener) OnMessage([]byte) {}
func (noopListener) OnClose()         {}
func (noopListener) OnError(error)    {}
