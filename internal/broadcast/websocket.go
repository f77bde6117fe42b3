// SPDX-License-Identifier: MIT
package broadcast

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	applog "audiopipe/internal/log"
)

const (
	defaultWriteTimeout = 2 * time.Second
	maxClientMessage    = 512
)

var wsLog = applog.New("WebSocket")

// checkOrigin allows same-origin, loopback and private-network pages.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		wsLog.Warnf("rejected connection: invalid origin %q", origin)
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if host == requestHost {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}
	wsLog.Warnf("rejected connection from origin %q", origin)
	return false
}

// WebSocketSubscriber delivers each message as one binary frame.
type WebSocketSubscriber struct {
	conn         *websocket.Conn
	id           string
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewWebSocketSubscriber(conn *websocket.Conn, writeTimeout time.Duration) *WebSocketSubscriber {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &WebSocketSubscriber{
		conn:         conn,
		id:           "ws:" + conn.RemoteAddr().String(),
		writeTimeout: writeTimeout,
	}
}

func (s *WebSocketSubscriber) ID() string { return s.id }

// Send writes msg, bounded by the write timeout or ctx's deadline,
// whichever is sooner.
func (s *WebSocketSubscriber) Send(ctx context.Context, msg []byte) error {
	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return fmt.Errorf("write to %s: %w", s.id, err)
	}
	return nil
}

// Close sends a close frame and closes the connection. Idempotent.
func (s *WebSocketSubscriber) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.mu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Handler upgrades requests to websocket subscribers of a Registry.
type Handler struct {
	registry     Registry
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
}

func NewHandler(r Registry, writeTimeout time.Duration) *Handler {
	return &Handler{
		registry: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     checkOrigin,
		},
		writeTimeout: writeTimeout,
	}
}

// ServeHTTP blocks for the life of the connection. Client messages are
// read and discarded; a read error means the client went away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wsLog.Errorf("upgrade error: %v", err)
		return
	}
	sub := NewWebSocketSubscriber(conn, h.writeTimeout)
	if err := h.registry.Connect(sub); err != nil {
		wsLog.Warnf("refusing %s: %v", sub.ID(), err)
		_ = sub.Close()
		return
	}

	conn.SetReadLimit(maxClientMessage)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.registry.Disconnect(sub)
	_ = sub.Close()
}

var (
	_ Subscriber   = (*WebSocketSubscriber)(nil)
	_ http.Handler = (*Handler)(nil)
)
