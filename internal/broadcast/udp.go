// SPDX-License-Identifier: MIT
package broadcast

import (
	"context"
	"fmt"
	"net"
	"sync"

	applog "audiopipe/internal/log"
)

// UDPSubscriber sends each message as a single datagram to a fixed target.
type UDPSubscriber struct {
	conn   *net.UDPConn
	id     string
	mu     sync.Mutex
	closed bool
	log    *applog.Logger
}

// NewUDPSubscriber dials target, in "host:port" form.
func NewUDPSubscriber(target string) (*UDPSubscriber, error) {
	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP target address '%s': %w", target, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial UDP for target '%s': %w", target, err)
	}
	s := &UDPSubscriber{
		conn: conn,
		id:   "udp:" + conn.RemoteAddr().String(),
		log:  applog.New("UDPSubscriber"),
	}
	s.log.Infof("connection established to %s", conn.RemoteAddr())
	return s, nil
}

func (s *UDPSubscriber) ID() string { return s.id }

func (s *UDPSubscriber) Send(_ context.Context, msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("UDP subscriber %s is closed", s.id)
	}
	if _, err := s.conn.Write(msg); err != nil {
		return fmt.Errorf("failed to send UDP packet: %w", err)
	}
	return nil
}

func (s *UDPSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.log.Infof("closing connection to %s", s.conn.RemoteAddr())
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close UDP connection: %w", err)
	}
	return nil
}

var _ Subscriber = (*UDPSubscriber)(nil)
