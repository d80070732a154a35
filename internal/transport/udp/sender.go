// Package udp streams analysis results to remote visualizers as binary
// datagrams. Loss is tolerated: every packet carries a complete snapshot,
// so the next one makes up for any that were dropped.
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"

	applog "viztap/internal/log"
)

// ErrSenderClosed is returned by Send once Close has run.
var ErrSenderClosed = errors.New("udp: sender closed")

// Sender owns a connected UDP socket and writes each payload as one
// datagram to a fixed target.
type Sender struct {
	mu   sync.Mutex
	conn net.Conn // nil once closed
}

// NewSender connects a datagram socket to target in "host:port" form. The
// connection is soft: dialing UDP only fixes the destination, nothing is
// exchanged until the first Send.
func NewSender(target string) (*Sender, error) {
	conn, err := net.Dial("udp", target)
	if err != nil {
		return nil, fmt.Errorf("udp: dialing %q: %w", target, err)
	}
	applog.Infof("udp: sending to %s", conn.RemoteAddr())
	return &Sender{conn: conn}, nil
}

// Send writes payload as a single datagram. Safe for concurrent use; the
// lock is held through the write so Close cannot race the socket away.
func (s *Sender) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrSenderClosed
	}
	if _, err := s.conn.Write(payload); err != nil {
		return fmt.Errorf("udp: send: %w", err)
	}
	return nil
}

// Close releases the socket. Repeated calls return nil.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	applog.Debugf("udp: closing socket to %s", s.conn.RemoteAddr())
	err := s.conn.Close()
	s.conn = nil
	return err
}
