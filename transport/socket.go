package transport

import (
	"crypto/tls"
	"net"
	"sync"

	"github.com/fabricejumel/libqi/executor"
	"github.com/fabricejumel/libqi/status"
)

// SocketState tracks the lifecycle of a Socket.
type SocketState int32

const (
	SocketDisconnected SocketState = iota
	SocketConnecting
	SocketConnected
	SocketClosing
)

func (s SocketState) String() string {
	switch s {
	case SocketDisconnected:
		return "Disconnected"
	case SocketConnecting:
		return "Connecting"
	case SocketConnected:
		return "Connected"
	case SocketClosing:
		return "Closing"
	}
	return "SocketState(?)"
}

// Socket owns a connected bidirectional byte stream. Writes are
// serialized and complete in submission order; reads are driven by the
// dispatch layer, which owns the read loop. Close is idempotent and
// releases the connection on every path.
type Socket struct {
	exec *executor.Executor

	mu    sync.Mutex
	conn  net.Conn
	state SocketState
}

func newSocket(exec *executor.Executor, conn net.Conn) *Socket {
	return &Socket{exec: exec, conn: conn, state: SocketConnected}
}

// WrapConn adopts an already-connected net.Conn (the accept path of a
// listening server).
func WrapConn(exec *executor.Executor, conn net.Conn) *Socket {
	return newSocket(exec, conn)
}

// Executor returns the executor this socket delivers on.
func (s *Socket) Executor() *executor.Executor { return s.exec }

// State returns the current lifecycle state.
func (s *Socket) State() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteAddr returns the peer address, nil after close.
func (s *Socket) RemoteAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.RemoteAddr()
}

// Write sends the buffer, blocking until the transport accepted it.
// Concurrent writers are serialized in submission order.
func (s *Socket) Write(p []byte) error {
	s.mu.Lock()
	if s.state != SocketConnected || s.conn == nil {
		s.mu.Unlock()
		return status.New(status.Disconnected)
	}
	conn := s.conn
	defer s.mu.Unlock()
	if _, err := conn.Write(p); err != nil {
		return status.Errorf(status.Disconnected, "%v", err)
	}
	return nil
}

// Read fills p from the stream (blocking). Used by the read loop of the
// dispatch layer.
func (s *Socket) Read(p []byte) (int, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return 0, status.New(status.Disconnected)
	}
	return conn.Read(p)
}

// Close tears the connection down. Safe to call multiple times and
// from any goroutine; a blocked Read unblocks with an error.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.state == SocketClosing || s.state == SocketDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.state = SocketClosing
	conn := s.conn
	s.conn = nil
	s.state = SocketDisconnected
	s.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// TLSState returns the TLS connection state when the socket is
// TLS-wrapped.
func (s *Socket) TLSState() (tls.ConnectionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tc, ok := s.conn.(*tls.Conn); ok {
		return tc.ConnectionState(), true
	}
	return tls.ConnectionState{}, false
}
