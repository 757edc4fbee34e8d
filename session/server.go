package session

import (
	"crypto/tls"
	"net"
	"sync"

	"github.com/fabricejumel/libqi/executor"
	"github.com/fabricejumel/libqi/status"
	"github.com/fabricejumel/libqi/transport"
)

// Server listens on a tcp or tcps endpoint and attaches a dispatcher to
// every accepted socket. All dispatchers share one router, so every
// peer sees the same bound services.
type Server struct {
	exec   *executor.Executor
	router *Router

	mu       sync.Mutex
	ln       net.Listener
	disps    []*Dispatcher
	endpoint string
	closed   bool
}

// NewServer creates a server routing into the given router.
func NewServer(exec *executor.Executor, router *Router) *Server {
	return &Server{exec: exec, router: router}
}

// Router returns the server's routing table.
func (s *Server) Router() *Router { return s.router }

// Listen binds the endpoint and starts accepting. A tcps scheme
// requires a TLS config with certificate material.
func (s *Server) Listen(raw string, tlsCfg *tls.Config) error {
	u, err := transport.ParseURL(raw)
	if err != nil {
		return err
	}
	var ln net.Listener
	if u.UseTLS() {
		if tlsCfg == nil {
			return status.Errorf(status.HandshakeFailed, "tcps listener needs a TLS config")
		}
		ln, err = tls.Listen("tcp", u.Authority(), tlsCfg)
	} else {
		ln, err = net.Listen("tcp", u.Authority())
	}
	if err != nil {
		return status.Errorf(status.BadAddress, "listen %s: %v", raw, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.endpoint = u.Scheme + "://" + ln.Addr().String()
	s.mu.Unlock()

	go s.acceptLoop(ln)
	return nil
}

// Endpoint returns the bound endpoint URL (with the resolved port),
// empty before Listen.
func (s *Server) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				log.Warningf("accept failed: %v", err)
			}
			return
		}
		sock := transport.WrapConn(s.exec, conn)
		d := NewDispatcher(sock, s.router)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			sock.Close()
			return
		}
		s.disps = append(s.disps, d)
		s.mu.Unlock()

		d.Start()
		if err := d.SendCapabilities(); err != nil {
			log.Debugf("capability advertise failed: %v", err)
		}
	}
}

// Close stops accepting and tears down every open socket.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.ln
	disps := s.disps
	s.disps = nil
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, d := range disps {
		d.Close()
	}
}
