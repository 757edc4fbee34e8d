package transport

import (
	"crypto/tls"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fabricejumel/libqi/executor"
	"github.com/fabricejumel/libqi/future"
	"github.com/fabricejumel/libqi/status"
)

// SSLEnabled selects whether the connector performs a TLS handshake
// after the TCP connect.
type SSLEnabled bool

// HandshakeSide selects which role the TLS handshake plays.
type HandshakeSide int

const (
	HandshakeClient HandshakeSide = iota
	HandshakeServer
)

// ConnectorState is the connect pipeline's explicit state machine.
// Cancellation flips to Cancelled from any non-terminal state.
type ConnectorState int32

const (
	ConnectorResolving ConnectorState = iota
	ConnectorConnecting
	ConnectorHandshaking
	ConnectorReady
	ConnectorCancelled
	ConnectorFailed
)

const dialTimeout = 30 * time.Second

// Connector sequences resolve, connect, and the optional TLS handshake,
// then delivers the socket through a continuation. One Connector runs
// one attempt pipeline; it is not reused.
type Connector struct {
	exec     *executor.Executor
	resolver *Resolver
	state    atomic.Int32
}

// NewConnector creates a connector using the given resolver (nil for a
// default system resolver on exec).
func NewConnector(exec *executor.Executor, resolver *Resolver) *Connector {
	if resolver == nil {
		resolver = NewResolver(exec, nil)
	}
	return &Connector{exec: exec, resolver: resolver}
}

// State returns the pipeline's current state.
func (c *Connector) State() ConnectorState {
	return ConnectorState(c.state.Load())
}

func (c *Connector) advance(from, to ConnectorState) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// Connect runs the pipeline and invokes cb exactly once: with the
// connected socket, or with the first fatal error. cb runs on the
// executor, except for a malformed URL, which fails synchronously on the
// calling goroutine.
// The returned future cancels cooperatively at suspension points.
func (c *Connector) Connect(raw string, ssl SSLEnabled, tlsCfg *tls.Config, ipv6 IPv6Enabled, side HandshakeSide, cb func(error, *Socket)) *future.Future[*Socket] {
	p := future.NewPromise[*Socket]()
	f := p.Future()

	done := func(err error, s *Socket) {
		if err != nil {
			if status.CodeOf(err) == status.Cancelled {
				c.state.Store(int32(ConnectorCancelled))
			} else {
				c.state.Store(int32(ConnectorFailed))
			}
			p.SetError(err)
		} else {
			c.state.Store(int32(ConnectorReady))
			p.SetValue(s)
		}
		cb(err, s)
	}

	c.resolver.ResolveURL(raw, ipv6, func(err error, entry *Entry) {
		if f.State() == future.CancelledState {
			done(status.New(status.Cancelled), nil)
			return
		}
		if err != nil {
			done(err, nil)
			return
		}
		if entry == nil {
			done(status.Errorf(status.HostNotFound, "no admissible address for %s", raw), nil)
			return
		}
		u, _ := ParseURL(raw)
		c.dial(u, []Entry{*entry}, ssl, tlsCfg, side, f, done)
	})
	return f
}

// dial tries the entries in order on a fresh goroutine (connect and
// handshake block), delivering the outcome back on the executor.
func (c *Connector) dial(u URL, entries []Entry, ssl SSLEnabled, tlsCfg *tls.Config, side HandshakeSide, f *future.Future[*Socket], done func(error, *Socket)) {
	c.advance(ConnectorResolving, ConnectorConnecting)
	go func() {
		var lastErr error
		for _, entry := range entries {
			if f.State() == future.CancelledState {
				break
			}
			conn, err := net.DialTimeout("tcp", net.JoinHostPort(entry.Addr, strconv.Itoa(int(u.Port))), dialTimeout)
			if err != nil {
				log.Debugf("connect to %s failed: %v", entry.Addr, err)
				lastErr = dialError(err)
				continue
			}
			if ssl {
				c.advance(ConnectorConnecting, ConnectorHandshaking)
				tc, err := handshake(conn, u.Host, tlsCfg, side)
				if err != nil {
					conn.Close()
					lastErr = status.Errorf(status.HandshakeFailed, "%v", err)
					continue
				}
				conn = tc
			}
			sock := newSocket(c.exec, conn)
			c.exec.Post(func() {
				if f.State() == future.CancelledState {
					sock.Close()
					done(status.New(status.Cancelled), nil)
					return
				}
				done(nil, sock)
			})
			return
		}
		c.exec.Post(func() {
			if f.State() == future.CancelledState {
				done(status.New(status.Cancelled), nil)
				return
			}
			if lastErr == nil {
				lastErr = status.Errorf(status.HostNotFound, "no address for %s", u.Host)
			}
			done(lastErr, nil)
		})
	}()
}

func handshake(conn net.Conn, serverName string, cfg *tls.Config, side HandshakeSide) (net.Conn, error) {
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if side == HandshakeClient {
		if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
			cfg = cfg.Clone()
			cfg.ServerName = serverName
		}
		tc := tls.Client(conn, cfg)
		if err := tc.Handshake(); err != nil {
			return nil, err
		}
		return tc, nil
	}
	tc := tls.Server(conn, cfg)
	if err := tc.Handshake(); err != nil {
		return nil, err
	}
	return tc, nil
}

func dialError(err error) error {
	if oe, ok := err.(*net.OpError); ok {
		if oe.Timeout() {
			return status.Errorf(status.TimedOut, "%v", err)
		}
	}
	return status.Errorf(status.ConnectionRefused, "%v", err)
}

// ---------------------------------------------------------------------------
// Future flavor
// ---------------------------------------------------------------------------

// ConnectSocketFuture is the future-shaped connector: it iterates over
// every resolved entry internally and exposes a blocking Complete.
type ConnectSocketFuture struct {
	c *Connector
	f *future.Future[*Socket]
}

// NewConnectSocketFuture starts the pipeline immediately.
func NewConnectSocketFuture(exec *executor.Executor, resolver *Resolver, raw string, ssl SSLEnabled, tlsCfg *tls.Config, ipv6 IPv6Enabled, side HandshakeSide) *ConnectSocketFuture {
	c := NewConnector(exec, resolver)
	p := future.NewPromise[*Socket]()
	f := p.Future()

	done := func(err error, s *Socket) {
		if err != nil {
			if status.CodeOf(err) == status.Cancelled {
				c.state.Store(int32(ConnectorCancelled))
			} else {
				c.state.Store(int32(ConnectorFailed))
			}
			p.SetError(err)
		} else {
			c.state.Store(int32(ConnectorReady))
			p.SetValue(s)
		}
	}

	c.resolver.ResolveURLList(raw, func(err error, it *EntryIterator) {
		if f.State() == future.CancelledState {
			done(status.New(status.Cancelled), nil)
			return
		}
		if err != nil {
			done(err, nil)
			return
		}
		var admissible []Entry
		for ; !it.Done(); it.Next() {
			e := it.Value()
			if e.IsV6 && !bool(ipv6) {
				continue
			}
			admissible = append(admissible, e)
		}
		if len(admissible) == 0 {
			done(status.Errorf(status.HostNotFound, "no admissible address for %s", raw), nil)
			return
		}
		u, _ := ParseURL(raw)
		c.dial(u, admissible, ssl, tlsCfg, side, f, done)
	})
	return &ConnectSocketFuture{c: c, f: f}
}

// Future returns the underlying socket future.
func (cf *ConnectSocketFuture) Future() *future.Future[*Socket] { return cf.f }

// Cancel requests cooperative cancellation.
func (cf *ConnectSocketFuture) Cancel() { cf.f.Cancel() }

// Complete blocks until the pipeline finishes and reports the error as
// a string, empty on success. The string decodes back into the code
// taxonomy through status.FromString.
func (cf *ConnectSocketFuture) Complete() string {
	if err := cf.f.Err(); err != nil {
		if err == future.ErrCancelled {
			return status.Cancelled.String()
		}
		return err.Error()
	}
	return ""
}
