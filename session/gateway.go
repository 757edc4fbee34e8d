package session

import (
	"crypto/tls"
	"io"
	"net"
	"sync"

	"github.com/fabricejumel/libqi/status"
	"github.com/fabricejumel/libqi/transport"
)

// Gateway accepts client connections and pipes their frame streams to
// an upstream node, so services behind a firewall are reachable through
// a single advertised endpoint. The frame format is transparent to the
// gateway; it relays bytes and tears both sides down together.
type Gateway struct {
	upstream string

	mu     sync.Mutex
	ln     net.Listener
	closed bool
}

// NewGateway creates a gateway forwarding to the upstream URL.
func NewGateway(upstream string) *Gateway {
	return &Gateway{upstream: upstream}
}

// Listen binds the client-facing endpoint and starts relaying.
func (g *Gateway) Listen(raw string, tlsCfg *tls.Config) error {
	u, err := transport.ParseURL(raw)
	if err != nil {
		return err
	}
	up, err := transport.ParseURL(g.upstream)
	if err != nil {
		return err
	}
	var ln net.Listener
	if u.UseTLS() {
		if tlsCfg == nil {
			return status.Errorf(status.HandshakeFailed, "tcps gateway needs a TLS config")
		}
		ln, err = tls.Listen("tcp", u.Authority(), tlsCfg)
	} else {
		ln, err = net.Listen("tcp", u.Authority())
	}
	if err != nil {
		return status.Errorf(status.BadAddress, "listen %s: %v", raw, err)
	}
	g.mu.Lock()
	g.ln = ln
	g.mu.Unlock()

	go g.acceptLoop(ln, up)
	return nil
}

func (g *Gateway) acceptLoop(ln net.Listener, up transport.URL) {
	for {
		client, err := ln.Accept()
		if err != nil {
			return
		}
		go g.relay(client, up)
	}
}

func (g *Gateway) relay(client net.Conn, up transport.URL) {
	upstream, err := net.Dial("tcp", up.Authority())
	if err != nil {
		log.Warningf("gateway: upstream %s unreachable: %v", up, err)
		client.Close()
		return
	}
	join := func(dst, src net.Conn) {
		io.Copy(dst, src)
		dst.Close()
		src.Close()
	}
	go join(upstream, client)
	go join(client, upstream)
}

// Close stops accepting new clients. Established relays drain on their
// own when either side closes.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	if g.ln != nil {
		g.ln.Close()
	}
}
