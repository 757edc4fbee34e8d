// Package transport implements the connection engine: URL parsing,
// asynchronous endpoint resolution with address-family policy, and the
// connector state machine that turns a URL into a connected (optionally
// TLS-wrapped) socket.
package transport

import (
	"net"
	"strconv"
	"strings"

	"github.com/fabricejumel/libqi/status"
)

// SchemeTCP and SchemeTCPS are the only accepted URL schemes.
const (
	SchemeTCP  = "tcp"
	SchemeTCPS = "tcps"
)

// URL is the parsed form of "scheme://host:port". A zero URL is invalid.
type URL struct {
	Scheme string
	Host   string
	Port   uint16
}

// IsValid reports whether the URL was successfully parsed.
func (u URL) IsValid() bool { return u.Scheme != "" }

// UseTLS reports whether the scheme requests a TLS transport.
func (u URL) UseTLS() bool { return u.Scheme == SchemeTCPS }

// String reassembles the textual form. IPv6 hosts are re-bracketed.
func (u URL) String() string {
	host := u.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return u.Scheme + "://" + host + ":" + strconv.Itoa(int(u.Port))
}

// Authority returns "host:port" in the form the dialer expects.
func (u URL) Authority() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(int(u.Port)))
}

// ParseURL validates and splits a textual endpoint. Failures (empty
// input, unknown scheme, malformed host, missing or out-of-range port)
// are reported as BadAddress before any resolution happens.
func ParseURL(raw string) (URL, error) {
	if raw == "" {
		return URL{}, status.Errorf(status.BadAddress, "empty url")
	}
	i := strings.Index(raw, "://")
	if i < 0 {
		return URL{}, status.Errorf(status.BadAddress, "missing scheme in %q", raw)
	}
	scheme := raw[:i]
	if scheme != SchemeTCP && scheme != SchemeTCPS {
		return URL{}, status.Errorf(status.BadAddress, "unsupported scheme %q", scheme)
	}
	rest := raw[i+3:]

	var host, portStr string
	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return URL{}, status.Errorf(status.BadAddress, "unterminated ipv6 literal in %q", raw)
		}
		host = rest[1:end]
		if ip := net.ParseIP(host); ip == nil || ip.To4() != nil {
			return URL{}, status.Errorf(status.BadAddress, "bad ipv6 literal %q", host)
		}
		rest = rest[end+1:]
		if !strings.HasPrefix(rest, ":") {
			return URL{}, status.Errorf(status.BadAddress, "missing port in %q", raw)
		}
		portStr = rest[1:]
	} else {
		j := strings.LastIndex(rest, ":")
		if j < 0 {
			return URL{}, status.Errorf(status.BadAddress, "missing port in %q", raw)
		}
		host = rest[:j]
		portStr = rest[j+1:]
		if host == "" {
			return URL{}, status.Errorf(status.BadAddress, "empty host in %q", raw)
		}
		if !validHost(host) {
			return URL{}, status.Errorf(status.BadAddress, "bad host %q", host)
		}
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return URL{}, status.Errorf(status.BadAddress, "bad port %q", portStr)
	}
	return URL{Scheme: scheme, Host: host, Port: uint16(port)}, nil
}

// validHost accepts IPv4 literals and DNS names. A host made only of
// digits and dots must be a well-formed IPv4 address, so junk like
// "10.12.14.15.16" is rejected rather than sent to the resolver.
func validHost(host string) bool {
	numeric := true
	for i := 0; i < len(host); i++ {
		c := host[i]
		if c != '.' && (c < '0' || c > '9') {
			numeric = false
			break
		}
	}
	if numeric {
		ip := net.ParseIP(host)
		return ip != nil && ip.To4() != nil
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			ok := c == '-' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
			if !ok {
				return false
			}
		}
	}
	return true
}
