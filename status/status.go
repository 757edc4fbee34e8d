// Package status defines the symbolic error surface shared by the
// transport, session and type layers. Transport and session failures are
// reported as *Error values carrying a Code; the codes round-trip through
// their textual form so that a future completed with an error string can
// be decoded back into the taxonomy.
package status

import "fmt"

// Code identifies a failure class.
type Code int

const (
	Success Code = iota
	BadAddress
	HostNotFound
	ConnectionRefused
	TimedOut
	Cancelled
	Disconnected
	HandshakeFailed
	ProtocolError
	NotFound
	ConversionFailed
	Overflow
)

var codeNames = map[Code]string{
	Success:           "success",
	BadAddress:        "bad address",
	HostNotFound:      "host not found",
	ConnectionRefused: "connection refused",
	TimedOut:          "timed out",
	Cancelled:         "cancelled",
	Disconnected:      "disconnected",
	HandshakeFailed:   "handshake failed",
	ProtocolError:     "protocol error",
	NotFound:          "not found",
	ConversionFailed:  "conversion failed",
	Overflow:          "overflow",
}

var namesToCode = func() map[string]Code {
	m := make(map[string]Code, len(codeNames))
	for c, n := range codeNames {
		m[n] = c
	}
	return m
}()

// String returns the stable textual form of the code.
func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is a failure with a symbolic code and optional detail.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Message
}

// New creates an error with the given code and no detail.
func New(c Code) *Error {
	return &Error{Code: c}
}

// Errorf creates an error with the given code and a formatted detail.
func Errorf(c Code, format string, args ...interface{}) *Error {
	return &Error{Code: c, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code from an error. A nil error is Success; an
// error that is not a *Error maps to ProtocolError.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	if se, ok := err.(*Error); ok {
		return se.Code
	}
	return ProtocolError
}

// TryFromString decodes the textual form of an error, reporting
// failure instead of panicking. Used for strings that crossed the wire
// and may come from a foreign implementation.
func TryFromString(s string) (Code, bool) {
	if s == "" {
		return Success, true
	}
	name := s
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			name = s[:i]
			break
		}
	}
	c, ok := namesToCode[name]
	return c, ok
}

// FromString decodes the textual form of an error back into a code.
// The input is the full error string; any detail after the code name is
// ignored. Unknown strings are a programming error and panic.
func FromString(s string) Code {
	if s == "" {
		return Success
	}
	name := s
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			name = s[:i]
			break
		}
	}
	if c, ok := namesToCode[name]; ok {
		return c
	}
	panic("status: unknown error string: " + s)
}
