package status

import "testing"

func TestCodeStringRoundTrip(t *testing.T) {
	codes := []Code{
		Success, BadAddress, HostNotFound, ConnectionRefused, TimedOut,
		Cancelled, Disconnected, HandshakeFailed, ProtocolError, NotFound,
		ConversionFailed, Overflow,
	}
	for _, c := range codes {
		if got := FromString(c.String()); got != c {
			t.Errorf("FromString(%q) = %v, want %v", c.String(), got, c)
		}
	}
}

func TestFromStringWithDetail(t *testing.T) {
	err := Errorf(BadAddress, "missing port in %q", "tcp://x")
	if got := FromString(err.Error()); got != BadAddress {
		t.Errorf("FromString(%q) = %v", err.Error(), got)
	}
}

func TestFromStringUnknownPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("unknown error string must panic")
		}
	}()
	FromString("some foreign failure")
}

func TestTryFromString(t *testing.T) {
	if c, ok := TryFromString("cancelled"); !ok || c != Cancelled {
		t.Errorf("TryFromString(cancelled) = %v, %v", c, ok)
	}
	if _, ok := TryFromString("no such code"); ok {
		t.Error("unknown string must report failure")
	}
	if c, ok := TryFromString(""); !ok || c != Success {
		t.Errorf("empty string = %v, %v", c, ok)
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(nil) != Success {
		t.Error("nil error is Success")
	}
	if CodeOf(New(TimedOut)) != TimedOut {
		t.Error("typed error keeps its code")
	}
}
