package wire

import (
	"bytes"
	"testing"
)

func TestCapabilityRoundTrip(t *testing.T) {
	in := DefaultCapabilities()
	data, err := MarshalCapabilities(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := UnmarshalCapabilities(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Bool(CapClientServerSocket, false) {
		t.Error("ClientServerSocket lost in round trip")
	}
	if out.Bool(CapMessageFlags, true) {
		t.Error("MessageFlags must stay false")
	}
}

func TestCapabilityCanonicalEncoding(t *testing.T) {
	a, _ := MarshalCapabilities(CapabilityMap{"B": true, "A": false})
	b, _ := MarshalCapabilities(CapabilityMap{"A": false, "B": true})
	if !bytes.Equal(a, b) {
		t.Error("canonical mode must make key order irrelevant")
	}
}

func TestCapabilityMerge(t *testing.T) {
	mine := CapabilityMap{"X": true, "Y": true}
	peer := CapabilityMap{"X": true}
	merged := mine.Merge(peer)
	if !merged.Bool("X", false) {
		t.Error("X advertised by both sides must stay enabled")
	}
	if merged.Bool("Y", true) {
		t.Error("Y missing on the peer must be disabled")
	}
}

func TestCapabilityUnknownDefaults(t *testing.T) {
	m := CapabilityMap{}
	if m.Bool("absent", true) != true {
		t.Error("absent key must take the default")
	}
	if m.Bool("absent", false) != false {
		t.Error("absent key must take the default")
	}
}

func TestCapabilityBadPayloadFails(t *testing.T) {
	if _, err := UnmarshalCapabilities([]byte{0xff, 0x00, 0x01}); err == nil {
		t.Error("garbage CBOR must fail")
	}
}
