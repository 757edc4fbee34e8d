package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/fabricejumel/libqi/status"
)

// cborEncMode uses canonical encoding so both peers produce identical
// bytes for identical capability maps.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Capability keys understood by this implementation. Unknown keys
// received from a peer are kept but ignored.
const (
	CapClientServerSocket = "ClientServerSocket"
	CapMessageFlags       = "MessageFlags"
	CapMetaObjectCache    = "MetaObjectCache"
)

// CapabilityMap carries the per-socket feature negotiation exchanged in
// Capability frames. Values are booleans or small integers.
type CapabilityMap map[string]interface{}

// DefaultCapabilities returns what this implementation advertises.
func DefaultCapabilities() CapabilityMap {
	return CapabilityMap{
		CapClientServerSocket: true,
		CapMessageFlags:       false,
		CapMetaObjectCache:    false,
	}
}

// Bool reads a boolean capability, with a default for absent keys.
func (m CapabilityMap) Bool(key string, def bool) bool {
	v, ok := m[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// Merge keeps the intersection semantics of negotiation: a boolean
// capability is enabled only when both sides advertise it.
func (m CapabilityMap) Merge(peer CapabilityMap) CapabilityMap {
	out := make(CapabilityMap, len(m))
	for k, v := range m {
		if b, ok := v.(bool); ok {
			out[k] = b && peer.Bool(k, false)
			continue
		}
		out[k] = v
	}
	return out
}

// MarshalCapabilities serializes a capability map to canonical CBOR.
func MarshalCapabilities(m CapabilityMap) ([]byte, error) {
	return cborEncMode.Marshal(m)
}

// UnmarshalCapabilities deserializes a capability map.
func UnmarshalCapabilities(data []byte) (CapabilityMap, error) {
	var m CapabilityMap
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(status.ProtocolError, "bad capability payload: %v", err)
	}
	return m, nil
}
