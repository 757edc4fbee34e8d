// Package wire implements the framed message format: a fixed
// little-endian header identifying (service, object, action) plus a
// payload encoded through descriptor-driven serialization. The
// capability handshake payload travels as a canonical CBOR map.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fabricejumel/libqi/status"
)

// Magic identifies the protocol version. A frame not starting with it
// is a framing violation and closes the socket.
const Magic uint32 = 0x42dead42

// HeaderSize is the fixed frame header length in bytes.
const HeaderSize = 28

// MaxPayload bounds a single frame to keep a malformed length field
// from exhausting memory.
const MaxPayload = 50 * 1024 * 1024

// MessageType discriminates frames.
type MessageType uint8

const (
	TypeCall       MessageType = 1
	TypeReply      MessageType = 2
	TypeError      MessageType = 3
	TypePost       MessageType = 4
	TypeEvent      MessageType = 5
	TypeCapability MessageType = 6
	TypeCancel     MessageType = 7
)

func (t MessageType) String() string {
	switch t {
	case TypeCall:
		return "Call"
	case TypeReply:
		return "Reply"
	case TypeError:
		return "Error"
	case TypePost:
		return "Post"
	case TypeEvent:
		return "Event"
	case TypeCapability:
		return "Capability"
	case TypeCancel:
		return "Cancel"
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

// Payload encodings.
const (
	PayloadEncoded uint8 = 0 // descriptor-driven serialization
	PayloadCBOR    uint8 = 1 // canonical CBOR (capability maps)
)

// Header is the fixed part of a frame.
//
//	magic   u32
//	id      u32   per-socket monotonic message id
//	size    u32   payload length
//	service u32
//	object  u32
//	action  u32   method or signal id
//	type    u8
//	payload u8    payload encoding
//	reserved u16
type Header struct {
	ID          uint32
	Size        uint32
	Service     uint32
	Object      uint32
	Action      uint32
	Type        MessageType
	PayloadKind uint8
}

// Message is a full frame.
type Message struct {
	Header
	Payload []byte
}

// WriteTo serializes the frame to w.
func (m *Message) WriteTo(w io.Writer) error {
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], Magic)
	binary.LittleEndian.PutUint32(hdr[4:], m.ID)
	binary.LittleEndian.PutUint32(hdr[8:], uint32(len(m.Payload)))
	binary.LittleEndian.PutUint32(hdr[12:], m.Service)
	binary.LittleEndian.PutUint32(hdr[16:], m.Object)
	binary.LittleEndian.PutUint32(hdr[20:], m.Action)
	hdr[24] = byte(m.Type)
	hdr[25] = m.PayloadKind
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		if _, err := w.Write(m.Payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadMessage reads and validates one frame from r.
func ReadMessage(r io.Reader) (*Message, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if magic := binary.LittleEndian.Uint32(hdr[0:]); magic != Magic {
		return nil, status.Errorf(status.ProtocolError, "bad magic %#x", magic)
	}
	m := &Message{Header: Header{
		ID:          binary.LittleEndian.Uint32(hdr[4:]),
		Size:        binary.LittleEndian.Uint32(hdr[8:]),
		Service:     binary.LittleEndian.Uint32(hdr[12:]),
		Object:      binary.LittleEndian.Uint32(hdr[16:]),
		Action:      binary.LittleEndian.Uint32(hdr[20:]),
		Type:        MessageType(hdr[24]),
		PayloadKind: hdr[25],
	}}
	if m.Type < TypeCall || m.Type > TypeCancel {
		return nil, status.Errorf(status.ProtocolError, "unknown message type %d", hdr[24])
	}
	if m.Size > MaxPayload {
		return nil, status.Errorf(status.ProtocolError, "oversized payload (%d bytes)", m.Size)
	}
	if m.Size > 0 {
		m.Payload = make([]byte, m.Size)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}
