package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/fabricejumel/libqi/status"
	"github.com/fabricejumel/libqi/typesys"
)

// ObjectCoder translates between in-process object references and the
// (serviceId, objectId) pairs that represent them on the wire. The
// session layer supplies one; a nil coder rejects object payloads.
type ObjectCoder interface {
	EncodeRef(obj *typesys.AnyObject) (service, object uint32, err error)
	DecodeRef(service, object uint32) (typesys.Value, error)
}

// Codec serializes values through their descriptors: fixed-width
// integers and floats verbatim little-endian, strings and raw buffers
// length-prefixed, containers count-prefixed, tuples as concatenated
// members, dynamics as a signature string followed by the payload.
type Codec struct {
	Objects ObjectCoder
}

// Encode serializes v.
func (c *Codec) Encode(v typesys.Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.EncodeTo(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo serializes v into w.
func (c *Codec) EncodeTo(w *bytes.Buffer, v typesys.Value) error {
	d := v.Descriptor()
	if d == nil {
		return status.Errorf(status.ProtocolError, "cannot encode the invalid value")
	}
	switch d.Kind() {
	case typesys.KindVoid:
		return nil
	case typesys.KindInt:
		return c.encodeInt(w, v)
	case typesys.KindFloat:
		if d.Bits() == 32 {
			return writeU32(w, math.Float32bits(float32(v.ToDouble())))
		}
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.ToDouble()))
		_, err := w.Write(b[:])
		return err
	case typesys.KindString:
		s := v.ToString()
		if err := writeU32(w, uint32(len(s))); err != nil {
			return err
		}
		_, err := w.WriteString(s)
		return err
	case typesys.KindRaw:
		b := v.ToRaw()
		if err := writeU32(w, uint32(len(b))); err != nil {
			return err
		}
		_, err := w.Write(b)
		return err
	case typesys.KindList:
		n := v.Size()
		if err := writeU32(w, uint32(n)); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := c.EncodeTo(w, v.Element(i)); err != nil {
				return err
			}
		}
		return nil
	case typesys.KindMap:
		n := v.Size()
		if err := writeU32(w, uint32(n)); err != nil {
			return err
		}
		for it := v.Begin(); !it.Done(); it.Next() {
			pair := it.Deref()
			if err := c.EncodeTo(w, pair.Element(0)); err != nil {
				return err
			}
			if err := c.EncodeTo(w, pair.Element(1)); err != nil {
				return err
			}
		}
		return nil
	case typesys.KindTuple:
		for i := 0; i < v.Size(); i++ {
			if err := c.EncodeTo(w, v.Element(i)); err != nil {
				return err
			}
		}
		return nil
	case typesys.KindDynamic:
		inner := v.Inner()
		if !inner.IsValid() {
			// An empty dynamic travels as void.
			return c.encodeSig(w, "v")
		}
		if err := c.encodeSig(w, inner.Descriptor().WireSignature()); err != nil {
			return err
		}
		return c.EncodeTo(w, inner)
	case typesys.KindObject, typesys.KindPointer:
		if d.Kind() == typesys.KindPointer && d.Elem().Kind() != typesys.KindObject {
			return status.Errorf(status.ProtocolError, "cannot encode pointer signature %s", d.Signature())
		}
		if c.Objects == nil {
			return status.Errorf(status.ProtocolError, "no object coder for %s", d.Signature())
		}
		service, object, err := c.Objects.EncodeRef(v.ToObject())
		if err != nil {
			return err
		}
		if err := writeU32(w, service); err != nil {
			return err
		}
		return writeU32(w, object)
	}
	return status.Errorf(status.ProtocolError, "cannot encode kind %s", d.Kind())
}

func (c *Codec) encodeInt(w *bytes.Buffer, v typesys.Value) error {
	d := v.Descriptor()
	u := v.ToUInt()
	switch d.Bits() {
	case 1:
		return w.WriteByte(byte(u & 1))
	case 8:
		return w.WriteByte(byte(u))
	case 16:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(u))
		_, err := w.Write(b[:])
		return err
	case 32:
		return writeU32(w, uint32(u))
	default:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], u)
		_, err := w.Write(b[:])
		return err
	}
}

func (c *Codec) encodeSig(w *bytes.Buffer, sig string) error {
	if err := writeU32(w, uint32(len(sig))); err != nil {
		return err
	}
	_, err := w.WriteString(sig)
	return err
}

func writeU32(w *bytes.Buffer, u uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], u)
	_, err := w.Write(b[:])
	return err
}

// Decode deserializes a payload described by d. The input must be
// consumed exactly; trailing bytes are a protocol error.
func (c *Codec) Decode(data []byte, d *typesys.Descriptor) (typesys.Value, error) {
	r := bytes.NewReader(data)
	v, err := c.DecodeFrom(r, d)
	if err != nil {
		return typesys.Value{}, err
	}
	if r.Len() != 0 {
		v.Destroy()
		return typesys.Value{}, status.Errorf(status.ProtocolError, "%d trailing bytes after %s", r.Len(), d.Signature())
	}
	return v, nil
}

// DecodeFrom deserializes one value of type d from r, returning an
// owning value.
func (c *Codec) DecodeFrom(r *bytes.Reader, d *typesys.Descriptor) (typesys.Value, error) {
	switch d.Kind() {
	case typesys.KindVoid:
		return typesys.Void(), nil
	case typesys.KindInt:
		u, err := c.decodeUint(r, d.Bits())
		if err != nil {
			return typesys.Value{}, err
		}
		if d.IsSigned() {
			return typesys.NewInt(d, signExtend(u, d.Bits())), nil
		}
		return typesys.NewUInt(d, u), nil
	case typesys.KindFloat:
		if d.Bits() == 32 {
			u, err := readU32(r)
			if err != nil {
				return typesys.Value{}, err
			}
			return typesys.NewFloat(d, float64(math.Float32frombits(u))), nil
		}
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return typesys.Value{}, decodeErr(err)
		}
		return typesys.NewFloat(d, math.Float64frombits(binary.LittleEndian.Uint64(b[:]))), nil
	case typesys.KindString:
		s, err := c.decodeString(r)
		if err != nil {
			return typesys.Value{}, err
		}
		v := typesys.NewString(s)
		if !d.Info().Equal(typesys.StringType().Info()) {
			conv, _ := typesys.Convert(v, d)
			if conv.IsValid() {
				out := conv.Clone()
				v.Destroy()
				return out, nil
			}
		}
		return v, nil
	case typesys.KindRaw:
		n, err := readU32(r)
		if err != nil {
			return typesys.Value{}, err
		}
		if int(n) > r.Len() {
			return typesys.Value{}, status.Errorf(status.ProtocolError, "raw length %d exceeds input", n)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return typesys.Value{}, decodeErr(err)
		}
		return typesys.NewRaw(buf), nil
	case typesys.KindList:
		n, err := readU32(r)
		if err != nil {
			return typesys.Value{}, err
		}
		out := typesys.NewList(d.Elem())
		for i := uint32(0); i < n; i++ {
			el, err := c.DecodeFrom(r, d.Elem())
			if err != nil {
				out.Destroy()
				return typesys.Value{}, err
			}
			aerr := out.Append(el)
			el.Destroy()
			if aerr != nil {
				out.Destroy()
				return typesys.Value{}, aerr
			}
		}
		return out, nil
	case typesys.KindMap:
		n, err := readU32(r)
		if err != nil {
			return typesys.Value{}, err
		}
		out := typesys.NewMap(d.Key(), d.Elem())
		for i := uint32(0); i < n; i++ {
			kv, err := c.DecodeFrom(r, d.Key())
			if err != nil {
				out.Destroy()
				return typesys.Value{}, err
			}
			ev, err := c.DecodeFrom(r, d.Elem())
			if err != nil {
				kv.Destroy()
				out.Destroy()
				return typesys.Value{}, err
			}
			ierr := out.Insert(kv, ev)
			kv.Destroy()
			ev.Destroy()
			if ierr != nil {
				out.Destroy()
				return typesys.Value{}, ierr
			}
		}
		return out, nil
	case typesys.KindTuple:
		members := d.Members()
		vals := make([]typesys.Value, 0, len(members))
		for _, m := range members {
			mv, err := c.DecodeFrom(r, m)
			if err != nil {
				for _, pv := range vals {
					pv.Destroy()
				}
				return typesys.Value{}, err
			}
			vals = append(vals, mv)
		}
		out := typesys.NewTuple(d, vals)
		for _, pv := range vals {
			pv.Destroy()
		}
		return out, nil
	case typesys.KindDynamic:
		sig, err := c.decodeString(r)
		if err != nil {
			return typesys.Value{}, err
		}
		inner, err := typesys.ParseSignature(sig)
		if err != nil {
			return typesys.Value{}, status.Errorf(status.ProtocolError, "bad dynamic signature %q", sig)
		}
		if inner.Kind() == typesys.KindVoid {
			return typesys.NewDynamic(typesys.Value{}), nil
		}
		iv, err := c.DecodeFrom(r, inner)
		if err != nil {
			return typesys.Value{}, err
		}
		out := typesys.NewDynamic(iv)
		iv.Destroy()
		return out, nil
	case typesys.KindObject, typesys.KindPointer:
		if c.Objects == nil {
			return typesys.Value{}, status.Errorf(status.ProtocolError, "no object coder for %s", d.Signature())
		}
		service, err := readU32(r)
		if err != nil {
			return typesys.Value{}, err
		}
		object, err := readU32(r)
		if err != nil {
			return typesys.Value{}, err
		}
		return c.Objects.DecodeRef(service, object)
	}
	return typesys.Value{}, status.Errorf(status.ProtocolError, "cannot decode kind %s", d.Kind())
}

func (c *Codec) decodeUint(r *bytes.Reader, bits int) (uint64, error) {
	switch bits {
	case 1:
		b, err := r.ReadByte()
		if err != nil {
			return 0, decodeErr(err)
		}
		return uint64(b & 1), nil
	case 8:
		b, err := r.ReadByte()
		if err != nil {
			return 0, decodeErr(err)
		}
		return uint64(b), nil
	case 16:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, decodeErr(err)
		}
		return uint64(binary.LittleEndian.Uint16(b[:])), nil
	case 32:
		u, err := readU32(r)
		return uint64(u), err
	default:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, decodeErr(err)
		}
		return binary.LittleEndian.Uint64(b[:]), nil
	}
}

func (c *Codec) decodeString(r *bytes.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	if int(n) > r.Len() {
		return "", status.Errorf(status.ProtocolError, "string length %d exceeds input", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", decodeErr(err)
	}
	return string(buf), nil
}

func signExtend(u uint64, bits int) int64 {
	if bits >= 64 {
		return int64(u)
	}
	shift := 64 - uint(bits)
	return int64(u<<shift) >> shift
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, decodeErr(err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func decodeErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return status.Errorf(status.ProtocolError, "truncated payload")
	}
	return fmt.Errorf("wire: %w", err)
}
