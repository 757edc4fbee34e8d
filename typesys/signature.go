package typesys

import "fmt"

// WireSignature returns the canonical signature used on the wire for
// dynamic payloads. It differs from the fingerprint signature in one
// way: object names are erased, and object references (pointers to
// objects) collapse to plain "o", since the receiving side rebuilds a
// proxy from the transported ids rather than from the name.
func (d *Descriptor) WireSignature() string {
	switch d.kind {
	case KindObject:
		return sigObject
	case KindPointer:
		if d.elem.kind == KindObject {
			return sigObject
		}
		return "*" + d.elem.WireSignature()
	case KindList:
		return "[" + d.elem.WireSignature() + "]"
	case KindMap:
		return "{" + d.key.WireSignature() + d.elem.WireSignature() + "}"
	case KindTuple:
		s := "("
		for _, m := range d.members {
			s += m.WireSignature()
		}
		return s + ")"
	case KindIterator:
		return "^" + d.elem.WireSignature()
	}
	return d.info.Sig
}

// ParseSignature builds a descriptor from a wire signature. The
// resulting descriptors are synthetic: scalar signatures map onto the
// canonical descriptors, composites are rebuilt structurally, and "o"
// maps to a reference to the generic object type.
func ParseSignature(sig string) (*Descriptor, error) {
	d, rest, err := parseSig(sig)
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, fmt.Errorf("typesys: trailing characters in signature %q", sig)
	}
	return d, nil
}

func parseSig(s string) (*Descriptor, string, error) {
	if s == "" {
		return nil, "", fmt.Errorf("typesys: empty signature")
	}
	switch s[0] {
	case 'v':
		return voidType, s[1:], nil
	case 'b':
		return boolType, s[1:], nil
	case 'c':
		return int8Type, s[1:], nil
	case 'C':
		return uint8Type, s[1:], nil
	case 'w':
		return int16Type, s[1:], nil
	case 'W':
		return uint16Type, s[1:], nil
	case 'i':
		return int32Type, s[1:], nil
	case 'I':
		return uint32Type, s[1:], nil
	case 'l':
		return int64Type, s[1:], nil
	case 'L':
		return uint64Type, s[1:], nil
	case 'f':
		return float32Type, s[1:], nil
	case 'd':
		return float64Type, s[1:], nil
	case 's':
		return stringType, s[1:], nil
	case 'r':
		return rawType, s[1:], nil
	case 'm':
		return dynamicType, s[1:], nil
	case 'o':
		return PointerTo(genericObjectType), s[1:], nil
	case 'X':
		return unknownType, s[1:], nil
	case '*':
		pointee, rest, err := parseSig(s[1:])
		if err != nil {
			return nil, "", err
		}
		return PointerTo(pointee), rest, nil
	case '^':
		elem, rest, err := parseSig(s[1:])
		if err != nil {
			return nil, "", err
		}
		return IteratorOf(elem), rest, nil
	case '[':
		elem, rest, err := parseSig(s[1:])
		if err != nil {
			return nil, "", err
		}
		if rest == "" || rest[0] != ']' {
			return nil, "", fmt.Errorf("typesys: unterminated list signature")
		}
		return ListOf(elem), rest[1:], nil
	case '{':
		key, rest, err := parseSig(s[1:])
		if err != nil {
			return nil, "", err
		}
		elem, rest, err := parseSig(rest)
		if err != nil {
			return nil, "", err
		}
		if rest == "" || rest[0] != '}' {
			return nil, "", fmt.Errorf("typesys: unterminated map signature")
		}
		return MapOf(key, elem), rest[1:], nil
	case '(':
		var members []*Descriptor
		rest := s[1:]
		for {
			if rest == "" {
				return nil, "", fmt.Errorf("typesys: unterminated tuple signature")
			}
			if rest[0] == ')' {
				return TupleOf(members, nil), rest[1:], nil
			}
			var m *Descriptor
			var err error
			m, rest, err = parseSig(rest)
			if err != nil {
				return nil, "", err
			}
			members = append(members, m)
		}
	}
	return nil, "", fmt.Errorf("typesys: unknown signature character %q", s[0])
}
