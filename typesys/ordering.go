package typesys

import "reflect"

// Less is the total ordering used by value-keyed containers.
//
// Null orders first. When kinds differ the kind tag breaks the tie,
// except Int and Float which compare numerically. Within a kind:
// numeric compare for Int/Float, length-then-bytes for String,
// length-first lexicographic for List and Map, and storage identity
// (opaque but total) for Object, Pointer, Tuple, Dynamic, Raw and
// Iterator.
func Less(a, b Value) bool {
	if a.d == nil {
		return b.d != nil
	}
	if b.d == nil {
		return false
	}
	ka, kb := a.d.kind, b.d.kind
	if ka != kb {
		if ka == KindInt && kb == KindFloat {
			return a.ToDouble() < b.ToDouble()
		}
		if ka == KindFloat && kb == KindInt {
			return a.ToDouble() < b.ToDouble()
		}
		return ka < kb
	}
	switch ka {
	case KindVoid:
		return false
	case KindInt:
		if a.d.signed || b.d.signed {
			return a.ToInt() < b.ToInt()
		}
		return a.ToUInt() < b.ToUInt()
	case KindFloat:
		return a.ToDouble() < b.ToDouble()
	case KindString:
		sa, sb := a.ToString(), b.ToString()
		if len(sa) != len(sb) {
			return len(sa) < len(sb)
		}
		return sa < sb
	case KindList:
		la, lb := a.Size(), b.Size()
		if la != lb {
			return la < lb
		}
		for i := 0; i < la; i++ {
			ea, eb := a.Element(i), b.Element(i)
			if Less(ea, eb) {
				return true
			}
			if Less(eb, ea) {
				return false
			}
		}
		return false
	case KindMap:
		ca := a.cell.(*mapCell)
		cb := b.cell.(*mapCell)
		if len(ca.keys) != len(cb.keys) {
			return len(ca.keys) < len(cb.keys)
		}
		for i := range ca.keys {
			ka := borrow(a.d.key, ca.keys[i])
			kb := borrow(b.d.key, cb.keys[i])
			if Less(ka, kb) {
				return true
			}
			if Less(kb, ka) {
				return false
			}
			va := borrow(a.d.elem, ca.vals[i])
			vb := borrow(b.d.elem, cb.vals[i])
			if Less(va, vb) {
				return true
			}
			if Less(vb, va) {
				return false
			}
		}
		return false
	}
	return cellAddr(a.cell) < cellAddr(b.cell)
}

func cellAddr(cell interface{}) uintptr {
	if cell == nil {
		return 0
	}
	return reflect.ValueOf(cell).Pointer()
}

// Equal reports value equality: !(a<b) && !(b<a), except iterators of
// the same type which compare structurally (same container position).
func Equal(a, b Value) bool {
	if a.Kind() == KindIterator && b.Kind() == KindIterator && a.d.info.Equal(b.d.info) {
		ca := a.cell.(*iterCell)
		cb := b.cell.(*iterCell)
		return ca.src.cell == cb.src.cell && ca.idx == cb.idx
	}
	return !Less(a, b) && !Less(b, a)
}
