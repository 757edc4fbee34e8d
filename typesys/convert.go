package typesys

import (
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("qi.typesys")

// Convert rewrites source into the shape described by target. The
// returned bool reports whether the caller now owns the result and must
// eventually destroy it; false means the result borrows the source's
// storage (or is the invalid sentinel on failure).
//
// Conversion never panics: a failed conversion yields the sentinel.
// Rules are tried in order, first match wins.
func Convert(source Value, target *Descriptor) (Value, bool) {
	// Identity short-circuit on the exact same descriptor.
	if source.d == target {
		return source, false
	}
	if target == nil || source.d == nil {
		log.Warning("conversion error: can't convert to/from a null type")
		return Value{}, false
	}

	skind := source.d.kind
	dkind := target.kind

	if skind == dkind {
		switch skind {
		case KindFloat:
			out := newOwning(target)
			out.cell.(*floatCell).v = source.ToDouble()
			return out, true

		case KindInt:
			v := source.cell.(*intCell).v
			out := newOwning(target)
			var err error
			// Bounce through the checked setters so narrowing is
			// range-checked against the target's width and signedness.
			if source.d.signed {
				err = out.trySetInt(v)
			} else {
				err = out.trySetUInt(uint64(v))
			}
			if err != nil {
				out.Destroy()
				return Value{}, false
			}
			return out, true

		case KindString:
			if target.info.Equal(source.d.info) {
				return source, false
			}
			out := newOwning(target)
			out.cell.(*strCell).v = source.ToString()
			return out, true

		case KindList:
			needConvert := !source.d.elem.info.Equal(target.elem.info)
			out := newOwning(target)
			n := source.Size()
			for i := 0; i < n; i++ {
				el := source.Element(i)
				if !needConvert {
					out.cell.(*listCell).elems = append(out.cell.(*listCell).elems,
						cloneCell(target.elem, el.cell))
					continue
				}
				c, owned := Convert(el, target.elem)
				if !c.IsValid() {
					out.Destroy()
					return Value{}, false
				}
				out.cell.(*listCell).elems = append(out.cell.(*listCell).elems,
					cloneCell(target.elem, c.cell))
				if owned {
					c.Destroy()
				}
			}
			return out, true

		case KindMap:
			sameKey := source.d.key.info.Equal(target.key.info)
			sameElem := source.d.elem.info.Equal(target.elem.info)
			out := newOwning(target)
			oc := out.cell.(*mapCell)
			sc := source.cell.(*mapCell)
			for i := range sc.keys {
				kv := borrow(source.d.key, sc.keys[i])
				ev := borrow(source.d.elem, sc.vals[i])
				var ck, cv Value
				var kOwned, vOwned bool
				ck = kv
				if !sameKey {
					ck, kOwned = Convert(kv, target.key)
					if !ck.IsValid() {
						out.Destroy()
						return Value{}, false
					}
				}
				cv = ev
				if !sameElem {
					cv, vOwned = Convert(ev, target.elem)
					if !cv.IsValid() {
						if kOwned {
							ck.Destroy()
						}
						out.Destroy()
						return Value{}, false
					}
				}
				oc.keys = append(oc.keys, cloneCell(target.key, ck.cell))
				oc.vals = append(oc.vals, cloneCell(target.elem, cv.cell))
				if kOwned {
					ck.Destroy()
				}
				if vOwned {
					cv.Destroy()
				}
			}
			return out, true

		case KindTuple:
			if len(target.members) != len(source.d.members) {
				log.Warning("conversion failure: tuple size mismatch")
				return Value{}, false
			}
			converted := make([]Value, len(target.members))
			mustDestroy := make([]bool, len(target.members))
			for i := range target.members {
				c, owned := Convert(source.Element(i), target.members[i])
				if !c.IsValid() {
					log.Warningf("conversion failure in tuple member between %s and %s",
						source.d.members[i].Signature(), target.members[i].Signature())
					for j := 0; j < i; j++ {
						if mustDestroy[j] {
							converted[j].Destroy()
						}
					}
					return Value{}, false
				}
				converted[i] = c
				mustDestroy[i] = owned
			}
			out := newOwning(target)
			tc := out.cell.(*tupleCell)
			for i := range converted {
				tc.members[i] = cloneCell(target.members[i], converted[i].cell)
				if mustDestroy[i] {
					converted[i].Destroy()
				}
			}
			return out, true

		case KindPointer:
			// Only pointer-to-object conversion is attempted; everything
			// else must match exactly.
			if source.d.elem.kind != KindObject || target.elem.kind != KindObject {
				if source.d.info.Equal(target.info) {
					return source, false
				}
				return Value{}, false
			}
			if pointee, owned := Convert(source.Dereference(), target.elem); pointee.IsValid() {
				if owned {
					log.Error("assertion error, allocated converted reference")
				}
				out := newOwning(target)
				out.cell.(*ptrCell).pointee = pointee.cell
				out.owned = false
				return out, false
			}
			// Fall through: the proxy generator map may still produce a
			// typed reference for this target.

		case KindDynamic:
			out := newOwning(target)
			out.cell.(*dynCell).v = source.Inner().Clone()
			return out, true

		case KindRaw:
			out := newOwning(target)
			buf := make([]byte, len(source.ToRaw()))
			copy(buf, source.ToRaw())
			out.cell.(*rawCell).v = buf
			return out, true
		}
	}

	// Cross-kind numeric.
	if skind == KindFloat && dkind == KindInt {
		out := newOwning(target)
		// Bounce to setDouble for the overflow check.
		if err := out.trySetDouble(source.ToDouble()); err != nil {
			out.Destroy()
			return Value{}, false
		}
		return out, true
	}
	if skind == KindInt && dkind == KindFloat {
		out := newOwning(target)
		if source.d.signed {
			out.cell.(*floatCell).v = float64(source.ToInt())
		} else {
			out.cell.(*floatCell).v = float64(source.ToUInt())
		}
		return out, true
	}

	// String <-> Raw.
	if skind == KindString && dkind == KindRaw {
		s := source.ToString()
		out := newOwning(target)
		buf := make([]byte, len(s))
		copy(buf, s)
		out.cell.(*rawCell).v = buf
		return out, true
	}
	if skind == KindRaw && dkind == KindString {
		log.Warning("conversion attempt from raw to string")
		return Value{}, false
	}

	// Dynamic wrapping.
	if dkind == KindDynamic {
		out := newOwning(target)
		out.cell.(*dynCell).v = source.Clone()
		return out, true
	}

	// Typed proxy generation for object references.
	if skind == KindPointer && source.d.elem.kind == KindObject &&
		dkind == KindPointer && target.elem.kind == KindObject {
		if gen := lookupProxyGenerator(target.elem.info); gen != nil {
			return gen(source), true
		}
	}

	// Dynamic unwrapping re-enters the rule list with the boxed value.
	if skind == KindDynamic {
		return Convert(source.Inner(), target)
	}

	// Object to pointer: convert to the pointee, then re-reference.
	if skind == KindObject && dkind == KindPointer {
		pointee, owned := Convert(source, target.elem)
		if !pointee.IsValid() {
			return Value{}, false
		}
		if owned {
			log.Error("assertion error, allocated converted reference")
		}
		out := newOwning(target)
		out.cell.(*ptrCell).pointee = pointee.cell
		out.owned = false
		return out, false
	}

	// Object ancestry: borrow the same storage as the ancestor type.
	if skind == KindObject && dkind == KindObject && source.d.InheritsFrom(target) {
		return borrow(target, source.cell), false
	}

	// Last resort: identical fingerprints are interchangeable.
	if source.d.info.Equal(target.info) {
		return source, false
	}

	return Value{}, false
}

// ConvertCopy converts and guarantees the result is owning: a borrowing
// result is cloned.
func ConvertCopy(source Value, target *Descriptor) Value {
	res, owned := Convert(source, target)
	if owned {
		return res
	}
	return res.Clone()
}
