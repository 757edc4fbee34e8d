package typesys

import (
	"reflect"
	"strings"
)

// Descriptor describes one runtime type: its Kind, its fingerprint, and
// the kind-specific sub-descriptors the conversion engine needs. It is a
// flat tagged record, not a class tree; all dispatch goes through Kind.
//
// Descriptors are immutable after construction and are never destroyed.
type Descriptor struct {
	kind Kind
	info TypeInfo

	// Int
	signed bool
	bits   int // 1 (bool), 8, 16, 32, 64; Float: 32 or 64

	elem    *Descriptor   // List and Iterator element, Pointer pointee
	key     *Descriptor   // Map key (elem holds the map element)
	members []*Descriptor // Tuple members, in declared order
	names   []string      // Tuple field annotations, may be nil

	meta     *MetaObject   // Object method/signal/property tables
	inherits []*Descriptor // Object ancestry, outermost first
}

// Kind returns the type category.
func (d *Descriptor) Kind() Kind { return d.kind }

// Info returns the descriptor fingerprint.
func (d *Descriptor) Info() TypeInfo { return d.info }

// Signature returns the compact structural signature.
func (d *Descriptor) Signature() string { return d.info.Sig }

// IsSigned reports signedness; valid for Int descriptors only.
func (d *Descriptor) IsSigned() bool { return d.signed }

// Bits returns the storage width in bits for Int and Float descriptors.
func (d *Descriptor) Bits() int { return d.bits }

// Elem returns the element type of a List or Iterator, or the pointee of
// a Pointer. Nil for other kinds.
func (d *Descriptor) Elem() *Descriptor { return d.elem }

// Key returns the key type of a Map. Nil for other kinds.
func (d *Descriptor) Key() *Descriptor { return d.key }

// Members returns the ordered member types of a Tuple.
func (d *Descriptor) Members() []*Descriptor { return d.members }

// FieldNames returns the tuple field annotations, or nil.
func (d *Descriptor) FieldNames() []string { return d.names }

// Meta returns the meta-object tables of an Object descriptor.
func (d *Descriptor) Meta() *MetaObject { return d.meta }

// InheritsFrom reports whether an Object descriptor declares target as
// an ancestor. The borrowing conversion of an object into an ancestor
// reuses the same storage.
func (d *Descriptor) InheritsFrom(target *Descriptor) bool {
	for _, a := range d.inherits {
		if a == target || a.info.Equal(target.info) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Primitive descriptors
// ---------------------------------------------------------------------------

var (
	voidType    = &Descriptor{kind: KindVoid, info: TypeInfo{Sig: sigVoid}}
	unknownType = &Descriptor{kind: KindUnknown, info: TypeInfo{Sig: sigUnknown}}
	dynamicType = &Descriptor{kind: KindDynamic, info: TypeInfo{Sig: sigDynamic}}
	rawType     = &Descriptor{kind: KindRaw, info: TypeInfo{Sig: sigRaw, RT: reflect.TypeOf([]byte(nil))}}
	stringType  = &Descriptor{kind: KindString, info: TypeInfo{Sig: sigString, RT: reflect.TypeOf("")}}

	boolType   = newIntType(false, 1, reflect.TypeOf(false))
	int8Type   = newIntType(true, 8, reflect.TypeOf(int8(0)))
	uint8Type  = newIntType(false, 8, reflect.TypeOf(uint8(0)))
	int16Type  = newIntType(true, 16, reflect.TypeOf(int16(0)))
	uint16Type = newIntType(false, 16, reflect.TypeOf(uint16(0)))
	int32Type  = newIntType(true, 32, reflect.TypeOf(int32(0)))
	uint32Type = newIntType(false, 32, reflect.TypeOf(uint32(0)))
	int64Type  = newIntType(true, 64, reflect.TypeOf(int64(0)))
	uint64Type = newIntType(false, 64, reflect.TypeOf(uint64(0)))

	float32Type = &Descriptor{kind: KindFloat, bits: 32, info: TypeInfo{Sig: floatSignature(32), RT: reflect.TypeOf(float32(0))}}
	float64Type = &Descriptor{kind: KindFloat, bits: 64, info: TypeInfo{Sig: floatSignature(64), RT: reflect.TypeOf(float64(0))}}
)

func newIntType(signed bool, bits int, rt reflect.Type) *Descriptor {
	return &Descriptor{
		kind:   KindInt,
		signed: signed,
		bits:   bits,
		info:   TypeInfo{Sig: intSignature(signed, bits), RT: rt},
	}
}

// VoidType returns the descriptor for "no value".
func VoidType() *Descriptor { return voidType }

// UnknownType returns the descriptor for opaque, non-convertible values.
func UnknownType() *Descriptor { return unknownType }

// DynamicType returns the descriptor for boxed values.
func DynamicType() *Descriptor { return dynamicType }

// RawType returns the descriptor for raw byte buffers.
func RawType() *Descriptor { return rawType }

// StringType returns the descriptor for strings.
func StringType() *Descriptor { return stringType }

// BoolType returns the descriptor for booleans (unsigned Int, width 1).
func BoolType() *Descriptor { return boolType }

// Int8Type and friends return the fixed-width integer descriptors.
func Int8Type() *Descriptor   { return int8Type }
func UInt8Type() *Descriptor  { return uint8Type }
func Int16Type() *Descriptor  { return int16Type }
func UInt16Type() *Descriptor { return uint16Type }
func Int32Type() *Descriptor  { return int32Type }
func UInt32Type() *Descriptor { return uint32Type }
func Int64Type() *Descriptor  { return int64Type }
func UInt64Type() *Descriptor { return uint64Type }

// Float32Type returns the 32-bit float descriptor.
func Float32Type() *Descriptor { return float32Type }

// Float64Type returns the 64-bit float descriptor.
func Float64Type() *Descriptor { return float64Type }

// ---------------------------------------------------------------------------
// Composite descriptors
// ---------------------------------------------------------------------------

// ListOf returns a synthetic list descriptor with the given element type.
func ListOf(elem *Descriptor) *Descriptor {
	return &Descriptor{
		kind: KindList,
		elem: elem,
		info: TypeInfo{Sig: "[" + elem.info.Sig + "]"},
	}
}

// MapOf returns a synthetic map descriptor. Iteration order of map
// values follows insertion order of the storage, not key order.
func MapOf(key, elem *Descriptor) *Descriptor {
	return &Descriptor{
		kind: KindMap,
		key:  key,
		elem: elem,
		info: TypeInfo{Sig: "{" + key.info.Sig + elem.info.Sig + "}"},
	}
}

// TupleOf returns a synthetic tuple descriptor with the given ordered
// member types. names may be nil or must match the member count.
func TupleOf(members []*Descriptor, names []string) *Descriptor {
	var sb strings.Builder
	sb.WriteByte('(')
	for _, m := range members {
		sb.WriteString(m.info.Sig)
	}
	sb.WriteByte(')')
	if names != nil && len(names) != len(members) {
		panic("typesys.TupleOf: field name count mismatch")
	}
	return &Descriptor{
		kind:    KindTuple,
		members: members,
		names:   names,
		info:    TypeInfo{Sig: sb.String()},
	}
}

// PointerTo returns a pointer descriptor for the given pointee.
func PointerTo(pointee *Descriptor) *Descriptor {
	return &Descriptor{
		kind: KindPointer,
		elem: pointee,
		info: TypeInfo{Sig: "*" + pointee.info.Sig},
	}
}

// IteratorOf returns an iterator descriptor yielding elem values.
func IteratorOf(elem *Descriptor) *Descriptor {
	return &Descriptor{
		kind: KindIterator,
		elem: elem,
		info: TypeInfo{Sig: "^" + elem.info.Sig},
	}
}

// NewObjectType builds an object descriptor around a meta-object.
// The name participates in the fingerprint so distinct services with
// identical tables stay distinct types. ancestors lists object
// descriptors this one may be borrowed as (embedded services); every
// object implicitly descends from the generic object type.
func NewObjectType(name string, meta *MetaObject, ancestors ...*Descriptor) *Descriptor {
	return &Descriptor{
		kind:     KindObject,
		meta:     meta,
		inherits: append(ancestors, genericObjectType),
		info:     TypeInfo{Sig: sigObject + "<" + name + ">"},
	}
}

// genericObjectType is the ancestor of every object descriptor: the
// target for parameters that accept any object reference (*AnyObject).
var genericObjectType = &Descriptor{
	kind: KindObject,
	meta: NewMetaObject(),
	info: TypeInfo{Sig: sigObject + "<Generic>"},
}

// GenericObjectType returns the descriptor every object inherits from.
func GenericObjectType() *Descriptor { return genericObjectType }
