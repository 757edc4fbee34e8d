package typesys

import (
	"fmt"
	"math"
)

// Value is the carrier: a descriptor plus a storage cell, with explicit
// ownership. A borrowing Value aliases storage owned elsewhere and must
// be cloned before its referent goes away; an owning Value must be
// destroyed through the same descriptor exactly once.
//
// The zero Value is the "no value" sentinel: nil descriptor, nil storage.
type Value struct {
	d     *Descriptor
	cell  interface{}
	owned bool
}

// Storage cells. Every cell is a small heap record with a dead flag so
// that use-after-destroy and double-destroy are caught.
type (
	intCell struct { // unsigned values keep their bit pattern
		v    int64
		dead bool
	}
	floatCell struct {
		v    float64
		dead bool
	}
	strCell struct {
		v    string
		dead bool
	}
	rawCell struct {
		v    []byte
		dead bool
	}
	listCell struct {
		elems []interface{}
		dead  bool
	}
	mapCell struct {
		keys, vals []interface{}
		dead       bool
	}
	tupleCell struct {
		members []interface{}
		dead    bool
	}
	dynCell struct { // inner value is owned by the cell
		v    Value
		dead bool
	}
	ptrCell struct {
		pointee interface{}
		dead    bool
	}
	objCell struct {
		id   ObjectID
		dead bool
	}
	iterCell struct {
		src  Value // borrowed container
		idx  int
		dead bool
	}
)

// IsValid reports whether v carries a value at all.
func (v Value) IsValid() bool { return v.d != nil }

// Descriptor returns the value's type descriptor, nil for the sentinel.
func (v Value) Descriptor() *Descriptor { return v.d }

// Kind returns the value's kind, KindUnknown for the sentinel.
func (v Value) Kind() Kind {
	if v.d == nil {
		return KindUnknown
	}
	return v.d.kind
}

// Owned reports whether destroying v would tear down its storage.
func (v Value) Owned() bool { return v.owned }

func (v Value) checkAlive(op string) {
	if dead := cellDead(v.cell); dead {
		panic("typesys." + op + ": value used after destroy")
	}
}

func cellDead(cell interface{}) bool {
	switch c := cell.(type) {
	case *intCell:
		return c.dead
	case *floatCell:
		return c.dead
	case *strCell:
		return c.dead
	case *rawCell:
		return c.dead
	case *listCell:
		return c.dead
	case *mapCell:
		return c.dead
	case *tupleCell:
		return c.dead
	case *dynCell:
		return c.dead
	case *ptrCell:
		return c.dead
	case *objCell:
		return c.dead
	case *iterCell:
		return c.dead
	}
	return false
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// Void returns the owning value of kind Void (distinct from the invalid
// sentinel: a Void value is a real result carrying no payload).
func Void() Value {
	return Value{d: voidType, owned: true}
}

// NewInt builds an owning value of the given int descriptor, checking
// range. Panics if d is not an Int descriptor or the value overflows.
func NewInt(d *Descriptor, v int64) Value {
	val := newOwning(d)
	if err := val.trySetInt(v); err != nil {
		panic(fmt.Sprintf("typesys.NewInt: %v", err))
	}
	return val
}

// NewUInt is NewInt for unsigned payloads.
func NewUInt(d *Descriptor, v uint64) Value {
	val := newOwning(d)
	if err := val.trySetUInt(v); err != nil {
		panic(fmt.Sprintf("typesys.NewUInt: %v", err))
	}
	return val
}

// NewBool builds an owning boolean value.
func NewBool(b bool) Value {
	var n int64
	if b {
		n = 1
	}
	return NewInt(boolType, n)
}

// NewFloat builds an owning float value of the given descriptor.
func NewFloat(d *Descriptor, v float64) Value {
	if d.kind != KindFloat {
		panic("typesys.NewFloat: not a float descriptor")
	}
	val := newOwning(d)
	val.cell.(*floatCell).v = v
	return val
}

// NewString builds an owning string value.
func NewString(s string) Value {
	val := newOwning(stringType)
	val.cell.(*strCell).v = s
	return val
}

// NewRaw builds an owning raw buffer value; the bytes are copied.
func NewRaw(b []byte) Value {
	val := newOwning(rawType)
	buf := make([]byte, len(b))
	copy(buf, b)
	val.cell.(*rawCell).v = buf
	return val
}

// NewList builds an owning empty list of the given element type.
func NewList(elem *Descriptor) Value {
	return newOwning(ListOf(elem))
}

// NewMap builds an owning empty map with the given key and element types.
func NewMap(key, elem *Descriptor) Value {
	return newOwning(MapOf(key, elem))
}

// NewTuple builds an owning tuple of the given descriptor from member
// values, converting each to the declared member type. Panics on size
// mismatch or inconvertible members (programmer-facing misuse; wire
// decoding passes members that already match).
func NewTuple(d *Descriptor, members []Value) Value {
	if d.kind != KindTuple {
		panic("typesys.NewTuple: not a tuple descriptor")
	}
	if len(members) != len(d.members) {
		panic("typesys.NewTuple: member count mismatch")
	}
	out := newOwning(d)
	tc := out.cell.(*tupleCell)
	for i, m := range members {
		conv, owned := Convert(m, d.members[i])
		if !conv.IsValid() {
			panic(fmt.Sprintf("typesys.NewTuple: member %d does not convert to %s", i, d.members[i].Signature()))
		}
		tc.members[i] = cloneCell(d.members[i], conv.cell)
		if owned {
			conv.Destroy()
		}
	}
	return out
}

// NewDynamic boxes a clone of inner into an owning dynamic value.
func NewDynamic(inner Value) Value {
	val := newOwning(dynamicType)
	val.cell.(*dynCell).v = inner.Clone()
	return val
}

// newOwning allocates fresh storage for d (initializeStorage).
func newOwning(d *Descriptor) Value {
	if d == nil {
		return Value{}
	}
	return Value{d: d, cell: newCell(d), owned: true}
}

func newCell(d *Descriptor) interface{} {
	switch d.kind {
	case KindVoid:
		return nil
	case KindInt:
		return &intCell{}
	case KindFloat:
		return &floatCell{}
	case KindString:
		return &strCell{}
	case KindRaw:
		return &rawCell{}
	case KindList:
		return &listCell{}
	case KindMap:
		return &mapCell{}
	case KindTuple:
		c := &tupleCell{members: make([]interface{}, len(d.members))}
		for i, m := range d.members {
			c.members[i] = newCell(m)
		}
		return c
	case KindDynamic:
		return &dynCell{}
	case KindPointer:
		return &ptrCell{}
	case KindObject:
		return &objCell{}
	case KindIterator:
		return &iterCell{}
	}
	return nil
}

// borrow wraps existing storage without taking ownership.
func borrow(d *Descriptor, cell interface{}) Value {
	return Value{d: d, cell: cell, owned: false}
}

// ---------------------------------------------------------------------------
// Clone and destroy
// ---------------------------------------------------------------------------

// Clone returns an owning deep copy. Cloning the sentinel yields the
// sentinel.
func (v Value) Clone() Value {
	if v.d == nil {
		return Value{}
	}
	v.checkAlive("Clone")
	return Value{d: v.d, cell: cloneCell(v.d, v.cell), owned: true}
}

func cloneCell(d *Descriptor, cell interface{}) interface{} {
	switch d.kind {
	case KindVoid:
		return nil
	case KindInt:
		return &intCell{v: cell.(*intCell).v}
	case KindFloat:
		return &floatCell{v: cell.(*floatCell).v}
	case KindString:
		return &strCell{v: cell.(*strCell).v}
	case KindRaw:
		src := cell.(*rawCell)
		buf := make([]byte, len(src.v))
		copy(buf, src.v)
		return &rawCell{v: buf}
	case KindList:
		src := cell.(*listCell)
		dst := &listCell{elems: make([]interface{}, len(src.elems))}
		for i, e := range src.elems {
			dst.elems[i] = cloneCell(d.elem, e)
		}
		return dst
	case KindMap:
		src := cell.(*mapCell)
		dst := &mapCell{
			keys: make([]interface{}, len(src.keys)),
			vals: make([]interface{}, len(src.vals)),
		}
		for i := range src.keys {
			dst.keys[i] = cloneCell(d.key, src.keys[i])
			dst.vals[i] = cloneCell(d.elem, src.vals[i])
		}
		return dst
	case KindTuple:
		src := cell.(*tupleCell)
		dst := &tupleCell{members: make([]interface{}, len(src.members))}
		for i, m := range src.members {
			dst.members[i] = cloneCell(d.members[i], m)
		}
		return dst
	case KindDynamic:
		return &dynCell{v: cell.(*dynCell).v.Clone()}
	case KindPointer:
		// A pointer clone aliases the same pointee.
		return &ptrCell{pointee: cell.(*ptrCell).pointee}
	case KindObject:
		return &objCell{id: cell.(*objCell).id}
	case KindIterator:
		src := cell.(*iterCell)
		return &iterCell{src: src.src, idx: src.idx}
	}
	return nil
}

// Destroy tears down owning storage through the descriptor. It is a
// no-op on borrowing values and on the sentinel. Destroying the same
// owning value twice panics.
func (v Value) Destroy() {
	if v.d == nil || !v.owned || v.cell == nil {
		return
	}
	destroyCell(v.d, v.cell)
}

func destroyCell(d *Descriptor, cell interface{}) {
	if cellDead(cell) {
		panic("typesys.Destroy: double destroy")
	}
	switch d.kind {
	case KindInt:
		cell.(*intCell).dead = true
	case KindFloat:
		cell.(*floatCell).dead = true
	case KindString:
		cell.(*strCell).dead = true
	case KindRaw:
		c := cell.(*rawCell)
		c.v = nil
		c.dead = true
	case KindList:
		c := cell.(*listCell)
		for _, e := range c.elems {
			destroyCell(d.elem, e)
		}
		c.elems = nil
		c.dead = true
	case KindMap:
		c := cell.(*mapCell)
		for i := range c.keys {
			destroyCell(d.key, c.keys[i])
			destroyCell(d.elem, c.vals[i])
		}
		c.keys, c.vals = nil, nil
		c.dead = true
	case KindTuple:
		c := cell.(*tupleCell)
		for i, m := range c.members {
			destroyCell(d.members[i], m)
		}
		c.members = nil
		c.dead = true
	case KindDynamic:
		c := cell.(*dynCell)
		c.v.Destroy()
		c.dead = true
	case KindPointer:
		c := cell.(*ptrCell)
		c.pointee = nil
		c.dead = true
	case KindObject:
		cell.(*objCell).dead = true
	case KindIterator:
		cell.(*iterCell).dead = true
	}
}

// ---------------------------------------------------------------------------
// Container access
// ---------------------------------------------------------------------------

// Size returns the element count of a List or Map, or the member count
// of a Tuple. Panics on any other kind.
func (v Value) Size() int {
	v.checkAlive("Size")
	switch v.Kind() {
	case KindList:
		return len(v.cell.(*listCell).elems)
	case KindMap:
		return len(v.cell.(*mapCell).keys)
	case KindTuple:
		return len(v.cell.(*tupleCell).members)
	}
	panic("typesys.Size: expected List, Map or Tuple kind")
}

// Element returns a borrowing view of the i-th element of a List, the
// i-th member of a Tuple. Panics on out-of-range access or other kinds.
func (v Value) Element(i int) Value {
	v.checkAlive("Element")
	switch v.Kind() {
	case KindList:
		c := v.cell.(*listCell)
		if i < 0 || i >= len(c.elems) {
			panic("typesys.Element: index out of range")
		}
		return borrow(v.d.elem, c.elems[i])
	case KindTuple:
		c := v.cell.(*tupleCell)
		if i < 0 || i >= len(c.members) {
			panic("typesys.Element: index out of range")
		}
		return borrow(v.d.members[i], c.members[i])
	}
	panic("typesys.Element: expected List or Tuple kind")
}

// ElementByKey looks up a map entry by key, converting the key to the
// map's key type first. Returns the sentinel when the key is absent and
// autoInsert is false; inserts a zero element otherwise. Panics when the
// key cannot be converted.
func (v Value) ElementByKey(key Value, autoInsert bool) Value {
	v.checkAlive("ElementByKey")
	if v.Kind() != KindMap {
		panic("typesys.ElementByKey: expected Map kind")
	}
	ck, owned := Convert(key, v.d.key)
	if !ck.IsValid() {
		panic("typesys.ElementByKey: incompatible key type")
	}
	defer func() {
		if owned {
			ck.Destroy()
		}
	}()
	c := v.cell.(*mapCell)
	for i := range c.keys {
		if Equal(borrow(v.d.key, c.keys[i]), ck) {
			return borrow(v.d.elem, c.vals[i])
		}
	}
	if !autoInsert {
		return Value{}
	}
	c.keys = append(c.keys, cloneCell(v.d.key, ck.cell))
	c.vals = append(c.vals, newCell(v.d.elem))
	return borrow(v.d.elem, c.vals[len(c.vals)-1])
}

// Append converts elem to the list's element type and appends a copy.
// Panics when v is not a list; returns an error when elem cannot be
// converted.
func (v Value) Append(elem Value) error {
	v.checkAlive("Append")
	if v.Kind() != KindList {
		panic("typesys.Append: expected a list")
	}
	c, owned := Convert(elem, v.d.elem)
	if !c.IsValid() {
		return fmt.Errorf("typesys: cannot append %s to %s", elem.d.Signature(), v.d.Signature())
	}
	v.cell.(*listCell).elems = append(v.cell.(*listCell).elems, cloneCell(v.d.elem, c.cell))
	if owned {
		c.Destroy()
	}
	return nil
}

// Insert converts key and val to the map's key and element types and
// stores a copy, replacing any existing entry for the key. Panics when
// v is not a map; returns an error when conversion fails.
func (v Value) Insert(key, val Value) error {
	v.checkAlive("Insert")
	if v.Kind() != KindMap {
		panic("typesys.Insert: expected a map")
	}
	ck, kOwned := Convert(key, v.d.key)
	if !ck.IsValid() {
		return fmt.Errorf("typesys: cannot convert map key %s to %s", key.d.Signature(), v.d.key.Signature())
	}
	cv, vOwned := Convert(val, v.d.elem)
	if !cv.IsValid() {
		if kOwned {
			ck.Destroy()
		}
		return fmt.Errorf("typesys: cannot convert map value %s to %s", val.d.Signature(), v.d.elem.Signature())
	}
	c := v.cell.(*mapCell)
	replaced := false
	for i := range c.keys {
		if Equal(borrow(v.d.key, c.keys[i]), ck) {
			destroyCell(v.d.elem, c.vals[i])
			c.vals[i] = cloneCell(v.d.elem, cv.cell)
			replaced = true
			break
		}
	}
	if !replaced {
		c.keys = append(c.keys, cloneCell(v.d.key, ck.cell))
		c.vals = append(c.vals, cloneCell(v.d.elem, cv.cell))
	}
	if kOwned {
		ck.Destroy()
	}
	if vOwned {
		cv.Destroy()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Scalar setters (with narrowing checks)
// ---------------------------------------------------------------------------

func intBounds(d *Descriptor) (min int64, max uint64) {
	if d.bits == 64 {
		if d.signed {
			return math.MinInt64, math.MaxInt64
		}
		return 0, math.MaxUint64
	}
	if d.signed {
		return -(int64(1) << (d.bits - 1)), uint64(1)<<(d.bits-1) - 1
	}
	return 0, uint64(1)<<d.bits - 1
}

func (v Value) trySetInt(n int64) error {
	if v.Kind() != KindInt {
		return fmt.Errorf("typesys: setInt on %s", v.Kind())
	}
	min, max := intBounds(v.d)
	if n < min {
		return fmt.Errorf("typesys: %d underflows %s", n, v.d.Signature())
	}
	if !v.d.signed && v.d.bits == 64 {
		// Any non-negative int64 fits.
	} else if n > 0 && uint64(n) > max {
		return fmt.Errorf("typesys: %d overflows %s", n, v.d.Signature())
	}
	v.cell.(*intCell).v = n
	return nil
}

func (v Value) trySetUInt(n uint64) error {
	if v.Kind() != KindInt {
		return fmt.Errorf("typesys: setUInt on %s", v.Kind())
	}
	_, max := intBounds(v.d)
	if n > max {
		return fmt.Errorf("typesys: %d overflows %s", n, v.d.Signature())
	}
	v.cell.(*intCell).v = int64(n)
	return nil
}

func (v Value) trySetDouble(f float64) error {
	switch v.Kind() {
	case KindFloat:
		v.cell.(*floatCell).v = f
		return nil
	case KindInt:
		min, max := intBounds(v.d)
		if math.IsNaN(f) || f < float64(min) || f > float64(max) {
			return fmt.Errorf("typesys: %g overflows %s", f, v.d.Signature())
		}
		if !v.d.signed {
			v.cell.(*intCell).v = int64(uint64(f))
		} else {
			v.cell.(*intCell).v = int64(f)
		}
		return nil
	}
	return fmt.Errorf("typesys: setDouble on %s", v.Kind())
}

// SetInt stores a signed integer, checking the descriptor's range.
// Panics on kind mismatch or overflow (programmer-facing misuse).
func (v Value) SetInt(n int64) {
	v.checkAlive("SetInt")
	if err := v.trySetInt(n); err != nil {
		panic("typesys.SetInt: " + err.Error())
	}
}

// SetUInt stores an unsigned integer, checking range.
func (v Value) SetUInt(n uint64) {
	v.checkAlive("SetUInt")
	if err := v.trySetUInt(n); err != nil {
		panic("typesys.SetUInt: " + err.Error())
	}
}

// SetDouble stores a float, or an integer after a range check.
func (v Value) SetDouble(f float64) {
	v.checkAlive("SetDouble")
	if err := v.trySetDouble(f); err != nil {
		panic("typesys.SetDouble: " + err.Error())
	}
}

// SetString replaces the string payload.
func (v Value) SetString(s string) {
	v.checkAlive("SetString")
	if v.Kind() != KindString {
		panic("typesys.SetString: not a string")
	}
	v.cell.(*strCell).v = s
}

// ---------------------------------------------------------------------------
// Scalar getters
// ---------------------------------------------------------------------------

// ToInt returns the value as int64. Valid for Int (identity) and Float
// (truncating); panics otherwise.
func (v Value) ToInt() int64 {
	v.checkAlive("ToInt")
	switch v.Kind() {
	case KindInt:
		return v.cell.(*intCell).v
	case KindFloat:
		return int64(v.cell.(*floatCell).v)
	}
	panic("typesys.ToInt: not a numeric value")
}

// ToUInt returns the value's unsigned payload bit pattern.
func (v Value) ToUInt() uint64 {
	v.checkAlive("ToUInt")
	if v.Kind() != KindInt {
		panic("typesys.ToUInt: not an int value")
	}
	return uint64(v.cell.(*intCell).v)
}

// ToBool interprets an Int value as a boolean.
func (v Value) ToBool() bool {
	return v.ToInt() != 0
}

// ToDouble returns the value as float64. Valid for Float and Int.
func (v Value) ToDouble() float64 {
	v.checkAlive("ToDouble")
	switch v.Kind() {
	case KindFloat:
		return v.cell.(*floatCell).v
	case KindInt:
		if !v.d.signed {
			return float64(uint64(v.cell.(*intCell).v))
		}
		return float64(v.cell.(*intCell).v)
	}
	panic("typesys.ToDouble: not a numeric value")
}

// ToString returns the string payload. Panics on non-strings.
func (v Value) ToString() string {
	v.checkAlive("ToString")
	if v.Kind() != KindString {
		panic("typesys.ToString: not a string value")
	}
	return v.cell.(*strCell).v
}

// ToRaw returns the raw buffer. The slice aliases the storage.
func (v Value) ToRaw() []byte {
	v.checkAlive("ToRaw")
	if v.Kind() != KindRaw {
		panic("typesys.ToRaw: not a raw value")
	}
	return v.cell.(*rawCell).v
}

// Inner returns a borrowing view of a dynamic's boxed value.
func (v Value) Inner() Value {
	v.checkAlive("Inner")
	if v.Kind() != KindDynamic {
		panic("typesys.Inner: not a dynamic value")
	}
	inner := v.cell.(*dynCell).v
	inner.owned = false
	return inner
}

// Dereference returns a borrowing view of a pointer's pointee.
func (v Value) Dereference() Value {
	v.checkAlive("Dereference")
	if v.Kind() != KindPointer {
		panic("typesys.Dereference: not a pointer value")
	}
	return borrow(v.d.elem, v.cell.(*ptrCell).pointee)
}

// ToTuple returns the value as a tuple: identity for tuples, a fresh
// owning tuple of dynamics for lists of dynamics. Panics otherwise.
func (v Value) ToTuple() Value {
	v.checkAlive("ToTuple")
	switch v.Kind() {
	case KindTuple:
		return v
	case KindList:
		if v.d.elem.kind != KindDynamic {
			panic("typesys.ToTuple: element type is not dynamic")
		}
		n := v.Size()
		members := make([]*Descriptor, n)
		for i := range members {
			members[i] = dynamicType
		}
		out := newOwning(TupleOf(members, nil))
		tc := out.cell.(*tupleCell)
		lc := v.cell.(*listCell)
		for i, e := range lc.elems {
			tc.members[i] = cloneCell(dynamicType, e)
		}
		return out
	}
	panic("typesys.ToTuple: expected Tuple or List kind")
}

// ToObject resolves the value to a registered object: Object values
// directly, Pointer-to-Object through one dereference. Panics otherwise
// or when the arena no longer holds the object.
func (v Value) ToObject() *AnyObject {
	v.checkAlive("ToObject")
	switch v.Kind() {
	case KindObject:
		obj := lookupObject(v.cell.(*objCell).id)
		if obj == nil {
			panic("typesys.ToObject: stale object reference")
		}
		return obj
	case KindPointer:
		return v.Dereference().ToObject()
	}
	panic("typesys.ToObject: not an object value")
}
