package typesys

import (
	"testing"
)

func TestIntRoundTrip(t *testing.T) {
	tests := []struct {
		d *Descriptor
		v int64
	}{
		{Int8Type(), -128},
		{Int8Type(), 127},
		{Int16Type(), -32768},
		{Int32Type(), 1 << 30},
		{Int64Type(), -(1 << 62)},
	}
	for _, tt := range tests {
		v := NewInt(tt.d, tt.v)
		if got := v.ToInt(); got != tt.v {
			t.Errorf("NewInt(%s, %d).ToInt() = %d", tt.d.Signature(), tt.v, got)
		}
		v.Destroy()
	}
}

func TestUIntRoundTrip(t *testing.T) {
	v := NewUInt(UInt64Type(), ^uint64(0))
	if got := v.ToUInt(); got != ^uint64(0) {
		t.Errorf("ToUInt() = %d, want max uint64", got)
	}
	v.Destroy()
}

func TestNewIntOverflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewInt(int8, 300) should panic")
		}
	}()
	NewInt(Int8Type(), 300)
}

func TestSetIntNarrowingChecks(t *testing.T) {
	v := newOwning(Int16Type())
	if err := v.trySetInt(32767); err != nil {
		t.Errorf("32767 fits int16: %v", err)
	}
	if err := v.trySetInt(32768); err == nil {
		t.Error("32768 must overflow int16")
	}
	if err := v.trySetInt(-32769); err == nil {
		t.Error("-32769 must underflow int16")
	}
	u := newOwning(UInt8Type())
	if err := u.trySetInt(-1); err == nil {
		t.Error("-1 must not fit uint8")
	}
	if err := u.trySetUInt(255); err != nil {
		t.Errorf("255 fits uint8: %v", err)
	}
	if err := u.trySetUInt(256); err == nil {
		t.Error("256 must overflow uint8")
	}
}

func TestSetDoubleOnIntChecksRange(t *testing.T) {
	v := newOwning(Int32Type())
	if err := v.trySetDouble(1e12); err == nil {
		t.Error("1e12 must overflow int32")
	}
	if err := v.trySetDouble(41.9); err != nil {
		t.Errorf("41.9 fits int32: %v", err)
	}
	if got := v.ToInt(); got != 41 {
		t.Errorf("setDouble truncates: got %d, want 41", got)
	}
}

func TestStringValue(t *testing.T) {
	v := NewString("hello")
	if got := v.ToString(); got != "hello" {
		t.Errorf("ToString() = %q", got)
	}
	v.SetString("bye")
	if got := v.ToString(); got != "bye" {
		t.Errorf("after SetString: %q", got)
	}
	v.Destroy()
}

func TestCloneIsIndependent(t *testing.T) {
	list := NewList(Int32Type())
	el := NewInt(Int32Type(), 7)
	if err := list.Append(el); err != nil {
		t.Fatalf("Append: %v", err)
	}
	el.Destroy()

	clone := list.Clone()
	if !clone.Owned() {
		t.Error("clone must be owning")
	}
	clone.Destroy()

	// The original is untouched by destroying the clone.
	if list.Size() != 1 {
		t.Errorf("source size = %d after clone destroy, want 1", list.Size())
	}
	if got := list.Element(0).ToInt(); got != 7 {
		t.Errorf("source element = %d, want 7", got)
	}
	list.Destroy()
}

func TestDoubleDestroyPanics(t *testing.T) {
	v := NewString("x")
	v.Destroy()
	defer func() {
		if recover() == nil {
			t.Error("second Destroy must panic")
		}
	}()
	v.Destroy()
}

func TestDestroyBorrowedIsNoOp(t *testing.T) {
	list := NewList(Int64Type())
	el := NewInt(Int64Type(), 1)
	list.Append(el)
	el.Destroy()

	borrowed := list.Element(0)
	borrowed.Destroy() // no-op: not owning
	if got := list.Element(0).ToInt(); got != 1 {
		t.Errorf("borrowed destroy must not touch storage, got %d", got)
	}
	list.Destroy()
}

func TestTupleAccess(t *testing.T) {
	d := TupleOf([]*Descriptor{Int32Type(), StringType()}, []string{"id", "name"})
	iv := NewInt(Int32Type(), 5)
	sv := NewString("five")
	v := NewTuple(d, []Value{iv, sv})
	iv.Destroy()
	sv.Destroy()

	if v.Size() != 2 {
		t.Fatalf("Size() = %d", v.Size())
	}
	if got := v.Element(0).ToInt(); got != 5 {
		t.Errorf("member 0 = %d", got)
	}
	if got := v.Element(1).ToString(); got != "five" {
		t.Errorf("member 1 = %q", got)
	}
	v.Destroy()
}

func TestMapInsertLookup(t *testing.T) {
	m := NewMap(StringType(), Int32Type())
	k := NewString("a")
	e := NewInt(Int32Type(), 1)
	if err := m.Insert(k, e); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	// Replacing an existing key keeps the size at 1.
	e2 := NewInt(Int32Type(), 2)
	if err := m.Insert(k, e2); err != nil {
		t.Fatalf("Insert replace: %v", err)
	}
	if m.Size() != 1 {
		t.Errorf("Size() = %d after replace, want 1", m.Size())
	}
	got := m.ElementByKey(k, false)
	if !got.IsValid() || got.ToInt() != 2 {
		t.Errorf("lookup after replace = %v", got)
	}
	k.Destroy()
	e.Destroy()
	e2.Destroy()
	m.Destroy()
}

func TestMapMissingKey(t *testing.T) {
	m := NewMap(StringType(), Int32Type())
	k := NewString("absent")
	if v := m.ElementByKey(k, false); v.IsValid() {
		t.Error("missing key must yield the sentinel")
	}
	if v := m.ElementByKey(k, true); !v.IsValid() {
		t.Error("autoInsert must create the entry")
	}
	if m.Size() != 1 {
		t.Errorf("Size() = %d after autoInsert", m.Size())
	}
	k.Destroy()
	m.Destroy()
}

func TestUseAfterDestroyPanics(t *testing.T) {
	v := NewString("gone")
	v.Destroy()
	defer func() {
		if recover() == nil {
			t.Error("ToString after Destroy must panic")
		}
	}()
	v.ToString()
}

func TestAccessorKindMismatchPanics(t *testing.T) {
	v := NewString("nope")
	defer v.Destroy()
	defer func() {
		if recover() == nil {
			t.Error("ToInt on a string must panic")
		}
	}()
	v.ToInt()
}

func TestIteratorWalksList(t *testing.T) {
	list := NewList(Int32Type())
	for i := int64(1); i <= 3; i++ {
		el := NewInt(Int32Type(), i)
		list.Append(el)
		el.Destroy()
	}
	var got []int64
	for it := list.Begin(); !it.Done(); it.Next() {
		got = append(got, it.Deref().ToInt())
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("iterator yielded %v", got)
	}
	// Structural equality of iterators.
	a := list.Begin()
	b := list.Begin()
	if !Equal(a.Value, b.Value) {
		t.Error("two fresh iterators over the same list must be equal")
	}
	a.Next()
	if Equal(a.Value, b.Value) {
		t.Error("advanced iterator must differ")
	}
	list.Destroy()
}

func TestToTupleFromDynamicList(t *testing.T) {
	list := NewList(DynamicType())
	iv := NewInt(Int32Type(), 9)
	dyn := NewDynamic(iv)
	iv.Destroy()
	list.Append(dyn)
	dyn.Destroy()

	tup := list.ToTuple()
	if tup.Kind() != KindTuple || tup.Size() != 1 {
		t.Fatalf("ToTuple: kind %s size %d", tup.Kind(), tup.Size())
	}
	if got := tup.Element(0).Inner().ToInt(); got != 9 {
		t.Errorf("tuple member = %d", got)
	}
	tup.Destroy()
	list.Destroy()
}
