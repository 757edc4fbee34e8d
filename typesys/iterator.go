package typesys

// Iterator is a forward-only cursor over a List or Map value. It is
// itself a Value of kind Iterator, so iterators participate in the
// value system (structural equality, cloning).
//
// A map iterator yields (key, value) pairs as borrowing two-tuples.
type Iterator struct {
	Value
}

// Begin returns an iterator positioned at the first element. Panics on
// kinds other than List and Map.
func (v Value) Begin() *Iterator {
	return v.iteratorAt(0)
}

// End returns the past-the-end iterator.
func (v Value) End() *Iterator {
	return v.iteratorAt(v.Size())
}

func (v Value) iteratorAt(idx int) *Iterator {
	v.checkAlive("Begin")
	k := v.Kind()
	if k != KindList && k != KindMap {
		panic("typesys.Begin: expected List or Map kind")
	}
	var elem *Descriptor
	if k == KindList {
		elem = v.d.elem
	} else {
		elem = TupleOf([]*Descriptor{v.d.key, v.d.elem}, nil)
	}
	return &Iterator{Value{
		d:     IteratorOf(elem),
		cell:  &iterCell{src: borrow(v.d, v.cell), idx: idx},
		owned: true,
	}}
}

// Done reports whether the iterator is past the last element.
func (it *Iterator) Done() bool {
	c := it.cell.(*iterCell)
	return c.idx >= c.src.Size()
}

// Next advances to the following element.
func (it *Iterator) Next() {
	it.cell.(*iterCell).idx++
}

// Deref returns a borrowing view of the current element: the element
// itself for lists, a fresh (key, value) pair tuple for maps. Callers
// must clone before the backing container changes or goes away.
func (it *Iterator) Deref() Value {
	c := it.cell.(*iterCell)
	src := c.src
	switch src.Kind() {
	case KindList:
		return src.Element(c.idx)
	case KindMap:
		mc := src.cell.(*mapCell)
		if c.idx < 0 || c.idx >= len(mc.keys) {
			panic("typesys.Deref: iterator out of range")
		}
		pair := &tupleCell{members: []interface{}{mc.keys[c.idx], mc.vals[c.idx]}}
		return borrow(it.d.elem, pair)
	}
	panic("typesys.Deref: bad iterator source")
}
