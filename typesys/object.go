package typesys

import (
	"sync"
)

// ObjectID is the opaque handle of a registered object. Object values
// carry ids, never Go pointers, so cyclic service graphs cannot pin each
// other: back-references go through the arena.
type ObjectID uint64

// AnyObject is a live, callable object: a meta-object description plus
// the adapters and signals that implement it. It is the unit the
// dispatcher routes (service, object, action) triples into.
type AnyObject struct {
	id       ObjectID
	meta     *MetaObject
	desc     *Descriptor
	receiver interface{}

	methods map[uint32]*Callable
	signals map[uint32]*Signal
	props   map[uint32]*Property
}

// ID returns the arena handle of the object.
func (o *AnyObject) ID() ObjectID { return o.id }

// Meta returns the object's meta-description.
func (o *AnyObject) Meta() *MetaObject { return o.meta }

// Type returns the object's descriptor.
func (o *AnyObject) Type() *Descriptor { return o.desc }

// Receiver returns the Go value the object's methods are bound to.
func (o *AnyObject) Receiver() interface{} { return o.receiver }

// Method returns the callable bound to a method id, nil when unknown.
func (o *AnyObject) Method(id uint32) *Callable { return o.methods[id] }

// Signal returns the signal bound to a signal id, nil when unknown.
func (o *AnyObject) Signal(id uint32) *Signal { return o.signals[id] }

// Property returns the property bound to a property id, nil when unknown.
func (o *AnyObject) Property(id uint32) *Property { return o.props[id] }

// Ref returns an owning Pointer-to-Object value referencing this object
// through the arena.
func (o *AnyObject) Ref() Value {
	obj := Value{d: o.desc, cell: &objCell{id: o.id}, owned: true}
	ptr := newOwning(PointerTo(o.desc))
	ptr.cell.(*ptrCell).pointee = obj.cell
	return ptr
}

// ---------------------------------------------------------------------------
// Object arena
// ---------------------------------------------------------------------------

// The arena is one of the three pieces of process-wide state (with the
// type registry and the proxy generator map). Initialized lazily, never
// torn down.
var (
	arenaMu   sync.RWMutex
	arenaNext ObjectID
	arena     map[ObjectID]*AnyObject
)

func registerObject(o *AnyObject) ObjectID {
	arenaMu.Lock()
	defer arenaMu.Unlock()
	if arena == nil {
		arena = make(map[ObjectID]*AnyObject)
	}
	arenaNext++
	arena[arenaNext] = o
	o.id = arenaNext
	return arenaNext
}

func lookupObject(id ObjectID) *AnyObject {
	arenaMu.RLock()
	defer arenaMu.RUnlock()
	return arena[id]
}

// LookupObject resolves an arena handle, nil when the id is unknown.
func LookupObject(id ObjectID) *AnyObject { return lookupObject(id) }

// ReleaseObject drops an object from the arena. Outstanding object
// values holding the id become stale and fail on ToObject.
func ReleaseObject(id ObjectID) {
	arenaMu.Lock()
	defer arenaMu.Unlock()
	delete(arena, id)
}
