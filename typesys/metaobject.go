package typesys

import (
	"fmt"
	"sort"
)

// MetaMethod describes one callable member of an object. The id is
// stable for the object's lifetime and non-zero; the signature is
// "name::(argsig)" and is case-sensitive.
type MetaMethod struct {
	ID              uint32
	Name            string
	Signature       string
	ReturnSignature string
}

// MetaSignal describes one event member of an object.
type MetaSignal struct {
	ID        uint32
	Name      string
	Signature string
}

// MetaProperty describes one property member of an object.
type MetaProperty struct {
	ID        uint32
	Name      string
	Signature string
}

// MetaObject is the discoverable description of an object: its method,
// signal and property tables keyed by id, with secondary lookup by
// signature (methods) or name (signals, properties). Id 0 is reserved.
type MetaObject struct {
	Description string

	methods map[uint32]*MetaMethod
	signals map[uint32]*MetaSignal
	props   map[uint32]*MetaProperty

	methodBySig  map[string]uint32
	signalByName map[string]uint32
	propByName   map[string]uint32
}

// NewMetaObject returns an empty meta-object.
func NewMetaObject() *MetaObject {
	return &MetaObject{
		methods:      make(map[uint32]*MetaMethod),
		signals:      make(map[uint32]*MetaSignal),
		props:        make(map[uint32]*MetaProperty),
		methodBySig:  make(map[string]uint32),
		signalByName: make(map[string]uint32),
		propByName:   make(map[string]uint32),
	}
}

// MethodSignature builds the canonical "name::(argsig)" form.
func MethodSignature(name, argSig string) string {
	return name + "::" + argSig
}

// Method returns the method with the given id, nil when unknown.
func (m *MetaObject) Method(id uint32) *MetaMethod { return m.methods[id] }

// Signal returns the signal with the given id, nil when unknown.
func (m *MetaObject) Signal(id uint32) *MetaSignal { return m.signals[id] }

// Property returns the property with the given id, nil when unknown.
func (m *MetaObject) Property(id uint32) *MetaProperty { return m.props[id] }

// MethodID looks a method up by its full signature.
func (m *MetaObject) MethodID(signature string) (uint32, bool) {
	id, ok := m.methodBySig[signature]
	return id, ok
}

// FindMethodByName returns the first method with the given name,
// regardless of argument signature. Methods are scanned in id order so
// the result is deterministic under overloading.
func (m *MetaObject) FindMethodByName(name string) *MetaMethod {
	for _, mm := range m.Methods() {
		if mm.Name == name {
			return mm
		}
	}
	return nil
}

// SignalID looks a signal up by name.
func (m *MetaObject) SignalID(name string) (uint32, bool) {
	id, ok := m.signalByName[name]
	return id, ok
}

// PropertyID looks a property up by name.
func (m *MetaObject) PropertyID(name string) (uint32, bool) {
	id, ok := m.propByName[name]
	return id, ok
}

// Methods returns all methods sorted by id.
func (m *MetaObject) Methods() []*MetaMethod {
	out := make([]*MetaMethod, 0, len(m.methods))
	for _, mm := range m.methods {
		out = append(out, mm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Signals returns all signals sorted by id.
func (m *MetaObject) Signals() []*MetaSignal {
	out := make([]*MetaSignal, 0, len(m.signals))
	for _, ms := range m.signals {
		out = append(out, ms)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Properties returns all properties sorted by id.
func (m *MetaObject) Properties() []*MetaProperty {
	out := make([]*MetaProperty, 0, len(m.props))
	for _, mp := range m.props {
		out = append(out, mp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MetaObject) addMethod(id uint32, name, argSig, retSig string) *MetaMethod {
	mm := &MetaMethod{ID: id, Name: name, Signature: MethodSignature(name, argSig), ReturnSignature: retSig}
	m.methods[id] = mm
	m.methodBySig[mm.Signature] = id
	return mm
}

func (m *MetaObject) addSignal(id uint32, name, argSig string) *MetaSignal {
	ms := &MetaSignal{ID: id, Name: name, Signature: MethodSignature(name, argSig)}
	m.signals[id] = ms
	m.signalByName[name] = id
	return ms
}

func (m *MetaObject) addProperty(id uint32, name, sig string) *MetaProperty {
	mp := &MetaProperty{ID: id, Name: name, Signature: sig}
	m.props[id] = mp
	m.propByName[name] = id
	return mp
}

// ---------------------------------------------------------------------------
// ObjectBuilder
// ---------------------------------------------------------------------------

// ObjectBuilder assembles an AnyObject: advertise members, then call
// Object to register it in the arena. Member ids are assigned
// monotonically from 1 and are never reused.
type ObjectBuilder struct {
	receiver  interface{}
	meta      *MetaObject
	methods   map[uint32]*Callable
	signals   map[uint32]*Signal
	props     map[uint32]*Property
	ancestors []*Descriptor
	nextID    uint32
}

// NewObjectBuilder starts building an object around the given receiver
// (may be nil for objects made only of free functions and signals).
func NewObjectBuilder(receiver interface{}) *ObjectBuilder {
	return &ObjectBuilder{
		receiver: receiver,
		meta:     NewMetaObject(),
		methods:  make(map[uint32]*Callable),
		signals:  make(map[uint32]*Signal),
		props:    make(map[uint32]*Property),
	}
}

func (b *ObjectBuilder) allocID() uint32 {
	b.nextID++
	return b.nextID
}

// AdvertiseMethod wraps fn and registers it under the given name.
func (b *ObjectBuilder) AdvertiseMethod(name string, fn interface{}) (uint32, error) {
	c, err := WrapFunction(fn)
	if err != nil {
		return 0, err
	}
	id := b.allocID()
	b.meta.addMethod(id, name, c.Signature(), c.ReturnType().Signature())
	b.methods[id] = c
	return id, nil
}

// AdvertiseSignal registers a signal with the given argument types and
// returns it for the implementation to emit.
func (b *ObjectBuilder) AdvertiseSignal(name string, args ...*Descriptor) (*Signal, uint32) {
	id := b.allocID()
	s := NewSignal(args...)
	b.meta.addSignal(id, name, s.Signature())
	b.signals[id] = s
	return s, id
}

// AdvertiseProperty registers a property of the given type. The
// property's change signal is the returned Property's own Signal; no
// signal id is allocated for it, and AnyObject.Signal does not resolve
// the property id.
func (b *ObjectBuilder) AdvertiseProperty(name string, d *Descriptor) (*Property, uint32) {
	id := b.allocID()
	p := NewProperty(d)
	b.meta.addProperty(id, name, d.Signature())
	b.props[id] = p
	return p, id
}

// Inherit declares that the built object may be borrowed as parent.
func (b *ObjectBuilder) Inherit(parent *Descriptor) {
	if parent.Kind() != KindObject {
		panic(fmt.Sprintf("typesys.Inherit: %s is not an object type", parent.Signature()))
	}
	b.ancestors = append(b.ancestors, parent)
}

// SetDescription attaches a human-readable description.
func (b *ObjectBuilder) SetDescription(s string) { b.meta.Description = s }

// Object finalizes the build: constructs the descriptor and registers
// the object in the arena.
func (b *ObjectBuilder) Object(name string) *AnyObject {
	obj := &AnyObject{
		meta:     b.meta,
		receiver: b.receiver,
		methods:  b.methods,
		signals:  b.signals,
		props:    b.props,
	}
	obj.desc = NewObjectType(name, b.meta, b.ancestors...)
	registerObject(obj)
	return obj
}
