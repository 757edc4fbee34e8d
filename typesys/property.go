package typesys

import (
	"fmt"
	"sync"
)

// Property is a typed cell with an attached change signal. Writes go
// through the conversion engine, so any structurally-compatible value
// can be stored; a successful write emits the change signal with the
// new value.
type Property struct {
	*Signal

	d  *Descriptor
	mu sync.Mutex
	v  Value // owning

	getter func() Value
	setter func(current, next Value) (Value, bool)
}

// NewProperty creates a property of the given type holding a zero value.
func NewProperty(d *Descriptor) *Property {
	return &Property{
		Signal: NewSignal(d),
		d:      d,
		v:      newOwning(d),
	}
}

// SetHooks installs an optional getter (overriding the stored value)
// and setter (filtering writes; returning false suppresses the store
// and the change emission).
func (p *Property) SetHooks(getter func() Value, setter func(current, next Value) (Value, bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getter = getter
	p.setter = setter
}

// Type returns the property's descriptor.
func (p *Property) Type() *Descriptor { return p.d }

// Get returns an owning copy of the current value.
func (p *Property) Get() Value {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getter != nil {
		return p.getter()
	}
	return p.v.Clone()
}

// Set converts v to the property type and stores it. The emission runs
// after the store, outside the property lock.
func (p *Property) Set(v Value) error {
	conv, owned := Convert(v, p.d)
	if !conv.IsValid() {
		return fmt.Errorf("typesys: failed converting %s to %s", v.Kind(), p.d.Signature())
	}
	stored := conv.Clone()
	if owned {
		conv.Destroy()
	}

	p.mu.Lock()
	if p.setter != nil {
		next, ok := p.setter(p.v, stored)
		if !ok {
			p.mu.Unlock()
			stored.Destroy()
			return nil
		}
		stored = next
	}
	old := p.v
	p.v = stored
	p.mu.Unlock()

	old.Destroy()
	p.Emit(p.v)
	return nil
}
