package typesys

import (
	"fmt"
	"reflect"
	"strings"
)

// Callable wraps a statically-typed Go function behind the erased
// calling convention of the dispatcher: argument storages in, one Value
// out. Descriptors for the result and every parameter are recorded at
// wrap time; Call re-casts each provided storage into the expected
// parameter type without conversion, so callers must have routed through
// Convert when the shapes differ.
type Callable struct {
	fn       reflect.Value
	recv     *reflect.Value // bound instance, prepended at call time
	ret      *Descriptor
	args     []*Descriptor
	argTypes []reflect.Type
	hasErr   bool
	sig      string
}

var (
	errType     = reflect.TypeOf((*error)(nil)).Elem()
	valueGoType = reflect.TypeOf(Value{})
)

// paramDescriptor maps a Go parameter or result type to a descriptor.
// Value parameters are dynamics (the callee inspects the shape itself);
// *AnyObject parameters accept any object reference.
func paramDescriptor(rt reflect.Type) *Descriptor {
	switch rt {
	case valueGoType:
		return dynamicType
	case anyObjectPtrType:
		return PointerTo(genericObjectType)
	}
	return DescriptorOf(rt)
}

// WrapFunction adapts fn, which must be a Go function. A trailing error
// result is split off and surfaced as the call error; at most one other
// result is allowed and becomes the return Value.
func WrapFunction(fn interface{}) (*Callable, error) {
	rv := reflect.ValueOf(fn)
	rt := rv.Type()
	if rt.Kind() != reflect.Func {
		return nil, fmt.Errorf("typesys: WrapFunction on non-function %T", fn)
	}
	if rt.IsVariadic() {
		return nil, fmt.Errorf("typesys: variadic functions cannot be adapted")
	}

	c := &Callable{fn: rv}

	numOut := rt.NumOut()
	if numOut > 0 && rt.Out(numOut-1) == errType {
		c.hasErr = true
		numOut--
	}
	switch numOut {
	case 0:
		c.ret = voidType
	case 1:
		c.ret = paramDescriptor(rt.Out(0))
	default:
		return nil, fmt.Errorf("typesys: too many results in adapted function")
	}

	var sb strings.Builder
	sb.WriteByte('(')
	for i := 0; i < rt.NumIn(); i++ {
		in := rt.In(i)
		d := paramDescriptor(in)
		c.args = append(c.args, d)
		c.argTypes = append(c.argTypes, in)
		sb.WriteString(d.Signature())
	}
	sb.WriteByte(')')
	c.sig = sb.String()
	return c, nil
}

// BindInstance returns a callable with recv pre-bound as the first
// argument. The wrapped function's first parameter is consumed by the
// receiver and no longer appears in the signature.
func (c *Callable) BindInstance(recv interface{}) *Callable {
	rv := reflect.ValueOf(recv)
	bound := *c
	bound.recv = &rv
	bound.args = c.args[1:]
	bound.argTypes = c.argTypes[1:]
	var sb strings.Builder
	sb.WriteByte('(')
	for _, d := range bound.args {
		sb.WriteString(d.Signature())
	}
	sb.WriteByte(')')
	bound.sig = sb.String()
	return &bound
}

// ReturnType returns the descriptor of the wrapped function's result.
func (c *Callable) ReturnType() *Descriptor { return c.ret }

// ArgTypes returns the parameter descriptors in order.
func (c *Callable) ArgTypes() []*Descriptor { return c.args }

// Signature returns the parenthesized parameter signature.
func (c *Callable) Signature() string { return c.sig }

// Call invokes the wrapped function with the given argument storages
// and returns an owning result Value. Storage shapes must match the
// recorded parameter descriptors exactly.
func (c *Callable) Call(storages []interface{}) (Value, error) {
	if len(storages) != len(c.args) {
		return Value{}, fmt.Errorf("typesys: call arity mismatch: got %d args, want %d",
			len(storages), len(c.args))
	}
	in := make([]reflect.Value, 0, len(storages)+1)
	if c.recv != nil {
		in = append(in, *c.recv)
	}
	for i, s := range storages {
		arg, err := ToGo(borrow(c.args[i], s), c.argTypes[i])
		if err != nil {
			return Value{}, fmt.Errorf("typesys: argument %d: %w", i, err)
		}
		in = append(in, arg)
	}

	out := c.fn.Call(in)

	if c.hasErr {
		if e := out[len(out)-1]; !e.IsNil() {
			return Value{}, e.Interface().(error)
		}
		out = out[:len(out)-1]
	}
	if c.ret.kind == KindVoid || len(out) == 0 {
		return Void(), nil
	}
	return FromGo(out[0].Interface()), nil
}

// CallValues converts each argument to the expected parameter type and
// invokes the callable. This is the entry point used by signal delivery
// and the dispatcher, where argument shapes come off the wire.
func (c *Callable) CallValues(args []Value) (Value, error) {
	if len(args) != len(c.args) {
		return Value{}, fmt.Errorf("typesys: call arity mismatch: got %d args, want %d",
			len(args), len(c.args))
	}
	storages := make([]interface{}, len(args))
	var owned []Value
	for i, a := range args {
		conv, mustDestroy := Convert(a, c.args[i])
		if !conv.IsValid() {
			for _, o := range owned {
				o.Destroy()
			}
			return Value{}, fmt.Errorf("typesys: cannot convert argument %d from %s to %s",
				i, a.Kind(), c.args[i].Signature())
		}
		if mustDestroy {
			owned = append(owned, conv)
		}
		storages[i] = conv.cell
	}
	res, err := c.Call(storages)
	for _, o := range owned {
		o.Destroy()
	}
	return res, err
}
