package typesys

import (
	"fmt"
	"reflect"
	"sync"
)

// The registry maps static Go types to descriptors. It is populated
// lazily on first touch, is idempotent and thread-safe, and descriptors
// are never removed. This is the only other piece of process-wide
// mutable state besides the object arena and the proxy generator map.
var (
	registryMu sync.RWMutex
	registry   map[reflect.Type]*Descriptor
)

// TypeOf returns the descriptor registered for the static type T,
// constructing one on first use.
func TypeOf[T any]() *Descriptor {
	return DescriptorOf(reflect.TypeOf((*T)(nil)).Elem())
}

// DescriptorOf returns the descriptor for a reflected Go type,
// constructing and registering one on first use. Panics on types the
// value system cannot express (channels, funcs, unsafe pointers).
func DescriptorOf(rt reflect.Type) *Descriptor {
	registryMu.RLock()
	d := registry[rt]
	registryMu.RUnlock()
	if d != nil {
		return d
	}

	d = buildDescriptor(rt)

	registryMu.Lock()
	defer registryMu.Unlock()
	if registry == nil {
		registry = make(map[reflect.Type]*Descriptor)
	}
	// First touch wins: a concurrent builder may have beaten us.
	if prev := registry[rt]; prev != nil {
		return prev
	}
	registry[rt] = d
	return d
}

func buildDescriptor(rt reflect.Type) *Descriptor {
	switch rt.Kind() {
	case reflect.Bool:
		return boolType
	case reflect.Int8:
		return namedOrBase(rt, int8Type, func() *Descriptor { return newIntType(true, 8, rt) })
	case reflect.Uint8:
		return namedOrBase(rt, uint8Type, func() *Descriptor { return newIntType(false, 8, rt) })
	case reflect.Int16:
		return namedOrBase(rt, int16Type, func() *Descriptor { return newIntType(true, 16, rt) })
	case reflect.Uint16:
		return namedOrBase(rt, uint16Type, func() *Descriptor { return newIntType(false, 16, rt) })
	case reflect.Int32:
		return namedOrBase(rt, int32Type, func() *Descriptor { return newIntType(true, 32, rt) })
	case reflect.Uint32:
		return namedOrBase(rt, uint32Type, func() *Descriptor { return newIntType(false, 32, rt) })
	case reflect.Int64, reflect.Int:
		return namedOrBase(rt, int64Type, func() *Descriptor { return newIntType(true, 64, rt) })
	case reflect.Uint64, reflect.Uint:
		return namedOrBase(rt, uint64Type, func() *Descriptor { return newIntType(false, 64, rt) })
	case reflect.Float32:
		return float32Type
	case reflect.Float64:
		return float64Type
	case reflect.String:
		return namedOrBase(rt, stringType, func() *Descriptor {
			return &Descriptor{kind: KindString, info: TypeInfo{Sig: sigString, RT: rt}}
		})
	case reflect.Slice:
		if rt.Elem().Kind() == reflect.Uint8 {
			return namedOrBase(rt, rawType, func() *Descriptor {
				return &Descriptor{kind: KindRaw, info: TypeInfo{Sig: sigRaw, RT: rt}}
			})
		}
		elem := DescriptorOf(rt.Elem())
		return &Descriptor{
			kind: KindList,
			elem: elem,
			info: TypeInfo{Sig: "[" + elem.info.Sig + "]", RT: rt},
		}
	case reflect.Map:
		key := DescriptorOf(rt.Key())
		elem := DescriptorOf(rt.Elem())
		return &Descriptor{
			kind: KindMap,
			key:  key,
			elem: elem,
			info: TypeInfo{Sig: "{" + key.info.Sig + elem.info.Sig + "}", RT: rt},
		}
	case reflect.Struct:
		members := make([]*Descriptor, rt.NumField())
		names := make([]string, rt.NumField())
		sig := "("
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			members[i] = DescriptorOf(f.Type)
			names[i] = f.Name
			sig += members[i].info.Sig
		}
		sig += ")"
		return &Descriptor{
			kind:    KindTuple,
			members: members,
			names:   names,
			info:    TypeInfo{Sig: sig, RT: rt},
		}
	case reflect.Interface:
		// Interfaces carry no shape; values travel boxed.
		return dynamicType
	case reflect.Ptr:
		pointee := DescriptorOf(rt.Elem())
		return &Descriptor{
			kind: KindPointer,
			elem: pointee,
			info: TypeInfo{Sig: "*" + pointee.info.Sig, RT: rt},
		}
	}
	panic(fmt.Sprintf("typesys: cannot express Go type %s", rt))
}

// namedOrBase returns the canonical descriptor when rt is the plain
// base type, or builds a distinct descriptor carrying the named type's
// identity. Named types keep their own fingerprint so conversion treats
// them as structurally compatible but not interchangeable.
func namedOrBase(rt reflect.Type, base *Descriptor, build func() *Descriptor) *Descriptor {
	if rt == base.info.RT {
		return base
	}
	return build()
}

// ---------------------------------------------------------------------------
// Go value <-> storage bridging (used by the function adapter and codec)
// ---------------------------------------------------------------------------

// FromGo builds an owning Value from an arbitrary Go value through the
// registry. Values, *AnyObject receivers and nil are handled specially.
func FromGo(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Void()
	case Value:
		return t.Clone()
	case *AnyObject:
		return t.Ref()
	}
	rv := reflect.ValueOf(v)
	d := DescriptorOf(rv.Type())
	return Value{d: d, cell: storageFromReflect(d, rv), owned: true}
}

func storageFromReflect(d *Descriptor, rv reflect.Value) interface{} {
	switch d.kind {
	case KindInt:
		c := &intCell{}
		switch rv.Kind() {
		case reflect.Bool:
			if rv.Bool() {
				c.v = 1
			}
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			c.v = int64(rv.Uint())
		default:
			c.v = rv.Int()
		}
		return c
	case KindFloat:
		return &floatCell{v: rv.Float()}
	case KindString:
		return &strCell{v: rv.String()}
	case KindRaw:
		buf := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(buf), rv)
		return &rawCell{v: buf}
	case KindList:
		c := &listCell{elems: make([]interface{}, rv.Len())}
		for i := 0; i < rv.Len(); i++ {
			c.elems[i] = storageFromReflect(d.elem, rv.Index(i))
		}
		return c
	case KindMap:
		c := &mapCell{}
		iter := rv.MapRange()
		for iter.Next() {
			c.keys = append(c.keys, storageFromReflect(d.key, iter.Key()))
			c.vals = append(c.vals, storageFromReflect(d.elem, iter.Value()))
		}
		return c
	case KindTuple:
		c := &tupleCell{members: make([]interface{}, len(d.members))}
		for i := range d.members {
			c.members[i] = storageFromReflect(d.members[i], rv.Field(i))
		}
		return c
	case KindDynamic:
		if rv.IsNil() {
			return &dynCell{}
		}
		return &dynCell{v: FromGo(rv.Interface())}
	case KindPointer:
		if rv.IsNil() {
			return &ptrCell{}
		}
		return &ptrCell{pointee: storageFromReflect(d.elem, rv.Elem())}
	}
	panic(fmt.Sprintf("typesys: cannot carry Go value of kind %s", d.kind))
}

// ToGo materializes a Value back into the Go type rt. Used by the
// function adapter to re-cast erased argument storage; the shapes must
// already agree (route through Convert first when they differ).
func ToGo(v Value, rt reflect.Type) (reflect.Value, error) {
	out := reflect.New(rt).Elem()
	if err := assignReflect(v, out); err != nil {
		return reflect.Value{}, err
	}
	return out, nil
}

func assignReflect(v Value, out reflect.Value) error {
	if out.Type() == valueGoType {
		if v.Kind() == KindDynamic {
			out.Set(reflect.ValueOf(v.Inner().Clone()))
		} else {
			out.Set(reflect.ValueOf(v.Clone()))
		}
		return nil
	}
	switch v.Kind() {
	case KindInt:
		switch out.Kind() {
		case reflect.Bool:
			out.SetBool(v.ToInt() != 0)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			out.SetUint(v.ToUInt())
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			out.SetInt(v.ToInt())
		default:
			return fmt.Errorf("typesys: cannot assign %s into %s", v.Kind(), out.Type())
		}
	case KindFloat:
		if out.Kind() != reflect.Float32 && out.Kind() != reflect.Float64 {
			return fmt.Errorf("typesys: cannot assign Float into %s", out.Type())
		}
		out.SetFloat(v.ToDouble())
	case KindString:
		if out.Kind() != reflect.String {
			return fmt.Errorf("typesys: cannot assign String into %s", out.Type())
		}
		out.SetString(v.ToString())
	case KindRaw:
		buf := v.ToRaw()
		dst := make([]byte, len(buf))
		copy(dst, buf)
		out.Set(reflect.ValueOf(dst).Convert(out.Type()))
	case KindList:
		if out.Kind() != reflect.Slice {
			return fmt.Errorf("typesys: cannot assign List into %s", out.Type())
		}
		n := v.Size()
		s := reflect.MakeSlice(out.Type(), n, n)
		for i := 0; i < n; i++ {
			if err := assignReflect(v.Element(i), s.Index(i)); err != nil {
				return err
			}
		}
		out.Set(s)
	case KindMap:
		if out.Kind() != reflect.Map {
			return fmt.Errorf("typesys: cannot assign Map into %s", out.Type())
		}
		m := reflect.MakeMapWithSize(out.Type(), v.Size())
		c := v.cell.(*mapCell)
		for i := range c.keys {
			kv := reflect.New(out.Type().Key()).Elem()
			if err := assignReflect(borrow(v.d.key, c.keys[i]), kv); err != nil {
				return err
			}
			ev := reflect.New(out.Type().Elem()).Elem()
			if err := assignReflect(borrow(v.d.elem, c.vals[i]), ev); err != nil {
				return err
			}
			m.SetMapIndex(kv, ev)
		}
		out.Set(m)
	case KindTuple:
		if out.Kind() != reflect.Struct || out.NumField() != v.Size() {
			return fmt.Errorf("typesys: cannot assign Tuple into %s", out.Type())
		}
		for i := 0; i < v.Size(); i++ {
			if err := assignReflect(v.Element(i), out.Field(i)); err != nil {
				return err
			}
		}
	case KindDynamic:
		if out.Kind() != reflect.Interface {
			return assignReflect(v.Inner(), out)
		}
		out.Set(reflect.ValueOf(v.Inner().Clone()))
	case KindPointer:
		if out.Type() == anyObjectPtrType {
			out.Set(reflect.ValueOf(v.ToObject()))
			return nil
		}
		if out.Kind() != reflect.Ptr {
			return fmt.Errorf("typesys: cannot assign Pointer into %s", out.Type())
		}
		p := reflect.New(out.Type().Elem())
		if err := assignReflect(v.Dereference(), p.Elem()); err != nil {
			return err
		}
		out.Set(p)
	case KindObject:
		if out.Type() == anyObjectPtrType {
			out.Set(reflect.ValueOf(v.ToObject()))
			return nil
		}
		return fmt.Errorf("typesys: cannot assign Object into %s", out.Type())
	case KindVoid:
		// Leave the zero value.
	default:
		return fmt.Errorf("typesys: cannot assign %s into %s", v.Kind(), out.Type())
	}
	return nil
}

var anyObjectPtrType = reflect.TypeOf((*AnyObject)(nil))
