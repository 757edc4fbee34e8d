package typesys

import "sync"

// ProxyGenerator produces a typed proxy value from a generic object
// reference. Generators are registered per target object fingerprint;
// the conversion engine consults the map when asked to convert an
// object reference into a pointer to a specific object type.
type ProxyGenerator func(ref Value) Value

var (
	proxyMu  sync.RWMutex
	proxyGen map[TypeInfo]ProxyGenerator
)

// RegisterProxyGenerator installs a generator for the given object
// descriptor. Re-registering replaces the previous generator.
func RegisterProxyGenerator(target *Descriptor, gen ProxyGenerator) {
	if target.kind != KindObject {
		panic("typesys.RegisterProxyGenerator: target is not an object type")
	}
	proxyMu.Lock()
	defer proxyMu.Unlock()
	if proxyGen == nil {
		proxyGen = make(map[TypeInfo]ProxyGenerator)
	}
	proxyGen[target.info] = gen
}

func lookupProxyGenerator(info TypeInfo) ProxyGenerator {
	proxyMu.RLock()
	defer proxyMu.RUnlock()
	return proxyGen[info]
}
