// Package session implements the message routing half of the runtime:
// per-socket dispatchers that frame, route and correlate RPC messages,
// bound objects exposing registered services, remote object proxies,
// the service directory, and the listening server.
package session

import (
	"sync"

	"github.com/fabricejumel/libqi/typesys"
)

// Special routing identifiers. Service 0 is the socket itself (event
// subscription and meta discovery); action and object ids 0 are
// reserved and never assigned to members.
const (
	ServiceSelf uint32 = 0

	// Actions on ServiceSelf.
	ActionRegisterEvent   uint32 = 1
	ActionUnregisterEvent uint32 = 2
	ActionMetaObject      uint32 = 3

	// The main object of every service.
	MainObject uint32 = 1
)

// BoundObject attaches a registered object to a (service, object)
// routing address.
type BoundObject struct {
	Service uint32
	Object  uint32
	Obj     *typesys.AnyObject
}

// Router maps (service, object) addresses to bound objects. It is
// shared by every dispatcher of a server so all sockets see the same
// services.
type Router struct {
	mu      sync.RWMutex
	objects map[uint64]*BoundObject
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{objects: make(map[uint64]*BoundObject)}
}

func routeKey(service, object uint32) uint64 {
	return uint64(service)<<32 | uint64(object)
}

// Add binds obj at the given address, replacing any previous binding.
func (r *Router) Add(service, object uint32, obj *typesys.AnyObject) *BoundObject {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := &BoundObject{Service: service, Object: object, Obj: obj}
	r.objects[routeKey(service, object)] = b
	return b
}

// Find resolves an address, nil when nothing is bound there.
func (r *Router) Find(service, object uint32) *BoundObject {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.objects[routeKey(service, object)]
}

// Remove drops every object bound under the given service id.
func (r *Router) Remove(service uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.objects {
		if uint32(k>>32) == service {
			delete(r.objects, k)
		}
	}
}
