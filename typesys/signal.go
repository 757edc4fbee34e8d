package typesys

import (
	"strings"
	"sync"
)

// subscriber is one connected endpoint of a signal: either a local
// callable, or a (target object, target method) forwarding pair that
// re-dispatches the emission as a method call through the arena.
type subscriber struct {
	link     uint64
	callable *Callable
	raw      func(args []Value)
	target   ObjectID
	method   uint32
}

// Signal is an emitter with a subscriber list. Membership changes are
// guarded by a mutex; emission snapshots the list and runs user code
// outside the lock, in subscription order. Link ids are never reused
// within the signal's lifetime. A subscriber disconnecting itself
// during its own callback invalidates the link immediately, but the
// in-flight emission still completes its snapshot.
type Signal struct {
	mu       sync.Mutex
	subs     []subscriber
	nextLink uint64
	args     []*Descriptor
	sig      string
}

// NewSignal creates a signal carrying the given argument types.
func NewSignal(args ...*Descriptor) *Signal {
	var sb strings.Builder
	sb.WriteByte('(')
	for _, a := range args {
		sb.WriteString(a.Signature())
	}
	sb.WriteByte(')')
	return &Signal{args: args, sig: sb.String()}
}

// Signature returns the parenthesized argument signature.
func (s *Signal) Signature() string { return s.sig }

// ArgTypes returns the argument descriptors.
func (s *Signal) ArgTypes() []*Descriptor { return s.args }

// Connect subscribes a wrapped callable and returns the link id to pass
// back to Disconnect.
func (s *Signal) Connect(c *Callable) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLink++
	s.subs = append(s.subs, subscriber{link: s.nextLink, callable: c})
	return s.nextLink
}

// ConnectFunc wraps fn and subscribes it. Panics when fn cannot be
// adapted (programmer-facing misuse).
func (s *Signal) ConnectFunc(fn interface{}) uint64 {
	c, err := WrapFunction(fn)
	if err != nil {
		panic("typesys.ConnectFunc: " + err.Error())
	}
	return s.Connect(c)
}

// ConnectRaw subscribes a handler receiving the emission arguments
// verbatim, without adaptation. Used by the dispatch layer to forward
// emissions onto sockets.
func (s *Signal) ConnectRaw(fn func(args []Value)) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLink++
	s.subs = append(s.subs, subscriber{link: s.nextLink, raw: fn})
	return s.nextLink
}

// ConnectMethod subscribes a forwarding pair: emissions call the given
// method id on the target object through the arena.
func (s *Signal) ConnectMethod(target ObjectID, method uint32) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLink++
	s.subs = append(s.subs, subscriber{link: s.nextLink, target: target, method: method})
	return s.nextLink
}

// Disconnect removes the subscription with the given link id. Returns
// false when the link is unknown (already disconnected or never valid).
func (s *Signal) Disconnect(link uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.subs {
		if s.subs[i].link == link {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return true
		}
	}
	return false
}

// SubscriberCount returns the current number of subscriptions.
func (s *Signal) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Emit delivers args to every subscriber present when the emission
// starts, in subscription order. A panicking or failing subscriber is
// logged and does not prevent the others from running. Subscriptions
// added during an emission do not observe it.
func (s *Signal) Emit(args ...Value) {
	s.mu.Lock()
	snapshot := make([]subscriber, len(s.subs))
	copy(snapshot, s.subs)
	s.mu.Unlock()

	for _, sub := range snapshot {
		s.deliver(sub, args)
	}
}

func (s *Signal) deliver(sub subscriber, args []Value) {
	defer func() {
		if r := recover(); r != nil {
			log.Warningf("signal subscriber panicked: %v", r)
		}
	}()
	if sub.raw != nil {
		sub.raw(args)
		return
	}
	var c *Callable
	if sub.callable != nil {
		c = sub.callable
	} else {
		obj := lookupObject(sub.target)
		if obj == nil {
			log.Warningf("signal subscriber target %d is gone", sub.target)
			return
		}
		c = obj.Method(sub.method)
		if c == nil {
			log.Warningf("signal subscriber method %d unknown on object %d", sub.method, sub.target)
			return
		}
	}
	res, err := c.CallValues(args)
	if err != nil {
		log.Warningf("signal subscriber failed: %v", err)
		return
	}
	res.Destroy()
}
