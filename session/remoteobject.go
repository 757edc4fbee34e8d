package session

import (
	"sync"
	"time"

	"github.com/fabricejumel/libqi/future"
	"github.com/fabricejumel/libqi/status"
	"github.com/fabricejumel/libqi/typesys"
)

const metaFetchTimeout = 30 * time.Second

// RemoteObject is the client-side proxy for an object living behind a
// socket. Calls go out as Call frames and complete through the
// dispatcher's pending table; signal subscriptions register a
// forwarding link on the peer and route incoming Event frames to local
// handlers.
type RemoteObject struct {
	d       *Dispatcher
	service uint32
	object  uint32

	mu      sync.Mutex
	methods map[string]uint32 // full signature -> id
	byName  map[string]uint32 // bare name -> id (first wins)
	signals map[string]uint32
	props   map[string]uint32
}

// NewRemoteObject creates a proxy for (service, object) on d.
func NewRemoteObject(d *Dispatcher, service, object uint32) *RemoteObject {
	return &RemoteObject{d: d, service: service, object: object}
}

// Service returns the proxied service id.
func (o *RemoteObject) Service() uint32 { return o.service }

// Call invokes a method by id. Arguments are carried as dynamics and
// converted to the declared parameter types on the receiving side.
func (o *RemoteObject) Call(action uint32, args ...typesys.Value) *future.Future[typesys.Value] {
	return o.d.Call(o.service, o.object, action, args...)
}

// Post triggers a signal on the remote object, fire-and-forget.
func (o *RemoteObject) Post(action uint32, args ...typesys.Value) error {
	return o.d.Post(o.service, o.object, action, args...)
}

// FetchMeta retrieves the remote member tables, enabling lookups by
// name. Idempotent; subsequent calls are cheap.
func (o *RemoteObject) FetchMeta() error {
	o.mu.Lock()
	fetched := o.methods != nil
	o.mu.Unlock()
	if fetched {
		return nil
	}
	req := typesys.FromGo(struct {
		Service uint32
		Object  uint32
	}{o.service, o.object})
	f := o.d.Call(ServiceSelf, 0, ActionMetaObject, req)
	req.Destroy()
	if err := f.Wait(metaFetchTimeout); err != nil {
		f.Cancel()
		return status.New(status.TimedOut)
	}
	if err := f.Err(); err != nil {
		return err
	}
	v := f.Value()
	defer v.Destroy()
	if v.Kind() != typesys.KindTuple || v.Size() != 3 {
		return status.Errorf(status.ProtocolError, "bad meta reply")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.methods = decodeStringIDMap(v.Element(0))
	o.signals = decodeStringIDMap(v.Element(1))
	o.props = decodeStringIDMap(v.Element(2))
	o.byName = make(map[string]uint32, len(o.methods))
	for sig, id := range o.methods {
		name := sig
		for i := 0; i < len(sig)-1; i++ {
			if sig[i] == ':' && sig[i+1] == ':' {
				name = sig[:i]
				break
			}
		}
		if prev, ok := o.byName[name]; !ok || id < prev {
			o.byName[name] = id
		}
	}
	return nil
}

func decodeStringIDMap(v typesys.Value) map[string]uint32 {
	out := make(map[string]uint32)
	if v.Kind() != typesys.KindMap {
		return out
	}
	for it := v.Begin(); !it.Done(); it.Next() {
		pair := it.Deref()
		out[pair.Element(0).ToString()] = uint32(pair.Element(1).ToUInt())
	}
	return out
}

// MethodID resolves a method by full signature, or by bare name when
// no "::" is present. FetchMeta runs on demand.
func (o *RemoteObject) MethodID(nameOrSig string) (uint32, error) {
	if err := o.FetchMeta(); err != nil {
		return 0, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if id, ok := o.methods[nameOrSig]; ok {
		return id, nil
	}
	if id, ok := o.byName[nameOrSig]; ok {
		return id, nil
	}
	return 0, status.Errorf(status.NotFound, "no method %q", nameOrSig)
}

// SignalID resolves a signal by name.
func (o *RemoteObject) SignalID(name string) (uint32, error) {
	if err := o.FetchMeta(); err != nil {
		return 0, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if id, ok := o.signals[name]; ok {
		return id, nil
	}
	return 0, status.Errorf(status.NotFound, "no signal %q", name)
}

// CallByName resolves and invokes a method in one step.
func (o *RemoteObject) CallByName(name string, args ...typesys.Value) *future.Future[typesys.Value] {
	id, err := o.MethodID(name)
	if err != nil {
		p := future.NewPromise[typesys.Value]()
		p.SetError(err)
		return p.Future()
	}
	return o.Call(id, args...)
}

// Subscribe registers fn for a remote signal. The returned link id is
// passed back to Unsubscribe. The peer starts forwarding emissions as
// Event frames once the registration call completes.
func (o *RemoteObject) Subscribe(signalID uint32, fn func(args []typesys.Value)) (uint64, error) {
	link := o.d.AllocLink()
	o.d.AddEventHandler(o.service, o.object, signalID, link, fn)

	reg := typesys.FromGo(eventRegistration{Service: o.service, Signal: signalID, Link: link})
	f := o.d.Call(ServiceSelf, 0, ActionRegisterEvent, reg)
	reg.Destroy()
	if err := f.Err(); err != nil {
		o.d.RemoveEventHandler(o.service, o.object, signalID, link)
		return 0, err
	}
	f.Value().Destroy()
	return link, nil
}

// Unsubscribe disconnects a link created by Subscribe. The local
// handler stops immediately; the peer-side link is torn down through
// the unregister call.
func (o *RemoteObject) Unsubscribe(signalID uint32, link uint64) error {
	o.d.RemoveEventHandler(o.service, o.object, signalID, link)
	reg := typesys.FromGo(eventRegistration{Service: o.service, Signal: signalID, Link: link})
	f := o.d.Call(ServiceSelf, 0, ActionUnregisterEvent, reg)
	reg.Destroy()
	if err := f.Err(); err != nil {
		return err
	}
	f.Value().Destroy()
	return nil
}
