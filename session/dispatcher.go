package session

import (
	"bytes"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/fabricejumel/libqi/future"
	"github.com/fabricejumel/libqi/status"
	"github.com/fabricejumel/libqi/transport"
	"github.com/fabricejumel/libqi/typesys"
	"github.com/fabricejumel/libqi/wire"
)

var log = commonlog.GetLogger("qi.session")

type eventLink struct {
	service uint32
	signal  uint32
	local   uint64
}

// Dispatcher owns one socket: it frames outgoing messages with a
// monotonic per-socket message id, routes incoming frames by (service,
// object, action), completes caller futures on Reply/Error (replies may
// arrive in any order), and forwards subscribed signal emissions as
// Event frames.
//
// Semantic failures (unknown ids, conversion failures) produce typed
// Error replies and leave the socket open; framing violations close the
// socket and complete every in-flight call with Disconnected.
type Dispatcher struct {
	sock   *transport.Socket
	router *Router
	codec  wire.Codec

	mu       sync.Mutex
	nextID   uint32
	pending  map[uint32]*future.Promise[typesys.Value]
	links    map[uint64]eventLink
	nextLink uint64
	handlers map[eventKey]map[uint64]func([]typesys.Value)
	caps     wire.CapabilityMap
	closed   bool
	onClosed func(error)
}

// eventKey addresses a signal on the remote side of the socket.
type eventKey struct {
	service uint32
	object  uint32
	action  uint32
}

// NewDispatcher attaches a dispatcher to a connected socket. Callers
// start it explicitly with Start.
func NewDispatcher(sock *transport.Socket, router *Router) *Dispatcher {
	d := &Dispatcher{
		sock:     sock,
		router:   router,
		pending:  make(map[uint32]*future.Promise[typesys.Value]),
		links:    make(map[uint64]eventLink),
		handlers: make(map[eventKey]map[uint64]func([]typesys.Value)),
		caps:     wire.DefaultCapabilities(),
	}
	d.codec = wire.Codec{Objects: d}
	return d
}

// OnClosed registers the hook run (once, on the executor) after the
// socket is torn down.
func (d *Dispatcher) OnClosed(fn func(error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onClosed = fn
}

// Capabilities returns the negotiated capability map.
func (d *Dispatcher) Capabilities() wire.CapabilityMap {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps
}

// Start begins reading frames. The read loop blocks on the socket in
// its own goroutine and hands each frame to the executor, preserving
// arrival order.
func (d *Dispatcher) Start() {
	socketsActive.Inc()
	go d.readLoop()
}

func (d *Dispatcher) readLoop() {
	exec := d.sock.Executor()
	for {
		m, err := wire.ReadMessage(d.sock)
		if err != nil {
			exec.Post(func() { d.closeWithError(err) })
			return
		}
		exec.Post(func() { d.handle(m) })
	}
}

// ---------------------------------------------------------------------------
// Outgoing
// ---------------------------------------------------------------------------

func (d *Dispatcher) allocID() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) send(m *wire.Message) error {
	var buf bytes.Buffer
	if err := m.WriteTo(&buf); err != nil {
		return err
	}
	if err := d.sock.Write(buf.Bytes()); err != nil {
		return err
	}
	messagesTotal.WithLabelValues(m.Type.String(), "tx").Inc()
	return nil
}

// encodeArgs packs an argument vector as consecutive dynamics, so the
// receiver can rebuild each value from its embedded signature and
// convert it to the declared parameter type.
func (d *Dispatcher) encodeArgs(args []typesys.Value) ([]byte, error) {
	var buf bytes.Buffer
	for _, a := range args {
		dyn := typesys.NewDynamic(a)
		err := d.codec.EncodeTo(&buf, dyn)
		dyn.Destroy()
		if err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (d *Dispatcher) decodeArgs(payload []byte, arity int) ([]typesys.Value, error) {
	r := bytes.NewReader(payload)
	args := make([]typesys.Value, 0, arity)
	for i := 0; i < arity; i++ {
		dyn, err := d.codec.DecodeFrom(r, typesys.DynamicType())
		if err != nil {
			destroyAll(args)
			return nil, err
		}
		args = append(args, dyn.Inner().Clone())
		dyn.Destroy()
	}
	if r.Len() != 0 {
		destroyAll(args)
		return nil, status.Errorf(status.ProtocolError, "%d trailing bytes in argument payload", r.Len())
	}
	return args, nil
}

func destroyAll(vs []typesys.Value) {
	for _, v := range vs {
		v.Destroy()
	}
}

// Call sends a Call frame and returns the future completed by the
// peer's Reply or Error. Cancelling the future sends a Cancel frame
// carrying the message id and completes locally with Cancelled without
// waiting for the peer.
func (d *Dispatcher) Call(service, object, action uint32, args ...typesys.Value) *future.Future[typesys.Value] {
	p := future.NewPromise[typesys.Value]()
	f := p.Future()

	payload, err := d.encodeArgs(args)
	if err != nil {
		p.SetError(err)
		return f
	}
	id := d.allocID()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		p.SetError(status.New(status.Disconnected))
		return f
	}
	d.pending[id] = p
	d.mu.Unlock()

	p.OnCancel(func() {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
		d.sendCancel(id)
	})

	m := &wire.Message{Header: wire.Header{
		ID: id, Service: service, Object: object, Action: action, Type: wire.TypeCall,
	}, Payload: payload}
	if err := d.send(m); err != nil {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
		p.SetError(err)
	}
	return f
}

// Post sends a fire-and-forget Post frame triggering a signal on the
// target object.
func (d *Dispatcher) Post(service, object, action uint32, args ...typesys.Value) error {
	payload, err := d.encodeArgs(args)
	if err != nil {
		return err
	}
	return d.send(&wire.Message{Header: wire.Header{
		ID: d.allocID(), Service: service, Object: object, Action: action, Type: wire.TypePost,
	}, Payload: payload})
}

func (d *Dispatcher) sendCancel(target uint32) {
	v := typesys.NewUInt(typesys.UInt32Type(), uint64(target))
	payload, err := d.codec.Encode(v)
	v.Destroy()
	if err != nil {
		return
	}
	d.send(&wire.Message{Header: wire.Header{
		ID: d.allocID(), Type: wire.TypeCancel,
	}, Payload: payload})
}

// SendCapabilities advertises this side's capability map.
func (d *Dispatcher) SendCapabilities() error {
	payload, err := wire.MarshalCapabilities(wire.DefaultCapabilities())
	if err != nil {
		return err
	}
	return d.send(&wire.Message{Header: wire.Header{
		ID: d.allocID(), Type: wire.TypeCapability, PayloadKind: wire.PayloadCBOR,
	}, Payload: payload})
}

func (d *Dispatcher) reply(req *wire.Message, result typesys.Value) {
	dyn := typesys.NewDynamic(result)
	payload, err := d.codec.Encode(dyn)
	dyn.Destroy()
	if err != nil {
		d.replyError(req, err)
		return
	}
	d.send(&wire.Message{Header: wire.Header{
		ID: req.ID, Service: req.Service, Object: req.Object, Action: req.Action, Type: wire.TypeReply,
	}, Payload: payload})
}

func (d *Dispatcher) replyError(req *wire.Message, callErr error) {
	v := typesys.NewString(callErr.Error())
	dyn := typesys.NewDynamic(v)
	payload, err := d.codec.Encode(dyn)
	dyn.Destroy()
	v.Destroy()
	if err != nil {
		return
	}
	d.send(&wire.Message{Header: wire.Header{
		ID: req.ID, Service: req.Service, Object: req.Object, Action: req.Action, Type: wire.TypeError,
	}, Payload: payload})
}

// ---------------------------------------------------------------------------
// Incoming
// ---------------------------------------------------------------------------

func (d *Dispatcher) takePending(id uint32) *future.Promise[typesys.Value] {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.pending[id]
	delete(d.pending, id)
	return p
}

func (d *Dispatcher) handle(m *wire.Message) {
	messagesTotal.WithLabelValues(m.Type.String(), "rx").Inc()
	switch m.Type {
	case wire.TypeReply:
		p := d.takePending(m.ID)
		if p == nil {
			log.Debugf("reply for unknown call %d", m.ID)
			return
		}
		if len(m.Payload) == 0 {
			p.SetValue(typesys.Void())
			return
		}
		dyn, err := d.codec.Decode(m.Payload, typesys.DynamicType())
		if err != nil {
			p.SetError(err)
			return
		}
		result := dyn.Inner().Clone()
		dyn.Destroy()
		p.SetValue(result)

	case wire.TypeError:
		p := d.takePending(m.ID)
		if p == nil {
			return
		}
		p.SetError(d.decodeRemoteError(m.Payload))

	case wire.TypeCall:
		if m.Service == ServiceSelf {
			d.handleSelf(m)
			return
		}
		b := d.router.Find(m.Service, m.Object)
		if b == nil {
			dispatchErrors.WithLabelValues("not_found").Inc()
			d.replyError(m, status.Errorf(status.NotFound, "no object %d.%d", m.Service, m.Object))
			return
		}
		method := b.Obj.Method(m.Action)
		if method == nil {
			dispatchErrors.WithLabelValues("not_found").Inc()
			d.replyError(m, status.Errorf(status.NotFound, "no method %d on %d.%d", m.Action, m.Service, m.Object))
			return
		}
		args, err := d.decodeArgs(m.Payload, len(method.ArgTypes()))
		if err != nil {
			dispatchErrors.WithLabelValues("protocol").Inc()
			d.replyError(m, err)
			return
		}
		result, err := method.CallValues(args)
		destroyAll(args)
		if err != nil {
			dispatchErrors.WithLabelValues("conversion").Inc()
			d.replyError(m, err)
			return
		}
		d.reply(m, result)
		result.Destroy()

	case wire.TypePost, wire.TypeEvent:
		if d.deliverToHandlers(m) {
			return
		}
		b := d.router.Find(m.Service, m.Object)
		if b == nil {
			dispatchErrors.WithLabelValues("not_found").Inc()
			d.replyError(m, status.Errorf(status.NotFound, "no object %d.%d", m.Service, m.Object))
			return
		}
		sig := b.Obj.Signal(m.Action)
		if sig == nil {
			dispatchErrors.WithLabelValues("not_found").Inc()
			d.replyError(m, status.Errorf(status.NotFound, "no signal %d on %d.%d", m.Action, m.Service, m.Object))
			return
		}
		args, err := d.decodeArgs(m.Payload, len(sig.ArgTypes()))
		if err != nil {
			dispatchErrors.WithLabelValues("protocol").Inc()
			return
		}
		sig.Emit(args...)
		destroyAll(args)

	case wire.TypeCapability:
		peer, err := wire.UnmarshalCapabilities(m.Payload)
		if err != nil {
			d.closeWithError(err)
			return
		}
		d.mu.Lock()
		d.caps = wire.DefaultCapabilities().Merge(peer)
		d.mu.Unlock()

	case wire.TypeCancel:
		// Calls dispatch synchronously on the executor, so by the time a
		// Cancel frame is read the target either completed or was never
		// started. The caller's local future is already Cancelled.
		log.Debugf("cancel for message %d ignored (no pending work)", m.ID)
	}
}

// AllocLink hands out a socket-unique link id for a remote event
// subscription.
func (d *Dispatcher) AllocLink() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextLink++
	return d.nextLink
}

// AddEventHandler routes incoming Event/Post frames addressed to the
// given (service, object, action) to fn, keyed by link id.
func (d *Dispatcher) AddEventHandler(service, object, action uint32, link uint64, fn func([]typesys.Value)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := eventKey{service, object, action}
	if d.handlers[k] == nil {
		d.handlers[k] = make(map[uint64]func([]typesys.Value))
	}
	d.handlers[k][link] = fn
}

// RemoveEventHandler drops the handler registered under link.
func (d *Dispatcher) RemoveEventHandler(service, object, action uint32, link uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := eventKey{service, object, action}
	delete(d.handlers[k], link)
	if len(d.handlers[k]) == 0 {
		delete(d.handlers, k)
	}
}

// deliverToHandlers dispatches an incoming event to locally-subscribed
// handlers. Event payloads are self-describing dynamics, so arity comes
// from the payload itself.
func (d *Dispatcher) deliverToHandlers(m *wire.Message) bool {
	d.mu.Lock()
	hs := d.handlers[eventKey{m.Service, m.Object, m.Action}]
	snapshot := make([]func([]typesys.Value), 0, len(hs))
	for _, fn := range hs {
		snapshot = append(snapshot, fn)
	}
	d.mu.Unlock()
	if len(snapshot) == 0 {
		return false
	}
	args, err := d.decodeDynamicArgs(m.Payload)
	if err != nil {
		dispatchErrors.WithLabelValues("protocol").Inc()
		return true
	}
	for _, fn := range snapshot {
		fn(args)
	}
	destroyAll(args)
	return true
}

// decodeDynamicArgs reads dynamics until the payload is exhausted.
func (d *Dispatcher) decodeDynamicArgs(payload []byte) ([]typesys.Value, error) {
	r := bytes.NewReader(payload)
	var args []typesys.Value
	for r.Len() > 0 {
		dyn, err := d.codec.DecodeFrom(r, typesys.DynamicType())
		if err != nil {
			destroyAll(args)
			return nil, err
		}
		args = append(args, dyn.Inner().Clone())
		dyn.Destroy()
	}
	return args, nil
}

func (d *Dispatcher) decodeRemoteError(payload []byte) error {
	dyn, err := d.codec.Decode(payload, typesys.DynamicType())
	if err != nil {
		return err
	}
	defer dyn.Destroy()
	inner := dyn.Inner()
	if inner.Kind() != typesys.KindString {
		return status.New(status.ProtocolError)
	}
	msg := inner.ToString()
	if code, ok := status.TryFromString(msg); ok {
		return &status.Error{Code: code, Message: msg}
	}
	return &status.Error{Code: status.ProtocolError, Message: msg}
}

// ---------------------------------------------------------------------------
// Socket-level services (event subscription, meta discovery)
// ---------------------------------------------------------------------------

type eventRegistration struct {
	Service uint32
	Signal  uint32
	Link    uint64
}

func (d *Dispatcher) handleSelf(m *wire.Message) {
	switch m.Action {
	case ActionRegisterEvent:
		args, err := d.decodeArgs(m.Payload, 1)
		if err != nil {
			d.replyError(m, err)
			return
		}
		defer destroyAll(args)
		regDesc := typesys.TypeOf[eventRegistration]()
		conv, owned := typesys.Convert(args[0], regDesc)
		if !conv.IsValid() {
			d.replyError(m, status.Errorf(status.ConversionFailed, "bad event registration"))
			return
		}
		reg := eventRegistration{
			Service: uint32(conv.Element(0).ToUInt()),
			Signal:  uint32(conv.Element(1).ToUInt()),
			Link:    conv.Element(2).ToUInt(),
		}
		if owned {
			conv.Destroy()
		}
		d.registerEvent(m, reg)

	case ActionUnregisterEvent:
		args, err := d.decodeArgs(m.Payload, 1)
		if err != nil {
			d.replyError(m, err)
			return
		}
		defer destroyAll(args)
		link := args[0].Element(2).ToUInt()
		d.unregisterEvent(m, link)

	case ActionMetaObject:
		args, err := d.decodeArgs(m.Payload, 1)
		if err != nil {
			d.replyError(m, err)
			return
		}
		defer destroyAll(args)
		service := uint32(args[0].Element(0).ToUInt())
		object := uint32(args[0].Element(1).ToUInt())
		b := d.router.Find(service, object)
		if b == nil {
			d.replyError(m, status.Errorf(status.NotFound, "no object %d.%d", service, object))
			return
		}
		v := typesys.FromGo(metaSummaryOf(b.Obj.Meta()))
		d.reply(m, v)
		v.Destroy()

	default:
		d.replyError(m, status.Errorf(status.NotFound, "unknown self action %d", m.Action))
	}
}

func (d *Dispatcher) registerEvent(m *wire.Message, reg eventRegistration) {
	b := d.router.Find(reg.Service, MainObject)
	if b == nil {
		d.replyError(m, status.Errorf(status.NotFound, "no service %d", reg.Service))
		return
	}
	sig := b.Obj.Signal(reg.Signal)
	if sig == nil {
		d.replyError(m, status.Errorf(status.NotFound, "no signal %d on service %d", reg.Signal, reg.Service))
		return
	}
	service, signalID := reg.Service, reg.Signal
	local := sig.ConnectRaw(func(args []typesys.Value) {
		d.forwardEvent(service, signalID, args)
	})
	d.mu.Lock()
	d.links[reg.Link] = eventLink{service: reg.Service, signal: reg.Signal, local: local}
	d.mu.Unlock()

	v := typesys.NewUInt(typesys.UInt64Type(), reg.Link)
	d.reply(m, v)
	v.Destroy()
}

func (d *Dispatcher) unregisterEvent(m *wire.Message, link uint64) {
	d.mu.Lock()
	el, ok := d.links[link]
	delete(d.links, link)
	d.mu.Unlock()
	if !ok {
		d.replyError(m, status.Errorf(status.NotFound, "unknown link %d", link))
		return
	}
	if b := d.router.Find(el.service, MainObject); b != nil {
		if sig := b.Obj.Signal(el.signal); sig != nil {
			sig.Disconnect(el.local)
		}
	}
	d.reply(m, typesys.Void())
}

func (d *Dispatcher) forwardEvent(service, signal uint32, args []typesys.Value) {
	payload, err := d.encodeArgs(args)
	if err != nil {
		log.Warningf("cannot forward event %d.%d: %v", service, signal, err)
		return
	}
	d.send(&wire.Message{Header: wire.Header{
		ID: d.allocID(), Service: service, Object: MainObject, Action: signal, Type: wire.TypeEvent,
	}, Payload: payload})
}

// metaSummary is the wire form of a meta-object: lookup tables from
// method signature, signal name and property name to member ids.
type metaSummary struct {
	Methods    map[string]uint32
	Signals    map[string]uint32
	Properties map[string]uint32
}

func metaSummaryOf(m *typesys.MetaObject) metaSummary {
	out := metaSummary{
		Methods:    make(map[string]uint32),
		Signals:    make(map[string]uint32),
		Properties: make(map[string]uint32),
	}
	for _, mm := range m.Methods() {
		out.Methods[mm.Signature] = mm.ID
	}
	for _, ms := range m.Signals() {
		out.Signals[ms.Name] = ms.ID
	}
	for _, mp := range m.Properties() {
		out.Properties[mp.Name] = mp.ID
	}
	return out
}

// ---------------------------------------------------------------------------
// Object reference coding
// ---------------------------------------------------------------------------

// EncodeRef maps a live object to its bound routing address. Only
// objects bound on this dispatcher's router can cross the wire.
func (d *Dispatcher) EncodeRef(obj *typesys.AnyObject) (uint32, uint32, error) {
	if b := d.findBound(obj); b != nil {
		return b.Service, b.Object, nil
	}
	return 0, 0, status.Errorf(status.NotFound, "object %d is not bound to a service", obj.ID())
}

func (d *Dispatcher) findBound(obj *typesys.AnyObject) *BoundObject {
	d.router.mu.RLock()
	defer d.router.mu.RUnlock()
	for _, b := range d.router.objects {
		if b.Obj == obj {
			return b
		}
	}
	return nil
}

// DecodeRef resolves a transported (service, object) pair against the
// local router.
func (d *Dispatcher) DecodeRef(service, object uint32) (typesys.Value, error) {
	b := d.router.Find(service, object)
	if b == nil {
		return typesys.Value{}, status.Errorf(status.NotFound, "no object %d.%d", service, object)
	}
	return b.Obj.Ref(), nil
}

// ---------------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------------

// Close tears the socket down and completes all in-flight calls with
// Disconnected.
func (d *Dispatcher) Close() {
	d.closeWithError(status.New(status.Disconnected))
}

func (d *Dispatcher) closeWithError(err error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	pending := d.pending
	d.pending = make(map[uint32]*future.Promise[typesys.Value])
	links := d.links
	d.links = make(map[uint64]eventLink)
	hook := d.onClosed
	d.mu.Unlock()

	for _, el := range links {
		if b := d.router.Find(el.service, MainObject); b != nil {
			if sig := b.Obj.Signal(el.signal); sig != nil {
				sig.Disconnect(el.local)
			}
		}
	}
	disconnected := status.New(status.Disconnected)
	for _, p := range pending {
		p.SetError(disconnected)
	}
	d.sock.Close()
	socketsActive.Dec()
	if hook != nil {
		hook(err)
	}
}
