package session

import (
	"crypto/tls"
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/fabricejumel/libqi/executor"
	"github.com/fabricejumel/libqi/status"
	"github.com/fabricejumel/libqi/transport"
	"github.com/fabricejumel/libqi/typesys"
)

// Session is a peer in the messaging graph: it can host services behind
// a listening server, locate services through a directory (local or
// remote), and hand out remote object proxies. All I/O runs on the
// executor supplied at construction.
type Session struct {
	exec     *executor.Executor
	resolver *transport.Resolver
	router   *Router
	tlsCfg   *tls.Config
	ipv6     transport.IPv6Enabled
	id       string

	mu       sync.Mutex
	disps    map[string]*Dispatcher
	sdRemote *RemoteObject
	sdLocal  *ServiceDirectory
	server   *Server
	closed   bool
}

// Option configures a Session.
type Option func(*Session)

// WithTLSConfig supplies the certificate material used for tcps
// endpoints, both dialing and listening.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *Session) { s.tlsCfg = cfg }
}

// WithIPv6 sets the address-family policy for outgoing connections.
func WithIPv6(enabled bool) Option {
	return func(s *Session) { s.ipv6 = transport.IPv6Enabled(enabled) }
}

// WithLookup overrides name resolution (tests use a mock).
func WithLookup(lookup transport.LookupFunc) Option {
	return func(s *Session) { s.resolver = transport.NewResolver(s.exec, lookup) }
}

// New creates a session running on exec.
func New(exec *executor.Executor, opts ...Option) *Session {
	s := &Session{
		exec:   exec,
		router: NewRouter(),
		disps:  make(map[string]*Dispatcher),
		id:     fmt.Sprintf("%s-%d", machineID(), os.Getpid()),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resolver == nil {
		s.resolver = transport.NewResolver(exec, nil)
	}
	return s
}

// Router returns the session's routing table.
func (s *Session) Router() *Router { return s.router }

// ID returns the session identifier carried in service registrations.
func (s *Session) ID() string { return s.id }

// HostDirectory makes this session the directory node: the directory
// object is bound as service 1 and later registrations are resolved
// locally.
func (s *Session) HostDirectory() *ServiceDirectory {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sdLocal == nil {
		s.sdLocal = NewServiceDirectory(s.endpointsLocked())
		s.router.Add(ServiceDirectoryID, MainObject, s.sdLocal.Object())
	}
	return s.sdLocal
}

// Listen starts (or extends) the session's server on the given
// endpoint.
func (s *Session) Listen(raw string) error {
	s.mu.Lock()
	if s.server == nil {
		s.server = NewServer(s.exec, s.router)
	}
	srv := s.server
	s.mu.Unlock()
	return srv.Listen(raw, s.tlsCfg)
}

func (s *Session) endpointsLocked() []string {
	if s.server == nil || s.server.Endpoint() == "" {
		return nil
	}
	return []string{s.server.Endpoint()}
}

// Endpoints returns the endpoints this session serves on.
func (s *Session) Endpoints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpointsLocked()
}

// ConnectDirectory attaches the session to a remote service directory.
func (s *Session) ConnectDirectory(raw string) error {
	d, err := s.connect(raw)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sdRemote = NewRemoteObject(d, ServiceDirectoryID, MainObject)
	s.mu.Unlock()
	return nil
}

// Directory returns the proxy of the remote directory attached by
// ConnectDirectory, nil when none is connected. A directory hosted by
// this session through HostDirectory has no proxy and is not returned.
func (s *Session) Directory() *RemoteObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdRemote
}

// connect dials an endpoint (or reuses the open socket to it) and
// returns its dispatcher.
func (s *Session) connect(raw string) (*Dispatcher, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, status.New(status.Disconnected)
	}
	if d, ok := s.disps[raw]; ok {
		s.mu.Unlock()
		return d, nil
	}
	s.mu.Unlock()

	u, err := transport.ParseURL(raw)
	if err != nil {
		connectsTotal.WithLabelValues("bad_address").Inc()
		return nil, err
	}
	cf := transport.NewConnectSocketFuture(
		s.exec, s.resolver, raw,
		transport.SSLEnabled(u.UseTLS()), s.tlsCfg, s.ipv6, transport.HandshakeClient)
	if err := cf.Future().Err(); err != nil {
		connectsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	connectsTotal.WithLabelValues("ok").Inc()
	sock := cf.Future().Value()

	d := NewDispatcher(sock, s.router)
	d.OnClosed(func(error) {
		s.mu.Lock()
		if s.disps[raw] == d {
			delete(s.disps, raw)
		}
		s.mu.Unlock()
	})

	s.mu.Lock()
	s.disps[raw] = d
	s.mu.Unlock()

	d.Start()
	if err := d.SendCapabilities(); err != nil {
		log.Debugf("capability advertise failed: %v", err)
	}
	return d, nil
}

// Service locates a service by name through the directory and returns
// a proxy connected to one of its endpoints.
func (s *Session) Service(name string) (*RemoteObject, error) {
	info, err := s.lookupService(name)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for _, ep := range info.Endpoints {
		d, err := s.connect(ep)
		if err != nil {
			lastErr = err
			continue
		}
		return NewRemoteObject(d, info.ServiceID, MainObject), nil
	}
	if lastErr == nil {
		lastErr = status.Errorf(status.NotFound, "service %q has no reachable endpoint", name)
	}
	return nil, lastErr
}

func (s *Session) lookupService(name string) (ServiceInfo, error) {
	s.mu.Lock()
	sdLocal, sdRemote := s.sdLocal, s.sdRemote
	s.mu.Unlock()

	if sdLocal != nil {
		return sdLocal.Service(name)
	}
	if sdRemote == nil {
		return ServiceInfo{}, status.Errorf(status.NotFound, "session has no service directory")
	}
	nv := typesys.NewString(name)
	f := sdRemote.Call(SDMethodService, nv)
	nv.Destroy()
	if err := f.Err(); err != nil {
		return ServiceInfo{}, err
	}
	v := f.Value()
	defer v.Destroy()
	rv, err := typesys.ToGo(v, reflect.TypeOf(ServiceInfo{}))
	if err != nil {
		return ServiceInfo{}, status.Errorf(status.ProtocolError, "bad service info: %v", err)
	}
	return rv.Interface().(ServiceInfo), nil
}

// RegisterService binds obj as a named service: locally when this
// session hosts the directory, through the remote directory otherwise.
// The object becomes callable at (assigned id, object 1) on every
// socket of this session's server.
func (s *Session) RegisterService(name string, obj *typesys.AnyObject) (uint32, error) {
	s.mu.Lock()
	info := ServiceInfo{
		Name:      name,
		MachineID: machineID(),
		ProcessID: uint32(os.Getpid()),
		Endpoints: s.endpointsLocked(),
		SessionID: s.id,
	}
	sdLocal, sdRemote := s.sdLocal, s.sdRemote
	s.mu.Unlock()

	var id uint32
	var err error
	switch {
	case sdLocal != nil:
		id, err = sdLocal.RegisterService(info)
	case sdRemote != nil:
		iv := typesys.FromGo(info)
		f := sdRemote.Call(SDMethodRegisterService, iv)
		iv.Destroy()
		if err = f.Err(); err == nil {
			v := f.Value()
			id = uint32(v.ToUInt())
			v.Destroy()
		}
	default:
		err = status.Errorf(status.NotFound, "session has no service directory")
	}
	if err != nil {
		return 0, err
	}
	s.router.Add(id, MainObject, obj)
	return id, nil
}

// UnregisterService removes a service registration and unbinds its
// objects.
func (s *Session) UnregisterService(id uint32) error {
	s.mu.Lock()
	sdLocal, sdRemote := s.sdLocal, s.sdRemote
	s.mu.Unlock()

	var err error
	switch {
	case sdLocal != nil:
		err = sdLocal.UnregisterService(id)
	case sdRemote != nil:
		iv := typesys.NewUInt(typesys.UInt32Type(), uint64(id))
		f := sdRemote.Call(SDMethodUnregisterService, iv)
		iv.Destroy()
		if err = f.Err(); err == nil {
			f.Value().Destroy()
		}
	default:
		err = status.Errorf(status.NotFound, "session has no service directory")
	}
	if err != nil {
		return err
	}
	s.router.Remove(id)
	return nil
}

// Close tears down the server and every open socket.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	srv := s.server
	disps := s.disps
	s.disps = make(map[string]*Dispatcher)
	s.mu.Unlock()

	if srv != nil {
		srv.Close()
	}
	for _, d := range disps {
		d.Close()
	}
}
