package session

import (
	"fmt"
	"os"
	"sync"

	"github.com/fabricejumel/libqi/status"
	"github.com/fabricejumel/libqi/typesys"
)

// The service directory is itself service 1, reachable at object 1 on
// any socket of the node hosting it.
const (
	ServiceDirectoryID uint32 = 1

	// Method and signal ids, fixed by advertise order.
	SDMethodService           uint32 = 1
	SDMethodServices          uint32 = 2
	SDMethodRegisterService   uint32 = 3
	SDMethodUnregisterService uint32 = 4
	SDMethodMachineID         uint32 = 5
	SDSignalServiceAdded      uint32 = 6
	SDSignalServiceRemoved    uint32 = 7
)

// ServiceInfo describes one registered service: where it lives and how
// to reach it.
type ServiceInfo struct {
	Name      string
	ServiceID uint32
	MachineID string
	ProcessID uint32
	Endpoints []string
	SessionID string
}

// ServiceDirectory is the in-process implementation of the well-known
// directory object: name to endpoint mapping with add/remove signals.
// State is in-memory only and dies with the process.
type ServiceDirectory struct {
	mu     sync.Mutex
	byID   map[uint32]ServiceInfo
	byName map[string]uint32
	nextID uint32

	added   *typesys.Signal
	removed *typesys.Signal
	obj     *typesys.AnyObject
}

// NewServiceDirectory builds the directory and its object. The
// directory registers itself as service 1.
func NewServiceDirectory(endpoints []string) *ServiceDirectory {
	sd := &ServiceDirectory{
		byID:   make(map[uint32]ServiceInfo),
		byName: make(map[string]uint32),
		nextID: ServiceDirectoryID,
	}

	b := typesys.NewObjectBuilder(sd)
	b.SetDescription("Service directory: maps service names to endpoints")
	mustAdvertise(b, "service", sd.Service)
	mustAdvertise(b, "services", sd.Services)
	mustAdvertise(b, "registerService", sd.RegisterService)
	mustAdvertise(b, "unregisterService", sd.UnregisterService)
	mustAdvertise(b, "machineId", sd.MachineIDString)
	sd.added, _ = b.AdvertiseSignal("serviceAdded", typesys.UInt32Type(), typesys.StringType())
	sd.removed, _ = b.AdvertiseSignal("serviceRemoved", typesys.UInt32Type(), typesys.StringType())
	sd.obj = b.Object("ServiceDirectory")

	self := ServiceInfo{
		Name:      "ServiceDirectory",
		ServiceID: ServiceDirectoryID,
		MachineID: machineID(),
		ProcessID: uint32(os.Getpid()),
		Endpoints: endpoints,
	}
	sd.byID[ServiceDirectoryID] = self
	sd.byName[self.Name] = ServiceDirectoryID
	return sd
}

func mustAdvertise(b *typesys.ObjectBuilder, name string, fn interface{}) {
	if _, err := b.AdvertiseMethod(name, fn); err != nil {
		panic("session: advertise " + name + ": " + err.Error())
	}
}

// Object returns the directory's callable object, for binding on a
// router.
func (sd *ServiceDirectory) Object() *typesys.AnyObject { return sd.obj }

// Service resolves a service by name.
func (sd *ServiceDirectory) Service(name string) (ServiceInfo, error) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	id, ok := sd.byName[name]
	if !ok {
		return ServiceInfo{}, status.Errorf(status.NotFound, "no service %q", name)
	}
	return sd.byID[id], nil
}

// Services lists every registered service.
func (sd *ServiceDirectory) Services() []ServiceInfo {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	out := make([]ServiceInfo, 0, len(sd.byID))
	for id := ServiceDirectoryID; id <= sd.nextID; id++ {
		if info, ok := sd.byID[id]; ok {
			out = append(out, info)
		}
	}
	return out
}

// RegisterService assigns a fresh id and records the service. The
// serviceAdded signal fires after the table is updated.
func (sd *ServiceDirectory) RegisterService(info ServiceInfo) (uint32, error) {
	sd.mu.Lock()
	if _, exists := sd.byName[info.Name]; exists {
		sd.mu.Unlock()
		return 0, fmt.Errorf("session: service %q already registered", info.Name)
	}
	sd.nextID++
	id := sd.nextID
	info.ServiceID = id
	sd.byID[id] = info
	sd.byName[info.Name] = id
	sd.mu.Unlock()

	idv := typesys.NewUInt(typesys.UInt32Type(), uint64(id))
	namev := typesys.NewString(info.Name)
	sd.added.Emit(idv, namev)
	idv.Destroy()
	namev.Destroy()
	return id, nil
}

// UnregisterService removes a service by id and fires serviceRemoved.
func (sd *ServiceDirectory) UnregisterService(id uint32) error {
	sd.mu.Lock()
	info, ok := sd.byID[id]
	if !ok || id == ServiceDirectoryID {
		sd.mu.Unlock()
		return status.Errorf(status.NotFound, "no service %d", id)
	}
	delete(sd.byID, id)
	delete(sd.byName, info.Name)
	sd.mu.Unlock()

	idv := typesys.NewUInt(typesys.UInt32Type(), uint64(id))
	namev := typesys.NewString(info.Name)
	sd.removed.Emit(idv, namev)
	idv.Destroy()
	namev.Destroy()
	return nil
}

// MachineIDString reports the directory host's machine identifier.
func (sd *ServiceDirectory) MachineIDString() string { return machineID() }

func machineID() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}
