package session

import (
	"testing"

	"github.com/fabricejumel/libqi/status"
	"github.com/fabricejumel/libqi/typesys"
)

func TestDirectoryRegisterAndLookup(t *testing.T) {
	sd := NewServiceDirectory([]string{"tcp://127.0.0.1:9559"})

	id, err := sd.RegisterService(ServiceInfo{Name: "calc", Endpoints: []string{"tcp://127.0.0.1:4001"}})
	if err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
	if id <= ServiceDirectoryID {
		t.Errorf("assigned id %d must be above the directory's own", id)
	}

	info, err := sd.Service("calc")
	if err != nil {
		t.Fatalf("Service: %v", err)
	}
	if info.ServiceID != id || len(info.Endpoints) != 1 {
		t.Errorf("lookup = %+v", info)
	}

	if _, err := sd.Service("nope"); status.CodeOf(err) != status.NotFound {
		t.Errorf("missing service = %v, want NotFound", err)
	}
}

func TestDirectoryDuplicateNameRejected(t *testing.T) {
	sd := NewServiceDirectory(nil)
	if _, err := sd.RegisterService(ServiceInfo{Name: "dup"}); err != nil {
		t.Fatal(err)
	}
	if _, err := sd.RegisterService(ServiceInfo{Name: "dup"}); err == nil {
		t.Error("duplicate name must be rejected")
	}
}

func TestDirectoryUnregister(t *testing.T) {
	sd := NewServiceDirectory(nil)
	id, _ := sd.RegisterService(ServiceInfo{Name: "gone"})
	if err := sd.UnregisterService(id); err != nil {
		t.Fatalf("UnregisterService: %v", err)
	}
	if _, err := sd.Service("gone"); err == nil {
		t.Error("unregistered service must not resolve")
	}
	if err := sd.UnregisterService(id); err == nil {
		t.Error("double unregister must fail")
	}
	if err := sd.UnregisterService(ServiceDirectoryID); err == nil {
		t.Error("the directory itself must not be unregisterable")
	}
}

func TestDirectoryListsItselfFirst(t *testing.T) {
	sd := NewServiceDirectory(nil)
	sd.RegisterService(ServiceInfo{Name: "b"})
	sd.RegisterService(ServiceInfo{Name: "a"})
	all := sd.Services()
	if len(all) != 3 {
		t.Fatalf("Services() returned %d entries", len(all))
	}
	if all[0].Name != "ServiceDirectory" || all[0].ServiceID != ServiceDirectoryID {
		t.Errorf("first entry = %+v", all[0])
	}
}

func TestDirectorySignals(t *testing.T) {
	sd := NewServiceDirectory(nil)
	type event struct {
		id   uint32
		name string
	}
	var added, removed []event
	sd.added.ConnectFunc(func(id uint32, name string) { added = append(added, event{id, name}) })
	sd.removed.ConnectFunc(func(id uint32, name string) { removed = append(removed, event{id, name}) })

	id, _ := sd.RegisterService(ServiceInfo{Name: "sig"})
	if len(added) != 1 || added[0].id != id || added[0].name != "sig" {
		t.Errorf("serviceAdded = %v", added)
	}
	sd.UnregisterService(id)
	if len(removed) != 1 || removed[0].id != id {
		t.Errorf("serviceRemoved = %v", removed)
	}
}

func TestDirectoryObjectTableLayout(t *testing.T) {
	sd := NewServiceDirectory(nil)
	meta := sd.Object().Meta()
	if m := meta.Method(SDMethodService); m == nil || m.Name != "service" {
		t.Errorf("method 1 = %+v", m)
	}
	if m := meta.Method(SDMethodRegisterService); m == nil || m.Name != "registerService" {
		t.Errorf("method 3 = %+v", m)
	}
	if s := meta.Signal(SDSignalServiceAdded); s == nil || s.Name != "serviceAdded" {
		t.Errorf("signal 6 = %+v", s)
	}
	if id, ok := meta.MethodID("service::(s)"); !ok || id != SDMethodService {
		t.Errorf("signature lookup = %d, %v", id, ok)
	}
	// Id 0 is reserved and never assigned.
	if meta.Method(0) != nil || meta.Signal(0) != nil {
		t.Error("id 0 must stay unassigned")
	}
}

func TestDirectoryCallableThroughAdapter(t *testing.T) {
	sd := NewServiceDirectory(nil)
	obj := sd.Object()

	// registerService invoked through the erased calling convention,
	// the way the dispatcher does it.
	info := typesys.FromGo(ServiceInfo{Name: "via-adapter", Endpoints: []string{"tcp://h:1"}})
	res, err := obj.Method(SDMethodRegisterService).CallValues([]typesys.Value{info})
	info.Destroy()
	if err != nil {
		t.Fatalf("CallValues: %v", err)
	}
	id := uint32(res.ToUInt())
	res.Destroy()

	got, err := sd.Service("via-adapter")
	if err != nil || got.ServiceID != id {
		t.Errorf("adapter-registered service = %+v, %v", got, err)
	}
}
