package session

import (
	"net"
	"testing"

	"github.com/fabricejumel/libqi/executor"
	"github.com/fabricejumel/libqi/status"
	"github.com/fabricejumel/libqi/typesys"
)

// freeLoopbackURL reserves an ephemeral port and returns a tcp URL for
// it. The listener is closed before returning, so there is a small
// window in which another process could steal the port; good enough for
// loopback tests.
func freeLoopbackURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return "tcp://" + addr
}

func startDirectoryNode(t *testing.T) (*Session, string) {
	t.Helper()
	exec := executor.New(0)
	t.Cleanup(exec.Stop)
	sess := New(exec)
	t.Cleanup(sess.Close)

	url := freeLoopbackURL(t)
	if err := sess.Listen(url); err != nil {
		t.Fatalf("Listen(%s): %v", url, err)
	}
	sess.HostDirectory()
	return sess, url
}

func TestSessionServiceRoundTrip(t *testing.T) {
	node, url := startDirectoryNode(t)

	// The directory node also hosts a calculator service.
	b := typesys.NewObjectBuilder(nil)
	mustAdvertise(b, "add", func(a, b int32) int32 { return a + b })
	mustAdvertise(b, "greet", func(name string) string { return "hello " + name })
	if _, err := node.RegisterService("calc", b.Object("Calc")); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}

	// A second session finds it through the directory and calls it.
	exec2 := executor.New(0)
	t.Cleanup(exec2.Stop)
	client := New(exec2)
	t.Cleanup(client.Close)
	if err := client.ConnectDirectory(url); err != nil {
		t.Fatalf("ConnectDirectory: %v", err)
	}

	calc, err := client.Service("calc")
	if err != nil {
		t.Fatalf("Service(calc): %v", err)
	}

	x := typesys.NewInt(typesys.Int32Type(), 20)
	y := typesys.NewInt(typesys.Int32Type(), 22)
	f := calc.CallByName("add", x, y)
	x.Destroy()
	y.Destroy()
	if err := f.Wait(callTimeout); err != nil {
		t.Fatal("call timed out")
	}
	if err := f.Err(); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	v := f.Value()
	if v.ToInt() != 42 {
		t.Errorf("add = %d, want 42", v.ToInt())
	}
	v.Destroy()
}

func TestSessionServiceNotFound(t *testing.T) {
	_, url := startDirectoryNode(t)

	exec2 := executor.New(0)
	t.Cleanup(exec2.Stop)
	client := New(exec2)
	t.Cleanup(client.Close)
	if err := client.ConnectDirectory(url); err != nil {
		t.Fatalf("ConnectDirectory: %v", err)
	}
	if _, err := client.Service("missing"); status.CodeOf(err) != status.NotFound {
		t.Errorf("missing service = %v, want NotFound", err)
	}
}

func TestSessionRemoteRegistration(t *testing.T) {
	_, sdURL := startDirectoryNode(t)

	// A provider session hosts its own server and registers through the
	// remote directory.
	exec2 := executor.New(0)
	t.Cleanup(exec2.Stop)
	provider := New(exec2)
	t.Cleanup(provider.Close)
	if err := provider.Listen(freeLoopbackURL(t)); err != nil {
		t.Fatalf("provider Listen: %v", err)
	}
	if err := provider.ConnectDirectory(sdURL); err != nil {
		t.Fatalf("provider ConnectDirectory: %v", err)
	}

	b := typesys.NewObjectBuilder(nil)
	mustAdvertise(b, "ping", func() string { return "pong" })
	id, err := provider.RegisterService("pinger", b.Object("Pinger"))
	if err != nil {
		t.Fatalf("remote RegisterService: %v", err)
	}
	if id <= ServiceDirectoryID {
		t.Errorf("assigned id = %d", id)
	}

	// A consumer finds the provider through the directory and calls it
	// over the provider's own endpoint.
	exec3 := executor.New(0)
	t.Cleanup(exec3.Stop)
	consumer := New(exec3)
	t.Cleanup(consumer.Close)
	if err := consumer.ConnectDirectory(sdURL); err != nil {
		t.Fatalf("consumer ConnectDirectory: %v", err)
	}
	pinger, err := consumer.Service("pinger")
	if err != nil {
		t.Fatalf("Service(pinger): %v", err)
	}
	f := pinger.CallByName("ping")
	if err := f.Wait(callTimeout); err != nil {
		t.Fatal("ping timed out")
	}
	if err := f.Err(); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	v := f.Value()
	if v.ToString() != "pong" {
		t.Errorf("ping = %q", v.ToString())
	}
	v.Destroy()
}

func TestSessionDirectoryServicesListing(t *testing.T) {
	node, url := startDirectoryNode(t)
	b := typesys.NewObjectBuilder(nil)
	mustAdvertise(b, "noop", func() {})
	node.RegisterService("extra", b.Object("Extra"))

	exec2 := executor.New(0)
	t.Cleanup(exec2.Stop)
	client := New(exec2)
	t.Cleanup(client.Close)
	if err := client.ConnectDirectory(url); err != nil {
		t.Fatal(err)
	}

	f := client.Directory().Call(SDMethodServices)
	if err := f.Wait(callTimeout); err != nil {
		t.Fatal("services() timed out")
	}
	if err := f.Err(); err != nil {
		t.Fatalf("services() failed: %v", err)
	}
	v := f.Value()
	defer v.Destroy()
	if v.Kind() != typesys.KindList || v.Size() != 2 {
		t.Fatalf("services() = kind %s size %d", v.Kind(), v.Size())
	}
	names := map[string]bool{}
	for i := 0; i < v.Size(); i++ {
		names[v.Element(i).Element(0).ToString()] = true
	}
	if !names["ServiceDirectory"] || !names["extra"] {
		t.Errorf("listed services = %v", names)
	}
}

func TestSessionReusesSocketPerEndpoint(t *testing.T) {
	node, url := startDirectoryNode(t)
	b := typesys.NewObjectBuilder(nil)
	mustAdvertise(b, "noop", func() {})
	node.RegisterService("one", b.Object("One"))
	b2 := typesys.NewObjectBuilder(nil)
	mustAdvertise(b2, "noop", func() {})
	node.RegisterService("two", b2.Object("Two"))

	exec2 := executor.New(0)
	t.Cleanup(exec2.Stop)
	client := New(exec2)
	t.Cleanup(client.Close)
	if err := client.ConnectDirectory(url); err != nil {
		t.Fatal(err)
	}
	s1, err := client.Service("one")
	if err != nil {
		t.Fatal(err)
	}
	s2, err := client.Service("two")
	if err != nil {
		t.Fatal(err)
	}
	if s1.d != s2.d {
		t.Error("services on the same endpoint must share the socket")
	}
}

func TestSessionWithoutDirectoryFails(t *testing.T) {
	exec := executor.New(0)
	t.Cleanup(exec.Stop)
	s := New(exec)
	t.Cleanup(s.Close)
	if _, err := s.Service("anything"); err == nil {
		t.Error("Service without a directory must fail")
	}
	b := typesys.NewObjectBuilder(nil)
	mustAdvertise(b, "noop", func() {})
	if _, err := s.RegisterService("x", b.Object("X")); err == nil {
		t.Error("RegisterService without a directory must fail")
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	exec := executor.New(0)
	t.Cleanup(exec.Stop)
	s := New(exec)
	s.Close()
	s.Close()
	if _, err := s.Service("x"); err == nil {
		t.Error("closed session must refuse new work")
	}
}
