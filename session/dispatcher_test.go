package session

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/fabricejumel/libqi/executor"
	"github.com/fabricejumel/libqi/future"
	"github.com/fabricejumel/libqi/status"
	"github.com/fabricejumel/libqi/transport"
	"github.com/fabricejumel/libqi/typesys"
)

const callTimeout = 2 * time.Second

type testPeer struct {
	exec   *executor.Executor
	router *Router
	disp   *Dispatcher
}

// pipePair wires two dispatchers over an in-memory connection, each
// with its own executor and router, like two processes would be.
func pipePair(t *testing.T) (client, server *testPeer) {
	t.Helper()
	c1, c2 := net.Pipe()
	client = &testPeer{exec: executor.New(0), router: NewRouter()}
	server = &testPeer{exec: executor.New(0), router: NewRouter()}
	client.disp = NewDispatcher(transport.WrapConn(client.exec, c1), client.router)
	server.disp = NewDispatcher(transport.WrapConn(server.exec, c2), server.router)
	client.disp.Start()
	server.disp.Start()
	t.Cleanup(func() {
		client.disp.Close()
		server.disp.Close()
		client.exec.Stop()
		server.exec.Stop()
	})
	return client, server
}

type echoState struct {
	tick *typesys.Signal
}

// bindEchoService registers a small service at (10, 1):
// methods echo=1, add=2, fail=3, slow=4; signal tick=5.
func bindEchoService(t *testing.T, router *Router) *echoState {
	t.Helper()
	st := &echoState{}
	b := typesys.NewObjectBuilder(st)
	mustAdvertise(b, "echo", func(s string) string { return s })
	mustAdvertise(b, "add", func(a, b int32) int32 { return a + b })
	mustAdvertise(b, "fail", func() error { return errors.New("service exploded") })
	mustAdvertise(b, "slow", func() { time.Sleep(50 * time.Millisecond) })
	st.tick, _ = b.AdvertiseSignal("tick", typesys.Int32Type())
	router.Add(10, MainObject, b.Object("Echo"))
	return st
}

func awaitValue(t *testing.T, f *future.Future[typesys.Value]) typesys.Value {
	t.Helper()
	if err := f.Wait(callTimeout); err != nil {
		t.Fatalf("call timed out: %v", err)
	}
	if err := f.Err(); err != nil {
		t.Fatalf("call failed: %v", err)
	}
	return f.Value()
}

func TestCallRoundTrip(t *testing.T) {
	client, server := pipePair(t)
	bindEchoService(t, server.router)

	arg := typesys.NewString("ping")
	f := client.disp.Call(10, MainObject, 1, arg)
	arg.Destroy()

	v := awaitValue(t, f)
	if v.Kind() != typesys.KindString || v.ToString() != "ping" {
		t.Errorf("echo returned %v", v.Kind())
	}
	v.Destroy()
}

func TestCallConvertsArguments(t *testing.T) {
	client, server := pipePair(t)
	bindEchoService(t, server.router)

	// int64 arguments arrive as dynamics and convert to the declared
	// int32 parameters.
	a := typesys.NewInt(typesys.Int64Type(), 19)
	b := typesys.NewInt(typesys.Int64Type(), 23)
	f := client.disp.Call(10, MainObject, 2, a, b)
	a.Destroy()
	b.Destroy()

	v := awaitValue(t, f)
	if v.ToInt() != 42 {
		t.Errorf("add = %d, want 42", v.ToInt())
	}
	v.Destroy()
}

func TestOutOfOrderReplies(t *testing.T) {
	client, server := pipePair(t)
	bindEchoService(t, server.router)

	// Two calls in flight at once; each future must complete from the
	// reply carrying its own message id.
	slow := client.disp.Call(10, MainObject, 4)
	a := typesys.NewInt(typesys.Int32Type(), 1)
	b := typesys.NewInt(typesys.Int32Type(), 2)
	fast := client.disp.Call(10, MainObject, 2, a, b)
	a.Destroy()
	b.Destroy()

	v := awaitValue(t, fast)
	if v.ToInt() != 3 {
		t.Errorf("fast call = %d", v.ToInt())
	}
	v.Destroy()
	awaitValue(t, slow).Destroy()
}

func TestUnknownServiceIsTypedError(t *testing.T) {
	client, server := pipePair(t)
	bindEchoService(t, server.router)

	f := client.disp.Call(99, MainObject, 1)
	if err := f.Wait(callTimeout); err != nil {
		t.Fatal("timed out")
	}
	if status.CodeOf(f.Err()) != status.NotFound {
		t.Errorf("unknown service code = %v, want NotFound", status.CodeOf(f.Err()))
	}

	// The socket survives a semantic error: the next call works.
	arg := typesys.NewString("still alive")
	f2 := client.disp.Call(10, MainObject, 1, arg)
	arg.Destroy()
	awaitValue(t, f2).Destroy()
}

func TestUnknownMethodIsTypedError(t *testing.T) {
	client, server := pipePair(t)
	bindEchoService(t, server.router)
	f := client.disp.Call(10, MainObject, 77)
	f.Wait(callTimeout)
	if status.CodeOf(f.Err()) != status.NotFound {
		t.Errorf("unknown method code = %v, want NotFound", status.CodeOf(f.Err()))
	}
}

func TestMethodErrorSurfacesToCaller(t *testing.T) {
	client, server := pipePair(t)
	bindEchoService(t, server.router)
	f := client.disp.Call(10, MainObject, 3)
	f.Wait(callTimeout)
	err := f.Err()
	if err == nil {
		t.Fatal("failing method must produce an error")
	}
}

func TestArityMismatchIsError(t *testing.T) {
	client, server := pipePair(t)
	bindEchoService(t, server.router)
	// echo expects one argument; send none.
	f := client.disp.Call(10, MainObject, 1)
	f.Wait(callTimeout)
	if f.Err() == nil {
		t.Error("arity mismatch must fail")
	}
}

func TestCancelCompletesLocallyWithoutPeer(t *testing.T) {
	client, server := pipePair(t)
	bindEchoService(t, server.router)

	f := client.disp.Call(10, MainObject, 4) // slow
	f.Cancel()
	if f.State() != future.CancelledState {
		t.Errorf("state after cancel = %v", f.State())
	}
	if f.Err() != future.ErrCancelled {
		t.Errorf("Err() = %v", f.Err())
	}
}

func TestSignalSubscriptionForwardsEvents(t *testing.T) {
	client, server := pipePair(t)
	st := bindEchoService(t, server.router)

	obj := NewRemoteObject(client.disp, 10, MainObject)
	got := make(chan int64, 4)
	link, err := obj.Subscribe(5, func(args []typesys.Value) {
		if len(args) == 1 {
			got <- args[0].ToInt()
		}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	v := typesys.NewInt(typesys.Int32Type(), 77)
	st.tick.Emit(v)
	v.Destroy()

	select {
	case n := <-got:
		if n != 77 {
			t.Errorf("event payload = %d", n)
		}
	case <-time.After(callTimeout):
		t.Fatal("event never arrived")
	}

	if err := obj.Unsubscribe(5, link); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	v2 := typesys.NewInt(typesys.Int32Type(), 88)
	st.tick.Emit(v2)
	v2.Destroy()
	select {
	case n := <-got:
		t.Errorf("event %d delivered after unsubscribe", n)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPostTriggersServerSignal(t *testing.T) {
	client, server := pipePair(t)
	st := bindEchoService(t, server.router)

	got := make(chan int64, 1)
	st.tick.ConnectFunc(func(n int32) { got <- int64(n) })

	v := typesys.NewInt(typesys.Int32Type(), 5)
	if err := client.disp.Post(10, MainObject, 5, v); err != nil {
		t.Fatalf("Post: %v", err)
	}
	v.Destroy()

	select {
	case n := <-got:
		if n != 5 {
			t.Errorf("post payload = %d", n)
		}
	case <-time.After(callTimeout):
		t.Fatal("post never fired the signal")
	}
}

func TestRemoteMetaLookup(t *testing.T) {
	client, server := pipePair(t)
	bindEchoService(t, server.router)

	obj := NewRemoteObject(client.disp, 10, MainObject)
	id, err := obj.MethodID("echo")
	if err != nil {
		t.Fatalf("MethodID: %v", err)
	}
	if id != 1 {
		t.Errorf("echo id = %d, want 1", id)
	}
	if _, err := obj.MethodID("add::(ii)"); err != nil {
		t.Errorf("full signature lookup failed: %v", err)
	}
	if _, err := obj.MethodID("nope"); status.CodeOf(err) != status.NotFound {
		t.Errorf("unknown method lookup = %v, want NotFound", err)
	}
	sid, err := obj.SignalID("tick")
	if err != nil || sid != 5 {
		t.Errorf("SignalID(tick) = %d, %v", sid, err)
	}

	arg := typesys.NewString("by-name")
	f := obj.CallByName("echo", arg)
	arg.Destroy()
	awaitValue(t, f).Destroy()
}

func TestDisconnectCompletesPendingCalls(t *testing.T) {
	client, server := pipePair(t)
	bindEchoService(t, server.router)

	f := client.disp.Call(10, MainObject, 4) // slow
	server.disp.Close()
	if err := f.Wait(callTimeout); err != nil {
		t.Fatal("pending call never completed after disconnect")
	}
	if status.CodeOf(f.Err()) != status.Disconnected {
		t.Errorf("code = %v, want Disconnected", status.CodeOf(f.Err()))
	}
}
