package transport

import (
	"context"
	"testing"
	"time"

	"github.com/fabricejumel/libqi/executor"
	"github.com/fabricejumel/libqi/status"
)

const resolveTimeout = 500 * time.Millisecond

// mockLookup yields a v4 and a v6 entry for the queried host, in that
// order, mirroring what a dual-stack resolver produces.
func mockLookup(ctx context.Context, host string) ([]Entry, error) {
	return []Entry{{Addr: host, IsV6: false}, {Addr: host, IsV6: true}}, nil
}

func newTestResolver(t *testing.T) (*Resolver, *executor.Executor) {
	t.Helper()
	exec := executor.New(0)
	t.Cleanup(exec.Stop)
	return NewResolver(exec, mockLookup), exec
}

func TestResolveURLListBadInputFailsSynchronously(t *testing.T) {
	r, _ := newTestResolver(t)
	for _, raw := range []string{"", "abcd", "10.12.14.15.16", "tcp://10.12.14.15", "tcp://10.12.14.15:0"} {
		called := false
		r.ResolveURLList(raw, func(err error, it *EntryIterator) {
			called = true
			if status.CodeOf(err) != status.BadAddress {
				t.Errorf("ResolveURLList(%q) code = %v, want BadAddress", raw, status.CodeOf(err))
			}
			if it != nil {
				t.Errorf("ResolveURLList(%q) produced an iterator on failure", raw)
			}
		})
		if !called {
			t.Errorf("ResolveURLList(%q) must fail before any lookup", raw)
		}
	}
}

func TestResolveURLListYieldsEntriesInOrder(t *testing.T) {
	r, _ := newTestResolver(t)
	host := "10.11.12.13"
	done := make(chan []Entry, 1)
	r.ResolveURLList("tcp://"+host+":1234", func(err error, it *EntryIterator) {
		if err != nil {
			t.Errorf("resolve failed: %v", err)
			done <- nil
			return
		}
		var got []Entry
		for ; !it.Done(); it.Next() {
			got = append(got, it.Value())
		}
		done <- got
	})
	select {
	case got := <-done:
		if len(got) != 2 {
			t.Fatalf("entries = %v", got)
		}
		if got[0].IsV6 || got[0].Addr != host {
			t.Errorf("first entry must be the v4 one, got %+v", got[0])
		}
		if !got[1].IsV6 || got[1].Addr != host {
			t.Errorf("second entry must be the v6 one, got %+v", got[1])
		}
	case <-time.After(resolveTimeout):
		t.Fatal("resolution never completed")
	}
}

func TestResolveURLAppliesPolicy(t *testing.T) {
	exec := executor.New(0)
	t.Cleanup(exec.Stop)
	v6only := NewResolver(exec, func(ctx context.Context, host string) ([]Entry, error) {
		return []Entry{{Addr: "::1", IsV6: true}}, nil
	})

	done := make(chan *Entry, 1)
	v6only.ResolveURL("tcp://host:1", false, func(err error, e *Entry) {
		if err != nil {
			t.Errorf("resolve failed: %v", err)
		}
		done <- e
	})
	select {
	case e := <-done:
		if e != nil {
			t.Errorf("v6-only with ipv6 disabled must yield no entry, got %+v", e)
		}
	case <-time.After(resolveTimeout):
		t.Fatal("resolution never completed")
	}

	done2 := make(chan *Entry, 1)
	v6only.ResolveURL("tcp://host:1", true, func(err error, e *Entry) {
		done2 <- e
	})
	select {
	case e := <-done2:
		if e == nil || !e.IsV6 || e.Addr != "::1" {
			t.Errorf("ipv6 allowed must pick the v6 entry, got %+v", e)
		}
	case <-time.After(resolveTimeout):
		t.Fatal("resolution never completed")
	}
}

func TestResolveLookupFailure(t *testing.T) {
	exec := executor.New(0)
	t.Cleanup(exec.Stop)
	failing := NewResolver(exec, func(ctx context.Context, host string) ([]Entry, error) {
		return nil, context.DeadlineExceeded
	})
	done := make(chan error, 1)
	failing.ResolveURLList("tcp://nowhere:1", func(err error, it *EntryIterator) {
		done <- err
	})
	select {
	case err := <-done:
		if status.CodeOf(err) != status.HostNotFound {
			t.Errorf("lookup failure code = %v, want HostNotFound", status.CodeOf(err))
		}
	case <-time.After(resolveTimeout):
		t.Fatal("resolution never completed")
	}
}

func TestResolveCancellation(t *testing.T) {
	exec := executor.New(0)
	t.Cleanup(exec.Stop)
	started := make(chan struct{})
	release := make(chan struct{})
	slow := NewResolver(exec, func(ctx context.Context, host string) ([]Entry, error) {
		close(started)
		<-release
		return []Entry{{Addr: host}}, nil
	})
	done := make(chan error, 1)
	f := slow.ResolveURLList("tcp://host:1", func(err error, it *EntryIterator) {
		done <- err
	})
	<-started
	f.Cancel()
	close(release)
	select {
	case err := <-done:
		if status.CodeOf(err) != status.Cancelled {
			t.Errorf("cancelled resolve code = %v, want Cancelled", status.CodeOf(err))
		}
	case <-time.After(resolveTimeout):
		t.Fatal("cancelled resolve never reported")
	}
}

// ---------------------------------------------------------------------------
// FindFirstValidIfAny
// ---------------------------------------------------------------------------

func TestFindFirstValidIfAny(t *testing.T) {
	v4a := Entry{Addr: "10.11.12.13"}
	v4b := Entry{Addr: "10.11.12.14"}
	v6 := Entry{Addr: "10.11.12.15", IsV6: true}

	if _, ok := FindFirstValidIfAny(nil, false); ok {
		t.Error("empty input must yield nothing")
	}
	if e, ok := FindFirstValidIfAny([]Entry{v4a, v4b, v6}, false); !ok || e != v4a {
		t.Errorf("ipv6 off: got %+v, want first v4", e)
	}
	if e, ok := FindFirstValidIfAny([]Entry{v4a, v4b, v6}, true); !ok || e != v4a {
		t.Errorf("ipv6 on with v4 present: got %+v, want first v4", e)
	}
	if e, ok := FindFirstValidIfAny([]Entry{v6, v4a, v4b}, false); !ok || e != v4a {
		t.Errorf("v6 leading, ipv6 off: got %+v, want v4", e)
	}
	if e, ok := FindFirstValidIfAny([]Entry{v6, v4a, v4b}, true); !ok || e != v4a {
		t.Errorf("v4 preferred even when v6 leads: got %+v", e)
	}
	if _, ok := FindFirstValidIfAny([]Entry{v6}, false); ok {
		t.Error("v6-only with ipv6 off must yield nothing")
	}
	if e, ok := FindFirstValidIfAny([]Entry{v6}, true); !ok || e != v6 {
		t.Errorf("v6-only with ipv6 on: got %+v, want the v6 entry", e)
	}
}
