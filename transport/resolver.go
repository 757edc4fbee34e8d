package transport

import (
	"context"
	"net"

	"github.com/tliron/commonlog"

	"github.com/fabricejumel/libqi/executor"
	"github.com/fabricejumel/libqi/future"
	"github.com/fabricejumel/libqi/status"
)

var log = commonlog.GetLogger("qi.transport")

// IPv6Enabled is the address-family policy: when false, only IPv4
// entries are admissible.
type IPv6Enabled bool

// Entry is one result of name resolution.
type Entry struct {
	Addr string
	IsV6 bool
}

// LookupFunc resolves a host name to address entries in substrate
// order. Injectable so tests run against a mock resolver.
type LookupFunc func(ctx context.Context, host string) ([]Entry, error)

// SystemLookup resolves through the process resolver.
func SystemLookup(ctx context.Context, host string) ([]Entry, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(addrs))
	for _, a := range addrs {
		entries = append(entries, Entry{Addr: a.IP.String(), IsV6: a.IP.To4() == nil})
	}
	return entries, nil
}

// EntryIterator is a forward-only cursor over resolved entries. The
// sequence is only guaranteed stable until the resolution callback
// unwinds; callers keep entries by copying them out.
type EntryIterator struct {
	entries []Entry
	idx     int
}

// Done reports whether the iterator reached the end sentinel.
func (it *EntryIterator) Done() bool { return it.idx >= len(it.entries) }

// Value returns the current entry. Panics past the end.
func (it *EntryIterator) Value() Entry {
	if it.Done() {
		panic("transport: iterator past the end")
	}
	return it.entries[it.idx]
}

// Next advances the cursor.
func (it *EntryIterator) Next() { it.idx++ }

// Resolver runs asynchronous URL resolution, delivering callbacks on
// the executor. The zero value is not usable; create with NewResolver.
type Resolver struct {
	exec   *executor.Executor
	lookup LookupFunc
}

// NewResolver creates a resolver delivering on exec. lookup may be nil,
// which selects the system resolver.
func NewResolver(exec *executor.Executor, lookup LookupFunc) *Resolver {
	if lookup == nil {
		lookup = SystemLookup
	}
	return &Resolver{exec: exec, lookup: lookup}
}

// ResolveURLList parses and resolves the endpoint, then invokes cb
// exactly once on the executor with an iterator over the entries.
// Invalid URLs fail synchronously with BadAddress before any lookup.
// The returned future tracks the operation and supports cancellation;
// on cancel, cb receives Cancelled.
func (r *Resolver) ResolveURLList(raw string, cb func(error, *EntryIterator)) *future.Future[[]Entry] {
	p := future.NewPromise[[]Entry]()
	f := p.Future()

	u, err := ParseURL(raw)
	if err != nil {
		p.SetError(err)
		cb(err, nil)
		return f
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.OnCancel(cancel)

	go func() {
		entries, lerr := r.lookup(ctx, u.Host)
		r.exec.Post(func() {
			// Check cancellation at the suspension point.
			if f.State() == future.CancelledState {
				cb(status.New(status.Cancelled), nil)
				return
			}
			if lerr != nil {
				log.Debugf("resolution of %s failed: %v", u.Host, lerr)
				err := status.Errorf(status.HostNotFound, "%s", u.Host)
				p.SetError(err)
				cb(err, nil)
				return
			}
			p.SetValue(entries)
			cb(nil, &EntryIterator{entries: entries})
		})
	}()
	return f
}

// ResolveURL resolves and then selects a single entry under the given
// IPv6 policy, passing nil when no entry is admissible.
func (r *Resolver) ResolveURL(raw string, ipv6 IPv6Enabled, cb func(error, *Entry)) *future.Future[[]Entry] {
	return r.ResolveURLList(raw, func(err error, it *EntryIterator) {
		if err != nil {
			cb(err, nil)
			return
		}
		var entries []Entry
		for ; !it.Done(); it.Next() {
			entries = append(entries, it.Value())
		}
		if e, ok := FindFirstValidIfAny(entries, ipv6); ok {
			cb(nil, &e)
			return
		}
		cb(nil, nil)
	})
}

// FindFirstValidIfAny scans entries in order and picks the first
// admissible one: any IPv4 entry is preferred over any IPv6 entry, and
// IPv6 entries are admissible only when the policy allows them. An
// empty input yields no entry.
func FindFirstValidIfAny(entries []Entry, ipv6 IPv6Enabled) (Entry, bool) {
	for _, e := range entries {
		if !e.IsV6 {
			return e, true
		}
	}
	if !ipv6 {
		return Entry{}, false
	}
	for _, e := range entries {
		if e.IsV6 {
			return e, true
		}
	}
	return Entry{}, false
}
