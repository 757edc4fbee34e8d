// Package executor provides the single-threaded cooperative scheduling
// context the runtime runs on. All socket I/O completion, resolver
// callbacks and connector continuations are delivered through an
// Executor supplied by the caller. Goroutines that block (socket reads,
// accept loops, lookups, dials) hand their results back through it.
package executor

import (
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// Executor serializes tasks on one dedicated goroutine. Tasks posted
// from any goroutine run in submission order; Dispatch runs inline when
// already on the executor goroutine, avoiding a queue round-trip.
type Executor struct {
	tasks   chan func()
	quit    chan struct{}
	loopID  atomic.Int64
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// New creates and starts an executor with the given queue depth.
func New(depth int) *Executor {
	if depth <= 0 {
		depth = 64
	}
	e := &Executor{
		tasks: make(chan func(), depth),
		quit:  make(chan struct{}),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

func (e *Executor) loop() {
	defer e.wg.Done()
	e.loopID.Store(goid.Get())
	for {
		select {
		case task := <-e.tasks:
			e.run(task)
		case <-e.quit:
			// Drain what was already queued before stopping.
			for {
				select {
				case task := <-e.tasks:
					e.run(task)
				default:
					return
				}
			}
		}
	}
}

func (e *Executor) run(task func()) {
	defer func() {
		recover() // a panicking task must not kill the loop
	}()
	task()
}

// InExecutor reports whether the calling goroutine is the loop.
func (e *Executor) InExecutor() bool {
	return e.loopID.Load() == goid.Get()
}

// Post queues fn for execution on the executor goroutine. It never
// runs fn inline. Posting to a stopped executor drops the task.
func (e *Executor) Post(fn func()) {
	if e.stopped.Load() {
		return
	}
	select {
	case e.tasks <- fn:
	case <-e.quit:
	}
}

// Dispatch runs fn inline when called from the executor goroutine and
// posts it otherwise.
func (e *Executor) Dispatch(fn func()) {
	if e.InExecutor() {
		fn()
		return
	}
	e.Post(fn)
}

// Stop shuts the executor down after draining queued tasks and waits
// for the loop goroutine to exit. Stop must not be called from inside
// a task.
func (e *Executor) Stop() {
	if e.stopped.Swap(true) {
		return
	}
	close(e.quit)
	e.wg.Wait()
}
