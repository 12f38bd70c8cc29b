// Package workerpool implements the Worker Pool (C10): bounded concurrency
// with priority-aware slot acquisition and dynamic resize. The
// producer/worker/collector channel shape in the teacher's
// internal/core/concurrency.go Supervisor and internal/core/worker_pool.go
// DefaultWorkerPool processes one fixed batch of subtitle items; this pool
// generalizes the same "channel as a synchronization primitive" idiom into
// a long-lived slot semaphore that requests acquire and release one at a
// time, since translation requests arrive continuously rather than as one
// upfront batch.
package workerpool

import (
	"container/list"
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
)

// waiter is one goroutine blocked in Acquire. ready is closed by whoever
// hands the waiter its slot (Release or Reconfigure growing the pool).
type waiter struct {
	key   string
	ready chan struct{}
}

// Pool is a resizable counting semaphore with two waiter classes. Priority
// waiters are always served before normal waiters, but within a class FIFO
// order is preserved — matching spec.md §4.10's "priority-aware waiters"
// contract without starving normal requests indefinitely once priority
// demand drains.
type Pool struct {
	mu       sync.Mutex
	capacity int
	inUse    int

	priority *list.List // of *waiter
	normal   *list.List // of *waiter

	// elems indexes both lists by waiter key so NotifyPriorityChanged and
	// CancelJob can find and splice out a specific waiter in O(1).
	elems map[string]*list.Element
	in    map[string]*list.List // which list a key currently lives in

	// running maps a key currently holding a slot to the cancel function of
	// its per-request cancellation token, so CancelJob can cooperatively
	// stop work that's already in flight (spec.md §4.10's CancelJob).
	running map[string]context.CancelFunc

	signal chan struct{}

	log zerolog.Logger
}

// New builds a Pool with the given initial capacity (spec.md §4.10 bounds
// this to [1,20], enforced by the caller reading the setting).
func New(capacity int, log zerolog.Logger) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{
		capacity: capacity,
		priority: list.New(),
		normal:   list.New(),
		elems:    make(map[string]*list.Element),
		in:       make(map[string]*list.List),
		running:  make(map[string]context.CancelFunc),
		signal:   make(chan struct{}, 1),
		log:      log.With().Str("component", "workerpool").Logger(),
	}
}

// Signals returns the channel the dispatcher should select on to learn
// "re-poll the persistent queue now" without waiting for the next
// scheduler tick. Signal() sends to it non-blockingly.
func (p *Pool) Signals() <-chan struct{} { return p.signal }

// Signal wakes the dispatcher per spec.md §4.10. Non-blocking: if a signal
// is already pending and unconsumed, this is a no-op.
func (p *Pool) Signal() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// RegisterRunning associates key (a running request's ID) with the cancel
// function of its per-request cancellation token, so a later CancelJob(key)
// can stop it cooperatively. Call UnregisterRunning when the request
// finishes, successfully or not.
func (p *Pool) RegisterRunning(key string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[key] = cancel
}

// UnregisterRunning removes key's cancellation token once its request has
// finished.
func (p *Pool) UnregisterRunning(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, key)
}

// Acquire blocks until a slot is free or ctx is cancelled. key identifies
// the caller (typically a request ID) so NotifyPriorityChanged/CancelJob
// can target it while it's still waiting. The returned release function
// must be called exactly once to give the slot back.
func (p *Pool) Acquire(ctx context.Context, key string, priority bool) (release func(), err error) {
	p.mu.Lock()
	if p.inUse < p.capacity {
		p.inUse++
		p.mu.Unlock()
		return p.releaseFunc(), nil
	}

	w := &waiter{key: key, ready: make(chan struct{})}
	target := p.normal
	if priority {
		target = p.priority
	}
	elem := target.PushBack(w)
	p.elems[key] = elem
	p.in[key] = target
	p.mu.Unlock()

	select {
	case <-w.ready:
		return p.releaseFunc(), nil
	case <-ctx.Done():
		p.mu.Lock()
		if e, ok := p.elems[key]; ok {
			p.in[key].Remove(e)
			delete(p.elems, key)
			delete(p.in, key)
		}
		p.mu.Unlock()
		return nil, domain.NewError(domain.ErrCancelled, ctx.Err(), "worker pool acquire cancelled")
	}
}

func (p *Pool) releaseFunc() func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		p.release()
	}
}

// release hands the freed slot to the next queued waiter (priority class
// first) without ever decrementing inUse for a handoff, or decrements
// inUse when no one is waiting.
func (p *Pool) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handOff(p.priority) {
		return
	}
	if p.handOff(p.normal) {
		return
	}
	p.inUse--
}

// handOff wakes the front waiter of l, if any. Caller holds p.mu.
func (p *Pool) handOff(l *list.List) bool {
	front := l.Front()
	if front == nil {
		return false
	}
	w := front.Value.(*waiter)
	l.Remove(front)
	delete(p.elems, w.key)
	delete(p.in, w.key)
	close(w.ready)
	return true
}

// NotifyPriorityChanged moves a still-waiting request from the normal
// queue to the back of the priority queue. A no-op if key is not waiting
// (already running, or not in the normal class).
func (p *Pool) NotifyPriorityChanged(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.elems[key]
	if !ok || p.in[key] != p.normal {
		return
	}
	p.normal.Remove(e)
	w := e.Value.(*waiter)
	newElem := p.priority.PushBack(w)
	p.elems[key] = newElem
	p.in[key] = p.priority
}

// CancelJob cancels request key cooperatively: if it is still queued, its
// waiter is dropped (the caller's own ctx cancellation, done separately, is
// what actually unblocks Acquire); if it is already running, its
// registered cancellation token is invoked so the pipeline's next I/O
// suspension point observes ctx.Done().
func (p *Pool) CancelJob(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.elems[key]; ok {
		p.in[key].Remove(e)
		delete(p.elems, key)
		delete(p.in, key)
	}
	if cancel, ok := p.running[key]; ok {
		cancel()
	}
}

// Reconfigure changes maxWorkers at runtime. Growing the pool immediately
// wakes as many queued waiters (priority first) as the new capacity allows;
// shrinking takes effect gradually as in-flight requests release their
// slots, matching spec.md §8's "after Reconfigure(k), the steady-state
// count is min(k, pending)" property.
func (p *Pool) Reconfigure(newCapacity int) {
	if newCapacity < 1 {
		newCapacity = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	grow := newCapacity - p.capacity
	p.capacity = newCapacity
	for grow > 0 {
		if p.handOff(p.priority) {
			p.inUse++
			grow--
			continue
		}
		if p.handOff(p.normal) {
			p.inUse++
			grow--
			continue
		}
		break
	}
}

// InUse reports the current number of held slots, for tests and metrics.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Capacity reports the current configured maxWorkers.
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}
