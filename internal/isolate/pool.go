// Package isolate implements the isolate pool from spec §4.C: a fixed-size
// pool of sandboxed Lua VMs, each lent to exactly one caller at a time. The
// acquire/release/fixed-capacity shape is grounded on the teacher's single
// gopher-lua VM in internal/scripting, generalized from one shared VM behind
// the game loop's mutex into N independently owned VMs queued FIFO.
package isolate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"
	"golang.org/x/sync/semaphore"

	"github.com/mudforge/driver/internal/errs"
)

// Isolate is one sandboxed Lua VM, exclusively owned by whichever caller
// currently holds it.
type Isolate struct {
	VM  *lua.LState
	id  int
	pool *Pool
	held bool // guarded by pool.mu
}

// Release returns the isolate to its pool. Safe to call once; a second call
// is a no-op.
func (iso *Isolate) Release() {
	iso.pool.release(iso)
}

// Stats is a snapshot of pool occupancy, returned by Pool.Stats. It is not
// published on the /metrics endpoint.
type Stats struct {
	Total     int
	InUse     int
	Available int
	Waiting   int
}

// Pool hands out a fixed number of Isolates, queuing excess requests FIFO
// via a weighted semaphore and bounding each VM's memory footprint via its
// Lua registry size.
type Pool struct {
	mu        sync.Mutex
	available []*Isolate
	total     int
	inUse     int
	waiting   int32
	sem       *semaphore.Weighted

	memoryMB int
	closed   bool
	closeCh  chan struct{}
}

// New builds a pool of size isolates, each with a registry sized to an
// approximation of memoryMB. gopher-lua has no hard per-VM memory ceiling;
// RegistrySize/RegistryMaxSize bounds the Lua value stack, which is the
// closest enforceable proxy the library exposes (documented as an
// approximation, not an exact byte cap).
func New(size, memoryMB int) (*Pool, error) {
	if size <= 0 {
		return nil, errs.New(errs.KindMemory, "isolate pool size must be positive", nil)
	}
	p := &Pool{
		memoryMB: memoryMB,
		sem:      semaphore.NewWeighted(int64(size)),
		closeCh:  make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		vm := newVM(memoryMB)
		p.available = append(p.available, &Isolate{VM: vm, id: i, pool: p})
		p.total++
	}
	return p, nil
}

func newVM(memoryMB int) *lua.LState {
	registrySize := memoryMB * 256
	if registrySize < 1<<12 {
		registrySize = 1 << 12
	}
	return lua.NewState(lua.Options{
		RegistrySize:    registrySize,
		RegistryMaxSize: registrySize * 4,
		SkipOpenLibs:    false,
	})
}

// Acquire blocks until an isolate is free or ctx is done. A caller that times
// out while waiting gets a timeout_error; it never silently steals a slot.
// Waiting is FIFO-fair, enforced by the underlying weighted semaphore.
func (p *Pool) Acquire(ctx context.Context) (*Isolate, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errs.New(errs.KindStorageUnavailable, "isolate pool closed", nil)
	}
	p.mu.Unlock()

	atomic.AddInt32(&p.waiting, 1)
	defer atomic.AddInt32(&p.waiting, -1)

	// semaphore.Weighted has no native "cancel all waiters on close"
	// primitive, so close is fanned into every waiter's own context.
	acquireCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-p.closeCh:
			cancel()
		case <-stopWatch:
		}
	}()

	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		close(stopWatch)
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return nil, errs.New(errs.KindStorageUnavailable, "isolate pool closed", nil)
		}
		return nil, errs.New(errs.KindTimeout, "isolate acquire timed out waiting for free slot", ctx.Err())
	}
	close(stopWatch)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, errs.New(errs.KindStorageUnavailable, "isolate pool closed", nil)
	}
	n := len(p.available)
	iso := p.available[n-1]
	p.available = p.available[:n-1]
	iso.held = true
	p.inUse++
	p.mu.Unlock()
	return iso, nil
}

func (p *Pool) release(iso *Isolate) {
	p.mu.Lock()
	if !iso.held {
		p.mu.Unlock()
		return
	}
	iso.held = false
	if p.closed {
		p.mu.Unlock()
		iso.VM.Close()
		return
	}
	iso.VM.SetContext(context.Background())
	p.available = append(p.available, iso)
	p.inUse--
	p.mu.Unlock()
	p.sem.Release(1)
}

// Stats returns the current occupancy snapshot.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Total:     p.total,
		InUse:     p.inUse,
		Available: len(p.available),
		Waiting:   int(atomic.LoadInt32(&p.waiting)),
	}
}

// Close disposes every isolate, closing its underlying VM: idle isolates at
// once, in-use isolates when their holder releases them. In-flight acquires
// unblock with an error; it does not wait for in-use isolates to be
// released first, matching the lifecycle controller's bounded shutdown
// deadline.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, iso := range p.available {
		iso.VM.Close()
	}
	p.available = nil
	p.mu.Unlock()
	close(p.closeCh)
}

// WithTimeout binds iso's VM to a context that expires after d, so a runaway
// script call is interrupted rather than blocking the isolate forever.
func WithTimeout(iso *Isolate, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	iso.VM.SetContext(ctx)
	return ctx, cancel
}
