package pool

import "sync"

// Permit represents one unit of concurrency budget, owned exclusively by
// the request that acquired it until release. Release is safe to call
// from any exit path; the once-guard makes a second call a no-op so a
// double release can never corrupt the counters.
type Permit struct {
	once    sync.Once
	release func()
}

// Release returns the permit's budget to the pool. Exactly the first
// call takes effect.
func (p *Permit) Release() {
	p.once.Do(p.release)
}

// TryAcquireGlobal claims one unit of the global concurrency budget.
// It never blocks: when the pool is saturated it fails fast with
// ErrCapacityExceeded and the caller is expected to retry after backoff
// (or go through the async task path, which queues).
func (p *Pool) TryAcquireGlobal() (*Permit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.globalInFlight >= p.cfg.GlobalLimit {
		return nil, ErrCapacityExceeded
	}
	p.globalInFlight++

	return &Permit{release: func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.globalInFlight--
	}}, nil
}

// TryAcquireAccount claims one unit of the given account's budget
// without consulting eligibility (enabled/cooldown). It exists for
// callers that already hold an account id; Acquire is the normal path
// and performs selection and acquisition atomically.
func (p *Pool) TryAcquireAccount(id string) (*Permit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, err := p.slotFor(id)
	if err != nil {
		return nil, err
	}
	if slot.inFlight >= p.cfg.PerAccountLimit {
		return nil, ErrCapacityExceeded
	}

	return p.acquireSlotLocked(slot), nil
}

// acquireSlotLocked increments the account's counters and builds the
// releasing permit. Caller must hold the lock.
func (p *Pool) acquireSlotLocked(slot *accountSlot) *Permit {
	slot.inFlight++
	slot.account.ActiveTasks++
	id := slot.account.ID

	return &Permit{release: func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		current, ok := p.accounts[id]
		if !ok {
			return
		}
		current.inFlight--
		if current.account.ActiveTasks > 0 {
			current.account.ActiveTasks--
		}
		p.dropIfDrained(id)
	}}
}

// InFlight returns the current global in-flight count.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.globalInFlight
}

// Limits returns the configured global and per-account limits.
func (p *Pool) Limits() (global, perAccount int) {
	return p.cfg.GlobalLimit, p.cfg.PerAccountLimit
}
