package pool

import (
	"log/slog"
	"time"

	"github.com/mirageproxy/mirage/internal/domain"
	"github.com/mirageproxy/mirage/internal/engine"
)

// Lease is an account bound to a held per-account permit. The Account
// field is a snapshot taken at acquisition; the live health fields stay
// inside the pool.
type Lease struct {
	Account domain.Account
	permit  *Permit
}

// Release returns the per-account slot. Safe on every exit path.
func (l *Lease) Release() {
	l.permit.Release()
}

// Acquire selects an eligible account and claims one of its slots in a
// single atomic step, so no raced acquisition can follow a successful
// selection. Accounts are scanned in discovery order from a rotating
// starting point; the first account that is enabled, not cooling down,
// not pending removal, and under its per-account limit wins.
//
// Returns ErrNoAccountAvailable when no account qualifies.
func (p *Pool) Acquire() (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	n := len(p.order)
	for i := 0; i < n; i++ {
		id := p.order[(p.next+i)%n]
		slot := p.accounts[id]
		account := slot.account

		if !account.Enabled || slot.pendingRemoval {
			continue
		}
		if account.InCooldown(now) {
			continue
		}
		if slot.inFlight >= p.cfg.PerAccountLimit {
			continue
		}

		// Rotate past the chosen account so load spreads across the pool.
		p.next = (p.next + i + 1) % n

		permit := p.acquireSlotLocked(slot)
		snapshot := *account
		return &Lease{Account: snapshot, permit: permit}, nil
	}

	return nil, ErrNoAccountAvailable
}

// ReportSuccess records a successful engine call: the account's last
// error and any cooldown are cleared.
func (p *Pool) ReportSuccess(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, err := p.slotFor(accountID)
	if err != nil {
		return
	}
	slot.account.CooldownUntil = time.Time{}
	slot.account.LastError = ""
}

// ReportFailure records a failed engine call. Only a session_invalid
// classification quarantines the account: it is placed in cooldown and
// the failure message recorded. Transient kinds (timeout, upstream)
// leave the account immediately selectable, so one flaky request cannot
// take a healthy account out of rotation.
func (p *Pool) ReportFailure(accountID string, failure *engine.Failure) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, err := p.slotFor(accountID)
	if err != nil {
		return
	}

	if failure.Kind != engine.FailureSessionInvalid {
		return
	}

	slot.account.CooldownUntil = p.now().Add(p.cfg.Cooldown)
	slot.account.LastError = failure.Message
	p.logger.Warn("account placed in cooldown",
		slog.String("account_id", accountID),
		slog.Duration("cooldown", p.cfg.Cooldown),
		slog.String("reason", failure.Message))
}
