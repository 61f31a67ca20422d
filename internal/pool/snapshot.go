package pool

// AccountStatus is the read-only health view of one account, consumed
// by the status endpoint.
type AccountStatus struct {
	ID                       string `json:"account_id"`
	Enabled                  bool   `json:"enabled"`
	ActiveTasks              int    `json:"active_tasks"`
	InCooldown               bool   `json:"in_cooldown"`
	CooldownRemainingSeconds int    `json:"cooldown_remaining_seconds"`
	LastError                string `json:"last_error,omitempty"`
}

// Status is a point-in-time snapshot of the whole pool.
type Status struct {
	GlobalInFlight    int             `json:"global_in_flight"`
	GlobalLimit       int             `json:"global_limit"`
	PerAccountLimit   int             `json:"per_account_limit"`
	AccountsTotal     int             `json:"accounts_total"`
	AccountsAvailable int             `json:"accounts_available"`
	Accounts          []AccountStatus `json:"accounts"`
}

// Snapshot returns the pool's current state in discovery order. The
// returned value is detached from the live pool.
func (p *Pool) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	status := Status{
		GlobalInFlight:  p.globalInFlight,
		GlobalLimit:     p.cfg.GlobalLimit,
		PerAccountLimit: p.cfg.PerAccountLimit,
		AccountsTotal:   len(p.order),
		Accounts:        make([]AccountStatus, 0, len(p.order)),
	}

	for _, id := range p.order {
		slot := p.accounts[id]
		account := slot.account
		inCooldown := account.InCooldown(now)
		available := account.Enabled && !slot.pendingRemoval && !inCooldown &&
			slot.inFlight < p.cfg.PerAccountLimit
		if available {
			status.AccountsAvailable++
		}

		status.Accounts = append(status.Accounts, AccountStatus{
			ID:                       id,
			Enabled:                  account.Enabled && !slot.pendingRemoval,
			ActiveTasks:              account.ActiveTasks,
			InCooldown:               inCooldown,
			CooldownRemainingSeconds: int(account.CooldownRemaining(now).Seconds()),
			LastError:                account.LastError,
		})
	}

	return status
}
