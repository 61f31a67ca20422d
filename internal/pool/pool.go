package pool

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mirageproxy/mirage/internal/domain"
)

// Config holds the pool's concurrency limits and failover policy.
type Config struct {
	// GlobalLimit bounds total in-flight generation work across all
	// accounts, synchronous and asynchronous paths combined.
	GlobalLimit int

	// PerAccountLimit bounds in-flight work per account. Defaults to 1:
	// most accounts represent a single logical upstream session.
	PerAccountLimit int

	// Cooldown is how long an account is excluded from selection after
	// a session_invalid failure.
	Cooldown time.Duration
}

// DefaultConfig returns a Config with conservative defaults.
func DefaultConfig() Config {
	return Config{
		GlobalLimit:     5,
		PerAccountLimit: 1,
		Cooldown:        10 * time.Minute,
	}
}

func (c Config) validate() error {
	if c.GlobalLimit < 1 {
		return fmt.Errorf("%w: global limit must be >= 1, got %d", ErrInvalidPoolConfig, c.GlobalLimit)
	}
	if c.PerAccountLimit < 1 {
		return fmt.Errorf("%w: per-account limit must be >= 1, got %d", ErrInvalidPoolConfig, c.PerAccountLimit)
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("%w: cooldown must be positive, got %s", ErrInvalidPoolConfig, c.Cooldown)
	}
	return nil
}

// accountSlot pairs an account with its admission counter. Both are
// guarded by the pool mutex; the shared lock is what keeps health
// reports and slot accounting from racing each other.
type accountSlot struct {
	account  *domain.Account
	inFlight int

	// pendingRemoval marks an account dropped by a reload while it
	// still had work in flight. It is never selected again and is
	// deleted once it drains.
	pendingRemoval bool
}

// Pool owns all mutable scheduler state: account health fields and the
// global and per-account in-flight counters. Every mutation goes through
// its public contract; there are no ambient globals.
type Pool struct {
	mu             sync.Mutex
	cfg            Config
	accounts       map[string]*accountSlot
	order          []string // discovery order, the stable selection tie-break
	next           int      // rotating start offset for selection
	globalInFlight int
	logger         *slog.Logger

	// now is swappable in tests.
	now func() time.Time
}

// New creates a Pool over the given accounts. Account order is preserved
// as the stable selection order. Returns an error if the configuration
// is invalid or the account set is empty.
func New(accounts []*domain.Account, cfg Config, logger *slog.Logger) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	p := &Pool{
		cfg:      cfg,
		accounts: make(map[string]*accountSlot, len(accounts)),
		order:    make([]string, 0, len(accounts)),
		logger:   logger,
		now:      time.Now,
	}

	for _, account := range accounts {
		if err := account.Validate(); err != nil {
			return nil, fmt.Errorf("account %q: %w", account.ID, err)
		}
		if _, exists := p.accounts[account.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate account id %q", ErrInvalidPoolConfig, account.ID)
		}
		p.accounts[account.ID] = &accountSlot{account: account}
		p.order = append(p.order, account.ID)
	}

	return p, nil
}

// Reload replaces the account set, typically after credentials change on
// disk. Health state carries over for accounts that persist. An account
// dropped from the new set is never destroyed mid-flight: while it still
// has active work it is kept as pending-removal and drained.
func (p *Pool) Reload(accounts []*domain.Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make(map[string]*accountSlot, len(accounts))
	order := make([]string, 0, len(accounts))

	for _, account := range accounts {
		if err := account.Validate(); err != nil {
			return fmt.Errorf("account %q: %w", account.ID, err)
		}

		slot := &accountSlot{account: account}
		if prev, ok := p.accounts[account.ID]; ok {
			// Carry health and in-flight accounting across the reload.
			slot.inFlight = prev.inFlight
			account.ActiveTasks = prev.account.ActiveTasks
			account.CooldownUntil = prev.account.CooldownUntil
			account.LastError = prev.account.LastError
		}
		next[account.ID] = slot
		order = append(order, account.ID)
	}

	for id, slot := range p.accounts {
		if _, kept := next[id]; kept {
			continue
		}
		if slot.inFlight > 0 {
			slot.pendingRemoval = true
			next[id] = slot
			order = append(order, id)
			p.logger.Info("deferring account removal until drained",
				"account_id", id,
				"in_flight", slot.inFlight)
		} else {
			p.logger.Info("removing account", "account_id", id)
		}
	}

	p.accounts = next
	p.order = order
	if p.next >= len(p.order) {
		p.next = 0
	}
	return nil
}

// slotFor returns the slot for an account id. Caller must hold the lock.
func (p *Pool) slotFor(id string) (*accountSlot, error) {
	slot, ok := p.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAccount, id)
	}
	return slot, nil
}

// dropIfDrained removes a pending-removal account once its last permit
// is released. Caller must hold the lock.
func (p *Pool) dropIfDrained(id string) {
	slot, ok := p.accounts[id]
	if !ok || !slot.pendingRemoval || slot.inFlight > 0 {
		return
	}
	delete(p.accounts, id)
	for i, ordered := range p.order {
		if ordered == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	if p.next >= len(p.order) {
		p.next = 0
	}
	p.logger.Info("removed drained account", "account_id", id)
}
