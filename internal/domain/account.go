package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// Common validation errors for Account
var (
	ErrEmptyAccountID      = errors.New("account ID cannot be empty")
	ErrEmptyCredentials    = errors.New("account credentials cannot be empty")
	ErrNegativeActiveTasks = errors.New("account active task count cannot be negative")
)

// Account represents one unit of upstream capacity: a credential bundle
// with its own health and cooldown state. The credential material is
// opaque to the scheduler; only the Engine adapter interprets it.
//
// Mutable health fields (ActiveTasks, CooldownUntil, LastError) are owned
// by the pool aggregate and must only be mutated under its lock.
type Account struct {
	ID             string
	CredentialPath string
	Credentials    json.RawMessage
	Enabled        bool
	ActiveTasks    int
	CooldownUntil  time.Time
	LastError      string
}

// NewAccount creates an enabled Account with the given identity and
// credential bundle. Returns an error if validation fails.
func NewAccount(id, credentialPath string, credentials json.RawMessage) (*Account, error) {
	account := &Account{
		ID:             id,
		CredentialPath: credentialPath,
		Credentials:    credentials,
		Enabled:        true,
	}

	if err := account.Validate(); err != nil {
		return nil, err
	}

	return account, nil
}

// Validate checks if the Account has valid data.
// Returns an error if any field fails validation.
func (a *Account) Validate() error {
	if a.ID == "" {
		return ErrEmptyAccountID
	}

	if len(a.Credentials) == 0 {
		return ErrEmptyCredentials
	}

	if a.ActiveTasks < 0 {
		return ErrNegativeActiveTasks
	}

	return nil
}

// InCooldown reports whether the account is excluded from selection at
// the given instant.
func (a *Account) InCooldown(now time.Time) bool {
	return !a.CooldownUntil.IsZero() && a.CooldownUntil.After(now)
}

// CooldownRemaining returns how long the account stays excluded from
// selection, or zero if it is not cooling down.
func (a *Account) CooldownRemaining(now time.Time) time.Duration {
	if !a.InCooldown(now) {
		return 0
	}
	return a.CooldownUntil.Sub(now)
}
