package custody

import (
	"context"
	"fmt"
	"sync"
)

// Ledger is an in-memory custody service. Balances are uint64 in the
// asset's smallest unit; accounts are created on first deposit or
// explicitly with an owning authority.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]map[string]uint64 // asset -> account -> balance
	owners   map[string]string            // account -> controlling authority
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[string]map[string]uint64),
		owners:   make(map[string]string),
	}
}

// CreateAccount registers an account under a controlling authority. Calling
// it again with the same owner is a no-op; re-registering under a different
// owner fails.
func (l *Ledger) CreateAccount(account, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.owners[account]; ok {
		if existing != owner {
			return fmt.Errorf("custody: account %s already owned by %s", account, existing)
		}
		return nil
	}
	l.owners[account] = owner
	return nil
}

// Deposit credits an account out of thin air. Test and bootstrap helper;
// the engine itself only ever transfers.
func (l *Ledger) Deposit(asset, account string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.owners[account]; !ok {
		l.owners[account] = account
	}
	if l.balances[asset] == nil {
		l.balances[asset] = make(map[string]uint64)
	}
	l.balances[asset][account] += amount
}

// Balance returns an account's balance; unknown accounts read as zero.
func (l *Ledger) Balance(ctx context.Context, asset, account string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[asset][account], nil
}

// Transfer moves amount of asset from one account to another, atomically.
// The presented authority must control the source account.
func (l *Ledger) Transfer(ctx context.Context, asset, from, to string, amount uint64, authority string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	owner, ok := l.owners[from]
	if !ok {
		return fmt.Errorf("transfer from %s: %w", from, ErrNoAccount)
	}
	if owner != authority {
		return fmt.Errorf("transfer from %s by %s: %w", from, authority, ErrUnauthorized)
	}

	bal := l.balances[asset][from]
	if bal < amount {
		return fmt.Errorf("transfer %d %s from %s (balance %d): %w",
			amount, asset, from, bal, ErrInsufficientBalance)
	}

	if _, ok := l.owners[to]; !ok {
		l.owners[to] = to
	}
	if l.balances[asset] == nil {
		l.balances[asset] = make(map[string]uint64)
	}
	l.balances[asset][from] = bal - amount
	l.balances[asset][to] += amount
	return nil
}
