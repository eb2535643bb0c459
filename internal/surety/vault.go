package surety

import (
	"context"
	"fmt"
	"sync"
)

// Vault is an in-memory Custody that records what each principal has been
// paid.
type Vault struct {
	mu       sync.RWMutex
	balances map[Principal]Amount
}

// NewVault returns an empty vault.
func NewVault() *Vault {
	return &Vault{balances: make(map[Principal]Amount)}
}

// Transfer credits amount to the recipient.
func (v *Vault) Transfer(ctx context.Context, to Principal, amount Amount) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to transfer to %s: %w", to, err)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: transfer of %s", ErrInvalidAmount, amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[to] += amount
	return nil
}

// Balance returns the total paid out to p.
func (v *Vault) Balance(p Principal) Amount {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balances[p]
}
