package market

import (
	"context"
	"sync"

	"custodia/internal/domain"
	dErrors "custodia/pkg/domain-errors"
)

// PaymentRail moves the escrow payment currency. Pulling and releasing
// escrow may invoke externally-controlled code, which is why every
// market mutator sits behind the busy guard.
type PaymentRail interface {
	// PullEscrow moves amount from the buyer into market custody.
	PullEscrow(ctx context.Context, from domain.Account, amount uint64) error
	// ReleaseEscrow moves amount from market custody to the recipient.
	ReleaseEscrow(ctx context.Context, to domain.Account, amount uint64) error
}

// MemoryRail is an in-process payment rail for development wiring and
// tests. Production deployments inject an adapter over the real
// payment-currency service.
type MemoryRail struct {
	mu       sync.Mutex
	balances map[domain.Account]uint64
	custody  uint64
}

func NewMemoryRail() *MemoryRail {
	return &MemoryRail{balances: make(map[domain.Account]uint64)}
}

// Deposit credits payment currency to an account.
func (r *MemoryRail) Deposit(account domain.Account, amount uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[account] += amount
}

func (r *MemoryRail) PullEscrow(_ context.Context, from domain.Account, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.balances[from] < amount {
		return dErrors.Newf(dErrors.CodePreconditionFailed, "account %q has insufficient payment balance", from)
	}
	r.balances[from] -= amount
	r.custody += amount
	return nil
}

func (r *MemoryRail) ReleaseEscrow(_ context.Context, to domain.Account, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.custody < amount {
		return dErrors.New(dErrors.CodePreconditionFailed, "custody balance underflow")
	}
	r.custody -= amount
	r.balances[to] += amount
	return nil
}

// Balance returns an account's payment-currency balance.
func (r *MemoryRail) Balance(account domain.Account) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[account]
}

// Custody returns the total escrow held by the market.
func (r *MemoryRail) Custody() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.custody
}
