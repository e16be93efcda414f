// Package policy implements the transfer policy engine: the single
// decision function every balance-changing operation consults, plus the
// authorization, lockup, and trusted-counterparty records it reads.
package policy

import (
	"sync"
	"time"

	"custodia/internal/domain"
)

// Verifier answers whether an account is verified. The identity
// directory satisfies this.
type Verifier interface {
	IsVerified(account domain.Account) bool
}

// Engine owns the per-account policy records and evaluates transfers
// against them. Record mutators are capability-gated at the dispatch
// boundary.
type Engine struct {
	mu          sync.RWMutex
	records     map[domain.Account]domain.PolicyRecord
	transferred map[domain.Account]uint64

	verifier Verifier
	clock    func() time.Time
}

func NewEngine(verifier Verifier, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		records:     make(map[domain.Account]domain.PolicyRecord),
		transferred: make(map[domain.Account]uint64),
		verifier:    verifier,
		clock:       clock,
	}
}

// SetAuthorized flips the authorized-investor flag for an account.
func (e *Engine) SetAuthorized(account domain.Account, authorized bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.records[account]
	rec.Account = account
	rec.Authorized = authorized
	e.records[account] = rec
}

// SetLockup sets the timestamp before which the account's
// authorized-investor transfers are blocked.
func (e *Engine) SetLockup(account domain.Account, until time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.records[account]
	rec.Account = account
	rec.LockupUntil = until
	e.records[account] = rec
}

// SetTrusted marks an account as a trusted counterparty. Trusted
// accounts bypass authorization and lockup checks in both directions;
// the flag exists for infrastructure accounts such as the market escrow
// and the privacy rail custody.
func (e *Engine) SetTrusted(account domain.Account, trusted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.records[account]
	rec.Account = account
	rec.Trusted = trusted
	e.records[account] = rec
}

// Record returns the policy record for an account; accounts never
// touched by an administrator get the zero record.
func (e *Engine) Record(account domain.Account) domain.PolicyRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.records[account]
}

// CanTransfer is the single transfer decision function.
// Rule priority (fail-fast):
//  1. Redemption (to = sentinel) is always allowed, so regulatory
//     unwind works even for unauthorized or unverified holders.
//  2. Issuance (from = sentinel) requires a verified destination that
//     is trusted or authorized.
//  3. Ordinary transfers require both parties verified.
//  4. A trusted party on either side allows the transfer outright.
//  5. The destination must be authorized.
//  6. An authorized sender still inside its lockup window is blocked.
func (e *Engine) CanTransfer(from, to domain.Account, amount uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if to.IsZero() {
		return true
	}

	toRec := e.records[to]
	if from.IsZero() {
		return e.verifier.IsVerified(to) && (toRec.Trusted || toRec.Authorized)
	}

	if !e.verifier.IsVerified(from) || !e.verifier.IsVerified(to) {
		return false
	}

	fromRec := e.records[from]
	if fromRec.Trusted || toRec.Trusted {
		return true
	}

	if !toRec.Authorized {
		return false
	}
	if fromRec.Authorized && fromRec.InLockup(e.clock()) {
		return false
	}
	return true
}

// Transferred is the post-transfer hook the ledger calls after balances
// move. The engine keeps cumulative outflow per account for downstream
// accounting.
func (e *Engine) Transferred(from, to domain.Account, amount uint64) {
	if from.IsZero() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transferred[from] += amount
}

// Outflow returns the cumulative transferred amount recorded for an account.
func (e *Engine) Outflow(account domain.Account) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.transferred[account]
}

// Snapshot captures policy state for all-or-nothing dispatch.
type Snapshot struct {
	records     map[domain.Account]domain.PolicyRecord
	transferred map[domain.Account]uint64
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	records := make(map[domain.Account]domain.PolicyRecord, len(e.records))
	for k, v := range e.records {
		records[k] = v
	}
	transferred := make(map[domain.Account]uint64, len(e.transferred))
	for k, v := range e.transferred {
		transferred[k] = v
	}
	return Snapshot{records: records, transferred: transferred}
}

func (e *Engine) Restore(snap Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = snap.records
	e.transferred = snap.transferred
}
