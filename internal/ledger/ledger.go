// Package ledger implements the asset ledger: balances, the per-account
// frozen reserve, account freeze flags, and the global pause switch.
// Every transfer, mint, and delegated/forced transfer is gated by the
// transfer policy engine before balances mutate; burn is policy-exempt
// by construction of the decision function.
package ledger

import (
	"sync"

	"custodia/internal/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Policy is the slice of the policy engine the ledger consumes.
type Policy interface {
	CanTransfer(from, to domain.Account, amount uint64) bool
	Transferred(from, to domain.Account, amount uint64)
	Record(account domain.Account) domain.PolicyRecord
}

// Verifier answers account verification; the identity directory
// satisfies this.
type Verifier interface {
	IsVerified(account domain.Account) bool
}

// Ledger owns all balance records. Mutators are not capability-aware:
// administrator-only operations are gated at the dispatch boundary.
type Ledger struct {
	mu       sync.RWMutex
	balances map[domain.Account]domain.Balance
	frozen   map[domain.Account]bool
	paused   bool
	supply   uint64

	// complianceRef names the policy module currently live, for
	// off-ledger consumers tracking compliance module rotation.
	complianceRef string

	policy   Policy
	verifier Verifier
}

func New(policy Policy, verifier Verifier) *Ledger {
	return &Ledger{
		balances: make(map[domain.Account]domain.Balance),
		frozen:   make(map[domain.Account]bool),
		policy:   policy,
		verifier: verifier,
	}
}

// Transfer moves spendable balance between accounts. Preconditions are
// checked in order, short-circuiting on the first failure:
//  1. ledger not paused
//  2. neither party frozen
//  3. sender spendable balance covers the amount
//  4. both parties verified
//  5. policy engine approves
func (l *Ledger) Transfer(from, to domain.Account, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkTransfer(from, to, amount); err != nil {
		return err
	}
	return l.move(from, to, amount)
}

// DelegatedTransfer moves balance on behalf of the sender. The operator
// must be a trusted counterparty; beyond that the transfer is checked
// exactly like Transfer.
func (l *Ledger) DelegatedTransfer(operator, from, to domain.Account, amount uint64) error {
	if !l.policy.Record(operator).Trusted {
		return dErrors.Newf(dErrors.CodePermissionDenied, "operator %q is not a trusted counterparty", operator)
	}
	return l.Transfer(from, to, amount)
}

// ForcedTransfer is the administrator's regulatory tool. It bypasses
// the sender's freeze flag and frozen reserve but still requires an
// unpaused ledger, an unfrozen recipient, verification on both sides,
// and policy approval. When the amount digs into the frozen reserve the
// reserve is reduced so the reserve invariant holds.
func (l *Ledger) ForcedTransfer(from, to domain.Account, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused {
		return dErrors.New(dErrors.CodePreconditionFailed, "ledger is paused")
	}
	if l.frozen[to] {
		return dErrors.Newf(dErrors.CodePreconditionFailed, "account %q is frozen", to)
	}
	bal := l.balances[from]
	if bal.Total < amount {
		return dErrors.New(dErrors.CodePreconditionFailed, "insufficient balance")
	}
	if !l.verifier.IsVerified(from) || !l.verifier.IsVerified(to) {
		return dErrors.New(dErrors.CodePolicyDenied, "both parties must be verified")
	}
	if !l.policy.CanTransfer(from, to, amount) {
		return dErrors.New(dErrors.CodePolicyDenied, "transfer denied by policy")
	}

	remaining := bal.Total - amount
	if bal.FrozenReserve > remaining {
		bal.FrozenReserve = remaining
	}
	bal.Total = remaining
	l.balances[from] = bal

	toBal := l.balances[to]
	newTotal, err := domain.SafeAdd(toBal.Total, amount)
	if err != nil {
		return err
	}
	toBal.Total = newTotal
	l.balances[to] = toBal

	l.policy.Transferred(from, to, amount)
	return nil
}

// Mint issues new asset to a verified, policy-approved destination.
func (l *Ledger) Mint(to domain.Account, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if to.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "mint destination must not be the zero account")
	}
	if !l.verifier.IsVerified(to) {
		return dErrors.Newf(dErrors.CodePolicyDenied, "account %q is not verified", to)
	}
	if !l.policy.CanTransfer(domain.ZeroAccount, to, amount) {
		return dErrors.New(dErrors.CodePolicyDenied, "issuance denied by policy")
	}

	bal := l.balances[to]
	newTotal, err := domain.SafeAdd(bal.Total, amount)
	if err != nil {
		return err
	}
	newSupply, err := domain.SafeAdd(l.supply, amount)
	if err != nil {
		return err
	}
	bal.Total = newTotal
	l.balances[to] = bal
	l.supply = newSupply

	l.policy.Transferred(domain.ZeroAccount, to, amount)
	return nil
}

// Burn destroys spendable balance. The policy engine always approves
// redemptions, so burn works even for unauthorized or unverified
// holders; the consultation stays in place so a replacement policy
// module is still heard.
func (l *Ledger) Burn(from domain.Account, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.policy.CanTransfer(from, domain.ZeroAccount, amount) {
		return dErrors.New(dErrors.CodePolicyDenied, "redemption denied by policy")
	}
	bal := l.balances[from]
	if bal.Spendable() < amount {
		return dErrors.New(dErrors.CodePreconditionFailed, "insufficient spendable balance")
	}
	bal.Total -= amount
	l.balances[from] = bal
	l.supply -= amount

	l.policy.Transferred(from, domain.ZeroAccount, amount)
	return nil
}

// Pause blocks all transfers until Unpause.
func (l *Ledger) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = true
}

func (l *Ledger) Unpause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = false
}

func (l *Ledger) Paused() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.paused
}

// SetFrozen sets the account-level freeze flag. The eligibility sync
// path drives this; FREEZE_SYNC sets it directly.
func (l *Ledger) SetFrozen(account domain.Account, frozen bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if frozen {
		l.frozen[account] = true
		return
	}
	delete(l.frozen, account)
}

func (l *Ledger) Frozen(account domain.Account) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frozen[account]
}

// FreezePartial adds to the account's frozen reserve. The reserve can
// never exceed the total balance.
func (l *Ledger) FreezePartial(account domain.Account, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balances[account]
	newReserve, err := domain.SafeAdd(bal.FrozenReserve, amount)
	if err != nil {
		return err
	}
	if newReserve > bal.Total {
		return dErrors.New(dErrors.CodePreconditionFailed, "frozen reserve would exceed balance")
	}
	bal.FrozenReserve = newReserve
	l.balances[account] = bal
	return nil
}

// UnfreezePartial releases reserve, floor-clamped at zero.
func (l *Ledger) UnfreezePartial(account domain.Account, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balances[account]
	if amount > bal.FrozenReserve {
		bal.FrozenReserve = 0
	} else {
		bal.FrozenReserve -= amount
	}
	l.balances[account] = bal
}

// Balance returns the account's balance record.
func (l *Ledger) Balance(account domain.Account) domain.Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account]
}

// TotalSupply returns the outstanding asset supply.
func (l *Ledger) TotalSupply() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply
}

// SetComplianceRef records which policy module is live.
func (l *Ledger) SetComplianceRef(ref string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.complianceRef = ref
}

func (l *Ledger) ComplianceRef() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.complianceRef
}

// checkTransfer runs the ordered precondition chain. Callers hold l.mu.
func (l *Ledger) checkTransfer(from, to domain.Account, amount uint64) error {
	if l.paused {
		return dErrors.New(dErrors.CodePreconditionFailed, "ledger is paused")
	}
	if l.frozen[from] {
		return dErrors.Newf(dErrors.CodePreconditionFailed, "account %q is frozen", from)
	}
	if l.frozen[to] {
		return dErrors.Newf(dErrors.CodePreconditionFailed, "account %q is frozen", to)
	}
	if l.balances[from].Spendable() < amount {
		return dErrors.New(dErrors.CodePreconditionFailed, "insufficient spendable balance")
	}
	if !l.verifier.IsVerified(from) || !l.verifier.IsVerified(to) {
		return dErrors.New(dErrors.CodePolicyDenied, "both parties must be verified")
	}
	if !l.policy.CanTransfer(from, to, amount) {
		return dErrors.New(dErrors.CodePolicyDenied, "transfer denied by policy")
	}
	return nil
}

// move applies a checked transfer. Callers hold l.mu.
func (l *Ledger) move(from, to domain.Account, amount uint64) error {
	toBal := l.balances[to]
	newTotal, err := domain.SafeAdd(toBal.Total, amount)
	if err != nil {
		return err
	}

	fromBal := l.balances[from]
	fromBal.Total -= amount
	l.balances[from] = fromBal

	toBal.Total = newTotal
	l.balances[to] = toBal

	l.policy.Transferred(from, to, amount)
	return nil
}

// Snapshot captures ledger state for all-or-nothing dispatch.
type Snapshot struct {
	balances      map[domain.Account]domain.Balance
	frozen        map[domain.Account]bool
	paused        bool
	supply        uint64
	complianceRef string
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	balances := make(map[domain.Account]domain.Balance, len(l.balances))
	for k, v := range l.balances {
		balances[k] = v
	}
	frozen := make(map[domain.Account]bool, len(l.frozen))
	for k, v := range l.frozen {
		frozen[k] = v
	}
	return Snapshot{
		balances:      balances,
		frozen:        frozen,
		paused:        l.paused,
		supply:        l.supply,
		complianceRef: l.complianceRef,
	}
}

func (l *Ledger) Restore(snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = snap.balances
	l.frozen = snap.frozen
	l.paused = snap.paused
	l.supply = snap.supply
	l.complianceRef = snap.complianceRef
}
