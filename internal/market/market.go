// Package market implements the private placement market: time-boxed
// rounds of the asset at a fixed price, per-investor allowlist caps,
// and purchases held in payment-currency escrow until a two-phase
// settle/refund decision.
package market

import (
	"context"
	"sync"
	"time"

	"custodia/internal/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Verifier answers account verification; the identity directory
// satisfies this.
type Verifier interface {
	IsVerified(account domain.Account) bool
}

// PolicyView is the read-only slice of the policy engine the market
// needs to admit buyers.
type PolicyView interface {
	Record(account domain.Account) domain.PolicyRecord
}

// Config carries the market's collaborators and operational settings.
type Config struct {
	Rail     PaymentRail
	Verifier Verifier
	Policy   PolicyView
	// Treasury receives escrow on settlement.
	Treasury domain.Account
	// SettlementTimeout is how long after purchase creation the buyer
	// may unilaterally refund a still-pending purchase.
	SettlementTimeout time.Duration
	Clock             func() time.Time
}

type allowKey struct {
	roundID  uint64
	investor domain.Account
}

// railRelease is an escrow payout staged by a settle or refund. Staged
// releases reach the rail only through FlushRail, after the surrounding
// transaction has committed; a restored snapshot discards them.
type railRelease struct {
	to     domain.Account
	amount uint64
}

// Market owns rounds, purchases, and allowlist state. Every
// state-mutating entry point is wrapped in a busy guard: escrow
// transfers can invoke externally-controlled code, and a nested call
// re-entering a mutator before the first finishes must fail rather
// than interleave.
type Market struct {
	mu   sync.Mutex
	busy bool

	rounds         map[uint64]domain.Round
	purchases      map[uint64]domain.Purchase
	allowlist      map[allowKey]uint64
	contributed    map[allowKey]uint64
	nextPurchaseID uint64
	staged         []railRelease

	rail              PaymentRail
	verifier          Verifier
	policy            PolicyView
	treasury          domain.Account
	settlementTimeout time.Duration
	clock             func() time.Time
}

func New(cfg Config) *Market {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Market{
		rounds:            make(map[uint64]domain.Round),
		purchases:         make(map[uint64]domain.Purchase),
		allowlist:         make(map[allowKey]uint64),
		contributed:       make(map[allowKey]uint64),
		nextPurchaseID:    1,
		rail:              cfg.Rail,
		verifier:          cfg.Verifier,
		policy:            cfg.Policy,
		treasury:          cfg.Treasury,
		settlementTimeout: cfg.SettlementTimeout,
		clock:             clock,
	}
}

// enter acquires the busy guard. Mutators call it first and defer exit;
// a re-entrant call observes busy=true and fails instead of deadlocking
// or interleaving with the in-flight mutation.
func (m *Market) enter() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return dErrors.New(dErrors.CodeConflict, "market is busy with another mutation")
	}
	m.busy = true
	return nil
}

func (m *Market) exit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false
}

// CreateRound registers a new round in draft. Round ids are never
// reused: a cancelled round still occupies its id.
func (m *Market) CreateRound(id uint64, start, end time.Time, pricePerUnit, capTotal uint64) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()

	if id == 0 {
		return dErrors.New(dErrors.CodeValidation, "round id must be nonzero")
	}
	if !start.Before(end) {
		return dErrors.New(dErrors.CodeValidation, "round start must precede end")
	}
	if pricePerUnit == 0 || capTotal == 0 {
		return dErrors.New(dErrors.CodeValidation, "round price and cap must be nonzero")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rounds[id]; exists {
		return dErrors.Newf(dErrors.CodeConflict, "round %d already exists", id)
	}
	m.rounds[id] = domain.Round{
		ID:           id,
		StartTime:    start,
		EndTime:      end,
		PricePerUnit: pricePerUnit,
		CapTotal:     capTotal,
		Status:       domain.RoundDraft,
	}
	return nil
}

// OpenRound moves a round to open. Re-opening a closed round is
// allowed; opening an already-open round is a no-op transition.
func (m *Market) OpenRound(id uint64) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()
	return m.setRoundStatus(id, domain.RoundOpen,
		domain.RoundDraft, domain.RoundOpen, domain.RoundClosed)
}

// CloseRound moves an open round to closed.
func (m *Market) CloseRound(id uint64) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()
	return m.setRoundStatus(id, domain.RoundClosed, domain.RoundOpen)
}

// CancelRound terminally cancels a round from any non-cancelled state.
func (m *Market) CancelRound(id uint64) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()
	return m.setRoundStatus(id, domain.RoundCancelled,
		domain.RoundDraft, domain.RoundOpen, domain.RoundClosed)
}

func (m *Market) setRoundStatus(id uint64, to domain.RoundStatus, from ...domain.RoundStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	round, ok := m.rounds[id]
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "round %d does not exist", id)
	}
	for _, status := range from {
		if round.Status == status {
			round.Status = to
			m.rounds[id] = round
			return nil
		}
	}
	return dErrors.Newf(dErrors.CodePreconditionFailed, "round %d is %s", id, round.Status)
}

// SetAllowlist sets the per-investor escrow ceiling for a round. A cap
// of zero means the investor may not buy.
func (m *Market) SetAllowlist(roundID uint64, investor domain.Account, cap uint64) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rounds[roundID]; !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "round %d does not exist", roundID)
	}
	m.allowlist[allowKey{roundID, investor}] = cap
	return nil
}

// BuyRound escrows payment currency against an open round and creates
// a pending purchase. The escrow pull happens before any state
// mutation, so a rail failure aborts with nothing to unwind.
func (m *Market) BuyRound(ctx context.Context, buyer domain.Account, roundID uint64, amount uint64, recipientCommitment []byte) (domain.Purchase, error) {
	if err := m.enter(); err != nil {
		return domain.Purchase{}, err
	}
	defer m.exit()

	if amount == 0 {
		return domain.Purchase{}, dErrors.New(dErrors.CodeValidation, "purchase amount must be nonzero")
	}

	if err := m.checkBuy(buyer, roundID, amount); err != nil {
		return domain.Purchase{}, err
	}

	if err := m.rail.PullEscrow(ctx, buyer, amount); err != nil {
		return domain.Purchase{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := allowKey{roundID, buyer}
	round := m.rounds[roundID]
	round.SoldTotal += amount
	m.rounds[roundID] = round
	m.contributed[key] += amount

	purchase := domain.Purchase{
		ID:                  m.nextPurchaseID,
		RoundID:             roundID,
		Buyer:               buyer,
		Amount:              amount,
		RecipientCommitment: domain.CommitmentDigest(recipientCommitment),
		CreatedAt:           m.clock(),
		Status:              domain.PurchasePending,
	}
	m.nextPurchaseID++
	m.purchases[purchase.ID] = purchase
	return purchase, nil
}

func (m *Market) checkBuy(buyer domain.Account, roundID uint64, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	round, ok := m.rounds[roundID]
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "round %d does not exist", roundID)
	}
	if !round.AcceptsPurchases(m.clock()) {
		return dErrors.Newf(dErrors.CodePreconditionFailed, "round %d is not accepting purchases", roundID)
	}

	if !m.verifier.IsVerified(buyer) {
		return dErrors.Newf(dErrors.CodePolicyDenied, "buyer %q is not verified", buyer)
	}
	rec := m.policy.Record(buyer)
	if !rec.Authorized && !rec.Trusted {
		return dErrors.Newf(dErrors.CodePolicyDenied, "buyer %q is not an authorized investor", buyer)
	}

	key := allowKey{roundID, buyer}
	ceiling := m.allowlist[key]
	if ceiling == 0 {
		return dErrors.Newf(dErrors.CodeInvestorCapExceeded, "buyer %q is not allowlisted for round %d", buyer, roundID)
	}
	spent, err := domain.SafeAdd(m.contributed[key], amount)
	if err != nil || spent > ceiling {
		return dErrors.Newf(dErrors.CodeInvestorCapExceeded, "purchase would exceed investor cap for round %d", roundID)
	}
	sold, err := domain.SafeAdd(round.SoldTotal, amount)
	if err != nil || sold > round.CapTotal {
		return dErrors.Newf(dErrors.CodeRoundCapExceeded, "purchase would exceed cap of round %d", roundID)
	}
	return nil
}

// MarkPurchaseSettled finalizes a pending purchase: escrow is staged
// for release to the treasury and the settlement reference is recorded.
// Terminal.
func (m *Market) MarkPurchaseSettled(_ context.Context, purchaseID uint64, settlementRef string) (domain.Purchase, error) {
	if err := m.enter(); err != nil {
		return domain.Purchase{}, err
	}
	defer m.exit()

	if settlementRef == "" {
		return domain.Purchase{}, dErrors.New(dErrors.CodeValidation, "settlement reference must not be empty")
	}
	purchase, err := m.pendingPurchase(purchaseID)
	if err != nil {
		return domain.Purchase{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	purchase.Status = domain.PurchaseSettled
	purchase.SettlementRef = settlementRef
	m.purchases[purchaseID] = purchase
	m.staged = append(m.staged, railRelease{to: m.treasury, amount: purchase.Amount})
	return purchase, nil
}

// RefundPurchase is the buyer's unilateral exit once the settlement
// timeout has elapsed without a settlement decision.
func (m *Market) RefundPurchase(_ context.Context, caller domain.Account, purchaseID uint64) (domain.Purchase, error) {
	if err := m.enter(); err != nil {
		return domain.Purchase{}, err
	}
	defer m.exit()

	purchase, err := m.pendingPurchase(purchaseID)
	if err != nil {
		return domain.Purchase{}, err
	}
	if purchase.Buyer != caller {
		return domain.Purchase{}, dErrors.Newf(dErrors.CodePermissionDenied, "purchase %d does not belong to caller", purchaseID)
	}
	if m.clock().Before(purchase.CreatedAt.Add(m.settlementTimeout)) {
		return domain.Purchase{}, dErrors.Newf(dErrors.CodeRefundNotAvailableYet, "settlement timeout has not elapsed for purchase %d", purchaseID)
	}
	return m.refund(purchase), nil
}

// RefundPurchaseByOracle refunds a pending purchase unconditionally.
func (m *Market) RefundPurchaseByOracle(_ context.Context, purchaseID uint64) (domain.Purchase, error) {
	if err := m.enter(); err != nil {
		return domain.Purchase{}, err
	}
	defer m.exit()

	purchase, err := m.pendingPurchase(purchaseID)
	if err != nil {
		return domain.Purchase{}, err
	}
	return m.refund(purchase), nil
}

func (m *Market) refund(purchase domain.Purchase) domain.Purchase {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Counters are floor-clamped so a refund can never underflow them,
	// whatever partial accounting preceded it.
	key := allowKey{purchase.RoundID, purchase.Buyer}
	round := m.rounds[purchase.RoundID]
	if purchase.Amount > round.SoldTotal {
		round.SoldTotal = 0
	} else {
		round.SoldTotal -= purchase.Amount
	}
	m.rounds[purchase.RoundID] = round
	if purchase.Amount > m.contributed[key] {
		m.contributed[key] = 0
	} else {
		m.contributed[key] -= purchase.Amount
	}

	purchase.Status = domain.PurchaseRefunded
	m.purchases[purchase.ID] = purchase
	m.staged = append(m.staged, railRelease{to: purchase.Buyer, amount: purchase.Amount})
	return purchase
}

// FlushRail delivers staged escrow releases to the payment rail. The
// dispatcher calls it once the surrounding transaction has otherwise
// succeeded; a failure aborts the transaction, and the snapshot restore
// discards the staged releases along with the state that staged them.
func (m *Market) FlushRail(ctx context.Context) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()

	m.mu.Lock()
	staged := m.staged
	m.staged = nil
	m.mu.Unlock()

	for _, release := range staged {
		if err := m.rail.ReleaseEscrow(ctx, release.to, release.amount); err != nil {
			return err
		}
	}
	return nil
}

func (m *Market) pendingPurchase(purchaseID uint64) (domain.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	purchase, ok := m.purchases[purchaseID]
	if !ok {
		return domain.Purchase{}, dErrors.Newf(dErrors.CodeNotFound, "purchase %d does not exist", purchaseID)
	}
	if purchase.Status != domain.PurchasePending {
		return domain.Purchase{}, dErrors.Newf(dErrors.CodeInvalidPurchaseStatus, "purchase %d is %s", purchaseID, purchase.Status)
	}
	return purchase, nil
}

// Round returns a round by id.
func (m *Market) Round(id uint64) (domain.Round, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	round, ok := m.rounds[id]
	return round, ok
}

// Purchase returns a purchase by id.
func (m *Market) Purchase(id uint64) (domain.Purchase, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	purchase, ok := m.purchases[id]
	return purchase, ok
}

// Contributed returns how much escrow an investor holds against a round.
func (m *Market) Contributed(roundID uint64, investor domain.Account) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contributed[allowKey{roundID, investor}]
}

// AllowlistCap returns the investor's ceiling for a round.
func (m *Market) AllowlistCap(roundID uint64, investor domain.Account) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowlist[allowKey{roundID, investor}]
}

// Snapshot captures market state for all-or-nothing dispatch.
type Snapshot struct {
	rounds         map[uint64]domain.Round
	purchases      map[uint64]domain.Purchase
	allowlist      map[allowKey]uint64
	contributed    map[allowKey]uint64
	nextPurchaseID uint64
	staged         []railRelease
}

func (m *Market) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	rounds := make(map[uint64]domain.Round, len(m.rounds))
	for k, v := range m.rounds {
		rounds[k] = v
	}
	purchases := make(map[uint64]domain.Purchase, len(m.purchases))
	for k, v := range m.purchases {
		purchases[k] = v
	}
	allowlist := make(map[allowKey]uint64, len(m.allowlist))
	for k, v := range m.allowlist {
		allowlist[k] = v
	}
	contributed := make(map[allowKey]uint64, len(m.contributed))
	for k, v := range m.contributed {
		contributed[k] = v
	}
	return Snapshot{
		rounds:         rounds,
		purchases:      purchases,
		allowlist:      allowlist,
		contributed:    contributed,
		nextPurchaseID: m.nextPurchaseID,
		staged:         append([]railRelease(nil), m.staged...),
	}
}

func (m *Market) Restore(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds = snap.rounds
	m.purchases = snap.purchases
	m.allowlist = snap.allowlist
	m.contributed = snap.contributed
	m.nextPurchaseID = snap.nextPurchaseID
	m.staged = snap.staged
}
