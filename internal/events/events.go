// Package events carries the typed events emitted for off-ledger
// consumers: one per accepted action, plus the market's service-surface
// operations. The external record store ingests them idempotently on
// the natural key of the affected entity.
package events

import "time"

// Name identifies the event type. Dispatcher events are named after
// their action.
type Name string

const (
	EventIdentitySync          Name = "identity_sync"
	EventEmploymentSync        Name = "employment_sync"
	EventGoalSync              Name = "goal_sync"
	EventFreezeSync            Name = "freeze_sync"
	EventPrivateDeposit        Name = "private_deposit"
	EventBatch                 Name = "batch"
	EventMint                  Name = "mint"
	EventClaimRequirementsSync Name = "claim_requirements_sync"
	EventInvestorAuthSync      Name = "investor_auth_sync"
	EventInvestorLockupSync    Name = "investor_lockup_sync"
	EventCreateRound           Name = "create_round"
	EventRoundAllowlistSync    Name = "round_allowlist_sync"
	EventOpenRound             Name = "open_round"
	EventCloseRound            Name = "close_round"
	EventMarkSettled           Name = "mark_settled"
	EventRefundPurchase        Name = "refund_purchase"
	EventTokenComplianceSync   Name = "token_compliance_sync"

	// Service-surface events (no wire action type exists for these).
	EventPurchaseCreated  Name = "purchase_created"
	EventPurchaseRefunded Name = "purchase_refunded"
	EventRoundCancelled   Name = "round_cancelled"
	EventLedgerPaused     Name = "ledger_paused"
	EventLedgerUnpaused   Name = "ledger_unpaused"
	EventForcedTransfer   Name = "forced_transfer"
	EventTransfer         Name = "transfer"
	EventBurn             Name = "burn"
	EventPartialFreeze    Name = "partial_freeze"
	EventPartialUnfreeze  Name = "partial_unfreeze"
)

// Event is the envelope handed to sinks. Key is the natural key of the
// affected entity (account address, round id, purchase id, goal ref) so
// downstream ingestion can dedupe.
type Event struct {
	ID        string    `json:"id"`
	Name      Name      `json:"name"`
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}
