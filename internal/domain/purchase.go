package domain

import "time"

// PurchaseStatus is the settlement state of a purchase. Settled and
// refunded are terminal: no further mutation is permitted.
type PurchaseStatus string

const (
	PurchasePending  PurchaseStatus = "pending"
	PurchaseSettled  PurchaseStatus = "settled"
	PurchaseRefunded PurchaseStatus = "refunded"
)

// Terminal reports whether the status admits no further transitions.
func (s PurchaseStatus) Terminal() bool {
	return s == PurchaseSettled || s == PurchaseRefunded
}

// Purchase is an escrowed payment-currency hold against a round. Ids
// are assigned monotonically and never reused. RecipientCommitment is
// the digest of the opaque recipient payload destined for the privacy
// rail; the raw payload never enters core state.
type Purchase struct {
	ID                  uint64
	RoundID             uint64
	Buyer               Account
	Amount              uint64
	RecipientCommitment string
	CreatedAt           time.Time
	Status              PurchaseStatus
	SettlementRef       string
}
