package domain

import "time"

// RoundStatus is the lifecycle state of a placement round.
type RoundStatus string

const (
	RoundDraft     RoundStatus = "draft"
	RoundOpen      RoundStatus = "open"
	RoundClosed    RoundStatus = "closed"
	RoundCancelled RoundStatus = "cancelled"
)

// Round is a time-boxed offer of the asset at a fixed price. SoldTotal
// counts escrow currency contributed by non-refunded purchases and
// never exceeds CapTotal. Round ids are never reused, even after
// cancellation.
type Round struct {
	ID           uint64
	StartTime    time.Time
	EndTime      time.Time
	PricePerUnit uint64
	CapTotal     uint64
	SoldTotal    uint64
	Status       RoundStatus
}

// AcceptsPurchases reports whether the round can take a purchase at now.
// The status check and the time window are independent gates.
func (r Round) AcceptsPurchases(now time.Time) bool {
	if r.Status != RoundOpen {
		return false
	}
	return !now.Before(r.StartTime) && !now.After(r.EndTime)
}
