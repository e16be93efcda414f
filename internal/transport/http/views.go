package httptransport

import (
	"time"

	"custodia/internal/domain"
)

type roundView struct {
	ID           uint64    `json:"id"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	PricePerUnit uint64    `json:"pricePerUnit"`
	CapTotal     uint64    `json:"capTotal"`
	SoldTotal    uint64    `json:"soldTotal"`
	Status       string    `json:"status"`
}

func newRoundView(round domain.Round) roundView {
	return roundView{
		ID:           round.ID,
		StartTime:    round.StartTime,
		EndTime:      round.EndTime,
		PricePerUnit: round.PricePerUnit,
		CapTotal:     round.CapTotal,
		SoldTotal:    round.SoldTotal,
		Status:       string(round.Status),
	}
}

type purchaseView struct {
	ID                  uint64    `json:"id"`
	RoundID             uint64    `json:"roundId"`
	Buyer               string    `json:"buyer"`
	Amount              uint64    `json:"amount"`
	RecipientCommitment string    `json:"recipientCommitment,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	Status              string    `json:"status"`
	SettlementRef       string    `json:"settlementRef,omitempty"`
}

func newPurchaseView(purchase domain.Purchase) purchaseView {
	return purchaseView{
		ID:                  purchase.ID,
		RoundID:             purchase.RoundID,
		Buyer:               string(purchase.Buyer),
		Amount:              purchase.Amount,
		RecipientCommitment: purchase.RecipientCommitment,
		CreatedAt:           purchase.CreatedAt,
		Status:              string(purchase.Status),
		SettlementRef:       purchase.SettlementRef,
	}
}

type balanceView struct {
	Total         uint64 `json:"total"`
	FrozenReserve uint64 `json:"frozenReserve"`
	Spendable     uint64 `json:"spendable"`
}

type policyView struct {
	Authorized  bool       `json:"authorized"`
	Trusted     bool       `json:"trusted"`
	LockupUntil *time.Time `json:"lockupUntil,omitempty"`
}

type accountView struct {
	Account  string      `json:"account"`
	Verified bool        `json:"verified"`
	Frozen   bool        `json:"frozen"`
	Balance  balanceView `json:"balance"`
	Policy   policyView  `json:"policy"`
}

type ledgerView struct {
	Paused        bool   `json:"paused"`
	TotalSupply   uint64 `json:"totalSupply"`
	ComplianceRef string `json:"complianceRef,omitempty"`
}
