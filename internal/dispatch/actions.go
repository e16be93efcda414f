// Package dispatch routes authenticated, capability-checked actions
// onto the custody components as single all-or-nothing transactions.
// The wire format is a tagged envelope: a small unsigned action type
// plus an opaque payload, decoded once at the boundary into one variant
// per action so routing is an exhaustive switch.
package dispatch

import (
	"bytes"
	"encoding/json"

	dErrors "custodia/pkg/domain-errors"
)

// Kind is the wire action type.
type Kind uint8

const (
	KindIdentitySync          Kind = 0
	KindEmploymentSync        Kind = 1
	KindGoalSync              Kind = 2
	KindFreezeSync            Kind = 3
	KindPrivateDeposit        Kind = 4
	KindBatch                 Kind = 5
	KindRedeemTicket          Kind = 6
	KindMint                  Kind = 7
	KindClaimRequirementsSync Kind = 8
	KindInvestorAuthSync      Kind = 9
	KindInvestorLockupSync    Kind = 10
	KindCreateRound           Kind = 11
	KindRoundAllowlistSync    Kind = 12
	KindOpenRound             Kind = 13
	KindCloseRound            Kind = 14
	KindMarkSettled           Kind = 15
	KindRefundPurchase        Kind = 16
	KindTokenComplianceSync   Kind = 17
)

func (k Kind) String() string {
	switch k {
	case KindIdentitySync:
		return "identity_sync"
	case KindEmploymentSync:
		return "employment_sync"
	case KindGoalSync:
		return "goal_sync"
	case KindFreezeSync:
		return "freeze_sync"
	case KindPrivateDeposit:
		return "private_deposit"
	case KindBatch:
		return "batch"
	case KindRedeemTicket:
		return "redeem_ticket"
	case KindMint:
		return "mint"
	case KindClaimRequirementsSync:
		return "claim_requirements_sync"
	case KindInvestorAuthSync:
		return "investor_auth_sync"
	case KindInvestorLockupSync:
		return "investor_lockup_sync"
	case KindCreateRound:
		return "create_round"
	case KindRoundAllowlistSync:
		return "round_allowlist_sync"
	case KindOpenRound:
		return "open_round"
	case KindCloseRound:
		return "close_round"
	case KindMarkSettled:
		return "mark_settled"
	case KindRefundPurchase:
		return "refund_purchase"
	case KindTokenComplianceSync:
		return "token_compliance_sync"
	default:
		return "unknown"
	}
}

// Envelope is the wire form of an action. Batch payloads nest a list of
// fully-formed envelopes; both the production and consumption side of
// that format live in this package so they cannot drift.
type Envelope struct {
	Type    uint8           `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Action is the decoded form: one variant per wire type.
type Action interface {
	kind() Kind
}

// Timestamps on the wire are unix seconds.

type IdentitySync struct {
	Account      string `json:"account"`
	Verified     bool   `json:"verified"`
	IdentityRef  string `json:"identityRef"`
	Jurisdiction uint16 `json:"jurisdiction"`
}

type EmploymentSync struct {
	Account  string `json:"account"`
	Employed bool   `json:"employed"`
}

type GoalSync struct {
	GoalRef     string `json:"goalRef"`
	Achieved    bool   `json:"achieved"`
	AccountHint string `json:"accountHint"`
}

type FreezeSync struct {
	Account string `json:"account"`
	Frozen  bool   `json:"frozen"`
}

type PrivateDeposit struct {
	Amount uint64 `json:"amount"`
}

type Batch struct {
	Items []Envelope `json:"items"`
}

type RedeemTicket struct{}

type Mint struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type ClaimRequirementsSync struct {
	Account      string `json:"account"`
	CliffEnd     int64  `json:"cliffEnd"`
	GoalRef      string `json:"goalRef"`
	GoalRequired bool   `json:"goalRequired"`
}

type InvestorAuthSync struct {
	Investor   string `json:"investor"`
	Authorized bool   `json:"authorized"`
}

type InvestorLockupSync struct {
	Investor    string `json:"investor"`
	LockupUntil int64  `json:"lockupUntil"`
}

type CreateRound struct {
	RoundID   uint64 `json:"roundId"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
	Price     uint64 `json:"price"`
	Cap       uint64 `json:"cap"`
}

type RoundAllowlistSync struct {
	RoundID  uint64 `json:"roundId"`
	Investor string `json:"investor"`
	Cap      uint64 `json:"cap"`
}

type OpenRound struct {
	RoundID uint64 `json:"roundId"`
}

type CloseRound struct {
	RoundID uint64 `json:"roundId"`
}

type MarkSettled struct {
	PurchaseID    uint64 `json:"purchaseId"`
	SettlementRef string `json:"settlementRef"`
}

type RefundPurchase struct {
	PurchaseID uint64 `json:"purchaseId"`
	Reason     string `json:"reason"`
}

type TokenComplianceSync struct {
	NewPolicyEngine string `json:"newPolicyEngine"`
}

func (IdentitySync) kind() Kind          { return KindIdentitySync }
func (EmploymentSync) kind() Kind        { return KindEmploymentSync }
func (GoalSync) kind() Kind              { return KindGoalSync }
func (FreezeSync) kind() Kind            { return KindFreezeSync }
func (PrivateDeposit) kind() Kind        { return KindPrivateDeposit }
func (Batch) kind() Kind                 { return KindBatch }
func (RedeemTicket) kind() Kind          { return KindRedeemTicket }
func (Mint) kind() Kind                  { return KindMint }
func (ClaimRequirementsSync) kind() Kind { return KindClaimRequirementsSync }
func (InvestorAuthSync) kind() Kind      { return KindInvestorAuthSync }
func (InvestorLockupSync) kind() Kind    { return KindInvestorLockupSync }
func (CreateRound) kind() Kind           { return KindCreateRound }
func (RoundAllowlistSync) kind() Kind    { return KindRoundAllowlistSync }
func (OpenRound) kind() Kind             { return KindOpenRound }
func (CloseRound) kind() Kind            { return KindCloseRound }
func (MarkSettled) kind() Kind           { return KindMarkSettled }
func (RefundPurchase) kind() Kind        { return KindRefundPurchase }
func (TokenComplianceSync) kind() Kind   { return KindTokenComplianceSync }

// Decode parses an envelope into its action variant. Unknown types and
// undecodable payloads fail with a validation error before any state
// changes.
func Decode(env Envelope) (Action, error) {
	switch Kind(env.Type) {
	case KindIdentitySync:
		return decodeInto[IdentitySync](env.Payload)
	case KindEmploymentSync:
		return decodeInto[EmploymentSync](env.Payload)
	case KindGoalSync:
		return decodeInto[GoalSync](env.Payload)
	case KindFreezeSync:
		return decodeInto[FreezeSync](env.Payload)
	case KindPrivateDeposit:
		return decodeInto[PrivateDeposit](env.Payload)
	case KindBatch:
		return decodeInto[Batch](env.Payload)
	case KindRedeemTicket:
		return RedeemTicket{}, nil
	case KindMint:
		return decodeInto[Mint](env.Payload)
	case KindClaimRequirementsSync:
		return decodeInto[ClaimRequirementsSync](env.Payload)
	case KindInvestorAuthSync:
		return decodeInto[InvestorAuthSync](env.Payload)
	case KindInvestorLockupSync:
		return decodeInto[InvestorLockupSync](env.Payload)
	case KindCreateRound:
		return decodeInto[CreateRound](env.Payload)
	case KindRoundAllowlistSync:
		return decodeInto[RoundAllowlistSync](env.Payload)
	case KindOpenRound:
		return decodeInto[OpenRound](env.Payload)
	case KindCloseRound:
		return decodeInto[CloseRound](env.Payload)
	case KindMarkSettled:
		return decodeInto[MarkSettled](env.Payload)
	case KindRefundPurchase:
		return decodeInto[RefundPurchase](env.Payload)
	case KindTokenComplianceSync:
		return decodeInto[TokenComplianceSync](env.Payload)
	default:
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown action type %d", env.Type)
	}
}

func decodeInto[T Action](payload json.RawMessage) (Action, error) {
	var action T
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&action); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "malformed action payload")
	}
	return action, nil
}

// Encode wraps an action in its wire envelope.
func Encode(action Action) (Envelope, error) {
	payload, err := json.Marshal(action)
	if err != nil {
		return Envelope{}, dErrors.Wrap(err, dErrors.CodeValidation, "encode action payload")
	}
	return Envelope{Type: uint8(action.kind()), Payload: payload}, nil
}

// EncodeBatch builds a batch envelope from sub-actions, each encoded as
// a fully-tagged envelope of its own.
func EncodeBatch(actions ...Action) (Envelope, error) {
	items := make([]Envelope, 0, len(actions))
	for _, action := range actions {
		env, err := Encode(action)
		if err != nil {
			return Envelope{}, err
		}
		items = append(items, env)
	}
	return Encode(Batch{Items: items})
}
