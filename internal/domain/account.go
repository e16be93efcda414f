package domain

import dErrors "custodia/pkg/domain-errors"

// Account is an opaque account address. The zero value doubles as the
// mint/burn sentinel for policy decisions: issuance is a transfer from
// the zero account, redemption a transfer to it.
type Account string

// ZeroAccount is the mint/burn sentinel.
const ZeroAccount Account = ""

// IsZero reports whether the account is the mint/burn sentinel.
func (a Account) IsZero() bool { return a == ZeroAccount }

// ParseAccount validates an externally supplied account address.
func ParseAccount(raw string) (Account, error) {
	if raw == "" {
		return ZeroAccount, dErrors.New(dErrors.CodeValidation, "account must not be empty")
	}
	return Account(raw), nil
}

// Actor is the capability under which an operation is submitted. It is
// an explicit value threaded through every call rather than re-derived
// from ambient caller identity.
type Actor string

const (
	ActorAdministrator Actor = "administrator"
	ActorAgent         Actor = "agent"
	ActorOracle        Actor = "oracle"
	ActorAnonymous     Actor = "anonymous"
)

// ParseActor maps a role claim onto an actor, defaulting to anonymous
// for anything unrecognized so unknown roles never gain capabilities.
func ParseActor(raw string) Actor {
	switch Actor(raw) {
	case ActorAdministrator, ActorAgent, ActorOracle:
		return Actor(raw)
	default:
		return ActorAnonymous
	}
}

// SafeAdd adds two amounts, failing on overflow instead of wrapping.
func SafeAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, dErrors.New(dErrors.CodeValidation, "amount overflow")
	}
	return sum, nil
}
