package domain

import "time"

// PolicyRecord carries the per-account authorization state consulted on
// every transfer. The zero record (unauthorized, no lockup, untrusted)
// is the default for accounts never touched by an administrator.
type PolicyRecord struct {
	Account     Account
	Authorized  bool
	LockupUntil time.Time
	Trusted     bool
}

// InLockup reports whether the account's lockup window is still open at now.
func (r PolicyRecord) InLockup(now time.Time) bool {
	return now.Before(r.LockupUntil)
}
