package domain

// IdentityRecord links an account to an opaque identity reference and a
// numeric jurisdiction code. An account is verified iff it has a record
// with a non-empty identity reference.
type IdentityRecord struct {
	Account      Account
	IdentityRef  string
	Jurisdiction uint16
}

// Verified reports whether this record makes its account verified.
func (r IdentityRecord) Verified() bool { return r.IdentityRef != "" }
