// Package identity implements the identity directory: the per-account
// record of who an account belongs to and where, and the single source
// of truth for "is this account verified".
package identity

import (
	"sync"

	"custodia/internal/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Directory owns the identity records. Capability checks happen at the
// dispatch boundary; the directory only enforces record-level rules.
type Directory struct {
	mu      sync.RWMutex
	records map[domain.Account]domain.IdentityRecord
}

func NewDirectory() *Directory {
	return &Directory{records: make(map[domain.Account]domain.IdentityRecord)}
}

// Register creates or overwrites the identity record for an account.
// Re-registering is an idempotent upsert: the reference and jurisdiction
// are replaced, never merged.
func (d *Directory) Register(account domain.Account, identityRef string, jurisdiction uint16) error {
	if account.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "account must not be the zero account")
	}
	if identityRef == "" {
		return dErrors.New(dErrors.CodeValidation, "identity reference must not be empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[account] = domain.IdentityRecord{
		Account:      account,
		IdentityRef:  identityRef,
		Jurisdiction: jurisdiction,
	}
	return nil
}

// Remove deletes the record, clearing verification for the account.
func (d *Directory) Remove(account domain.Account) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.records[account]; !ok {
		return dErrors.Newf(dErrors.CodeNotRegistered, "account %q is not registered", account)
	}
	delete(d.records, account)
	return nil
}

// SetJurisdiction updates the jurisdiction code of an existing record.
func (d *Directory) SetJurisdiction(account domain.Account, jurisdiction uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.records[account]
	if !ok {
		return dErrors.Newf(dErrors.CodeNotRegistered, "account %q is not registered", account)
	}
	rec.Jurisdiction = jurisdiction
	d.records[account] = rec
	return nil
}

// IsVerified reports whether the account holds a record with a
// non-empty identity reference.
func (d *Directory) IsVerified(account domain.Account) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.records[account].Verified()
}

// Record returns the identity record for an account, if any.
func (d *Directory) Record(account domain.Account) (domain.IdentityRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.records[account]
	return rec, ok
}

// Snapshot captures the directory state for all-or-nothing dispatch.
type Snapshot struct {
	records map[domain.Account]domain.IdentityRecord
}

func (d *Directory) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	records := make(map[domain.Account]domain.IdentityRecord, len(d.records))
	for k, v := range d.records {
		records[k] = v
	}
	return Snapshot{records: records}
}

func (d *Directory) Restore(snap Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = snap.records
}
