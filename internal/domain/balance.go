package domain

// Balance is the per-account asset position. FrozenReserve never
// exceeds Total; the difference is the spendable amount.
type Balance struct {
	Total         uint64
	FrozenReserve uint64
}

// Spendable returns the amount available for outbound transfers.
func (b Balance) Spendable() uint64 {
	if b.FrozenReserve > b.Total {
		// The reserve invariant makes this unreachable; guard anyway so a
		// corrupted snapshot cannot underflow.
		return 0
	}
	return b.Total - b.FrozenReserve
}
