package dispatch

import (
	"context"

	"custodia/internal/domain"
	"custodia/internal/events"
	dErrors "custodia/pkg/domain-errors"
)

// Service-surface operations: market purchases and the administrator's
// ledger controls have no wire action type, but they still run under
// the dispatcher's mutex so every state transition in the system is
// totally ordered, and under the same snapshot discipline so a rail
// failure mid-purchase leaves nothing behind.

// BuyRound escrows payment currency against a round on behalf of an
// authenticated buyer and records a pending purchase.
func (d *Dispatcher) BuyRound(ctx context.Context, buyer domain.Account, roundID, amount uint64, recipientCommitment []byte) (domain.Purchase, error) {
	if buyer.IsZero() {
		return domain.Purchase{}, dErrors.New(dErrors.CodePermissionDenied, "purchase requires an authenticated buyer")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.capture()
	purchase, err := d.market.BuyRound(ctx, buyer, roundID, amount, recipientCommitment)
	if err != nil {
		d.restore(snap)
		return domain.Purchase{}, err
	}

	if d.metrics != nil {
		d.metrics.IncrementPurchasesCreated()
	}
	d.emit(ctx, events.EventPurchaseCreated, formatID(purchase.ID), purchaseEvent(purchase))
	return purchase, nil
}

// RefundAsBuyer is the buyer's unilateral exit after the settlement
// timeout. Ownership and timing checks live in the market.
func (d *Dispatcher) RefundAsBuyer(ctx context.Context, buyer domain.Account, purchaseID uint64) (domain.Purchase, error) {
	if buyer.IsZero() {
		return domain.Purchase{}, dErrors.New(dErrors.CodePermissionDenied, "refund requires an authenticated buyer")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.capture()
	purchase, err := d.market.RefundPurchase(ctx, buyer, purchaseID)
	if err != nil {
		d.restore(snap)
		return domain.Purchase{}, err
	}
	if err := d.market.FlushRail(ctx); err != nil {
		d.restore(snap)
		return domain.Purchase{}, err
	}

	d.emit(ctx, events.EventPurchaseRefunded, formatID(purchase.ID), purchaseEvent(purchase))
	return purchase, nil
}

// CancelRound terminally cancels a round. Administrator only.
func (d *Dispatcher) CancelRound(ctx context.Context, actor domain.Actor, roundID uint64) error {
	if actor != domain.ActorAdministrator {
		return dErrors.New(dErrors.CodePermissionDenied, "round cancellation requires the administrator")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.capture()
	if err := d.market.CancelRound(roundID); err != nil {
		d.restore(snap)
		return err
	}

	d.emit(ctx, events.EventRoundCancelled, formatID(roundID), struct {
		RoundID uint64 `json:"roundId"`
	}{RoundID: roundID})
	return nil
}

// Pause blocks all ledger transfers. Administrator only.
func (d *Dispatcher) Pause(ctx context.Context, actor domain.Actor) error {
	if actor != domain.ActorAdministrator {
		return dErrors.New(dErrors.CodePermissionDenied, "pausing the ledger requires the administrator")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.ledger.Pause()
	d.emit(ctx, events.EventLedgerPaused, "ledger", nil)
	return nil
}

// Unpause lifts the pause. Administrator only.
func (d *Dispatcher) Unpause(ctx context.Context, actor domain.Actor) error {
	if actor != domain.ActorAdministrator {
		return dErrors.New(dErrors.CodePermissionDenied, "unpausing the ledger requires the administrator")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.ledger.Unpause()
	d.emit(ctx, events.EventLedgerUnpaused, "ledger", nil)
	return nil
}

// Transfer moves balance out of the authenticated holder's account,
// subject to the full policy and precondition chain.
func (d *Dispatcher) Transfer(ctx context.Context, from, to domain.Account, amount uint64) error {
	if from.IsZero() {
		return dErrors.New(dErrors.CodePermissionDenied, "transfer requires an authenticated holder")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.capture()
	if err := d.ledger.Transfer(from, to, amount); err != nil {
		d.restore(snap)
		return err
	}

	d.emit(ctx, events.EventTransfer, string(from), struct {
		From   string `json:"from"`
		To     string `json:"to"`
		Amount uint64 `json:"amount"`
	}{From: string(from), To: string(to), Amount: amount})
	return nil
}

// Burn redeems balance out of the authenticated holder's account.
func (d *Dispatcher) Burn(ctx context.Context, from domain.Account, amount uint64) error {
	if from.IsZero() {
		return dErrors.New(dErrors.CodePermissionDenied, "redemption requires an authenticated holder")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.capture()
	if err := d.ledger.Burn(from, amount); err != nil {
		d.restore(snap)
		return err
	}

	d.emit(ctx, events.EventBurn, string(from), struct {
		From   string `json:"from"`
		Amount uint64 `json:"amount"`
	}{From: string(from), Amount: amount})
	return nil
}

// FreezePartial adds to an account's frozen reserve. Administrator only.
func (d *Dispatcher) FreezePartial(ctx context.Context, actor domain.Actor, account domain.Account, amount uint64) error {
	if actor != domain.ActorAdministrator {
		return dErrors.New(dErrors.CodePermissionDenied, "partial freeze requires the administrator")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ledger.FreezePartial(account, amount); err != nil {
		return err
	}
	d.emit(ctx, events.EventPartialFreeze, string(account), reserveEvent(account, amount))
	return nil
}

// UnfreezePartial releases frozen reserve. Administrator only.
func (d *Dispatcher) UnfreezePartial(ctx context.Context, actor domain.Actor, account domain.Account, amount uint64) error {
	if actor != domain.ActorAdministrator {
		return dErrors.New(dErrors.CodePermissionDenied, "partial unfreeze requires the administrator")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.ledger.UnfreezePartial(account, amount)
	d.emit(ctx, events.EventPartialUnfreeze, string(account), reserveEvent(account, amount))
	return nil
}

// ForcedTransfer is the administrator's regulatory seizure tool.
func (d *Dispatcher) ForcedTransfer(ctx context.Context, actor domain.Actor, from, to domain.Account, amount uint64) error {
	if actor != domain.ActorAdministrator {
		return dErrors.New(dErrors.CodePermissionDenied, "forced transfer requires the administrator")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.capture()
	if err := d.ledger.ForcedTransfer(from, to, amount); err != nil {
		d.restore(snap)
		return err
	}

	d.emit(ctx, events.EventForcedTransfer, string(from), struct {
		From   string `json:"from"`
		To     string `json:"to"`
		Amount uint64 `json:"amount"`
	}{From: string(from), To: string(to), Amount: amount})
	return nil
}

func (d *Dispatcher) emit(ctx context.Context, name events.Name, key string, payload any) {
	event := events.Event{Name: name, Key: key, Payload: payload}
	if err := d.emitter.Emit(ctx, event); err != nil {
		d.logger.WarnContext(ctx, "event emission failed", "event", name, "error", err)
		return
	}
	if d.metrics != nil {
		d.metrics.IncrementEventsPublished()
	}
}

func reserveEvent(account domain.Account, amount uint64) any {
	return struct {
		Account string `json:"account"`
		Amount  uint64 `json:"amount"`
	}{Account: string(account), Amount: amount}
}

func purchaseEvent(purchase domain.Purchase) any {
	return struct {
		PurchaseID uint64 `json:"purchaseId"`
		RoundID    uint64 `json:"roundId"`
		Buyer      string `json:"buyer"`
		Amount     uint64 `json:"amount"`
		Status     string `json:"status"`
	}{
		PurchaseID: purchase.ID,
		RoundID:    purchase.RoundID,
		Buyer:      string(purchase.Buyer),
		Amount:     purchase.Amount,
		Status:     string(purchase.Status),
	}
}
