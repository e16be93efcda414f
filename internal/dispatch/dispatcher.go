package dispatch

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"custodia/internal/domain"
	"custodia/internal/eligibility"
	"custodia/internal/events"
	"custodia/internal/identity"
	"custodia/internal/ledger"
	"custodia/internal/market"
	"custodia/internal/policy"
	dErrors "custodia/pkg/domain-errors"
)

// Emitter receives one event per committed operation. The events
// publisher satisfies this.
type Emitter interface {
	Emit(ctx context.Context, event events.Event) error
}

// Metrics is the slice of the metrics registry the dispatcher reports
// into.
type Metrics interface {
	ActionDispatched(kind, outcome string)
	IncrementPurchasesCreated()
	IncrementEventsPublished()
}

// Config carries the dispatcher's collaborators.
type Config struct {
	Directory *identity.Directory
	Policy    *policy.Engine
	Ledger    *ledger.Ledger
	Gate      *eligibility.Gate
	Market    *market.Market

	Emitter Emitter
	Metrics Metrics
	Logger  *slog.Logger

	// PrivacyCustody receives private-deposit balances on behalf of the
	// external privacy rail.
	PrivacyCustody domain.Account
}

// Dispatcher serializes every state transition under one mutex and
// applies it all-or-nothing: all five components are snapshotted before
// routing and restored on any failure, so a batch that fails on its
// last item leaves no trace of the earlier ones. Events are buffered
// during the transaction and emitted only on commit, and escrow
// releases staged by the market are flushed to the payment rail the
// same way, so an aborted batch never pays out.
type Dispatcher struct {
	mu sync.Mutex

	directory *identity.Directory
	policy    *policy.Engine
	ledger    *ledger.Ledger
	gate      *eligibility.Gate
	market    *market.Market

	emitter Emitter
	metrics Metrics
	logger  *slog.Logger
	tracer  trace.Tracer

	privacyCustody domain.Account
}

func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		directory:      cfg.Directory,
		policy:         cfg.Policy,
		ledger:         cfg.Ledger,
		gate:           cfg.Gate,
		market:         cfg.Market,
		emitter:        cfg.Emitter,
		metrics:        cfg.Metrics,
		logger:         logger,
		tracer:         otel.Tracer("custodia/internal/dispatch"),
		privacyCustody: cfg.PrivacyCustody,
	}
}

type snapshot struct {
	directory identity.Snapshot
	policy    policy.Snapshot
	ledger    ledger.Snapshot
	gate      eligibility.Snapshot
	market    market.Snapshot
}

func (d *Dispatcher) capture() snapshot {
	return snapshot{
		directory: d.directory.Snapshot(),
		policy:    d.policy.Snapshot(),
		ledger:    d.ledger.Snapshot(),
		gate:      d.gate.Snapshot(),
		market:    d.market.Snapshot(),
	}
}

func (d *Dispatcher) restore(snap snapshot) {
	d.directory.Restore(snap.directory)
	d.policy.Restore(snap.policy)
	d.ledger.Restore(snap.ledger)
	d.gate.Restore(snap.gate)
	d.market.Restore(snap.market)
}

// Dispatch decodes and applies one wire action under the submitting
// actor's capability. Origin is the authenticated account behind the
// submission, or the zero account for anonymous callers.
func (d *Dispatcher) Dispatch(ctx context.Context, actor domain.Actor, origin domain.Account, env Envelope) error {
	ctx, span := d.tracer.Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.Int("action.type", int(env.Type)),
			attribute.String("action.kind", Kind(env.Type).String()),
			attribute.String("actor", string(actor)),
		))
	defer span.End()

	action, err := Decode(env)
	if err != nil {
		d.finish(ctx, span, Kind(env.Type), actor, err)
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.capture()
	var buffered []events.Event
	if err := d.apply(ctx, actor, origin, action, &buffered); err != nil {
		d.restore(snap)
		d.finish(ctx, span, action.kind(), actor, err)
		return err
	}
	if err := d.market.FlushRail(ctx); err != nil {
		d.restore(snap)
		d.finish(ctx, span, action.kind(), actor, err)
		return err
	}

	for _, event := range buffered {
		if err := d.emitter.Emit(ctx, event); err != nil {
			d.logger.WarnContext(ctx, "event emission failed", "event", event.Name, "error", err)
			continue
		}
		if d.metrics != nil {
			d.metrics.IncrementEventsPublished()
		}
	}
	d.finish(ctx, span, action.kind(), actor, nil)
	return nil
}

func (d *Dispatcher) finish(ctx context.Context, span trace.Span, kind Kind, actor domain.Actor, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(dErrors.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, outcome)
		d.logger.WarnContext(ctx, "action rejected", "kind", kind.String(), "actor", actor, "error", err)
	} else {
		d.logger.InfoContext(ctx, "action dispatched", "kind", kind.String(), "actor", actor)
	}
	if d.metrics != nil {
		d.metrics.ActionDispatched(kind.String(), outcome)
	}
}

// apply routes a decoded action. Callers hold d.mu; failures are
// unwound by the caller's snapshot restore, so each arm mutates freely.
func (d *Dispatcher) apply(ctx context.Context, actor domain.Actor, origin domain.Account, action Action, buffered *[]events.Event) error {
	if err := checkCapability(action.kind(), actor); err != nil {
		return err
	}

	switch a := action.(type) {
	case IdentitySync:
		account, err := domain.ParseAccount(a.Account)
		if err != nil {
			return err
		}
		if a.Verified {
			if err := d.directory.Register(account, a.IdentityRef, a.Jurisdiction); err != nil {
				return err
			}
		} else if d.directory.IsVerified(account) {
			if err := d.directory.Remove(account); err != nil {
				return err
			}
		}
		d.buffer(buffered, events.EventIdentitySync, a.Account, a)
		return nil

	case EmploymentSync:
		account, err := domain.ParseAccount(a.Account)
		if err != nil {
			return err
		}
		d.gate.SetEmployment(account, a.Employed)
		d.refreshFreeze(account)
		d.buffer(buffered, events.EventEmploymentSync, a.Account, a)
		return nil

	case GoalSync:
		if a.GoalRef == "" {
			return dErrors.New(dErrors.CodeValidation, "goal reference must not be empty")
		}
		d.gate.SetGoalAchieved(a.GoalRef, a.Achieved)
		if a.AccountHint != "" {
			hint, err := domain.ParseAccount(a.AccountHint)
			if err != nil {
				return err
			}
			d.refreshFreeze(hint)
		} else {
			for _, account := range d.gate.AccountsRequiringGoal(a.GoalRef) {
				d.refreshFreeze(account)
			}
		}
		d.buffer(buffered, events.EventGoalSync, a.GoalRef, a)
		return nil

	case FreezeSync:
		account, err := domain.ParseAccount(a.Account)
		if err != nil {
			return err
		}
		d.ledger.SetFrozen(account, a.Frozen)
		d.buffer(buffered, events.EventFreezeSync, a.Account, a)
		return nil

	case PrivateDeposit:
		if origin.IsZero() {
			return dErrors.New(dErrors.CodePermissionDenied, "private deposit requires an authenticated origin account")
		}
		if err := d.ledger.Transfer(origin, d.privacyCustody, a.Amount); err != nil {
			return err
		}
		d.buffer(buffered, events.EventPrivateDeposit, string(origin), a)
		return nil

	case Batch:
		for _, item := range a.Items {
			sub, err := Decode(item)
			if err != nil {
				return err
			}
			if err := d.apply(ctx, actor, origin, sub, buffered); err != nil {
				return err
			}
		}
		d.buffer(buffered, events.EventBatch, string(actor), struct {
			Items int `json:"items"`
		}{Items: len(a.Items)})
		return nil

	case RedeemTicket:
		return dErrors.New(dErrors.CodeActionDisabled, "ticket redemption is closed; redeem through the privacy rail")

	case Mint:
		to, err := domain.ParseAccount(a.To)
		if err != nil {
			return err
		}
		if err := d.ledger.Mint(to, a.Amount); err != nil {
			return err
		}
		d.buffer(buffered, events.EventMint, a.To, a)
		return nil

	case ClaimRequirementsSync:
		account, err := domain.ParseAccount(a.Account)
		if err != nil {
			return err
		}
		d.gate.SetRequirements(account, time.Unix(a.CliffEnd, 0).UTC(), a.GoalRef, a.GoalRequired)
		d.refreshFreeze(account)
		d.buffer(buffered, events.EventClaimRequirementsSync, a.Account, a)
		return nil

	case InvestorAuthSync:
		investor, err := domain.ParseAccount(a.Investor)
		if err != nil {
			return err
		}
		d.policy.SetAuthorized(investor, a.Authorized)
		d.buffer(buffered, events.EventInvestorAuthSync, a.Investor, a)
		return nil

	case InvestorLockupSync:
		investor, err := domain.ParseAccount(a.Investor)
		if err != nil {
			return err
		}
		d.policy.SetLockup(investor, time.Unix(a.LockupUntil, 0).UTC())
		d.buffer(buffered, events.EventInvestorLockupSync, a.Investor, a)
		return nil

	case CreateRound:
		err := d.market.CreateRound(a.RoundID,
			time.Unix(a.StartTime, 0).UTC(), time.Unix(a.EndTime, 0).UTC(),
			a.Price, a.Cap)
		if err != nil {
			return err
		}
		d.buffer(buffered, events.EventCreateRound, formatID(a.RoundID), a)
		return nil

	case RoundAllowlistSync:
		investor, err := domain.ParseAccount(a.Investor)
		if err != nil {
			return err
		}
		if err := d.market.SetAllowlist(a.RoundID, investor, a.Cap); err != nil {
			return err
		}
		d.buffer(buffered, events.EventRoundAllowlistSync, formatID(a.RoundID), a)
		return nil

	case OpenRound:
		if err := d.market.OpenRound(a.RoundID); err != nil {
			return err
		}
		d.buffer(buffered, events.EventOpenRound, formatID(a.RoundID), a)
		return nil

	case CloseRound:
		if err := d.market.CloseRound(a.RoundID); err != nil {
			return err
		}
		d.buffer(buffered, events.EventCloseRound, formatID(a.RoundID), a)
		return nil

	case MarkSettled:
		if _, err := d.market.MarkPurchaseSettled(ctx, a.PurchaseID, a.SettlementRef); err != nil {
			return err
		}
		d.buffer(buffered, events.EventMarkSettled, formatID(a.PurchaseID), a)
		return nil

	case RefundPurchase:
		if _, err := d.market.RefundPurchaseByOracle(ctx, a.PurchaseID); err != nil {
			return err
		}
		d.buffer(buffered, events.EventRefundPurchase, formatID(a.PurchaseID), a)
		return nil

	case TokenComplianceSync:
		if a.NewPolicyEngine == "" {
			return dErrors.New(dErrors.CodeValidation, "policy engine reference must not be empty")
		}
		d.ledger.SetComplianceRef(a.NewPolicyEngine)
		d.buffer(buffered, events.EventTokenComplianceSync, a.NewPolicyEngine, a)
		return nil

	default:
		return dErrors.Newf(dErrors.CodeValidation, "unhandled action kind %s", action.kind())
	}
}

// refreshFreeze pushes the eligibility-derived frozen flag into the
// ledger for one account.
func (d *Dispatcher) refreshFreeze(account domain.Account) {
	d.ledger.SetFrozen(account, !d.gate.IsEligible(account))
}

func (d *Dispatcher) buffer(buffered *[]events.Event, name events.Name, key string, payload any) {
	*buffered = append(*buffered, events.Event{Name: name, Key: key, Payload: payload})
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
