package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/domain"
	dErrors "custodia/pkg/domain-errors"
)

const (
	roundID    = uint64(1)
	treasury   = domain.Account("acct-treasury")
	investor   = domain.Account("acct-investor")
	roundCap   = uint64(5_000_000)
	unitPrice  = uint64(1_000_000)
	settleWait = 72 * time.Hour
)

type allowAllVerifier struct{}

func (allowAllVerifier) IsVerified(domain.Account) bool { return true }

type staticPolicy map[domain.Account]domain.PolicyRecord

func (p staticPolicy) Record(account domain.Account) domain.PolicyRecord { return p[account] }

type MarketSuite struct {
	suite.Suite
	ctx    context.Context
	now    time.Time
	rail   *MemoryRail
	policy staticPolicy
	market *Market
}

func TestMarketSuite(t *testing.T) {
	suite.Run(t, new(MarketSuite))
}

func (s *MarketSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.rail = NewMemoryRail()
	s.policy = staticPolicy{investor: {Account: investor, Authorized: true}}
	s.market = New(Config{
		Rail:              s.rail,
		Verifier:          allowAllVerifier{},
		Policy:            s.policy,
		Treasury:          treasury,
		SettlementTimeout: settleWait,
		Clock:             func() time.Time { return s.now },
	})
	s.rail.Deposit(investor, 10_000_000)
}

// openRound creates and opens the standard test round with the investor
// allowlisted at 2,000,000.
func (s *MarketSuite) openRound() {
	s.Require().NoError(s.market.CreateRound(roundID, s.now, s.now.Add(time.Hour), unitPrice, roundCap))
	s.Require().NoError(s.market.OpenRound(roundID))
	s.Require().NoError(s.market.SetAllowlist(roundID, investor, 2_000_000))
}

// requireRoundInvariant checks soldTotal == sum of non-refunded
// purchase amounts and soldTotal <= capTotal.
func (s *MarketSuite) requireRoundInvariant(id uint64) {
	round, ok := s.market.Round(id)
	s.Require().True(ok)
	s.Require().LessOrEqual(round.SoldTotal, round.CapTotal)

	var sum uint64
	for pid := uint64(1); pid < s.market.nextPurchaseID; pid++ {
		p, ok := s.market.Purchase(pid)
		if ok && p.RoundID == id && p.Status != domain.PurchaseRefunded {
			sum += p.Amount
		}
	}
	s.Require().Equal(sum, round.SoldTotal)
}

func (s *MarketSuite) TestCreateRound() {
	s.Run("rejects zero price or cap", func() {
		err := s.market.CreateRound(7, s.now, s.now.Add(time.Hour), 0, roundCap)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		err = s.market.CreateRound(7, s.now, s.now.Add(time.Hour), unitPrice, 0)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects inverted window", func() {
		err := s.market.CreateRound(7, s.now.Add(time.Hour), s.now, unitPrice, roundCap)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("round ids are never reused", func() {
		s.Require().NoError(s.market.CreateRound(8, s.now, s.now.Add(time.Hour), unitPrice, roundCap))
		s.Require().NoError(s.market.CancelRound(8))
		err := s.market.CreateRound(8, s.now, s.now.Add(time.Hour), unitPrice, roundCap)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *MarketSuite) TestRoundLifecycle() {
	s.Require().NoError(s.market.CreateRound(roundID, s.now, s.now.Add(time.Hour), unitPrice, roundCap))

	s.Run("draft cannot be closed", func() {
		err := s.market.CloseRound(roundID)
		s.True(dErrors.HasCode(err, dErrors.CodePreconditionFailed))
	})

	s.Run("open then close then reopen", func() {
		s.Require().NoError(s.market.OpenRound(roundID))
		s.Require().NoError(s.market.CloseRound(roundID))
		s.Require().NoError(s.market.OpenRound(roundID))
		round, _ := s.market.Round(roundID)
		s.Equal(domain.RoundOpen, round.Status)
	})

	s.Run("cancel is terminal", func() {
		s.Require().NoError(s.market.CancelRound(roundID))
		err := s.market.OpenRound(roundID)
		s.True(dErrors.HasCode(err, dErrors.CodePreconditionFailed))
		err = s.market.CancelRound(roundID)
		s.True(dErrors.HasCode(err, dErrors.CodePreconditionFailed))
	})
}

func (s *MarketSuite) TestBuyAndSettle() {
	s.openRound()

	purchase, err := s.market.BuyRound(s.ctx, investor, roundID, 1_000_000, []byte("rail-recipient"))
	s.Require().NoError(err)
	s.Equal(domain.PurchasePending, purchase.Status)
	s.Equal(uint64(1), purchase.ID)
	s.NotEmpty(purchase.RecipientCommitment)

	round, _ := s.market.Round(roundID)
	s.Equal(uint64(1_000_000), round.SoldTotal)
	s.Equal(uint64(1_000_000), s.rail.Custody())
	s.requireRoundInvariant(roundID)

	settled, err := s.market.MarkPurchaseSettled(s.ctx, purchase.ID, "settle-ref-1")
	s.Require().NoError(err)
	s.Equal(domain.PurchaseSettled, settled.Status)
	s.Equal("settle-ref-1", settled.SettlementRef)

	// The release is staged until the transaction commits.
	s.Equal(uint64(0), s.rail.Balance(treasury))
	s.Require().NoError(s.market.FlushRail(s.ctx))

	// Settlement releases escrow to the treasury; soldTotal is unchanged.
	s.Equal(uint64(1_000_000), s.rail.Balance(treasury))
	s.Equal(uint64(0), s.rail.Custody())
	round, _ = s.market.Round(roundID)
	s.Equal(uint64(1_000_000), round.SoldTotal)
	s.requireRoundInvariant(roundID)
}

func (s *MarketSuite) TestInvestorCap() {
	s.openRound()

	_, err := s.market.BuyRound(s.ctx, investor, roundID, 1_000_000, nil)
	s.Require().NoError(err)

	// 1,000,000 + 1,500,001 > 2,000,000 cap.
	_, err = s.market.BuyRound(s.ctx, investor, roundID, 1_500_001, nil)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvestorCapExceeded))

	round, _ := s.market.Round(roundID)
	s.Equal(uint64(1_000_000), round.SoldTotal)
	s.Equal(uint64(1_000_000), s.market.Contributed(roundID, investor))
	s.requireRoundInvariant(roundID)
}

func (s *MarketSuite) TestRoundCap() {
	s.openRound()
	s.Require().NoError(s.market.SetAllowlist(roundID, investor, roundCap+1_000_000))
	s.rail.Deposit(investor, roundCap)

	_, err := s.market.BuyRound(s.ctx, investor, roundID, roundCap, nil)
	s.Require().NoError(err)

	_, err = s.market.BuyRound(s.ctx, investor, roundID, 1, nil)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeRoundCapExceeded))
	s.requireRoundInvariant(roundID)
}

func (s *MarketSuite) TestBuyRejections() {
	s.openRound()

	s.Run("zero allowlist cap means not permitted", func() {
		other := domain.Account("acct-other")
		s.policy[other] = domain.PolicyRecord{Account: other, Authorized: true}
		s.rail.Deposit(other, 1_000_000)
		_, err := s.market.BuyRound(s.ctx, other, roundID, 100, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeInvestorCapExceeded))
	})

	s.Run("unauthorized buyer is policy denied", func() {
		stranger := domain.Account("acct-stranger")
		s.Require().NoError(s.market.SetAllowlist(roundID, stranger, 1_000_000))
		s.rail.Deposit(stranger, 1_000_000)
		_, err := s.market.BuyRound(s.ctx, stranger, roundID, 100, nil)
		s.True(dErrors.HasCode(err, dErrors.CodePolicyDenied))
	})

	s.Run("closed round rejects purchases", func() {
		s.Require().NoError(s.market.CloseRound(roundID))
		_, err := s.market.BuyRound(s.ctx, investor, roundID, 100, nil)
		s.True(dErrors.HasCode(err, dErrors.CodePreconditionFailed))
		s.Require().NoError(s.market.OpenRound(roundID))
	})

	s.Run("purchase outside the time window rejected", func() {
		s.now = s.now.Add(2 * time.Hour)
		_, err := s.market.BuyRound(s.ctx, investor, roundID, 100, nil)
		s.True(dErrors.HasCode(err, dErrors.CodePreconditionFailed))
	})
}

func (s *MarketSuite) TestEscrowFailureLeavesNoTrace() {
	s.openRound()

	// More than the investor's payment balance: the pull fails.
	s.Require().NoError(s.market.SetAllowlist(roundID, investor, roundCap))
	_, err := s.market.BuyRound(s.ctx, investor, roundID, 20_000_000, nil)
	s.Require().Error(err)

	round, _ := s.market.Round(roundID)
	s.Equal(uint64(0), round.SoldTotal)
	s.Equal(uint64(0), s.market.Contributed(roundID, investor))
	_, ok := s.market.Purchase(1)
	s.False(ok)
}

func (s *MarketSuite) TestRefundTimeout() {
	s.openRound()
	purchase, err := s.market.BuyRound(s.ctx, investor, roundID, 1_000_000, nil)
	s.Require().NoError(err)
	balanceAfterBuy := s.rail.Balance(investor)

	s.Run("refund before timeout fails", func() {
		_, err := s.market.RefundPurchase(s.ctx, investor, purchase.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeRefundNotAvailableYet))
	})

	s.Run("refund by non-buyer fails", func() {
		_, err := s.market.RefundPurchase(s.ctx, "acct-other", purchase.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodePermissionDenied))
	})

	s.Run("refund after timeout succeeds", func() {
		s.now = s.now.Add(settleWait)
		refunded, err := s.market.RefundPurchase(s.ctx, investor, purchase.ID)
		s.Require().NoError(err)
		s.Equal(domain.PurchaseRefunded, refunded.Status)
		s.Require().NoError(s.market.FlushRail(s.ctx))

		round, _ := s.market.Round(roundID)
		s.Equal(uint64(0), round.SoldTotal)
		s.Equal(uint64(0), s.market.Contributed(roundID, investor))
		s.Equal(balanceAfterBuy+purchase.Amount, s.rail.Balance(investor))
		s.requireRoundInvariant(roundID)
	})
}

func (s *MarketSuite) TestOracleRefundIsUnconditional() {
	s.openRound()
	purchase, err := s.market.BuyRound(s.ctx, investor, roundID, 500_000, nil)
	s.Require().NoError(err)

	refunded, err := s.market.RefundPurchaseByOracle(s.ctx, purchase.ID)
	s.Require().NoError(err)
	s.Equal(domain.PurchaseRefunded, refunded.Status)
	s.requireRoundInvariant(roundID)
}

func (s *MarketSuite) TestTerminalStatesAreFinal() {
	s.openRound()
	first, err := s.market.BuyRound(s.ctx, investor, roundID, 100_000, nil)
	s.Require().NoError(err)
	second, err := s.market.BuyRound(s.ctx, investor, roundID, 100_000, nil)
	s.Require().NoError(err)

	_, err = s.market.MarkPurchaseSettled(s.ctx, first.ID, "ref-1")
	s.Require().NoError(err)
	_, err = s.market.RefundPurchaseByOracle(s.ctx, second.ID)
	s.Require().NoError(err)

	for _, id := range []uint64{first.ID, second.ID} {
		_, err = s.market.MarkPurchaseSettled(s.ctx, id, "ref-again")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidPurchaseStatus))
		_, err = s.market.RefundPurchaseByOracle(s.ctx, id)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidPurchaseStatus))
		s.now = s.now.Add(settleWait)
		_, err = s.market.RefundPurchase(s.ctx, investor, id)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidPurchaseStatus))
	}
}

// reentrantRail re-enters the market from inside the escrow pull, the
// way a hostile payment token would.
type reentrantRail struct {
	*MemoryRail
	market *Market
	ctx    context.Context
	err    error
}

func (r *reentrantRail) PullEscrow(ctx context.Context, from domain.Account, amount uint64) error {
	_, r.err = r.market.BuyRound(r.ctx, from, roundID, amount, nil)
	return r.MemoryRail.PullEscrow(ctx, from, amount)
}

func (s *MarketSuite) TestReentrantEscrowCallBlocked() {
	s.openRound()
	rail := &reentrantRail{MemoryRail: s.rail, market: s.market, ctx: s.ctx}
	s.market.rail = rail

	_, err := s.market.BuyRound(s.ctx, investor, roundID, 100_000, nil)
	s.Require().NoError(err)

	s.Require().Error(rail.err)
	s.True(dErrors.HasCode(rail.err, dErrors.CodeConflict))

	// Only the outer purchase exists.
	_, ok := s.market.Purchase(1)
	s.True(ok)
	_, ok = s.market.Purchase(2)
	s.False(ok)
	s.requireRoundInvariant(roundID)
}

func (s *MarketSuite) TestRestoreDiscardsStagedReleases() {
	s.openRound()
	purchase, err := s.market.BuyRound(s.ctx, investor, roundID, 1_000_000, nil)
	s.Require().NoError(err)

	snap := s.market.Snapshot()
	_, err = s.market.MarkPurchaseSettled(s.ctx, purchase.ID, "settle-ref-1")
	s.Require().NoError(err)
	s.market.Restore(snap)

	// The rolled-back settlement must not pay out.
	s.Require().NoError(s.market.FlushRail(s.ctx))
	s.Equal(uint64(0), s.rail.Balance(treasury))
	s.Equal(uint64(1_000_000), s.rail.Custody())

	pending, ok := s.market.Purchase(purchase.ID)
	s.Require().True(ok)
	s.Equal(domain.PurchasePending, pending.Status)

	// Settling again after the restore releases escrow exactly once.
	_, err = s.market.MarkPurchaseSettled(s.ctx, purchase.ID, "settle-ref-2")
	s.Require().NoError(err)
	s.Require().NoError(s.market.FlushRail(s.ctx))
	s.Equal(uint64(1_000_000), s.rail.Balance(treasury))
	s.Equal(uint64(0), s.rail.Custody())
}

func (s *MarketSuite) TestSnapshotRestore() {
	s.openRound()
	snap := s.market.Snapshot()

	_, err := s.market.BuyRound(s.ctx, investor, roundID, 100_000, nil)
	s.Require().NoError(err)

	s.market.Restore(snap)
	round, _ := s.market.Round(roundID)
	s.Equal(uint64(0), round.SoldTotal)
	_, ok := s.market.Purchase(1)
	s.False(ok)
	s.Equal(uint64(0), s.market.Contributed(roundID, investor))
}
