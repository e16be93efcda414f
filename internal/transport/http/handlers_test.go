package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/dispatch"
	"custodia/internal/domain"
	"custodia/internal/eligibility"
	"custodia/internal/events"
	"custodia/internal/idempotency"
	"custodia/internal/identity"
	"custodia/internal/ledger"
	"custodia/internal/market"
	"custodia/internal/policy"
	"custodia/internal/token"
)

const (
	treasury = domain.Account("acct-treasury")
	custody  = domain.Account("acct-privacy-custody")
	investor = domain.Account("acct-investor")
)

type nullEmitter struct{}

func (nullEmitter) Emit(context.Context, events.Event) error { return nil }

type RouterSuite struct {
	suite.Suite
	directory *identity.Directory
	engine    *policy.Engine
	ledger    *ledger.Ledger
	rail      *market.MemoryRail
	market    *market.Market
	tokens    *token.Service
	handler   http.Handler
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.directory = identity.NewDirectory()
	s.engine = policy.NewEngine(s.directory, nil)
	s.ledger = ledger.New(s.engine, s.directory)
	gate := eligibility.NewGate(nil)
	s.rail = market.NewMemoryRail()
	s.market = market.New(market.Config{
		Rail:              s.rail,
		Verifier:          s.directory,
		Policy:            s.engine,
		Treasury:          treasury,
		SettlementTimeout: 168 * time.Hour,
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := dispatch.New(dispatch.Config{
		Directory:      s.directory,
		Policy:         s.engine,
		Ledger:         s.ledger,
		Gate:           gate,
		Market:         s.market,
		Emitter:        nullEmitter{},
		Logger:         logger,
		PrivacyCustody: custody,
	})
	s.tokens = token.NewService("test-signing-key", "custodia", "custodia-api")
	s.handler = NewRouter(RouterConfig{
		Dispatcher:     dispatcher,
		Directory:      s.directory,
		Policy:         s.engine,
		Ledger:         s.ledger,
		Market:         s.market,
		Idempotency:    idempotency.NewMemoryStore(nil),
		IdempotencyTTL: time.Hour,
		Validator:      s.tokens,
		Logger:         logger,
	})
}

func (s *RouterSuite) bearer(role, account string) string {
	signed, err := s.tokens.GenerateAccessToken(role, account, time.Hour)
	s.Require().NoError(err)
	return "Bearer " + signed
}

func (s *RouterSuite) request(method, target, auth string, body any, header map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) postAction(auth string, action dispatch.Action, header map[string]string) *httptest.ResponseRecorder {
	env, err := dispatch.Encode(action)
	s.Require().NoError(err)
	return s.request(http.MethodPost, "/v1/actions", auth, env, header)
}

// adminSetup registers and authorizes the investor through the action
// surface, exactly as an operator would.
func (s *RouterSuite) adminSetup() {
	admin := s.bearer("administrator", "acct-admin")
	rec := s.postAction(admin, dispatch.IdentitySync{
		Account: string(investor), Verified: true, IdentityRef: "kyc-1",
	}, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	rec = s.postAction(admin, dispatch.InvestorAuthSync{
		Investor: string(investor), Authorized: true,
	}, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
}

func (s *RouterSuite) TestDispatchAndQueryAccount() {
	s.adminSetup()

	rec := s.request(http.MethodGet, "/v1/accounts/"+string(investor), "", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var view accountView
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &view))
	s.True(view.Verified)
	s.True(view.Policy.Authorized)
	s.False(view.Frozen)
}

func (s *RouterSuite) TestAnonymousDispatchIsDenied() {
	rec := s.postAction("", dispatch.IdentitySync{
		Account: string(investor), Verified: true, IdentityRef: "kyc-1",
	}, nil)
	s.Equal(http.StatusForbidden, rec.Code)

	var body errorBody
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("permission_denied", body.Error)
}

func (s *RouterSuite) TestInvalidTokenRejected() {
	rec := s.postAction("Bearer not-a-token", dispatch.IdentitySync{
		Account: string(investor), Verified: true, IdentityRef: "kyc-1",
	}, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *RouterSuite) TestIdempotentMintReplays() {
	s.adminSetup()
	admin := s.bearer("administrator", "acct-admin")
	header := map[string]string{"Idempotency-Key": "mint-1"}

	first := s.postAction(admin, dispatch.Mint{To: string(investor), Amount: 1000}, header)
	s.Require().Equal(http.StatusOK, first.Code)

	second := s.postAction(admin, dispatch.Mint{To: string(investor), Amount: 1000}, header)
	s.Require().Equal(http.StatusOK, second.Code)
	s.Equal("true", second.Header().Get("Idempotency-Replayed"))
	s.JSONEq(first.Body.String(), second.Body.String())

	s.Equal(uint64(1000), s.ledger.Balance(investor).Total)
}

func (s *RouterSuite) TestPurchaseFlow() {
	s.adminSetup()
	admin := s.bearer("administrator", "acct-admin")
	now := time.Now()

	rec := s.postAction(admin, dispatch.CreateRound{
		RoundID:   1,
		StartTime: now.Add(-time.Hour).Unix(),
		EndTime:   now.Add(time.Hour).Unix(),
		Price:     1_000_000,
		Cap:       5_000_000,
	}, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Require().Equal(http.StatusOK, s.postAction(admin, dispatch.OpenRound{RoundID: 1}, nil).Code)
	s.Require().Equal(http.StatusOK, s.postAction(admin, dispatch.RoundAllowlistSync{
		RoundID: 1, Investor: string(investor), Cap: 2_000_000,
	}, nil).Code)

	s.rail.Deposit(investor, 10_000_000)
	buyer := s.bearer("", string(investor))
	rec = s.request(http.MethodPost, "/v1/rounds/1/purchases", buyer, buyRequest{
		Amount:              1_000_000,
		RecipientCommitment: "recipient-blob",
	}, nil)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var purchase purchaseView
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &purchase))
	s.Equal("pending", purchase.Status)
	s.Equal(uint64(1_000_000), purchase.Amount)

	rec = s.request(http.MethodGet, "/v1/rounds/1", "", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var round roundView
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &round))
	s.Equal(uint64(1_000_000), round.SoldTotal)

	s.Run("refund before timeout is rejected", func() {
		rec := s.request(http.MethodPost, "/v1/purchases/1/refund", buyer, nil, nil)
		s.Equal(http.StatusUnprocessableEntity, rec.Code)
	})

	s.Run("anonymous buy is rejected", func() {
		rec := s.request(http.MethodPost, "/v1/rounds/1/purchases", "", buyRequest{Amount: 1}, nil)
		s.Equal(http.StatusForbidden, rec.Code)
	})
}

func (s *RouterSuite) TestLedgerControls() {
	agent := s.bearer("agent", "acct-agent")
	admin := s.bearer("administrator", "acct-admin")

	rec := s.request(http.MethodPost, "/v1/ledger/pause", agent, nil, nil)
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.request(http.MethodPost, "/v1/ledger/pause", admin, nil, nil)
	s.Require().Equal(http.StatusNoContent, rec.Code)

	rec = s.request(http.MethodGet, "/v1/ledger", "", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var view ledgerView
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &view))
	s.True(view.Paused)

	rec = s.request(http.MethodPost, "/v1/ledger/unpause", admin, nil, nil)
	s.Require().Equal(http.StatusNoContent, rec.Code)
	s.False(s.ledger.Paused())
}

func (s *RouterSuite) TestPartialFreezeControls() {
	s.adminSetup()
	admin := s.bearer("administrator", "acct-admin")
	agent := s.bearer("agent", "acct-agent")

	rec := s.postAction(admin, dispatch.Mint{To: string(investor), Amount: 1000}, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	body := reserveRequest{Account: string(investor), Amount: 700}
	rec = s.request(http.MethodPost, "/v1/ledger/partial-freezes", agent, body, nil)
	s.Equal(http.StatusForbidden, rec.Code)

	rec = s.request(http.MethodPost, "/v1/ledger/partial-freezes", admin, body, nil)
	s.Require().Equal(http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.request(http.MethodGet, "/v1/accounts/"+string(investor), "", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var view accountView
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &view))
	s.Equal(uint64(700), view.Balance.FrozenReserve)
	s.Equal(uint64(300), view.Balance.Spendable)

	rec = s.request(http.MethodPost, "/v1/ledger/partial-unfreezes", admin, body, nil)
	s.Require().Equal(http.StatusNoContent, rec.Code)
	s.Equal(uint64(0), s.ledger.Balance(investor).FrozenReserve)

	s.Run("reserve beyond balance is rejected", func() {
		rec := s.request(http.MethodPost, "/v1/ledger/partial-freezes", admin, reserveRequest{
			Account: string(investor), Amount: 1001,
		}, nil)
		s.Equal(http.StatusUnprocessableEntity, rec.Code)
	})
}

func (s *RouterSuite) TestHolderTransferAndBurn() {
	s.adminSetup()
	admin := s.bearer("administrator", "acct-admin")

	rec := s.postAction(admin, dispatch.IdentitySync{
		Account: "acct-other", Verified: true, IdentityRef: "kyc-2",
	}, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	rec = s.postAction(admin, dispatch.InvestorAuthSync{
		Investor: "acct-other", Authorized: true,
	}, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	rec = s.postAction(admin, dispatch.Mint{To: string(investor), Amount: 1000}, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	holder := s.bearer("", string(investor))
	rec = s.request(http.MethodPost, "/v1/transfers", holder, transferRequest{
		To: "acct-other", Amount: 400,
	}, nil)
	s.Require().Equal(http.StatusNoContent, rec.Code, rec.Body.String())
	s.Equal(uint64(400), s.ledger.Balance("acct-other").Total)
	s.Equal(uint64(600), s.ledger.Balance(investor).Total)

	rec = s.request(http.MethodPost, "/v1/burns", holder, burnRequest{Amount: 100}, nil)
	s.Require().Equal(http.StatusNoContent, rec.Code, rec.Body.String())
	s.Equal(uint64(500), s.ledger.Balance(investor).Total)
	s.Equal(uint64(900), s.ledger.TotalSupply())

	s.Run("anonymous transfer is rejected", func() {
		rec := s.request(http.MethodPost, "/v1/transfers", "", transferRequest{
			To: "acct-other", Amount: 1,
		}, nil)
		s.Equal(http.StatusForbidden, rec.Code)
	})
}

func (s *RouterSuite) TestUnknownRoundIs404() {
	rec := s.request(http.MethodGet, "/v1/rounds/42", "", nil, nil)
	s.Equal(http.StatusNotFound, rec.Code)
}
