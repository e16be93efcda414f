package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"custodia/internal/dispatch"
	"custodia/internal/domain"
	"custodia/internal/identity"
	"custodia/internal/ledger"
	"custodia/internal/platform/middleware"
	"custodia/internal/policy"
	dErrors "custodia/pkg/domain-errors"
)

// LedgerHandler exposes the administrator's ledger controls, the
// holder's transfer and redemption surface, and the account/ledger
// query surface.
type LedgerHandler struct {
	dispatcher *dispatch.Dispatcher
	ledger     *ledger.Ledger
	directory  *identity.Directory
	policy     *policy.Engine
}

func NewLedgerHandler(dispatcher *dispatch.Dispatcher, ledger *ledger.Ledger, directory *identity.Directory, policy *policy.Engine) *LedgerHandler {
	return &LedgerHandler{
		dispatcher: dispatcher,
		ledger:     ledger,
		directory:  directory,
		policy:     policy,
	}
}

func (h *LedgerHandler) Register(r chi.Router) {
	r.Post("/v1/ledger/pause", h.handlePause)
	r.Post("/v1/ledger/unpause", h.handleUnpause)
	r.Post("/v1/ledger/forced-transfers", h.handleForcedTransfer)
	r.Post("/v1/ledger/partial-freezes", h.handlePartialFreeze)
	r.Post("/v1/ledger/partial-unfreezes", h.handlePartialUnfreeze)
	r.Post("/v1/transfers", h.handleTransfer)
	r.Post("/v1/burns", h.handleBurn)
	r.Get("/v1/ledger", h.handleGetLedger)
	r.Get("/v1/accounts/{account}", h.handleGetAccount)
}

func (h *LedgerHandler) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.Pause(r.Context(), middleware.GetActor(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LedgerHandler) handleUnpause(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.Unpause(r.Context(), middleware.GetActor(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type forcedTransferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

func (h *LedgerHandler) handleForcedTransfer(w http.ResponseWriter, r *http.Request) {
	var req forcedTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	from, err := domain.ParseAccount(req.From)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := domain.ParseAccount(req.To)
	if err != nil {
		writeError(w, err)
		return
	}

	actor := middleware.GetActor(r.Context())
	if err := h.dispatcher.ForcedTransfer(r.Context(), actor, from, to, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reserveRequest struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

func (h *LedgerHandler) handlePartialFreeze(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	account, err := domain.ParseAccount(req.Account)
	if err != nil {
		writeError(w, err)
		return
	}

	actor := middleware.GetActor(r.Context())
	if err := h.dispatcher.FreezePartial(r.Context(), actor, account, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LedgerHandler) handlePartialUnfreeze(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	account, err := domain.ParseAccount(req.Account)
	if err != nil {
		writeError(w, err)
		return
	}

	actor := middleware.GetActor(r.Context())
	if err := h.dispatcher.UnfreezePartial(r.Context(), actor, account, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transferRequest struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// handleTransfer moves balance out of the authenticated caller's own
// account; the origin comes from the token, never the body.
func (h *LedgerHandler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	to, err := domain.ParseAccount(req.To)
	if err != nil {
		writeError(w, err)
		return
	}

	from := middleware.GetAccount(r.Context())
	if err := h.dispatcher.Transfer(r.Context(), from, to, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type burnRequest struct {
	Amount uint64 `json:"amount"`
}

func (h *LedgerHandler) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req burnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}

	from := middleware.GetAccount(r.Context())
	if err := h.dispatcher.Burn(r.Context(), from, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LedgerHandler) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ledgerView{
		Paused:        h.ledger.Paused(),
		TotalSupply:   h.ledger.TotalSupply(),
		ComplianceRef: h.ledger.ComplianceRef(),
	})
}

func (h *LedgerHandler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := domain.ParseAccount(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}

	balance := h.ledger.Balance(account)
	record := h.policy.Record(account)
	view := accountView{
		Account:  string(account),
		Verified: h.directory.IsVerified(account),
		Frozen:   h.ledger.Frozen(account),
		Balance: balanceView{
			Total:         balance.Total,
			FrozenReserve: balance.FrozenReserve,
			Spendable:     balance.Spendable(),
		},
		Policy: policyView{
			Authorized: record.Authorized,
			Trusted:    record.Trusted,
		},
	}
	if !record.LockupUntil.IsZero() {
		view.Policy.LockupUntil = &record.LockupUntil
	}
	writeJSON(w, http.StatusOK, view)
}
