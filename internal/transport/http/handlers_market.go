package httptransport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"custodia/internal/dispatch"
	"custodia/internal/market"
	"custodia/internal/platform/middleware"
	dErrors "custodia/pkg/domain-errors"
)

// MarketHandler exposes the purchase surface and round queries. These
// operations have no wire action type; they route through the
// dispatcher's service methods so they share its total ordering.
type MarketHandler struct {
	dispatcher *dispatch.Dispatcher
	market     *market.Market
}

func NewMarketHandler(dispatcher *dispatch.Dispatcher, market *market.Market) *MarketHandler {
	return &MarketHandler{dispatcher: dispatcher, market: market}
}

func (h *MarketHandler) Register(r chi.Router) {
	r.Post("/v1/rounds/{roundID}/purchases", h.handleBuy)
	r.Post("/v1/rounds/{roundID}/cancel", h.handleCancel)
	r.Get("/v1/rounds/{roundID}", h.handleGetRound)
	r.Post("/v1/purchases/{purchaseID}/refund", h.handleRefund)
	r.Get("/v1/purchases/{purchaseID}", h.handleGetPurchase)
}

type buyRequest struct {
	Amount              uint64 `json:"amount"`
	RecipientCommitment string `json:"recipientCommitment"`
}

func (h *MarketHandler) handleBuy(w http.ResponseWriter, r *http.Request) {
	roundID, err := pathID(r, "roundID")
	if err != nil {
		writeError(w, err)
		return
	}

	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}

	buyer := middleware.GetAccount(r.Context())
	purchase, err := h.dispatcher.BuyRound(r.Context(), buyer, roundID, req.Amount, []byte(req.RecipientCommitment))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPurchaseView(purchase))
}

func (h *MarketHandler) handleRefund(w http.ResponseWriter, r *http.Request) {
	purchaseID, err := pathID(r, "purchaseID")
	if err != nil {
		writeError(w, err)
		return
	}

	buyer := middleware.GetAccount(r.Context())
	purchase, err := h.dispatcher.RefundAsBuyer(r.Context(), buyer, purchaseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPurchaseView(purchase))
}

func (h *MarketHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	roundID, err := pathID(r, "roundID")
	if err != nil {
		writeError(w, err)
		return
	}

	actor := middleware.GetActor(r.Context())
	if err := h.dispatcher.CancelRound(r.Context(), actor, roundID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MarketHandler) handleGetRound(w http.ResponseWriter, r *http.Request) {
	roundID, err := pathID(r, "roundID")
	if err != nil {
		writeError(w, err)
		return
	}
	round, ok := h.market.Round(roundID)
	if !ok {
		writeError(w, dErrors.Newf(dErrors.CodeNotFound, "round %d does not exist", roundID))
		return
	}
	writeJSON(w, http.StatusOK, newRoundView(round))
}

func (h *MarketHandler) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	purchaseID, err := pathID(r, "purchaseID")
	if err != nil {
		writeError(w, err)
		return
	}
	purchase, ok := h.market.Purchase(purchaseID)
	if !ok {
		writeError(w, dErrors.Newf(dErrors.CodeNotFound, "purchase %d does not exist", purchaseID))
		return
	}
	writeJSON(w, http.StatusOK, newPurchaseView(purchase))
}

func pathID(r *http.Request, name string) (uint64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, dErrors.Newf(dErrors.CodeValidation, "invalid %s", name)
	}
	return id, nil
}
