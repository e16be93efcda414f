package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/dispatch"
	"custodia/internal/idempotency"
	"custodia/internal/platform/middleware"
	dErrors "custodia/pkg/domain-errors"
)

// ActionsHandler exposes the wire action surface. Requests carrying an
// Idempotency-Key replay the recorded response instead of
// re-dispatching.
type ActionsHandler struct {
	dispatcher *dispatch.Dispatcher
	idem       idempotency.Store
	idemTTL    time.Duration
	logger     *slog.Logger
}

func NewActionsHandler(dispatcher *dispatch.Dispatcher, idem idempotency.Store, idemTTL time.Duration, logger *slog.Logger) *ActionsHandler {
	return &ActionsHandler{
		dispatcher: dispatcher,
		idem:       idem,
		idemTTL:    idemTTL,
		logger:     logger,
	}
}

func (h *ActionsHandler) Register(r chi.Router) {
	r.Post("/v1/actions", h.handleDispatch)
}

type dispatchResult struct {
	Status string `json:"status"`
	Kind   string `json:"kind"`
}

func (h *ActionsHandler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.idem != nil {
		record, ok, err := h.idem.Get(ctx, key)
		if err != nil {
			h.logger.ErrorContext(ctx, "idempotency lookup failed", "error", err)
		} else if ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotency-Replayed", "true")
			w.WriteHeader(record.Status)
			_, _ = w.Write(record.Body)
			return
		}
	}

	var env dispatch.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}

	actor := middleware.GetActor(ctx)
	origin := middleware.GetAccount(ctx)

	status := http.StatusOK
	var body any = dispatchResult{Status: "applied", Kind: dispatch.Kind(env.Type).String()}
	if err := h.dispatcher.Dispatch(ctx, actor, origin, env); err != nil {
		code := dErrors.CodeOf(err)
		status = statusForCode(code)
		body = errorBody{Error: string(code), Message: err.Error()}
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeInternal, "encode response"))
		return
	}

	if key != "" && h.idem != nil {
		record := idempotency.Record{Status: status, Body: encoded}
		if err := h.idem.Set(ctx, key, record, h.idemTTL); err != nil {
			h.logger.ErrorContext(ctx, "idempotency store failed", "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}
