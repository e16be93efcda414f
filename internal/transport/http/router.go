// Package httptransport is the thin HTTP layer. Handlers delegate to
// the dispatcher and component views without embedding business logic
// so transport concerns remain isolated.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custodia/internal/dispatch"
	"custodia/internal/idempotency"
	"custodia/internal/identity"
	"custodia/internal/ledger"
	"custodia/internal/market"
	"custodia/internal/platform/middleware"
	"custodia/internal/policy"
)

// RouterConfig carries everything the HTTP surface needs.
type RouterConfig struct {
	Dispatcher *dispatch.Dispatcher
	Directory  *identity.Directory
	Policy     *policy.Engine
	Ledger     *ledger.Ledger
	Market     *market.Market

	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration

	Validator middleware.TokenValidator
	Logger    *slog.Logger
	Gatherer  prometheus.Gatherer
}

// NewRouter wires all public endpoints.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.Identity(cfg.Validator, cfg.Logger))

	NewActionsHandler(cfg.Dispatcher, cfg.Idempotency, cfg.IdempotencyTTL, cfg.Logger).Register(r)
	NewMarketHandler(cfg.Dispatcher, cfg.Market).Register(r)
	NewLedgerHandler(cfg.Dispatcher, cfg.Ledger, cfg.Directory, cfg.Policy).Register(r)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}
