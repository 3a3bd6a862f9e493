package api

import (
	"net/http"
	"time"

	"github.com/fastprodman/caseledger/internal/infra/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	AdminToken     string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter registers every API endpoint on a chi router.
func NewRouter(svc Services, opts RouterOptions) http.Handler {
	h := NewHandler(svc)
	r := chi.NewRouter()

	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// The processor calls this directly; no CORS and no user identity.
	r.Post("/webhooks/payments", h.PaymentWebhookHandler)

	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", headerUserID},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))

		r.Get("/cases/{caseId}/escrow", h.GetCaseEscrowHandler)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)

			r.Post("/checkout", h.CreateCheckoutHandler)
			r.Get("/wallet", h.GetWalletHandler)
			r.Get("/wallet/transactions", h.ListTransactionsHandler)
			r.Post("/withdrawals", h.CreateWithdrawalHandler)
			r.Get("/withdrawals", h.ListWithdrawalsHandler)
			r.Get("/withdrawals/{id}", h.GetWithdrawalHandler)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(requireAdmin(opts.AdminToken))

		r.Get("/webhook-failures", h.ListWebhookFailuresHandler)
		r.Post("/webhook-failures/{id}/retry", h.RetryWebhookFailureHandler)
		r.Post("/withdrawals/{id}/retry", h.RetryWithdrawalHandler)
		r.Get("/settlements", h.ListSettlementsHandler)
		r.Post("/settlements", h.RunSettlementHandler)
	})

	return r
}
