package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const requestTimeout = 15 * time.Second

func (h *Handler) Routes(m *Middleware, corsOrigins []string, rateLimitRPM int) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(m.Compress)
	r.Use(middleware.Heartbeat("/ping"))

	// CORS and rate limiting - configured from main
	r.Use(m.CORS(corsOrigins))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	// Finalization blocks until L1 settles and live updates are long-lived,
	// so neither runs under the request timeout.
	r.HandleFunc(finalizePath, h.FinalizeWithdraw)
	r.Get("/v1/ws", h.HandleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(m.Timeout(requestTimeout))
		r.Use(m.RateLimit(rateLimitRPM))

		r.HandleFunc("/api/start-withdraw", h.StartWithdraw)
		r.HandleFunc("/api/get-price", h.GetPrice)

		r.Route("/v1", func(r chi.Router) {
			r.Get("/shadow/{address}", h.GetShadowAccount)

			r.Route("/bundles", func(r chi.Router) {
				r.Post("/deposit", h.BuildDepositBundle)
				r.Post("/borrow", h.BuildBorrowBundle)
			})

			r.Route("/users/{address}", func(r chi.Router) {
				r.Get("/pending", h.GetPending)
				r.Post("/operations", h.RecordOperation)
				r.Get("/summary", h.GetSummary)
				r.Get("/position", h.GetPosition)
			})

			r.Get("/withdrawals/{hash}/phase", h.GetWithdrawalPhase)
		})
	})

	return r
}
