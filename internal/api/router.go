/**
 * @description
 * This file sets up the HTTP router for the admin-service. Operator-facing
 * routes sit under /admin behind JWT auth; service-to-service routes sit under
 * /internal behind the shared API key.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// AdminRoutes creates and returns the router for the admin service.
func AdminRoutes(h *AdminHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Operator routes.
	r.Route("/admin", func(r chi.Router) {
		r.Use(AdminAuthMiddleware(jwksURL))

		r.Get("/wallet", h.GetWalletHandler)
		r.Post("/wallet/withdraw", h.WalletWithdrawHandler)

		r.Get("/withdrawals", h.ListWithdrawalsHandler)
		r.Get("/withdrawals/{id}", h.GetWithdrawalHandler)
		r.Post("/withdrawals/{id}/approve", h.ApproveWithdrawalHandler)
		r.Post("/withdrawals/{id}/reject", h.RejectWithdrawalHandler)

		r.Get("/transactions", h.ListTransactionsHandler)
	})

	// Service-to-service routes.
	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(internalAPIKey))

		r.Post("/withdrawals", h.CreateWithdrawalHandler)
		r.Get("/withdrawals/unsettled", h.ListUnsettledHandler)
		r.Post("/withdrawals/{id}/settle-ledger", h.SettleLedgerHandler)
	})

	return r
}
