/**
 * @description
 * This file sets up the HTTP router for the settlement-service. It defines
 * the API endpoints, associates them with their corresponding handlers, and
 * applies middleware for logging, panic recovery, CORS, and internal
 * authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SettlementRoutes creates and returns a new router for the settlement service.
func SettlementRoutes(h *SettlementHandlers, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Internal-API-Key"},
		MaxAge:         300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Read-only simulation, no state touched.
	r.Post("/waterfall/simulate", h.SimulateWaterfallHandler)

	// Service-to-service endpoints.
	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/billing/run", h.RunBillingHandler)
		r.Post("/charges/sync", h.SyncChargesHandler)
		r.Post("/charges/mark-overdue", h.MarkOverdueHandler)
		r.Post("/charges/gateway-event", h.GatewayEventHandler)

		r.Post("/contracts/{contractID}/termination/simulate", h.SimulateTerminationHandler)
		r.Post("/contracts/{contractID}/termination/execute", h.ExecuteTerminationHandler)
		r.Post("/contracts/{contractID}/archive", h.ArchiveContractHandler)

		r.Post("/contracts/{contractID}/mint", h.MintHandler)
		r.Post("/contracts/{contractID}/remint", h.RemintHandler)
		r.Get("/contracts/{contractID}/mint-cost", h.MintCostHandler)
		r.Get("/contracts/{contractID}/split-rules", h.ListSplitRulesHandler)

		r.Get("/nfts/{tokenID}", h.GetNFTByTokenHandler)
		r.Get("/nfts/owner/{address}", h.ListNFTsByOwnerHandler)

		r.Post("/wallets/migrate", h.MigrateWalletsHandler)
		r.Post("/wallets/{ownerID}", h.CreateWalletHandler)
		r.Get("/wallets/{ownerID}", h.GetWalletHandler)

		r.Get("/chain/health", h.ChainHealthHandler)
	})

	return r
}
