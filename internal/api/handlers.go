/**
 * @description
 * This file contains the HTTP handlers for the settlement-service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application services, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vinculobrasil/settlement-service/internal/app"
	"github.com/vinculobrasil/settlement-service/internal/chain"
	"github.com/vinculobrasil/settlement-service/internal/domain"
	"github.com/vinculobrasil/settlement-service/internal/nft"
	"github.com/vinculobrasil/settlement-service/internal/store"
	"github.com/vinculobrasil/settlement-service/internal/wallet"
	"github.com/vinculobrasil/settlement-service/internal/waterfall"
)

// SettlementHandlers holds the application services that handlers will use.
type SettlementHandlers struct {
	billing      *app.BillingService
	termination  *app.TerminationService
	registry     *nft.Registry
	wallets      *wallet.Manager
	chainSvc     *chain.Service
	repo         store.Repository
	wfConfig     waterfall.Config
	adminOwnerID uuid.UUID
}

// NewSettlementHandlers creates a new instance of SettlementHandlers.
func NewSettlementHandlers(billing *app.BillingService, termination *app.TerminationService, registry *nft.Registry, wallets *wallet.Manager, chainSvc *chain.Service, repo store.Repository, wfConfig waterfall.Config, adminOwnerID uuid.UUID) *SettlementHandlers {
	return &SettlementHandlers{
		billing:      billing,
		termination:  termination,
		registry:     registry,
		wallets:      wallets,
		chainSvc:     chainSvc,
		repo:         repo,
		wfConfig:     wfConfig,
		adminOwnerID: adminOwnerID,
	}
}

type simulateWaterfallRequest struct {
	BaseRentValue int64    `json:"base_rent_value"`
	KYCScore      *int     `json:"kyc_score,omitempty"`
	SuretyCost    int64    `json:"surety_cost"`
	AgencyRate    *float64 `json:"agency_rate,omitempty"`
}

// SimulateWaterfallHandler prices a hypothetical contract without touching
// any state.
func (h *SettlementHandlers) SimulateWaterfallHandler(w http.ResponseWriter, r *http.Request) {
	var req simulateWaterfallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	simulation, err := waterfall.Simulate(waterfall.Input{
		BaseValue:  req.BaseRentValue,
		KYCScore:   req.KYCScore,
		SuretyCost: req.SuretyCost,
		AgencyRate: req.AgencyRate,
	}, h.wfConfig)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, simulation)
}

type billingRunRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// RunBillingHandler triggers a billing run for an explicit period. The
// scheduled job covers the current period; this endpoint exists for
// backfills and operational reruns.
func (h *SettlementHandlers) RunBillingHandler(w http.ResponseWriter, r *http.Request) {
	var req billingRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.billing.GenerateMonthlyCharges(r.Context(), req.Year, req.Month)
	if err != nil {
		if errors.Is(err, app.ErrInvalidPeriod) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("level=error component=api msg=\"billing run failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Billing run failed")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// SyncChargesHandler reconciles pending charges against the payment gateway.
func (h *SettlementHandlers) SyncChargesHandler(w http.ResponseWriter, r *http.Request) {
	updated, err := h.billing.SyncChargeStatuses(r.Context())
	if err != nil {
		log.Printf("level=error component=api msg=\"charge sync failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Charge sync failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

// MarkOverdueHandler flips past-due pending charges to overdue.
func (h *SettlementHandlers) MarkOverdueHandler(w http.ResponseWriter, r *http.Request) {
	marked, err := h.billing.MarkOverdueCharges(r.Context(), time.Now().UTC())
	if err != nil {
		log.Printf("level=error component=api msg=\"overdue marking failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Overdue marking failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"marked": marked})
}

type gatewayEventRequest struct {
	ExternalChargeID string `json:"external_charge_id"`
	GatewayStatus    string `json:"gateway_status"`
}

// GatewayEventHandler applies a forwarded payment gateway notification to the
// matching charge. Redelivered notifications are harmless.
func (h *SettlementHandlers) GatewayEventHandler(w http.ResponseWriter, r *http.Request) {
	var req gatewayEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	charge, err := h.billing.ApplyGatewayEvent(r.Context(), req.ExternalChargeID, req.GatewayStatus)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, charge)
}

// ArchiveContractHandler soft-archives a contract and its charges. Archived
// data drops out of billing and sync runs but is never deleted.
func (h *SettlementHandlers) ArchiveContractHandler(w http.ResponseWriter, r *http.Request) {
	contractID, err := uuid.Parse(chi.URLParam(r, "contractID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid contract id")
		return
	}

	if err := h.repo.ArchiveContract(r.Context(), contractID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

type terminationRequest struct {
	EffectiveDate string `json:"effective_date"` // YYYY-MM-DD
	Confirmed     bool   `json:"confirmed"`
}

func (h *SettlementHandlers) parseTerminationRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, time.Time, bool, bool) {
	contractID, err := uuid.Parse(chi.URLParam(r, "contractID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid contract id")
		return uuid.Nil, time.Time{}, false, false
	}

	var req terminationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return uuid.Nil, time.Time{}, false, false
	}

	effectiveDate := time.Now().UTC()
	if req.EffectiveDate != "" {
		effectiveDate, err = time.Parse("2006-01-02", req.EffectiveDate)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid effective_date, expected YYYY-MM-DD")
			return uuid.Nil, time.Time{}, false, false
		}
	}
	return contractID, effectiveDate, req.Confirmed, true
}

// SimulateTerminationHandler prices an early termination without executing it.
func (h *SettlementHandlers) SimulateTerminationHandler(w http.ResponseWriter, r *http.Request) {
	contractID, effectiveDate, _, ok := h.parseTerminationRequest(w, r)
	if !ok {
		return
	}

	quote, err := h.termination.SimulateTermination(r.Context(), contractID, effectiveDate)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, quote)
}

// ExecuteTerminationHandler settles and terminates a contract. Requires the
// caller to set the confirmed flag; amounts are recomputed server-side.
func (h *SettlementHandlers) ExecuteTerminationHandler(w http.ResponseWriter, r *http.Request) {
	contractID, effectiveDate, confirmed, ok := h.parseTerminationRequest(w, r)
	if !ok {
		return
	}

	result, err := h.termination.ExecuteTermination(r.Context(), contractID, effectiveDate, confirmed)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type mintRequest struct {
	MetadataURI string `json:"metadata_uri"`
}

// MintHandler mints the token notarizing a contract via the platform's
// custodial admin wallet.
func (h *SettlementHandlers) MintHandler(w http.ResponseWriter, r *http.Request) {
	contractID, err := uuid.Parse(chi.URLParam(r, "contractID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid contract id")
		return
	}

	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.MetadataURI == "" {
		h.writeError(w, http.StatusBadRequest, "metadata_uri is required")
		return
	}

	record, err := h.registry.Mint(r.Context(), contractID, req.MetadataURI)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, record)
}

// RemintHandler retires a contract's active token and mints a replacement.
func (h *SettlementHandlers) RemintHandler(w http.ResponseWriter, r *http.Request) {
	contractID, err := uuid.Parse(chi.URLParam(r, "contractID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid contract id")
		return
	}

	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.MetadataURI == "" {
		h.writeError(w, http.StatusBadRequest, "metadata_uri is required")
		return
	}

	record, err := h.registry.Remint(r.Context(), contractID, req.MetadataURI)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, record)
}

// MintCostHandler projects the gas cost of minting for a contract.
func (h *SettlementHandlers) MintCostHandler(w http.ResponseWriter, r *http.Request) {
	contractID, err := uuid.Parse(chi.URLParam(r, "contractID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid contract id")
		return
	}

	metadataURI := r.URL.Query().Get("metadata_uri")
	if metadataURI == "" {
		metadataURI = "ipfs://placeholder"
	}

	estimate, err := h.registry.EstimateMintCost(r.Context(), contractID, metadataURI)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, estimate)
}

// GetNFTByTokenHandler returns the persisted record for a token id.
func (h *SettlementHandlers) GetNFTByTokenHandler(w http.ResponseWriter, r *http.Request) {
	tokenID, err := strconv.ParseInt(chi.URLParam(r, "tokenID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid token id")
		return
	}

	record, err := h.registry.GetByTokenID(r.Context(), tokenID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

// ListNFTsByOwnerHandler returns all records held by an address.
func (h *SettlementHandlers) ListNFTsByOwnerHandler(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if !common.IsHexAddress(address) {
		h.writeError(w, http.StatusBadRequest, "Invalid address")
		return
	}

	records, err := h.registry.GetByOwnerAddress(r.Context(), address)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []domain.NFTRecord{}
	}
	h.writeJSON(w, http.StatusOK, records)
}

type walletResponse struct {
	OwnerID uuid.UUID `json:"owner_id"`
	Address string    `json:"address"`
}

// CreateWalletHandler provisions a custodial wallet for an account. Safe to
// retry; an existing wallet's address is returned unchanged.
func (h *SettlementHandlers) CreateWalletHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, err := uuid.Parse(chi.URLParam(r, "ownerID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid owner id")
		return
	}

	address, err := h.wallets.CreateManagedWallet(r.Context(), ownerID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, walletResponse{OwnerID: ownerID, Address: address})
}

// GetWalletHandler returns a wallet's public address. Key material is never
// exposed through the API.
func (h *SettlementHandlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, err := uuid.Parse(chi.URLParam(r, "ownerID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid owner id")
		return
	}

	managed, err := h.repo.FindManagedWalletByOwnerID(r.Context(), ownerID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, walletResponse{OwnerID: managed.OwnerID, Address: managed.Address})
}

// MigrateWalletsHandler provisions wallets for every account missing one.
func (h *SettlementHandlers) MigrateWalletsHandler(w http.ResponseWriter, r *http.Request) {
	migrated, err := h.wallets.MigrateUsersWithoutWallets(r.Context())
	if err != nil {
		log.Printf("level=error component=api msg=\"wallet migration failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Wallet migration failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"migrated": migrated})
}

// ChainHealthHandler reports RPC connectivity and the admin wallet balance.
func (h *SettlementHandlers) ChainHealthHandler(w http.ResponseWriter, r *http.Request) {
	var adminAddress *common.Address
	if managed, err := h.repo.FindManagedWalletByOwnerID(r.Context(), h.adminOwnerID); err == nil {
		addr := common.HexToAddress(managed.Address)
		adminAddress = &addr
	}

	h.writeJSON(w, http.StatusOK, h.chainSvc.CheckHealth(r.Context(), adminAddress))
}

// ListSplitRulesHandler returns a contract's payment routing rules.
func (h *SettlementHandlers) ListSplitRulesHandler(w http.ResponseWriter, r *http.Request) {
	contractID, err := uuid.Parse(chi.URLParam(r, "contractID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid contract id")
		return
	}

	rules, err := h.repo.ListSplitRulesByContract(r.Context(), contractID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if rules == nil {
		rules = []domain.SplitRule{}
	}
	h.writeJSON(w, http.StatusOK, rules)
}

// writeDomainError maps service errors to HTTP statuses. Internal causes are
// logged, not exposed.
func (h *SettlementHandlers) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrContractNotFound),
		errors.Is(err, store.ErrChargeNotFound),
		errors.Is(err, store.ErrWalletNotFound),
		errors.Is(err, store.ErrNFTNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrContractNotActive),
		errors.Is(err, nft.ErrDuplicateMint),
		errors.Is(err, nft.ErrContractNotMintable):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrConfirmationRequired):
		h.writeError(w, http.StatusPreconditionRequired, err.Error())
	case errors.Is(err, chain.ErrChainUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "Blockchain RPC unavailable")
	case errors.Is(err, chain.ErrTransactionTimeout):
		h.writeError(w, http.StatusGatewayTimeout, "Transaction confirmation timed out")
	case errors.Is(err, chain.ErrTransactionFailed):
		h.writeError(w, http.StatusBadGateway, "Transaction reverted on chain")
	default:
		log.Printf("level=error component=api msg=\"unhandled service error\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *SettlementHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *SettlementHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
