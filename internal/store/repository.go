/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access operations required by the settlement-service. The interface
 * decouples business logic from PostgreSQL so services are tested against
 * hand-rolled stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vinculobrasil/settlement-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Contract methods
	FindContractByID(ctx context.Context, contractID uuid.UUID) (*domain.Contract, error)
	ListActiveContracts(ctx context.Context) ([]domain.Contract, error)
	SetContractMintedTokenID(ctx context.Context, contractID uuid.UUID, tokenID int64) error
	ArchiveContract(ctx context.Context, contractID uuid.UUID) error

	// Charge methods
	ChargeExistsForPeriod(ctx context.Context, contractID uuid.UUID, year, month int) (bool, error)
	CreateCharge(ctx context.Context, charge *domain.Charge) error
	FindChargeByExternalID(ctx context.Context, externalChargeID string) (*domain.Charge, error)
	ListPendingCharges(ctx context.Context, limit int) ([]domain.Charge, error)
	UpdateChargeStatus(ctx context.Context, chargeID uuid.UUID, status string) error
	MarkChargesOverdue(ctx context.Context, now time.Time) ([]domain.Charge, error)
	SumPaidRentCharges(ctx context.Context, contractID uuid.UUID) (int64, error)

	// Termination, atomic as a unit: status check-and-set, settlement charges,
	// split rule deactivation. Fails with ErrContractNotActive when a
	// concurrent attempt won the transition.
	TerminateContract(ctx context.Context, contractID uuid.UUID, charges []domain.Charge) (int64, error)

	// Split rule methods
	ListSplitRulesByContract(ctx context.Context, contractID uuid.UUID) ([]domain.SplitRule, error)

	// Managed wallet methods
	FindManagedWalletByOwnerID(ctx context.Context, ownerID uuid.UUID) (*domain.ManagedWallet, error)
	InsertManagedWallet(ctx context.Context, wallet *domain.ManagedWallet) (bool, error)
	ListAccountsWithoutWallet(ctx context.Context) ([]uuid.UUID, error)

	// NFT record methods
	FindActiveNFTByContractID(ctx context.Context, contractID uuid.UUID) (*domain.NFTRecord, error)
	FindNFTByTokenID(ctx context.Context, tokenID int64) (*domain.NFTRecord, error)
	FindNFTsByOwnerAddress(ctx context.Context, ownerAddress string) ([]domain.NFTRecord, error)
	CreateNFTRecord(ctx context.Context, record *domain.NFTRecord) error
	SupersedeNFTRecord(ctx context.Context, tokenID int64) error
}
