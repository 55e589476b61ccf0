/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains the SQL queries for contracts, charges, split rules,
 * managed wallets and NFT records.
 *
 * Idempotency-critical uniqueness lives in the schema, not just here:
 * - charges: UNIQUE (contract_id, period_year, period_month) WHERE kind = 'RENT'
 * - managed_wallets: PRIMARY KEY (owner_id)
 * - nft_records: UNIQUE (contract_id) WHERE superseded_at IS NULL
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vinculobrasil/settlement-service/internal/domain"
)

var (
	ErrContractNotFound  = errors.New("contract not found")
	ErrContractNotActive = errors.New("contract is not active")
	ErrChargeNotFound    = errors.New("charge not found")
	ErrDuplicateCharge   = errors.New("charge already exists for contract and period")
	ErrWalletNotFound    = errors.New("managed wallet not found")
	ErrNFTNotFound       = errors.New("nft record not found")
	ErrDuplicateMint     = errors.New("contract already has an active nft record")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const contractColumns = `id, owner_id, tenant_id, payer_customer_id, guarantor_id, base_rent_value, status, start_date, end_date,
       agency_rate, kyc_score, surety_cost, minted_token_id, archived_at, created_at, updated_at`

func scanContract(row pgx.Row) (*domain.Contract, error) {
	var c domain.Contract
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.TenantID, &c.PayerCustomerID, &c.GuarantorID, &c.BaseRentValue, &c.Status, &c.StartDate, &c.EndDate,
		&c.AgencyRate, &c.KYCScore, &c.SuretyCost, &c.MintedTokenID, &c.ArchivedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrContractNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindContractByID retrieves a contract by its ID.
func (r *PostgresRepository) FindContractByID(ctx context.Context, contractID uuid.UUID) (*domain.Contract, error) {
	query := fmt.Sprintf(`SELECT %s FROM contracts WHERE id = $1 AND archived_at IS NULL`, contractColumns)
	return scanContract(r.db.QueryRow(ctx, query, contractID))
}

// ListActiveContracts retrieves every contract eligible for monthly billing.
func (r *PostgresRepository) ListActiveContracts(ctx context.Context) ([]domain.Contract, error) {
	query := fmt.Sprintf(`SELECT %s FROM contracts WHERE status = $1 AND archived_at IS NULL ORDER BY created_at`, contractColumns)
	rows, err := r.db.Query(ctx, query, domain.ContractStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contracts []domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, *c)
	}
	return contracts, rows.Err()
}

// SetContractMintedTokenID records the token minted for a contract.
func (r *PostgresRepository) SetContractMintedTokenID(ctx context.Context, contractID uuid.UUID, tokenID int64) error {
	query := `UPDATE contracts SET minted_token_id = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.db.Exec(ctx, query, tokenID, contractID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrContractNotFound
	}
	return nil
}

// ArchiveContract soft-archives a contract and cascades to its charges.
// Contracts are never physically deleted.
func (r *PostgresRepository) ArchiveContract(ctx context.Context, contractID uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `UPDATE contracts SET archived_at = NOW(), updated_at = NOW() WHERE id = $1 AND archived_at IS NULL`, contractID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrContractNotFound
	}
	if _, err := tx.Exec(ctx, `UPDATE charges SET archived_at = NOW(), updated_at = NOW() WHERE contract_id = $1 AND archived_at IS NULL`, contractID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ChargeExistsForPeriod reports whether a rent charge already exists for the
// contract and billing period. The generator consults this before creating a
// charge so skips are explicit and auditable; the partial unique index closes
// the remaining race.
func (r *PostgresRepository) ChargeExistsForPeriod(ctx context.Context, contractID uuid.UUID, year, month int) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (
		SELECT 1 FROM charges
		WHERE contract_id = $1 AND period_year = $2 AND period_month = $3 AND kind = $4
	)`
	err := r.db.QueryRow(ctx, query, contractID, year, month, domain.ChargeKindRent).Scan(&exists)
	return exists, err
}

// CreateCharge inserts a charge. Duplicate (contract, period) rent charges are
// rejected by the partial unique index and surface as ErrDuplicateCharge.
func (r *PostgresRepository) CreateCharge(ctx context.Context, charge *domain.Charge) error {
	var waterfallJSON []byte
	if charge.Waterfall != nil {
		var err error
		waterfallJSON, err = json.Marshal(charge.Waterfall)
		if err != nil {
			return fmt.Errorf("failed to marshal waterfall: %w", err)
		}
	}

	query := `
		INSERT INTO charges (id, contract_id, kind, period_year, period_month, value, due_date,
		                     external_charge_id, invoice_url, status, waterfall, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query,
		charge.ID, charge.ContractID, charge.Kind, charge.PeriodYear, charge.PeriodMonth,
		charge.Value, charge.DueDate, charge.ExternalChargeID, charge.InvoiceURL, charge.Status, waterfallJSON,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateCharge
		}
		return err
	}
	return nil
}

const chargeColumns = `id, contract_id, kind, period_year, period_month, value, due_date,
       external_charge_id, invoice_url, status, waterfall, created_at, updated_at`

func scanCharge(row pgx.Row) (*domain.Charge, error) {
	var c domain.Charge
	var waterfallJSON []byte
	err := row.Scan(
		&c.ID, &c.ContractID, &c.Kind, &c.PeriodYear, &c.PeriodMonth, &c.Value, &c.DueDate,
		&c.ExternalChargeID, &c.InvoiceURL, &c.Status, &waterfallJSON, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrChargeNotFound
		}
		return nil, err
	}
	if len(waterfallJSON) > 0 {
		var w domain.Waterfall
		if err := json.Unmarshal(waterfallJSON, &w); err != nil {
			return nil, fmt.Errorf("failed to unmarshal waterfall: %w", err)
		}
		c.Waterfall = &w
	}
	return &c, nil
}

// FindChargeByExternalID retrieves a charge by its gateway charge id. Used to
// de-duplicate at-least-once status notifications.
func (r *PostgresRepository) FindChargeByExternalID(ctx context.Context, externalChargeID string) (*domain.Charge, error) {
	query := fmt.Sprintf(`SELECT %s FROM charges WHERE external_charge_id = $1`, chargeColumns)
	return scanCharge(r.db.QueryRow(ctx, query, externalChargeID))
}

// ListPendingCharges retrieves pending charges that have a gateway charge id,
// oldest first, for the status sync job.
func (r *PostgresRepository) ListPendingCharges(ctx context.Context, limit int) ([]domain.Charge, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT %s FROM charges
		WHERE status = $1 AND external_charge_id IS NOT NULL AND archived_at IS NULL
		ORDER BY created_at
		LIMIT $2
	`, chargeColumns)
	rows, err := r.db.Query(ctx, query, domain.ChargeStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var charges []domain.Charge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		charges = append(charges, *c)
	}
	return charges, rows.Err()
}

// UpdateChargeStatus transitions a charge's status.
func (r *PostgresRepository) UpdateChargeStatus(ctx context.Context, chargeID uuid.UUID, status string) error {
	result, err := r.db.Exec(ctx, `UPDATE charges SET status = $1, updated_at = NOW() WHERE id = $2`, status, chargeID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrChargeNotFound
	}
	return nil
}

// MarkChargesOverdue flips pending charges past their due date to OVERDUE and
// returns the affected rows.
func (r *PostgresRepository) MarkChargesOverdue(ctx context.Context, now time.Time) ([]domain.Charge, error) {
	query := fmt.Sprintf(`
		UPDATE charges SET status = $1, updated_at = NOW()
		WHERE status = $2 AND due_date < $3 AND archived_at IS NULL
		RETURNING %s
	`, chargeColumns)
	rows, err := r.db.Query(ctx, query, domain.ChargeStatusOverdue, domain.ChargeStatusPending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var charges []domain.Charge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		charges = append(charges, *c)
	}
	return charges, rows.Err()
}

// SumPaidRentCharges returns the total value of paid rent charges for a contract.
func (r *PostgresRepository) SumPaidRentCharges(ctx context.Context, contractID uuid.UUID) (int64, error) {
	var sum int64
	query := `SELECT COALESCE(SUM(value), 0) FROM charges WHERE contract_id = $1 AND kind = $2 AND status = $3`
	err := r.db.QueryRow(ctx, query, contractID, domain.ChargeKindRent, domain.ChargeStatusPaid).Scan(&sum)
	return sum, err
}

// TerminateContract executes the termination settlement atomically: the
// status transition is a check-and-set on ACTIVE so concurrent attempts
// serialize, settlement charges are inserted, and active split rules are
// deactivated. Any failure rolls the whole unit back.
func (r *PostgresRepository) TerminateContract(ctx context.Context, contractID uuid.UUID, charges []domain.Charge) (int64, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx,
		`UPDATE contracts SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		domain.ContractStatusTerminated, contractID, domain.ContractStatusActive,
	)
	if err != nil {
		return 0, err
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if checkErr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM contracts WHERE id = $1)`, contractID).Scan(&exists); checkErr != nil {
			return 0, checkErr
		}
		if !exists {
			return 0, ErrContractNotFound
		}
		return 0, ErrContractNotActive
	}

	for _, charge := range charges {
		var waterfallJSON []byte
		if charge.Waterfall != nil {
			waterfallJSON, err = json.Marshal(charge.Waterfall)
			if err != nil {
				return 0, fmt.Errorf("failed to marshal waterfall: %w", err)
			}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO charges (id, contract_id, kind, period_year, period_month, value, due_date,
			                     external_charge_id, invoice_url, status, waterfall, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		`,
			charge.ID, charge.ContractID, charge.Kind, charge.PeriodYear, charge.PeriodMonth,
			charge.Value, charge.DueDate, charge.ExternalChargeID, charge.InvoiceURL, charge.Status, waterfallJSON,
		)
		if err != nil {
			return 0, err
		}
	}

	deactivated, err := tx.Exec(ctx,
		`UPDATE split_rules SET active = FALSE, deactivated_at = NOW() WHERE contract_id = $1 AND active = TRUE`,
		contractID,
	)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return deactivated.RowsAffected(), nil
}

// ListSplitRulesByContract retrieves the split rules for a contract, active first.
func (r *PostgresRepository) ListSplitRulesByContract(ctx context.Context, contractID uuid.UUID) ([]domain.SplitRule, error) {
	query := `
		SELECT id, contract_id, beneficiary_id, role, rate, active, deactivated_at, created_at
		FROM split_rules
		WHERE contract_id = $1
		ORDER BY active DESC, created_at
	`
	rows, err := r.db.Query(ctx, query, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.SplitRule
	for rows.Next() {
		var rule domain.SplitRule
		if err := rows.Scan(&rule.ID, &rule.ContractID, &rule.BeneficiaryID, &rule.Role, &rule.Rate, &rule.Active, &rule.DeactivatedAt, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// FindManagedWalletByOwnerID retrieves a custodial wallet by owner.
func (r *PostgresRepository) FindManagedWalletByOwnerID(ctx context.Context, ownerID uuid.UUID) (*domain.ManagedWallet, error) {
	var w domain.ManagedWallet
	query := `SELECT owner_id, address, encrypted_private_key, created_at FROM managed_wallets WHERE owner_id = $1`
	err := r.db.QueryRow(ctx, query, ownerID).Scan(&w.OwnerID, &w.Address, &w.EncryptedPrivateKey, &w.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// InsertManagedWallet inserts a wallet unless one already exists for the
// owner. Returns false when the owner already had a wallet; existing key
// material is never overwritten.
func (r *PostgresRepository) InsertManagedWallet(ctx context.Context, wallet *domain.ManagedWallet) (bool, error) {
	query := `
		INSERT INTO managed_wallets (owner_id, address, encrypted_private_key, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (owner_id) DO NOTHING
	`
	result, err := r.db.Exec(ctx, query, wallet.OwnerID, wallet.Address, wallet.EncryptedPrivateKey)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// ListAccountsWithoutWallet returns account ids that have no managed wallet yet.
func (r *PostgresRepository) ListAccountsWithoutWallet(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT a.id FROM accounts a
		LEFT JOIN managed_wallets w ON w.owner_id = a.id
		WHERE w.owner_id IS NULL
		ORDER BY a.created_at
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const nftColumns = `token_id, owner_address, contract_id, transaction_hash, block_number, metadata_uri, superseded_at, minted_at`

func scanNFT(row pgx.Row) (*domain.NFTRecord, error) {
	var n domain.NFTRecord
	err := row.Scan(&n.TokenID, &n.OwnerAddress, &n.ContractID, &n.TransactionHash, &n.BlockNumber, &n.MetadataURI, &n.SupersededAt, &n.MintedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNFTNotFound
		}
		return nil, err
	}
	return &n, nil
}

// FindActiveNFTByContractID retrieves the contract's active (non-superseded) token record.
func (r *PostgresRepository) FindActiveNFTByContractID(ctx context.Context, contractID uuid.UUID) (*domain.NFTRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM nft_records WHERE contract_id = $1 AND superseded_at IS NULL`, nftColumns)
	return scanNFT(r.db.QueryRow(ctx, query, contractID))
}

// FindNFTByTokenID retrieves a token record by token id.
func (r *PostgresRepository) FindNFTByTokenID(ctx context.Context, tokenID int64) (*domain.NFTRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM nft_records WHERE token_id = $1`, nftColumns)
	return scanNFT(r.db.QueryRow(ctx, query, tokenID))
}

// FindNFTsByOwnerAddress retrieves token records held by an address.
func (r *PostgresRepository) FindNFTsByOwnerAddress(ctx context.Context, ownerAddress string) ([]domain.NFTRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM nft_records WHERE lower(owner_address) = lower($1) ORDER BY minted_at DESC`, nftColumns)
	rows, err := r.db.Query(ctx, query, ownerAddress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.NFTRecord
	for rows.Next() {
		n, err := scanNFT(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *n)
	}
	return records, rows.Err()
}

// CreateNFTRecord persists a confirmed mint. The partial unique index on
// (contract_id) WHERE superseded_at IS NULL closes the concurrent-mint race.
func (r *PostgresRepository) CreateNFTRecord(ctx context.Context, record *domain.NFTRecord) error {
	query := `
		INSERT INTO nft_records (token_id, owner_address, contract_id, transaction_hash, block_number, metadata_uri, minted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		record.TokenID, record.OwnerAddress, record.ContractID, record.TransactionHash,
		record.BlockNumber, record.MetadataURI, record.MintedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateMint
		}
		return err
	}
	return nil
}

// SupersedeNFTRecord explicitly retires a token record so a re-mint can
// produce a new one. Records are never silently replaced.
func (r *PostgresRepository) SupersedeNFTRecord(ctx context.Context, tokenID int64) error {
	result, err := r.db.Exec(ctx, `UPDATE nft_records SET superseded_at = NOW() WHERE token_id = $1 AND superseded_at IS NULL`, tokenID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNFTNotFound
	}
	return nil
}
