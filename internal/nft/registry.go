/**
 * @description
 * NFT registry: mints the token that notarizes a rental contract and exposes
 * lookups over the persisted mint records.
 *
 * Custodial model: the platform's admin wallet pays gas and mints to itself,
 * holding the token in custody on behalf of the contract parties. Gas cost is
 * borne by the platform, never the end user.
 *
 * Ordering guarantee: the NFTRecord is persisted only after the mint
 * transaction is confirmed on chain. A record is never written for a
 * transaction that later fails or times out.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/accounts/abi: ERC-721 call encoding.
 */

package nft

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/vinculobrasil/settlement-service/internal/chain"
	"github.com/vinculobrasil/settlement-service/internal/domain"
	"github.com/vinculobrasil/settlement-service/internal/store"
	"github.com/vinculobrasil/settlement-service/internal/wallet"
)

var (
	// ErrDuplicateMint is returned when the contract already has an active
	// token. Not transient; never retried.
	ErrDuplicateMint = store.ErrDuplicateMint
	// ErrContractNotMintable is returned for contracts that never reached
	// ACTIVE status.
	ErrContractNotMintable = errors.New("contract has not been activated")
)

const erc721ABI = `[
	{"type":"function","name":"safeMint","inputs":[{"name":"to","type":"address"},{"name":"uri","type":"string"}],"outputs":[{"name":"tokenId","type":"uint256"}],"stateMutability":"nonpayable"}
]`

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// Repository defines the database operations the registry needs.
type Repository interface {
	FindContractByID(ctx context.Context, contractID uuid.UUID) (*domain.Contract, error)
	SetContractMintedTokenID(ctx context.Context, contractID uuid.UUID, tokenID int64) error
	FindActiveNFTByContractID(ctx context.Context, contractID uuid.UUID) (*domain.NFTRecord, error)
	FindNFTByTokenID(ctx context.Context, tokenID int64) (*domain.NFTRecord, error)
	FindNFTsByOwnerAddress(ctx context.Context, ownerAddress string) ([]domain.NFTRecord, error)
	CreateNFTRecord(ctx context.Context, record *domain.NFTRecord) error
	SupersedeNFTRecord(ctx context.Context, tokenID int64) error
}

// ChainService defines the chain operations the registry needs.
type ChainService interface {
	EstimateGas(ctx context.Context, from, to common.Address, payload []byte) (*chain.GasEstimate, error)
	Submit(ctx context.Context, handle *wallet.SigningHandle, to common.Address, payload []byte) (*chain.SubmitResult, error)
}

// WalletManager defines the custodial wallet operations the registry needs.
type WalletManager interface {
	CreateManagedWallet(ctx context.Context, ownerID uuid.UUID) (string, error)
	GetUserWallet(ctx context.Context, ownerID uuid.UUID) (*wallet.SigningHandle, error)
}

// Registry mints and looks up contract tokens.
type Registry struct {
	repo          Repository
	chainSvc      ChainService
	wallets       WalletManager
	tokenContract common.Address
	adminOwnerID  uuid.UUID
	tokenABI      abi.ABI
}

// NewRegistry creates an NFT Registry.
func NewRegistry(repo Repository, chainSvc ChainService, wallets WalletManager, tokenContract string, adminOwnerID uuid.UUID) (*Registry, error) {
	parsed, err := abi.JSON(strings.NewReader(erc721ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}
	return &Registry{
		repo:          repo,
		chainSvc:      chainSvc,
		wallets:       wallets,
		tokenContract: common.HexToAddress(tokenContract),
		adminOwnerID:  adminOwnerID,
		tokenABI:      parsed,
	}, nil
}

// Mint issues the token representing a contract, signed by the admin
// custodial wallet. Exactly one active record can exist per contract: a
// pre-check fails fast with ErrDuplicateMint and the storage uniqueness
// constraint closes the race between concurrent requests.
func (r *Registry) Mint(ctx context.Context, contractID uuid.UUID, metadataURI string) (*domain.NFTRecord, error) {
	contract, err := r.repo.FindContractByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if contract.Status == domain.ContractStatusDraft {
		return nil, ErrContractNotMintable
	}

	if _, err := r.repo.FindActiveNFTByContractID(ctx, contractID); err == nil {
		return nil, ErrDuplicateMint
	} else if !errors.Is(err, store.ErrNFTNotFound) {
		return nil, err
	}

	record, err := r.mintOnChain(ctx, contractID, metadataURI)
	if err != nil {
		return nil, err
	}
	if err := r.repo.CreateNFTRecord(ctx, record); err != nil {
		return nil, err
	}

	r.stampContract(ctx, contractID, record.TokenID)
	log.Printf("minted token %d for contract %s in tx %s", record.TokenID, contractID, record.TransactionHash)
	return record, nil
}

// Remint retires a contract's active token and mints a replacement, typically
// after a metadata correction. The supersede is explicit and recorded; a token
// is never replaced silently.
func (r *Registry) Remint(ctx context.Context, contractID uuid.UUID, metadataURI string) (*domain.NFTRecord, error) {
	contract, err := r.repo.FindContractByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if contract.Status == domain.ContractStatusDraft {
		return nil, ErrContractNotMintable
	}

	existing, err := r.repo.FindActiveNFTByContractID(ctx, contractID)
	if err != nil {
		// ErrNFTNotFound: nothing to supersede, callers want Mint instead.
		return nil, err
	}

	record, err := r.mintOnChain(ctx, contractID, metadataURI)
	if err != nil {
		return nil, err
	}
	if err := r.repo.SupersedeNFTRecord(ctx, existing.TokenID); err != nil {
		return nil, fmt.Errorf("minted replacement token %d but failed to supersede token %d: %w", record.TokenID, existing.TokenID, err)
	}
	if err := r.repo.CreateNFTRecord(ctx, record); err != nil {
		return nil, err
	}

	r.stampContract(ctx, contractID, record.TokenID)
	log.Printf("token %d superseded by token %d for contract %s in tx %s",
		existing.TokenID, record.TokenID, contractID, record.TransactionHash)
	return record, nil
}

// mintOnChain signs and submits the mint with the admin custodial wallet and
// waits for confirmation. Nothing is persisted here.
func (r *Registry) mintOnChain(ctx context.Context, contractID uuid.UUID, metadataURI string) (*domain.NFTRecord, error) {
	// Admin wallet provisioning is idempotent; this also covers first use.
	if _, err := r.wallets.CreateManagedWallet(ctx, r.adminOwnerID); err != nil {
		return nil, err
	}
	handle, err := r.wallets.GetUserWallet(ctx, r.adminOwnerID)
	if err != nil {
		return nil, err
	}

	payload, err := r.tokenABI.Pack("safeMint", handle.Address(), metadataURI)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mint call: %w", err)
	}

	var result *chain.SubmitResult
	err = chain.Retry(ctx, 3, 2*time.Second, func() error {
		var submitErr error
		result, submitErr = r.chainSvc.Submit(ctx, handle, r.tokenContract, payload)
		return submitErr
	})
	if err != nil {
		return nil, err
	}

	tokenID, err := tokenIDFromLogs(result.Logs, r.tokenContract)
	if err != nil {
		return nil, err
	}

	return &domain.NFTRecord{
		TokenID:         tokenID,
		OwnerAddress:    handle.Address().Hex(),
		ContractID:      contractID,
		TransactionHash: result.TransactionHash,
		BlockNumber:     result.BlockNumber,
		MetadataURI:     metadataURI,
		MintedAt:        time.Now().UTC(),
	}, nil
}

func (r *Registry) stampContract(ctx context.Context, contractID uuid.UUID, tokenID int64) {
	if err := r.repo.SetContractMintedTokenID(ctx, contractID, tokenID); err != nil {
		log.Printf("WARN: minted token %d but failed to stamp contract %s: %v", tokenID, contractID, err)
	}
}

// EstimateMintCost projects the gas cost of minting for a contract. Pure
// read; no state is touched on chain or in storage.
func (r *Registry) EstimateMintCost(ctx context.Context, contractID uuid.UUID, metadataURI string) (*chain.GasEstimate, error) {
	if _, err := r.repo.FindContractByID(ctx, contractID); err != nil {
		return nil, err
	}

	adminWallet, err := r.wallets.CreateManagedWallet(ctx, r.adminOwnerID)
	if err != nil {
		return nil, err
	}
	adminAddr := common.HexToAddress(adminWallet)

	payload, err := r.tokenABI.Pack("safeMint", adminAddr, metadataURI)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mint call: %w", err)
	}

	return r.chainSvc.EstimateGas(ctx, adminAddr, r.tokenContract, payload)
}

// GetByTokenID returns the persisted record for a token. Reads reflect
// storage, not live chain state; the chain is reconciled asynchronously.
func (r *Registry) GetByTokenID(ctx context.Context, tokenID int64) (*domain.NFTRecord, error) {
	return r.repo.FindNFTByTokenID(ctx, tokenID)
}

// GetByOwnerAddress returns the persisted records held by an address.
func (r *Registry) GetByOwnerAddress(ctx context.Context, ownerAddress string) ([]domain.NFTRecord, error) {
	return r.repo.FindNFTsByOwnerAddress(ctx, ownerAddress)
}

func tokenIDFromLogs(logs []*types.Log, tokenContract common.Address) (int64, error) {
	for _, entry := range logs {
		if entry.Address != tokenContract || len(entry.Topics) != 4 {
			continue
		}
		if entry.Topics[0] == transferTopic {
			return new(big.Int).SetBytes(entry.Topics[3].Bytes()).Int64(), nil
		}
	}
	return 0, errors.New("confirmed mint receipt carries no transfer event")
}
