/**
 * @description
 * Custodial wallet manager. Provisions one secp256k1 keypair per account,
 * stores the private key encrypted, and hands out short-lived signing handles
 * that keep key material out of callers' reach.
 *
 * Key features:
 * - createManagedWallet is idempotent per owner: a second call returns the
 *   existing address and never overwrites key material (overwriting would
 *   orphan funds already sent to the old address).
 * - Every decrypt re-derives the address from the key and compares it to the
 *   stored one, so corrupted or cross-wired ciphertext is detected instead of
 *   producing a wrong-but-plausible key.
 * - Decrypted keys live only inside the SigningHandle for the duration of one
 *   signing operation and are never logged.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/crypto: secp256k1 keygen and address derivation.
 */

package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/vinculobrasil/settlement-service/internal/domain"
	"github.com/vinculobrasil/settlement-service/internal/store"
)

// ErrWalletNotFound is returned when an owner has no managed wallet.
var ErrWalletNotFound = store.ErrWalletNotFound

// Repository defines the database operations the manager needs.
type Repository interface {
	FindManagedWalletByOwnerID(ctx context.Context, ownerID uuid.UUID) (*domain.ManagedWallet, error)
	InsertManagedWallet(ctx context.Context, wallet *domain.ManagedWallet) (bool, error)
	ListAccountsWithoutWallet(ctx context.Context) ([]uuid.UUID, error)
}

// SigningHandle wraps a decrypted private key for a single signing operation.
// The key never leaves the handle.
type SigningHandle struct {
	address common.Address
	key     *ecdsa.PrivateKey
}

// Address returns the public address of the handle's wallet.
func (h *SigningHandle) Address() common.Address {
	return h.address
}

// SignTx signs a transaction with the handle's key for the given chain id.
func (h *SigningHandle) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), h.key)
}

// Manager provisions and opens custodial wallets.
type Manager struct {
	repo   Repository
	cipher *Cipher
}

// NewManager creates a wallet Manager.
func NewManager(repo Repository, cipher *Cipher) *Manager {
	return &Manager{repo: repo, cipher: cipher}
}

// CreateManagedWallet provisions a custodial wallet for the owner and returns
// its address. Safe to call concurrently; when a wallet already exists its
// address is returned and the stored key material is left untouched.
func (m *Manager) CreateManagedWallet(ctx context.Context, ownerID uuid.UUID) (string, error) {
	if existing, err := m.repo.FindManagedWalletByOwnerID(ctx, ownerID); err == nil {
		return existing.Address, nil
	} else if !errors.Is(err, ErrWalletNotFound) {
		return "", err
	}

	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("%w: key generation failed: %v", ErrCrypto, err)
	}
	address := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	encrypted, err := m.cipher.Encrypt(ethcrypto.FromECDSA(key))
	if err != nil {
		return "", err
	}

	created, err := m.repo.InsertManagedWallet(ctx, &domain.ManagedWallet{
		OwnerID:             ownerID,
		Address:             address,
		EncryptedPrivateKey: encrypted,
	})
	if err != nil {
		return "", fmt.Errorf("failed to persist managed wallet: %w", err)
	}
	if !created {
		// Lost a provisioning race; the winner's wallet is authoritative.
		existing, err := m.repo.FindManagedWalletByOwnerID(ctx, ownerID)
		if err != nil {
			return "", err
		}
		return existing.Address, nil
	}

	log.Printf("provisioned managed wallet for owner %s at %s", ownerID, address)
	return address, nil
}

// GetUserWallet loads and decrypts the owner's wallet and returns a signing
// handle. Fails with ErrWalletNotFound when none exists and with ErrCrypto
// when the stored material does not decrypt to the recorded address.
func (m *Manager) GetUserWallet(ctx context.Context, ownerID uuid.UUID) (*SigningHandle, error) {
	wallet, err := m.repo.FindManagedWalletByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	keyBytes, err := m.cipher.Decrypt(wallet.EncryptedPrivateKey)
	if err != nil {
		return nil, err
	}

	key, err := ethcrypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: stored key material is not a valid private key", ErrCrypto)
	}

	derived := ethcrypto.PubkeyToAddress(key.PublicKey)
	if !strings.EqualFold(derived.Hex(), wallet.Address) {
		return nil, fmt.Errorf("%w: decrypted key does not match stored address", ErrCrypto)
	}

	return &SigningHandle{address: derived, key: key}, nil
}

// MigrateUsersWithoutWallets batch-provisions wallets for accounts lacking
// one. Accounts that already have a wallet are skipped, and one account's
// failure never aborts the batch; the count of successful provisions is
// returned.
func (m *Manager) MigrateUsersWithoutWallets(ctx context.Context) (int, error) {
	ids, err := m.repo.ListAccountsWithoutWallet(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list accounts without wallets: %w", err)
	}

	provisioned := 0
	for _, id := range ids {
		if _, err := m.CreateManagedWallet(ctx, id); err != nil {
			log.Printf("WARN: failed to provision wallet for account %s: %v", id, err)
			continue
		}
		provisioned++
	}
	return provisioned, nil
}
