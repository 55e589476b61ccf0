/**
 * @description
 * Custodial wallet and NFT record domain models.
 *
 * @notes
 * - ManagedWallet.EncryptedPrivateKey is an opaque iv:ciphertext envelope and
 *   must never appear in logs or API responses.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ManagedWallet is a custodial keypair held on behalf of an account. The
// private key is stored encrypted; the address is deterministically derivable
// from the decrypted key and is re-checked on every decrypt.
type ManagedWallet struct {
	OwnerID             uuid.UUID `json:"owner_id"`
	Address             string    `json:"address"`
	EncryptedPrivateKey string    `json:"-"`
	CreatedAt           time.Time `json:"created_at"`
}

// NFTRecord is the persisted view of a minted contract token. Records are
// written only after the mint transaction is confirmed and are immutable; a
// re-mint supersedes the prior record explicitly via SupersededAt.
type NFTRecord struct {
	TokenID         int64      `json:"token_id"`
	OwnerAddress    string     `json:"owner_address"`
	ContractID      uuid.UUID  `json:"contract_id"`
	TransactionHash string     `json:"transaction_hash"`
	BlockNumber     int64      `json:"block_number"`
	MetadataURI     string     `json:"metadata_uri"`
	SupersededAt    *time.Time `json:"superseded_at,omitempty"`
	MintedAt        time.Time  `json:"minted_at"`
}
