/**
 * @description
 * Symmetric encryption for custodial private key material. Keys are encrypted
 * with AES-256-CBC under a server-held master key; each call uses a fresh
 * random IV and the result is stored as a single "ivhex:cipherhex" envelope.
 *
 * CBC carries no authentication tag, so decryption alone cannot prove
 * integrity; the wallet manager re-derives the public address from the
 * decrypted key and rejects mismatches (see manager.go).
 */

package wallet

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/vinculobrasil/settlement-service/internal/domain"
)

// ErrCrypto marks corrupt key material or a misconfigured master key.
var ErrCrypto = domain.ErrCrypto

// Cipher encrypts and decrypts key material under the master key.
type Cipher struct {
	key []byte
}

// NewCipher builds a Cipher from the hex-encoded 32-byte master key supplied
// by the secrets collaborator. A missing or malformed key refuses all
// operations rather than falling back to an insecure mode.
func NewCipher(masterKeyHex string) (*Cipher, error) {
	trimmed := strings.TrimSpace(masterKeyHex)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: master encryption key is not configured", ErrCrypto)
	}
	key, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: master encryption key is not valid hex", ErrCrypto)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: master encryption key must be 32 bytes, got %d", ErrCrypto, len(key))
	}
	return &Cipher{key: key}, nil
}

// Encrypt encrypts plaintext with a fresh random IV and returns the
// "ivhex:cipherhex" envelope.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", fmt.Errorf("%w: refusing to encrypt empty plaintext", ErrCrypto)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("%w: failed to generate iv: %v", ErrCrypto, err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt opens an "ivhex:cipherhex" envelope. Malformed envelopes fail with
// ErrCrypto; garbage is never returned silently.
func (c *Cipher) Decrypt(envelope string) ([]byte, error) {
	parts := strings.SplitN(envelope, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: malformed envelope", ErrCrypto)
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: malformed iv", ErrCrypto)
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: malformed ciphertext", ErrCrypto)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, err
	}
	return unpadded, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: invalid padded length", ErrCrypto)
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("%w: invalid padding", ErrCrypto)
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("%w: invalid padding", ErrCrypto)
		}
	}
	return data[:len(data)-padding], nil
}
