/**
 * @description
 * Blockchain transaction service. Wraps an EVM RPC client to estimate gas,
 * sign and broadcast transactions with a custodial signing handle, and wait
 * for confirmation within a bounded window.
 *
 * Key features:
 * - Gas estimates carry a configurable safety buffer, since network
 *   conditions shift between estimate and submission.
 * - Nonce acquisition and broadcast are serialized under a mutex so
 *   concurrent operations from the shared admin wallet never collide on a
 *   nonce. Confirmation waiting happens outside the lock.
 * - Network-level failures (ErrChainUnavailable) are distinct from reverted
 *   transactions (ErrTransactionFailed) and confirmation timeouts
 *   (ErrTransactionTimeout) so callers can pick the right retry policy.
 *   ErrChainUnavailable only arises before broadcast; once a transaction is
 *   on the wire, receipt-query failures are absorbed into the confirmation
 *   wait so a retrying caller never double-submits.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum: RPC client, transaction types.
 */

package chain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vinculobrasil/settlement-service/internal/wallet"
)

var (
	// ErrChainUnavailable marks an RPC/network-level failure before a
	// transaction reaches the network. Transient; callers retry with backoff.
	// Never returned once a transaction has been broadcast.
	ErrChainUnavailable = errors.New("chain unavailable")
	// ErrTransactionFailed marks a reverted transaction. Terminal for the attempt.
	ErrTransactionFailed = errors.New("transaction failed")
	// ErrTransactionTimeout marks a transaction not confirmed inside the
	// bounded wait window. Terminal for the attempt.
	ErrTransactionTimeout = errors.New("transaction not confirmed in time")
)

// RPC is the narrow slice of the EVM client the service uses.
// *ethclient.Client satisfies it.
type RPC interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// GasEstimate is the buffered cost projection for a transaction.
type GasEstimate struct {
	GasLimit      uint64   `json:"gas_limit"`
	GasPrice      *big.Int `json:"gas_price"`
	EstimatedCost *big.Int `json:"estimated_cost"` // gasLimit * gasPrice, in wei
}

// SubmitResult reports a confirmed transaction.
type SubmitResult struct {
	TransactionHash string
	BlockNumber     int64
	Logs            []*types.Log
}

// Health is the non-mutating diagnostic snapshot. CheckHealth never fails;
// problems surface in the Error field.
type Health struct {
	Configured bool   `json:"configured"`
	Connected  bool   `json:"connected"`
	ChainID    int64  `json:"chain_id,omitempty"`
	Balance    string `json:"balance,omitempty"` // admin wallet balance in wei
	Error      string `json:"error,omitempty"`
}

// Service signs and submits transactions against one EVM chain.
type Service struct {
	rpc            RPC
	chainID        *big.Int
	gasBufferPct   int64
	confirmTimeout time.Duration
	pollInterval   time.Duration

	// Serializes nonce acquisition and broadcast for the shared admin wallet.
	nonceMu sync.Mutex
}

// NewService creates a chain Service. rpc may be nil when no RPC endpoint is
// configured; every mutating call then fails with ErrChainUnavailable.
func NewService(rpc RPC, chainID int64, gasBufferPct int64, confirmTimeout time.Duration) *Service {
	if gasBufferPct < 0 {
		gasBufferPct = 0
	}
	if confirmTimeout <= 0 {
		confirmTimeout = 2 * time.Minute
	}
	return &Service{
		rpc:            rpc,
		chainID:        big.NewInt(chainID),
		gasBufferPct:   gasBufferPct,
		confirmTimeout: confirmTimeout,
		pollInterval:   3 * time.Second,
	}
}

// EstimateGas queries current fee levels for a call and applies the safety
// buffer to both gas limit and gas price.
func (s *Service) EstimateGas(ctx context.Context, from, to common.Address, payload []byte) (*GasEstimate, error) {
	if s.rpc == nil {
		return nil, fmt.Errorf("%w: no RPC endpoint configured", ErrChainUnavailable)
	}

	gasPrice, err := s.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: gas price query failed: %v", ErrChainUnavailable, err)
	}

	gasLimit, err := s.rpc.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("%w: gas estimation failed: %v", ErrChainUnavailable, err)
	}

	buffered := s.applyBuffer(gasLimit)
	bufferedPrice := new(big.Int).Div(
		new(big.Int).Mul(gasPrice, big.NewInt(100+s.gasBufferPct)),
		big.NewInt(100),
	)

	return &GasEstimate{
		GasLimit:      buffered,
		GasPrice:      bufferedPrice,
		EstimatedCost: new(big.Int).Mul(bufferedPrice, new(big.Int).SetUint64(buffered)),
	}, nil
}

// Submit signs the payload with the handle, broadcasts it, and waits for
// confirmation within the bounded window. Nonce acquisition through broadcast
// run under the signer lock.
func (s *Service) Submit(ctx context.Context, handle *wallet.SigningHandle, to common.Address, payload []byte) (*SubmitResult, error) {
	if s.rpc == nil {
		return nil, fmt.Errorf("%w: no RPC endpoint configured", ErrChainUnavailable)
	}

	estimate, err := s.EstimateGas(ctx, handle.Address(), to, payload)
	if err != nil {
		return nil, err
	}

	signed, err := s.signAndBroadcast(ctx, handle, to, payload, estimate)
	if err != nil {
		return nil, err
	}

	return s.waitForReceipt(ctx, signed.Hash())
}

func (s *Service) signAndBroadcast(ctx context.Context, handle *wallet.SigningHandle, to common.Address, payload []byte, estimate *GasEstimate) (*types.Transaction, error) {
	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()

	nonce, err := s.rpc.PendingNonceAt(ctx, handle.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: nonce query failed: %v", ErrChainUnavailable, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      estimate.GasLimit,
		GasPrice: estimate.GasPrice,
		Data:     payload,
	})

	signed, err := handle.SignTx(tx, s.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.rpc.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("%w: broadcast failed: %v", ErrChainUnavailable, err)
	}

	log.Printf("broadcast transaction %s nonce=%d to=%s", signed.Hash().Hex(), nonce, to.Hex())
	return signed, nil
}

func (s *Service) waitForReceipt(ctx context.Context, txHash common.Hash) (*SubmitResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.rpc.TransactionReceipt(waitCtx, txHash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return nil, fmt.Errorf("%w: transaction %s reverted", ErrTransactionFailed, txHash.Hex())
			}
			return &SubmitResult{
				TransactionHash: txHash.Hex(),
				BlockNumber:     receipt.BlockNumber.Int64(),
				Logs:            receipt.Logs,
			}, nil
		}
		// The transaction is already on the wire. A failed receipt query here
		// must not surface a retryable error: callers would re-sign and
		// re-broadcast while the original is still confirmable. Keep polling
		// until the window expires instead.
		if !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil {
			log.Printf("receipt query for %s failed, will poll again: %v", txHash.Hex(), err)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: transaction %s", ErrTransactionTimeout, txHash.Hex())
		case <-ticker.C:
		}
	}
}

// CheckHealth probes chain connectivity and, when an admin address is known,
// its balance. It never returns an error.
func (s *Service) CheckHealth(ctx context.Context, adminAddress *common.Address) *Health {
	health := &Health{Configured: s.rpc != nil, ChainID: s.chainID.Int64()}
	if s.rpc == nil {
		health.Error = "no RPC endpoint configured"
		return health
	}

	if _, err := s.rpc.SuggestGasPrice(ctx); err != nil {
		health.Error = err.Error()
		return health
	}
	health.Connected = true

	if adminAddress != nil {
		balance, err := s.rpc.BalanceAt(ctx, *adminAddress, nil)
		if err != nil {
			health.Error = err.Error()
			return health
		}
		health.Balance = balance.String()
	}
	return health
}

// Retry runs fn up to attempts times, backing off between tries, retrying
// only chain-unavailable failures. Terminal errors pass through untouched.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrChainUnavailable) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay * time.Duration(i+1)):
		}
	}
	return err
}

func (s *Service) applyBuffer(gasLimit uint64) uint64 {
	return gasLimit + gasLimit*uint64(s.gasBufferPct)/100
}
