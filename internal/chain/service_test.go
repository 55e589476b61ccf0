package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/vinculobrasil/settlement-service/internal/domain"
	"github.com/vinculobrasil/settlement-service/internal/store"
	"github.com/vinculobrasil/settlement-service/internal/wallet"
)

// stubRPC simulates the EVM endpoint. Receipts appear after a configurable
// number of polls; PendingNonceAt/SendTransaction pairs verify nonce
// serialization.
type stubRPC struct {
	mu sync.Mutex

	gasPrice    *big.Int
	gasPriceErr error
	gasLimit    uint64
	gasErr      error

	nextNonce     uint64
	inFlightNonce *uint64
	nonceClash    bool
	sendErr       error
	sent          []*types.Transaction

	receipt         *types.Receipt
	receiptPolls    int // polls before the receipt materializes
	receiptErr      error
	receiptErrPolls int // polls that fail with receiptErr first

	balance *big.Int
}

func (s *stubRPC) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if s.gasPriceErr != nil {
		return nil, s.gasPriceErr
	}
	return s.gasPrice, nil
}

func (s *stubRPC) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	if s.gasErr != nil {
		return 0, s.gasErr
	}
	return s.gasLimit, nil
}

func (s *stubRPC) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlightNonce != nil {
		// Another submission fetched a nonce and has not broadcast yet.
		s.nonceClash = true
	}
	nonce := s.nextNonce
	s.inFlightNonce = &nonce
	s.nextNonce++
	return nonce, nil
}

func (s *stubRPC) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		s.inFlightNonce = nil
		return s.sendErr
	}
	if s.inFlightNonce == nil || tx.Nonce() != *s.inFlightNonce {
		s.nonceClash = true
	}
	s.inFlightNonce = nil
	s.sent = append(s.sent, tx)
	return nil
}

func (s *stubRPC) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receiptErrPolls > 0 {
		s.receiptErrPolls--
		return nil, s.receiptErr
	}
	if s.receiptPolls > 0 {
		s.receiptPolls--
		return nil, ethereum.NotFound
	}
	if s.receipt == nil {
		return nil, ethereum.NotFound
	}
	return s.receipt, nil
}

func (s *stubRPC) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return s.balance, nil
}

type memWalletRepo struct {
	wallets map[uuid.UUID]*domain.ManagedWallet
}

func (m *memWalletRepo) FindManagedWalletByOwnerID(ctx context.Context, ownerID uuid.UUID) (*domain.ManagedWallet, error) {
	w, ok := m.wallets[ownerID]
	if !ok {
		return nil, store.ErrWalletNotFound
	}
	return w, nil
}

func (m *memWalletRepo) InsertManagedWallet(ctx context.Context, w *domain.ManagedWallet) (bool, error) {
	m.wallets[w.OwnerID] = w
	return true, nil
}

func (m *memWalletRepo) ListAccountsWithoutWallet(ctx context.Context) ([]uuid.UUID, error) {
	return nil, nil
}

func testHandle(t *testing.T) *wallet.SigningHandle {
	t.Helper()
	cipher, err := wallet.NewCipher("6368616e676520746869732070617373776f726420746f206120736563726574")
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	manager := wallet.NewManager(&memWalletRepo{wallets: map[uuid.UUID]*domain.ManagedWallet{}}, cipher)
	ownerID := uuid.New()
	if _, err := manager.CreateManagedWallet(context.Background(), ownerID); err != nil {
		t.Fatalf("CreateManagedWallet: %v", err)
	}
	handle, err := manager.GetUserWallet(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("GetUserWallet: %v", err)
	}
	return handle
}

func fastService(rpc RPC) *Service {
	svc := NewService(rpc, 80002, 20, time.Second)
	svc.pollInterval = time.Millisecond
	return svc
}

func successReceipt(block int64) *types.Receipt {
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(block),
		Logs:        []*types.Log{{Address: common.HexToAddress("0xc1")}},
	}
}

func TestEstimateGasAppliesBuffer(t *testing.T) {
	rpc := &stubRPC{gasPrice: big.NewInt(100), gasLimit: 1000}
	svc := fastService(rpc)

	estimate, err := svc.EstimateGas(context.Background(), common.Address{}, common.Address{}, nil)
	if err != nil {
		t.Fatalf("EstimateGas: %v", err)
	}
	if estimate.GasLimit != 1200 {
		t.Errorf("gas limit = %d, want 1200 (20%% buffer)", estimate.GasLimit)
	}
	if estimate.GasPrice.Int64() != 120 {
		t.Errorf("gas price = %s, want 120", estimate.GasPrice)
	}
	if estimate.EstimatedCost.Int64() != 1200*120 {
		t.Errorf("estimated cost = %s, want %d", estimate.EstimatedCost, 1200*120)
	}
}

func TestEstimateGasWithoutRPC(t *testing.T) {
	svc := NewService(nil, 80002, 20, time.Second)
	if _, err := svc.EstimateGas(context.Background(), common.Address{}, common.Address{}, nil); !errors.Is(err, ErrChainUnavailable) {
		t.Fatalf("err = %v, want ErrChainUnavailable", err)
	}
}

func TestEstimateGasMapsRPCFailures(t *testing.T) {
	rpc := &stubRPC{gasPriceErr: errors.New("connection refused")}
	svc := fastService(rpc)
	if _, err := svc.EstimateGas(context.Background(), common.Address{}, common.Address{}, nil); !errors.Is(err, ErrChainUnavailable) {
		t.Fatalf("err = %v, want ErrChainUnavailable", err)
	}
}

func TestSubmitConfirms(t *testing.T) {
	rpc := &stubRPC{gasPrice: big.NewInt(100), gasLimit: 21000, receipt: successReceipt(42), receiptPolls: 2}
	svc := fastService(rpc)
	handle := testHandle(t)

	result, err := svc.Submit(context.Background(), handle, common.HexToAddress("0xc1"), []byte{0x01})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.BlockNumber != 42 {
		t.Errorf("block number = %d, want 42", result.BlockNumber)
	}
	if len(result.Logs) != 1 {
		t.Errorf("result carried %d logs, want 1", len(result.Logs))
	}
	if len(rpc.sent) != 1 {
		t.Fatalf("broadcast %d transactions, want 1", len(rpc.sent))
	}
	if result.TransactionHash != rpc.sent[0].Hash().Hex() {
		t.Error("result hash does not match the broadcast transaction")
	}
}

func TestSubmitRevertedTransaction(t *testing.T) {
	reverted := &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(42)}
	rpc := &stubRPC{gasPrice: big.NewInt(100), gasLimit: 21000, receipt: reverted}
	svc := fastService(rpc)

	_, err := svc.Submit(context.Background(), testHandle(t), common.HexToAddress("0xc1"), nil)
	if !errors.Is(err, ErrTransactionFailed) {
		t.Fatalf("err = %v, want ErrTransactionFailed", err)
	}
}

func TestSubmitTimesOut(t *testing.T) {
	rpc := &stubRPC{gasPrice: big.NewInt(100), gasLimit: 21000} // receipt never appears
	svc := NewService(rpc, 80002, 20, 20*time.Millisecond)
	svc.pollInterval = time.Millisecond

	_, err := svc.Submit(context.Background(), testHandle(t), common.HexToAddress("0xc1"), nil)
	if !errors.Is(err, ErrTransactionTimeout) {
		t.Fatalf("err = %v, want ErrTransactionTimeout", err)
	}
}

func TestSubmitConfirmsDespiteReceiptQueryBlip(t *testing.T) {
	rpc := &stubRPC{
		gasPrice:        big.NewInt(100),
		gasLimit:        21000,
		receipt:         successReceipt(7),
		receiptErr:      errors.New("read tcp: i/o timeout"),
		receiptErrPolls: 2,
	}
	svc := fastService(rpc)

	result, err := svc.Submit(context.Background(), testHandle(t), common.HexToAddress("0xc1"), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.BlockNumber != 7 {
		t.Errorf("block number = %d, want 7", result.BlockNumber)
	}
	if len(rpc.sent) != 1 {
		t.Fatalf("broadcast %d transactions, want 1", len(rpc.sent))
	}
}

func TestReceiptQueryFailuresNeverTriggerResubmit(t *testing.T) {
	rpc := &stubRPC{
		gasPrice:        big.NewInt(100),
		gasLimit:        21000,
		receiptErr:      errors.New("connection reset by peer"),
		receiptErrPolls: 1 << 30, // fails for the whole window
	}
	svc := NewService(rpc, 80002, 20, 20*time.Millisecond)
	svc.pollInterval = time.Millisecond
	handle := testHandle(t)

	var submitErr error
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		_, submitErr = svc.Submit(context.Background(), handle, common.HexToAddress("0xc1"), nil)
		return submitErr
	})
	if !errors.Is(err, ErrTransactionTimeout) {
		t.Fatalf("err = %v, want ErrTransactionTimeout", err)
	}
	if len(rpc.sent) != 1 {
		t.Fatalf("broadcast %d transactions for one logical operation, want 1", len(rpc.sent))
	}
}

func TestSubmitBroadcastFailure(t *testing.T) {
	rpc := &stubRPC{gasPrice: big.NewInt(100), gasLimit: 21000, sendErr: errors.New("nonce too low")}
	svc := fastService(rpc)

	_, err := svc.Submit(context.Background(), testHandle(t), common.HexToAddress("0xc1"), nil)
	if !errors.Is(err, ErrChainUnavailable) {
		t.Fatalf("err = %v, want ErrChainUnavailable", err)
	}
}

func TestSubmitSerializesNonces(t *testing.T) {
	rpc := &stubRPC{gasPrice: big.NewInt(100), gasLimit: 21000, receipt: successReceipt(1)}
	svc := fastService(rpc)
	handle := testHandle(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Submit(context.Background(), handle, common.HexToAddress("0xc1"), nil); err != nil {
				t.Errorf("Submit: %v", err)
			}
		}()
	}
	wg.Wait()

	if rpc.nonceClash {
		t.Fatal("concurrent submissions interleaved nonce fetch and broadcast")
	}
	seen := map[uint64]bool{}
	for _, tx := range rpc.sent {
		if seen[tx.Nonce()] {
			t.Fatalf("nonce %d used twice", tx.Nonce())
		}
		seen[tx.Nonce()] = true
	}
}

func TestCheckHealth(t *testing.T) {
	t.Run("unconfigured", func(t *testing.T) {
		health := NewService(nil, 80002, 20, time.Second).CheckHealth(context.Background(), nil)
		if health.Configured || health.Connected || health.Error == "" {
			t.Errorf("unexpected health: %+v", health)
		}
	})

	t.Run("connected with balance", func(t *testing.T) {
		rpc := &stubRPC{gasPrice: big.NewInt(100), balance: big.NewInt(5000)}
		addr := common.HexToAddress("0xaaaa")
		health := fastService(rpc).CheckHealth(context.Background(), &addr)
		if !health.Configured || !health.Connected {
			t.Errorf("unexpected health: %+v", health)
		}
		if health.Balance != "5000" {
			t.Errorf("balance = %q, want 5000", health.Balance)
		}
	})

	t.Run("rpc down", func(t *testing.T) {
		rpc := &stubRPC{gasPriceErr: errors.New("connection refused")}
		health := fastService(rpc).CheckHealth(context.Background(), nil)
		if !health.Configured || health.Connected || health.Error == "" {
			t.Errorf("unexpected health: %+v", health)
		}
	})
}

func TestRetry(t *testing.T) {
	t.Run("retries transient failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), 3, time.Millisecond, func() error {
			calls++
			if calls < 3 {
				return ErrChainUnavailable
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Fatalf("err = %v after %d calls", err, calls)
		}
	})

	t.Run("terminal errors pass through", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), 3, time.Millisecond, func() error {
			calls++
			return ErrTransactionFailed
		})
		if !errors.Is(err, ErrTransactionFailed) || calls != 1 {
			t.Fatalf("err = %v after %d calls, want one terminal failure", err, calls)
		}
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), 3, time.Millisecond, func() error {
			calls++
			return ErrChainUnavailable
		})
		if !errors.Is(err, ErrChainUnavailable) || calls != 3 {
			t.Fatalf("err = %v after %d calls", err, calls)
		}
	})
}
