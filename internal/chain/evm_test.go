package chain

import (
	"context"
	stderrors "errors"
	"math/big"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intentflow/internal/common/errors"
	"intentflow/internal/common/logger"
)

type fakeBackend struct {
	nonce       uint64
	nonceReads  int
	sent        []*coretypes.Transaction
	sendErrs    []error
	receipt     *coretypes.Receipt
	receiptErr  error
	receiptPoll int
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.nonceReads++
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *coretypes.Transaction) error {
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*coretypes.Receipt, error) {
	f.receiptPoll++
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	if f.receipt == nil {
		return nil, gethcore.NotFound
	}
	return f.receipt, nil
}

func newTestExecutor(t *testing.T, backend *fakeBackend) *EVMExecutor {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &EVMExecutor{
		backend:      backend,
		chainID:      big.NewInt(1),
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		gasLimit:     defaultGasLimit,
		pollInterval: time.Millisecond,
		log:          logger.NewNoOpLogger(),
	}
}

func TestSubmit_SignsAndSends(t *testing.T) {
	backend := &fakeBackend{nonce: 7}
	executor := newTestExecutor(t, backend)

	op, err := NewProofOperation("intent-1", "swap", "ethereum", "mainnet", map[string]interface{}{"amount": "100"})
	require.NoError(t, err)

	txHash, err := executor.Submit(context.Background(), op)
	require.NoError(t, err)
	assert.NotEmpty(t, txHash)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, executor.from, *tx.To()) // self-transfer
	assert.Zero(t, tx.Value().Sign())
	assert.Contains(t, string(tx.Data()), "intent-1")
}

func TestSubmit_NonceConflictResubmitsOnce(t *testing.T) {
	backend := &fakeBackend{
		nonce:    3,
		sendErrs: []error{stderrors.New("nonce too low")},
	}
	executor := newTestExecutor(t, backend)

	txHash, err := executor.Submit(context.Background(), Operation{IntentID: "intent-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, txHash)
	assert.Equal(t, 2, backend.nonceReads)
	assert.Len(t, backend.sent, 1)
}

func TestSubmit_NonceConflictFailsAfterSecondAttempt(t *testing.T) {
	backend := &fakeBackend{
		sendErrs: []error{stderrors.New("nonce too low"), stderrors.New("nonce too low")},
	}
	executor := newTestExecutor(t, backend)

	_, err := executor.Submit(context.Background(), Operation{IntentID: "intent-1"})
	require.Error(t, err)

	var stageErr *errors.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, errors.ErrCodeNonceConflict, stageErr.Code)
	assert.Empty(t, backend.sent)
}

func TestSubmit_InsufficientFunds(t *testing.T) {
	backend := &fakeBackend{
		sendErrs: []error{stderrors.New("insufficient funds for gas * price + value")},
	}
	executor := newTestExecutor(t, backend)

	_, err := executor.Submit(context.Background(), Operation{IntentID: "intent-1"})
	var stageErr *errors.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, errors.ErrCodeInsufficientBalance, stageErr.Code)
}

func TestWaitForReceipt_ReturnsReceipt(t *testing.T) {
	backend := &fakeBackend{
		receipt: &coretypes.Receipt{
			Status:      coretypes.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(1234),
			GasUsed:     21000,
		},
	}
	executor := newTestExecutor(t, backend)

	receipt, err := executor.WaitForReceipt(context.Background(), "0xabc", time.Second)
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	assert.Equal(t, uint64(1234), receipt.BlockNumber)
}

func TestWaitForReceipt_TimesOut(t *testing.T) {
	backend := &fakeBackend{} // never returns a receipt
	executor := newTestExecutor(t, backend)

	_, err := executor.WaitForReceipt(context.Background(), "0xabc", 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrReceiptTimeout)
	assert.Greater(t, backend.receiptPoll, 1)
}

func TestBuildExplorerURL(t *testing.T) {
	assert.Equal(t, "https://etherscan.io/tx/0xabc", BuildExplorerURL("ethereum", "mainnet", "0xabc"))
	assert.Equal(t, "https://arbiscan.io/tx/0xabc", BuildExplorerURL("arbitrum", "arbitrum-one", "0xabc"))
	// unknown network falls back to the chain's mainnet explorer
	assert.Equal(t, "https://etherscan.io/tx/0xabc", BuildExplorerURL("ethereum", "devnet", "0xabc"))
	assert.Empty(t, BuildExplorerURL("unknown", "mainnet", "0xabc"))
	assert.Empty(t, BuildExplorerURL("ethereum", "mainnet", ""))
}
