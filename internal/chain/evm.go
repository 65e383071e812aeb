package chain

import (
	"context"
	"crypto/ecdsa"
	stderrors "errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"intentflow/internal/common/config"
	"intentflow/internal/common/errors"
	"intentflow/internal/common/logger"
)

// defaultGasLimit covers a plain transfer with calldata headroom.
const defaultGasLimit = 100_000

// rpcBackend is the subset of the eth client the executor needs; tests
// inject a fake.
type rpcBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// EVMExecutor signs and submits transactions to one EVM chain.
type EVMExecutor struct {
	backend      rpcBackend
	chainID      *big.Int
	key          *ecdsa.PrivateKey
	from         common.Address
	gasLimit     uint64
	pollInterval time.Duration
	log          logger.Logger
}

// NewEVMExecutor dials the chain's RPC endpoint and derives the signer
// address from the configured key.
func NewEVMExecutor(ctx context.Context, chainCfg config.ChainConfig, execCfg config.ExecutionConfig, log logger.Logger) (*EVMExecutor, error) {
	if chainCfg.RPCURL == "" {
		return nil, errors.NewStageError(errors.StageExecute, errors.ErrCodeConfigMissing, "no rpc_url configured")
	}
	if !chainCfg.HasSigner() {
		return nil, errors.NewStageError(errors.StageExecute, errors.ErrCodeSignerNotConfigured, "no signer key configured")
	}

	eth, err := ethclient.DialContext(ctx, chainCfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", chainCfg.RPCURL, err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(chainCfg.SignerKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}

	chainID := big.NewInt(chainCfg.ChainID)
	if chainCfg.ChainID == 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("read chain id: %w", err)
		}
	}

	gasLimit := execCfg.GasLimit
	if gasLimit == 0 {
		gasLimit = defaultGasLimit
	}
	pollInterval := time.Duration(execCfg.ReceiptPollMs) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	return &EVMExecutor{
		backend:      eth,
		chainID:      chainID,
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		gasLimit:     gasLimit,
		pollInterval: pollInterval,
		log:          log,
	}, nil
}

// From returns the signer address.
func (e *EVMExecutor) From() string { return e.from.Hex() }

// Submit signs and sends the operation. A nonce conflict triggers exactly
// one resubmit with a freshly read pending nonce; every other failure maps
// to a stage error and returns.
func (e *EVMExecutor) Submit(ctx context.Context, op Operation) (string, error) {
	nonce, err := e.backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return "", errors.WrapStage(errors.StageExecute, errors.ErrCodeSubmissionFailed, err)
	}

	txHash, err := e.sendWithNonce(ctx, op, nonce)
	if err == nil {
		return txHash, nil
	}
	if !isNonceConflict(err) {
		return "", classifySubmitError(err)
	}

	if e.log != nil {
		e.log.Warn("nonce conflict, re-reading pending nonce", map[string]interface{}{
			"intent_id": op.IntentID,
			"nonce":     nonce,
		})
	}
	nonce, nerr := e.backend.PendingNonceAt(ctx, e.from)
	if nerr != nil {
		return "", errors.WrapStage(errors.StageExecute, errors.ErrCodeNonceConflict, nerr)
	}
	txHash, err = e.sendWithNonce(ctx, op, nonce)
	if err != nil {
		return "", classifySubmitError(err)
	}
	return txHash, nil
}

func (e *EVMExecutor) sendWithNonce(ctx context.Context, op Operation, nonce uint64) (string, error) {
	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", err
	}

	to := e.from
	if op.To != "" {
		to = common.HexToAddress(op.To)
	}
	value := op.ValueWei
	if value == nil {
		value = big.NewInt(0)
	}
	gasLimit := op.GasLimit
	if gasLimit == 0 {
		gasLimit = e.gasLimit
	}

	tx := coretypes.NewTransaction(nonce, to, value, gasLimit, gasPrice, op.Data)
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(e.chainID), e.key)
	if err != nil {
		return "", err
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return "", err
	}
	return signed.Hash().Hex(), nil
}

// WaitForReceipt polls for the receipt until the timeout elapses.
func (e *EVMExecutor) WaitForReceipt(ctx context.Context, txHash string, timeout time.Duration) (*Receipt, error) {
	deadline := time.Now().Add(timeout)
	hash := common.HexToHash(txHash)

	for {
		receipt, err := e.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return &Receipt{
				TxHash:      txHash,
				Status:      receipt.Status,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
			}, nil
		}
		if err != nil && !stderrors.Is(err, gethcore.NotFound) {
			return nil, errors.WrapStage(errors.StageConfirm, errors.ErrCodeExternalServiceError, err)
		}
		if time.Now().After(deadline) {
			return nil, ErrReceiptTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.pollInterval):
		}
	}
}

// PendingNonce reads the pending nonce for an address, defaulting to the
// signer's own.
func (e *EVMExecutor) PendingNonce(ctx context.Context, address string) (uint64, error) {
	addr := e.from
	if address != "" {
		addr = common.HexToAddress(address)
	}
	return e.backend.PendingNonceAt(ctx, addr)
}

func isNonceConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "nonce too high") ||
		strings.Contains(msg, "replacement transaction underpriced") ||
		strings.Contains(msg, "already known")
}

// classifySubmitError maps RPC failures to the execution error taxonomy.
func classifySubmitError(err error) *errors.StageError {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return errors.WrapStage(errors.StageExecute, errors.ErrCodeInsufficientBalance, err)
	case isNonceConflict(err):
		return errors.WrapStage(errors.StageExecute, errors.ErrCodeNonceConflict, err)
	case strings.Contains(msg, "execution reverted"):
		return errors.WrapStage(errors.StageExecute, errors.ErrCodeChainReverted, err)
	default:
		return errors.WrapStage(errors.StageExecute, errors.ErrCodeSubmissionFailed, err)
	}
}
