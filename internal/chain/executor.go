// Package chain submits intent transactions and waits for their receipts.
// The Executor contract is what the coordinator dispatches to; the EVM
// implementation signs and sends through go-ethereum, and a proof operation
// is a zero-value self-transfer carrying the intent payload in calldata.
package chain

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math/big"
	"time"
)

// ErrReceiptTimeout is returned when no receipt arrived inside the
// confirmation window. The transaction may still land: callers map this to
// a pending outcome, never to a failure.
var ErrReceiptTimeout = stderrors.New("chain: receipt wait timed out")

// Operation is one transaction to submit.
type Operation struct {
	IntentID string
	Kind     string
	Chain    string
	Network  string
	// To is the destination address; empty means self-transfer.
	To       string
	ValueWei *big.Int
	Data     []byte
	GasLimit uint64
}

// Receipt is the confirmation outcome of a submitted transaction.
type Receipt struct {
	TxHash      string
	Status      uint64
	BlockNumber uint64
	GasUsed     uint64
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool { return r.Status == 1 }

// Executor is the chain-side collaborator contract.
type Executor interface {
	Submit(ctx context.Context, op Operation) (string, error)
	WaitForReceipt(ctx context.Context, txHash string, timeout time.Duration) (*Receipt, error)
	PendingNonce(ctx context.Context, address string) (uint64, error)
}

// proofPayloadVersion tags the calldata format of proof transactions.
const proofPayloadVersion = "intentflow/1"

// NewProofOperation builds the zero-value marker transaction recorded when
// real execution is not wired: the intent payload travels in calldata.
func NewProofOperation(intentID, kind, chain, network string, payload map[string]interface{}) (Operation, error) {
	body, err := json.Marshal(map[string]interface{}{
		"v":      proofPayloadVersion,
		"intent": intentID,
		"kind":   kind,
		"data":   payload,
	})
	if err != nil {
		return Operation{}, fmt.Errorf("marshal proof payload: %w", err)
	}
	return Operation{
		IntentID: intentID,
		Kind:     kind,
		Chain:    chain,
		Network:  network,
		ValueWei: big.NewInt(0),
		Data:     body,
	}, nil
}
