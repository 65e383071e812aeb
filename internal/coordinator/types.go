package coordinator

import (
	"context"

	"intentflow/internal/common/errors"
)

// Request is one pipeline invocation.
type Request struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	// PreferredChain pins routing to a chain when set.
	PreferredChain string `json:"preferredChain,omitempty"`
	// PlanOnly stops after routing and returns the plan.
	PlanOnly bool `json:"planOnly,omitempty"`
	// ConfirmedIntentID re-enters a pending_confirmation result: the policy
	// check is bypassed and the transition forced.
	ConfirmedIntentID string `json:"confirmedIntentId,omitempty"`
	// Metadata tags (source/domain/run-id/category) survive every ledger
	// update.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// StatusPendingConfirmation is the one result status with no ledger backing:
// the pipeline halted before creating the intent row.
const StatusPendingConfirmation = "pending_confirmation"

// Result is the stable shape every Process call returns; the entry point
// never fails any other way.
type Result struct {
	OK          bool                   `json:"ok"`
	IntentID    string                 `json:"intentId,omitempty"`
	Status      string                 `json:"status"`
	ExecutionID string                 `json:"executionId,omitempty"`
	TxHash      string                 `json:"txHash,omitempty"`
	ExplorerURL string                 `json:"explorerUrl,omitempty"`
	Error       *errors.StageError     `json:"error,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Feedback receives terminal intent outcomes for reputation scoring. Calls
// are fire-and-forget: failures are logged, never surfaced.
type Feedback interface {
	RecordOutcome(ctx context.Context, sessionID, intentID string, ok bool) error
}
