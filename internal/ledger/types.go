// Package ledger is the durable record of every intent and each chain-side
// execution attempt it spawned. The store owns the lifecycle guard: terminal
// statuses never regress.
package ledger

import (
	"time"

	"intentflow/internal/common/errors"
)

// Status is an intent's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusPlanned   Status = "planned"
	StatusRouted    Status = "routed"
	StatusExecuting Status = "executing"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	// StatusPending marks a submitted transaction whose confirmation timed
	// out. The transaction may still land; reconciliation happens out of
	// band, so pending is not terminal.
	StatusPending Status = "pending"
)

// IsTerminal reports whether a status can never change again.
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Intent is the durable record of one user request. The coordinator owns all
// mutation; parser and router only return structures it persists.
type Intent struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"sessionId"`
	Text      string                 `json:"text"`
	Kind      string                 `json:"kind"`
	Status    Status                 `json:"status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	// StageTimes records when each status was entered.
	StageTimes map[string]time.Time `json:"stageTimes,omitempty"`
	Error      *errors.StageError   `json:"error,omitempty"`
	CreatedAt  time.Time            `json:"createdAt"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}

// ExecStatus is the numeric outcome of one execution attempt, mirroring an
// EVM receipt status.
type ExecStatus int

const (
	ExecFailed    ExecStatus = 0
	ExecSucceeded ExecStatus = 1
	// ExecPending marks a submitted transaction with no receipt inside the
	// confirmation window.
	ExecPending ExecStatus = 2
)

// Execution is one chain-side (or off-chain) attempt belonging to an intent.
// A bridge intent spawns two: a source proof and a destination proof.
type Execution struct {
	ID            string     `json:"id"`
	IntentID      string     `json:"intentId"`
	Chain         string     `json:"chain"`
	Network       string     `json:"network"`
	Venue         string     `json:"venue,omitempty"`
	ExecutionType string     `json:"executionType"`
	TxHash        string     `json:"txHash,omitempty"`
	ExplorerURL   string     `json:"explorerUrl,omitempty"`
	Status        ExecStatus `json:"status"`
	LatencyMs     int64      `json:"latencyMs"`
	ErrorDetail   string     `json:"errorDetail,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}
