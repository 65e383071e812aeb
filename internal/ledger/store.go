package ledger

import (
	"context"
	goerrors "errors"

	"intentflow/internal/common/errors"
)

var (
	// ErrNotFound is returned when an intent or execution id is unknown.
	ErrNotFound = goerrors.New("ledger: not found")
	// ErrTerminalState is returned on an attempt to move an intent out of
	// confirmed or failed.
	ErrTerminalState = goerrors.New("ledger: intent already terminal")
	// ErrDuplicateID is returned when an intent id is already taken. The
	// Postgres store surfaces the same condition as a primary-key violation.
	ErrDuplicateID = goerrors.New("ledger: intent id already exists")
)

// Store is the ledger contract the coordinator writes through. Metadata
// updates merge: caller-supplied tags survive every status update.
// FinalizeIntent writes the execution row and the parent's terminal status
// in one transaction.
type Store interface {
	CreateIntent(ctx context.Context, intent *Intent) error
	GetIntent(ctx context.Context, id string) (*Intent, error)
	UpdateIntentStatus(ctx context.Context, id string, status Status) error
	UpdateIntentMetadata(ctx context.Context, id string, patch map[string]interface{}) error

	CreateExecution(ctx context.Context, exec *Execution) error
	UpdateExecution(ctx context.Context, exec *Execution) error
	LinkExecution(ctx context.Context, intentID, executionID string) error

	FinalizeIntent(ctx context.Context, intentID string, status Status, exec *Execution, stageErr *errors.StageError) error
}

// mergeMetadata overlays patch onto base without dropping existing keys.
func mergeMetadata(base, patch map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}
