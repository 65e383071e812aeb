package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intentflow/internal/common/errors"
)

func newIntent(metadata map[string]interface{}) *Intent {
	return &Intent{
		ID:        uuid.NewString(),
		SessionID: "sess-1",
		Text:      "long btc 20x",
		Kind:      "perp",
		Status:    StatusQueued,
		Metadata:  metadata,
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	intent := newIntent(map[string]interface{}{"source": "batch"})
	require.NoError(t, store.CreateIntent(ctx, intent))

	got, err := store.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, intent.ID, got.ID)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, "batch", got.Metadata["source"])
	assert.Contains(t, got.StageTimes, string(StatusQueued))

	// The store hands out copies.
	got.Metadata["source"] = "mutated"
	again, err := store.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, "batch", again.Metadata["source"])
}

func TestMemoryStore_CreateIntentRejectsDuplicateID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	intent := newIntent(nil)
	require.NoError(t, store.CreateIntent(ctx, intent))
	require.NoError(t, store.FinalizeIntent(ctx, intent.ID, StatusConfirmed, nil, nil))

	dupe := newIntent(nil)
	dupe.ID = intent.ID
	assert.ErrorIs(t, store.CreateIntent(ctx, dupe), ErrDuplicateID)

	// The terminal row is untouched.
	got, err := store.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
}

func TestMemoryStore_GetUnknown(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetIntent(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_MonotonicTerminalGuard(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	intent := newIntent(nil)
	require.NoError(t, store.CreateIntent(ctx, intent))

	require.NoError(t, store.UpdateIntentStatus(ctx, intent.ID, StatusPlanned))
	require.NoError(t, store.UpdateIntentStatus(ctx, intent.ID, StatusExecuting))
	require.NoError(t, store.UpdateIntentStatus(ctx, intent.ID, StatusConfirmed))

	err := store.UpdateIntentStatus(ctx, intent.ID, StatusExecuting)
	assert.ErrorIs(t, err, ErrTerminalState)

	got, err := store.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
}

func TestMemoryStore_MetadataMergePreservesTags(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	intent := newIntent(map[string]interface{}{
		"source": "batch-runner",
		"runId":  "run-42",
	})
	require.NoError(t, store.CreateIntent(ctx, intent))

	require.NoError(t, store.UpdateIntentMetadata(ctx, intent.ID, map[string]interface{}{
		"route": map[string]interface{}{"chain": "ethereum"},
	}))
	require.NoError(t, store.UpdateIntentStatus(ctx, intent.ID, StatusRouted))
	require.NoError(t, store.UpdateIntentMetadata(ctx, intent.ID, map[string]interface{}{
		"txHash": "0xabc",
	}))

	got, err := store.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, "batch-runner", got.Metadata["source"])
	assert.Equal(t, "run-42", got.Metadata["runId"])
	assert.Equal(t, "0xabc", got.Metadata["txHash"])
	assert.NotNil(t, got.Metadata["route"])
}

func TestMemoryStore_FinalizeIntent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	intent := newIntent(nil)
	require.NoError(t, store.CreateIntent(ctx, intent))

	exec := &Execution{
		ID:            uuid.NewString(),
		Chain:         "ethereum",
		Network:       "mainnet",
		ExecutionType: "proof_only",
		TxHash:        "0xdeadbeef",
		Status:        ExecSucceeded,
	}
	require.NoError(t, store.FinalizeIntent(ctx, intent.ID, StatusConfirmed, exec, nil))

	got, err := store.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Nil(t, got.Error)

	execs := store.Executions(intent.ID)
	require.Len(t, execs, 1)
	assert.Equal(t, "0xdeadbeef", execs[0].TxHash)
	assert.Equal(t, intent.ID, execs[0].IntentID)
}

func TestMemoryStore_FinalizeWithStageError(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	intent := newIntent(nil)
	require.NoError(t, store.CreateIntent(ctx, intent))

	stageErr := errors.NewStageError(errors.StageExecute, errors.ErrCodeChainReverted, "execution reverted")
	require.NoError(t, store.FinalizeIntent(ctx, intent.ID, StatusFailed, nil, stageErr))

	got, err := store.GetIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, errors.StageExecute, got.Error.Stage)
	assert.Equal(t, errors.ErrCodeChainReverted, got.Error.Code)
}

func TestMemoryStore_FinalizeGuardLeavesNoExecutionRow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	intent := newIntent(nil)
	require.NoError(t, store.CreateIntent(ctx, intent))
	require.NoError(t, store.FinalizeIntent(ctx, intent.ID, StatusConfirmed, nil, nil))

	exec := &Execution{ID: uuid.NewString(), Chain: "ethereum", Network: "mainnet", ExecutionType: "proof_only"}
	err := store.FinalizeIntent(ctx, intent.ID, StatusFailed, exec, nil)
	assert.ErrorIs(t, err, ErrTerminalState)
	assert.Empty(t, store.Executions(intent.ID))
}

func TestMemoryStore_ExecutionsKeepInsertionOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	intent := newIntent(nil)
	require.NoError(t, store.CreateIntent(ctx, intent))

	var ids []string
	for i := 0; i < 8; i++ {
		exec := &Execution{
			ID:            uuid.NewString(),
			IntentID:      intent.ID,
			Chain:         "ethereum",
			Network:       "mainnet",
			ExecutionType: "proof_only",
		}
		require.NoError(t, store.CreateExecution(ctx, exec))
		ids = append(ids, exec.ID)
	}

	execs := store.Executions(intent.ID)
	require.Len(t, execs, len(ids))
	for i, exec := range execs {
		assert.Equal(t, ids[i], exec.ID)
	}
}

func TestMemoryStore_LinkExecution(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	intent := newIntent(nil)
	require.NoError(t, store.CreateIntent(ctx, intent))

	exec := &Execution{ID: uuid.NewString(), Chain: "solana", Network: "mainnet-beta", ExecutionType: "offchain"}
	require.NoError(t, store.CreateExecution(ctx, exec))
	require.NoError(t, store.LinkExecution(ctx, intent.ID, exec.ID))

	execs := store.Executions(intent.ID)
	require.Len(t, execs, 1)
	assert.Equal(t, exec.ID, execs[0].ID)

	assert.ErrorIs(t, store.LinkExecution(ctx, "missing", exec.ID), ErrNotFound)
	assert.ErrorIs(t, store.LinkExecution(ctx, intent.ID, "missing"), ErrNotFound)
}

func TestMemoryStore_UpdateExecution(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	exec := &Execution{ID: uuid.NewString(), Chain: "ethereum", Network: "mainnet", ExecutionType: "real", Status: ExecPending}
	require.NoError(t, store.CreateExecution(ctx, exec))

	exec.Status = ExecSucceeded
	exec.TxHash = "0xabc"
	exec.LatencyMs = 1200
	require.NoError(t, store.UpdateExecution(ctx, exec))

	assert.ErrorIs(t, store.UpdateExecution(ctx, &Execution{ID: "missing"}), ErrNotFound)
}
