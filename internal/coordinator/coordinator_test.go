package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intentflow/internal/capability"
	"intentflow/internal/chain"
	"intentflow/internal/common/config"
	"intentflow/internal/common/errors"
	"intentflow/internal/common/logger"
	"intentflow/internal/ledger"
	"intentflow/internal/policy"
	"intentflow/internal/pricing"
	"intentflow/internal/router"
)

// fakeExecutor records submitted operations and replays scripted outcomes.
type fakeExecutor struct {
	mu          sync.Mutex
	ops         []chain.Operation
	submitCalls int
	submitErrs  []error
	receipt     *chain.Receipt
	waitErr     error
	panicMsg    string
}

func (f *fakeExecutor) Submit(_ context.Context, op chain.Operation) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.submitCalls++
	f.ops = append(f.ops, op)
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("0x%064x", f.submitCalls), nil
}

func (f *fakeExecutor) WaitForReceipt(_ context.Context, txHash string, _ time.Duration) (*chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	if f.receipt != nil {
		return f.receipt, nil
	}
	return &chain.Receipt{TxHash: txHash, Status: 1, BlockNumber: 100}, nil
}

func (f *fakeExecutor) PendingNonce(context.Context, string) (uint64, error) { return 0, nil }

func (f *fakeExecutor) opsForChain(name string) []chain.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chain.Operation
	for _, op := range f.ops {
		if op.Chain == name {
			out = append(out, op)
		}
	}
	return out
}

type fakeValidator struct {
	verdict *capability.Verdict
	err     error
}

func (f *fakeValidator) Validate(context.Context, capability.Input) (*capability.Verdict, error) {
	return f.verdict, f.err
}

type fakeFeedback struct {
	mu       sync.Mutex
	outcomes []bool
}

func (f *fakeFeedback) RecordOutcome(_ context.Context, _, _ string, ok bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, ok)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Chains: map[string]config.ChainConfig{
			"ethereum": {Network: "mainnet", Enabled: true},
			"arbitrum": {Network: "mainnet", Enabled: true},
		},
		Routing: config.RoutingConfig{
			DefaultChain: "ethereum",
			Adapters:     map[string]bool{},
		},
		Policy: config.PolicyConfig{
			ExecutionConfirmUSD: 1e9,
			BridgeConfirmUSD:    1e9,
			PerpConfirmUSD:      1e9,
			MaxTransitionDepth:  50,
		},
		Resilience: config.ResilienceConfig{
			MaxAttempts: 3,
			BaseDelayMs: 1,
			MaxDelayMs:  2,
		},
		Execution: config.ExecutionConfig{ConfirmTimeoutMs: 200, ReceiptPollMs: 10},
	}
}

func newTestPipeline(t *testing.T, mutate func(cfg *config.Config, deps *Deps)) (*Coordinator, *ledger.MemoryStore, *fakeExecutor) {
	t.Helper()

	cfg := testConfig()
	store := ledger.NewMemoryStore()
	exec := &fakeExecutor{}
	log := logger.NewTestLogger(t)

	deps := Deps{
		Store:     store,
		Router:    router.New(cfg.Chains, cfg.Routing),
		Estimator: pricing.NewEstimator(pricing.NewStaticSource(nil), log),
		Executors: map[string]chain.Executor{"ethereum": exec, "arbitrum": exec},
		Log:       log,
	}
	if mutate != nil {
		mutate(cfg, &deps)
	}
	// Build the engine after mutate so config overrides take effect.
	if deps.Engine == nil {
		deps.Engine = policy.NewEngine(cfg.Policy, nil, log)
	}
	return New(cfg, deps), store, exec
}

func TestProcess_SwapConfirmed(t *testing.T) {
	co, store, exec := newTestPipeline(t, nil)

	res := co.Process(context.Background(), Request{
		SessionID: "sess-1",
		Text:      "swap 1000 USDC to ETH",
	})

	require.True(t, res.OK)
	assert.Equal(t, string(ledger.StatusConfirmed), res.Status)
	require.NotEmpty(t, res.IntentID)
	assert.NotEmpty(t, res.ExecutionID)
	assert.NotEmpty(t, res.TxHash)
	assert.Contains(t, res.ExplorerURL, res.TxHash)

	intent, err := store.GetIntent(context.Background(), res.IntentID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusConfirmed, intent.Status)
	assert.Equal(t, "swap", intent.Kind)
	assert.Equal(t, 1000.0, intent.Metadata["usdEstimate"])

	execs := store.Executions(res.IntentID)
	require.Len(t, execs, 1)
	assert.Equal(t, ledger.ExecSucceeded, execs[0].Status)
	assert.Equal(t, "ethereum", execs[0].Chain)

	require.Len(t, exec.ops, 1)
	assert.Equal(t, res.IntentID, exec.ops[0].IntentID)
}

func TestProcess_ReceiptTimeoutIsPending(t *testing.T) {
	co, store, exec := newTestPipeline(t, nil)
	exec.waitErr = chain.ErrReceiptTimeout

	res := co.Process(context.Background(), Request{
		SessionID: "sess-1",
		Text:      "swap 1000 USDC to ETH",
	})

	// a missing receipt is not a failure
	require.True(t, res.OK)
	assert.Equal(t, string(ledger.StatusPending), res.Status)
	assert.Nil(t, res.Error)
	assert.NotEmpty(t, res.TxHash)

	intent, err := store.GetIntent(context.Background(), res.IntentID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, intent.Status)

	execs := store.Executions(res.IntentID)
	require.Len(t, execs, 1)
	assert.Equal(t, ledger.ExecPending, execs[0].Status)
}

func TestProcess_HighValueConfirmationAndReentry(t *testing.T) {
	co, store, _ := newTestPipeline(t, func(cfg *config.Config, _ *Deps) {
		cfg.Policy.ExecutionConfirmUSD = 500
	})
	ctx := context.Background()

	first := co.Process(ctx, Request{SessionID: "sess-1", Text: "swap 1000 USDC to ETH"})
	require.True(t, first.OK)
	assert.Equal(t, StatusPendingConfirmation, first.Status)
	require.NotEmpty(t, first.IntentID)
	assert.Equal(t, policy.ConfirmHighValue, first.Metadata["confirmationType"])

	// no ledger row until the caller confirms
	_, err := store.GetIntent(ctx, first.IntentID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	second := co.Process(ctx, Request{
		SessionID:         "sess-1",
		Text:              "swap 1000 USDC to ETH",
		ConfirmedIntentID: first.IntentID,
	})
	require.True(t, second.OK)
	assert.Equal(t, first.IntentID, second.IntentID)
	assert.Equal(t, string(ledger.StatusConfirmed), second.Status)

	intent, err := store.GetIntent(ctx, first.IntentID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusConfirmed, intent.Status)
}

func TestProcess_DuplicateConfirmedReentryReplaysResult(t *testing.T) {
	co, store, exec := newTestPipeline(t, func(cfg *config.Config, _ *Deps) {
		cfg.Policy.ExecutionConfirmUSD = 500
	})
	ctx := context.Background()

	first := co.Process(ctx, Request{SessionID: "sess-1", Text: "swap 1000 USDC to ETH"})
	require.Equal(t, StatusPendingConfirmation, first.Status)

	confirmed := co.Process(ctx, Request{
		SessionID:         "sess-1",
		Text:              "swap 1000 USDC to ETH",
		ConfirmedIntentID: first.IntentID,
	})
	require.Equal(t, string(ledger.StatusConfirmed), confirmed.Status)
	require.Equal(t, 1, exec.submitCalls)

	// A caller retry of the confirm step must not re-execute or regress
	// the terminal intent.
	replayed := co.Process(ctx, Request{
		SessionID:         "sess-1",
		Text:              "swap 1000 USDC to ETH",
		ConfirmedIntentID: first.IntentID,
	})
	require.True(t, replayed.OK)
	assert.Equal(t, first.IntentID, replayed.IntentID)
	assert.Equal(t, string(ledger.StatusConfirmed), replayed.Status)
	assert.Equal(t, 1, exec.submitCalls)

	intent, err := store.GetIntent(ctx, first.IntentID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusConfirmed, intent.Status)
	assert.Len(t, store.Executions(first.IntentID), 1)
}

func TestProcess_BlockedLeavesNoLedgerRow(t *testing.T) {
	co, _, _ := newTestPipeline(t, func(cfg *config.Config, _ *Deps) {
		cfg.Policy.ExecutionConfirmUSD = 500
	})
	ctx := context.Background()

	first := co.Process(ctx, Request{SessionID: "sess-1", Text: "swap 1000 USDC to ETH"})
	require.Equal(t, StatusPendingConfirmation, first.Status)

	// event bets are blocked while the execution confirmation is outstanding
	res := co.Process(ctx, Request{SessionID: "sess-1", Text: "bet 50 USDC on the election"})
	require.False(t, res.OK)
	assert.Equal(t, string(ledger.StatusFailed), res.Status)
	assert.Empty(t, res.IntentID)
	require.NotNil(t, res.Error)
	assert.Equal(t, errors.StagePolicy, res.Error.Stage)
	assert.Equal(t, errors.ErrCodePolicyBlocked, res.Error.Code)
}

func TestProcess_PlanOnlyStopsAfterRouting(t *testing.T) {
	co, store, exec := newTestPipeline(t, nil)

	res := co.Process(context.Background(), Request{
		SessionID: "sess-1",
		Text:      "swap 1000 USDC to ETH",
		PlanOnly:  true,
	})

	require.True(t, res.OK)
	assert.Equal(t, string(ledger.StatusRouted), res.Status)
	require.NotNil(t, res.Metadata["route"])
	assert.Empty(t, exec.ops)

	intent, err := store.GetIntent(context.Background(), res.IntentID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRouted, intent.Status)
}

func TestProcess_UnknownVenueFailsRouting(t *testing.T) {
	co, store, _ := newTestPipeline(t, nil)

	// drift does not support swaps
	res := co.Process(context.Background(), Request{
		SessionID: "sess-1",
		Text:      "swap 1000 USDC to ETH on drift",
	})

	require.False(t, res.OK)
	require.NotNil(t, res.Error)
	assert.Equal(t, errors.StageRoute, res.Error.Stage)
	assert.Equal(t, errors.ErrCodeVenueNotImplemented, res.Error.Code)

	intent, err := store.GetIntent(context.Background(), res.IntentID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, intent.Status)
	require.NotNil(t, intent.Error)
	assert.Equal(t, errors.ErrCodeVenueNotImplemented, intent.Error.Code)
}

func TestProcess_CapabilityVerdicts(t *testing.T) {
	t.Run("explicit invalid verdict blocks", func(t *testing.T) {
		co, store, _ := newTestPipeline(t, func(_ *config.Config, deps *Deps) {
			deps.Validator = &fakeValidator{verdict: &capability.Verdict{Valid: false, Errors: []string{"leverage out of range"}}}
		})

		res := co.Process(context.Background(), Request{SessionID: "s", Text: "swap 1000 USDC to ETH"})
		require.False(t, res.OK)
		assert.Equal(t, errors.ErrCodeCapabilityInvalid, res.Error.Code)

		intent, err := store.GetIntent(context.Background(), res.IntentID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusFailed, intent.Status)
	})

	t.Run("validator failure does not block", func(t *testing.T) {
		co, _, _ := newTestPipeline(t, func(_ *config.Config, deps *Deps) {
			deps.Validator = &fakeValidator{err: fmt.Errorf("schema service down")}
		})

		res := co.Process(context.Background(), Request{SessionID: "s", Text: "swap 1000 USDC to ETH"})
		require.True(t, res.OK)
		assert.Equal(t, string(ledger.StatusConfirmed), res.Status)
	})
}

func TestProcess_SubmitRetriesThenConfirms(t *testing.T) {
	co, _, exec := newTestPipeline(t, nil)
	exec.submitErrs = []error{
		errors.NewStageError(errors.StageExecute, errors.ErrCodeSubmissionFailed, "connection reset"),
	}

	res := co.Process(context.Background(), Request{SessionID: "s", Text: "swap 1000 USDC to ETH"})

	require.True(t, res.OK)
	assert.Equal(t, string(ledger.StatusConfirmed), res.Status)
	assert.Equal(t, 2, exec.submitCalls)
}

func TestProcess_RevertedTransactionFails(t *testing.T) {
	co, store, exec := newTestPipeline(t, nil)
	exec.receipt = &chain.Receipt{Status: 0, BlockNumber: 42}

	res := co.Process(context.Background(), Request{SessionID: "s", Text: "swap 1000 USDC to ETH"})

	require.False(t, res.OK)
	require.NotNil(t, res.Error)
	assert.Equal(t, errors.ErrCodeChainReverted, res.Error.Code)

	execs := store.Executions(res.IntentID)
	require.Len(t, execs, 1)
	assert.Equal(t, ledger.ExecFailed, execs[0].Status)
	assert.Contains(t, execs[0].ErrorDetail, "reverted")
}

func TestProcess_BridgeRecordsBothLegs(t *testing.T) {
	co, store, exec := newTestPipeline(t, nil)

	res := co.Process(context.Background(), Request{
		SessionID: "sess-1",
		Text:      "bridge 100 USDC from ethereum to arbitrum",
	})

	require.True(t, res.OK)
	assert.Equal(t, string(ledger.StatusConfirmed), res.Status)

	execs := store.Executions(res.IntentID)
	require.Len(t, execs, 2)
	assert.Len(t, exec.opsForChain("ethereum"), 1)
	assert.Len(t, exec.opsForChain("arbitrum"), 1)

	// the source leg decides the result
	assert.Equal(t, "ethereum", execs[0].Chain)
	assert.Equal(t, execs[0].ID, res.ExecutionID)
}

func TestProcess_BridgeDestinationFailureIsBestEffort(t *testing.T) {
	destExec := &fakeExecutor{waitErr: fmt.Errorf("rpc unreachable")}
	co, store, _ := newTestPipeline(t, func(_ *config.Config, deps *Deps) {
		deps.Executors["arbitrum"] = destExec
	})

	res := co.Process(context.Background(), Request{
		SessionID: "sess-1",
		Text:      "bridge 100 USDC from ethereum to arbitrum",
	})

	require.True(t, res.OK)
	assert.Equal(t, string(ledger.StatusConfirmed), res.Status)

	execs := store.Executions(res.IntentID)
	require.Len(t, execs, 2)
	assert.Equal(t, ledger.ExecSucceeded, execs[0].Status)
	assert.Equal(t, ledger.ExecFailed, execs[1].Status)
}

func TestProcess_RequestMetadataPreserved(t *testing.T) {
	co, store, _ := newTestPipeline(t, nil)

	res := co.Process(context.Background(), Request{
		SessionID: "sess-1",
		Text:      "swap 1000 USDC to ETH",
		Metadata:  map[string]interface{}{"tag": "alpha", "source": "api"},
	})

	require.True(t, res.OK)
	assert.Equal(t, "alpha", res.Metadata["tag"])

	intent, err := store.GetIntent(context.Background(), res.IntentID)
	require.NoError(t, err)
	assert.Equal(t, "alpha", intent.Metadata["tag"])
	assert.Equal(t, "api", intent.Metadata["source"])
	assert.NotNil(t, intent.Metadata["route"])
}

func TestProcess_PanicMapsToFailedResult(t *testing.T) {
	co, _, exec := newTestPipeline(t, nil)
	exec.panicMsg = "executor exploded"

	res := co.Process(context.Background(), Request{SessionID: "s", Text: "swap 1000 USDC to ETH"})

	require.NotNil(t, res)
	require.False(t, res.OK)
	assert.Equal(t, string(ledger.StatusFailed), res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, errors.ErrCodeUnexpected, res.Error.Code)
}

func TestProcess_FeedbackReceivesOutcome(t *testing.T) {
	fb := &fakeFeedback{}
	co, _, _ := newTestPipeline(t, func(_ *config.Config, deps *Deps) {
		deps.Feedback = fb
	})

	res := co.Process(context.Background(), Request{SessionID: "s", Text: "swap 1000 USDC to ETH"})
	require.True(t, res.OK)

	require.Len(t, fb.outcomes, 1)
	assert.True(t, fb.outcomes[0])
}

func TestProcess_UnknownIntentRecordsProof(t *testing.T) {
	co, store, exec := newTestPipeline(t, nil)

	res := co.Process(context.Background(), Request{
		SessionID: "sess-1",
		Text:      "do something clever with my funds",
	})

	require.True(t, res.OK)
	assert.Equal(t, string(ledger.StatusConfirmed), res.Status)

	intent, err := store.GetIntent(context.Background(), res.IntentID)
	require.NoError(t, err)
	assert.Equal(t, "unknown", intent.Kind)

	require.Len(t, exec.ops, 1)
	assert.Equal(t, "unknown", exec.ops[0].Kind)
}
