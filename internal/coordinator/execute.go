package coordinator

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"intentflow/internal/audit"
	"intentflow/internal/chain"
	"intentflow/internal/common/errors"
	"intentflow/internal/common/metrics"
	"intentflow/internal/ledger"
	"intentflow/internal/parser"
	"intentflow/internal/resilience"
	"intentflow/internal/router"
)

// dispatch sends the routed intent to its executor and reconciles the
// outcome into the ledger.
func (c *Coordinator) dispatch(ctx context.Context, intentID string, req Request, parsed *parser.ParsedIntent, decision *router.Decision, meta map[string]interface{}) *Result {
	switch decision.ExecutionType {
	case router.ExecutionOffchain:
		return c.recordOffchain(ctx, intentID, req, decision, meta)
	default:
		if parsed.Kind == parser.KindBridge {
			return c.executeBridge(ctx, intentID, req, parsed, decision, meta)
		}
		return c.executeOnChain(ctx, intentID, req, parsed, decision, meta)
	}
}

// recordOffchain writes a synthetic execution with no transaction. Used for
// intents whose integrations are analytics-only.
func (c *Coordinator) recordOffchain(ctx context.Context, intentID string, req Request, decision *router.Decision, meta map[string]interface{}) *Result {
	exec := &ledger.Execution{
		ID:            uuid.NewString(),
		IntentID:      intentID,
		Chain:         decision.Chain,
		Network:       decision.Network,
		Venue:         decision.Venue,
		ExecutionType: string(decision.ExecutionType),
		Status:        ledger.ExecSucceeded,
	}
	c.recordSigning(ctx, req.SessionID, intentID, decision, false, "offchain recorder")

	if err := c.finalize(ctx, intentID, ledger.StatusConfirmed, exec, nil); err != nil {
		return c.fail(ctx, intentID, errors.WrapStage(errors.StageLedger, errors.ErrCodeLedgerWriteFailed, err), meta)
	}
	return &Result{
		OK:          true,
		IntentID:    intentID,
		Status:      string(ledger.StatusConfirmed),
		ExecutionID: exec.ID,
		Metadata:    meta,
	}
}

// legOutcome is the result of one chain-side execution attempt.
type legOutcome struct {
	exec     *ledger.Execution
	status   ledger.Status
	stageErr *errors.StageError
	ok       bool
}

func (c *Coordinator) executeOnChain(ctx context.Context, intentID string, req Request, parsed *parser.ParsedIntent, decision *router.Decision, meta map[string]interface{}) *Result {
	executor, ok := c.deps.Executors[decision.Chain]
	if !ok {
		return c.fail(ctx, intentID, errors.NewStageError(errors.StageExecute, errors.ErrCodeConfigMissing,
			"no executor configured for chain %q", decision.Chain), meta)
	}

	op, err := c.buildOperation(intentID, parsed, decision.Chain, decision.Network, decision)
	if err != nil {
		return c.fail(ctx, intentID, errors.WrapStage(errors.StageExecute, errors.ErrCodeUnexpected, err), meta)
	}

	c.recordSigning(ctx, req.SessionID, intentID, decision,
		decision.ExecutionType == router.ExecutionReal, firstWarning(decision))

	leg := c.runLeg(ctx, executor, op, decision)
	if err := c.finalize(ctx, intentID, leg.status, leg.exec, leg.stageErr); err != nil {
		return c.fail(ctx, intentID, errors.WrapStage(errors.StageLedger, errors.ErrCodeLedgerWriteFailed, err), meta)
	}
	if leg.stageErr != nil {
		countFailure(leg.stageErr)
	}

	result := &Result{
		OK:       leg.ok,
		IntentID: intentID,
		Status:   string(leg.status),
		Error:    leg.stageErr,
		Metadata: meta,
	}
	if leg.exec != nil {
		result.ExecutionID = leg.exec.ID
		result.TxHash = leg.exec.TxHash
		result.ExplorerURL = leg.exec.ExplorerURL
	}
	return result
}

// executeBridge runs the composite bridge flow: the source-chain proof
// always decides the intent's outcome; the destination proof is
// best-effort and its failure never fails the intent.
func (c *Coordinator) executeBridge(ctx context.Context, intentID string, req Request, parsed *parser.ParsedIntent, decision *router.Decision, meta map[string]interface{}) *Result {
	executor, ok := c.deps.Executors[decision.Chain]
	if !ok {
		return c.fail(ctx, intentID, errors.NewStageError(errors.StageExecute, errors.ErrCodeConfigMissing,
			"no executor configured for chain %q", decision.Chain), meta)
	}

	sourceOp, err := c.buildOperation(intentID, parsed, decision.Chain, decision.Network, decision)
	if err != nil {
		return c.fail(ctx, intentID, errors.WrapStage(errors.StageExecute, errors.ErrCodeUnexpected, err), meta)
	}
	c.recordSigning(ctx, req.SessionID, intentID, decision, false, "bridge source proof")
	source := c.runLeg(ctx, executor, sourceOp, decision)

	if err := c.finalize(ctx, intentID, source.status, source.exec, source.stageErr); err != nil {
		return c.fail(ctx, intentID, errors.WrapStage(errors.StageLedger, errors.ErrCodeLedgerWriteFailed, err), meta)
	}
	if source.stageErr != nil {
		countFailure(source.stageErr)
	}

	// destination proof, best-effort, after the source leg decided the outcome
	if source.ok && parsed.DestChain != "" {
		c.recordDestinationProof(ctx, intentID, parsed, decision)
	}

	result := &Result{
		OK:       source.ok,
		IntentID: intentID,
		Status:   string(source.status),
		Error:    source.stageErr,
		Metadata: meta,
	}
	if source.exec != nil {
		result.ExecutionID = source.exec.ID
		result.TxHash = source.exec.TxHash
		result.ExplorerURL = source.exec.ExplorerURL
	}
	return result
}

func (c *Coordinator) recordDestinationProof(ctx context.Context, intentID string, parsed *parser.ParsedIntent, decision *router.Decision) {
	destExecutor, ok := c.deps.Executors[parsed.DestChain]
	if !ok {
		c.log.Warn("no executor for bridge destination, skipping proof", map[string]interface{}{
			"intent_id": intentID,
			"chain":     parsed.DestChain,
		})
		return
	}

	destDecision := &router.Decision{
		Chain:         parsed.DestChain,
		Network:       "mainnet",
		ExecutionType: router.ExecutionProofOnly,
	}
	destOp, err := c.buildOperation(intentID, parsed, parsed.DestChain, destDecision.Network, destDecision)
	if err != nil {
		c.log.Warn("destination proof build failed", map[string]interface{}{
			"intent_id": intentID,
			"error":     err.Error(),
		})
		return
	}

	dest := c.runLeg(ctx, destExecutor, destOp, destDecision)
	if dest.exec != nil {
		dest.exec.IntentID = intentID
		if err := c.deps.Store.CreateExecution(ctx, dest.exec); err != nil {
			c.log.Warn("destination execution write failed", map[string]interface{}{
				"intent_id": intentID,
				"error":     err.Error(),
			})
		}
	}
	if !dest.ok {
		c.log.Warn("bridge destination proof failed", map[string]interface{}{
			"intent_id": intentID,
			"chain":     parsed.DestChain,
		})
	}
}

// runLeg submits one operation and waits for its receipt. Confirmation
// timeout maps to pending with ok=true: the transaction may still land.
func (c *Coordinator) runLeg(ctx context.Context, executor chain.Executor, op chain.Operation, decision *router.Decision) legOutcome {
	if c.deps.Limiters != nil {
		if err := c.deps.Limiters.For(decision.Chain + "-rpc").Acquire(ctx); err != nil {
			return legOutcome{
				status:   ledger.StatusFailed,
				stageErr: errors.WrapStage(errors.StageExecute, errors.ErrCodeUnexpected, err),
			}
		}
	}

	start := time.Now()
	var txHash string
	submitCfg := c.retryCfg
	submitCfg.Retryable = submitRetryable
	err := resilience.WithRetry(ctx, c.log, "chain submit", submitCfg, func(ctx context.Context) error {
		hash, serr := executor.Submit(ctx, op)
		if serr != nil {
			var stageErr *errors.StageError
			if !stderrors.As(serr, &stageErr) {
				// unclassified RPC failure; retryable by default
				return errors.NewSubmissionError(decision.Chain, serr)
			}
			return serr
		}
		txHash = hash
		return nil
	})
	if err != nil {
		return legOutcome{
			status:   ledger.StatusFailed,
			stageErr: asStageError(err, errors.StageExecute, errors.ErrCodeSubmissionFailed),
		}
	}

	metrics.ChainSubmissions.WithLabelValues(decision.Chain, string(decision.ExecutionType)).Inc()
	exec := &ledger.Execution{
		ID:            uuid.NewString(),
		Chain:         decision.Chain,
		Network:       decision.Network,
		Venue:         decision.Venue,
		ExecutionType: string(decision.ExecutionType),
		TxHash:        txHash,
		ExplorerURL:   chain.BuildExplorerURL(decision.Chain, decision.Network, txHash),
		Status:        ledger.ExecPending,
	}

	timeout := time.Duration(c.cfg.Execution.ConfirmTimeoutMs) * time.Millisecond
	receipt, err := executor.WaitForReceipt(ctx, txHash, timeout)
	exec.LatencyMs = time.Since(start).Milliseconds()

	switch {
	case stderrors.Is(err, chain.ErrReceiptTimeout):
		// not a failure: reconciliation happens out of band
		return legOutcome{exec: exec, status: ledger.StatusPending, ok: true}
	case err != nil:
		exec.Status = ledger.ExecFailed
		exec.ErrorDetail = err.Error()
		return legOutcome{
			exec:     exec,
			status:   ledger.StatusFailed,
			stageErr: asStageError(err, errors.StageConfirm, errors.ErrCodeExternalServiceError),
		}
	case !receipt.Succeeded():
		exec.Status = ledger.ExecFailed
		exec.ErrorDetail = fmt.Sprintf("transaction reverted in block %d", receipt.BlockNumber)
		return legOutcome{
			exec:   exec,
			status: ledger.StatusFailed,
			stageErr: errors.NewStageError(errors.StageExecute, errors.ErrCodeChainReverted,
				"transaction %s reverted", txHash),
		}
	default:
		exec.Status = ledger.ExecSucceeded
		return legOutcome{exec: exec, status: ledger.StatusConfirmed, ok: true}
	}
}

// buildOperation encodes the intent for submission. Proof and real
// operations share the calldata envelope; real operations additionally
// carry the venue instruction the adapter executes.
func (c *Coordinator) buildOperation(intentID string, parsed *parser.ParsedIntent, chainName, network string, decision *router.Decision) (chain.Operation, error) {
	payload := map[string]interface{}{
		"action": parsed.Action,
		"amount": parsed.Amount,
		"unit":   parsed.AmountUnit,
		"asset":  parsed.TargetAsset,
		"mode":   string(decision.ExecutionType),
	}
	if decision.Venue != "" {
		payload["venue"] = decision.Venue
	}
	if parsed.Leverage != 0 {
		payload["leverage"] = parsed.Leverage
	}
	if parsed.Kind == parser.KindBridge {
		payload["sourceChain"] = parsed.SourceChain
		payload["destChain"] = parsed.DestChain
	}
	return chain.NewProofOperation(intentID, string(parsed.Kind), chainName, network, payload)
}

func (c *Coordinator) recordSigning(ctx context.Context, sessionID, intentID string, decision *router.Decision, signed bool, reason string) {
	if c.deps.Audit == nil {
		return
	}
	c.deps.Audit.RecordSigningDecision(ctx, audit.SigningAuditEntry{
		SessionID:     sessionID,
		IntentID:      intentID,
		Chain:         decision.Chain,
		Venue:         decision.Venue,
		ExecutionType: string(decision.ExecutionType),
		Signed:        signed,
		Reason:        reason,
	})
}

// submitRetryable excludes nonce conflicts from the outer retry loop: the
// executor already resubmits once with a re-read nonce.
func submitRetryable(err error) bool {
	var stageErr *errors.StageError
	if stderrors.As(err, &stageErr) && stageErr.Code == errors.ErrCodeNonceConflict {
		return false
	}
	return resilience.IsRetriable(err)
}

func asStageError(err error, stage errors.Stage, code errors.ErrorCode) *errors.StageError {
	var stageErr *errors.StageError
	if stderrors.As(err, &stageErr) {
		return stageErr
	}
	return errors.WrapStage(stage, code, err)
}

func firstWarning(decision *router.Decision) string {
	if len(decision.Warnings) > 0 {
		return decision.Warnings[0]
	}
	return ""
}
