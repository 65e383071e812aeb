// Package coordinator sequences the intent pipeline: sanitize, parse,
// gate on path policy, record to the ledger, route, validate capability,
// dispatch to a chain executor and reconcile the outcome. Process is total:
// every exit path returns the stable Result shape.
package coordinator

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"intentflow/internal/audit"
	"intentflow/internal/capability"
	"intentflow/internal/chain"
	"intentflow/internal/common/config"
	"intentflow/internal/common/errors"
	"intentflow/internal/common/logger"
	"intentflow/internal/common/metrics"
	"intentflow/internal/common/observability"
	"intentflow/internal/ledger"
	"intentflow/internal/parser"
	"intentflow/internal/policy"
	"intentflow/internal/pricing"
	"intentflow/internal/resilience"
	"intentflow/internal/router"
	"intentflow/internal/sanitizer"
)

// Deps carries the coordinator's collaborators. Store, Engine and Router
// are required; the rest degrade gracefully when nil.
type Deps struct {
	Store     ledger.Store
	Engine    *policy.Engine
	Router    *router.Router
	Estimator *pricing.Estimator
	Validator capability.Validator
	Audit     *audit.Registry
	// Executors maps chain name to its executor. Proof and real operations
	// share one executor per chain.
	Executors map[string]chain.Executor
	Limiters  *resilience.LimiterRegistry
	Feedback  Feedback
	Obs       *observability.Observability
	Log       logger.Logger
}

// Coordinator drives intents through the pipeline.
type Coordinator struct {
	cfg      *config.Config
	deps     Deps
	retryCfg resilience.Config
	log      logger.Logger
}

// New creates a coordinator.
func New(cfg *config.Config, deps Deps) *Coordinator {
	log := deps.Log
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Coordinator{
		cfg:      cfg,
		deps:     deps,
		retryCfg: resilience.FromResilienceConfig(cfg.Resilience),
		log:      log,
	}
}

// Process runs one intent through the pipeline. It never returns an error:
// every outcome, including panics in collaborators, maps to a Result.
func (c *Coordinator) Process(ctx context.Context, req Request) (result *Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("pipeline panic recovered", map[string]interface{}{
				"session_id": req.SessionID,
				"panic":      r,
			})
			result = &Result{
				OK:     false,
				Status: string(ledger.StatusFailed),
				Error:  errors.NewStageError(errors.StageExecute, errors.ErrCodeUnexpected, "internal pipeline error"),
			}
		}
		c.recordOutcome(ctx, req, result, start)
	}()

	// sanitize + parse: total, never fail
	sanitized := sanitizer.Sanitize(req.Text)
	parsed := parser.Parse(sanitized.Sanitized)

	usdEstimate := 0.0
	if c.deps.Estimator != nil {
		usdEstimate = c.deps.Estimator.EstimateUSD(ctx, parsed)
	}

	baseMeta := c.buildMetadata(req, parsed, sanitized.Warnings, usdEstimate)

	// policy gate; confirmed re-entry bypasses evaluation
	if req.ConfirmedIntentID == "" {
		decision := c.deps.Engine.Authorize(ctx, req.SessionID, policy.EvalInput{
			Parsed:      parsed,
			USDEstimate: usdEstimate,
		})
		switch decision.Outcome {
		case policy.OutcomeConfirmationRequired:
			baseMeta["confirmationType"] = decision.ConfirmationType
			return &Result{
				OK:       true,
				IntentID: uuid.NewString(),
				Status:   StatusPendingConfirmation,
				Metadata: baseMeta,
			}
		case policy.OutcomeBlocked:
			return &Result{
				OK:     false,
				Status: string(ledger.StatusFailed),
				Error: errors.NewStageError(errors.StagePolicy, errors.ErrCodePolicyBlocked,
					"%s", decision.Reason),
				Metadata: baseMeta,
			}
		}
	} else {
		// A retried confirmation replays the stored outcome; re-creating
		// the row would regress a terminal intent and re-execute it.
		if existing, err := c.deps.Store.GetIntent(ctx, req.ConfirmedIntentID); err == nil {
			return c.replayIntent(existing)
		}
		c.deps.Engine.ForceTransition(req.SessionID, policy.ClassifyPath(parsed))
	}

	// ledger row: only after policy allows
	intentID := req.ConfirmedIntentID
	if intentID == "" {
		intentID = uuid.NewString()
	}
	intent := &ledger.Intent{
		ID:        intentID,
		SessionID: req.SessionID,
		Text:      sanitized.Sanitized,
		Kind:      string(parsed.Kind),
		Status:    ledger.StatusQueued,
		Metadata:  baseMeta,
	}
	if err := c.deps.Store.CreateIntent(ctx, intent); err != nil {
		c.log.Error("intent row creation failed", map[string]interface{}{
			"intent_id": intentID,
			"error":     err.Error(),
		})
		return &Result{
			OK:     false,
			Status: string(ledger.StatusFailed),
			Error:  errors.WrapStage(errors.StageLedger, errors.ErrCodeLedgerWriteFailed, err),
		}
	}

	c.setStatus(ctx, intentID, ledger.StatusPlanned)

	// route
	decision, routeErr := c.deps.Router.Route(parsed, req.PreferredChain)
	if routeErr != nil {
		stageErr := errors.NewStageError(errors.StageRoute, routeErr.Code, "%s", routeErr.Message)
		return c.fail(ctx, intentID, stageErr, baseMeta)
	}
	c.mergeMetadata(ctx, intentID, map[string]interface{}{
		"route": decision,
	})
	c.setStatus(ctx, intentID, ledger.StatusRouted)

	if req.PlanOnly {
		baseMeta["route"] = decision
		return &Result{
			OK:       true,
			IntentID: intentID,
			Status:   string(ledger.StatusRouted),
			Metadata: baseMeta,
		}
	}

	// capability check: blocking only on an explicit invalid verdict
	if c.deps.Validator != nil {
		verdict, err := c.deps.Validator.Validate(ctx, capability.Input{
			Kind:      string(parsed.Kind),
			Chain:     decision.Chain,
			Venue:     decision.Venue,
			Asset:     parsed.TargetAsset,
			AmountUSD: usdEstimate,
			Leverage:  parsed.Leverage,
		})
		if err != nil {
			c.log.Warn("capability validator unavailable, proceeding", map[string]interface{}{
				"intent_id": intentID,
				"error":     err.Error(),
			})
		} else if !verdict.Valid {
			stageErr := errors.NewStageError(errors.StageCapability, errors.ErrCodeCapabilityInvalid,
				"capability validation failed: %v", verdict.Errors)
			return c.fail(ctx, intentID, stageErr, baseMeta)
		}
	}

	c.setStatus(ctx, intentID, ledger.StatusExecuting)
	return c.dispatch(ctx, intentID, req, parsed, decision, baseMeta)
}

// replayIntent maps an already-recorded intent back to the result shape.
// Returned on duplicate confirmed re-entries instead of re-executing.
func (c *Coordinator) replayIntent(intent *ledger.Intent) *Result {
	return &Result{
		OK:       intent.Status != ledger.StatusFailed,
		IntentID: intent.ID,
		Status:   string(intent.Status),
		Error:    intent.Error,
		Metadata: intent.Metadata,
	}
}

// fail finalizes the intent as failed and returns the terminal result.
func (c *Coordinator) fail(ctx context.Context, intentID string, stageErr *errors.StageError, meta map[string]interface{}) *Result {
	if err := c.finalize(ctx, intentID, ledger.StatusFailed, nil, stageErr); err != nil {
		c.log.Error("ledger finalize failed", map[string]interface{}{
			"intent_id": intentID,
			"error":     err.Error(),
		})
	}
	countFailure(stageErr)
	return &Result{
		OK:       false,
		IntentID: intentID,
		Status:   string(ledger.StatusFailed),
		Error:    stageErr,
		Metadata: meta,
	}
}

// finalize writes the terminal record, retrying transient store failures.
// The guard sentinels surface immediately: retrying them cannot succeed.
func (c *Coordinator) finalize(ctx context.Context, intentID string, status ledger.Status, exec *ledger.Execution, stageErr *errors.StageError) error {
	return resilience.WithRetry(ctx, c.log, "ledger finalize", c.retryCfg, func(ctx context.Context) error {
		err := c.deps.Store.FinalizeIntent(ctx, intentID, status, exec, stageErr)
		if err == nil || stderrors.Is(err, ledger.ErrTerminalState) || stderrors.Is(err, ledger.ErrNotFound) {
			return err
		}
		return errors.NewLedgerWriteError(err)
	})
}

func countFailure(stageErr *errors.StageError) {
	metrics.IntentsFailed.WithLabelValues(
		string(stageErr.Stage), string(stageErr.Code), errors.GetErrorCategory(stageErr.Code)).Inc()
}

func (c *Coordinator) setStatus(ctx context.Context, intentID string, status ledger.Status) {
	if err := c.deps.Store.UpdateIntentStatus(ctx, intentID, status); err != nil {
		c.log.Warn("status update failed", map[string]interface{}{
			"intent_id": intentID,
			"status":    status,
			"error":     err.Error(),
		})
	}
}

func (c *Coordinator) mergeMetadata(ctx context.Context, intentID string, patch map[string]interface{}) {
	if err := c.deps.Store.UpdateIntentMetadata(ctx, intentID, patch); err != nil {
		c.log.Warn("metadata update failed", map[string]interface{}{
			"intent_id": intentID,
			"error":     err.Error(),
		})
	}
}

func (c *Coordinator) buildMetadata(req Request, parsed *parser.ParsedIntent, warnings []string, usd float64) map[string]interface{} {
	meta := make(map[string]interface{}, len(req.Metadata)+4)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["parsed"] = parsed
	meta["usdEstimate"] = usd
	if len(warnings) > 0 {
		meta["sanitizerWarnings"] = warnings
	}
	return meta
}

// recordOutcome emits metrics and fires the reputation feedback after every
// Process call. Feedback failures are swallowed.
func (c *Coordinator) recordOutcome(ctx context.Context, req Request, result *Result, start time.Time) {
	if result == nil {
		return
	}

	kind := "unknown"
	if parsedMeta, ok := result.Metadata["parsed"].(*parser.ParsedIntent); ok {
		kind = string(parsedMeta.Kind)
	}
	metrics.IntentsCompleted.WithLabelValues(kind, result.Status).Inc()
	metrics.IntentDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if c.deps.Obs != nil {
		c.deps.Obs.RecordIntentProcessed(ctx, result.Status, kind)
		c.deps.Obs.RecordIntentDuration(ctx, time.Since(start), result.Status)
	}

	if c.deps.Feedback != nil && result.IntentID != "" && result.Status != StatusPendingConfirmation {
		if err := c.deps.Feedback.RecordOutcome(ctx, req.SessionID, result.IntentID, result.OK); err != nil {
			c.log.Debug("reputation feedback failed", map[string]interface{}{
				"intent_id": result.IntentID,
				"error":     err.Error(),
			})
		}
	}
}
