// Package policy classifies parsed intents into coarse risk paths and
// decides whether a session may transition between them. Decisions are
// deterministic given the configured thresholds, the intent and the
// session's committed history.
package policy

import (
	"context"
	"fmt"
	"time"

	"intentflow/internal/common/config"
	"intentflow/internal/common/logger"
	"intentflow/internal/common/metrics"
	"intentflow/internal/parser"
)

// ViolationSink receives blocked-transition records. The audit package
// provides the production implementation (ring buffer + operator alert).
type ViolationSink interface {
	RecordPathViolation(ctx context.Context, v PathViolation)
}

// Engine evaluates path transitions per session. All mutation of a
// session's IntentContext happens under that session's mutex, held across
// classify, evaluate and commit, so two intents from the same session
// cannot interleave their transitions.
type Engine struct {
	cfg      config.PolicyConfig
	registry *ContextRegistry
	sink     ViolationSink
	log      logger.Logger
}

// NewEngine creates a policy engine. sink may be nil when no audit sink is
// wired (tests, batch tools).
func NewEngine(cfg config.PolicyConfig, sink ViolationSink, log logger.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		registry: NewContextRegistry(cfg.MaxTransitionDepth),
		sink:     sink,
		log:      log,
	}
}

// Registry exposes the per-session context registry.
func (e *Engine) Registry() *ContextRegistry { return e.registry }

// ClassifyPath maps a parsed intent to its target path from (kind, action).
//
// Event markets always classify as event. Deferred strategies (plans,
// portfolio hedges, yield discovery, recurring buys) classify as planning.
// Unrecognized intents stay on research. Everything else is execution.
func ClassifyPath(parsed *parser.ParsedIntent) Path {
	if parsed == nil {
		return PathResearch
	}
	if parsed.Kind == parser.KindEvent {
		return PathEvent
	}
	if parsed.Action == "plan" ||
		parsed.HasFlag("requiresPortfolio") ||
		parsed.HasFlag("requiresYieldRanking") ||
		parsed.Param("strategy") == "recurring_buy" {
		return PathPlanning
	}
	if parsed.Kind == parser.KindUnknown {
		return PathResearch
	}
	return PathExecution
}

// Authorize is the gated step the coordinator runs for every intent:
// classify the target path, evaluate the transition and, when allowed,
// commit it. The session mutex is held for the whole step.
func (e *Engine) Authorize(ctx context.Context, sessionID string, input EvalInput) Decision {
	target := ClassifyPath(input.Parsed)

	sctx := e.registry.Get(sessionID)
	sctx.mu.Lock()
	defer sctx.mu.Unlock()

	decision := e.evaluateLocked(sctx, target, input)
	switch decision.Outcome {
	case OutcomeAllowed:
		sctx.commitTransition(target, time.Now())
	case OutcomeConfirmationRequired:
		sctx.outstandingConfirmation = decision.ConfirmationType
		sctx.outstandingTarget = target
	case OutcomeBlocked:
		e.recordViolation(ctx, sctx, target, decision.Reason, input)
	}
	return decision
}

// EvaluatePathPolicy evaluates a transition without committing it.
func (e *Engine) EvaluatePathPolicy(sessionID string, target Path, input EvalInput) Decision {
	sctx := e.registry.Get(sessionID)
	sctx.mu.Lock()
	defer sctx.mu.Unlock()
	return e.evaluateLocked(sctx, target, input)
}

// TransitionPath commits a transition for a session. The coordinator calls
// this only on an Allowed decision; Authorize already does it for the
// common case.
func (e *Engine) TransitionPath(sessionID string, target Path) {
	sctx := e.registry.Get(sessionID)
	sctx.mu.Lock()
	defer sctx.mu.Unlock()
	sctx.commitTransition(target, time.Now())
}

// ForceTransition commits a transition without evaluation and clears the
// outstanding confirmation. Used for confirmed re-entry: the caller already
// saw a pending_confirmation result for this target.
func (e *Engine) ForceTransition(sessionID string, target Path) {
	sctx := e.registry.Get(sessionID)
	sctx.mu.Lock()
	defer sctx.mu.Unlock()
	sctx.outstandingConfirmation = ""
	sctx.outstandingTarget = ""
	sctx.commitTransition(target, time.Now())
}

// evaluateLocked applies the policy rules. Callers hold sctx.mu.
func (e *Engine) evaluateLocked(sctx *IntentContext, target Path, input EvalInput) Decision {
	decision := Decision{Outcome: OutcomeAllowed, TargetPath: target}

	// Event bets are blocked while an execution confirmation is pending:
	// the session must resolve or abandon the outstanding trade first.
	if target == PathEvent && sctx.outstandingConfirmation != "" && sctx.outstandingTarget == PathExecution {
		decision.Outcome = OutcomeBlocked
		decision.Reason = "event intent while an execution confirmation is outstanding"
		return decision
	}

	if input.Parsed == nil {
		return decision
	}

	switch {
	case input.Parsed.Kind == parser.KindBridge && input.USDEstimate > e.cfg.BridgeConfirmUSD:
		decision.Outcome = OutcomeConfirmationRequired
		decision.ConfirmationType = ConfirmBridgeHighValue
	case (input.Parsed.Kind == parser.KindPerp || input.Parsed.Kind == parser.KindPerpCreate) &&
		input.USDEstimate > e.cfg.PerpConfirmUSD:
		decision.Outcome = OutcomeConfirmationRequired
		decision.ConfirmationType = ConfirmPerpHighValue
	case target == PathExecution &&
		(sctx.CurrentPath == "" || sctx.CurrentPath == PathResearch) &&
		input.USDEstimate > e.cfg.ExecutionConfirmUSD:
		decision.Outcome = OutcomeConfirmationRequired
		decision.ConfirmationType = ConfirmHighValue
	}
	return decision
}

func (e *Engine) recordViolation(ctx context.Context, sctx *IntentContext, target Path, reason string, input EvalInput) {
	v := PathViolation{
		SessionID: sctx.SessionID,
		FromPath:  sctx.CurrentPath,
		ToPath:    target,
		Reason:    reason,
		At:        time.Now(),
	}
	if input.Parsed != nil {
		v.Intent = fmt.Sprintf("%s/%s", input.Parsed.Kind, input.Parsed.Action)
	}

	metrics.PolicyViolations.WithLabelValues(string(v.FromPath), string(v.ToPath)).Inc()
	if e.log != nil {
		e.log.Warn("path transition blocked", map[string]interface{}{
			"session_id": v.SessionID,
			"from_path":  v.FromPath,
			"to_path":    v.ToPath,
			"reason":     v.Reason,
		})
	}
	if e.sink != nil {
		e.sink.RecordPathViolation(ctx, v)
	}
}
