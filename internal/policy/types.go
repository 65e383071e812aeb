package policy

import (
	"time"

	"intentflow/internal/parser"
)

// Path is the coarse risk classification of an intent. It gates which
// transitions need confirmation and which are blocked.
type Path string

const (
	PathResearch  Path = "research"
	PathPlanning  Path = "planning"
	PathExecution Path = "execution"
	PathEvent     Path = "event"
)

// Outcome is the verdict of a policy evaluation.
type Outcome string

const (
	OutcomeAllowed              Outcome = "allowed"
	OutcomeConfirmationRequired Outcome = "confirmation_required"
	OutcomeBlocked              Outcome = "blocked"
)

// Confirmation types carried on ConfirmationRequired decisions.
const (
	ConfirmHighValue       = "high_value_execution"
	ConfirmBridgeHighValue = "high_value_bridge"
	ConfirmPerpHighValue   = "high_value_perp"
)

// EvalInput is what the engine evaluates a transition against.
type EvalInput struct {
	Parsed      *parser.ParsedIntent
	USDEstimate float64
}

// Decision is the result of evaluating a path transition.
type Decision struct {
	Outcome          Outcome
	TargetPath       Path
	ConfirmationType string // set when Outcome is OutcomeConfirmationRequired
	Reason           string // set when Outcome is OutcomeBlocked
}

// PathTransition is one committed step in a session's path history.
type PathTransition struct {
	From Path
	To   Path
	At   time.Time
}

// PathViolation is recorded when a transition is blocked. Consumed by the
// audit sink, never by transactional state.
type PathViolation struct {
	SessionID string    `json:"sessionId"`
	FromPath  Path      `json:"fromPath"`
	ToPath    Path      `json:"toPath"`
	Reason    string    `json:"reason"`
	Intent    string    `json:"intent,omitempty"`
	At        time.Time `json:"at"`
}
