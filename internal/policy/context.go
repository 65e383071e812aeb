package policy

import (
	"sync"
	"time"
)

// IntentContext tracks the per-session path state the engine evaluates
// against. It lives in process memory only; a restart resets every session
// to an undefined path.
type IntentContext struct {
	mu sync.Mutex

	SessionID   string
	CurrentPath Path // empty until the first committed transition
	History     []PathTransition

	// outstandingConfirmation is the confirmation type the session is
	// waiting on, empty when none. Set when a transition requires
	// confirmation, cleared when the caller re-enters with a confirmed
	// intent.
	outstandingConfirmation string
	outstandingTarget       Path

	maxHistory int
}

// Snapshot returns the current path and a copy of the transition history.
func (c *IntentContext) Snapshot() (Path, []PathTransition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	history := make([]PathTransition, len(c.History))
	copy(history, c.History)
	return c.CurrentPath, history
}

// HasOutstandingConfirmation reports whether the session is waiting on a
// confirmation for the given target path.
func (c *IntentContext) HasOutstandingConfirmation(target Path) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outstandingConfirmation != "" && c.outstandingTarget == target
}

// commitTransition appends to the bounded history and moves the current
// path. Callers must hold c.mu.
func (c *IntentContext) commitTransition(target Path, now time.Time) {
	c.History = append(c.History, PathTransition{From: c.CurrentPath, To: target, At: now})
	if len(c.History) > c.maxHistory {
		c.History = c.History[len(c.History)-c.maxHistory:]
	}
	c.CurrentPath = target
}

// ContextRegistry hands out per-session contexts, creating them lazily on
// first use.
type ContextRegistry struct {
	mu         sync.Mutex
	sessions   map[string]*IntentContext
	maxHistory int
}

// NewContextRegistry creates a registry whose contexts keep at most
// maxHistory transitions.
func NewContextRegistry(maxHistory int) *ContextRegistry {
	if maxHistory <= 0 {
		maxHistory = 50
	}
	return &ContextRegistry{
		sessions:   make(map[string]*IntentContext),
		maxHistory: maxHistory,
	}
}

// Get returns the context for a session, creating it if needed.
func (r *ContextRegistry) Get(sessionID string) *IntentContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.sessions[sessionID]
	if !ok {
		ctx = &IntentContext{SessionID: sessionID, maxHistory: r.maxHistory}
		r.sessions[sessionID] = ctx
	}
	return ctx
}

// Len reports the number of live session contexts.
func (r *ContextRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
