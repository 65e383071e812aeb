package ledger

import (
	"context"
	"sync"
	"time"

	"intentflow/internal/common/errors"
)

// MemoryStore is the in-memory Store used by tests, the batch runner and
// dev mode. It enforces the same monotonic-terminal guard as the Postgres
// implementation.
type MemoryStore struct {
	mu         sync.RWMutex
	intents    map[string]*Intent
	executions map[string]*Execution
	// execOrder keeps insertion order; map iteration would randomize it.
	execOrder []string
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents:    make(map[string]*Intent),
		executions: make(map[string]*Execution),
	}
}

func (s *MemoryStore) CreateIntent(_ context.Context, intent *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intents[intent.ID]; ok {
		return ErrDuplicateID
	}

	now := time.Now()
	stored := cloneIntent(intent)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.StageTimes == nil {
		stored.StageTimes = map[string]time.Time{}
	}
	stored.StageTimes[string(stored.Status)] = now
	s.intents[stored.ID] = stored

	intent.CreatedAt = now
	intent.UpdatedAt = now
	return nil
}

func (s *MemoryStore) GetIntent(_ context.Context, id string) (*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneIntent(stored), nil
}

func (s *MemoryStore) UpdateIntentStatus(_ context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setStatusLocked(id, status, nil)
}

func (s *MemoryStore) UpdateIntentMetadata(_ context.Context, id string, patch map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.intents[id]
	if !ok {
		return ErrNotFound
	}
	stored.Metadata = mergeMetadata(stored.Metadata, patch)
	stored.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) CreateExecution(_ context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createExecutionLocked(exec)
	return nil
}

func (s *MemoryStore) UpdateExecution(_ context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.executions[exec.ID]
	if !ok {
		return ErrNotFound
	}
	*stored = *exec
	return nil
}

func (s *MemoryStore) LinkExecution(_ context.Context, intentID, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intents[intentID]; !ok {
		return ErrNotFound
	}
	stored, ok := s.executions[executionID]
	if !ok {
		return ErrNotFound
	}
	stored.IntentID = intentID
	return nil
}

func (s *MemoryStore) FinalizeIntent(_ context.Context, intentID string, status Status, exec *Execution, stageErr *errors.StageError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The status guard runs first so a rejected finalize leaves no
	// execution row behind, matching the Postgres transaction.
	if err := s.setStatusLocked(intentID, status, stageErr); err != nil {
		return err
	}
	if exec != nil {
		exec.IntentID = intentID
		s.createExecutionLocked(exec)
	}
	return nil
}

// Executions returns the executions linked to an intent, creation order.
func (s *MemoryStore) Executions(intentID string) []*Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Execution
	for _, id := range s.execOrder {
		if e := s.executions[id]; e.IntentID == intentID {
			copied := *e
			out = append(out, &copied)
		}
	}
	return out
}

func (s *MemoryStore) setStatusLocked(id string, status Status, stageErr *errors.StageError) error {
	stored, ok := s.intents[id]
	if !ok {
		return ErrNotFound
	}
	if stored.Status.IsTerminal() && status != stored.Status {
		return ErrTerminalState
	}

	now := time.Now()
	stored.Status = status
	stored.UpdatedAt = now
	if stored.StageTimes == nil {
		stored.StageTimes = map[string]time.Time{}
	}
	stored.StageTimes[string(status)] = now
	if stageErr != nil {
		stored.Error = stageErr
	}
	return nil
}

func (s *MemoryStore) createExecutionLocked(exec *Execution) {
	now := time.Now()
	exec.CreatedAt = now
	copied := *exec
	if _, ok := s.executions[copied.ID]; !ok {
		s.execOrder = append(s.execOrder, copied.ID)
	}
	s.executions[copied.ID] = &copied
}

func cloneIntent(in *Intent) *Intent {
	out := *in
	out.Metadata = mergeMetadata(in.Metadata, nil)
	if in.StageTimes != nil {
		out.StageTimes = make(map[string]time.Time, len(in.StageTimes))
		for k, v := range in.StageTimes {
			out.StageTimes[k] = v
		}
	}
	return &out
}
