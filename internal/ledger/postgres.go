package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	goerrors "errors"
	"fmt"

	"github.com/lib/pq"

	"intentflow/internal/common/database"
	"intentflow/internal/common/errors"
)

// uniqueViolation is the Postgres error code for a duplicate primary key.
const uniqueViolation pq.ErrorCode = "23505"

// PostgresStore persists the ledger in PostgreSQL. Metadata merging and the
// monotonic-terminal guard are pushed into SQL so concurrent writers agree.
type PostgresStore struct {
	client *database.PostgresClient
}

// NewPostgresStore creates a ledger store over an open Postgres client.
func NewPostgresStore(client *database.PostgresClient) *PostgresStore {
	return &PostgresStore{client: client}
}

// EnsureSchema creates the ledger tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS intents (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	text          TEXT NOT NULL,
	kind          TEXT NOT NULL,
	status        TEXT NOT NULL,
	metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
	stage_times   JSONB NOT NULL DEFAULT '{}'::jsonb,
	error_stage   TEXT,
	error_code    TEXT,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS executions (
	id             TEXT PRIMARY KEY,
	intent_id      TEXT NOT NULL REFERENCES intents(id),
	chain          TEXT NOT NULL,
	network        TEXT NOT NULL,
	venue          TEXT,
	execution_type TEXT NOT NULL,
	tx_hash        TEXT,
	explorer_url   TEXT,
	status         INT NOT NULL,
	latency_ms     BIGINT NOT NULL DEFAULT 0,
	error_detail   TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_executions_intent ON executions(intent_id);`
	_, err := s.client.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) CreateIntent(ctx context.Context, intent *Intent) error {
	metadata, err := json.Marshal(nonNilMetadata(intent.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	const q = `
INSERT INTO intents (id, session_id, text, kind, status, metadata, stage_times)
VALUES ($1, $2, $3, $4, $5, $6, jsonb_build_object($5::text, now()))
RETURNING created_at, updated_at`
	err = s.client.QueryRow(ctx, q,
		intent.ID, intent.SessionID, intent.Text, intent.Kind, string(intent.Status), metadata,
	).Scan(&intent.CreatedAt, &intent.UpdatedAt)

	var pqErr *pq.Error
	if goerrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicateID
	}
	return err
}

func (s *PostgresStore) GetIntent(ctx context.Context, id string) (*Intent, error) {
	const q = `
SELECT id, session_id, text, kind, status, metadata, stage_times,
       error_stage, error_code, error_message, created_at, updated_at
FROM intents WHERE id = $1`

	var (
		intent     Intent
		metadata   []byte
		stageTimes []byte
		errStage   sql.NullString
		errCode    sql.NullString
		errMessage sql.NullString
		status     string
	)
	err := s.client.QueryRow(ctx, q, id).Scan(
		&intent.ID, &intent.SessionID, &intent.Text, &intent.Kind, &status,
		&metadata, &stageTimes, &errStage, &errCode, &errMessage,
		&intent.CreatedAt, &intent.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	intent.Status = Status(status)
	if err := json.Unmarshal(metadata, &intent.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if err := json.Unmarshal(stageTimes, &intent.StageTimes); err != nil {
		return nil, fmt.Errorf("unmarshal stage times: %w", err)
	}
	if errStage.Valid {
		intent.Error = &errors.StageError{
			Stage:   errors.Stage(errStage.String),
			Code:    errors.ErrorCode(errCode.String),
			Message: errMessage.String,
		}
	}
	return &intent, nil
}

func (s *PostgresStore) UpdateIntentStatus(ctx context.Context, id string, status Status) error {
	const q = `
UPDATE intents
SET status = $2,
    stage_times = stage_times || jsonb_build_object($2::text, now()),
    updated_at = now()
WHERE id = $1 AND status NOT IN ('confirmed', 'failed')`
	res, err := s.client.Exec(ctx, q, id, string(status))
	if err != nil {
		return err
	}
	return s.guardResult(ctx, res, id)
}

func (s *PostgresStore) UpdateIntentMetadata(ctx context.Context, id string, patch map[string]interface{}) error {
	payload, err := json.Marshal(nonNilMetadata(patch))
	if err != nil {
		return fmt.Errorf("marshal metadata patch: %w", err)
	}

	const q = `
UPDATE intents
SET metadata = metadata || $2::jsonb, updated_at = now()
WHERE id = $1`
	res, err := s.client.Exec(ctx, q, id, payload)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateExecution(ctx context.Context, exec *Execution) error {
	const q = `
INSERT INTO executions (id, intent_id, chain, network, venue, execution_type,
                        tx_hash, explorer_url, status, latency_ms, error_detail)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING created_at`
	return s.client.QueryRow(ctx, q,
		exec.ID, exec.IntentID, exec.Chain, exec.Network, exec.Venue, exec.ExecutionType,
		exec.TxHash, exec.ExplorerURL, int(exec.Status), exec.LatencyMs, exec.ErrorDetail,
	).Scan(&exec.CreatedAt)
}

func (s *PostgresStore) UpdateExecution(ctx context.Context, exec *Execution) error {
	const q = `
UPDATE executions
SET tx_hash = $2, explorer_url = $3, status = $4, latency_ms = $5, error_detail = $6
WHERE id = $1`
	res, err := s.client.Exec(ctx, q,
		exec.ID, exec.TxHash, exec.ExplorerURL, int(exec.Status), exec.LatencyMs, exec.ErrorDetail)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) LinkExecution(ctx context.Context, intentID, executionID string) error {
	const q = `UPDATE executions SET intent_id = $2 WHERE id = $1`
	res, err := s.client.Exec(ctx, q, executionID, intentID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinalizeIntent writes the execution row and the parent's terminal status
// in one transaction. Either both land or neither does.
func (s *PostgresStore) FinalizeIntent(ctx context.Context, intentID string, status Status, exec *Execution, stageErr *errors.StageError) error {
	tx, err := s.client.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if exec != nil {
		const insertExec = `
INSERT INTO executions (id, intent_id, chain, network, venue, execution_type,
                        tx_hash, explorer_url, status, latency_ms, error_detail)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
		exec.IntentID = intentID
		if _, err := tx.ExecContext(ctx, insertExec,
			exec.ID, exec.IntentID, exec.Chain, exec.Network, exec.Venue, exec.ExecutionType,
			exec.TxHash, exec.ExplorerURL, int(exec.Status), exec.LatencyMs, exec.ErrorDetail,
		); err != nil {
			return err
		}
	}

	var errStage, errCode, errMessage sql.NullString
	if stageErr != nil {
		errStage = sql.NullString{String: string(stageErr.Stage), Valid: true}
		errCode = sql.NullString{String: string(stageErr.Code), Valid: true}
		errMessage = sql.NullString{String: stageErr.Message, Valid: true}
	}

	const updateIntent = `
UPDATE intents
SET status = $2,
    stage_times = stage_times || jsonb_build_object($2::text, now()),
    error_stage = $3, error_code = $4, error_message = $5,
    updated_at = now()
WHERE id = $1 AND status NOT IN ('confirmed', 'failed')`
	res, err := tx.ExecContext(ctx, updateIntent, intentID, string(status), errStage, errCode, errMessage)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.classifyGuardMiss(ctx, intentID)
	}

	return tx.Commit()
}

func (s *PostgresStore) guardResult(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.classifyGuardMiss(ctx, id)
	}
	return nil
}

// classifyGuardMiss distinguishes a missing row from a terminal one after a
// guarded update touched nothing.
func (s *PostgresStore) classifyGuardMiss(ctx context.Context, id string) error {
	var exists bool
	err := s.client.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM intents WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrTerminalState
}

func nonNilMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
