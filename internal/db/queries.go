package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/reviewflow/internal/pipeline"
)

var (
	// ErrNotFound is returned when an addressed record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when creating a record whose uuid is taken.
	ErrExists = errors.New("already exists")
)

// Execution represents a row in the executions table.
type Execution struct {
	UUID              string          `json:"uuid"`
	PullRequestNumber int             `json:"pull_request_number"`
	RepositoryID      string          `json:"repository_id"`
	Status            pipeline.Status `json:"status"`
	Message           string          `json:"message,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	FinishedAt        *time.Time      `json:"finished_at,omitempty"`
}

// StageLog represents a row in the stage_logs table.
type StageLog struct {
	UUID          string          `json:"uuid"`
	ExecutionUUID string          `json:"execution_uuid"`
	StageName     string          `json:"stage_name"`
	Status        pipeline.Status `json:"status"`
	Message       string          `json:"message,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

// ExecutionFilter selects executions. Zero fields are ignored. In
// UpdateCodeReview a set UUID addresses one execution directly and the pull
// request fields only seed the execution when it has to be created.
type ExecutionFilter struct {
	UUID              string
	PullRequestNumber int
	RepositoryID      string
	Status            pipeline.Status
}

// CodeReviewUpdate is the result of UpdateCodeReview.
type CodeReviewUpdate struct {
	Execution *Execution
	StageLog  *StageLog
}

// StageLogUpdate changes a stage log. Nil FinishedAt and Metadata keep the
// stored values.
type StageLogUpdate struct {
	Status     pipeline.Status
	Message    string
	FinishedAt *time.Time
	Metadata   map[string]any
}

// NewExecution describes an execution to create. An empty UUID is generated.
type NewExecution struct {
	UUID              string
	PullRequestNumber int
	RepositoryID      string
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const executionColumns = `uuid, pull_request_number, repository_id, status, message, created_at, updated_at, finished_at`

const stageLogColumns = `uuid, execution_uuid, stage_name, status, message, metadata, created_at, updated_at, finished_at`

// StartExecution creates an IN_PROGRESS execution.
func (d *DB) StartExecution(ctx context.Context, n NewExecution) (*Execution, error) {
	e, err := d.insertExecution(ctx, d.conn, n, false)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("start execution %s: %w", n.UUID, ErrExists)
	}
	if err != nil {
		return nil, fmt.Errorf("start execution: %w", err)
	}
	return e, nil
}

// FinishExecution records the final status of an execution.
func (d *DB) FinishExecution(ctx context.Context, executionUUID string, status pipeline.Status, message string) error {
	now := formatTime(d.now())
	res, err := d.conn.ExecContext(ctx, d.rebind(
		`UPDATE executions SET status = ?, message = ?, updated_at = ?, finished_at = ? WHERE uuid = ?`),
		string(status), message, now, now, executionUUID,
	)
	if err != nil {
		return fmt.Errorf("finish execution %s: %w", executionUUID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish execution %s: %w", executionUUID, err)
	}
	if n == 0 {
		return fmt.Errorf("finish execution %s: %w", executionUUID, ErrNotFound)
	}
	return nil
}

// GetExecution returns the execution with the given uuid or ErrNotFound.
func (d *DB) GetExecution(ctx context.Context, executionUUID string) (*Execution, error) {
	e, err := d.getExecution(ctx, d.conn, executionUUID)
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	if e == nil {
		return nil, fmt.Errorf("get execution %s: %w", executionUUID, ErrNotFound)
	}
	return e, nil
}

// ListExecutions returns executions matching filter, newest first. A
// non-positive limit defaults to 50.
func (d *DB) ListExecutions(ctx context.Context, filter ExecutionFilter, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	where, args := filterClause(filter)
	args = append(args, limit)
	rows, err := d.conn.QueryContext(ctx, d.rebind(
		`SELECT `+executionColumns+` FROM executions`+where+` ORDER BY created_at DESC LIMIT ?`), args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("list executions: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return out, nil
}

// FindLatestExecutionByFilters returns the newest execution matching filter,
// or nil when none does.
func (d *DB) FindLatestExecutionByFilters(ctx context.Context, filter ExecutionFilter) (*Execution, error) {
	e, err := d.findLatestExecution(ctx, d.conn, filter)
	if err != nil {
		return nil, fmt.Errorf("find latest execution: %w", err)
	}
	return e, nil
}

// FindLatestStageLog returns the stage log of stageName in the execution, or
// nil when none exists.
func (d *DB) FindLatestStageLog(ctx context.Context, executionUUID, stageName string) (*StageLog, error) {
	l, err := d.findStageLog(ctx, d.conn, executionUUID, stageName)
	if err != nil {
		return nil, fmt.Errorf("find stage log: %w", err)
	}
	return l, nil
}

// ListStageLogs returns every stage log of an execution in creation order.
func (d *DB) ListStageLogs(ctx context.Context, executionUUID string) ([]StageLog, error) {
	rows, err := d.conn.QueryContext(ctx, d.rebind(
		`SELECT `+stageLogColumns+` FROM stage_logs WHERE execution_uuid = ? ORDER BY created_at ASC, stage_name ASC`),
		executionUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stage logs: %w", err)
	}
	defer rows.Close()

	var out []StageLog
	for rows.Next() {
		l, err := scanStageLog(rows)
		if err != nil {
			return nil, fmt.Errorf("list stage logs: %w", err)
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stage logs: %w", err)
	}
	return out, nil
}

// UpdateCodeReview writes stageName's status into the execution addressed by
// filter, creating the execution (IN_PROGRESS) and the stage log when
// missing. Without a UUID, the newest IN_PROGRESS execution for the pull
// request is used.
func (d *DB) UpdateCodeReview(ctx context.Context, filter ExecutionFilter, status pipeline.Status, message, stageName string, metadata map[string]any) (*CodeReviewUpdate, error) {
	if stageName == "" {
		return nil, errors.New("update code review: empty stage name")
	}
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("update code review: %w", err)
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	exec, err := d.resolveExecution(ctx, tx, filter)
	if err != nil {
		return nil, fmt.Errorf("update code review: %w", err)
	}

	now := d.now()
	var finishedAt any
	if status != pipeline.StatusInProgress {
		finishedAt = formatTime(now)
	}
	_, err = tx.ExecContext(ctx, d.rebind(
		`INSERT INTO stage_logs (`+stageLogColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (execution_uuid, stage_name) DO UPDATE SET
		   status = excluded.status,
		   message = excluded.message,
		   metadata = COALESCE(excluded.metadata, stage_logs.metadata),
		   updated_at = excluded.updated_at,
		   finished_at = excluded.finished_at`),
		uuid.NewString(), exec.UUID, stageName, string(status), message, meta,
		formatTime(now), formatTime(now), finishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert stage log %s: %w", stageName, err)
	}
	if _, err := tx.ExecContext(ctx, d.rebind(`UPDATE executions SET updated_at = ? WHERE uuid = ?`), formatTime(now), exec.UUID); err != nil {
		return nil, fmt.Errorf("touch execution %s: %w", exec.UUID, err)
	}

	stageLog, err := d.findStageLog(ctx, tx, exec.UUID, stageName)
	if err != nil {
		return nil, fmt.Errorf("reload stage log: %w", err)
	}
	if stageLog == nil {
		return nil, fmt.Errorf("reload stage log %s: %w", stageName, ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit code review update: %w", err)
	}
	return &CodeReviewUpdate{Execution: exec, StageLog: stageLog}, nil
}

// UpdateStageLog updates the stage log with the given uuid.
func (d *DB) UpdateStageLog(ctx context.Context, stageLogUUID string, u StageLogUpdate) error {
	meta, err := encodeMetadata(u.Metadata)
	if err != nil {
		return fmt.Errorf("update stage log: %w", err)
	}
	var finishedAt any
	if u.FinishedAt != nil {
		finishedAt = formatTime(*u.FinishedAt)
	}
	res, err := d.conn.ExecContext(ctx, d.rebind(
		`UPDATE stage_logs SET status = ?, message = ?, updated_at = ?,
		   finished_at = COALESCE(?, finished_at),
		   metadata = COALESCE(?, metadata)
		 WHERE uuid = ?`),
		string(u.Status), u.Message, formatTime(d.now()), finishedAt, meta, stageLogUUID,
	)
	if err != nil {
		return fmt.Errorf("update stage log %s: %w", stageLogUUID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update stage log %s: %w", stageLogUUID, err)
	}
	if n == 0 {
		return fmt.Errorf("update stage log %s: %w", stageLogUUID, ErrNotFound)
	}
	return nil
}

// resolveExecution finds or lazily creates the execution addressed by filter.
func (d *DB) resolveExecution(ctx context.Context, q querier, filter ExecutionFilter) (*Execution, error) {
	if filter.UUID != "" {
		e, err := d.getExecution(ctx, q, filter.UUID)
		if err != nil || e != nil {
			return e, err
		}
	} else {
		e, err := d.findLatestExecution(ctx, q, ExecutionFilter{
			PullRequestNumber: filter.PullRequestNumber,
			RepositoryID:      filter.RepositoryID,
			Status:            pipeline.StatusInProgress,
		})
		if err != nil || e != nil {
			return e, err
		}
	}

	n := NewExecution{
		UUID:              filter.UUID,
		PullRequestNumber: filter.PullRequestNumber,
		RepositoryID:      filter.RepositoryID,
	}
	if n.UUID == "" {
		return d.insertExecution(ctx, q, n, false)
	}
	// Another run may create the same uuid concurrently; keep whichever won.
	if _, err := d.insertExecution(ctx, q, n, true); err != nil {
		return nil, err
	}
	e, err := d.getExecution(ctx, q, n.UUID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("execution %s: %w", n.UUID, ErrNotFound)
	}
	return e, nil
}

func (d *DB) insertExecution(ctx context.Context, q querier, n NewExecution, ignoreConflict bool) (*Execution, error) {
	if n.UUID == "" {
		n.UUID = uuid.NewString()
	}
	now := d.now().UTC()
	e := &Execution{
		UUID:              n.UUID,
		PullRequestNumber: n.PullRequestNumber,
		RepositoryID:      n.RepositoryID,
		Status:            pipeline.StatusInProgress,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	query := `INSERT INTO executions (uuid, pull_request_number, repository_id, status, message, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`
	if ignoreConflict {
		query += ` ON CONFLICT (uuid) DO NOTHING`
	}
	_, err := q.ExecContext(ctx, d.rebind(query),
		e.UUID, e.PullRequestNumber, e.RepositoryID, string(e.Status), "", formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert execution %s: %w", e.UUID, err)
	}
	return e, nil
}

func (d *DB) getExecution(ctx context.Context, q querier, executionUUID string) (*Execution, error) {
	row := q.QueryRowContext(ctx, d.rebind(`SELECT `+executionColumns+` FROM executions WHERE uuid = ?`), executionUUID)
	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (d *DB) findLatestExecution(ctx context.Context, q querier, filter ExecutionFilter) (*Execution, error) {
	where, args := filterClause(filter)
	row := q.QueryRowContext(ctx, d.rebind(
		`SELECT `+executionColumns+` FROM executions`+where+` ORDER BY created_at DESC LIMIT 1`), args...)
	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (d *DB) findStageLog(ctx context.Context, q querier, executionUUID, stageName string) (*StageLog, error) {
	row := q.QueryRowContext(ctx, d.rebind(
		`SELECT `+stageLogColumns+` FROM stage_logs WHERE execution_uuid = ? AND stage_name = ?
		 ORDER BY updated_at DESC LIMIT 1`),
		executionUUID, stageName,
	)
	l, err := scanStageLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func filterClause(f ExecutionFilter) (string, []any) {
	var conds []string
	var args []any
	if f.UUID != "" {
		conds = append(conds, "uuid = ?")
		args = append(args, f.UUID)
	}
	if f.PullRequestNumber != 0 {
		conds = append(conds, "pull_request_number = ?")
		args = append(args, f.PullRequestNumber)
	}
	if f.RepositoryID != "" {
		conds = append(conds, "repository_id = ?")
		args = append(args, f.RepositoryID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(s scanner) (*Execution, error) {
	var e Execution
	var status, createdAt, updatedAt string
	var finishedAt sql.NullString
	if err := s.Scan(&e.UUID, &e.PullRequestNumber, &e.RepositoryID, &status, &e.Message, &createdAt, &updatedAt, &finishedAt); err != nil {
		return nil, err
	}
	e.Status = pipeline.Status(status)
	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if e.FinishedAt, err = parseNullTime(finishedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanStageLog(s scanner) (*StageLog, error) {
	var l StageLog
	var status, createdAt, updatedAt string
	var metadata, finishedAt sql.NullString
	if err := s.Scan(&l.UUID, &l.ExecutionUUID, &l.StageName, &status, &l.Message, &metadata, &createdAt, &updatedAt, &finishedAt); err != nil {
		return nil, err
	}
	l.Status = pipeline.Status(status)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &l.Metadata); err != nil {
			return nil, fmt.Errorf("decode stage log metadata: %w", err)
		}
	}
	var err error
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if l.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if l.FinishedAt, err = parseNullTime(finishedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// encodeMetadata returns nil for empty metadata so COALESCE keeps the
// stored value.
func encodeMetadata(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}
