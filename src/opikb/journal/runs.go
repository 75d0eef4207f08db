package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	cerrors "github.com/bitswalk/opikb/src/common/errors"
	"github.com/bitswalk/opikb/src/opikb/config"
	"github.com/bitswalk/opikb/src/opikb/pipeline"
	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// ErrRunNotFound is returned when no run matches an ID
var ErrRunNotFound = cerrors.New(cerrors.DomainJournal, "not_found", "run not found")

// Run is one invocation of the build pipeline
type Run struct {
	ID             string     `json:"id" yaml:"id"`
	KernelVersion  string     `json:"kernel_version" yaml:"kernel_version"`
	KernelRelease  string     `json:"kernel_release" yaml:"kernel_release"`
	Status         RunStatus  `json:"status" yaml:"status"`
	KernelSource   string     `json:"kernel_source,omitempty" yaml:"kernel_source,omitempty"`
	FailedStage    string     `json:"failed_stage,omitempty" yaml:"failed_stage,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	Warnings       int        `json:"warnings" yaml:"warnings"`
	StartedAt      time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	DurationMs     int64      `json:"duration_ms" yaml:"duration_ms"`
	ConfigSnapshot string     `json:"-" yaml:"-"`
	Artifacts      []string   `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
}

// StageResult is the recorded outcome of one stage
type StageResult struct {
	ID         int64     `json:"-" yaml:"-"`
	RunID      string    `json:"run_id" yaml:"run_id"`
	Name       string    `json:"name" yaml:"name"`
	Policy     string    `json:"policy" yaml:"policy"`
	Status     string    `json:"status" yaml:"status"`
	Warnings   int       `json:"warnings" yaml:"warnings"`
	Message    string    `json:"message,omitempty" yaml:"message,omitempty"`
	DurationMs int64     `json:"duration_ms" yaml:"duration_ms"`
	RecordedAt time.Time `json:"recorded_at" yaml:"recorded_at"`
}

// StartRun inserts a running record for cfg and returns it. The run ID is
// a fresh UUID.
func (j *Journal) StartRun(cfg *config.Config) (*Run, error) {
	snapshot, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config snapshot: %w", err)
	}

	run := &Run{
		ID:             uuid.New().String(),
		KernelVersion:  cfg.KernelVersion,
		KernelRelease:  cfg.Release(),
		Status:         RunStatusRunning,
		StartedAt:      time.Now().UTC(),
		ConfigSnapshot: string(snapshot),
	}

	_, err = j.db.Exec(`
		INSERT INTO runs (id, kernel_version, kernel_release, status, started_at, config_snapshot)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.KernelVersion, run.KernelRelease, run.Status, run.StartedAt, run.ConfigSnapshot)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.DomainJournal, cerrors.CodeDatabase, "failed to record run start")
	}

	return run, nil
}

// RecordStage appends the outcome of one stage to a run
func (j *Journal) RecordStage(runID string, o pipeline.Outcome) error {
	_, err := j.db.Exec(`
		INSERT INTO stage_results (run_id, name, policy, status, warnings, message, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, o.Stage, o.Policy.String(), string(o.Status), o.Warnings, o.Message,
		o.Duration.Milliseconds(), time.Now().UTC())
	if err != nil {
		return cerrors.Wrap(err, cerrors.DomainJournal, cerrors.CodeDatabase,
			fmt.Sprintf("failed to record stage %s", o.Stage))
	}
	return nil
}

// FinishRun stores the final status of a run
func (j *Journal) FinishRun(runID string, report *pipeline.Report, kernelSource string, artifacts []string) error {
	status := RunStatusSucceeded
	var message string
	if !report.Succeeded() {
		status = RunStatusFailed
		message = report.Err.Error()
	}

	encoded, err := json.Marshal(artifacts)
	if err != nil {
		return fmt.Errorf("failed to encode artifacts: %w", err)
	}

	result, err := j.db.Exec(`
		UPDATE runs SET status = ?, kernel_source = ?, failed_stage = ?, error_message = ?,
			warnings = ?, completed_at = ?, duration_ms = ?, artifacts = ?
		WHERE id = ?
	`, status, kernelSource, report.FailedStage, message, report.Warnings,
		time.Now().UTC(), report.Duration.Milliseconds(), string(encoded), runID)
	if err != nil {
		return cerrors.Wrap(err, cerrors.DomainJournal, cerrors.CodeDatabase, "failed to record run result")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrRunNotFound.WithMessagef("run not found: %s", runID)
	}
	return nil
}

const selectRunsQuery = `
	SELECT id, kernel_version, kernel_release, status, kernel_source, failed_stage,
		error_message, warnings, started_at, completed_at, duration_ms,
		config_snapshot, artifacts
	FROM runs
`

// ListRuns returns the most recent runs first. A non-positive limit
// returns every run.
func (j *Journal) ListRuns(limit int) ([]Run, error) {
	query := selectRunsQuery + ` ORDER BY started_at DESC, rowid DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.DomainJournal, cerrors.CodeDatabase, "failed to list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun returns the run whose ID is id or starts with id. A prefix that
// matches more than one run is an error.
func (j *Journal) GetRun(id string) (*Run, error) {
	if id == "" {
		return nil, ErrRunNotFound
	}

	// plain substring compare so % and _ in id match literally
	rows, err := j.db.Query(selectRunsQuery+` WHERE substr(id, 1, ?) = ? ORDER BY started_at DESC LIMIT 2`, len(id), id)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.DomainJournal, cerrors.CodeDatabase, "failed to look up run")
	}
	defer rows.Close()

	var found []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(found) {
	case 0:
		return nil, ErrRunNotFound.WithMessagef("run not found: %s", id)
	case 1:
		return found[0], nil
	default:
		return nil, cerrors.Newf(cerrors.DomainJournal, cerrors.CodeInvalidArgument, "run ID prefix %q is ambiguous", id)
	}
}

// Stages returns the stage results of a run in execution order
func (j *Journal) Stages(runID string) ([]StageResult, error) {
	rows, err := j.db.Query(`
		SELECT id, run_id, name, policy, status, warnings, message, duration_ms, recorded_at
		FROM stage_results WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.DomainJournal, cerrors.CodeDatabase, "failed to list stage results")
	}
	defer rows.Close()

	var results []StageResult
	for rows.Next() {
		var r StageResult
		if err := rows.Scan(&r.ID, &r.RunID, &r.Name, &r.Policy, &r.Status, &r.Warnings,
			&r.Message, &r.DurationMs, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// DeleteRun removes a run and its stage results
func (j *Journal) DeleteRun(id string) error {
	result, err := j.db.Exec("DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return cerrors.Wrap(err, cerrors.DomainJournal, cerrors.CodeDatabase, "failed to delete run")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrRunNotFound.WithMessagef("run not found: %s", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var completedAt sql.NullTime
	var artifacts string

	err := row.Scan(&run.ID, &run.KernelVersion, &run.KernelRelease, &run.Status, &run.KernelSource,
		&run.FailedStage, &run.ErrorMessage, &run.Warnings, &run.StartedAt, &completedAt,
		&run.DurationMs, &run.ConfigSnapshot, &artifacts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if artifacts != "" {
		if err := json.Unmarshal([]byte(artifacts), &run.Artifacts); err != nil {
			return nil, fmt.Errorf("failed to decode artifacts of run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}
