// Package migrations versions the run journal schema. Each migration runs in
// its own transaction and is recorded in journal_schema once committed.
package migrations

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/bitswalk/opikb/src/common/logs"
)

var log = logs.Discard()

// SetLogger routes migration progress to l
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Migration is one schema step
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// Runner brings a journal database up to the latest schema
type Runner struct {
	db         *sql.DB
	migrations []Migration
}

// NewRunner returns a runner over every known migration
func NewRunner(db *sql.DB) *Runner {
	steps := []Migration{
		migration001RunJournal(),
		migration002ConfigSnapshot(),
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })
	return &Runner{db: db, migrations: steps}
}

const schemaTable = `
CREATE TABLE IF NOT EXISTS journal_schema (
	version     INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at  DATETIME NOT NULL
)`

// pending lists the migrations not yet recorded, lowest version first
func (r *Runner) pending() ([]Migration, error) {
	current, err := r.CurrentVersion()
	if err != nil {
		return nil, err
	}

	var todo []Migration
	for _, m := range r.migrations {
		if m.Version > current {
			todo = append(todo, m)
		}
	}
	return todo, nil
}

// Run applies every pending migration. It stops at the first failure, which
// leaves the database at the last committed version.
func (r *Runner) Run() error {
	if _, err := r.db.Exec(schemaTable); err != nil {
		return fmt.Errorf("failed to create journal_schema: %w", err)
	}

	todo, err := r.pending()
	if err != nil {
		return fmt.Errorf("failed to read journal schema version: %w", err)
	}
	if len(todo) == 0 {
		return nil
	}

	for _, m := range todo {
		log.Debug("Applying journal migration", "version", m.Version, "description", m.Description)
		if err := r.apply(m); err != nil {
			log.Error("Journal migration failed", "version", m.Version, "error", err)
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
	}
	log.Debug("Journal schema up to date", "version", r.Latest())
	return nil
}

func (r *Runner) apply(m Migration) (err error) {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = m.Up(tx); err != nil {
		return err
	}
	if _, err = tx.Exec(
		`INSERT INTO journal_schema (version, description, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Description, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to record version: %w", err)
	}
	return tx.Commit()
}

// CurrentVersion returns the highest applied version, 0 for a fresh database
func (r *Runner) CurrentVersion() (int, error) {
	var version sql.NullInt64
	err := r.db.QueryRow(`SELECT MAX(version) FROM journal_schema`).Scan(&version)
	if err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

// Latest returns the version the registered migrations lead to
func (r *Runner) Latest() int {
	if n := len(r.migrations); n > 0 {
		return r.migrations[n-1].Version
	}
	return 0
}
