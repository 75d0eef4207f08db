// Package journal records build runs and their stage outcomes in a SQLite
// database so past builds can be listed with `opikb history`.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	cerrors "github.com/bitswalk/opikb/src/common/errors"
	"github.com/bitswalk/opikb/src/common/paths"
	"github.com/bitswalk/opikb/src/opikb/journal/migrations"
	_ "github.com/mattn/go-sqlite3"
)

// Journal is an open run journal
type Journal struct {
	db   *sql.DB
	path string
}

// Open opens or creates the journal at path and brings its schema up to date
func Open(path string) (*Journal, error) {
	path = paths.Expand(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, cerrors.Wrap(err, cerrors.DomainJournal, cerrors.CodeDatabase, "failed to create journal directory")
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path))
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.DomainJournal, cerrors.CodeDatabase, "failed to open journal")
	}
	// one writer; keeps the foreign key pragma on every statement
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, cerrors.Wrap(err, cerrors.DomainJournal, cerrors.CodeDatabase, "failed to open journal")
	}

	if err := migrations.NewRunner(db).Run(); err != nil {
		db.Close()
		return nil, cerrors.Wrap(err, cerrors.DomainJournal, cerrors.CodeDatabase, "failed to migrate journal")
	}

	return &Journal{db: db, path: path}, nil
}

// Path returns the database file path
func (j *Journal) Path() string {
	return j.path
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}
