package migrations

import (
	"database/sql"
)

func migration002ConfigSnapshot() Migration {
	return Migration{
		Version:     2,
		Description: "Add config_snapshot and artifacts to runs",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`ALTER TABLE runs ADD COLUMN config_snapshot TEXT DEFAULT ''`)
			if err != nil {
				return err
			}
			_, err = tx.Exec(`ALTER TABLE runs ADD COLUMN artifacts TEXT DEFAULT ''`)
			return err
		},
	}
}
