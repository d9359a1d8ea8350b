package core

import (
	"database/sql"
	"fmt"
	"io/fs"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/putto11262002/pharmadesk/migrations"
)

type SQLiteDBOption struct {
	// mode can be ro | rw | rwc | memory
	Mode string
	// cache can be shared | private
	Cache string
	// JournalMode be DELETE | TRUNCATE | PERSIST | MEMORY | WAL | OFF
	JournalMode string
	// BusyTimeout is the number of milliseconds a connection waits on a locked database.
	BusyTimeout int
}

func (config *SQLiteDBOption) DSN(sb *strings.Builder) {
	params := []string{"_foreign_keys=on"}
	if config != nil {
		if config.Mode != "" {
			params = append(params, "mode="+config.Mode)
		}
		if config.Cache != "" {
			params = append(params, "cache="+config.Cache)
		}
		if config.JournalMode != "" {
			params = append(params, "_journal_mode="+config.JournalMode)
		}
		if config.BusyTimeout > 0 {
			params = append(params, fmt.Sprintf("_busy_timeout=%d", config.BusyTimeout))
		}
	}
	sb.WriteString("?")
	sb.WriteString(strings.Join(params, "&"))
}

type SQLiteDB struct {
	*sql.DB
	config     *SQLiteDBOption
	file       string
	migrations fs.FS
}

// NewSQLiteDB opens the database file. Foreign keys are always enabled since
// messages rely on cascading deletes.
func NewSQLiteDB(file string, config *SQLiteDBOption) (*SQLiteDB, error) {
	db := &SQLiteDB{config: config, file: file, migrations: migrations.FS}

	var dsn strings.Builder
	dsn.WriteString("file:")
	dsn.WriteString(db.file)
	config.DSN(&dsn)

	d, err := sql.Open("sqlite3", dsn.String())
	if err != nil {
		return nil, fmt.Errorf("sql.Open(%s): %w", file, err)
	}

	db.DB = d
	return db, nil
}

func (db *SQLiteDB) Migrate() error {
	goose.SetBaseFS(db.migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	if err := goose.Up(db.DB, "."); err != nil {
		return fmt.Errorf("goose.Up: %w", err)
	}
	return nil
}

// MigrationVersion returns the current schema version.
func (db *SQLiteDB) MigrationVersion() (int64, error) {
	goose.SetBaseFS(db.migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(db.DB)
}
