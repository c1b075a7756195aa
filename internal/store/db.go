package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	sqlite "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
const CurrentSchemaVersion = 1

const insertSQL = `
	INSERT INTO logs (host, remote_ip, method, uri, status, headers, body, cookies, resp_headers, duration)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// openOrigin opens (creating if needed) the database at path with the logs
// table in place. The pool is pinned to one connection: the engine is the
// only writer and the backup API needs the same connection that wrote.
func openOrigin(path string) (*sql.DB, error) {
	// Pragmas in the connection string apply to every connection
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(path, 0600)

	return db, nil
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS logs (
		  id           INTEGER PRIMARY KEY AUTOINCREMENT,
		  host         TEXT,
		  remote_ip    TEXT,
		  method       TEXT,
		  uri          TEXT,
		  status       INTEGER,
		  headers      TEXT,
		  body         TEXT,
		  cookies      TEXT,
		  resp_headers TEXT,
		  duration     REAL,
		  created_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}

// countRows returns the number of rows in the logs table.
func countRows(db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM logs").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}

// CountRows opens an existing database file read-only and counts its rows.
func CountRows(path string) (int, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return 0, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	return countRows(db)
}

// backuper is implemented by modernc.org/sqlite driver connections.
type backuper interface {
	NewBackup(dstURI string) (*sqlite.Backup, error)
}

var errNoBackupAPI = errors.New("driver connection has no backup API")

// backupTo copies the live database behind db into dest with the SQLite
// online backup API. Writers on db are not blocked for the whole copy; the
// backup restarts internally if the source changes mid-copy.
func backupTo(ctx context.Context, db *sql.DB, dest string) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn any) error {
		b, ok := driverConn.(backuper)
		if !ok {
			return errNoBackupAPI
		}
		bk, err := b.NewBackup(dest)
		if err != nil {
			return err
		}
		for more := true; more; {
			more, err = bk.Step(-1)
			if err != nil {
				_ = bk.Finish()
				return err
			}
		}
		return bk.Finish()
	})
	if errors.Is(err, errNoBackupAPI) {
		// VACUUM INTO is the portable fallback; it reads a consistent snapshot.
		_, err = conn.ExecContext(ctx, "VACUUM INTO ?", dest)
	}
	if err != nil {
		return fmt.Errorf("backup to %s: %w", dest, err)
	}
	return nil
}
