package mapdb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"voxelsync.ai/internal/sim/geom"
)

// SQLite keeps blocks in a single `blocks` table keyed by BlockKey.
type SQLite struct {
	db *sql.DB

	load *sql.Stmt
	save *sql.Stmt
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLite{db: db}
	if s.load, err = db.Prepare(`SELECT data FROM blocks WHERE pos = ?`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if s.save, err = db.Prepare(`INSERT INTO blocks(pos, data) VALUES(?, ?)
		ON CONFLICT(pos) DO UPDATE SET data = excluded.data`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS blocks (
			pos INTEGER PRIMARY KEY,
			data BLOB NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) LoadBlock(pos geom.V3s16) ([]byte, bool, error) {
	var data []byte
	err := s.load.QueryRow(BlockKey(pos)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *SQLite) SaveBlock(pos geom.V3s16, data []byte) error {
	_, err := s.save.Exec(BlockKey(pos), data)
	return err
}

// SetMeta records a world-level key, such as the definitions digest.
func (s *SQLite) SetMeta(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO meta(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *SQLite) Meta(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Count returns the number of stored blocks.
func (s *SQLite) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM blocks`).Scan(&n)
	return n, err
}

func (s *SQLite) Close() error {
	_ = s.load.Close()
	_ = s.save.Close()
	return s.db.Close()
}
