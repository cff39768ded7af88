// Package sqlite stores incident reports in embedded SQLite databases: the
// field client's durable outbox and the dispatch server's incident table.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// db wraps a single-connection SQLite handle. Every write runs under mu so
// each mutation is one critical section and one transaction. Transactions
// begin IMMEDIATE so writers in other processes queue on busy_timeout
// instead of racing a stale snapshot.
type db struct {
	conn *sql.DB
	mu   sync.Mutex
}

func open(path, schema string) (*db, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &db{conn: conn}, nil
}

func (d *db) close() error {
	return d.conn.Close()
}
