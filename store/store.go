// Package store owns all persistent state: the key directory, append-only
// documents, ownership and integrity tables, the audit log, and the pin
// index. Every write runs checks, row inserts, and its audit row inside one
// transaction; other components only see committed snapshots.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kredo-protocol/kredo/model"
)

// WriteHook observes committed writes. pubkeys lists every identity whose
// derived state (trust, profile) may have changed; an empty list means a
// global change (taxonomy, ownership graph shape).
type WriteHook func(pubkeys []string)

// Store wraps the SQLite database. Safe for concurrent use; SQLite
// serializes writers, and contended writes are retried.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	hooks []WriteHook
}

// Open opens (creating if needed) the database at path and applies pending
// migrations. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		// WAL keeps readers unblocked during writes; busy_timeout gives the
		// driver a grace window before surfacing contention to our retry loop.
		dsn = path + "?" + url.Values{
			"_pragma": []string{"journal_mode(WAL)", "busy_timeout(2000)", "foreign_keys(ON)"},
		}.Encode()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids spurious
	// SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// OnWrite registers a hook called after every committed write.
func (s *Store) OnWrite(h WriteHook) {
	s.mu.Lock()
	s.hooks = append(s.hooks, h)
	s.mu.Unlock()
}

func (s *Store) notify(pubkeys []string) {
	s.mu.Lock()
	hooks := append([]WriteHook(nil), s.hooks...)
	s.mu.Unlock()
	for _, h := range hooks {
		h(pubkeys)
	}
}

const (
	writeRetries      = 3
	writeRetryBackoff = 50 * time.Millisecond
)

// withTx runs fn inside a transaction, retrying contended writes up to
// writeRetries times with linear backoff before surfacing server_error.
// Domain errors from fn roll back and return unchanged. touched lists the
// pubkeys reported to write hooks after commit: an empty non-nil slice is a
// global change, nil suppresses notification (callers that compute the
// affected set inside the transaction notify themselves).
func (s *Store) withTx(ctx context.Context, touched []string, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= writeRetries; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			if touched != nil {
				s.notify(touched)
			}
			return nil
		}
		if !isContention(err) {
			return err
		}
		lastErr = err
		select {
		case <-time.After(time.Duration(attempt) * writeRetryBackoff):
		case <-ctx.Done():
			return model.WrapError(model.KindInternal, "write cancelled", ctx.Err())
		}
	}
	return model.WrapError(model.KindInternal, "database write contention", lastErr)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isContention(err error) bool {
	if err == nil {
		return false
	}
	if model.KindOf(err) != model.KindInternal {
		return false
	}
	// model.Error prints only its message, so walk the cause chain to see
	// the driver's busy/locked text.
	for e := err; e != nil; e = errors.Unwrap(e) {
		msg := strings.ToLower(e.Error())
		if strings.Contains(msg, "busy") || strings.Contains(msg, "locked") {
			return true
		}
	}
	return false
}

// view runs fn in a read-only transaction for a consistent snapshot.
func (s *Store) view(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}

func internalErr(op string, err error) error {
	return model.WrapError(model.KindInternal, op+" failed", err)
}

// nullable maps "" to NULL for optional text columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func text(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
