package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kredo-protocol/kredo/model"
)

// RegisterUnsigned creates a directory entry on first sight. If the pubkey
// is already present nothing is changed and the existing record is returned
// with a conflict error, so the caller can echo it back.
func (s *Store) RegisterUnsigned(ctx context.Context, pubkey, name, keyType string, meta RequestMeta) (model.KnownKey, error) {
	var rec model.KnownKey
	err := s.withTx(ctx, []string{pubkey}, func(tx *sql.Tx) error {
		existing, err := getKnownKey(ctx, tx, pubkey)
		if err == nil {
			rec = existing
			return model.NewError(model.KindConflict, "pubkey already registered")
		}
		if !model.IsKind(err, model.KindNotFound) {
			return err
		}
		now := model.Now()
		rec = model.KnownKey{Pubkey: pubkey, Name: name, Type: keyType, Registered: true, FirstSeen: now, LastSeen: now}
		_, err = tx.ExecContext(ctx, `
INSERT INTO known_keys (pubkey, name, type, registered, first_seen, last_seen)
VALUES (?, ?, ?, 1, ?, ?)`, pubkey, name, keyType, now, now)
		if err != nil {
			return internalErr("insert known key", err)
		}
		return insertAudit(ctx, tx, AuditRegistrationCreate, model.OutcomeAccepted, meta,
			map[string]any{"pubkey": pubkey, "type": keyType})
	})
	// On conflict the existing record travels back alongside the error so
	// the router can echo it; the rejection audit row is the router's job.
	return rec, err
}

// RegisterUpdate applies a signature-verified name/type change. Signature
// verification happens before this call; here only existence and the row
// update are handled.
func (s *Store) RegisterUpdate(ctx context.Context, pubkey, name, keyType string, meta RequestMeta) (model.KnownKey, error) {
	var rec model.KnownKey
	err := s.withTx(ctx, []string{pubkey}, func(tx *sql.Tx) error {
		existing, err := getKnownKey(ctx, tx, pubkey)
		if err != nil {
			return err
		}
		now := model.Now()
		_, err = tx.ExecContext(ctx,
			`UPDATE known_keys SET name = ?, type = ?, registered = 1, last_seen = ? WHERE pubkey = ?`,
			name, keyType, now, pubkey)
		if err != nil {
			return internalErr("update known key", err)
		}
		rec = existing
		rec.Name, rec.Type, rec.LastSeen, rec.Registered = name, keyType, now, true
		return insertAudit(ctx, tx, AuditRegistrationUpdate, model.OutcomeAccepted, meta,
			map[string]any{"pubkey": pubkey, "type": keyType})
	})
	return rec, err
}

// KnownKey returns the directory record for pubkey.
func (s *Store) KnownKey(ctx context.Context, pubkey string) (model.KnownKey, error) {
	var rec model.KnownKey
	err := s.view(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = getKnownKey(ctx, tx, pubkey)
		return err
	})
	return rec, err
}

// ListKnownKeys pages through the directory, most recently seen first.
func (s *Store) ListKnownKeys(ctx context.Context, limit, offset int) ([]model.KnownKey, int, error) {
	limit = clamp(limit, 1, 200)
	if offset < 0 {
		offset = 0
	}
	var out []model.KnownKey
	var total int
	err := s.view(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM known_keys`).Scan(&total); err != nil {
			return internalErr("count known keys", err)
		}
		rows, err := tx.QueryContext(ctx, `
SELECT pubkey, name, type, registered, first_seen, last_seen
FROM known_keys ORDER BY last_seen DESC, pubkey ASC LIMIT ? OFFSET ?`, limit, offset)
		if err != nil {
			return internalErr("list known keys", err)
		}
		defer rows.Close()
		for rows.Next() {
			var k model.KnownKey
			if err := rows.Scan(&k.Pubkey, &k.Name, &k.Type, &k.Registered, &k.FirstSeen, &k.LastSeen); err != nil {
				return internalErr("scan known key", err)
			}
			out = append(out, k)
		}
		return rows.Err()
	})
	return out, total, err
}

func getKnownKey(ctx context.Context, tx *sql.Tx, pubkey string) (model.KnownKey, error) {
	var k model.KnownKey
	err := tx.QueryRowContext(ctx, `
SELECT pubkey, name, type, registered, first_seen, last_seen FROM known_keys WHERE pubkey = ?`, pubkey).
		Scan(&k.Pubkey, &k.Name, &k.Type, &k.Registered, &k.FirstSeen, &k.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return k, model.NewError(model.KindNotFound, "unknown pubkey: "+pubkey)
	}
	if err != nil {
		return k, internalErr("read known key", err)
	}
	return k, nil
}

// noteKnownKey records an implicit sighting of a pubkey inside a document.
// Creates the row on first sight; thereafter only bumps last_seen and fills
// a previously empty name. Registration data is never overwritten.
func noteKnownKey(ctx context.Context, tx *sql.Tx, pubkey, name, keyType string) error {
	now := model.Now()
	_, err := tx.ExecContext(ctx, `
INSERT INTO known_keys (pubkey, name, type, registered, first_seen, last_seen)
VALUES (?, ?, ?, 0, ?, ?)
ON CONFLICT(pubkey) DO UPDATE SET
    last_seen = excluded.last_seen,
    name = CASE WHEN known_keys.name = '' THEN excluded.name ELSE known_keys.name END`,
		pubkey, name, keyType, now, now)
	if err != nil {
		return internalErr("note known key", err)
	}
	return nil
}
