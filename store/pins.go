package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kredo-protocol/kredo/model"
)

// Pin is one pin-index row: the CIDv1 of an accepted document's canonical
// bytes, so mirrors can fetch and re-verify documents by content address.
type Pin struct {
	CID          string `json:"cid"`
	DocumentID   string `json:"document_id"`
	DocumentType string `json:"document_type"`
	PinnedAt     string `json:"pinned_at"`
}

func insertPin(ctx context.Context, tx *sql.Tx, cid, documentID, documentType string) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO document_pins (cid, document_id, document_type, pinned_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(cid) DO NOTHING`, cid, documentID, documentType, model.Now())
	if err != nil {
		return internalErr("insert pin", err)
	}
	return nil
}

// PinForDocument returns the pin row for a document id.
func (s *Store) PinForDocument(ctx context.Context, documentID string) (Pin, error) {
	var p Pin
	err := s.view(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
SELECT cid, document_id, document_type, pinned_at
FROM document_pins WHERE document_id = ?`, documentID).
			Scan(&p.CID, &p.DocumentID, &p.DocumentType, &p.PinnedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return model.NewError(model.KindNotFound, "no pin for document: "+documentID)
		}
		if err != nil {
			return internalErr("read pin", err)
		}
		return nil
	})
	return p, err
}
