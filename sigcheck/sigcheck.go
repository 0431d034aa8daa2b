// Package sigcheck verifies Ed25519 signatures over canonical document bytes.
// The service only ever verifies; it never holds or uses a signing key.
package sigcheck

import (
	"crypto/ed25519"
	"errors"

	"github.com/kredo-protocol/kredo/canonical"
	"github.com/kredo-protocol/kredo/model"
)

// Reason codes attached to signature_invalid failures.
const (
	ReasonBadPubkey    = "bad_pubkey_format"
	ReasonBadSignature = "bad_signature_format"
	ReasonMismatch     = "signature_mismatch"
)

// Verify checks signature (ed25519: + 128 lowercase hex) over signable using
// pubkey (ed25519: + 64 lowercase hex). Structural problems and mismatches
// both fail with kind signature_invalid; the reason detail says which.
func Verify(signable []byte, signature, pubkey string) error {
	pub, err := model.ParsePubkey(pubkey)
	if err != nil {
		return withReason(err, ReasonBadPubkey)
	}
	sig, err := model.ParseSignature(signature)
	if err != nil {
		return withReason(err, ReasonBadSignature)
	}
	if !ed25519.Verify(pub, signable, sig) {
		return model.NewError(model.KindSignature, "signature did not verify against canonical bytes").
			WithDetail("reason", ReasonMismatch)
	}
	return nil
}

// VerifyDocument verifies a full signed document (attestation, revocation,
// dispute): canonical bytes of the document minus its signature field.
func VerifyDocument(doc any, signature, pubkey string) error {
	signable, err := canonical.SignableBytes(doc)
	if err != nil {
		return model.WrapError(model.KindValidation, "document could not be canonicalized", err)
	}
	return Verify(signable, signature, pubkey)
}

// VerifyPayload verifies a signature over the canonical bytes of an explicit
// action payload map (ownership, integrity, taxonomy, register_update).
func VerifyPayload(payload map[string]any, signature, pubkey string) error {
	signable, err := canonical.Bytes(payload)
	if err != nil {
		return model.WrapError(model.KindValidation, "payload could not be canonicalized", err)
	}
	return Verify(signable, signature, pubkey)
}

func withReason(err error, reason string) error {
	var e *model.Error
	if errors.As(err, &e) && e.Kind == model.KindSignature {
		return e.WithDetail("reason", reason)
	}
	return err
}
