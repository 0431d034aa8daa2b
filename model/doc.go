// Package model defines the Kredo protocol documents and the structured
// error taxonomy shared by every component.
//
// Identities are Ed25519 public keys rendered as "ed25519:" + 64 lowercase
// hex characters; signatures are "ed25519:" + 128 lowercase hex characters.
// Documents are immutable once accepted: the store only ever appends.
//
// Callers branch on error Kind rather than matching message strings.
package model
