package model

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const (
	// PubkeyPrefix and SignaturePrefix are the wire prefixes for Ed25519
	// material. All hex is lowercase.
	PubkeyPrefix    = "ed25519:"
	SignaturePrefix = "ed25519:"
)

var (
	pubkeyRe    = regexp.MustCompile(`^ed25519:[0-9a-f]{64}$`)
	signatureRe = regexp.MustCompile(`^ed25519:[0-9a-f]{128}$`)
	sha256Re    = regexp.MustCompile(`^[0-9a-f]{64}$`)
	opaqueIDRe  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)
)

// ValidPubkey reports whether s is "ed25519:" + 64 lowercase hex characters.
func ValidPubkey(s string) bool { return pubkeyRe.MatchString(s) }

// ValidSignature reports whether s is "ed25519:" + 128 lowercase hex characters.
func ValidSignature(s string) bool { return signatureRe.MatchString(s) }

// ValidSHA256 reports whether s is 64 lowercase hex characters.
func ValidSHA256(s string) bool { return sha256Re.MatchString(s) }

// ValidOpaqueID reports whether s is a client-provided claim/baseline id.
func ValidOpaqueID(s string) bool { return opaqueIDRe.MatchString(s) }

// ParsePubkey decodes an "ed25519:<hex>" identity into a verifying key.
func ParsePubkey(s string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(s, PubkeyPrefix) {
		return nil, NewError(KindSignature, fmt.Sprintf("pubkey must start with %q", PubkeyPrefix))
	}
	raw := strings.TrimPrefix(s, PubkeyPrefix)
	if len(raw) != 2*ed25519.PublicKeySize {
		return nil, NewError(KindSignature, "pubkey hex portion must be 64 characters")
	}
	if raw != strings.ToLower(raw) {
		return nil, NewError(KindSignature, "pubkey hex must be lowercase")
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, WrapError(KindSignature, "pubkey hex portion is not valid hexadecimal", err)
	}
	return ed25519.PublicKey(b), nil
}

// ParseSignature decodes an "ed25519:<hex>" signature into raw bytes.
func ParseSignature(s string) ([]byte, error) {
	if !strings.HasPrefix(s, SignaturePrefix) {
		return nil, NewError(KindSignature, fmt.Sprintf("signature must start with %q", SignaturePrefix))
	}
	raw := strings.TrimPrefix(s, SignaturePrefix)
	if len(raw) != 2*ed25519.SignatureSize {
		return nil, NewError(KindSignature, "signature hex portion must be 128 characters")
	}
	if raw != strings.ToLower(raw) {
		return nil, NewError(KindSignature, "signature hex must be lowercase")
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, WrapError(KindSignature, "signature hex portion is not valid hexadecimal", err)
	}
	return b, nil
}

// AttestorType distinguishes autonomous agents from human operators.
type AttestorType string

const (
	TypeAgent AttestorType = "agent"
	TypeHuman AttestorType = "human"
)

// ValidAttestorType reports whether s is a known attestor type.
func ValidAttestorType(s string) bool {
	return s == string(TypeAgent) || s == string(TypeHuman)
}

// KnownKey is the directory record for any pubkey the service has seen,
// either via unsigned registration or as a reference inside an accepted
// document. Registration data is never overwritten by implicit sightings.
type KnownKey struct {
	Pubkey     string `json:"pubkey"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Registered bool   `json:"registered"`
	FirstSeen  string `json:"first_seen"`
	LastSeen   string `json:"last_seen"`
}
