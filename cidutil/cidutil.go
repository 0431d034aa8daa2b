// Package cidutil derives and validates content identifiers for the pin
// index. Accepted documents are addressed by the CIDv1 of their canonical
// bytes so mirrors can fetch and verify them independently.
package cidutil

import (
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// DocumentCID returns the CIDv1 string (raw multicodec, sha2-256 multihash)
// of a document's canonical bytes.
func DocumentCID(canonicalBytes []byte) string {
	sum, err := multihash.Sum(canonicalBytes, multihash.SHA2_256, -1)
	if err != nil {
		// multihash.Sum only errors for invalid parameters; with SHA2_256
		// and default length this is unreachable.
		return ""
	}
	return cid.NewCidV1(cid.Raw, sum).String()
}

// ValidArtifactCID reports whether s is an "ipfs:" evidence artifact whose
// remainder parses as a CID (v0 Qm… or v1 bafy…).
func ValidArtifactCID(s string) bool {
	rest, ok := strings.CutPrefix(s, "ipfs:")
	if !ok {
		return false
	}
	_, err := cid.Decode(rest)
	return err == nil
}
