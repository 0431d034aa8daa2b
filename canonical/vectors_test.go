package canonical

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

type vector struct {
	Name     string          `json:"name"`
	Input    json.RawMessage `json:"input"`
	Expected string          `json:"expected"`
}

// The vectors in testdata are shared with the other protocol implementations;
// any byte of drift here breaks signature verification between them.
func TestConformanceVectors(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("testdata", "vectors.json"))
	if err != nil {
		t.Fatalf("read vectors: %v", err)
	}
	var vectors []vector
	if err := json.Unmarshal(raw, &vectors); err != nil {
		t.Fatalf("parse vectors: %v", err)
	}
	if len(vectors) == 0 {
		t.Fatalf("no vectors loaded")
	}
	for _, v := range vectors {
		t.Run(v.Name, func(t *testing.T) {
			dec := json.NewDecoder(bytes.NewReader(v.Input))
			dec.UseNumber()
			var in any
			if err := dec.Decode(&in); err != nil {
				t.Fatalf("decode input: %v", err)
			}
			got, err := Bytes(in)
			if err != nil {
				t.Fatalf("Bytes: %v", err)
			}
			if string(got) != v.Expected {
				t.Fatalf("canonical mismatch:\n got  %s\n want %s", got, v.Expected)
			}
		})
	}
}
