package canonical

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestBytesSortsKeysRecursively(t *testing.T) {
	in := map[string]any{
		"zeta": map[string]any{"b": json.Number("2"), "a": json.Number("1")},
		"alfa": []any{"x"},
	}
	got, err := Bytes(in)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	want := `{"alfa":["x"],"zeta":{"a":1,"b":2}}`
	if string(got) != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestBytesDropsNullMembersKeepsNullElements(t *testing.T) {
	in := map[string]any{
		"gone": nil,
		"kept": []any{nil, json.Number("1")},
	}
	got, err := Bytes(in)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	want := `{"kept":[null,1]}`
	if string(got) != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestBytesEscapesNonASCII(t *testing.T) {
	got, err := Bytes(map[string]any{"name": "Zoë"})
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	want := `{"name":"Zo\u00eb"}`
	if string(got) != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestBytesAstralRunesUseSurrogatePairs(t *testing.T) {
	got, err := Bytes("\U0001F600")
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(got) != `"\ud83d\ude00"` {
		t.Fatalf("got %s", got)
	}
}

func TestBytesControlAndQuoteEscapes(t *testing.T) {
	got, err := Bytes("a\"b\\c\nd\x01")
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	want := `"a\"b\\c\nd\u0001"`
	if string(got) != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestBytesIntegralFloatsRenderAsIntegers(t *testing.T) {
	got, err := Bytes(map[string]any{"n": float64(5)})
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(got) != `{"n":5}` {
		t.Fatalf("got %s", got)
	}
}

func TestBytesRejectsNonJSONValues(t *testing.T) {
	if _, err := Bytes(map[string]any{"f": func() {}}); err == nil {
		t.Fatalf("expected error for func value")
	}
}

func TestBytesRejectsCyclicTrees(t *testing.T) {
	m := map[string]any{}
	m["self"] = m
	if _, err := Bytes(m); err == nil {
		t.Fatalf("expected error for cyclic map")
	}
}

func TestBytesEncodesStructsViaJSONTags(t *testing.T) {
	type payload struct {
		Beta  string `json:"beta"`
		Alpha int    `json:"alpha"`
	}
	got, err := Bytes(payload{Beta: "b", Alpha: 1})
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(got) != `{"alpha":1,"beta":"b"}` {
		t.Fatalf("got %s", got)
	}
}

func TestBytesIdempotent(t *testing.T) {
	in := map[string]any{"a": []any{json.Number("1"), "two", true}, "b": map[string]any{"c": "d"}}
	first, err := Bytes(in)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	// Decode the canonical output and re-encode; bytes must not change.
	dec := json.NewDecoder(strings.NewReader(string(first)))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		t.Fatalf("decode canonical output: %v", err)
	}
	second, err := Bytes(tree)
	if err != nil {
		t.Fatalf("Bytes (second pass): %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("not idempotent: %s vs %s", first, second)
	}
}

func TestSignableViewStripsSignatureOnly(t *testing.T) {
	doc := map[string]any{"id": "x", "signature": "ed25519:ff", "kredo": "1.0"}
	view, err := SignableView(doc)
	if err != nil {
		t.Fatalf("SignableView: %v", err)
	}
	if _, ok := view["signature"]; ok {
		t.Fatalf("signature not stripped")
	}
	if view["id"] != "x" || view["kredo"] != "1.0" {
		t.Fatalf("unexpected view %v", view)
	}
	if _, ok := doc["signature"]; !ok {
		t.Fatalf("caller map mutated")
	}
}

func TestSignableBytesMatchesManualStrip(t *testing.T) {
	doc := map[string]any{"b": "2", "a": "1", "signature": "ed25519:aa"}
	got, err := SignableBytes(doc)
	if err != nil {
		t.Fatalf("SignableBytes: %v", err)
	}
	if string(got) != `{"a":"1","b":"2"}` {
		t.Fatalf("got %s", got)
	}
}
