// Package canonical produces the deterministic JSON bytes that Kredo
// documents are signed and verified over.
//
// Canonical bytes are the protocol contract: the server, CLI, and browser
// clients must agree byte-for-byte, so every signing and verification path
// goes through this package and nothing else. The rules:
//
//   - object keys sorted lexicographically, recursively
//   - object members whose value is null are dropped (array elements keep null)
//   - no whitespace, no trailing newline
//   - ASCII-only output: non-ASCII runes escape to \uXXXX with lowercase hex
//   - numbers render in shortest round-trippable form (the protocol itself
//     only uses integers and strings; float handling is defensive)
//
// Inputs containing cycles or values with no JSON representation are
// rejected rather than silently mangled.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"unicode/utf16"
)

// maxDepth bounds recursion so cyclic map/slice structures fail instead of
// hanging.
const maxDepth = 1000

// Bytes returns the canonical encoding of v.
//
// v may be a decoded JSON tree (map[string]any, []any, string, bool,
// json.Number, float64, nil) or any value encodable by encoding/json, which
// is normalized through a decode pass first.
func Bytes(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SignableView strips the signature field from a document and returns the
// field map that canonical bytes are computed over. Server-derived fields
// (scores, accept-time metadata) must not be present on doc.
func SignableView(doc any) (map[string]any, error) {
	m, ok := doc.(map[string]any)
	if !ok {
		tree, err := normalize(doc)
		if err != nil {
			return nil, err
		}
		m, ok = tree.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("canonical: document must encode to a JSON object, got %T", tree)
		}
	} else {
		// Copy so the caller's map is not mutated.
		cp := make(map[string]any, len(m))
		for k, val := range m {
			cp[k] = val
		}
		m = cp
	}
	delete(m, "signature")
	return m, nil
}

// SignableBytes is the composition clients sign against: canonical bytes of
// the signable view.
func SignableBytes(doc any) ([]byte, error) {
	view, err := SignableView(doc)
	if err != nil {
		return nil, err
	}
	return Bytes(view)
}

// normalize round-trips v through encoding/json, preserving integer literals
// via json.Number. encoding/json rejects cycles and unencodable types.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: value is not JSON-representable: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func encode(buf *bytes.Buffer, v any, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("canonical: structure exceeds depth %d (cyclic?)", maxDepth)
	}
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if x {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		encodeString(buf, x)
	case json.Number:
		return encodeNumber(buf, x)
	case float64:
		return encodeFloat(buf, x)
	case int:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(x, 10))
	case map[string]any:
		return encodeObject(buf, x, depth)
	case []any:
		buf.WriteByte('[')
		for i, elem := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem, depth+1); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		tree, err := normalize(v)
		if err != nil {
			return err
		}
		return encode(buf, tree, depth+1)
	}
	return nil
}

func encodeObject(buf *bytes.Buffer, m map[string]any, depth int) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		if m[k] == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodeString(buf, k)
		buf.WriteByte(':')
		if err := encode(buf, m[k], depth+1); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	if i, err := n.Int64(); err == nil {
		buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canonical: invalid number literal %q", string(n))
	}
	return encodeFloat(buf, f)
}

func encodeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canonical: non-finite number %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

const hexDigits = "0123456789abcdef"

// encodeString writes an ASCII-only JSON string. Short escapes where JSON
// defines them, \u00xx for other control characters, \uXXXX (lowercase hex,
// surrogate pairs for astral runes) for everything non-ASCII.
func encodeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			switch {
			case r < 0x20:
				writeEscape(buf, uint16(r))
			case r < 0x80:
				buf.WriteByte(byte(r))
			case r > 0xFFFF:
				hi, lo := utf16.EncodeRune(r)
				writeEscape(buf, uint16(hi))
				writeEscape(buf, uint16(lo))
			default:
				writeEscape(buf, uint16(r))
			}
		}
	}
	buf.WriteByte('"')
}

func writeEscape(buf *bytes.Buffer, u uint16) {
	buf.WriteString(`\u`)
	buf.WriteByte(hexDigits[(u>>12)&0xF])
	buf.WriteByte(hexDigits[(u>>8)&0xF])
	buf.WriteByte(hexDigits[(u>>4)&0xF])
	buf.WriteByte(hexDigits[u&0xF])
}
