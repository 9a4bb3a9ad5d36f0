package postgresql

import (
	"bytes"
	"encoding/json"
	"strings"
)

// PostgreSQL rejects NUL in both text and jsonb values, so it is stored as U+FFFD.
const nulReplacement = "\uFFFD"

// marshalJSONB encodes v as JSON that jsonb columns accept.
func marshalJSONB(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return stripJSONNul(data), nil
}

// stripJSONNul rewrites every \u0000 escape in encoded JSON. Escaped backslashes
// followed by the literal text u0000 are left alone.
func stripJSONNul(data []byte) []byte {
	const escape = `\u0000`

	out := make([]byte, 0, len(data))

	for i := 0; i < len(data); i++ {
		if data[i] != '\\' {
			out = append(out, data[i])

			continue
		}

		if bytes.HasPrefix(data[i:], []byte(escape)) {
			out = append(out, nulReplacement...)
			i += len(escape) - 1

			continue
		}

		// Any other escape is copied as a pair so its second byte is never reread.
		out = append(out, data[i])
		if i+1 < len(data) {
			i++
			out = append(out, data[i])
		}
	}

	return out
}

// cleanText replaces NUL characters in values bound to text columns.
func cleanText(s string) string {
	return strings.ReplaceAll(s, "\x00", nulReplacement)
}
