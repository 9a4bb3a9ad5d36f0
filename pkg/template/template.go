// Package template resolves {{dot.path}} placeholders against step and run data.
package template

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
	"github.com/spf13/cast"
)

var placeholder = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Resolve replaces every {{path}} token in tmpl with the stringified value found at
// path in data. Paths that do not resolve render as an empty string. Resolution is a
// single pass: substituted text is never scanned again.
func Resolve(tmpl string, data any) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(token string) string {
		path := placeholder.FindStringSubmatch(token)[1]

		value, ok := Lookup(data, path)
		if !ok {
			return ""
		}

		return Stringify(value)
	})
}

// Lookup resolves a dot separated path such as "a.items.0.id" through maps and slices.
// The boolean result is false when any segment is missing.
func Lookup(data any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}

	current := data
	expr := ""
	indexed := false

	for _, segment := range strings.Split(path, ".") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			return nil, false
		}

		if !isIndex(segment) {
			expr += "." + segment
			indexed = false

			continue
		}

		// jsonpath takes one index per key, so a leading or repeated index is applied
		// to the value resolved so far under a synthetic key.
		if expr == "" || indexed {
			if expr != "" {
				value, ok := evaluate(current, expr)
				if !ok {
					return nil, false
				}

				current = value
			}

			current = map[string]any{indexKey: current}
			expr = "." + indexKey
		}

		expr += "[" + segment + "]"
		indexed = true
	}

	return evaluate(current, expr)
}

const indexKey = "_"

func isIndex(segment string) bool {
	for _, r := range segment {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

// evaluate runs a jsonpath expression below the root; lookup errors mean undefined.
func evaluate(data any, expr string) (value any, ok bool) {
	defer func() {
		if recover() != nil {
			value, ok = nil, false
		}
	}()

	value, err := jsonpath.JsonPathLookup(data, "$"+expr)
	if err != nil {
		return nil, false
	}

	return value, true
}

// Stringify renders a value the way it appears inside resolved text: strings as is,
// numbers in their shortest decimal form, nil as "null" and composites as compact JSON.
func Stringify(value any) string {
	if value == nil {
		return "null"
	}

	switch typed := value.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	case json.Number:
		return typed.String()
	}

	switch reflect.Indirect(reflect.ValueOf(value)).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		raw, err := json.Marshal(value)
		if err != nil {
			return cast.ToString(value)
		}

		return string(raw)
	}

	if s, err := cast.ToStringE(value); err == nil {
		return s
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return ""
	}

	return string(raw)
}
