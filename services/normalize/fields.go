package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// lookup returns the first present, non-empty value among keys. A key may be
// a dotted path into nested objects ("geo.lat"). Exact key matches win over
// case-insensitive ones.
func lookup(raw map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := lookupPath(raw, strings.Split(key, ".")); ok && present(v) {
			return v, true
		}
	}
	return nil, false
}

func lookupPath(m map[string]any, path []string) (any, bool) {
	var cur any = m
	for _, seg := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := obj[seg]
		if !ok {
			v, ok = foldKey(obj, seg)
			if !ok {
				return nil, false
			}
		}
		cur = v
	}
	return cur, true
}

func foldKey(obj map[string]any, key string) (any, bool) {
	for k, v := range obj {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// lookupString returns the first value among keys rendered as trimmed text.
func lookupString(raw map[string]any, keys ...string) *string {
	v, ok := lookup(raw, keys...)
	if !ok {
		return nil
	}
	return asString(v)
}

func lookupObject(raw map[string]any, keys ...string) map[string]any {
	v, ok := lookup(raw, keys...)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}

func asString(v any) *string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		s = t.String()
	case int, int64, int32, bool:
		s = fmt.Sprint(t)
	default:
		return nil
	}
	s = normaliseText(s)
	if s == "" {
		return nil
	}
	return &s
}

func asObject(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// rawJSON encodes v for the listing's json columns. Absent or unencodable
// values yield nil.
func rawJSON(v any, ok bool) json.RawMessage {
	if !ok || !present(v) {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func strPtr(s string) *string {
	s = normaliseText(s)
	if s == "" {
		return nil
	}
	return &s
}
