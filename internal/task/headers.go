package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Headers describe task capabilities and are matched against consumer binds.
// A value is either a string or a list of strings.
type Headers map[string]any

// HeaderOrigin is stamped by the producer with its identity.
const HeaderOrigin = "origin"

// Values returns every value of key. A scalar header yields one value.
func (h Headers) Values(key string) []string {
	switch v := h[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, scalarText(item))
		}
		return out
	case nil:
		return nil
	default:
		return []string{scalarText(v)}
	}
}

// Get returns key as text. List values are joined with ",".
func (h Headers) Get(key string) (string, bool) {
	if _, ok := h[key]; !ok {
		return "", false
	}
	return strings.Join(h.Values(key), ","), true
}

// UnmarshalJSON accepts string and string-list values. Other scalars are
// kept as their text.
func (h *Headers) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := Headers(raw).normalize()
	if err != nil {
		return err
	}
	*h = out
	return nil
}

// normalize returns a copy holding only string and []string values.
func (h Headers) normalize() (Headers, error) {
	out := make(Headers, len(h))
	for k, v := range h {
		switch val := v.(type) {
		case string:
			out[k] = val
		case []string:
			out[k] = append([]string(nil), val...)
		case []any:
			list := make([]string, 0, len(val))
			for _, item := range val {
				if !isScalar(item) {
					return nil, fmt.Errorf("header %q: unsupported list item %T", k, item)
				}
				list = append(list, scalarText(item))
			}
			out[k] = list
		default:
			if !isScalar(val) {
				return nil, fmt.Errorf("header %q: unsupported value %T", k, v)
			}
			out[k] = scalarText(val)
		}
	}
	return out, nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, json.Number, bool, int, int64, uint64, float64:
		return true
	}
	return false
}

func scalarText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
