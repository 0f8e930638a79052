package task

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrMalformedTask is returned when a task record cannot be decoded.
var ErrMalformedTask = errors.New("malformed task")

// Payload maps field names to plain JSON values or Resources.
type Payload map[string]any

// UnmarshalJSON decodes numbers losslessly and turns resource references
// into RemoteResources.
func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	out := make(Payload, len(raw))
	for k, v := range raw {
		decoded, err := decodeValue(v)
		if err != nil {
			return fmt.Errorf("payload field %q: %w", k, err)
		}
		out[k] = decoded
	}
	*p = out
	return nil
}

func decodeValue(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if ref, ok := val[resourceKey]; ok && len(val) == 1 {
			return decodeRef(ref)
		}
		for k, inner := range val {
			decoded, err := decodeValue(inner)
			if err != nil {
				return nil, err
			}
			val[k] = decoded
		}
		return val, nil
	case []any:
		for i, inner := range val {
			decoded, err := decodeValue(inner)
			if err != nil {
				return nil, err
			}
			val[i] = decoded
		}
		return val, nil
	default:
		return v, nil
	}
}

func decodeRef(v any) (*RemoteResource, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var ref resourceRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return nil, fmt.Errorf("resource reference: %w", err)
	}
	if ref.UID == "" {
		return nil, errors.New("resource reference without uid")
	}
	return NewRemoteResource(ref.Name, ref.Bucket, ref.UID, ref.Size), nil
}

// Serialize encodes a task record. Map keys are emitted in sorted order so
// equal tasks serialize to equal bytes. Defaults are applied to a copy, t is
// left untouched.
func Serialize(t *Task) ([]byte, error) {
	c := *t
	if err := c.Normalize(); err != nil {
		return nil, fmt.Errorf("serialize task: %w", err)
	}
	data, err := json.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("serialize task %s: %w", t.UID, err)
	}
	return data, nil
}

// Deserialize decodes a task record produced by Serialize.
func Deserialize(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTask, err)
	}
	if t.UID == "" {
		return nil, fmt.Errorf("%w: missing uid", ErrMalformedTask)
	}
	if err := t.Normalize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTask, err)
	}
	return &t, nil
}

// ResourceEntry is a resource found while walking a task's payloads.
type ResourceEntry struct {
	Path     string
	Resource Resource
}

// IterateResources returns every resource in the payload and persistent
// payload, nested maps and slices included. A resource shared by both
// payloads is reported once.
func (t *Task) IterateResources() []ResourceEntry {
	seen := make(map[Resource]bool)
	var out []ResourceEntry

	var walk func(path string, v any)
	walk = func(path string, v any) {
		switch val := v.(type) {
		case Resource:
			if !seen[val] {
				seen[val] = true
				out = append(out, ResourceEntry{Path: path, Resource: val})
			}
		case map[string]any:
			for _, k := range sortedKeys(val) {
				walk(path+"."+k, val[k])
			}
		case Payload:
			for _, k := range sortedKeys(val) {
				walk(path+"."+k, val[k])
			}
		case []any:
			for i, inner := range val {
				walk(fmt.Sprintf("%s[%d]", path, i), inner)
			}
		}
	}

	for _, k := range sortedKeys(t.Payload) {
		walk(k, t.Payload[k])
	}
	for _, k := range sortedKeys(t.PayloadPersistent) {
		walk(k, t.PayloadPersistent[k])
	}
	return out
}

// GetResource returns the top-level payload field name as a Resource.
func (t *Task) GetResource(name string) (Resource, bool) {
	r, ok := t.Payload[name].(Resource)
	return r, ok
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
