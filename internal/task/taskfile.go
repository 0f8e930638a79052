package task

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// File is the YAML description of a task, used by the CLI and the scheduler.
type File struct {
	Headers      Headers                 `yaml:"headers"`
	Payload      map[string]any          `yaml:"payload,omitempty"`
	Persistent   map[string]any          `yaml:"persistent,omitempty"`
	Priority     Priority                `yaml:"priority,omitempty"`
	Asynchronous bool                    `yaml:"asynchronous,omitempty"`
	Resources    map[string]FileResource `yaml:"resources,omitempty"`
}

// FileResource describes a local resource to attach. Exactly one of Path or
// Content must be set; relative paths are resolved against the task file.
type FileResource struct {
	Path    string `yaml:"path,omitempty"`
	Content string `yaml:"content,omitempty"`
	Bucket  string `yaml:"bucket,omitempty"`
}

// LoadFile reads a YAML task file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	f, err := ParseFile(data)
	if err != nil {
		return nil, err
	}
	for name, r := range f.Resources {
		if r.Path != "" && !filepath.IsAbs(r.Path) {
			r.Path = filepath.Join(filepath.Dir(path), r.Path)
			f.Resources[name] = r
		}
	}
	return f, nil
}

// ParseFile decodes a YAML task description.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal task file: %w", err)
	}
	if len(f.Headers) == 0 {
		return nil, fmt.Errorf("task file has no headers")
	}
	headers, err := f.Headers.normalize()
	if err != nil {
		return nil, fmt.Errorf("task file: %w", err)
	}
	f.Headers = headers
	if f.Priority != "" && !f.Priority.Valid() {
		return nil, fmt.Errorf("unknown priority %q", f.Priority)
	}
	for name, r := range f.Resources {
		if (r.Path == "") == (r.Content == "") {
			return nil, fmt.Errorf("resource %q: exactly one of path or content is required", name)
		}
	}
	return &f, nil
}

// Build creates a fresh task from the description. Each call yields a new UID.
func (f *File) Build() (*Task, error) {
	opts := []Option{
		WithPayload(Payload(f.Payload)),
		WithPersistentPayload(Payload(f.Persistent)),
	}
	if f.Priority != "" {
		opts = append(opts, WithPriority(f.Priority))
	}
	if f.Asynchronous {
		opts = append(opts, WithAsynchronous())
	}
	t := New(f.Headers, opts...)

	for name, r := range f.Resources {
		var res *LocalResource
		if r.Path != "" {
			var err error
			res, err = NewLocalResourceFromFile(name, r.Path)
			if err != nil {
				return nil, fmt.Errorf("resource %q: %w", name, err)
			}
		} else {
			res = NewLocalResource(name, []byte(r.Content))
		}
		res.SetBucket(r.Bucket)
		t.Payload[name] = res
	}
	return t, nil
}
