// Package shell runs a shell script as a task handler.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/dohr-michael/karton/internal/objectstore"
	"github.com/dohr-michael/karton/internal/task"
)

const defaultTimeout = 5 * time.Minute

// Environment variables exported to the script.
const (
	EnvTaskUID        = "KARTON_TASK_UID"
	EnvPriority       = "KARTON_PRIORITY"
	EnvHeaderPrefix   = "KARTON_HEADER_"
	EnvResourcePrefix = "KARTON_RESOURCE_"
)

var nonIdent = regexp.MustCompile(`[^A-Z0-9_]`)

// Config configures a Handler.
type Config struct {
	Script  string // path of the script
	Dir     string // working directory, defaults to the script's directory
	Timeout time.Duration
	Store   objectstore.Store // downloads top-level resources when set
}

// Handler interprets a parsed script once per task. The serialized task is
// written to the script's stdin.
type Handler struct {
	file    *syntax.File
	dir     string
	timeout time.Duration
	store   objectstore.Store
}

// New parses the script.
func New(cfg Config) (*Handler, error) {
	f, err := os.Open(cfg.Script)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()

	file, err := syntax.NewParser().Parse(f, cfg.Script)
	if err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}

	h := &Handler{file: file, dir: cfg.Dir, timeout: cfg.Timeout, store: cfg.Store}
	if h.dir == "" {
		h.dir = filepath.Dir(cfg.Script)
	}
	if h.timeout == 0 {
		h.timeout = defaultTimeout
	}
	return h, nil
}

// Process runs the script. A non-zero exit status fails the task.
func (h *Handler) Process(ctx context.Context, t *task.Task) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	stdin, err := task.Serialize(t)
	if err != nil {
		return err
	}

	env, cleanup, err := h.environ(ctx, t)
	defer cleanup()
	if err != nil {
		return err
	}

	var stdout, stderr bytes.Buffer
	runner, err := interp.New(
		interp.StdIO(bytes.NewReader(stdin), &stdout, &stderr),
		interp.Env(expand.ListEnviron(env...)),
		interp.Dir(h.dir),
	)
	if err != nil {
		return fmt.Errorf("create interpreter: %w", err)
	}

	start := time.Now()
	runErr := runner.Run(ctx, h.file)
	logOutput(ctx, "stdout", &stdout)
	logOutput(ctx, "stderr", &stderr)

	var status interp.ExitStatus
	switch {
	case runErr == nil:
		slog.DebugContext(ctx, "script finished", "script", h.file.Name, "duration", time.Since(start))
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("run script %s: %w", h.file.Name, ctx.Err())
	case errors.As(runErr, &status):
		return fmt.Errorf("script %s exited with status %d", h.file.Name, uint8(status))
	default:
		return fmt.Errorf("run script %s: %w", h.file.Name, runErr)
	}
}

// environ builds the script environment: the process environment, task
// headers and downloaded resources.
func (h *Handler) environ(ctx context.Context, t *task.Task) ([]string, func(), error) {
	cleanup := func() {}
	env := append(os.Environ(),
		EnvTaskUID+"="+t.UID,
		EnvPriority+"="+string(t.Priority),
	)

	keys := make([]string, 0, len(t.Headers))
	for k := range t.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, _ := t.Headers.Get(k)
		env = append(env, EnvHeaderPrefix+envName(k)+"="+v)
	}

	if h.store == nil {
		return env, cleanup, nil
	}

	var remotes []*task.RemoteResource
	for _, k := range sortedPayloadKeys(t.Payload) {
		if r, ok := t.Payload[k].(*task.RemoteResource); ok {
			remotes = append(remotes, r)
		}
	}
	if len(remotes) == 0 {
		return env, cleanup, nil
	}

	tmp, err := os.MkdirTemp("", "karton-"+t.UID+"-")
	if err != nil {
		return nil, cleanup, fmt.Errorf("create resource dir: %w", err)
	}
	cleanup = func() { os.RemoveAll(tmp) }

	for i, r := range remotes {
		path := filepath.Join(tmp, fmt.Sprintf("%d-%s", i, filepath.Base(r.Name())))
		if err := r.Download(ctx, h.store, path); err != nil {
			return nil, cleanup, err
		}
		env = append(env, EnvResourcePrefix+envName(r.Name())+"="+path)
	}
	return env, cleanup, nil
}

func envName(s string) string {
	return nonIdent.ReplaceAllString(strings.ToUpper(s), "_")
}

func sortedPayloadKeys(p task.Payload) []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func logOutput(ctx context.Context, stream string, buf *bytes.Buffer) {
	for line := range strings.Lines(buf.String()) {
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		slog.InfoContext(ctx, line, "stream", stream)
	}
}
