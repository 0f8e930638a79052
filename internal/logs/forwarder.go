package logs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dohr-michael/karton/internal/broker"
	"github.com/dohr-michael/karton/internal/karton"
	"github.com/dohr-michael/karton/internal/task"
)

// TypeLog tags log entries on the stream.
const TypeLog = "log"

// pushTimeout bounds a single push so a slow broker cannot stall logging.
const pushTimeout = 2 * time.Second

// Forwarder is a slog.Handler that hands every record to an inner handler
// and also pushes it onto the log stream, together with the task found in
// the record's context.
type Forwarder struct {
	inner    slog.Handler
	broker   broker.Broker
	identity string
	attrs    []slog.Attr
	groups   []string
	stderr   io.Writer
}

// NewForwarder wraps inner.
func NewForwarder(inner slog.Handler, b broker.Broker, identity string) *Forwarder {
	return &Forwarder{inner: inner, broker: b, identity: identity, stderr: os.Stderr}
}

func (f *Forwarder) Enabled(ctx context.Context, level slog.Level) bool {
	return f.inner.Enabled(ctx, level)
}

func (f *Forwarder) Handle(ctx context.Context, r slog.Record) error {
	err := f.inner.Handle(ctx, r)

	entry := Entry{
		Type:     TypeLog,
		Level:    r.Level.String(),
		Message:  r.Message,
		Identity: f.identity,
		Time:     r.Time,
		Attrs:    make(map[string]any),
	}
	for _, a := range f.attrs {
		addAttr(entry.Attrs, nil, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(entry.Attrs, f.groups, a)
		return true
	})
	if len(entry.Attrs) == 0 {
		entry.Attrs = nil
	}
	if t := task.Current(ctx); t != nil {
		if data, serr := task.Serialize(t); serr == nil {
			entry.Task = data
		}
	}

	data, merr := json.Marshal(entry)
	if merr != nil {
		fmt.Fprintf(f.stderr, "logs: marshal entry: %v\n", merr)
		return err
	}

	// Never log through slog here: the record would come back to us.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()
	if perr := f.broker.RPush(pctx, karton.KeyLogs, string(data)); perr != nil {
		fmt.Fprintf(f.stderr, "logs: forward entry: %v\n", perr)
	}
	return err
}

func (f *Forwarder) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *f
	clone.inner = f.inner.WithAttrs(attrs)
	clone.attrs = append([]slog.Attr(nil), f.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, prefixed(f.groups, a))
	}
	return &clone
}

func (f *Forwarder) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	clone := *f
	clone.inner = f.inner.WithGroup(name)
	clone.groups = append(append([]string(nil), f.groups...), name)
	return &clone
}

func prefixed(groups []string, a slog.Attr) slog.Attr {
	for i := len(groups) - 1; i >= 0; i-- {
		a = slog.Group(groups[i], a)
	}
	return a
}

func addAttr(dst map[string]any, groups []string, a slog.Attr) {
	a = prefixed(groups, a)
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		inner, ok := dst[a.Key].(map[string]any)
		if a.Key == "" {
			inner, ok = dst, true
		}
		if !ok {
			inner = make(map[string]any)
			dst[a.Key] = inner
		}
		for _, ga := range a.Value.Group() {
			addAttr(inner, nil, ga)
		}
		return
	}
	switch v := a.Value.Any().(type) {
	case error:
		dst[a.Key] = v.Error()
	case fmt.Stringer:
		dst[a.Key] = v.String()
	default:
		dst[a.Key] = a.Value.Any()
	}
}
