package task

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Bind describes header values a consumer accepts. Values are glob
// patterns; a leading "!" negates the pattern and a leading "\" makes the
// rest of the pattern literal ("\!x" matches the value "!x").
type Bind map[string]string

// Binds is an ordered set of filters. A task matches if it satisfies any bind.
type Binds []Bind

// MatchesBind reports whether every key of b matches the task's headers.
// For list headers a pattern matches when any element does; a negated
// pattern rejects the task when any element matches.
func (t *Task) MatchesBind(b Bind) bool {
	for key, raw := range b {
		pattern, negated, literal := parsePattern(raw)
		hit := false
		for _, value := range t.Headers.Values(key) {
			if matchValue(pattern, value, literal) {
				hit = true
				break
			}
		}
		if hit == negated {
			return false
		}
	}
	return true
}

// Match returns the index of the first bind satisfied by t.
func (bs Binds) Match(t *Task) (int, bool) {
	for i, b := range bs {
		if t.MatchesBind(b) {
			return i, true
		}
	}
	return -1, false
}

func parsePattern(p string) (pattern string, negated, literal bool) {
	if rest, ok := strings.CutPrefix(p, `\`); ok {
		return rest, false, true
	}
	if rest, ok := strings.CutPrefix(p, "!"); ok {
		p, negated = rest, true
	}
	if rest, ok := strings.CutPrefix(p, `\`); ok {
		return rest, negated, true
	}
	return p, negated, false
}

func matchValue(pattern, value string, literal bool) bool {
	if pattern == value {
		return true
	}
	if literal {
		return false
	}
	ok, err := doublestar.Match(pattern, value)
	return err == nil && ok
}
