package modelsource

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrRequirementsConflict means the requested requirements disagree with the ones
// logged alongside the model
var ErrRequirementsConflict = errors.New("requirements conflict with the model's logged requirements")

var (
	requirementName = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)(\[[^\]]*\])?\s*(.*)$`)
	nameSeparators  = regexp.MustCompile(`[-_.]+`)
)

// Requirement is one pip requirement line
type Requirement struct {
	Name string
	// Spec is the version specifier, e.g. "==1.5.0" or ">=1.2,<2"
	Spec string
}

// Pin returns the exact version of an "==" specifier
func (r Requirement) Pin() (string, bool) {
	if !strings.HasPrefix(r.Spec, "==") || strings.ContainsAny(r.Spec, ",*") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(r.Spec, "==")), true
}

// ParseRequirements reads requirements separated by newlines or commas outside
// version specifiers. Comments, pip options and environment markers are dropped.
func ParseRequirements(text string) ([]Requirement, error) {
	var out []Requirement
	for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' }) {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		for _, item := range splitItems(line) {
			item = strings.TrimSpace(item)
			if item == "" || strings.HasPrefix(item, "-") {
				continue
			}
			if i := strings.Index(item, ";"); i >= 0 {
				item = strings.TrimSpace(item[:i])
			}
			m := requirementName.FindStringSubmatch(item)
			if m == nil {
				return nil, fmt.Errorf("invalid requirement %q", item)
			}
			out = append(out, Requirement{
				Name: normalizeName(m[1]),
				Spec: strings.ReplaceAll(m[3], " ", ""),
			})
		}
	}
	return out, nil
}

// splitItems splits a line on commas that start a new requirement rather than
// continue a specifier list such as ">=1.2,<2"
func splitItems(line string) []string {
	var items []string
	start := 0
	for i := 0; i < len(line); i++ {
		if line[i] != ',' {
			continue
		}
		next := strings.TrimLeft(line[i+1:], " ")
		if next != "" && strings.ContainsRune("<>=!~", rune(next[0])) {
			continue
		}
		items = append(items, line[start:i])
		start = i + 1
	}
	return append(items, line[start:])
}

func normalizeName(name string) string {
	return strings.ToLower(nameSeparators.ReplaceAllString(name, "-"))
}

// CheckRequirements verifies every requested package is among the logged ones and
// that exact pins agree. Range specifiers are only checked for presence.
func CheckRequirements(requested, logged []Requirement) error {
	byName := make(map[string]Requirement, len(logged))
	for _, r := range logged {
		byName[r.Name] = r
	}

	var problems []string
	for _, want := range requested {
		have, ok := byName[want.Name]
		if !ok {
			problems = append(problems, want.Name+" is not a logged requirement")
			continue
		}
		wantPin, pinned := want.Pin()
		havePin, logPinned := have.Pin()
		if pinned && logPinned && wantPin != havePin {
			problems = append(problems, fmt.Sprintf("%s==%s requested, model logged %s==%s", want.Name, wantPin, have.Name, havePin))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrRequirementsConflict, strings.Join(problems, "; "))
	}
	return nil
}
