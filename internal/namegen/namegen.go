// Package namegen assembles candidate resource names from an effective
// naming rule and resolved segment values. Assembly is pure: the same
// rule and inputs always produce the same name, and any shortfall is an
// error rather than a silently adjusted result.
package namegen

import (
	"errors"
	"fmt"
	"strings"

	"namereg.org/internal/rules"
)

// ErrValidation indicates the inputs cannot produce a policy-compliant
// name: a missing placeholder, an overlong result, or illegal characters.
var ErrValidation = errors.New("namegen: validation failed")

// Separator joins name segments. Fixed: the target naming systems only
// permit hyphens between alphanumeric runs.
const Separator = "-"

// Inputs carries the resolved values a rule may reference.
type Inputs struct {
	Slug        string
	Region      string
	Environment string
	// OrgPrefix is the organization marker inserted when the rule
	// requires it (e.g. "org" producing "org-st-wus2-prod").
	OrgPrefix string
	// Segments holds caller-supplied optional segment values keyed by
	// segment name (system, subsystem, index, ...).
	Segments map[string]string
}

// Build assembles and validates a candidate name for the rule.
//
// With a template, every referenced placeholder must resolve; a missing
// one fails rather than collapsing silently. Without a template the
// rule's segment list is joined in order with the separator, prefixed
// by the organization marker when required. The result is validated
// for length and charset before being returned.
func Build(rule rules.Rule, in Inputs) (string, error) {
	var name string
	if rule.NameTemplate != "" {
		rendered, err := renderTemplate(rule.NameTemplate, in)
		if err != nil {
			return "", err
		}
		name = tidy(rendered)
		if rule.RequireOrgPrefix && !templateHandlesPrefix(rule.NameTemplate) && !strings.HasPrefix(name, in.OrgPrefix+Separator) {
			name = in.OrgPrefix + Separator + name
		}
	} else {
		parts := make([]string, 0, len(rule.Segments)+1)
		if rule.RequireOrgPrefix {
			parts = append(parts, in.OrgPrefix)
		}
		for _, segment := range rule.Segments {
			value, ok := segmentValue(segment, in)
			if !ok {
				continue
			}
			if value != "" {
				parts = append(parts, value)
			}
		}
		name = strings.Join(parts, Separator)
	}

	name = strings.ToLower(name)
	if err := Validate(name, rule); err != nil {
		return "", err
	}
	return name, nil
}

// Validate enforces the rule's length cap and the permitted charset.
// Overlength is an error, never a truncation: truncated names would be
// unpredictable and could collide with unrelated claims.
func Validate(name string, rule rules.Rule) error {
	if name == "" {
		return fmt.Errorf("%w: assembled name is empty", ErrValidation)
	}
	if len(name) > rule.MaxLength {
		return fmt.Errorf("%w: name %q is %d characters, limit is %d (over by %d)",
			ErrValidation, name, len(name), rule.MaxLength, len(name)-rule.MaxLength)
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			continue
		}
		return fmt.Errorf("%w: name contains invalid character %q; only lowercase letters, digits and %q are allowed",
			ErrValidation, r, Separator)
	}
	return nil
}

func renderTemplate(template string, in Inputs) (string, error) {
	context := templateContext(in)
	var missing string
	rendered := substituteTemplate(template, func(field string) (string, bool) {
		value, ok := context[field]
		if !ok && missing == "" {
			missing = field
		}
		return value, ok
	})
	if missing != "" {
		return "", fmt.Errorf("%w: template references placeholder %q with no value", ErrValidation, missing)
	}
	return rendered, nil
}

func templateContext(in Inputs) map[string]string {
	context := map[string]string{
		"slug":        in.Slug,
		"region":      in.Region,
		"environment": in.Environment,
		"org_prefix":  in.OrgPrefix,
	}
	for key, value := range in.Segments {
		context[key] = value
		if value != "" {
			context[key+"_segment"] = Separator + value
		} else {
			context[key+"_segment"] = ""
		}
	}
	return context
}

func templateHandlesPrefix(template string) bool {
	return strings.Contains(template, "{org_prefix}")
}

func segmentValue(segment string, in Inputs) (string, bool) {
	switch segment {
	case "slug":
		return in.Slug, true
	case "region":
		return in.Region, true
	case "environment":
		return in.Environment, true
	default:
		value, ok := in.Segments[segment]
		return value, ok
	}
}

// tidy collapses separator runs and strips leading/trailing separators
// left behind by empty optional template segments.
func tidy(name string) string {
	for strings.Contains(name, Separator+Separator) {
		name = strings.ReplaceAll(name, Separator+Separator, Separator)
	}
	return strings.Trim(name, Separator)
}

func substituteTemplate(template string, lookup func(string) (string, bool)) string {
	var b strings.Builder
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			break
		}
		close := strings.IndexByte(rest[open:], '}')
		if close < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:open])
		field := rest[open+1 : open+close]
		value, _ := lookup(field)
		b.WriteString(value)
		rest = rest[open+close+1:]
	}
	return b.String()
}
