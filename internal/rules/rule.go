package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrConfig indicates a malformed rule layer. Fatal at load time.
	ErrConfig = errors.New("rules: invalid configuration")
	// ErrNotFound indicates no effective rule exists for a resource type.
	ErrNotFound = errors.New("rules: not found")
	// ErrValidation indicates a payload violates a rule's declarative validators.
	ErrValidation = errors.New("rules: validation failed")
)

// DisplayField describes how to present a response field to end users.
type DisplayField struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional"`
}

// Validators holds the declarative payload checks a rule may carry.
type Validators struct {
	// Required lists payload fields that must be present and non-empty.
	Required []string `json:"required,omitempty"`
	// AllowedValues restricts a field to a fixed value set.
	AllowedValues map[string][]string `json:"allowed_values,omitempty"`
	// AnyOf lists field groups where at least one member must be set.
	AnyOf [][]string `json:"any_of,omitempty"`
}

func (v Validators) empty() bool {
	return len(v.Required) == 0 && len(v.AllowedValues) == 0 && len(v.AnyOf) == 0
}

// Rule is the effective, merged naming rule for one resource type.
// Immutable once built into a Table.
type Rule struct {
	Segments         []string       `json:"segments"`
	MaxLength        int            `json:"max_length"`
	RequireOrgPrefix bool           `json:"require_org_prefix"`
	NameTemplate     string         `json:"name_template,omitempty"`
	SummaryTemplate  string         `json:"summary_template,omitempty"`
	DisplayFields    []DisplayField `json:"display_fields,omitempty"`
	Validators       Validators     `json:"validators,omitempty"`
}

// ValidatePayload applies the rule's declarative validators to a payload.
func (r Rule) ValidatePayload(payload map[string]string) error {
	for _, field := range r.Validators.Required {
		if strings.TrimSpace(payload[field]) == "" {
			return fmt.Errorf("%w: missing required field %q", ErrValidation, field)
		}
	}
	for field, allowed := range r.Validators.AllowedValues {
		value := strings.TrimSpace(payload[field])
		if value == "" {
			continue
		}
		ok := false
		for _, candidate := range allowed {
			if strings.EqualFold(candidate, value) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: field %q has an unsupported value", ErrValidation, field)
		}
	}
	for _, group := range r.Validators.AnyOf {
		if len(group) == 0 {
			continue
		}
		ok := false
		for _, field := range group {
			if strings.TrimSpace(payload[field]) != "" {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: at least one of %s is required", ErrValidation, strings.Join(group, ", "))
		}
	}
	return nil
}

// DisplayEntry is one rendered display row in a claim response.
type DisplayEntry struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// RenderDisplay produces the ordered display rows for a response payload.
// Optional fields without a value are skipped.
func (r Rule) RenderDisplay(payload map[string]string) []DisplayEntry {
	var out []DisplayEntry
	for _, field := range r.DisplayFields {
		value, ok := payload[field.Key]
		if !ok && field.Optional {
			continue
		}
		entry := DisplayEntry{
			Key:         field.Key,
			Label:       field.Label,
			Value:       value,
			Description: field.Description,
		}
		out = append(out, entry)
	}
	return out
}

// RenderSummary fills the summary template from the payload. Missing
// placeholders render as empty strings; upper/title variants are derived
// for the common presentation fields.
func (r Rule) RenderSummary(payload map[string]string) string {
	if r.SummaryTemplate == "" {
		return ""
	}
	context := make(map[string]string, len(payload)*2)
	for k, v := range payload {
		context[k] = v
	}
	for _, key := range []string{"environment", "region", "system", "resource_type"} {
		value := context[key]
		context[key+"_upper"] = strings.ToUpper(value)
		context[key+"_title"] = titleCase(value)
	}
	return substitute(r.SummaryTemplate, func(field string) (string, bool) {
		return context[field], true
	})
}

// OptionalSegments returns the rule segments sourced from caller input.
func (r Rule) OptionalSegments() []string {
	var out []string
	for _, segment := range r.Segments {
		switch segment {
		case "slug", "region", "environment":
			continue
		}
		out = append(out, segment)
	}
	return out
}

// knownTemplateFields enumerates every placeholder a rule's templates may
// legally reference: the computed inputs plus the rule's own segments and
// their hyphenated "_segment" variants.
func (r Rule) knownTemplateFields() map[string]struct{} {
	known := map[string]struct{}{
		"slug":        {},
		"region":      {},
		"environment": {},
		"org_prefix":  {},
	}
	for _, segment := range r.Segments {
		known[segment] = struct{}{}
		known[segment+"_segment"] = struct{}{}
	}
	return known
}

func (r Rule) validateTemplates() error {
	known := r.knownTemplateFields()
	for _, tpl := range []string{r.NameTemplate} {
		if tpl == "" {
			continue
		}
		for _, field := range TemplateFields(tpl) {
			if _, ok := known[field]; !ok {
				return fmt.Errorf("%w: name_template references undefined field %q", ErrConfig, field)
			}
		}
	}
	return nil
}

// TemplateFields extracts the unique placeholder names from a template,
// in first-appearance order.
func TemplateFields(template string) []string {
	var fields []string
	seen := make(map[string]struct{})
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			break
		}
		close := strings.IndexByte(rest[open:], '}')
		if close < 0 {
			break
		}
		field := rest[open+1 : open+close]
		rest = rest[open+close+1:]
		if field == "" || strings.ContainsAny(field, "{} ") {
			continue
		}
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		fields = append(fields, field)
	}
	return fields
}

// substitute replaces {field} placeholders using lookup. When lookup
// reports a field as unknown the placeholder is left untouched so callers
// can detect it.
func substitute(template string, lookup func(string) (string, bool)) string {
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
		if value, ok := lookup(field); ok {
			b.WriteString(value)
		} else {
			b.WriteString(rest[open : open+close+1])
		}
		rest = rest[open+close+1:]
	}
	return b.String()
}

func titleCase(s string) string {
	if s == "" {
		return ""
	}
	parts := strings.Fields(s)
	for i, part := range parts {
		parts[i] = strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
	}
	return strings.Join(parts, " ")
}

func sortedKeys(m map[string]Rule) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
