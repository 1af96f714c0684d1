package rules

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// Table is the immutable effective-rule table for one load generation.
// Concurrent readers share it safely; reloads build a new Table and swap
// the pointer in Store.
type Table struct {
	generation  int64
	defaultRule *Rule
	resources   map[string]Rule
}

// Merge builds an effective rule table from the given layers. Layers are
// ordered ascending by priority (ties broken by name); disabled layers
// are skipped; a field set by a higher-priority fragment overrides the
// same field from below, absent fields inherit.
func Merge(layers []Layer) (*Table, error) {
	ordered := make([]Layer, 0, len(layers))
	for _, layer := range layers {
		if err := layer.validate(); err != nil {
			return nil, err
		}
		if layer.enabled() {
			ordered = append(ordered, layer)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if *ordered[i].Priority != *ordered[j].Priority {
			return *ordered[i].Priority < *ordered[j].Priority
		}
		return ordered[i].Name < ordered[j].Name
	})

	var defaultRule *Rule
	resources := make(map[string]Rule)

	for _, layer := range ordered {
		if layer.Default != nil {
			merged, err := applyFragment(*layer.Default, defaultRule, layer.Name, "default")
			if err != nil {
				return nil, err
			}
			defaultRule = &merged
		}
		for key, fragment := range layer.Resources {
			normalized := NormalizeResourceType(key)
			if normalized == "" || normalized == "default" {
				return nil, fmt.Errorf("%w: layer %q uses reserved resource key %q", ErrConfig, layer.Name, key)
			}
			var base *Rule
			if existing, ok := resources[normalized]; ok {
				base = &existing
			} else {
				base = defaultRule
			}
			if base == nil {
				return nil, fmt.Errorf("%w: layer %q defines resource %q before any default rule", ErrConfig, layer.Name, key)
			}
			merged, err := applyFragment(fragment, base, layer.Name, normalized)
			if err != nil {
				return nil, err
			}
			resources[normalized] = merged
		}
	}

	t := &Table{
		generation:  nextGeneration(),
		defaultRule: defaultRule,
		resources:   resources,
	}
	return t, nil
}

func applyFragment(fragment Fragment, base *Rule, layerName, key string) (Rule, error) {
	var rule Rule
	if base != nil {
		rule = *base
	}
	if fragment.Segments != nil {
		rule.Segments = append([]string(nil), fragment.Segments...)
	}
	if fragment.MaxLength != nil {
		rule.MaxLength = *fragment.MaxLength
	}
	if fragment.RequireOrgPrefix != nil {
		rule.RequireOrgPrefix = *fragment.RequireOrgPrefix
	}
	if fragment.NameTemplate != nil {
		rule.NameTemplate = *fragment.NameTemplate
	}
	if fragment.SummaryTemplate != nil {
		rule.SummaryTemplate = *fragment.SummaryTemplate
	}
	if fragment.Display != nil {
		rule.DisplayFields = append([]DisplayField(nil), fragment.Display...)
	}
	if fragment.Validators != nil && !fragment.Validators.empty() {
		rule.Validators = *fragment.Validators
	}

	if len(rule.Segments) == 0 {
		return Rule{}, fmt.Errorf("%w: layer %q rule %q has no segments", ErrConfig, layerName, key)
	}
	if rule.MaxLength < 1 {
		return Rule{}, fmt.Errorf("%w: layer %q rule %q has max_length < 1", ErrConfig, layerName, key)
	}
	if err := rule.validateTemplates(); err != nil {
		return Rule{}, fmt.Errorf("layer %q rule %q: %w", layerName, key, err)
	}
	return rule, nil
}

var generationCounter atomic.Int64

func nextGeneration() int64 {
	return generationCounter.Add(1)
}

// Generation identifies this load generation; strictly increasing.
func (t *Table) Generation() int64 { return t.generation }

// Rule returns the effective rule for a resource type, falling back to
// the default rule. ErrNotFound when neither exists.
func (t *Table) Rule(resourceType string) (Rule, error) {
	key := NormalizeResourceType(resourceType)
	if key != "" && key != "default" {
		if rule, ok := t.resources[key]; ok {
			return rule, nil
		}
	}
	if t.defaultRule != nil {
		return *t.defaultRule, nil
	}
	return Rule{}, fmt.Errorf("%w: no rule for resource type", ErrNotFound)
}

// HasExplicitRule reports whether the resource type has its own override.
func (t *Table) HasExplicitRule(resourceType string) bool {
	_, ok := t.resources[NormalizeResourceType(resourceType)]
	return ok
}

// ResourceTypes lists the known resource types, default first.
func (t *Table) ResourceTypes() []string {
	out := make([]string, 0, len(t.resources)+1)
	if t.defaultRule != nil {
		out = append(out, "default")
	}
	out = append(out, sortedKeys(t.resources)...)
	return out
}

// NormalizeResourceType lowercases and treats spaces and underscores as
// equivalent so human-readable and machine forms hit the same rule.
func NormalizeResourceType(resourceType string) string {
	key := strings.ToLower(strings.TrimSpace(resourceType))
	return strings.ReplaceAll(key, " ", "_")
}

// Store holds the active Table and swaps it atomically on reload, so
// in-flight readers observe either the old or the new generation whole.
type Store struct {
	table atomic.Pointer[Table]
}

// NewStore creates a store seeded with the given table.
func NewStore(t *Table) *Store {
	s := &Store{}
	s.table.Store(t)
	return s
}

// Load returns the current table snapshot.
func (s *Store) Load() *Table {
	return s.table.Load()
}

// Swap replaces the active table.
func (s *Store) Swap(t *Table) {
	s.table.Store(t)
}
