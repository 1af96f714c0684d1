package namegen

import (
	"errors"
	"strings"
	"testing"

	"namereg.org/internal/rules"
)

func baseRule() rules.Rule {
	return rules.Rule{
		Segments:         []string{"slug", "region", "environment"},
		MaxLength:        24,
		RequireOrgPrefix: true,
	}
}

func baseInputs() Inputs {
	return Inputs{
		Slug:        "st",
		Region:      "wus2",
		Environment: "prod",
		OrgPrefix:   "org",
	}
}

func TestBuildFromSegments(t *testing.T) {
	name, err := Build(baseRule(), baseInputs())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if name != "org-st-wus2-prod" {
		t.Fatalf("Build=%q, want org-st-wus2-prod", name)
	}
}

func TestBuildWithOptionalSegments(t *testing.T) {
	rule := baseRule()
	rule.Segments = []string{"slug", "system", "region", "environment", "index"}
	rule.RequireOrgPrefix = false
	rule.MaxLength = 40

	in := baseInputs()
	in.Segments = map[string]string{"system": "core", "index": "01"}

	name, err := Build(rule, in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if name != "st-core-wus2-prod-01" {
		t.Fatalf("Build=%q", name)
	}
}

func TestBuildSkipsAbsentOptionalSegments(t *testing.T) {
	rule := baseRule()
	rule.Segments = []string{"slug", "system", "region", "environment"}
	rule.RequireOrgPrefix = false

	name, err := Build(rule, baseInputs())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if name != "st-wus2-prod" {
		t.Fatalf("Build=%q", name)
	}
}

func TestBuildFromTemplate(t *testing.T) {
	rule := baseRule()
	rule.NameTemplate = "{org_prefix}-{slug}-{region}-{environment}{index_segment}"
	rule.Segments = []string{"slug", "region", "environment", "index"}
	rule.MaxLength = 30

	in := baseInputs()
	in.Segments = map[string]string{"index": "2"}

	name, err := Build(rule, in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if name != "org-st-wus2-prod-2" {
		t.Fatalf("Build=%q", name)
	}

	// Empty index renders without a trailing separator.
	in.Segments = map[string]string{"index": ""}
	name, err = Build(rule, in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if name != "org-st-wus2-prod" {
		t.Fatalf("Build=%q", name)
	}
}

func TestBuildTemplateMissingPlaceholder(t *testing.T) {
	rule := baseRule()
	rule.NameTemplate = "{slug}-{region}-{environment}-{purpose}"

	_, err := Build(rule, baseInputs())
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if !strings.Contains(err.Error(), "purpose") {
		t.Fatalf("error must name the missing placeholder: %v", err)
	}
}

func TestBuildTemplateAutoPrefix(t *testing.T) {
	rule := baseRule()
	rule.NameTemplate = "{slug}-{region}-{environment}"

	name, err := Build(rule, baseInputs())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if name != "org-st-wus2-prod" {
		t.Fatalf("auto prefix missing: %q", name)
	}

	// Template already placing the prefix must not be double-prefixed.
	rule.NameTemplate = "{org_prefix}-{slug}-{region}-{environment}"
	name, err = Build(rule, baseInputs())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if name != "org-st-wus2-prod" {
		t.Fatalf("double prefix: %q", name)
	}
}

func TestBuildRejectsOverlongName(t *testing.T) {
	rule := baseRule()
	rule.MaxLength = 10

	_, err := Build(rule, baseInputs())
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for overlong name, got %v", err)
	}
}

func TestBuildRejectsInvalidCharacters(t *testing.T) {
	in := baseInputs()
	in.Region = "wus2_x"

	_, err := Build(baseRule(), in)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for underscore, got %v", err)
	}
}

func TestBuildLowercasesOutput(t *testing.T) {
	in := baseInputs()
	in.Region = "WUS2"

	name, err := Build(baseRule(), in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if name != "org-st-wus2-prod" {
		t.Fatalf("Build=%q", name)
	}
}

func TestValidateEmptyName(t *testing.T) {
	if err := Validate("", baseRule()); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty name, got %v", err)
	}
}

func TestBuildDeterministic(t *testing.T) {
	rule := baseRule()
	rule.Segments = []string{"slug", "system", "region", "environment"}
	rule.MaxLength = 40
	in := baseInputs()
	in.Segments = map[string]string{"system": "core"}

	first, err := Build(rule, in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Build(rule, in)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if again != first {
			t.Fatalf("non-deterministic build: %q vs %q", again, first)
		}
	}
}
