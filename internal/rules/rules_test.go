package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func intPtr(v int) *int       { return &v }
func boolPtr(v bool) *bool    { return &v }
func strPtr(v string) *string { return &v }

func baseLayer() Layer {
	return Layer{
		Name:     "base",
		Priority: intPtr(10),
		Default: &Fragment{
			Segments:         []string{"slug", "region", "environment"},
			MaxLength:        intPtr(24),
			RequireOrgPrefix: boolPtr(true),
		},
		Resources: map[string]Fragment{
			"storage_account": {
				MaxLength: intPtr(20),
			},
		},
	}
}

func TestMergeDefaultOnly(t *testing.T) {
	layer := baseLayer()
	layer.Resources = nil

	table, err := Merge([]Layer{layer})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	for _, rt := range []string{"default", "storage_account", "anything_else"} {
		rule, err := table.Rule(rt)
		if err != nil {
			t.Fatalf("Rule(%q): %v", rt, err)
		}
		if rule.MaxLength != 24 || !rule.RequireOrgPrefix {
			t.Fatalf("rule for %q did not inherit default: %+v", rt, rule)
		}
	}
}

func TestMergeOverrideSingleField(t *testing.T) {
	override := Layer{
		Name:     "override",
		Priority: intPtr(20),
		Resources: map[string]Fragment{
			"storage_account": {
				MaxLength: intPtr(18),
			},
		},
	}

	table, err := Merge([]Layer{baseLayer(), override})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	rule, err := table.Rule("storage_account")
	if err != nil {
		t.Fatalf("Rule: %v", err)
	}
	if rule.MaxLength != 18 {
		t.Fatalf("max_length not overridden: %d", rule.MaxLength)
	}
	if !rule.RequireOrgPrefix {
		t.Fatal("require_org_prefix lost during merge")
	}
	if len(rule.Segments) != 3 {
		t.Fatalf("segments lost during merge: %v", rule.Segments)
	}
}

func TestMergeOrdersByPriority(t *testing.T) {
	low := baseLayer()
	high := Layer{
		Name:     "high",
		Priority: intPtr(5),
		Default: &Fragment{
			Segments:  []string{"slug"},
			MaxLength: intPtr(10),
		},
	}

	// Passed out of order on purpose; base (priority 10) must win.
	table, err := Merge([]Layer{low, high})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	rule, err := table.Rule("default")
	if err != nil {
		t.Fatalf("Rule: %v", err)
	}
	if rule.MaxLength != 24 {
		t.Fatalf("higher priority layer did not win: %d", rule.MaxLength)
	}
}

func TestMergeSkipsDisabledLayers(t *testing.T) {
	disabled := Layer{
		Name:     "disabled",
		Priority: intPtr(99),
		Enabled:  boolPtr(false),
		Default: &Fragment{
			Segments:  []string{"slug"},
			MaxLength: intPtr(1),
		},
	}
	table, err := Merge([]Layer{baseLayer(), disabled})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	rule, _ := table.Rule("default")
	if rule.MaxLength != 24 {
		t.Fatalf("disabled layer applied: %d", rule.MaxLength)
	}
}

func TestMergeRejectsMalformedLayers(t *testing.T) {
	cases := map[string]Layer{
		"missing name":     {Priority: intPtr(1)},
		"missing priority": {Name: "x"},
	}
	for label, layer := range cases {
		if _, err := Merge([]Layer{layer}); !errors.Is(err, ErrConfig) {
			t.Fatalf("%s: expected ErrConfig, got %v", label, err)
		}
	}
}

func TestMergeRejectsResourceBeforeDefault(t *testing.T) {
	layer := Layer{
		Name:     "orphan",
		Priority: intPtr(1),
		Resources: map[string]Fragment{
			"storage_account": {Segments: []string{"slug"}, MaxLength: intPtr(10)},
		},
	}
	if _, err := Merge([]Layer{layer}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for resources without a default rule, got %v", err)
	}
}

func TestMergeRejectsBadTemplate(t *testing.T) {
	layer := baseLayer()
	layer.Default.NameTemplate = strPtr("{slug}-{region}-{nonexistent}")
	if _, err := Merge([]Layer{layer}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for unknown template field, got %v", err)
	}
}

func TestMergeRejectsNonPositiveMaxLength(t *testing.T) {
	layer := baseLayer()
	layer.Default.MaxLength = intPtr(0)
	if _, err := Merge([]Layer{layer}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for max_length < 1, got %v", err)
	}
}

func TestRuleNotFoundWithoutDefault(t *testing.T) {
	table, err := Merge(nil)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if _, err := table.Rule("anything"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNormalizeResourceType(t *testing.T) {
	if NormalizeResourceType("Storage Account") != "storage_account" {
		t.Fatal("space form must normalize to underscore form")
	}
	if NormalizeResourceType("  storage_account  ") != "storage_account" {
		t.Fatal("whitespace must be trimmed")
	}
}

func TestValidatePayload(t *testing.T) {
	rule := Rule{
		Segments:  []string{"slug", "region", "environment"},
		MaxLength: 24,
		Validators: Validators{
			Required:      []string{"system"},
			AllowedValues: map[string][]string{"environment": {"dev", "test", "prod"}},
			AnyOf:         [][]string{{"project", "purpose"}},
		},
	}

	ok := map[string]string{"system": "core", "environment": "prod", "project": "atlas"}
	if err := rule.ValidatePayload(ok); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	for label, payload := range map[string]map[string]string{
		"missing required": {"environment": "prod", "project": "atlas"},
		"disallowed value": {"system": "core", "environment": "staging", "project": "atlas"},
		"missing any-of":   {"system": "core", "environment": "prod"},
	} {
		if err := rule.ValidatePayload(payload); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", label, err)
		}
	}
}

func TestRenderSummary(t *testing.T) {
	rule := Rule{
		Segments:        []string{"slug", "region", "environment"},
		MaxLength:       24,
		SummaryTemplate: "{resource_type_title} in {region_upper} ({environment})",
	}
	got := rule.RenderSummary(map[string]string{
		"resource_type": "storage account",
		"region":        "wus2",
		"environment":   "prod",
	})
	want := "Storage Account in WUS2 (prod)"
	if got != want {
		t.Fatalf("RenderSummary=%q, want %q", got, want)
	}
}

func TestRenderDisplay(t *testing.T) {
	rule := Rule{
		Segments:  []string{"slug", "region", "environment"},
		MaxLength: 24,
		DisplayFields: []DisplayField{
			{Key: "name", Label: "Name", Optional: false},
			{Key: "system", Label: "System", Optional: true},
		},
	}
	entries := rule.RenderDisplay(map[string]string{"name": "org-st-wus2-prod"})
	if len(entries) != 1 {
		t.Fatalf("expected optional field without value to be skipped: %v", entries)
	}
	if entries[0].Key != "name" || entries[0].Value != "org-st-wus2-prod" {
		t.Fatalf("unexpected display entry: %+v", entries[0])
	}
}

func TestLoadDirAndStoreSwap(t *testing.T) {
	dir := t.TempDir()
	base := `{
		"name": "base",
		"priority": 10,
		"default": {
			"segments": ["slug", "region", "environment"],
			"max_length": 24,
			"require_org_prefix": true
		}
	}`
	override := `{
		"name": "override",
		"priority": 20,
		"resources": {
			"storage_account": {"max_length": 20}
		}
	}`
	if err := os.WriteFile(filepath.Join(dir, "10-base.json"), []byte(base), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "20-override.json"), []byte(override), 0o600); err != nil {
		t.Fatal(err)
	}

	layers, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(layers) != 2 {
		t.Fatalf("expected 2 layers, got %d", len(layers))
	}

	table, err := Merge(layers)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	store := NewStore(table)

	rule, err := store.Load().Rule("storage_account")
	if err != nil {
		t.Fatalf("Rule: %v", err)
	}
	if rule.MaxLength != 20 || !rule.RequireOrgPrefix {
		t.Fatalf("unexpected effective rule: %+v", rule)
	}

	// Reload with the override disabled; readers see the new generation whole.
	layers[1].Enabled = boolPtr(false)
	next, err := Merge(layers)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if next.Generation() <= table.Generation() {
		t.Fatal("generation must increase on reload")
	}
	store.Swap(next)
	rule, _ = store.Load().Rule("storage_account")
	if rule.MaxLength != 24 {
		t.Fatalf("swap did not take effect: %+v", rule)
	}
}

func TestDescribe(t *testing.T) {
	table, err := Merge([]Layer{baseLayer()})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	desc, err := table.Describe("storage_account")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if desc.MaxLength != 20 {
		t.Fatalf("unexpected max length: %d", desc.MaxLength)
	}
	if len(desc.SegmentMappings) != 3 || desc.SegmentMappings[0].Source != "derived" {
		t.Fatalf("unexpected segment mappings: %+v", desc.SegmentMappings)
	}

	if _, err := table.Describe("made_up_type"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown type, got %v", err)
	}
}

func TestParseLayerRejectsUnknownFields(t *testing.T) {
	if _, err := ParseLayer([]byte(`{"name":"x","priority":1,"bogus":true}`)); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
