package slug

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type failingProvider struct{ err error }

func (p failingProvider) Resolve(context.Context, string) (Mapping, error) {
	return Mapping{}, p.err
}

func staticChain(t *testing.T) *Chain {
	t.Helper()
	chain, err := NewChain(NewStaticProvider([]Mapping{
		{ResourceType: "storage_account", Slug: "st", FullName: "storage account"},
		{ResourceType: "virtual_machine", Slug: "vm"},
	}))
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	return chain
}

func TestChainResolvesBothKeyForms(t *testing.T) {
	chain := staticChain(t)
	ctx := context.Background()

	for _, input := range []string{"storage_account", "storage account", "Storage Account"} {
		m, err := chain.Resolve(ctx, input)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", input, err)
		}
		if m.Slug != "st" {
			t.Fatalf("Resolve(%q)=%q, want st", input, m.Slug)
		}
	}
}

func TestChainNotFound(t *testing.T) {
	chain := staticChain(t)
	if _, err := chain.Resolve(context.Background(), "nonexistent_type"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := chain.Resolve(context.Background(), "   "); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for blank input, got %v", err)
	}
}

func TestChainFirstMatchWins(t *testing.T) {
	first := NewStaticProvider([]Mapping{{ResourceType: "storage_account", Slug: "sa"}})
	second := NewStaticProvider([]Mapping{{ResourceType: "storage_account", Slug: "st"}})
	chain, err := NewChain(first, second)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	m, err := chain.Resolve(context.Background(), "storage_account")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m.Slug != "sa" {
		t.Fatalf("expected first provider to win, got %q", m.Slug)
	}
}

func TestChainSurfacesProviderError(t *testing.T) {
	boom := errors.New("store unavailable")
	chain, err := NewChain(failingProvider{err: boom}, staticChainProvider())
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	// The second provider matches, so the first provider's error is masked.
	if _, err := chain.Resolve(context.Background(), "storage_account"); err != nil {
		t.Fatalf("expected fallback resolution, got %v", err)
	}
	// No provider matches: the store error wins over a generic not-found.
	if _, err := chain.Resolve(context.Background(), "unknown_type"); !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func staticChainProvider() Provider {
	return NewStaticProvider([]Mapping{{ResourceType: "storage_account", Slug: "st"}})
}

func TestCandidates(t *testing.T) {
	got := Candidates("storage account")
	want := []string{"storage account", "storage_account"}
	if len(got) != len(want) {
		t.Fatalf("Candidates=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Candidates=%v, want %v", got, want)
		}
	}
}

func TestParseFeed(t *testing.T) {
	snapshot := `
# upstream defined specs
az = {
  storage_account          = "st"
  virtual_machine          = "vm"
  bad_quote                = "a'b"
  ` + strings.Repeat("x", 200) + ` = "toolong"
  storage_account          = "dup"
}
other = {
  ignored = "zz"
}
`
	mappings, err := ParseFeed(snapshot)
	if err != nil {
		t.Fatalf("ParseFeed: %v", err)
	}
	if len(mappings) != 2 {
		t.Fatalf("expected 2 mappings, got %d: %+v", len(mappings), mappings)
	}
	if mappings[0].ResourceType != "storage_account" || mappings[0].Slug != "st" {
		t.Fatalf("unexpected first mapping: %+v", mappings[0])
	}
	if mappings[0].FullName != "storage account" {
		t.Fatalf("full name not derived: %+v", mappings[0])
	}
}

func TestParseFeedRejectsGarbage(t *testing.T) {
	for label, snapshot := range map[string]string{
		"no block":   `nothing here`,
		"empty":      ``,
		"no entries": `az = {` + "\n}",
	} {
		if _, err := ParseFeed(snapshot); !errors.Is(err, ErrFeed) {
			t.Fatalf("%s: expected ErrFeed, got %v", label, err)
		}
	}
}
