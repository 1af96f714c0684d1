package slug

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates no provider could resolve the resource type.
	ErrNotFound = errors.New("slug: not found")
)

// Mapping associates a resource type with its canonical short code.
// Rows are only ever overwritten by sync, never deleted.
type Mapping struct {
	ResourceType string    `json:"resource_type"`
	Slug         string    `json:"slug"`
	FullName     string    `json:"full_name,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Provider resolves the slug for a resource type. Implementations must
// return ErrNotFound (possibly wrapped) when they have no mapping; any
// other error aborts the chain.
type Provider interface {
	Resolve(ctx context.Context, resourceType string) (Mapping, error)
}

// Chain tries providers in configured order; the first match wins.
type Chain struct {
	providers []Provider
}

// NewChain builds a resolver chain. At least one provider is required.
func NewChain(providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, errors.New("slug: at least one provider must be configured")
	}
	for _, p := range providers {
		if p == nil {
			return nil, errors.New("slug: nil provider in chain")
		}
	}
	return &Chain{providers: append([]Provider(nil), providers...)}, nil
}

// Resolve consults the chain in order. A provider's ErrNotFound moves on
// to the next provider; other errors are remembered and surfaced only if
// no later provider matches.
func (c *Chain) Resolve(ctx context.Context, resourceType string) (Mapping, error) {
	resourceType = strings.ToLower(strings.TrimSpace(resourceType))
	if resourceType == "" {
		return Mapping{}, ErrNotFound
	}
	var lastErr error
	for _, provider := range c.providers {
		mapping, err := provider.Resolve(ctx, resourceType)
		if err == nil && mapping.Slug != "" {
			return mapping, nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return Mapping{}, lastErr
	}
	return Mapping{}, ErrNotFound
}

// Candidates returns the equivalent lookup keys for a resource type:
// the value as given plus its underscore and space variants.
func Candidates(resourceType string) []string {
	resourceType = strings.ToLower(strings.TrimSpace(resourceType))
	candidates := []string{resourceType}
	for _, variant := range []string{
		strings.ReplaceAll(resourceType, " ", "_"),
		strings.ReplaceAll(resourceType, "_", " "),
	} {
		if !contains(candidates, variant) {
			candidates = append(candidates, variant)
		}
	}
	return candidates
}

func contains(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}

// StaticProvider resolves from a fixed in-memory table. Used as the
// default fallback provider and in tests.
type StaticProvider struct {
	mappings map[string]Mapping
}

// NewStaticProvider indexes the given mappings by resource type and full
// name, under both underscore and space key forms.
func NewStaticProvider(mappings []Mapping) *StaticProvider {
	index := make(map[string]Mapping, len(mappings)*2)
	for _, m := range mappings {
		for _, key := range Candidates(m.ResourceType) {
			if key != "" {
				index[key] = m
			}
		}
		if m.FullName != "" {
			for _, key := range Candidates(m.FullName) {
				if _, taken := index[key]; !taken {
					index[key] = m
				}
			}
		}
	}
	return &StaticProvider{mappings: index}
}

// Resolve looks up each candidate key form in the static table.
func (p *StaticProvider) Resolve(_ context.Context, resourceType string) (Mapping, error) {
	for _, key := range Candidates(resourceType) {
		if m, ok := p.mappings[key]; ok {
			return m, nil
		}
	}
	return Mapping{}, ErrNotFound
}
