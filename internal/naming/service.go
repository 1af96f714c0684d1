// Package naming is the claim/release orchestrator. It composes the
// rule table, slug resolution, name assembly, metadata sanitization
// and the claim ledger into the public use cases: claim a name,
// release a name, query the audit trail.
//
// The orchestrator holds no locks and no mutable state of its own.
// Correctness under concurrent callers comes entirely from the
// ledger's atomic create and version-guarded replace.
package naming

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"namereg.org/internal/auth"
	"namereg.org/internal/namegen"
	"namereg.org/internal/obs"
	"namereg.org/internal/registry"
	"namereg.org/internal/rules"
	"namereg.org/internal/sanitize"
	"namereg.org/internal/slug"
)

var (
	// ErrInvalidRequest marks malformed requests: missing required
	// fields or unusable filter values.
	ErrInvalidRequest = errors.New("naming: invalid request")

	// ErrForbidden marks insufficient role or ownership.
	ErrForbidden = errors.New("naming: forbidden")

	// ErrSyncUnavailable is returned when no slug write store is wired.
	ErrSyncUnavailable = errors.New("naming: slug sync not available")
)

// DefaultReleaseReason is recorded when the caller gives none.
const DefaultReleaseReason = "not specified"

// defaultClaimRetries bounds the alternate-index retry loop on claim
// conflicts.
const defaultClaimRetries = 3

// SlugWriter persists refreshed slug mappings. The Postgres store
// implements it; in-memory deployments go without sync.
type SlugWriter interface {
	UpsertSlugs(ctx context.Context, mappings []slug.Mapping) (int, error)
}

// Config carries orchestrator settings.
type Config struct {
	// OrgPrefix is the organization marker for rules requiring it.
	OrgPrefix string
	// ClaimRetries bounds conflict retries per claim; 0 means default.
	ClaimRetries int
}

// Service implements the naming use cases.
type Service struct {
	rules      *rules.Store
	slugs      slug.Provider
	ledger     registry.Store
	slugWriter SlugWriter
	cfg        Config
}

// NewService wires the orchestrator. slugWriter may be nil when slug
// sync is not supported by the deployment.
func NewService(rulesStore *rules.Store, slugs slug.Provider, ledger registry.Store, slugWriter SlugWriter, cfg Config) *Service {
	if cfg.ClaimRetries <= 0 {
		cfg.ClaimRetries = defaultClaimRetries
	}
	return &Service{
		rules:      rulesStore,
		slugs:      slugs,
		ledger:     ledger,
		slugWriter: slugWriter,
		cfg:        cfg,
	}
}

// Rules exposes the live rule table for describe/list endpoints.
func (s *Service) Rules() *rules.Store { return s.rules }

// ClaimRequest is one claim attempt.
type ClaimRequest struct {
	ResourceType string            `json:"resource_type"`
	Region       string            `json:"region"`
	Environment  string            `json:"environment"`
	Segments     map[string]string `json:"segments,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
}

// ClaimResult reports a successful claim.
type ClaimResult struct {
	Name         string               `json:"name"`
	ResourceType string               `json:"resource_type"`
	Region       string               `json:"region"`
	Environment  string               `json:"environment"`
	Slug         string               `json:"slug"`
	ClaimedBy    string               `json:"claimed_by"`
	Version      int64                `json:"version"`
	Metadata     map[string]string    `json:"metadata,omitempty"`
	Display      []rules.DisplayEntry `json:"display,omitempty"`
	Summary      string               `json:"summary,omitempty"`
	// AuditWarning is set when the claim stands but its audit entry
	// could not be written.
	AuditWarning bool `json:"audit_warning,omitempty"`
}

// Claim resolves the rule and slug, assembles a candidate name and
// atomically persists the claim. On a conflict it retries a bounded
// number of times with an incremented index segment before giving up.
func (s *Service) Claim(ctx context.Context, actor auth.Actor, req ClaimRequest) (ClaimResult, error) {
	if !actor.HasRole(auth.RoleContributor) {
		return ClaimResult{}, fmt.Errorf("%w: claiming requires the %s role", ErrForbidden, auth.RoleContributor)
	}

	resourceType := rules.NormalizeResourceType(req.ResourceType)
	region := strings.ToLower(strings.TrimSpace(req.Region))
	environment := strings.ToLower(strings.TrimSpace(req.Environment))
	if resourceType == "" || region == "" || environment == "" {
		obs.ClaimsTotal.WithLabelValues("invalid").Inc()
		return ClaimResult{}, fmt.Errorf("%w: resource_type, region and environment are required", ErrInvalidRequest)
	}

	rule, err := s.rules.Load().Rule(resourceType)
	if err != nil {
		obs.ClaimsTotal.WithLabelValues("invalid").Inc()
		return ClaimResult{}, err
	}

	segments := lowerSegments(req.Segments)
	if err := rule.ValidatePayload(validationPayload(resourceType, region, environment, segments)); err != nil {
		obs.ClaimsTotal.WithLabelValues("invalid").Inc()
		return ClaimResult{}, err
	}

	mapping, err := s.slugs.Resolve(ctx, resourceType)
	if err != nil {
		obs.ClaimsTotal.WithLabelValues("invalid").Inc()
		return ClaimResult{}, err
	}

	metadata := s.entityMetadata(actor, mapping.Slug, segments, req.Metadata)

	created, err := s.persistClaim(ctx, actor, rule, resourceType, mapping.Slug, region, environment, segments, metadata)
	if err != nil {
		if errors.Is(err, registry.ErrConflict) {
			obs.ClaimsTotal.WithLabelValues("conflict").Inc()
		} else {
			obs.ClaimsTotal.WithLabelValues("invalid").Inc()
		}
		return ClaimResult{}, err
	}
	obs.ClaimsTotal.WithLabelValues("claimed").Inc()

	result := ClaimResult{
		Name:         created.Key.Name,
		ResourceType: resourceType,
		Region:       region,
		Environment:  environment,
		Slug:         mapping.Slug,
		ClaimedBy:    created.ClaimedBy,
		Version:      created.Version,
		Metadata:     publicMetadata(created.Metadata),
	}

	display := displayPayload(created.Key.Name, resourceType, region, environment, mapping.Slug, segments)
	result.Display = rule.RenderDisplay(display)
	result.Summary = rule.RenderSummary(display)

	entry := registry.AuditEntry{
		Scope:   created.Key.Scope(),
		Name:    created.Key.Name,
		Event:   registry.EventClaimed,
		ActorID: actor.ID,
		Details: auditSnapshot(resourceType, region, environment, mapping.Slug, segments, req.Metadata),
	}
	if err := s.appendAudit(ctx, entry); err != nil {
		result.AuditWarning = true
	}
	return result, nil
}

// persistClaim runs the bounded create-retry loop. Each attempt builds
// the candidate name for the current segment values and races other
// claimants through the ledger's atomic create. A conflicting record
// that is no longer in use is reclaimed in place, guarded by its
// version so a concurrent reclaimer cannot double-win.
func (s *Service) persistClaim(ctx context.Context, actor auth.Actor, rule rules.Rule, resourceType, slugCode, region, environment string, segments map[string]string, metadata map[string]string) (registry.ClaimedName, error) {
	segs := copySegments(segments)
	var lastErr error
	for attempt := 0; attempt <= s.cfg.ClaimRetries; attempt++ {
		name, err := namegen.Build(rule, namegen.Inputs{
			Slug:        slugCode,
			Region:      region,
			Environment: environment,
			OrgPrefix:   s.cfg.OrgPrefix,
			Segments:    segs,
		})
		if err != nil {
			return registry.ClaimedName{}, err
		}

		rec := registry.ClaimedName{
			Key:          registry.Key{Region: region, Environment: environment, Name: name},
			ResourceType: resourceType,
			InUse:        true,
			ClaimedBy:    actor.ID,
			ClaimedAt:    time.Now().UTC(),
			Metadata:     metadata,
		}

		created, err := s.ledger.CreateIfAbsent(ctx, rec)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, registry.ErrConflict) {
			return registry.ClaimedName{}, err
		}
		lastErr = err

		if reclaimed, ok := s.tryReclaim(ctx, rec); ok {
			return reclaimed, nil
		}
		if !bumpIndex(rule, segs) {
			break
		}
	}
	return registry.ClaimedName{}, lastErr
}

// tryReclaim takes over a record that exists but is released. The
// replace is guarded by the fetched version, so two concurrent
// reclaimers resolve to exactly one winner.
func (s *Service) tryReclaim(ctx context.Context, rec registry.ClaimedName) (registry.ClaimedName, bool) {
	current, err := s.ledger.Get(ctx, rec.Key)
	if err != nil || current.InUse {
		return registry.ClaimedName{}, false
	}
	rec.Version = current.Version
	rec.ReleasedBy = ""
	rec.ReleasedAt = time.Time{}
	rec.ReleaseReason = ""
	reclaimed, err := s.ledger.ReplaceIfUnchanged(ctx, rec)
	if err != nil {
		return registry.ClaimedName{}, false
	}
	return reclaimed, true
}

// bumpIndex advances the numeric index segment for the next conflict
// retry. Only an index the caller actually supplied is varied: the
// retry must not change the shape of the requested name.
func bumpIndex(rule rules.Rule, segs map[string]string) bool {
	if !hasSegment(rule, "index") {
		return false
	}
	current := segs["index"]
	if current == "" {
		return false
	}
	n, err := strconv.Atoi(current)
	if err != nil {
		return false
	}
	next := strconv.Itoa(n + 1)
	// Preserve zero padding ("01" advances to "02").
	if len(current) > len(next) {
		next = strings.Repeat("0", len(current)-len(next)) + next
	}
	segs["index"] = next
	return true
}

// ReleaseRequest asks to mark a claimed name as no longer in use.
type ReleaseRequest struct {
	Region      string `json:"region"`
	Environment string `json:"environment"`
	Name        string `json:"name"`
	Reason      string `json:"reason,omitempty"`
	// ExpectedVersion guards against stale releases. Zero means
	// "release whatever version I just read".
	ExpectedVersion int64 `json:"expected_version,omitempty"`
}

// ReleaseResult reports a successful release.
type ReleaseResult struct {
	Message      string `json:"message"`
	Name         string `json:"name"`
	Version      int64  `json:"version"`
	AuditWarning bool   `json:"audit_warning,omitempty"`
}

// Release marks a claim as no longer in use. The record stays in the
// ledger with its history; only the version-guarded replace path can
// modify it, so a stale request can never revert a newer release.
func (s *Service) Release(ctx context.Context, actor auth.Actor, req ReleaseRequest) (ReleaseResult, error) {
	if !actor.HasRole(auth.RoleContributor) {
		obs.ReleasesTotal.WithLabelValues("forbidden").Inc()
		return ReleaseResult{}, fmt.Errorf("%w: releasing requires the %s role", ErrForbidden, auth.RoleContributor)
	}

	key := registry.Key{Region: req.Region, Environment: req.Environment, Name: req.Name}.Normalize()
	if key.Region == "" || key.Environment == "" || key.Name == "" {
		return ReleaseResult{}, fmt.Errorf("%w: region, environment and name are required", ErrInvalidRequest)
	}

	current, err := s.ledger.Get(ctx, key)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			obs.ReleasesTotal.WithLabelValues("not_found").Inc()
		}
		return ReleaseResult{}, err
	}

	if !actor.CanTouch(current.ClaimedBy, current.ReleasedBy) {
		obs.ReleasesTotal.WithLabelValues("forbidden").Inc()
		return ReleaseResult{}, fmt.Errorf("%w: name %q was claimed by %s", ErrForbidden, key.Name, current.ClaimedBy)
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = DefaultReleaseReason
	}

	released := current
	released.InUse = false
	released.ReleasedBy = actor.ID
	released.ReleasedAt = time.Now().UTC()
	released.ReleaseReason = reason
	// Sanitize again on the way out: stored metadata may have been
	// touched by provider syncs since claim time.
	released.Metadata = sanitize.Strings(current.Metadata)
	if req.ExpectedVersion > 0 {
		released.Version = req.ExpectedVersion
	}

	updated, err := s.ledger.ReplaceIfUnchanged(ctx, released)
	if err != nil {
		if errors.Is(err, registry.ErrStale) {
			obs.ReleasesTotal.WithLabelValues("conflict").Inc()
		}
		return ReleaseResult{}, err
	}
	obs.ReleasesTotal.WithLabelValues("released").Inc()

	result := ReleaseResult{
		Message: fmt.Sprintf("name %q released", key.Name),
		Name:    key.Name,
		Version: updated.Version,
	}

	details := map[string]any{
		"resource_type": current.ResourceType,
		"reason":        reason,
	}
	for k, v := range released.Metadata {
		details[k] = v
	}
	entry := registry.AuditEntry{
		Scope:   key.Scope(),
		Name:    key.Name,
		Event:   registry.EventReleased,
		ActorID: actor.ID,
		Details: sanitize.Map(details),
	}
	if err := s.appendAudit(ctx, entry); err != nil {
		result.AuditWarning = true
	}
	return result, nil
}

// LookupSlug resolves a slug mapping through the provider chain.
func (s *Service) LookupSlug(ctx context.Context, resourceType string) (slug.Mapping, error) {
	resourceType = strings.ToLower(strings.TrimSpace(resourceType))
	if resourceType == "" {
		return slug.Mapping{}, fmt.Errorf("%w: resource type is required", ErrInvalidRequest)
	}
	return s.slugs.Resolve(ctx, resourceType)
}

// SyncSlugs parses an upstream feed snapshot and refreshes the mapping
// store, returning the number of mappings that changed. Admin only:
// sync rewrites shared reference data.
func (s *Service) SyncSlugs(ctx context.Context, actor auth.Actor, snapshot string) (int, error) {
	if !actor.HasRole(auth.RoleAdmin) {
		return 0, fmt.Errorf("%w: slug sync requires the %s role", ErrForbidden, auth.RoleAdmin)
	}
	if s.slugWriter == nil {
		return 0, ErrSyncUnavailable
	}
	mappings, err := slug.ParseFeed(snapshot)
	if err != nil {
		return 0, err
	}
	updated, err := s.slugWriter.UpsertSlugs(ctx, mappings)
	if err != nil {
		return 0, err
	}
	obs.SlugSyncUpdates.Add(float64(updated))
	return updated, nil
}

// AuditByName lists the audit trail of one name, newest first.
// Contributors and up may inspect any name; plain readers only names
// they themselves claimed or released.
func (s *Service) AuditByName(ctx context.Context, actor auth.Actor, key registry.Key) ([]registry.AuditEntry, error) {
	if !actor.HasRole(auth.RoleReader) {
		return nil, fmt.Errorf("%w: audit queries require the %s role", ErrForbidden, auth.RoleReader)
	}
	key = key.Normalize()
	if key.Region == "" || key.Environment == "" || key.Name == "" {
		return nil, fmt.Errorf("%w: region, environment and name are required", ErrInvalidRequest)
	}
	if !actor.HasRole(auth.RoleContributor) {
		rec, err := s.ledger.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !actor.CanTouch(rec.ClaimedBy, rec.ReleasedBy) {
			return nil, fmt.Errorf("%w: audit trail of %q is restricted to its owners", ErrForbidden, key.Name)
		}
	}
	return s.ledger.AuditByName(ctx, key)
}

// AuditSearch lists audit entries matching the filter. Filter values
// are format-checked here and bound as query parameters downstream;
// they never reach query text.
func (s *Service) AuditSearch(ctx context.Context, actor auth.Actor, filter registry.AuditFilter) ([]registry.AuditEntry, error) {
	if !actor.HasRole(auth.RoleReader) {
		return nil, fmt.Errorf("%w: audit queries require the %s role", ErrForbidden, auth.RoleReader)
	}
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	// Plain readers only see their own activity.
	if !actor.HasRole(auth.RoleContributor) {
		filter.ActorID = actor.ID
	}
	return s.ledger.AuditSearch(ctx, filter)
}

func validateFilter(filter registry.AuditFilter) error {
	switch filter.Event {
	case "", registry.EventClaimed, registry.EventReleased:
	default:
		return fmt.Errorf("%w: unknown event %q", ErrInvalidRequest, filter.Event)
	}
	if (filter.Region == "") != (filter.Environment == "") {
		return fmt.Errorf("%w: region and environment filters must be used together", ErrInvalidRequest)
	}
	for _, v := range []string{filter.Region, filter.Environment} {
		if v == "" {
			continue
		}
		for _, r := range v {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
				continue
			}
			return fmt.Errorf("%w: scope filter contains invalid character %q", ErrInvalidRequest, r)
		}
	}
	if !filter.Since.IsZero() && !filter.Until.IsZero() && filter.Until.Before(filter.Since) {
		return fmt.Errorf("%w: time range is inverted", ErrInvalidRequest)
	}
	return nil
}

// appendAudit writes the entry and degrades gracefully on failure:
// the claim or release stands, the failure is counted and logged, and
// the caller's result carries a warning.
func (s *Service) appendAudit(ctx context.Context, entry registry.AuditEntry) error {
	err := s.ledger.AppendAudit(ctx, entry)
	if err == nil {
		return nil
	}
	obs.AuditAppendFailures.Inc()
	obs.LogRequest(map[string]any{
		"level": "error",
		"msg":   "audit append failed",
		"event": entry.Event,
		"name":  entry.Name,
		"err":   err.Error(),
	})
	return err
}

func (s *Service) entityMetadata(actor auth.Actor, slugCode string, segments map[string]string, custom map[string]any) map[string]string {
	meta := map[string]any{
		"slug":         slugCode,
		"requested_by": actor.ID,
	}
	for k, v := range segments {
		meta[k] = v
	}
	for k, v := range custom {
		if _, reserved := meta[k]; reserved {
			continue
		}
		meta[k] = v
	}
	return sanitize.Map(meta)
}

// publicMetadata strips the bookkeeping keys already surfaced as
// dedicated response fields.
func publicMetadata(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		if k == "slug" || k == "requested_by" {
			continue
		}
		out[k] = v
	}
	return out
}

func auditSnapshot(resourceType, region, environment, slugCode string, segments map[string]string, custom map[string]any) map[string]string {
	details := map[string]any{
		"resource_type": resourceType,
		"region":        region,
		"environment":   environment,
		"slug":          slugCode,
		"note":          resourceType + ":" + region + "-" + environment,
	}
	for k, v := range segments {
		details[k] = v
	}
	for k, v := range custom {
		if _, reserved := details[k]; reserved {
			continue
		}
		details[k] = v
	}
	return sanitize.Map(details)
}

func validationPayload(resourceType, region, environment string, segments map[string]string) map[string]string {
	payload := map[string]string{
		"resource_type": resourceType,
		"region":        region,
		"environment":   environment,
	}
	for k, v := range segments {
		payload[k] = v
	}
	return payload
}

func displayPayload(name, resourceType, region, environment, slugCode string, segments map[string]string) map[string]string {
	payload := map[string]string{
		"name":          name,
		"resource_type": resourceType,
		"region":        region,
		"environment":   environment,
		"slug":          slugCode,
	}
	for k, v := range segments {
		payload[k] = v
	}
	return payload
}

func lowerSegments(segments map[string]string) map[string]string {
	out := make(map[string]string, len(segments))
	for k, v := range segments {
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.ToLower(strings.TrimSpace(v))
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func copySegments(segments map[string]string) map[string]string {
	out := make(map[string]string, len(segments))
	for k, v := range segments {
		out[k] = v
	}
	return out
}

func hasSegment(rule rules.Rule, name string) bool {
	for _, segment := range rule.Segments {
		if segment == name {
			return true
		}
	}
	if rule.NameTemplate != "" {
		return strings.Contains(rule.NameTemplate, "{"+name+"}") ||
			strings.Contains(rule.NameTemplate, "{"+name+"_segment}")
	}
	return false
}
