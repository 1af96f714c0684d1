package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"namereg.org/internal/audit"
	"namereg.org/internal/auth"
	"namereg.org/internal/namegen"
	"namereg.org/internal/naming"
	"namereg.org/internal/registry"
	"namereg.org/internal/rules"
	"namereg.org/internal/slug"
)

type claimRequest struct {
	ResourceType string            `json:"resource_type"`
	Region       string            `json:"region"`
	Environment  string            `json:"environment"`
	System       string            `json:"system,omitempty"`
	Subsystem    string            `json:"subsystem,omitempty"`
	Index        string            `json:"index,omitempty"`
	Segments     map[string]string `json:"segments,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
}

func (req claimRequest) toService() naming.ClaimRequest {
	segments := make(map[string]string, len(req.Segments)+3)
	for k, v := range req.Segments {
		segments[k] = v
	}
	// Top-level shorthand fields win over the segments map.
	if req.System != "" {
		segments["system"] = req.System
	}
	if req.Subsystem != "" {
		segments["subsystem"] = req.Subsystem
	}
	if req.Index != "" {
		segments["index"] = req.Index
	}
	return naming.ClaimRequest{
		ResourceType: req.ResourceType,
		Region:       req.Region,
		Environment:  req.Environment,
		Segments:     segments,
		Metadata:     req.Metadata,
	}
}

func (a *API) handleClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.naming.Claim(r.Context(), actor, req.toService())
	if err != nil {
		handleNamingError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "name.claimed", map[string]any{
		"name":          res.Name,
		"resource_type": res.ResourceType,
		"region":        res.Region,
		"environment":   res.Environment,
		"actor":         actor.ID,
		"audit_warning": res.AuditWarning,
	})
	writeJSON(w, http.StatusCreated, res)
}

type releaseRequest struct {
	Name        string `json:"name"`
	Region      string `json:"region"`
	Environment string `json:"environment"`
	Reason      string `json:"reason,omitempty"`
	// ExpectedVersion, when set, makes the release conditional on the
	// record still being at that version (409 on mismatch). When
	// omitted the current version is released; the update stays
	// guarded against writers racing the read, but callers that need
	// strict optimistic concurrency must send the version they saw.
	ExpectedVersion int64 `json:"expected_version,omitempty"`
}

func (a *API) handleRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req releaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.naming.Release(r.Context(), actor, naming.ReleaseRequest{
		Region:          req.Region,
		Environment:     req.Environment,
		Name:            req.Name,
		Reason:          req.Reason,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		handleNamingError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "name.released", map[string]any{
		"name":          res.Name,
		"actor":         actor.ID,
		"audit_warning": res.AuditWarning,
	})
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleSlugLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	resourceType := strings.TrimPrefix(r.URL.Path, "/v1/slugs/")
	if resourceType == "" || strings.Contains(resourceType, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	mapping, err := a.naming.LookupSlug(r.Context(), resourceType)
	if err != nil {
		handleNamingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

type slugSyncRequest struct {
	Snapshot string `json:"snapshot"`
}

type slugSyncResponse struct {
	Updated int `json:"updated"`
}

func (a *API) handleSlugSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req slugSyncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := a.naming.SyncSlugs(r.Context(), actor, req.Snapshot)
	if err != nil {
		handleNamingError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "slugs.synced", map[string]any{
		"actor":   actor.ID,
		"updated": updated,
	})
	writeJSON(w, http.StatusOK, slugSyncResponse{Updated: updated})
}

func (a *API) handleAuditByName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	q := r.URL.Query()
	key := registry.Key{
		Region:      q.Get("region"),
		Environment: q.Get("environment"),
		Name:        q.Get("name"),
	}
	entries, err := a.naming.AuditByName(r.Context(), actor, key)
	if err != nil {
		handleNamingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": emptyIfNil(entries),
		"as_of": time.Now().UTC(),
	})
}

func (a *API) handleAuditBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	q := r.URL.Query()
	filter := registry.AuditFilter{
		Region:      q.Get("region"),
		Environment: q.Get("environment"),
		Name:        q.Get("name"),
		Event:       q.Get("action"),
		ActorID:     q.Get("actor"),
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	for param, dst := range map[string]*time.Time{"start": &filter.Since, "end": &filter.Until} {
		raw := strings.TrimSpace(q.Get(param))
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, param+" must be an RFC 3339 timestamp")
			return
		}
		*dst = ts
	}

	entries, err := a.naming.AuditSearch(r.Context(), actor, filter)
	if err != nil {
		handleNamingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": emptyIfNil(entries),
		"as_of": time.Now().UTC(),
	})
}

func (a *API) handleRulesList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	table := a.naming.Rules().Load()
	writeJSON(w, http.StatusOK, map[string]any{
		"resource_types": table.ResourceTypes(),
		"generation":     table.Generation(),
	})
}

func (a *API) handleRuleDescribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	resourceType := strings.TrimPrefix(r.URL.Path, "/v1/rules/")
	if resourceType == "" || strings.Contains(resourceType, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	desc, err := a.naming.Rules().Load().Describe(resourceType)
	if err != nil {
		handleNamingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

// handleNamingError maps service errors onto the HTTP taxonomy.
func handleNamingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, naming.ErrInvalidRequest),
		errors.Is(err, rules.ErrValidation),
		errors.Is(err, namegen.ErrValidation),
		errors.Is(err, registry.ErrInvalidKey):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrConflict), errors.Is(err, registry.ErrStale):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, rules.ErrNotFound),
		errors.Is(err, slug.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, naming.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, slug.ErrFeed):
		writeError(w, r, http.StatusBadGateway, err.Error())
	case errors.Is(err, naming.ErrSyncUnavailable):
		writeError(w, r, http.StatusNotImplemented, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func emptyIfNil(entries []registry.AuditEntry) []registry.AuditEntry {
	if entries == nil {
		return []registry.AuditEntry{}
	}
	return entries
}
