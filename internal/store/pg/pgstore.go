// Package pg is the Postgres persistence layer: the durable claim
// ledger, the append-only audit log, and the slug mapping table.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"namereg.org/internal/ids"
	"namereg.org/internal/registry"
	"namereg.org/internal/sanitize"
	"namereg.org/internal/slug"
)

type Store struct {
	db *sql.DB
}

var (
	_ registry.Store = (*Store)(nil)
	_ slug.Provider  = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle; tests use this with sqlmock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// CreateIfAbsent claims the name atomically: the insert succeeds only
// when no row exists for the key, and a losing racer observes zero
// affected rows. There is no read-then-write window.
func (s *Store) CreateIfAbsent(ctx context.Context, rec registry.ClaimedName) (registry.ClaimedName, error) {
	rec.Key = rec.Key.Normalize()
	if rec.Key.Region == "" || rec.Key.Environment == "" || rec.Key.Name == "" {
		return registry.ClaimedName{}, registry.ErrInvalidKey
	}
	if rec.ClaimedAt.IsZero() {
		rec.ClaimedAt = time.Now().UTC()
	}
	rec.Version = 1

	res, err := s.db.ExecContext(ctx, `
		insert into claimed_names(region, environment, name, resource_type, in_use,
			claimed_by, claimed_at, released_by, released_at, release_reason, metadata, version)
		values ($1,$2,$3,$4,$5,$6,$7,'',null,'',$8,$9)
		on conflict (region, environment, name) do nothing
	`, rec.Key.Region, rec.Key.Environment, rec.Key.Name, rec.ResourceType, rec.InUse,
		rec.ClaimedBy, rec.ClaimedAt, metaJSON(rec.Metadata), rec.Version)
	if err != nil {
		return registry.ClaimedName{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return registry.ClaimedName{}, err
	}
	if n == 0 {
		return registry.ClaimedName{}, registry.ErrConflict
	}
	return rec, nil
}

// ReplaceIfUnchanged overwrites the row guarded by the version column.
// Zero affected rows means either the row vanished or another writer
// bumped the version; a follow-up existence check disambiguates.
func (s *Store) ReplaceIfUnchanged(ctx context.Context, rec registry.ClaimedName) (registry.ClaimedName, error) {
	rec.Key = rec.Key.Normalize()
	if rec.Key.Region == "" || rec.Key.Environment == "" || rec.Key.Name == "" {
		return registry.ClaimedName{}, registry.ErrInvalidKey
	}

	var releasedAt any
	if !rec.ReleasedAt.IsZero() {
		releasedAt = rec.ReleasedAt
	}
	res, err := s.db.ExecContext(ctx, `
		update claimed_names
		set resource_type=$4, in_use=$5, claimed_by=$6, claimed_at=$7,
			released_by=$8, released_at=$9, release_reason=$10, metadata=$11,
			version=version+1
		where region=$1 and environment=$2 and name=$3 and version=$12
	`, rec.Key.Region, rec.Key.Environment, rec.Key.Name, rec.ResourceType, rec.InUse,
		rec.ClaimedBy, rec.ClaimedAt, rec.ReleasedBy, releasedAt, rec.ReleaseReason,
		metaJSON(rec.Metadata), rec.Version)
	if err != nil {
		return registry.ClaimedName{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return registry.ClaimedName{}, err
	}
	if n == 0 {
		var exists bool
		err := s.db.QueryRowContext(ctx, `
			select true from claimed_names where region=$1 and environment=$2 and name=$3
		`, rec.Key.Region, rec.Key.Environment, rec.Key.Name).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return registry.ClaimedName{}, registry.ErrNotFound
		}
		if err != nil {
			return registry.ClaimedName{}, err
		}
		return registry.ClaimedName{}, registry.ErrStale
	}
	rec.Version++
	return rec, nil
}

func (s *Store) Get(ctx context.Context, key registry.Key) (registry.ClaimedName, error) {
	key = key.Normalize()
	if key.Region == "" || key.Environment == "" || key.Name == "" {
		return registry.ClaimedName{}, registry.ErrInvalidKey
	}

	rec := registry.ClaimedName{Key: key}
	var releasedAt sql.NullTime
	var meta []byte
	err := s.db.QueryRowContext(ctx, `
		select resource_type, in_use, claimed_by, claimed_at,
			coalesce(released_by,''), released_at, coalesce(release_reason,''), metadata, version
		from claimed_names
		where region=$1 and environment=$2 and name=$3
	`, key.Region, key.Environment, key.Name).Scan(
		&rec.ResourceType, &rec.InUse, &rec.ClaimedBy, &rec.ClaimedAt,
		&rec.ReleasedBy, &releasedAt, &rec.ReleaseReason, &meta, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.ClaimedName{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.ClaimedName{}, err
	}
	if releasedAt.Valid {
		rec.ReleasedAt = releasedAt.Time.UTC()
	}
	rec.Metadata = parseMeta(meta)
	return rec, nil
}

func (s *Store) AppendAudit(ctx context.Context, entry registry.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_logs(id, scope, name, event, actor_id, created_at, details)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.Scope, entry.Name, entry.Event, entry.ActorID, entry.CreatedAt,
		metaJSON(entry.Details))
	return err
}

func (s *Store) AuditByName(ctx context.Context, key registry.Key) ([]registry.AuditEntry, error) {
	key = key.Normalize()
	return s.AuditSearch(ctx, registry.AuditFilter{
		Region:      key.Region,
		Environment: key.Environment,
		Name:        key.Name,
	})
}

// AuditSearch builds the filter as parameterized predicates. Filter
// values never reach the SQL text.
func (s *Store) AuditSearch(ctx context.Context, filter registry.AuditFilter) ([]registry.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Region != "" && filter.Environment != "" {
		scope := strings.ToLower(filter.Region) + "-" + strings.ToLower(filter.Environment)
		where = append(where, "scope="+arg(scope))
	}
	if filter.Name != "" {
		where = append(where, "name="+arg(strings.ToLower(filter.Name)))
	}
	if filter.Event != "" {
		where = append(where, "event="+arg(filter.Event))
	}
	if filter.ActorID != "" {
		where = append(where, "lower(actor_id)="+arg(strings.ToLower(filter.ActorID)))
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at>="+arg(filter.Since))
	}
	if !filter.Until.IsZero() {
		where = append(where, "created_at<="+arg(filter.Until))
	}

	query := `select id, scope, name, event, actor_id, created_at, details from audit_logs`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += " order by created_at desc limit " + arg(filter.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []registry.AuditEntry
	for rows.Next() {
		var entry registry.AuditEntry
		var details []byte
		if err := rows.Scan(&entry.ID, &entry.Scope, &entry.Name, &entry.Event,
			&entry.ActorID, &entry.CreatedAt, &details); err != nil {
			return nil, err
		}
		entry.Details = parseMeta(details)
		res = append(res, entry)
	}
	return res, rows.Err()
}

// Resolve looks a slug mapping up by resource type or full name,
// trying each lookup variant in order.
func (s *Store) Resolve(ctx context.Context, resourceType string) (slug.Mapping, error) {
	for _, candidate := range slug.Candidates(resourceType) {
		var m slug.Mapping
		err := s.db.QueryRowContext(ctx, `
			select resource_type, slug, coalesce(full_name,''), updated_at
			from slug_mappings
			where resource_type=$1 or lower(full_name)=$1
		`, candidate).Scan(&m.ResourceType, &m.Slug, &m.FullName, &m.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return slug.Mapping{}, err
		}
		return m, nil
	}
	return slug.Mapping{}, slug.ErrNotFound
}

// UpsertSlugs refreshes the mapping table from a parsed feed snapshot
// and reports how many rows actually changed.
func (s *Store) UpsertSlugs(ctx context.Context, mappings []slug.Mapping) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	updated := 0
	for _, m := range mappings {
		if m.UpdatedAt.IsZero() {
			m.UpdatedAt = time.Now().UTC()
		}
		res, err := tx.ExecContext(ctx, `
			insert into slug_mappings(resource_type, slug, full_name, updated_at)
			values ($1,$2,$3,$4)
			on conflict (resource_type) do update
			set slug=excluded.slug, full_name=excluded.full_name, updated_at=excluded.updated_at
			where slug_mappings.slug is distinct from excluded.slug
				or slug_mappings.full_name is distinct from excluded.full_name
		`, m.ResourceType, m.Slug, m.FullName, m.UpdatedAt)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		updated += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return updated, nil
}

// ListSlugs returns all known mappings, ordered by resource type.
func (s *Store) ListSlugs(ctx context.Context) ([]slug.Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		select resource_type, slug, coalesce(full_name,''), updated_at
		from slug_mappings order by resource_type
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []slug.Mapping
	for rows.Next() {
		var m slug.Mapping
		if err := rows.Scan(&m.ResourceType, &m.Slug, &m.FullName, &m.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// --- helpers ---

func metaJSON(m map[string]string) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// parseMeta re-sanitizes on the way out: the column only ever holds
// sanitized maps, but a row touched outside this code path must not
// leak raw content into responses.
func parseMeta(data []byte) map[string]string {
	if len(data) == 0 {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil || len(m) == 0 {
		return nil
	}
	return sanitize.Strings(m)
}
