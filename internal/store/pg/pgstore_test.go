package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"namereg.org/internal/registry"
	"namereg.org/internal/slug"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func testClaim() registry.ClaimedName {
	return registry.ClaimedName{
		Key:          registry.Key{Region: "wus2", Environment: "prod", Name: "org-st-wus2-prod"},
		ResourceType: "storage_account",
		InUse:        true,
		ClaimedBy:    "user@example.com",
		ClaimedAt:    time.Now().UTC(),
	}
}

func TestCreateIfAbsentInsertsOnce(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("insert into claimed_names").
		WithArgs("wus2", "prod", "org-st-wus2-prod", "storage_account", true,
			"user@example.com", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, err := s.CreateIfAbsent(context.Background(), testClaim())
	if err != nil {
		t.Fatalf("CreateIfAbsent: %v", err)
	}
	if rec.Version != 1 {
		t.Fatalf("Version=%d, want 1", rec.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateIfAbsentConflict(t *testing.T) {
	s, mock := newMockStore(t)

	// on conflict do nothing: the losing insert affects zero rows.
	mock.ExpectExec("insert into claimed_names").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if _, err := s.CreateIfAbsent(context.Background(), testClaim()); !errors.Is(err, registry.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestReplaceIfUnchanged(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("update claimed_names").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := testClaim()
	rec.Version = 3
	updated, err := s.ReplaceIfUnchanged(context.Background(), rec)
	if err != nil {
		t.Fatalf("ReplaceIfUnchanged: %v", err)
	}
	if updated.Version != 4 {
		t.Fatalf("Version=%d, want 4", updated.Version)
	}
}

func TestReplaceIfUnchangedStale(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("update claimed_names").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select true from claimed_names").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(true))

	rec := testClaim()
	rec.Version = 1
	if _, err := s.ReplaceIfUnchanged(context.Background(), rec); !errors.Is(err, registry.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
}

func TestReplaceIfUnchangedNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("update claimed_names").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select true from claimed_names").
		WillReturnError(sql.ErrNoRows)

	rec := testClaim()
	rec.Version = 1
	if _, err := s.ReplaceIfUnchanged(context.Background(), rec); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGet(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery("select resource_type, in_use, claimed_by").
		WithArgs("wus2", "prod", "org-st-wus2-prod").
		WillReturnRows(sqlmock.NewRows([]string{
			"resource_type", "in_use", "claimed_by", "claimed_at",
			"released_by", "released_at", "release_reason", "metadata", "version",
		}).AddRow("storage_account", true, "user@example.com", now,
			"", nil, "", []byte(`{"owner":"team-a"}`), int64(2)))

	rec, err := s.Get(context.Background(), registry.Key{Region: "WUS2", Environment: "Prod", Name: "org-st-wus2-prod"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !rec.InUse || rec.Version != 2 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Metadata["owner"] != "team-a" {
		t.Fatalf("metadata not decoded: %v", rec.Metadata)
	}
}

func TestGetNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select resource_type, in_use, claimed_by").
		WillReturnError(sql.ErrNoRows)

	if _, err := s.Get(context.Background(), registry.Key{Region: "wus2", Environment: "prod", Name: "missing"}); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuditSearchParameterizesFilters(t *testing.T) {
	s, mock := newMockStore(t)

	// The injection payload must arrive as a bound argument, not SQL text.
	hostile := "x' or '1'='1"
	mock.ExpectQuery(`select id, scope, name, event, actor_id, created_at, details from audit_logs where name=\$1`).
		WithArgs(hostile, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "scope", "name", "event", "actor_id", "created_at", "details"}))

	res, err := s.AuditSearch(context.Background(), registry.AuditFilter{Name: hostile})
	if err != nil {
		t.Fatalf("AuditSearch: %v", err)
	}
	if len(res) != 0 {
		t.Fatalf("expected no rows, got %d", len(res))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestResolveTriesCandidates(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now().UTC()
	// First candidate ("storage account") misses, underscore variant hits.
	mock.ExpectQuery("select resource_type, slug").
		WithArgs("storage account").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select resource_type, slug").
		WithArgs("storage_account").
		WillReturnRows(sqlmock.NewRows([]string{"resource_type", "slug", "full_name", "updated_at"}).
			AddRow("storage_account", "st", "storage account", now))

	m, err := s.Resolve(context.Background(), "storage account")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m.Slug != "st" {
		t.Fatalf("Slug=%q, want st", m.Slug)
	}
}

func TestResolveNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select resource_type, slug").WillReturnError(sql.ErrNoRows)

	if _, err := s.Resolve(context.Background(), "unknown_type"); !errors.Is(err, slug.ErrNotFound) {
		t.Fatalf("expected slug.ErrNotFound, got %v", err)
	}
}

func TestUpsertSlugsCountsChanges(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("insert into slug_mappings").
		WithArgs("storage_account", "st", "storage account", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into slug_mappings").
		WithArgs("virtual_machine", "vm", "virtual machine", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	updated, err := s.UpsertSlugs(context.Background(), []slug.Mapping{
		{ResourceType: "storage_account", Slug: "st", FullName: "storage account", UpdatedAt: now},
		{ResourceType: "virtual_machine", Slug: "vm", FullName: "virtual machine", UpdatedAt: now},
	})
	if err != nil {
		t.Fatalf("UpsertSlugs: %v", err)
	}
	if updated != 1 {
		t.Fatalf("updated=%d, want 1", updated)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
