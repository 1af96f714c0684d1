package auth

import (
	"context"
	"slices"
	"testing"
	"time"
)

func TestGenerateAndValidate(t *testing.T) {
	t.Setenv("NAMEREG_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	token, err := GenerateToken("user-42", []string{"Admin", "reader", "admin"}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if !slices.Contains(claims.Roles, "admin") || !slices.Contains(claims.Roles, "reader") {
		t.Fatalf("roles were not preserved: %v", claims.Roles)
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("expected deduped roles, got %v", claims.Roles)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Setenv("NAMEREG_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := ParseAndValidate("not-a-token"); err == nil {
		t.Fatal("expected error for malformed token")
	}
	if _, err := ParseAndValidate(""); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestExpiredToken(t *testing.T) {
	t.Setenv("NAMEREG_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("user-1", nil, -time.Minute); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
}

func TestActorRoles(t *testing.T) {
	actor := Actor{ID: "alice", Roles: []string{RoleContributor}}
	if !actor.HasRole(RoleReader) {
		t.Fatal("contributor should satisfy reader")
	}
	if !actor.HasRole(RoleContributor) {
		t.Fatal("contributor should satisfy contributor")
	}
	if actor.HasRole(RoleAdmin) {
		t.Fatal("contributor should not satisfy admin")
	}
	if actor.HasRole("superuser") {
		t.Fatal("unknown role names must never pass")
	}
}

func TestActorCanTouch(t *testing.T) {
	owner := Actor{ID: "Alice", Roles: []string{RoleContributor}}
	if !owner.CanTouch("alice", "") {
		t.Fatal("claimant must be able to touch their own record")
	}
	if !owner.CanTouch("bob", "alice") {
		t.Fatal("prior releaser must stay authorized")
	}
	if owner.CanTouch("bob", "carol") {
		t.Fatal("unrelated contributor must be rejected")
	}

	admin := Actor{ID: "root", Roles: []string{RoleAdmin}}
	if !admin.CanTouch("bob", "carol") {
		t.Fatal("admin bypasses ownership")
	}
}

func TestActorFromContext(t *testing.T) {
	ctx := ContextWithActor(context.Background(), "user-7", []string{"reader"})
	actor, ok := ActorFromContext(ctx)
	if !ok {
		t.Fatal("expected actor in context")
	}
	if actor.ID != "user-7" || !actor.HasRole(RoleReader) {
		t.Fatalf("unexpected actor: %+v", actor)
	}

	if _, ok := ActorFromContext(context.Background()); ok {
		t.Fatal("expected no actor in empty context")
	}
}
