package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"namereg.org/internal/naming"
	"namereg.org/internal/registry"
)

func TestClientClaimRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/names/claim" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Fatalf("Authorization=%q", got)
		}
		var req naming.ClaimRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.ResourceType != "storage_account" {
			t.Fatalf("resource_type=%q", req.ResourceType)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(naming.ClaimResult{
			Name: "org-st-wus2-prod", Slug: "st", Version: 1,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, WithToken("token-1"))
	res, err := c.Claim(context.Background(), naming.ClaimRequest{
		ResourceType: "storage_account",
		Region:       "wus2",
		Environment:  "prod",
	})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if res.Name != "org-st-wus2-prod" || res.Version != 1 {
		t.Fatalf("result: %+v", res)
	}
}

func TestClientMapsErrorStatuses(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, naming.ErrInvalidRequest},
		{http.StatusForbidden, naming.ErrForbidden},
		{http.StatusNotFound, registry.ErrNotFound},
		{http.StatusConflict, registry.ErrConflict},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "nope"})
		}))
		c := New(srv.URL)
		_, err := c.Claim(context.Background(), naming.ClaimRequest{})
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: got %v, want %v", tc.status, err, tc.want)
		}
	}
}

func TestClientObtainToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/auth/token" {
			t.Fatalf("path=%s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "issued-token"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	if err := c.ObtainToken(context.Background(), "demo", []string{"contributor"}); err != nil {
		t.Fatalf("ObtainToken: %v", err)
	}
	if c.token != "issued-token" {
		t.Fatalf("token=%q", c.token)
	}
}
