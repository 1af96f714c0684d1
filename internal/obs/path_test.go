package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                           "/",
		"/metrics":                   "/metrics",
		"/v1/slugs/storage_account":  "/v1/slugs/:type",
		"/v1/slugs/sync":             "/v1/slugs/sync",
		"/v1/rules/virtual_machine":  "/v1/rules/:type",
		"/v1/rules":                  "/v1/rules",
		"/v1/names/claim":            "/v1/names/claim",
		"/v1/audit/bulk?region=wus2": "/v1/audit/bulk",
		"/v1/slugs/storage/extra":    "/v1/slugs/storage/extra",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
