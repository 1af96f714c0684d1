// Package remote is the HTTP client for the naming API, used by the
// smoke tool and by services that claim names out of process.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"namereg.org/internal/naming"
	"namereg.org/internal/registry"
	"namereg.org/internal/slug"
)

// Client talks to one naming API endpoint.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New creates a client with sensible defaults.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ObtainToken fetches a bearer token from the dev token endpoint and
// installs it on the client.
func (c *Client) ObtainToken(ctx context.Context, user string, roles []string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/auth/token", map[string]any{
		"user":  user,
		"roles": roles,
	}, &resp)
	if err != nil {
		return err
	}
	c.token = resp.Token
	return nil
}

// Claim requests a new name.
func (c *Client) Claim(ctx context.Context, req naming.ClaimRequest) (naming.ClaimResult, error) {
	var res naming.ClaimResult
	err := c.do(ctx, http.MethodPost, "/v1/names/claim", req, &res)
	return res, err
}

// Release marks a claimed name as no longer in use.
func (c *Client) Release(ctx context.Context, req naming.ReleaseRequest) (naming.ReleaseResult, error) {
	var res naming.ReleaseResult
	err := c.do(ctx, http.MethodPost, "/v1/names/release", req, &res)
	return res, err
}

// LookupSlug resolves a slug mapping by resource type.
func (c *Client) LookupSlug(ctx context.Context, resourceType string) (slug.Mapping, error) {
	var res slug.Mapping
	err := c.do(ctx, http.MethodGet, "/v1/slugs/"+url.PathEscape(resourceType), nil, &res)
	return res, err
}

// AuditByName fetches the audit trail of one name.
func (c *Client) AuditByName(ctx context.Context, key registry.Key) ([]registry.AuditEntry, error) {
	var res struct {
		Items []registry.AuditEntry `json:"items"`
	}
	q := url.Values{
		"name":        {key.Name},
		"region":      {key.Region},
		"environment": {key.Environment},
	}
	err := c.do(ctx, http.MethodGet, "/v1/audit?"+q.Encode(), nil, &res)
	return res.Items, err
}

func (c *Client) do(ctx context.Context, method, path string, body, dst any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	if dst == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// apiError translates the error envelope back into the sentinel errors
// callers already match on against the in-process service.
func apiError(resp *http.Response) error {
	var envelope struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&envelope)
	msg := envelope.Error
	if msg == "" {
		msg = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", naming.ErrInvalidRequest, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", naming.ErrForbidden, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", registry.ErrNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", registry.ErrConflict, msg)
	default:
		return fmt.Errorf("naming api: %s (status %d)", msg, resp.StatusCode)
	}
}
