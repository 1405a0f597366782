// Package gcsauth supplies oauth2.TokenSource implementations for the
// GCS backend: application-default credentials (with a GCE/GKE
// metadata-server check), a static token for tests, and a token-url
// fetcher for sidecar token brokers.
package gcsauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"cloud.google.com/go/compute/metadata"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scope is the OAuth scope the GCS backend requests: read-write access
// to Cloud Storage objects.
const Scope = "https://www.googleapis.com/auth/devstorage.read_write"

// NewDefaultTokenSource builds a token source from
// golang.org/x/oauth2/google's application-default credential search.
// It also checks whether the process runs on GCE/GKE via the metadata
// server; that result is reported only in the error message and does
// not change which credentials are used. The returned source is wrapped in
// oauth2.ReuseTokenSource so repeated calls reuse a cached, unexpired
// token instead of re-authenticating on every request.
func NewDefaultTokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	onGCE := metadata.OnGCE()

	ts, err := google.DefaultTokenSource(ctx, Scope)
	if err != nil {
		return nil, fmt.Errorf("gcsauth: default token source (workload identity detected=%v): %w", onGCE, err)
	}
	return oauth2.ReuseTokenSource(nil, ts), nil
}

// NewStaticTokenSource wraps a fixed bearer token, for tests and for
// callers that manage their own token refresh out of band.
func NewStaticTokenSource(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}

// urlTokenSource fetches a token by issuing a GET to tokenURL and
// decoding an oauth2.Token as JSON from the response body, the shape a
// local token broker sidecar (e.g. a workload-identity proxy) exposes.
type urlTokenSource struct {
	ctx    context.Context
	url    string
	client *http.Client
}

// NewTokenSourceFromURL returns a TokenSource that fetches a fresh token
// from tokenURL on every call. The URL is validated eagerly so a
// malformed endpoint fails at construction rather than on first use.
func NewTokenSourceFromURL(ctx context.Context, tokenURL string, client *http.Client) (oauth2.TokenSource, error) {
	if _, err := url.Parse(tokenURL); err != nil {
		return nil, fmt.Errorf("gcsauth: invalid token url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &urlTokenSource{ctx: ctx, url: tokenURL, client: client}, nil
}

func (s *urlTokenSource) Token() (*oauth2.Token, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("gcsauth: building token request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gcsauth: fetching token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gcsauth: token endpoint returned %s: %s", resp.Status, body)
	}

	var tok oauth2.Token
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("gcsauth: decoding token response: %w", err)
	}
	return &tok, nil
}
