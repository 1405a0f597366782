// Package gcsstore implements objstore.Client against the Cloud
// Storage JSON API directly over net/http, rather than through the
// cloud.google.com/go/storage client library: the wire surface needed
// (get/insert/patch an object with generation preconditions) is narrow
// enough that a thin binding keeps the precondition and error-mapping
// logic visible and testable against net/http/httptest.
//
// A Store is not bound to a single bucket: every path's first
// "/"-delimited segment names the bucket, and the remainder is the
// object key, so one Store can address any bucket the caller's
// credentials permit.
package gcsstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/dynoinc/kanso/internal/kansolog"
	"github.com/dynoinc/kanso/internal/kansometrics"
	"github.com/dynoinc/kanso/objstore"
)

const metadataHeaderPrefix = "X-Goog-Meta-"

// Store implements objstore.Client against the Cloud Storage JSON API.
type Store struct {
	endpoint   string
	httpClient *http.Client
	tokenSrc   oauth2.TokenSource

	logger  *slog.Logger
	metrics kansometrics.Handle
}

// Option configures a Store returned by New.
type Option func(*Store)

// WithHTTPClient overrides the HTTP client used for every request.
// Defaults to http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.httpClient = c }
}

// WithTokenSource attaches an oauth2.TokenSource whose token is sent as
// a Bearer credential on every request. Omitting this option runs in
// test mode: requests carry no Authorization header.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(s *Store) { s.tokenSrc = ts }
}

// WithEndpoint overrides the JSON API base URL, for pointing at a fake
// server in tests. Defaults to https://storage.googleapis.com.
func WithEndpoint(endpoint string) Option {
	return func(s *Store) { s.endpoint = strings.TrimSuffix(endpoint, "/") }
}

// WithLogger overrides the default package logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics attaches a metrics handle; the default records nothing.
func WithMetrics(h kansometrics.Handle) Option {
	return func(s *Store) { s.metrics = h }
}

// New returns a Store with no bucket bound; every call's path supplies
// its own bucket (see parsePath).
func New(opts ...Option) *Store {
	s := &Store{
		endpoint:   "https://storage.googleapis.com",
		httpClient: http.DefaultClient,
		logger:     kansolog.Default(),
		metrics:    kansometrics.NewNoop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ objstore.Client = (*Store)(nil)

// parsePath splits a contract Path into the GCS bucket and object key:
// the first "/"-delimited segment is the bucket, and the remainder
// (which may itself contain "/") is the object name. A path with no
// "/" has no bucket and is rejected.
func parsePath(p objstore.Path) (bucket, key string, err error) {
	s := p.String()
	idx := strings.IndexByte(s, '/')
	if idx < 0 {
		return "", "", objstore.NewOtherError(fmt.Sprintf("gcsstore: path %q must include a bucket: expected \"bucket/key\"", s), nil)
	}
	return s[:idx], s[idx+1:], nil
}

func (s *Store) authorize(req *http.Request) error {
	if s.tokenSrc == nil {
		return nil
	}
	tok, err := s.tokenSrc.Token()
	if err != nil {
		return fmt.Errorf("gcsstore: fetching token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	return nil
}

// Get implements objstore.Client.
func (s *Store) Get(ctx context.Context, req objstore.GetRequest) (*objstore.GetResponse, error) {
	var resp *objstore.GetResponse
	err := kansometrics.Observe(ctx, s.metrics, "get", errorCategory, func() error {
		bucket, key, err := parsePath(req.Path)
		if err != nil {
			return err
		}

		u := fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media", s.endpoint, url.PathEscape(bucket), url.PathEscape(key))
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return objstore.NewOtherError("building get request", err)
		}
		if err := s.authorize(httpReq); err != nil {
			return objstore.NewOtherError("authorizing get request", err)
		}

		httpResp, err := s.httpClient.Do(httpReq)
		if err != nil {
			return objstore.NewOtherError("performing get request", err)
		}
		defer httpResp.Body.Close()

		switch httpResp.StatusCode {
		case http.StatusNotFound:
			resp = nil
			return nil
		case http.StatusOK:
			body, err := io.ReadAll(httpResp.Body)
			if err != nil {
				return objstore.NewOtherError("reading get response body", err)
			}
			resp = &objstore.GetResponse{
				Value:    body,
				Version:  objstore.NewVersion(httpResp.Header.Get("X-Goog-Generation")),
				Metadata: metadataFromHeader(httpResp.Header),
			}
			return nil
		default:
			return objstore.NewOtherError(fmt.Sprintf("get: unexpected status %s", httpResp.Status), readBodyForError(httpResp.Body))
		}
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("gcsstore get", "path", req.Path.String(), "found", resp != nil)
	return resp, nil
}

// Put implements objstore.Client.
func (s *Store) Put(ctx context.Context, req objstore.PutRequest) (objstore.PutResponse, error) {
	var out objstore.PutResponse
	err := kansometrics.Observe(ctx, s.metrics, "put", errorCategory, func() error {
		bucket, key, err := parsePath(req.Path)
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("uploadType", "media")
		q.Set("name", key)
		switch req.Condition.Kind {
		case objstore.ConditionIfAbsent:
			q.Set("ifGenerationMatch", "0")
		case objstore.ConditionIfVersionMatches:
			q.Set("ifGenerationMatch", req.Condition.Version.String())
		}

		u := fmt.Sprintf("%s/upload/storage/v1/b/%s/o?%s", s.endpoint, url.PathEscape(bucket), q.Encode())
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(req.Value))
		if err != nil {
			return objstore.NewOtherError("building put request", err)
		}
		httpReq.Header.Set("Content-Type", "application/octet-stream")
		addMetadataHeaders(httpReq.Header, req.Metadata)
		if err := s.authorize(httpReq); err != nil {
			return objstore.NewOtherError("authorizing put request", err)
		}

		httpResp, err := s.httpClient.Do(httpReq)
		if err != nil {
			return objstore.NewOtherError("performing put request", err)
		}
		defer httpResp.Body.Close()

		switch httpResp.StatusCode {
		case http.StatusOK:
			var decoded struct {
				Generation string `json:"generation"`
			}
			if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil {
				return objstore.NewOtherError("decoding put response", err)
			}
			out = objstore.PutResponse{Version: objstore.NewVersion(decoded.Generation)}
			return nil
		case http.StatusPreconditionFailed:
			return &objstore.ConditionFailedError{Condition: req.Condition}
		default:
			return objstore.NewOtherError(fmt.Sprintf("put: unexpected status %s", httpResp.Status), readBodyForError(httpResp.Body))
		}
	})
	if err != nil {
		s.logger.Debug("gcsstore put rejected", "path", req.Path.String(), "condition", req.Condition, "err", err)
		return objstore.PutResponse{}, err
	}

	s.logger.Debug("gcsstore put accepted", "path", req.Path.String(), "version", out.Version.String())
	return out, nil
}

// Patch implements objstore.Client.
func (s *Store) Patch(ctx context.Context, req objstore.PatchRequest) (objstore.PatchResponse, error) {
	var out objstore.PatchResponse
	err := kansometrics.Observe(ctx, s.metrics, "patch", errorCategory, func() error {
		body, err := json.Marshal(struct {
			Metadata objstore.Metadata `json:"metadata"`
		}{Metadata: req.Metadata})
		if err != nil {
			return objstore.NewOtherError("encoding patch body", err)
		}

		bucket, key, err := parsePath(req.Path)
		if err != nil {
			return err
		}

		u := fmt.Sprintf("%s/storage/v1/b/%s/o/%s", s.endpoint, url.PathEscape(bucket), url.PathEscape(key))
		if req.Condition.Kind == objstore.ConditionIfVersionMatches {
			u += "?ifGenerationMatch=" + url.QueryEscape(req.Condition.Version.String())
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, bytes.NewReader(body))
		if err != nil {
			return objstore.NewOtherError("building patch request", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if err := s.authorize(httpReq); err != nil {
			return objstore.NewOtherError("authorizing patch request", err)
		}

		httpResp, err := s.httpClient.Do(httpReq)
		if err != nil {
			return objstore.NewOtherError("performing patch request", err)
		}
		defer httpResp.Body.Close()

		switch httpResp.StatusCode {
		case http.StatusOK:
			var decoded struct {
				Generation string `json:"generation"`
			}
			if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil {
				return objstore.NewOtherError("decoding patch response", err)
			}
			out = objstore.PatchResponse{Version: objstore.NewVersion(decoded.Generation)}
			return nil
		case http.StatusNotFound:
			return &objstore.NotFoundError{Path: req.Path}
		case http.StatusPreconditionFailed:
			return &objstore.ConditionFailedError{Condition: req.Condition}
		default:
			return objstore.NewOtherError(fmt.Sprintf("patch: unexpected status %s", httpResp.Status), readBodyForError(httpResp.Body))
		}
	})
	if err != nil {
		s.logger.Debug("gcsstore patch rejected", "path", req.Path.String(), "condition", req.Condition, "err", err)
		return objstore.PatchResponse{}, err
	}

	s.logger.Debug("gcsstore patch accepted", "path", req.Path.String(), "version", out.Version.String())
	return out, nil
}

// metadataFromHeader and addMetadataHeaders lowercase every key: HTTP
// headers are case-insensitive (net/http canonicalizes on both Set and
// range over Header), so the JSON API can't carry a key's original case
// round trip. Lowercasing on both sides is the only way to make repeated
// gcsstore Put/Get cycles stable against the same key.
func metadataFromHeader(h http.Header) objstore.Metadata {
	m := objstore.NewMetadata()
	for key := range h {
		if !strings.HasPrefix(key, metadataHeaderPrefix) {
			continue
		}
		name := strings.TrimPrefix(key, metadataHeaderPrefix)
		m[strings.ToLower(name)] = h.Get(key)
	}
	return m
}

func addMetadataHeaders(h http.Header, m objstore.Metadata) {
	for k, v := range m {
		h.Set(metadataHeaderPrefix+strings.ToLower(k), v)
	}
}

func readBodyForError(r io.Reader) error {
	body, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil {
		return fmt.Errorf("reading error body: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	return fmt.Errorf("%s", body)
}

func errorCategory(err error) string {
	switch err.(type) {
	case *objstore.ConditionFailedError:
		return "condition_failed"
	case *objstore.NotFoundError:
		return "not_found"
	case *objstore.OtherError:
		return "other"
	default:
		return "unknown"
	}
}
