// Package inmemory implements objstore.Client over a concurrent map,
// serving as both a test double and the normative reference semantics
// for the storage contract.
package inmemory

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dynoinc/kanso/internal/kansolog"
	"github.com/dynoinc/kanso/internal/kansometrics"
	"github.com/dynoinc/kanso/objstore"
)

type storedObject struct {
	value    []byte
	version  objstore.Version
	metadata objstore.Metadata
}

// Store is a concurrent, in-process implementation of objstore.Client.
// A single mutex guards the map; condition evaluation and mutation for a
// write happen inside the same critical section, which is what makes
// conditional writes atomic even under concurrent contention.
type Store struct {
	mu      sync.RWMutex
	objects map[string]storedObject
	counter atomic.Uint64

	logger  *slog.Logger
	metrics kansometrics.Handle
}

// Option configures a Store returned by New.
type Option func(*Store)

// WithLogger overrides the default package logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics attaches a metrics handle; the default records nothing.
func WithMetrics(h kansometrics.Handle) Option {
	return func(s *Store) { s.metrics = h }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		objects: make(map[string]storedObject),
		logger:  kansolog.Default(),
		metrics: kansometrics.NewNoop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ objstore.Client = (*Store)(nil)

func (s *Store) nextVersion() objstore.Version {
	n := s.counter.Add(1)
	return objstore.NewVersion(strconv.FormatUint(n, 10))
}

// Get implements objstore.Client.
func (s *Store) Get(ctx context.Context, req objstore.GetRequest) (*objstore.GetResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, objstore.NewOtherError("context canceled", err)
	}

	var resp *objstore.GetResponse
	err := kansometrics.Observe(ctx, s.metrics, "get", errorCategory, func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()

		obj, ok := s.objects[req.Path.String()]
		if !ok {
			return nil
		}
		resp = &objstore.GetResponse{
			Value:    append([]byte(nil), obj.value...),
			Version:  obj.version,
			Metadata: obj.metadata.Clone(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("inmemory get", "path", req.Path.String(), "found", resp != nil)
	return resp, nil
}

// Put implements objstore.Client.
func (s *Store) Put(ctx context.Context, req objstore.PutRequest) (objstore.PutResponse, error) {
	if err := ctx.Err(); err != nil {
		return objstore.PutResponse{}, objstore.NewOtherError("context canceled", err)
	}

	var resp objstore.PutResponse
	err := kansometrics.Observe(ctx, s.metrics, "put", errorCategory, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		existing, exists := s.objects[req.Path.String()]
		if err := checkCondition(req.Condition, exists, existing.version); err != nil {
			return err
		}

		version := s.nextVersion()
		s.objects[req.Path.String()] = storedObject{
			value:    append([]byte(nil), req.Value...),
			version:  version,
			metadata: req.Metadata.Clone(),
		}
		resp = objstore.PutResponse{Version: version}
		return nil
	})
	if err != nil {
		s.logger.Debug("inmemory put rejected", "path", req.Path.String(), "condition", req.Condition, "err", err)
		return objstore.PutResponse{}, err
	}

	s.logger.Debug("inmemory put accepted", "path", req.Path.String(), "version", resp.Version.String())
	return resp, nil
}

// Patch implements objstore.Client.
func (s *Store) Patch(ctx context.Context, req objstore.PatchRequest) (objstore.PatchResponse, error) {
	if err := ctx.Err(); err != nil {
		return objstore.PatchResponse{}, objstore.NewOtherError("context canceled", err)
	}

	var resp objstore.PatchResponse
	err := kansometrics.Observe(ctx, s.metrics, "patch", errorCategory, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		existing, exists := s.objects[req.Path.String()]
		if !exists {
			return &objstore.NotFoundError{Path: req.Path}
		}
		if err := checkCondition(req.Condition, exists, existing.version); err != nil {
			return err
		}

		version := s.nextVersion()
		existing.version = version
		existing.metadata = req.Metadata.Clone()
		s.objects[req.Path.String()] = existing
		resp = objstore.PatchResponse{Version: version}
		return nil
	})
	if err != nil {
		s.logger.Debug("inmemory patch rejected", "path", req.Path.String(), "condition", req.Condition, "err", err)
		return objstore.PatchResponse{}, err
	}

	s.logger.Debug("inmemory patch accepted", "path", req.Path.String(), "version", resp.Version.String())
	return resp, nil
}

// checkCondition evaluates cond against the path's current existence and
// version. Must be called with the write lock held so the check and the
// subsequent mutation are atomic.
func checkCondition(cond objstore.Condition, exists bool, currentVersion objstore.Version) error {
	switch cond.Kind {
	case objstore.ConditionNone:
		return nil
	case objstore.ConditionIfAbsent:
		if exists {
			return &objstore.ConditionFailedError{Condition: cond}
		}
		return nil
	case objstore.ConditionIfVersionMatches:
		if !exists || !currentVersion.Equal(cond.Version) {
			return &objstore.ConditionFailedError{Condition: cond}
		}
		return nil
	default:
		return nil
	}
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
