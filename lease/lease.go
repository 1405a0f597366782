// Package lease implements a cooperative, expiring, single-writer claim
// on an objstore path, built entirely from the storage contract's
// conditional put and patch operations. It is not a mutual-exclusion
// lock enforced by the store: correctness depends on every participant
// honoring the protocol and reading wall clocks within the ttl's slack.
package lease

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dynoinc/kanso/clock"
	"github.com/dynoinc/kanso/internal/kansolog"
	"github.com/dynoinc/kanso/internal/kansometrics"
	"github.com/dynoinc/kanso/objstore"
)

// Lease tracks an acquired claim on a path, including the version last
// observed by this lease instance. Update and Renew advance Version;
// the zero Lease is not valid: a usable Lease is only ever produced by
// Acquire.
type Lease[T any] struct {
	Path    objstore.Path
	Owner   string
	TTL     time.Duration
	Version objstore.Version

	client  objstore.Client
	clock   clock.Clock
	codec   Codec[T]
	logger  *slog.Logger
	metrics kansometrics.Handle
}

// Option configures shared dependencies across Acquire and the methods
// of an already-acquired Lease.
type Option[T any] func(*deps[T])

type deps[T any] struct {
	clock   clock.Clock
	codec   Codec[T]
	logger  *slog.Logger
	metrics kansometrics.Handle
}

// WithClock overrides the clock used for now() and expiry computation.
// Defaults to clock.RealClock{}.
func WithClock[T any](c clock.Clock) Option[T] {
	return func(d *deps[T]) { d.clock = c }
}

// WithCodec overrides the payload codec. Defaults to JSONCodec[T].
func WithCodec[T any](c Codec[T]) Option[T] {
	return func(d *deps[T]) { d.codec = c }
}

// WithLogger overrides the logger used for lease operation tracing.
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(d *deps[T]) { d.logger = l }
}

// WithMetrics attaches a metrics handle recording lease operation
// counts, latencies, and error counts. Defaults to a no-op handle.
func WithMetrics[T any](h kansometrics.Handle) Option[T] {
	return func(d *deps[T]) { d.metrics = h }
}

func newDeps[T any](opts []Option[T]) deps[T] {
	d := deps[T]{
		clock:   clock.RealClock{},
		codec:   JSONCodec[T]{},
		logger:  kansolog.Default(),
		metrics: kansometrics.NewNoop(),
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

func (l *Lease[T]) now() int64 {
	return l.clock.Now().Unix()
}

func (l *Lease[T]) expiryAt() int64 {
	return l.now() + int64(l.TTL/time.Second)
}

// AcquireRequest describes an Acquire call: the path to claim, the owner
// id to claim it under, the ttl to grant, and the value to install if
// the path is currently absent.
type AcquireRequest[T any] struct {
	Path  objstore.Path
	Init  T
	Owner string
	TTL   time.Duration

	opts []Option[T]
}

// NewAcquireRequest builds an AcquireRequest for path, claiming
// ownership under a freshly generated UUID and the given ttl. Use
// WithOwner to claim under a specific owner id instead.
func NewAcquireRequest[T any](path objstore.Path, init T, ttl time.Duration, opts ...Option[T]) AcquireRequest[T] {
	return AcquireRequest[T]{
		Path:  path,
		Init:  init,
		Owner: uuid.NewString(),
		TTL:   ttl,
		opts:  opts,
	}
}

// WithOwner sets a specific owner id, overriding the default fresh UUID.
func (r AcquireRequest[T]) WithOwner(owner string) AcquireRequest[T] {
	r.Owner = owner
	return r
}

// Execute runs the acquire protocol against client: get the path; if
// absent, conditionally create it; if present, fail with LeaseHeldError
// unless the existing grant is expired or already owned by r.Owner, in
// which case the existing value is read back and the object is
// rewritten with fresh ownership and expiry.
func (r AcquireRequest[T]) Execute(ctx context.Context, client objstore.Client) (*Lease[T], T, error) {
	var zero T
	d := newDeps(r.opts)

	l := &Lease[T]{
		Path:    r.Path,
		Owner:   r.Owner,
		TTL:     r.TTL,
		client:  client,
		clock:   d.clock,
		codec:   d.codec,
		logger:  d.logger,
		metrics: d.metrics,
	}

	var result T
	var acquireErr error
	_ = kansometrics.Observe(ctx, l.metrics, "acquire", leaseErrorCategory, func() error {
		result, acquireErr = l.executeAcquire(ctx, r.Init)
		return acquireErr
	})
	if acquireErr != nil {
		return nil, zero, acquireErr
	}
	return l, result, nil
}

func (l *Lease[T]) executeAcquire(ctx context.Context, init T) (T, error) {
	var zero T

	getResp, err := l.client.Get(ctx, objstore.NewGetRequest(l.Path))
	if err != nil {
		return zero, &StorageError{Op: "acquire:get", Err: err}
	}

	if getResp == nil {
		payload, err := l.codec.Marshal(init)
		if err != nil {
			return zero, &CodecError{Op: "acquire:marshal", Err: err}
		}
		expiry := l.expiryAt()
		putResp, err := l.client.Put(ctx, objstore.NewPutRequest(l.Path, payload).
			WithMetadata(leaseMetadata(l.Owner, expiry)).
			IfAbsent())
		if err != nil {
			if isConditionFailed(err) {
				l.logger.Debug("lease acquire raced on create", "path", l.Path.String())
				return zero, &ConflictError{Path: l.Path, Op: "acquire"}
			}
			return zero, &StorageError{Op: "acquire:put", Err: err}
		}
		l.Version = putResp.Version
		l.logger.Debug("lease acquired fresh path", "path", l.Path.String(), "owner", l.Owner)
		return init, nil
	}

	currentOwner, expiry, err := readLeaseMetadata(l.Path, getResp.Metadata)
	if err != nil {
		return zero, err
	}

	if alive(expiry, l.now()) && currentOwner != l.Owner {
		return zero, &LeaseHeldError{Path: l.Path, Owner: currentOwner, Expiry: expiry}
	}

	existing, err := l.codec.Unmarshal(getResp.Value)
	if err != nil {
		return zero, &CodecError{Op: "acquire:unmarshal", Err: err}
	}

	newExpiry := l.expiryAt()
	putResp, err := l.client.Put(ctx, objstore.NewPutRequest(l.Path, getResp.Value).
		WithMetadata(leaseMetadata(l.Owner, newExpiry)).
		IfVersionMatches(getResp.Version))
	if err != nil {
		if isConditionFailed(err) {
			l.logger.Debug("lease acquire raced on reacquire", "path", l.Path.String())
			return zero, &ConflictError{Path: l.Path, Op: "acquire"}
		}
		return zero, &StorageError{Op: "acquire:put", Err: err}
	}
	l.Version = putResp.Version
	l.logger.Debug("lease reacquired", "path", l.Path.String(), "owner", l.Owner)
	return existing, nil
}

// Update writes a new payload under the lease, advancing expiry by TTL.
// Fails with ConflictError if another writer moved the version since
// this lease's last observed write.
func (l *Lease[T]) Update(ctx context.Context, value T) error {
	return kansometrics.Observe(ctx, l.metrics, "update", leaseErrorCategory, func() error {
		payload, err := l.codec.Marshal(value)
		if err != nil {
			return &CodecError{Op: "update:marshal", Err: err}
		}

		resp, err := l.client.Put(ctx, objstore.NewPutRequest(l.Path, payload).
			WithMetadata(leaseMetadata(l.Owner, l.expiryAt())).
			IfVersionMatches(l.Version))
		if err != nil {
			if isConditionFailed(err) {
				return &ConflictError{Path: l.Path, Op: "update"}
			}
			return &StorageError{Op: "update:put", Err: err}
		}
		l.Version = resp.Version
		l.logger.Debug("lease updated", "path", l.Path.String(), "owner", l.Owner)
		return nil
	})
}

// Renew extends expiry by TTL without touching the payload bytes.
// Cheaper than Update because it issues a metadata-only patch. Fails
// with ConflictError if another writer moved the version.
func (l *Lease[T]) Renew(ctx context.Context) error {
	return kansometrics.Observe(ctx, l.metrics, "renew", leaseErrorCategory, func() error {
		resp, err := l.client.Patch(ctx, objstore.NewPatchRequest(l.Path, leaseMetadata(l.Owner, l.expiryAt())).
			IfVersionMatches(l.Version))
		if err != nil {
			if isConditionFailed(err) {
				return &ConflictError{Path: l.Path, Op: "renew"}
			}
			if isNotFound(err) {
				return &NotFoundError{Path: l.Path}
			}
			return &StorageError{Op: "renew:patch", Err: err}
		}
		l.Version = resp.Version
		l.logger.Debug("lease renewed", "path", l.Path.String(), "owner", l.Owner)
		return nil
	})
}

// Release hands the lease back by clearing owner and expiry, so any
// caller may immediately acquire without waiting for TTL to elapse. A
// crashed holder that never calls Release simply lets the TTL expire.
func (l *Lease[T]) Release(ctx context.Context) error {
	return kansometrics.Observe(ctx, l.metrics, "release", leaseErrorCategory, func() error {
		getResp, err := l.client.Get(ctx, objstore.NewGetRequest(l.Path))
		if err != nil {
			return &StorageError{Op: "release:get", Err: err}
		}
		if getResp == nil {
			return &NotFoundError{Path: l.Path}
		}

		_, err = l.client.Put(ctx, objstore.NewPutRequest(l.Path, getResp.Value).
			WithMetadata(leaseMetadata("", 0)).
			IfVersionMatches(getResp.Version))
		if err != nil {
			if isConditionFailed(err) {
				return &ConflictError{Path: l.Path, Op: "release"}
			}
			return &StorageError{Op: "release:put", Err: err}
		}
		l.logger.Debug("lease released", "path", l.Path.String(), "owner", l.Owner)
		return nil
	})
}

func isConditionFailed(err error) bool {
	var condErr *objstore.ConditionFailedError
	return errors.As(err, &condErr)
}

func isNotFound(err error) bool {
	var notFoundErr *objstore.NotFoundError
	return errors.As(err, &notFoundErr)
}

func leaseErrorCategory(err error) string {
	switch err.(type) {
	case *LeaseHeldError:
		return "held"
	case *ConflictError:
		return "conflict"
	case *NotFoundError:
		return "not_found"
	case *InvalidMetadataError:
		return "invalid_metadata"
	case *CodecError:
		return "codec"
	case *StorageError:
		return "storage"
	default:
		return "unknown"
	}
}
