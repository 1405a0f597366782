package lease

import (
	"fmt"

	"github.com/dynoinc/kanso/objstore"
)

// LeaseHeldError is returned by Acquire when a live lease is held by a
// different owner. Retry after Expiry.
type LeaseHeldError struct {
	Path   objstore.Path
	Owner  string
	Expiry int64
}

func (e *LeaseHeldError) Error() string {
	return fmt.Sprintf("lease: %s is held by %q until unix %d", e.Path, e.Owner, e.Expiry)
}

// ConflictError is returned when a conditional write lost a race against
// another writer moving the version. The caller should reacquire or
// refetch.
type ConflictError struct {
	Path objstore.Path
	Op   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("lease: %s on %s: version moved under us", e.Op, e.Path)
}

// NotFoundError is returned when the leased path disappeared under the
// caller, e.g. a Release racing a concurrent deletion outside the lease
// protocol.
type NotFoundError struct {
	Path objstore.Path
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("lease: %s not found", e.Path)
}

// InvalidMetadataError is returned when an existing object is missing
// one of the two reserved lease metadata keys, or its expiry is not a
// decimal integer.
type InvalidMetadataError struct {
	Path   objstore.Path
	Reason string
}

func (e *InvalidMetadataError) Error() string {
	return fmt.Sprintf("lease: %s has invalid lease metadata: %s", e.Path, e.Reason)
}

// StorageError wraps a storage-layer error for which the lease layer has
// no more specific mapping.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("lease: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// CodecError wraps a payload serialization or deserialization failure.
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("lease: %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}
