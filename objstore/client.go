package objstore

import "context"

// Client is the capability contract any conforming backend implements.
// Implementations must provide atomic, linearizable-per-path operations
// with the error semantics documented on each method; the InMemory
// backend is the normative reference.
//
// A Client is freely shareable across goroutines.
type Client interface {
	// Get returns the current triple at req.Path, or a nil response if
	// no object exists there. It fails with *OtherError on transport
	// failures; it never returns *NotFoundError.
	Get(ctx context.Context, req GetRequest) (*GetResponse, error)

	// Put writes a new value and replaces metadata wholly, subject to
	// req.Condition. It fails with *ConditionFailedError if the
	// precondition was not met, leaving state unchanged.
	Put(ctx context.Context, req PutRequest) (PutResponse, error)

	// Patch replaces an object's metadata without touching its value
	// bytes, subject to req.Condition. It fails with *NotFoundError if
	// the object does not exist, or *ConditionFailedError if the
	// precondition was not met.
	Patch(ctx context.Context, req PatchRequest) (PatchResponse, error)
}
