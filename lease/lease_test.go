package lease_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynoinc/kanso/clock"
	"github.com/dynoinc/kanso/lease"
	"github.com/dynoinc/kanso/objstore"
	"github.com/dynoinc/kanso/objstore/inmemory"
)

type counter struct {
	Count int `json:"count"`
}

func TestAcquireOnFreshPathReturnsInit(t *testing.T) {
	store := inmemory.New()
	ctx := context.Background()
	path := objstore.MustNewPath("leases/fresh")

	l, value, err := lease.NewAcquireRequest(path, counter{Count: 0}, time.Minute).
		WithOwner("A").
		Execute(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, counter{Count: 0}, value)
	assert.Equal(t, "A", l.Owner)
}

func TestAcquireByOtherOwnerWhileAliveFailsWithLeaseHeld(t *testing.T) {
	store := inmemory.New()
	ctx := context.Background()
	path := objstore.MustNewPath("leases/held")

	_, _, err := lease.NewAcquireRequest(path, counter{}, time.Minute).WithOwner("A").Execute(ctx, store)
	require.NoError(t, err)

	_, _, err = lease.NewAcquireRequest(path, counter{}, time.Minute).WithOwner("B").Execute(ctx, store)
	require.Error(t, err)
	var heldErr *lease.LeaseHeldError
	require.ErrorAs(t, err, &heldErr)
	assert.Equal(t, "A", heldErr.Owner)
}

func TestAcquireBySameOwnerReturnsExistingValueNotInit(t *testing.T) {
	store := inmemory.New()
	ctx := context.Background()
	path := objstore.MustNewPath("leases/reacquire")

	l, _, err := lease.NewAcquireRequest(path, counter{Count: 0}, time.Minute).WithOwner("A").Execute(ctx, store)
	require.NoError(t, err)
	require.NoError(t, l.Update(ctx, counter{Count: 7}))

	_, value, err := lease.NewAcquireRequest(path, counter{Count: 999}, time.Minute).WithOwner("A").Execute(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, counter{Count: 7}, value)
}

func TestAcquireAfterExpirySucceedsForAnyCaller(t *testing.T) {
	store := inmemory.New()
	sc := clock.NewSimulatedClock(time.Unix(1000, 0))
	ctx := context.Background()
	path := objstore.MustNewPath("leases/expired")

	l, _, err := lease.NewAcquireRequest(path, counter{Count: 3}, time.Minute, lease.WithClock[counter](sc)).
		WithOwner("A").
		Execute(ctx, store)
	require.NoError(t, err)
	require.NoError(t, l.Update(ctx, counter{Count: 5}))

	sc.AdvanceTime(2 * time.Minute)

	l2, value, err := lease.NewAcquireRequest(path, counter{Count: 0}, time.Minute, lease.WithClock[counter](sc)).
		WithOwner("C").
		Execute(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, counter{Count: 5}, value)
	assert.Equal(t, "C", l2.Owner)
}

func TestUpdateThenReacquireBySameOwnerSeesNewValue(t *testing.T) {
	store := inmemory.New()
	ctx := context.Background()
	path := objstore.MustNewPath("leases/update-reacquire")

	l, _, err := lease.NewAcquireRequest(path, counter{Count: 0}, time.Minute).WithOwner("A").Execute(ctx, store)
	require.NoError(t, err)
	require.NoError(t, l.Update(ctx, counter{Count: 42}))

	_, value, err := lease.NewAcquireRequest(path, counter{}, time.Minute).WithOwner("A").Execute(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, counter{Count: 42}, value)
}

func TestReleaseThenAcquireByAnyOwnerDoesNotWaitForExpiry(t *testing.T) {
	store := inmemory.New()
	ctx := context.Background()
	path := objstore.MustNewPath("leases/release")

	l, _, err := lease.NewAcquireRequest(path, counter{Count: 1}, time.Hour).WithOwner("A").Execute(ctx, store)
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx))

	_, value, err := lease.NewAcquireRequest(path, counter{Count: 0}, time.Hour).WithOwner("B").Execute(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, counter{Count: 1}, value)
}

func TestRenewExtendsExpiryWithoutTouchingPayload(t *testing.T) {
	store := inmemory.New()
	sc := clock.NewSimulatedClock(time.Unix(1000, 0))
	ctx := context.Background()
	path := objstore.MustNewPath("leases/renew")

	l, _, err := lease.NewAcquireRequest(path, counter{Count: 9}, time.Minute, lease.WithClock[counter](sc)).
		WithOwner("A").
		Execute(ctx, store)
	require.NoError(t, err)

	sc.AdvanceTime(50 * time.Second)
	require.NoError(t, l.Renew(ctx))
	sc.AdvanceTime(50 * time.Second)

	_, _, err = lease.NewAcquireRequest(path, counter{}, time.Minute, lease.WithClock[counter](sc)).
		WithOwner("B").
		Execute(ctx, store)
	require.Error(t, err)
	var heldErr *lease.LeaseHeldError
	require.ErrorAs(t, err, &heldErr)

	got, err := store.Get(ctx, objstore.NewGetRequest(path))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"count":9}`, string(got.Value))
}

func TestUpdateFailsWithConflictWhenVersionMoved(t *testing.T) {
	store := inmemory.New()
	ctx := context.Background()
	path := objstore.MustNewPath("leases/conflict")

	l, _, err := lease.NewAcquireRequest(path, counter{Count: 0}, time.Minute).WithOwner("A").Execute(ctx, store)
	require.NoError(t, err)

	_, err = store.Put(ctx, objstore.NewPutRequest(path, []byte(`{"count":100}`)))
	require.NoError(t, err)

	err = l.Update(ctx, counter{Count: 1})
	require.Error(t, err)
	var conflictErr *lease.ConflictError
	require.ErrorAs(t, err, &conflictErr)
}

func TestReleaseReadsCurrentVersionSoItSucceedsEvenAfterExternalWrites(t *testing.T) {
	store := inmemory.New()
	ctx := context.Background()
	path := objstore.MustNewPath("leases/release-fresh-read")

	l, _, err := lease.NewAcquireRequest(path, counter{Count: 1}, time.Minute).WithOwner("A").Execute(ctx, store)
	require.NoError(t, err)
	_, err = store.Put(ctx, objstore.NewPutRequest(path, []byte(`{"count":2}`)))
	require.NoError(t, err)

	// Release re-reads the current version rather than trusting the
	// lease's last-observed version, so it succeeds even though l.Version
	// is now one write behind.
	require.NoError(t, l.Release(ctx))

	_, value, err := lease.NewAcquireRequest(path, counter{}, time.Minute).WithOwner("B").Execute(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, counter{Count: 2}, value)
}

// TestLeaseLifecycleScenario mirrors the full acquire/update/contend/
// reacquire/release/reacquire lifecycle end to end.
func TestLeaseLifecycleScenario(t *testing.T) {
	store := inmemory.New()
	ctx := context.Background()
	path := objstore.MustNewPath("leases/lifecycle")

	lA, value, err := lease.NewAcquireRequest(path, counter{Count: 0}, time.Minute).WithOwner("A").Execute(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, counter{Count: 0}, value)

	require.NoError(t, lA.Update(ctx, counter{Count: 1}))

	_, _, err = lease.NewAcquireRequest(path, counter{}, time.Minute).WithOwner("B").Execute(ctx, store)
	require.Error(t, err)
	var heldErr *lease.LeaseHeldError
	require.ErrorAs(t, err, &heldErr)

	lA2, value, err := lease.NewAcquireRequest(path, counter{}, time.Minute).WithOwner("A").Execute(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, counter{Count: 1}, value)

	require.NoError(t, lA2.Release(ctx))

	_, value, err = lease.NewAcquireRequest(path, counter{}, time.Minute).WithOwner("C").Execute(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, counter{Count: 1}, value)
}
