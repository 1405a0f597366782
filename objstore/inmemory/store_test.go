package inmemory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynoinc/kanso/objstore"
)

func TestGetMissingReturnsNilResponse(t *testing.T) {
	s := New()
	resp, err := s.Get(context.Background(), objstore.NewGetRequest(objstore.MustNewPath("a/b")))
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestPutThenGetRoundTripsValueAndMetadata(t *testing.T) {
	s := New()
	ctx := context.Background()
	path := objstore.MustNewPath("config/app")

	putResp, err := s.Put(ctx, objstore.NewPutRequest(path, []byte("hello")).WithMetadata(objstore.With("owner", "alice")))
	require.NoError(t, err)
	assert.False(t, putResp.Version.IsZero())

	getResp, err := s.Get(ctx, objstore.NewGetRequest(path))
	require.NoError(t, err)
	require.NotNil(t, getResp)
	assert.Equal(t, []byte("hello"), getResp.Value)
	assert.True(t, getResp.Version.Equal(putResp.Version))
	v, ok := getResp.Metadata.Get("owner")
	assert.True(t, ok)
	assert.Equal(t, "alice", v)
}

func TestPutIfAbsentFailsWhenObjectExists(t *testing.T) {
	s := New()
	ctx := context.Background()
	path := objstore.MustNewPath("lock")

	_, err := s.Put(ctx, objstore.NewPutRequest(path, []byte("1")).IfAbsent())
	require.NoError(t, err)

	_, err = s.Put(ctx, objstore.NewPutRequest(path, []byte("2")).IfAbsent())
	require.Error(t, err)
	var condErr *objstore.ConditionFailedError
	require.ErrorAs(t, err, &condErr)

	got, err := s.Get(ctx, objstore.NewGetRequest(path))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got.Value)
}

func TestPutIfVersionMatchesChain(t *testing.T) {
	s := New()
	ctx := context.Background()
	path := objstore.MustNewPath("counter")

	v1, err := s.Put(ctx, objstore.NewPutRequest(path, []byte("1")).IfAbsent())
	require.NoError(t, err)

	v2, err := s.Put(ctx, objstore.NewPutRequest(path, []byte("2")).IfVersionMatches(v1.Version))
	require.NoError(t, err)
	assert.False(t, v2.Version.Equal(v1.Version))

	_, err = s.Put(ctx, objstore.NewPutRequest(path, []byte("3")).IfVersionMatches(v1.Version))
	require.Error(t, err)
	var condErr *objstore.ConditionFailedError
	require.ErrorAs(t, err, &condErr)

	v3, err := s.Put(ctx, objstore.NewPutRequest(path, []byte("3")).IfVersionMatches(v2.Version))
	require.NoError(t, err)
	assert.False(t, v3.Version.Equal(v2.Version))
}

func TestPatchPreservesValueBytes(t *testing.T) {
	s := New()
	ctx := context.Background()
	path := objstore.MustNewPath("doc")

	putResp, err := s.Put(ctx, objstore.NewPutRequest(path, []byte("payload")))
	require.NoError(t, err)

	patchResp, err := s.Patch(ctx, objstore.NewPatchRequest(path, objstore.With("stage", "reviewed")))
	require.NoError(t, err)
	assert.False(t, patchResp.Version.Equal(putResp.Version))

	got, err := s.Get(ctx, objstore.NewGetRequest(path))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got.Value)
	v, ok := got.Metadata.Get("stage")
	assert.True(t, ok)
	assert.Equal(t, "reviewed", v)
}

func TestPatchMissingReturnsNotFound(t *testing.T) {
	s := New()
	_, err := s.Patch(context.Background(), objstore.NewPatchRequest(objstore.MustNewPath("missing"), objstore.NewMetadata()))
	require.Error(t, err)
	var notFound *objstore.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestPatchIfVersionMatchesFailsOnStaleVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	path := objstore.MustNewPath("doc2")

	putResp, err := s.Put(ctx, objstore.NewPutRequest(path, []byte("x")))
	require.NoError(t, err)

	_, err = s.Patch(ctx, objstore.NewPatchRequest(path, objstore.With("a", "b")))
	require.NoError(t, err)

	_, err = s.Patch(ctx, objstore.NewPatchRequest(path, objstore.With("a", "c")).IfVersionMatches(putResp.Version))
	require.Error(t, err)
	var condErr *objstore.ConditionFailedError
	require.ErrorAs(t, err, &condErr)
}

// TestConcurrentIfVersionMatchesExactlyOneWinner exercises atomicity: of N
// goroutines racing to write under the same starting version, exactly one
// must succeed and the rest must see ConditionFailedError.
func TestConcurrentIfVersionMatchesExactlyOneWinner(t *testing.T) {
	s := New()
	ctx := context.Background()
	path := objstore.MustNewPath("race")

	initial, err := s.Put(ctx, objstore.NewPutRequest(path, []byte("0")).IfAbsent())
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	var successes sync.Map
	results := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Put(ctx, objstore.NewPutRequest(path, []byte("contender")).IfVersionMatches(initial.Version))
			results[i] = err
			if err == nil {
				successes.Store(i, true)
			}
		}(i)
	}
	wg.Wait()

	successCount := 0
	for _, err := range results {
		if err == nil {
			successCount++
			continue
		}
		var condErr *objstore.ConditionFailedError
		assert.ErrorAs(t, err, &condErr)
	}
	assert.Equal(t, 1, successCount)
}

func TestGetReturnsIndependentCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	path := objstore.MustNewPath("mutable")

	_, err := s.Put(ctx, objstore.NewPutRequest(path, []byte("original")))
	require.NoError(t, err)

	got, err := s.Get(ctx, objstore.NewGetRequest(path))
	require.NoError(t, err)
	got.Value[0] = 'X'

	got2, err := s.Get(ctx, objstore.NewGetRequest(path))
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got2.Value)
}

func TestContextCanceledBeforeCall(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, objstore.NewGetRequest(objstore.MustNewPath("a")))
	require.Error(t, err)

	_, err = s.Put(ctx, objstore.NewPutRequest(objstore.MustNewPath("a"), []byte("x")))
	require.Error(t, err)

	_, err = s.Patch(ctx, objstore.NewPatchRequest(objstore.MustNewPath("a"), objstore.NewMetadata()))
	require.Error(t, err)
}
