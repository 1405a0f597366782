// Package objstoretest provides a backend-agnostic compliance suite for
// objstore.Client implementations. Any backend that passes Run satisfies
// the contract's atomicity, conditional-write, and error semantics.
package objstoretest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/dynoinc/kanso/objstore"
)

// Run executes the compliance suite against client, scoping every path
// it writes under prefix so the suite can share a backend instance (or
// bucket) with other tests without colliding.
func Run(t *testing.T, client objstore.Client, prefix string) {
	s := &ComplianceSuite{client: client, prefix: prefix}
	suite.Run(t, s)
}

// ComplianceSuite exercises the storage contract's invariants and
// scenarios against the Client that Run configures. Backends call Run.
type ComplianceSuite struct {
	suite.Suite

	client objstore.Client
	prefix string
	ctx    context.Context
	seq    int
}

// path returns a fresh path scoped to the suite's prefix, unique within
// the suite run.
func (s *ComplianceSuite) path(name string) objstore.Path {
	s.seq++
	return objstore.MustNewPath(fmt.Sprintf("%s/%04d-%s", s.prefix, s.seq, name))
}

func (s *ComplianceSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *ComplianceSuite) TestGetOnMissingPathReturnsNilResponse() {
	resp, err := s.client.Get(s.ctx, objstore.NewGetRequest(s.path("missing")))
	s.Require().NoError(err)
	s.Nil(resp)
}

func (s *ComplianceSuite) TestPutThenGetRoundTrips() {
	path := s.path("roundtrip")
	meta := objstore.With("content-type", "text/plain")

	putResp, err := s.client.Put(s.ctx, objstore.NewPutRequest(path, []byte("payload")).WithMetadata(meta))
	s.Require().NoError(err)
	s.False(putResp.Version.IsZero())

	getResp, err := s.client.Get(s.ctx, objstore.NewGetRequest(path))
	s.Require().NoError(err)
	s.Require().NotNil(getResp)
	s.Equal([]byte("payload"), getResp.Value)
	s.True(getResp.Version.Equal(putResp.Version))
	v, ok := getResp.Metadata.Get("content-type")
	s.True(ok)
	s.Equal("text/plain", v)
}

func (s *ComplianceSuite) TestPutWithoutMetadataLeavesItEmpty() {
	path := s.path("nometa")
	_, err := s.client.Put(s.ctx, objstore.NewPutRequest(path, []byte("x")))
	s.Require().NoError(err)

	getResp, err := s.client.Get(s.ctx, objstore.NewGetRequest(path))
	s.Require().NoError(err)
	s.Require().NotNil(getResp)
	_, ok := getResp.Metadata.Get("anything")
	s.False(ok)
}

func (s *ComplianceSuite) TestPutIfAbsentSucceedsOnceThenConflicts() {
	path := s.path("if-absent")

	first, err := s.client.Put(s.ctx, objstore.NewPutRequest(path, []byte("1")).IfAbsent())
	s.Require().NoError(err)

	_, err = s.client.Put(s.ctx, objstore.NewPutRequest(path, []byte("2")).IfAbsent())
	s.Require().Error(err)
	var condErr *objstore.ConditionFailedError
	s.Require().ErrorAs(err, &condErr)

	getResp, err := s.client.Get(s.ctx, objstore.NewGetRequest(path))
	s.Require().NoError(err)
	s.Equal([]byte("1"), getResp.Value)
	s.True(getResp.Version.Equal(first.Version))
}

func (s *ComplianceSuite) TestPutIfVersionMatchesChainOfWrites() {
	path := s.path("cas-chain")

	v1, err := s.client.Put(s.ctx, objstore.NewPutRequest(path, []byte("a")).IfAbsent())
	s.Require().NoError(err)

	v2, err := s.client.Put(s.ctx, objstore.NewPutRequest(path, []byte("b")).IfVersionMatches(v1.Version))
	s.Require().NoError(err)
	s.False(v2.Version.Equal(v1.Version))

	_, err = s.client.Put(s.ctx, objstore.NewPutRequest(path, []byte("c")).IfVersionMatches(v1.Version))
	s.Require().Error(err)
	var condErr *objstore.ConditionFailedError
	s.Require().ErrorAs(err, &condErr)

	v3, err := s.client.Put(s.ctx, objstore.NewPutRequest(path, []byte("c")).IfVersionMatches(v2.Version))
	s.Require().NoError(err)

	getResp, err := s.client.Get(s.ctx, objstore.NewGetRequest(path))
	s.Require().NoError(err)
	s.Equal([]byte("c"), getResp.Value)
	s.True(getResp.Version.Equal(v3.Version))
}

func (s *ComplianceSuite) TestPutIfVersionMatchesFailsAgainstMissingPath() {
	path := s.path("cas-missing")
	bogus := objstore.NewVersion("does-not-exist")

	_, err := s.client.Put(s.ctx, objstore.NewPutRequest(path, []byte("x")).IfVersionMatches(bogus))
	s.Require().Error(err)
	var condErr *objstore.ConditionFailedError
	s.Require().ErrorAs(err, &condErr)
}

func (s *ComplianceSuite) TestPatchPreservesValueBytes() {
	path := s.path("patch-preserve")

	putResp, err := s.client.Put(s.ctx, objstore.NewPutRequest(path, []byte("stable-bytes")))
	s.Require().NoError(err)

	patchResp, err := s.client.Patch(s.ctx, objstore.NewPatchRequest(path, objstore.With("k", "v")))
	s.Require().NoError(err)
	s.False(patchResp.Version.Equal(putResp.Version))

	getResp, err := s.client.Get(s.ctx, objstore.NewGetRequest(path))
	s.Require().NoError(err)
	s.Equal([]byte("stable-bytes"), getResp.Value)
	v, ok := getResp.Metadata.Get("k")
	s.True(ok)
	s.Equal("v", v)
}

func (s *ComplianceSuite) TestPatchReplacesMetadataWhollyNotMerged() {
	path := s.path("patch-replace")

	_, err := s.client.Put(s.ctx, objstore.NewPutRequest(path, []byte("x")).WithMetadata(objstore.With("old", "keepme")))
	s.Require().NoError(err)

	_, err = s.client.Patch(s.ctx, objstore.NewPatchRequest(path, objstore.With("new", "only")))
	s.Require().NoError(err)

	getResp, err := s.client.Get(s.ctx, objstore.NewGetRequest(path))
	s.Require().NoError(err)
	_, hasOld := getResp.Metadata.Get("old")
	s.False(hasOld)
	v, hasNew := getResp.Metadata.Get("new")
	s.True(hasNew)
	s.Equal("only", v)
}

func (s *ComplianceSuite) TestPatchOnMissingPathFails() {
	path := s.path("patch-missing")
	_, err := s.client.Patch(s.ctx, objstore.NewPatchRequest(path, objstore.NewMetadata()))
	s.Require().Error(err)
	var notFound *objstore.NotFoundError
	s.Require().ErrorAs(err, &notFound)
}

func (s *ComplianceSuite) TestPatchIfVersionMatchesRejectsStaleVersion() {
	path := s.path("patch-cas")

	v1, err := s.client.Put(s.ctx, objstore.NewPutRequest(path, []byte("x")))
	s.Require().NoError(err)

	_, err = s.client.Patch(s.ctx, objstore.NewPatchRequest(path, objstore.With("a", "1")))
	s.Require().NoError(err)

	_, err = s.client.Patch(s.ctx, objstore.NewPatchRequest(path, objstore.With("a", "2")).IfVersionMatches(v1.Version))
	s.Require().Error(err)
	var condErr *objstore.ConditionFailedError
	s.Require().ErrorAs(err, &condErr)
}

// TestConcurrentIfVersionMatchesHasExactlyOneWinner exercises the
// contract's central atomicity guarantee: of N concurrent conditional
// writes racing against the same starting version, exactly one may
// succeed.
func (s *ComplianceSuite) TestConcurrentIfVersionMatchesHasExactlyOneWinner() {
	path := s.path("race")

	initial, err := s.client.Put(s.ctx, objstore.NewPutRequest(path, []byte("0")).IfAbsent())
	s.Require().NoError(err)

	const n = 25
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.client.Put(s.ctx, objstore.NewPutRequest(path, []byte("contender")).IfVersionMatches(initial.Version))
			results[i] = err
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		var condErr *objstore.ConditionFailedError
		s.ErrorAs(err, &condErr)
	}
	s.Equal(1, successes)
}

func (s *ComplianceSuite) TestOverwriteUnconditionalPutIgnoresPriorState() {
	path := s.path("overwrite")

	_, err := s.client.Put(s.ctx, objstore.NewPutRequest(path, []byte("first")))
	s.Require().NoError(err)

	second, err := s.client.Put(s.ctx, objstore.NewPutRequest(path, []byte("second")))
	s.Require().NoError(err)

	getResp, err := s.client.Get(s.ctx, objstore.NewGetRequest(path))
	s.Require().NoError(err)
	s.Equal([]byte("second"), getResp.Value)
	s.True(getResp.Version.Equal(second.Version))
}
