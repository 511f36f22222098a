package coordinator_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgaunet/s3browse/pkg/coordinator"
	"github.com/sgaunet/s3browse/pkg/dto"
	"github.com/sgaunet/s3browse/pkg/pathtree"
	"github.com/sgaunet/s3browse/pkg/s3client"
)

type pageResult struct {
	page dto.ListingPage
	err  error
}

// fakeListingClient serves scripted pages per prefix and counts calls.
// An optional gate makes each page wait for a tick so tests can hold a
// fetch in flight.
type fakeListingClient struct {
	mu      sync.Mutex
	scripts map[string][]pageResult
	calls   map[string]int
	gate    chan struct{}
}

func newFakeListingClient() *fakeListingClient {
	return &fakeListingClient{
		scripts: make(map[string][]pageResult),
		calls:   make(map[string]int),
	}
}

func (f *fakeListingClient) ListObjectsPage(ctx context.Context, prefix, delimiter, token string) (dto.ListingPage, error) {
	if f.gate != nil {
		select {
		case <-ctx.Done():
			return dto.ListingPage{}, &s3client.Error{Kind: s3client.KindCancelled, Op: "ListObjectsPage", Err: ctx.Err()}
		case <-f.gate:
		}
	}
	f.mu.Lock()
	idx := f.calls[prefix]
	f.calls[prefix]++
	script := f.scripts[prefix]
	f.mu.Unlock()

	if idx >= len(script) {
		return dto.ListingPage{}, fmt.Errorf("no scripted page %d for prefix %q", idx, prefix)
	}
	return script[idx].page, script[idx].err
}

func (f *fakeListingClient) callCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[prefix]
}

func clientFunc(f *fakeListingClient) coordinator.ClientFunc {
	return func(ctx context.Context, remote string) (coordinator.ListingClient, error) {
		return f, nil
	}
}

func obj(key string, size int64) dto.ListingEntry {
	return dto.ListingEntry{Key: key, Size: size}
}

func vfolder(prefix string) dto.ListingEntry {
	return dto.ListingEntry{Key: prefix, IsPrefix: true}
}

func TestRequestListing_SinglePage(t *testing.T) {
	fake := newFakeListingClient()
	fake.scripts[""] = []pageResult{
		{page: dto.ListingPage{Entries: []dto.ListingEntry{vfolder("a/"), obj("b.txt", 3)}}},
	}
	tree := pathtree.New(nil)
	coord := coordinator.New(clientFunc(fake), tree)

	h, err := coord.RequestListing(context.Background(), "r1", "")
	require.NoError(t, err)
	require.NoError(t, h.Wait(context.Background()))

	snap, ok := tree.GetCached("r1", "")
	require.True(t, ok)
	assert.Equal(t, dto.Fresh, snap.State)
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, "a/", snap.Entries[0].Key)
	assert.True(t, snap.Entries[0].IsPrefix)
	assert.Equal(t, "b.txt", snap.Entries[1].Key)
}

func TestRequestListing_Pagination(t *testing.T) {
	fake := newFakeListingClient()
	fake.scripts["a/"] = []pageResult{
		{page: dto.ListingPage{
			Entries:               []dto.ListingEntry{obj("a/x.txt", 1)},
			NextContinuationToken: "t1",
			IsTruncated:           true,
		}},
		{page: dto.ListingPage{
			Entries:               []dto.ListingEntry{obj("a/y.txt", 2)},
			NextContinuationToken: "t2",
			IsTruncated:           true,
		}},
		{page: dto.ListingPage{
			Entries: []dto.ListingEntry{obj("a/z.txt", 3)},
		}},
	}
	tree := pathtree.New(nil)
	coord := coordinator.New(clientFunc(fake), tree)

	h, err := coord.RequestListing(context.Background(), "r1", "a/")
	require.NoError(t, err)
	require.NoError(t, h.Wait(context.Background()))

	assert.Equal(t, 3, fake.callCount("a/"), "each page fetched exactly once")

	snap, _ := tree.GetCached("r1", "a/")
	assert.Equal(t, dto.Fresh, snap.State)
	keys := make([]string, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"a/x.txt", "a/y.txt", "a/z.txt"}, keys,
		"entries preserve page arrival order")
}

func TestRequestListing_Dedup(t *testing.T) {
	fake := newFakeListingClient()
	fake.gate = make(chan struct{})
	fake.scripts[""] = []pageResult{
		{page: dto.ListingPage{Entries: []dto.ListingEntry{obj("b.txt", 1)}}},
	}
	tree := pathtree.New(nil)
	coord := coordinator.New(clientFunc(fake), tree)

	h1, err := coord.RequestListing(context.Background(), "r1", "")
	require.NoError(t, err)
	h2, err := coord.RequestListing(context.Background(), "r1", "")
	require.NoError(t, err)
	assert.Same(t, h1, h2, "concurrent requesters share one handle")

	fake.gate <- struct{}{}
	require.NoError(t, h1.Wait(context.Background()))
	require.NoError(t, h2.Wait(context.Background()))

	assert.Equal(t, 1, fake.callCount(""), "exactly one network fetch sequence")

	// The fetch finished, so a new request starts a fresh sequence.
	h3, err := coord.RequestListing(context.Background(), "r1", "")
	require.NoError(t, err)
	assert.NotSame(t, h1, h3)
	fake.gate <- struct{}{}
	_ = h3.Wait(context.Background())
}

func TestRequestListing_PartialFailure(t *testing.T) {
	fake := newFakeListingClient()
	transient := &s3client.Error{Kind: s3client.KindTransient, Op: "ListObjectsPage", Err: errors.New("503")}
	fake.scripts[""] = []pageResult{
		{page: dto.ListingPage{
			Entries:               []dto.ListingEntry{obj("b.txt", 1)},
			NextContinuationToken: "t1",
			IsTruncated:           true,
		}},
		{err: transient},
	}
	tree := pathtree.New(nil)
	coord := coordinator.New(clientFunc(fake), tree)

	h, err := coord.RequestListing(context.Background(), "r1", "")
	require.NoError(t, err)
	err = h.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, s3client.KindPartialFailure, s3client.KindOf(err),
		"a failure after applied pages is a partial failure")

	snap, _ := tree.GetCached("r1", "")
	assert.Equal(t, dto.FetchFailed, snap.State, "node must not be Fresh")
	assert.Len(t, snap.Entries, 1, "applied pages stay visible")

	// The failed node is refetched on next access.
	fake.mu.Lock()
	fake.scripts[""] = []pageResult{
		{page: dto.ListingPage{Entries: []dto.ListingEntry{obj("b.txt", 1)}}},
	}
	fake.calls[""] = 0
	fake.mu.Unlock()

	h, err = coord.RequestListing(context.Background(), "r1", "")
	require.NoError(t, err)
	require.NoError(t, h.Wait(context.Background()))
	snap, _ = tree.GetCached("r1", "")
	assert.Equal(t, dto.Fresh, snap.State)
}

func TestRequestListing_Cancel(t *testing.T) {
	fake := newFakeListingClient()
	fake.gate = make(chan struct{})
	fake.scripts[""] = []pageResult{
		{page: dto.ListingPage{
			Entries:               []dto.ListingEntry{vfolder("a/")},
			NextContinuationToken: "t1",
			IsTruncated:           true,
		}},
		{page: dto.ListingPage{Entries: []dto.ListingEntry{obj("b.txt", 1)}}},
	}
	tree := pathtree.New(nil)
	coord := coordinator.New(clientFunc(fake), tree)

	h, err := coord.RequestListing(context.Background(), "r1", "")
	require.NoError(t, err)

	// Serve the first page, then cancel while the second is pending. The
	// gate handshake guarantees page one is applied before the second
	// page call blocks.
	fake.gate <- struct{}{}
	h.Cancel()

	err = h.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, s3client.KindCancelled, s3client.KindOf(err))

	snap, _ := tree.GetCached("r1", "")
	assert.Equal(t, dto.Stale, snap.State, "cancelled listing is non-Fresh")
	assert.Len(t, snap.Entries, 1, "already-applied pages stay cached")
}

func TestRequestListing_TieBreak(t *testing.T) {
	fake := newFakeListingClient()
	fake.scripts[""] = []pageResult{
		{page: dto.ListingPage{
			Entries: []dto.ListingEntry{vfolder("data/"), obj("data", 9), obj("other.txt", 1)},
		}},
	}
	tree := pathtree.New(nil)
	coord := coordinator.New(clientFunc(fake), tree)

	h, err := coord.RequestListing(context.Background(), "r1", "")
	require.NoError(t, err)
	require.NoError(t, h.Wait(context.Background()))

	snap, _ := tree.GetCached("r1", "")
	require.Len(t, snap.Entries, 3)
	assert.True(t, snap.Entries[0].IsPrefix)
	assert.Equal(t, "data", snap.Entries[1].Key)
	assert.True(t, snap.Entries[1].AlsoPrefix, "colliding object carries the also-a-prefix flag")
	assert.False(t, snap.Entries[2].AlsoPrefix)
}

// Browsing scenario from a bucket holding a/x.txt, a/y.txt and b.txt.
func TestBrowseScenario(t *testing.T) {
	fake := newFakeListingClient()
	fake.scripts[""] = []pageResult{
		{page: dto.ListingPage{Entries: []dto.ListingEntry{vfolder("a/"), obj("b.txt", 5)}}},
	}
	fake.scripts["a/"] = []pageResult{
		{page: dto.ListingPage{Entries: []dto.ListingEntry{obj("a/x.txt", 1), obj("a/y.txt", 2)}}},
	}
	tree := pathtree.New(nil)
	coord := coordinator.New(clientFunc(fake), tree)

	h, err := coord.RequestListing(context.Background(), "r1", "")
	require.NoError(t, err)
	require.NoError(t, h.Wait(context.Background()))

	snap, _ := tree.GetCached("r1", "")
	require.Len(t, snap.Entries, 2)
	assert.True(t, snap.Entries[0].IsPrefix)
	assert.Equal(t, "a/", snap.Entries[0].Key)
	assert.Equal(t, "a", snap.Entries[0].Name(""))
	assert.Equal(t, "b.txt", snap.Entries[1].Key)

	h, err = coord.RequestListing(context.Background(), "r1", "a/")
	require.NoError(t, err)
	require.NoError(t, h.Wait(context.Background()))

	snap, _ = tree.GetCached("r1", "a/")
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, "a/x.txt", snap.Entries[0].Key)
	assert.Equal(t, "x.txt", snap.Entries[0].Name("a/"))
	assert.Equal(t, "a/y.txt", snap.Entries[1].Key)
}

func TestWait_CallerContextDoesNotCancelFetch(t *testing.T) {
	fake := newFakeListingClient()
	fake.gate = make(chan struct{})
	fake.scripts[""] = []pageResult{
		{page: dto.ListingPage{Entries: []dto.ListingEntry{obj("b.txt", 1)}}},
	}
	tree := pathtree.New(nil)
	coord := coordinator.New(clientFunc(fake), tree)

	h, err := coord.RequestListing(context.Background(), "r1", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.Wait(ctx), context.Canceled, "Wait honors the caller context")

	// The shared fetch is still running and completes normally.
	fake.gate <- struct{}{}
	require.NoError(t, h.Wait(context.Background()))
	snap, _ := tree.GetCached("r1", "")
	assert.Equal(t, dto.Fresh, snap.State)
}
