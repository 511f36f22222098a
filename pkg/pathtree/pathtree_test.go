package pathtree_test

import (
	"errors"
	"testing"
	"time"

	"github.com/sgaunet/s3browse/pkg/dto"
	"github.com/sgaunet/s3browse/pkg/events"
	"github.com/sgaunet/s3browse/pkg/pathtree"
)

func entry(key string) dto.ListingEntry {
	return dto.ListingEntry{Key: key}
}

func folder(prefix string) dto.ListingEntry {
	return dto.ListingEntry{Key: prefix, IsPrefix: true}
}

func TestGetCached_Miss(t *testing.T) {
	tree := pathtree.New(nil)
	snap, ok := tree.GetCached("r1", "a/")
	if ok {
		t.Fatal("expected cache miss")
	}
	if snap.State != dto.NotFetched {
		t.Errorf("Expected NotFetched, got %s", snap.State)
	}
}

func TestFetchLifecycle(t *testing.T) {
	tree := pathtree.New(nil)

	if !tree.BeginFetch("r1", "") {
		t.Fatal("BeginFetch should start a fetch")
	}
	if tree.BeginFetch("r1", "") {
		t.Fatal("second BeginFetch for the same key must report in-flight")
	}

	snap, ok := tree.GetCached("r1", "")
	if !ok || snap.State != dto.Fetching {
		t.Fatalf("Expected Fetching, got %s (ok=%v)", snap.State, ok)
	}

	tree.ApplyPage("r1", "", dto.ListingPage{
		Entries:     []dto.ListingEntry{folder("a/")},
		IsTruncated: true,
	})
	tree.ApplyPage("r1", "", dto.ListingPage{
		Entries: []dto.ListingEntry{entry("b.txt")},
	})

	// Pages stage in pending: the visible listing is still empty during
	// the first fetch.
	snap, _ = tree.GetCached("r1", "")
	if len(snap.Entries) != 0 {
		t.Errorf("Expected no visible entries mid-fetch, got %d", len(snap.Entries))
	}

	tree.CompleteFetch("r1", "", []dto.ListingEntry{folder("a/"), entry("b.txt")})
	snap, _ = tree.GetCached("r1", "")
	if snap.State != dto.Fresh {
		t.Errorf("Expected Fresh, got %s", snap.State)
	}
	if len(snap.Entries) != 2 {
		t.Errorf("Expected 2 entries, got %d", len(snap.Entries))
	}
	if snap.FetchedAt.IsZero() {
		t.Error("Fresh node must carry its fetch timestamp")
	}
}

func TestFailFetch_KeepsPreviousEntries(t *testing.T) {
	tree := pathtree.New(nil)
	tree.BeginFetch("r1", "a/")
	tree.CompleteFetch("r1", "a/", []dto.ListingEntry{entry("a/x.txt")})

	// Refetch fails before any page arrives: the old listing stays
	// visible with a failure indicator.
	tree.BeginFetch("r1", "a/")
	failure := errors.New("boom")
	tree.FailFetch("r1", "a/", failure)

	snap, _ := tree.GetCached("r1", "a/")
	if snap.State != dto.FetchFailed {
		t.Errorf("Expected FetchFailed, got %s", snap.State)
	}
	if !errors.Is(snap.Err, failure) {
		t.Error("snapshot must carry the failure")
	}
	if len(snap.Entries) != 1 || snap.Entries[0].Key != "a/x.txt" {
		t.Errorf("previous entries must stay visible, got %v", snap.Entries)
	}
}

func TestCancelFetch_KeepsPartialAndMarksStale(t *testing.T) {
	tree := pathtree.New(nil)
	tree.BeginFetch("r1", "")
	tree.ApplyPage("r1", "", dto.ListingPage{
		Entries:     []dto.ListingEntry{folder("a/")},
		IsTruncated: true,
	})
	tree.CancelFetch("r1", "")

	snap, _ := tree.GetCached("r1", "")
	if snap.State != dto.Stale {
		t.Errorf("Expected Stale after cancel, got %s", snap.State)
	}
	if len(snap.Entries) != 1 {
		t.Errorf("partial pages must stay cached, got %d entries", len(snap.Entries))
	}
}

func TestInvalidateSubtree(t *testing.T) {
	tree := pathtree.New(nil)
	for _, prefix := range []string{"", "a/", "a/b/", "c/"} {
		tree.BeginFetch("r1", prefix)
		tree.CompleteFetch("r1", prefix, nil)
	}
	tree.BeginFetch("r2", "a/")
	tree.CompleteFetch("r2", "a/", nil)

	tree.InvalidateSubtree("r1", "a/")

	for _, tc := range []struct {
		remote string
		prefix string
		want   dto.FetchState
	}{
		{"r1", "a/", dto.Stale},
		{"r1", "a/b/", dto.Stale},
		{"r1", "", dto.Fresh},
		{"r1", "c/", dto.Fresh},
		{"r2", "a/", dto.Fresh},
	} {
		snap, _ := tree.GetCached(tc.remote, tc.prefix)
		if snap.State != tc.want {
			t.Errorf("(%s,%q): expected %s, got %s", tc.remote, tc.prefix, tc.want, snap.State)
		}
	}
}

func TestClearRemote(t *testing.T) {
	tree := pathtree.New(nil)
	tree.BeginFetch("r1", "")
	tree.CompleteFetch("r1", "", []dto.ListingEntry{entry("b.txt")})
	tree.BeginFetch("r2", "")
	tree.CompleteFetch("r2", "", nil)

	tree.ClearRemote("r1")

	if _, ok := tree.GetCached("r1", ""); ok {
		t.Error("r1 must be purged")
	}
	if _, ok := tree.GetCached("r2", ""); !ok {
		t.Error("r2 must survive")
	}
	if tree.Len() != 1 {
		t.Errorf("Expected 1 node left, got %d", tree.Len())
	}
}

func TestSnapshotIsolation(t *testing.T) {
	tree := pathtree.New(nil)
	tree.BeginFetch("r1", "")
	tree.CompleteFetch("r1", "", []dto.ListingEntry{entry("b.txt")})

	snap, _ := tree.GetCached("r1", "")
	snap.Entries[0].Key = "mutated"

	again, _ := tree.GetCached("r1", "")
	if again.Entries[0].Key != "b.txt" {
		t.Error("mutating a snapshot must not affect the tree")
	}
}

func TestStaleSweep(t *testing.T) {
	tree := pathtree.New(nil)
	tree.BeginFetch("r1", "")
	tree.CompleteFetch("r1", "", nil)

	if n := tree.StaleSweep(time.Hour); n != 0 {
		t.Errorf("fresh node within TTL must not be swept, got %d", n)
	}
	if n := tree.StaleSweep(0); n != 1 {
		t.Errorf("Expected 1 swept node, got %d", n)
	}
	snap, _ := tree.GetCached("r1", "")
	if snap.State != dto.Stale {
		t.Errorf("Expected Stale after sweep, got %s", snap.State)
	}
}

func TestEventsPublished(t *testing.T) {
	bc := events.NewBroadcaster()
	tree := pathtree.New(bc)
	ch := bc.Subscribe()
	defer bc.Unsubscribe(ch)

	tree.BeginFetch("r1", "a/")
	tree.CompleteFetch("r1", "a/", nil)
	tree.Invalidate("r1", "a/")

	ev := <-ch
	if ev.Kind != dto.ListingUpdated || ev.Remote != "r1" || ev.Prefix != "a/" {
		t.Errorf("unexpected first event %+v", ev)
	}
	ev = <-ch
	if ev.Kind != dto.ListingInvalidated {
		t.Errorf("Expected invalidation event, got %+v", ev)
	}
}
