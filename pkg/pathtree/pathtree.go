// Package pathtree is the in-memory listing cache keyed by
// (remote, prefix). It owns all nodes; readers only ever receive copied
// snapshots and all writes come from the listing coordinator.
package pathtree

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sgaunet/s3browse/pkg/dto"
	"github.com/sgaunet/s3browse/pkg/events"
)

type nodeKey struct {
	remote string
	prefix string
}

// node is one cached prefix. entries is the visible listing; pending
// accumulates pages of an in-flight fetch so readers keep seeing the
// previous listing until the fetch completes.
type node struct {
	entries           []dto.ListingEntry
	pending           []dto.ListingEntry
	state             dto.FetchState
	fetchedAt         time.Time
	continuationToken string
	err               error
}

// Tree is the cache store.
type Tree struct {
	mu    sync.RWMutex
	nodes map[nodeKey]*node
	bc    *events.Broadcaster
	log   *slog.Logger
}

// New creates an empty tree. The broadcaster may be nil when nothing
// subscribes to change notifications.
func New(bc *events.Broadcaster) *Tree {
	return &Tree{
		nodes: make(map[nodeKey]*node),
		bc:    bc,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger sets the logger.
func (t *Tree) SetLogger(log *slog.Logger) {
	t.log = log
}

func (t *Tree) publish(kind dto.EventKind, remote, prefix string) {
	if t.bc != nil {
		t.bc.Publish(dto.Event{Kind: kind, Remote: remote, Prefix: prefix})
	}
}

// GetCached returns an immutable snapshot of the node, if any. Never
// triggers network activity.
func (t *Tree) GetCached(remote, prefix string) (dto.Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[nodeKey{remote, prefix}]
	if !ok {
		return dto.Snapshot{Remote: remote, Prefix: prefix, State: dto.NotFetched}, false
	}
	return dto.Snapshot{
		Remote:    remote,
		Prefix:    prefix,
		Entries:   append([]dto.ListingEntry(nil), n.entries...),
		State:     n.state,
		FetchedAt: n.fetchedAt,
		Err:       n.err,
	}, true
}

// BeginFetch transitions the node to Fetching and resets its staging
// area. It returns false when a fetch is already in flight for the key.
func (t *Tree) BeginFetch(remote, prefix string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := nodeKey{remote, prefix}
	n, ok := t.nodes[key]
	if !ok {
		n = &node{}
		t.nodes[key] = n
	}
	if n.state == dto.Fetching {
		return false
	}
	n.state = dto.Fetching
	n.pending = nil
	n.continuationToken = ""
	n.err = nil
	return true
}

// ApplyPage appends one fetched page to the node's staging area. Invoked
// only by the listing coordinator, in page arrival order.
func (t *Tree) ApplyPage(remote, prefix string, page dto.ListingPage) {
	t.mu.Lock()
	n, ok := t.nodes[nodeKey{remote, prefix}]
	if ok && n.state == dto.Fetching {
		n.pending = append(n.pending, page.Entries...)
		n.continuationToken = page.NextContinuationToken
	}
	t.mu.Unlock()
	if ok {
		t.publish(dto.ListingUpdated, remote, prefix)
	}
}

// CompleteFetch replaces the visible listing with the merged entries and
// marks the node Fresh.
func (t *Tree) CompleteFetch(remote, prefix string, entries []dto.ListingEntry) {
	t.mu.Lock()
	n, ok := t.nodes[nodeKey{remote, prefix}]
	if ok {
		n.entries = entries
		n.pending = nil
		n.state = dto.Fresh
		n.fetchedAt = time.Now()
		n.continuationToken = ""
		n.err = nil
	}
	t.mu.Unlock()
	if ok {
		t.log.Debug("listing fresh",
			slog.String("remote", remote),
			slog.String("prefix", prefix),
			slog.Int("entries", len(entries)))
		t.publish(dto.ListingUpdated, remote, prefix)
	}
}

// FailFetch records a fetch failure. Pages applied before the failure stay
// cached so the view is not blanked, but the node is not Fresh and the
// next request refetches.
func (t *Tree) FailFetch(remote, prefix string, err error) {
	t.mu.Lock()
	n, ok := t.nodes[nodeKey{remote, prefix}]
	if ok {
		if len(n.pending) > 0 {
			n.entries = n.pending
			n.pending = nil
		}
		n.state = dto.FetchFailed
		n.err = err
		n.continuationToken = ""
	}
	t.mu.Unlock()
	if ok {
		t.publish(dto.ListingUpdated, remote, prefix)
	}
}

// CancelFetch stops an in-flight fetch. Already-applied pages stay cached;
// the node is marked Stale so a full listing is refetched when needed.
func (t *Tree) CancelFetch(remote, prefix string) {
	t.mu.Lock()
	n, ok := t.nodes[nodeKey{remote, prefix}]
	if ok && n.state == dto.Fetching {
		if len(n.pending) > 0 {
			n.entries = n.pending
			n.pending = nil
		}
		n.state = dto.Stale
		n.continuationToken = ""
	}
	t.mu.Unlock()
	if ok {
		t.publish(dto.ListingInvalidated, remote, prefix)
	}
}

// Invalidate marks one node Stale.
func (t *Tree) Invalidate(remote, prefix string) {
	t.mu.Lock()
	n, ok := t.nodes[nodeKey{remote, prefix}]
	if ok && n.state != dto.Fetching {
		n.state = dto.Stale
	}
	t.mu.Unlock()
	if ok {
		t.publish(dto.ListingInvalidated, remote, prefix)
	}
}

// InvalidateSubtree marks the node and every currently cached descendant
// Stale. It does not traverse the remote store.
func (t *Tree) InvalidateSubtree(remote, prefix string) {
	var touched []string
	t.mu.Lock()
	for key, n := range t.nodes {
		if key.remote != remote {
			continue
		}
		if key.prefix == prefix || strings.HasPrefix(key.prefix, prefix) {
			if n.state != dto.Fetching {
				n.state = dto.Stale
			}
			touched = append(touched, key.prefix)
		}
	}
	t.mu.Unlock()
	for _, p := range touched {
		t.publish(dto.ListingInvalidated, remote, p)
	}
}

// ClearRemote purges all nodes for a remote. Used when a remote's
// credentials change.
func (t *Tree) ClearRemote(remote string) {
	var purged []string
	t.mu.Lock()
	for key := range t.nodes {
		if key.remote == remote {
			purged = append(purged, key.prefix)
			delete(t.nodes, key)
		}
	}
	t.mu.Unlock()
	t.log.Debug("cleared remote cache",
		slog.String("remote", remote),
		slog.Int("nodes", len(purged)))
	for _, p := range purged {
		t.publish(dto.ListingInvalidated, remote, p)
	}
}

// StaleSweep marks Fresh nodes older than maxAge Stale and returns how
// many it touched. Used by the background refresh scheduler.
func (t *Tree) StaleSweep(maxAge time.Duration) int {
	type touchedKey struct{ remote, prefix string }
	var touched []touchedKey
	cutoff := time.Now().Add(-maxAge)
	t.mu.Lock()
	for key, n := range t.nodes {
		if n.state == dto.Fresh && n.fetchedAt.Before(cutoff) {
			n.state = dto.Stale
			touched = append(touched, touchedKey{key.remote, key.prefix})
		}
	}
	t.mu.Unlock()
	for _, k := range touched {
		t.publish(dto.ListingInvalidated, k.remote, k.prefix)
	}
	return len(touched)
}

// Len returns the number of cached nodes.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}
