// Package coordinator is the single entry point for prefix listings: it
// deduplicates concurrent requests per (remote, prefix), drives the
// pagination loop and merges paged results into the path tree.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/sgaunet/s3browse/pkg/dto"
	"github.com/sgaunet/s3browse/pkg/pathtree"
	"github.com/sgaunet/s3browse/pkg/s3client"
)

// ListingClient is the slice of the signed request client the coordinator
// needs.
type ListingClient interface {
	ListObjectsPage(ctx context.Context, prefix, delimiter, continuationToken string) (dto.ListingPage, error)
}

// ClientFunc resolves the client for a remote.
type ClientFunc func(ctx context.Context, remote string) (ListingClient, error)

// Handle tracks one in-flight listing fetch. Concurrent requesters for the
// same (remote, prefix) share a handle.
type Handle struct {
	remote string
	prefix string
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Remote returns the remote the handle fetches from.
func (h *Handle) Remote() string { return h.remote }

// Prefix returns the prefix the handle fetches.
func (h *Handle) Prefix() string { return h.prefix }

// Done is closed when the fetch finishes, fails or is cancelled.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel stops the fetch after the current page. Already-applied pages
// stay cached.
func (h *Handle) Cancel() { h.cancel() }

// Wait blocks until the fetch finishes or ctx expires, and returns the
// fetch error, if any. Waiting with a cancelled ctx does not cancel the
// shared fetch.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.err
	}
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// Coordinator enforces at most one fetch sequence per (remote, prefix).
type Coordinator struct {
	clients ClientFunc
	tree    *pathtree.Tree
	log     *slog.Logger

	mu       sync.Mutex
	inflight map[fetchKey]*Handle
}

type fetchKey struct {
	remote string
	prefix string
}

// New creates a coordinator writing into tree.
func New(clients ClientFunc, tree *pathtree.Tree) *Coordinator {
	return &Coordinator{
		clients:  clients,
		tree:     tree,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		inflight: make(map[fetchKey]*Handle),
	}
}

// SetLogger sets the logger.
func (c *Coordinator) SetLogger(log *slog.Logger) {
	c.log = log
}

// RequestListing starts, or joins, the fetch for (remote, prefix). The
// returned handle is shared by all concurrent requesters; no duplicate
// request sequence is ever issued. ctx only scopes client resolution: the
// fetch itself runs detached and stops via Handle.Cancel.
func (c *Coordinator) RequestListing(ctx context.Context, remote, prefix string) (*Handle, error) {
	key := fetchKey{remote, prefix}

	c.mu.Lock()
	if h, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	client, err := c.clients(ctx, remote)
	if err != nil {
		return nil, fmt.Errorf("RequestListing: error resolving client for %q: %w", remote, err)
	}

	c.mu.Lock()
	// Re-check: another requester may have won while the client was built.
	if h, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		return h, nil
	}
	fetchCtx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		remote: remote,
		prefix: prefix,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.inflight[key] = h
	c.tree.BeginFetch(remote, prefix)
	c.mu.Unlock()

	go c.run(fetchCtx, client, h)
	return h, nil
}

// run drives the pagination loop for one fetch.
func (c *Coordinator) run(ctx context.Context, client ListingClient, h *Handle) {
	var all []dto.ListingEntry
	token := ""
	pages := 0

	var err error
	for {
		var page dto.ListingPage
		page, err = client.ListObjectsPage(ctx, h.prefix, s3client.Delimiter, token)
		if err != nil {
			break
		}
		pages++
		all = append(all, page.Entries...)
		c.tree.ApplyPage(h.remote, h.prefix, page)
		if !page.IsTruncated {
			break
		}
		token = page.NextContinuationToken
	}

	key := fetchKey{h.remote, h.prefix}
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()

	switch {
	case err == nil:
		c.tree.CompleteFetch(h.remote, h.prefix, MergeEntries(all))
		c.log.Debug("listing complete",
			slog.String("remote", h.remote),
			slog.String("prefix", h.prefix),
			slog.Int("pages", pages),
			slog.Int("entries", len(all)))
		h.finish(nil)
	case s3client.IsCancelled(err):
		c.tree.CancelFetch(h.remote, h.prefix)
		c.log.Debug("listing cancelled",
			slog.String("remote", h.remote),
			slog.String("prefix", h.prefix),
			slog.Int("pages", pages))
		h.finish(err)
	default:
		if pages > 0 {
			err = &s3client.Error{Kind: s3client.KindPartialFailure, Op: "RequestListing", Err: err}
		}
		c.tree.FailFetch(h.remote, h.prefix, err)
		c.log.Error("listing failed",
			slog.String("remote", h.remote),
			slog.String("prefix", h.prefix),
			slog.Int("pages", pages),
			slog.String("error", err.Error()))
		h.finish(err)
	}
}

// Invalidate marks the node Stale so the next request refetches.
func (c *Coordinator) Invalidate(remote, prefix string) {
	c.tree.Invalidate(remote, prefix)
}
