// Package session is the façade the presentation layer binds to: one
// active remote, a current path, and the in-flight operation handles.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/sgaunet/s3browse/pkg/config"
	"github.com/sgaunet/s3browse/pkg/coordinator"
	"github.com/sgaunet/s3browse/pkg/dto"
	"github.com/sgaunet/s3browse/pkg/events"
	"github.com/sgaunet/s3browse/pkg/pathtree"
	"github.com/sgaunet/s3browse/pkg/transfer"
)

// FolderClient creates virtual folders.
type FolderClient interface {
	CreateFolder(ctx context.Context, prefix string) error
}

// StatClient reads single-object metadata.
type StatClient interface {
	StatObject(ctx context.Context, key string) (dto.ListingEntry, error)
}

type settings struct {
	listing      coordinator.ClientFunc
	object       transfer.ClientFunc
	folders      func(ctx context.Context, remote string) (FolderClient, error)
	stat         func(ctx context.Context, remote string) (StatClient, error)
	maxTransfers int
}

// Option customizes session construction. The client options exist so
// tests can substitute fakes for the signed clients.
type Option func(*settings)

// WithListingClientFunc overrides how listing clients are resolved.
func WithListingClientFunc(fn coordinator.ClientFunc) Option {
	return func(s *settings) { s.listing = fn }
}

// WithObjectClientFunc overrides how transfer clients are resolved.
func WithObjectClientFunc(fn transfer.ClientFunc) Option {
	return func(s *settings) { s.object = fn }
}

// WithFolderClientFunc overrides how folder clients are resolved.
func WithFolderClientFunc(fn func(ctx context.Context, remote string) (FolderClient, error)) Option {
	return func(s *settings) { s.folders = fn }
}

// WithStatClientFunc overrides how stat clients are resolved.
func WithStatClientFunc(fn func(ctx context.Context, remote string) (StatClient, error)) Option {
	return func(s *settings) { s.stat = fn }
}

// WithMaxConcurrentTransfers bounds simultaneously running transfer jobs.
func WithMaxConcurrentTransfers(n int) Option {
	return func(s *settings) { s.maxTransfers = n }
}

// Session wires the registry, cache, coordinator and transfer manager
// behind the API the presentation layer drives.
type Session struct {
	registry  *config.Registry
	bc        *events.Broadcaster
	tree      *pathtree.Tree
	coord     *coordinator.Coordinator
	transfers *transfer.Manager
	pool      *clientPool
	folders   func(ctx context.Context, remote string) (FolderClient, error)
	stat      func(ctx context.Context, remote string) (StatClient, error)
	log       *slog.Logger

	mu           sync.Mutex
	activeRemote string
	currentPath  string
	lastListing  *coordinator.Handle
}

// New creates a session over the loaded profile registry.
func New(registry *config.Registry, opts ...Option) *Session {
	s := &Session{
		registry: registry,
		bc:       events.NewBroadcaster(),
		pool:     newClientPool(registry),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	s.tree = pathtree.New(s.bc)

	cfg := settings{
		listing: func(ctx context.Context, remote string) (coordinator.ListingClient, error) {
			return s.pool.client(ctx, remote)
		},
		object: func(ctx context.Context, remote string) (transfer.ObjectClient, error) {
			return s.pool.client(ctx, remote)
		},
		folders: func(ctx context.Context, remote string) (FolderClient, error) {
			return s.pool.client(ctx, remote)
		},
		stat: func(ctx context.Context, remote string) (StatClient, error) {
			return s.pool.client(ctx, remote)
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s.folders = cfg.folders
	s.stat = cfg.stat
	s.coord = coordinator.New(cfg.listing, s.tree)
	s.transfers = transfer.NewManager(cfg.object, s.tree, s.bc, cfg.maxTransfers)
	return s
}

// SetLogger sets the logger on the session and every component it owns.
func (s *Session) SetLogger(log *slog.Logger) {
	s.log = log
	s.registry.SetLogger(log)
	s.tree.SetLogger(log)
	s.coord.SetLogger(log)
	s.transfers.SetLogger(log)
	s.pool.setLogger(log)
}

// Tree exposes the cache for read-side helpers such as the background
// refresh scheduler.
func (s *Session) Tree() *pathtree.Tree {
	return s.tree
}

// Remotes returns the configured remote names.
func (s *Session) Remotes() []string {
	return s.registry.Names()
}

// ActiveRemote returns the remote of the last Browse call.
func (s *Session) ActiveRemote() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRemote
}

// CurrentPath returns the prefix of the last Browse call.
func (s *Session) CurrentPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPath
}

// Browse navigates to (remote, prefix). It returns whatever is cached
// right away; when that is not a fresh complete listing it also starts,
// or joins, a fetch and returns its handle (nil handle means the snapshot
// is fresh). Stale data stays visible while the fetch runs.
func (s *Session) Browse(ctx context.Context, remote, prefix string) (dto.Snapshot, *coordinator.Handle, error) {
	s.mu.Lock()
	s.activeRemote = remote
	s.currentPath = prefix
	s.mu.Unlock()

	snap, _ := s.tree.GetCached(remote, prefix)
	if snap.State == dto.Fresh {
		return snap, nil, nil
	}

	h, err := s.coord.RequestListing(ctx, remote, prefix)
	if err != nil {
		return snap, nil, fmt.Errorf("Browse: %w", err)
	}
	s.mu.Lock()
	s.lastListing = h
	s.mu.Unlock()
	return snap, h, nil
}

// Refresh forces a refetch of (remote, prefix) regardless of cache state.
func (s *Session) Refresh(ctx context.Context, remote, prefix string) (*coordinator.Handle, error) {
	s.tree.Invalidate(remote, prefix)
	h, err := s.coord.RequestListing(ctx, remote, prefix)
	if err != nil {
		return nil, fmt.Errorf("Refresh: %w", err)
	}
	s.mu.Lock()
	s.lastListing = h
	s.mu.Unlock()
	return h, nil
}

// CancelListing cancels the most recently started listing fetch, if it is
// still running. Used when the user navigates away.
func (s *Session) CancelListing() {
	s.mu.Lock()
	h := s.lastListing
	s.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

// GetCached returns the cached snapshot for (remote, prefix) without any
// network activity.
func (s *Session) GetCached(remote, prefix string) (dto.Snapshot, bool) {
	return s.tree.GetCached(remote, prefix)
}

// CreateFolder materializes an empty virtual folder and invalidates the
// parent listing.
func (s *Session) CreateFolder(ctx context.Context, remote, prefix string) error {
	client, err := s.folders(ctx, remote)
	if err != nil {
		return fmt.Errorf("CreateFolder: %w", err)
	}
	if err = client.CreateFolder(ctx, prefix); err != nil {
		return fmt.Errorf("CreateFolder: %w", err)
	}
	s.tree.InvalidateSubtree(remote, parentOf(prefix))
	return nil
}

// Stat returns metadata for one key without touching the listing cache.
func (s *Session) Stat(ctx context.Context, remote, key string) (dto.ListingEntry, error) {
	client, err := s.stat(ctx, remote)
	if err != nil {
		return dto.ListingEntry{}, fmt.Errorf("Stat: %w", err)
	}
	entry, err := client.StatObject(ctx, key)
	if err != nil {
		return dto.ListingEntry{}, fmt.Errorf("Stat: %w", err)
	}
	return entry, nil
}

// Upload starts an upload job and returns its id.
func (s *Session) Upload(remote, key, localPath string) string {
	return s.transfers.Upload(remote, key, localPath)
}

// Download starts a download job and returns its id.
func (s *Session) Download(remote, key, localPath string) string {
	return s.transfers.Download(remote, key, localPath)
}

// Delete starts a delete job and returns its id.
func (s *Session) Delete(remote, key string) string {
	return s.transfers.Delete(remote, key)
}

// DeleteFolder starts a recursive folder delete job and returns its id.
func (s *Session) DeleteFolder(remote, prefix string) string {
	return s.transfers.DeleteFolder(remote, prefix)
}

// TransferStatus returns a read-only snapshot of the job.
func (s *Session) TransferStatus(id string) (dto.TransferStatus, bool) {
	return s.transfers.Status(id)
}

// Transfers returns snapshots of all tracked jobs.
func (s *Session) Transfers() []dto.TransferStatus {
	return s.transfers.Jobs()
}

// CancelTransfer requests cooperative cancellation of a job.
func (s *Session) CancelTransfer(id string) error {
	return s.transfers.Cancel(id)
}

// RetryTransfer re-issues a failed or cancelled job under the same id.
func (s *Session) RetryTransfer(id string) error {
	return s.transfers.Retry(id)
}

// WaitTransfer blocks until the job's current attempt finishes or ctx
// expires.
func (s *Session) WaitTransfer(ctx context.Context, id string) error {
	return s.transfers.Wait(ctx, id)
}

// Subscribe returns a channel of change notifications. The caller must
// call Unsubscribe when done.
func (s *Session) Subscribe() chan dto.Event {
	return s.bc.Subscribe()
}

// Unsubscribe releases a subscription.
func (s *Session) Unsubscribe(ch chan dto.Event) {
	s.bc.Unsubscribe(ch)
}

// ReplaceProfile swaps in an edited profile and purges everything cached
// for that remote so the new credentials take effect.
func (s *Session) ReplaceProfile(p config.RemoteProfile) error {
	if err := s.registry.Replace(p); err != nil {
		return fmt.Errorf("ReplaceProfile: %w", err)
	}
	s.pool.evict(p.Name)
	s.tree.ClearRemote(p.Name)
	s.log.Info("remote profile replaced", slog.String("remote", p.Name))
	return nil
}

// RemoveRemote drops a remote and purges its cached state.
func (s *Session) RemoveRemote(name string) {
	s.registry.Remove(name)
	s.pool.evict(name)
	s.tree.ClearRemote(name)
}

// parentOf returns the prefix whose listing contains the given key or
// folder prefix.
func parentOf(key string) string {
	key = strings.TrimSuffix(key, "/")
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return ""
	}
	return key[:i+1]
}
