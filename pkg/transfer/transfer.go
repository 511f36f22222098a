// Package transfer manages upload, download and delete jobs with progress
// reporting, per-chunk retry and cooperative cancellation.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sgaunet/s3browse/pkg/dto"
	"github.com/sgaunet/s3browse/pkg/events"
)

const (
	// defaultMaxConcurrent bounds simultaneously running jobs.
	defaultMaxConcurrent = 4
	// progressInterval throttles progress notifications so observers are
	// not pushed per chunk.
	progressInterval = 250 * time.Millisecond
	// copyChunkSize is the unit of download copying; cancellation is
	// checked between chunks.
	copyChunkSize = 256 * 1024
	// partSize is the multipart upload part size.
	partSize = 8 * 1024 * 1024
	// multipartThreshold is the size above which uploads go multipart.
	multipartThreshold = 16 * 1024 * 1024
	// maxChunkRetries bounds mid-stream retries of one chunk or part.
	maxChunkRetries = 2
)

// ObjectClient is the slice of the signed request client transfers need.
type ObjectClient interface {
	GetObject(ctx context.Context, key string, offset int64) (io.ReadCloser, int64, error)
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error
	DeleteObject(ctx context.Context, key string) error
	DeleteObjects(ctx context.Context, keys []string) error
	ListAllKeys(ctx context.Context, prefix string) ([]string, error)
	CreateMultipartUpload(ctx context.Context, key string) (string, error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.ReadSeeker, size int64) (string, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, etags []string) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
}

// ClientFunc resolves the client for a remote.
type ClientFunc func(ctx context.Context, remote string) (ObjectClient, error)

// Invalidator is the cache hook called after mutations so listings
// reflect the change.
type Invalidator interface {
	InvalidateSubtree(remote, prefix string)
}

// ErrUnknownJob is returned for job ids the manager does not track.
var ErrUnknownJob = errors.New("unknown transfer job")

// ErrNotRetryable is returned when Retry is called on a job that is not
// in a terminal failed or cancelled state.
var ErrNotRetryable = errors.New("job is not in a retryable state")

// job is owned exclusively by the manager; one goroutine per attempt is
// the single writer of its state.
type job struct {
	mu            sync.Mutex
	id            string
	kind          dto.TransferKind
	remote        string
	key           string
	localPath     string
	state         dto.TransferState
	bytesDone     int64
	bytesTotal    int64
	reason        string
	cancel        context.CancelFunc
	done          chan struct{}
	lastPublished time.Time
}

func (j *job) status() dto.TransferStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return dto.TransferStatus{
		ID:         j.id,
		Kind:       j.kind,
		Remote:     j.remote,
		Key:        j.key,
		LocalPath:  j.localPath,
		State:      j.state,
		BytesDone:  j.bytesDone,
		BytesTotal: j.bytesTotal,
		Reason:     j.reason,
	}
}

// Manager owns all transfer jobs.
type Manager struct {
	clients ClientFunc
	cache   Invalidator
	bc      *events.Broadcaster
	limiter *limiter
	log     *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

// NewManager creates a transfer manager. cache and bc may be nil.
func NewManager(clients ClientFunc, cache Invalidator, bc *events.Broadcaster, maxConcurrent int) *Manager {
	if maxConcurrent < 1 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &Manager{
		clients: clients,
		cache:   cache,
		bc:      bc,
		limiter: newLimiter(maxConcurrent),
		log:     slog.New(slog.DiscardHandler),
		jobs:    make(map[string]*job),
	}
}

// SetLogger sets the logger.
func (m *Manager) SetLogger(log *slog.Logger) {
	m.log = log
}

// Upload uploads the local file at localPath to key on remote and returns
// the job id.
func (m *Manager) Upload(remote, key, localPath string) string {
	return m.enqueue(dto.TransferUpload, remote, key, localPath)
}

// Download downloads key on remote into the local file at localPath and
// returns the job id.
func (m *Manager) Download(remote, key, localPath string) string {
	return m.enqueue(dto.TransferDownload, remote, key, localPath)
}

// Delete deletes one object and returns the job id.
func (m *Manager) Delete(remote, key string) string {
	return m.enqueue(dto.TransferDelete, remote, key, "")
}

// DeleteFolder recursively deletes every key under prefix and returns the
// job id.
func (m *Manager) DeleteFolder(remote, prefix string) string {
	return m.enqueue(dto.TransferDeleteFolder, remote, prefix, "")
}

func (m *Manager) enqueue(kind dto.TransferKind, remote, key, localPath string) string {
	j := &job{
		id:        uuid.NewString(),
		kind:      kind,
		remote:    remote,
		key:       key,
		localPath: localPath,
		state:     dto.TransferQueued,
		done:      make(chan struct{}),
	}
	m.mu.Lock()
	m.jobs[j.id] = j
	m.mu.Unlock()
	m.log.Debug("transfer queued",
		slog.String("id", j.id),
		slog.String("kind", kind.String()),
		slog.String("remote", remote),
		slog.String("key", key))
	m.start(j)
	return j.id
}

// Status returns a read-only snapshot of the job.
func (m *Manager) Status(id string) (dto.TransferStatus, bool) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return dto.TransferStatus{}, false
	}
	return j.status(), true
}

// Jobs returns snapshots of all tracked jobs.
func (m *Manager) Jobs() []dto.TransferStatus {
	m.mu.Lock()
	jobs := make([]*job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.Unlock()
	out := make([]dto.TransferStatus, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.status())
	}
	return out
}

// Cancel requests cooperative cancellation of the job.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Retry re-issues a failed or cancelled job under the same id. Downloads
// resume from the bytes already written; uploads restart.
func (m *Manager) Retry(id string) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}

	j.mu.Lock()
	if j.state != dto.TransferFailed && j.state != dto.TransferCancelled {
		j.mu.Unlock()
		return ErrNotRetryable
	}
	if j.kind != dto.TransferDownload || j.state == dto.TransferCancelled {
		// Cancelled downloads removed their partial file; everything else
		// restarts from scratch.
		j.bytesDone = 0
	}
	j.state = dto.TransferQueued
	j.reason = ""
	j.done = make(chan struct{})
	j.mu.Unlock()

	m.start(j)
	return nil
}

// Wait blocks until the job's current attempt reaches a terminal state or
// ctx expires.
func (m *Manager) Wait(ctx context.Context, id string) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}
	j.mu.Lock()
	done := j.done
	j.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (m *Manager) publish(j *job, force bool) {
	if m.bc == nil {
		return
	}
	j.mu.Lock()
	if !force && time.Since(j.lastPublished) < progressInterval {
		j.mu.Unlock()
		return
	}
	j.lastPublished = time.Now()
	id, remote := j.id, j.remote
	j.mu.Unlock()
	m.bc.Publish(dto.Event{Kind: dto.TransferUpdated, Remote: remote, JobID: id})
}

// parentPrefix returns the prefix whose listing contains key.
func parentPrefix(key string) string {
	key = strings.TrimSuffix(key, "/")
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return ""
	}
	return key[:i+1]
}

// invalidateAfter marks the affected subtree stale after a mutation.
func (m *Manager) invalidateAfter(j *job) {
	if m.cache == nil {
		return
	}
	switch j.kind {
	case dto.TransferUpload, dto.TransferDelete:
		m.cache.InvalidateSubtree(j.remote, parentPrefix(j.key))
	case dto.TransferDeleteFolder:
		m.cache.InvalidateSubtree(j.remote, parentPrefix(j.key))
	case dto.TransferDownload:
		// Downloads do not change the remote listing.
	}
}

func jobError(j *job, err error) string {
	return fmt.Sprintf("%s %s: %s", j.kind, j.key, err.Error())
}
