package transfer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sgaunet/s3browse/pkg/dto"
	"github.com/sgaunet/s3browse/pkg/s3client"
)

// start launches one attempt of the job. The attempt goroutine is the
// only writer of the job's progress state.
func (m *Manager) start(j *job) {
	ctx, cancel := context.WithCancel(context.Background())
	j.mu.Lock()
	j.cancel = cancel
	done := j.done
	j.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()

		m.limiter.Acquire()
		defer m.limiter.Release()

		j.mu.Lock()
		j.state = dto.TransferInProgress
		j.mu.Unlock()
		m.publish(j, true)

		err := m.run(ctx, j)
		switch {
		case err == nil:
			j.mu.Lock()
			j.state = dto.TransferCompleted
			j.mu.Unlock()
			m.invalidateAfter(j)
			m.log.Debug("transfer completed", slog.String("id", j.id))
		case s3client.IsCancelled(err) || errors.Is(err, context.Canceled):
			j.mu.Lock()
			j.state = dto.TransferCancelled
			j.bytesDone = 0
			j.mu.Unlock()
			if j.kind == dto.TransferDownload && j.localPath != "" {
				// Partial local artifact is removed on cancellation.
				if rmErr := os.Remove(j.localPath); rmErr != nil && !os.IsNotExist(rmErr) {
					m.log.Warn("failed to remove partial download",
						slog.String("path", j.localPath),
						slog.String("error", rmErr.Error()))
				}
			}
			m.log.Debug("transfer cancelled", slog.String("id", j.id))
		default:
			// Progress counters are retained so a retry can resume.
			j.mu.Lock()
			j.state = dto.TransferFailed
			j.reason = jobError(j, err)
			j.mu.Unlock()
			m.log.Error("transfer failed",
				slog.String("id", j.id),
				slog.String("error", err.Error()))
		}
		m.publish(j, true)
	}()
}

func (m *Manager) run(ctx context.Context, j *job) error {
	client, err := m.clients(ctx, j.remote)
	if err != nil {
		return err
	}
	switch j.kind {
	case dto.TransferUpload:
		return m.runUpload(ctx, client, j)
	case dto.TransferDownload:
		return m.runDownload(ctx, client, j)
	case dto.TransferDelete:
		return client.DeleteObject(ctx, j.key)
	case dto.TransferDeleteFolder:
		return m.runDeleteFolder(ctx, client, j)
	default:
		return ErrUnknownJob
	}
}

// runDownload streams the object into the local file. Transient mid-stream
// failures re-issue a ranged read from the bytes already written, so a
// chunk is never duplicated or skipped.
func (m *Manager) runDownload(ctx context.Context, client ObjectClient, j *job) error {
	j.mu.Lock()
	offset := j.bytesDone
	j.mu.Unlock()

	flags := os.O_CREATE | os.O_WRONLY
	if offset == 0 {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(j.localPath, flags, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err = f.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	bo := backoff.NewExponentialBackOff()
	retries := 0
	for {
		j.mu.Lock()
		offset = j.bytesDone
		j.mu.Unlock()

		body, total, err := client.GetObject(ctx, j.key, offset)
		if err != nil {
			return err
		}
		j.mu.Lock()
		j.bytesTotal = total
		j.mu.Unlock()

		err = m.copyChunks(ctx, j, f, body)
		body.Close()
		if err == nil {
			return nil
		}
		if !s3client.IsTransient(err) || retries >= maxChunkRetries {
			return err
		}
		retries++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// copyChunks copies body into f in bounded chunks, checking cancellation
// between chunks and counting progress.
func (m *Manager) copyChunks(ctx context.Context, j *job, f *os.File, body io.Reader) error {
	buf := make([]byte, copyChunkSize)
	for {
		select {
		case <-ctx.Done():
			return &s3client.Error{Kind: s3client.KindCancelled, Op: "Download", Err: ctx.Err()}
		default:
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return werr
			}
			j.mu.Lock()
			j.bytesDone += int64(n)
			j.mu.Unlock()
			m.publish(j, false)
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			// Mid-stream read failures are network trouble; resume with a
			// ranged re-read.
			return &s3client.Error{Kind: s3client.KindTransient, Op: "Download", Err: rerr}
		}
	}
}

func (m *Manager) runUpload(ctx context.Context, client ObjectClient, j *job) error {
	info, err := os.Stat(j.localPath)
	if err != nil {
		return err
	}
	size := info.Size()
	j.mu.Lock()
	j.bytesTotal = size
	j.bytesDone = 0
	j.mu.Unlock()

	if size < multipartThreshold {
		return m.uploadSingle(ctx, client, j, size)
	}
	return m.uploadMultipart(ctx, client, j, size)
}

// uploadSingle puts the whole file in one request, retrying the whole
// object on transient failures since the request body cannot be rewound.
func (m *Manager) uploadSingle(ctx context.Context, client ObjectClient, j *job, size int64) error {
	bo := backoff.NewExponentialBackOff()
	for attempt := 0; ; attempt++ {
		f, err := os.Open(j.localPath)
		if err != nil {
			return err
		}
		j.mu.Lock()
		j.bytesDone = 0
		j.mu.Unlock()

		err = client.PutObject(ctx, j.key, m.newProgressReader(ctx, j, f), size)
		f.Close()
		if err == nil {
			j.mu.Lock()
			j.bytesDone = size
			j.mu.Unlock()
			m.publish(j, false)
			return nil
		}
		if !s3client.IsTransient(err) || attempt >= maxChunkRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// uploadMultipart uploads the file in parts; only the failing part is
// retried (the client rewinds and resends it). On failure or cancellation
// a best-effort abort is issued so the store can reclaim parts.
func (m *Manager) uploadMultipart(ctx context.Context, client ObjectClient, j *job, size int64) error {
	f, err := os.Open(j.localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	uploadID, err := client.CreateMultipartUpload(ctx, j.key)
	if err != nil {
		return err
	}

	abort := func() {
		// The attempt context may already be cancelled.
		abortCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if aerr := client.AbortMultipartUpload(abortCtx, j.key, uploadID); aerr != nil {
			m.log.Warn("failed to abort multipart upload",
				slog.String("key", j.key),
				slog.String("uploadID", uploadID),
				slog.String("error", aerr.Error()))
		}
	}

	var etags []string
	for off, part := int64(0), int32(1); off < size; off, part = off+partSize, part+1 {
		select {
		case <-ctx.Done():
			abort()
			return &s3client.Error{Kind: s3client.KindCancelled, Op: "Upload", Err: ctx.Err()}
		default:
		}

		n := int64(partSize)
		if size-off < n {
			n = size - off
		}
		etag, err := client.UploadPart(ctx, j.key, uploadID, part, io.NewSectionReader(f, off, n), n)
		if err != nil {
			abort()
			return err
		}
		etags = append(etags, etag)

		j.mu.Lock()
		j.bytesDone += n
		j.mu.Unlock()
		m.publish(j, false)
	}

	if err = client.CompleteMultipartUpload(ctx, j.key, uploadID, etags); err != nil {
		abort()
		return err
	}
	return nil
}

func (m *Manager) runDeleteFolder(ctx context.Context, client ObjectClient, j *job) error {
	keys, err := client.ListAllKeys(ctx, j.key)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.bytesTotal = int64(len(keys))
	j.bytesDone = 0
	j.mu.Unlock()

	for len(keys) > 0 {
		select {
		case <-ctx.Done():
			return &s3client.Error{Kind: s3client.KindCancelled, Op: "DeleteFolder", Err: ctx.Err()}
		default:
		}

		batch := keys
		if len(batch) > s3client.MaxDeleteBatch {
			batch = batch[:s3client.MaxDeleteBatch]
		}
		if err = client.DeleteObjects(ctx, batch); err != nil {
			return err
		}
		keys = keys[len(batch):]

		j.mu.Lock()
		j.bytesDone += int64(len(batch))
		j.mu.Unlock()
		m.publish(j, false)
	}
	return nil
}

// progressReader counts uploaded bytes and checks cancellation between
// reads.
type progressReader struct {
	ctx context.Context
	m   *Manager
	j   *job
	r   io.Reader
}

func (m *Manager) newProgressReader(ctx context.Context, j *job, r io.Reader) *progressReader {
	return &progressReader{ctx: ctx, m: m, j: j, r: r}
}

func (p *progressReader) Read(b []byte) (int, error) {
	select {
	case <-p.ctx.Done():
		return 0, &s3client.Error{Kind: s3client.KindCancelled, Op: "Upload", Err: p.ctx.Err()}
	default:
	}
	n, err := p.r.Read(b)
	if n > 0 {
		p.j.mu.Lock()
		p.j.bytesDone += int64(n)
		p.j.mu.Unlock()
		p.m.publish(p.j, false)
	}
	return n, err
}
