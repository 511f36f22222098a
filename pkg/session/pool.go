package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/sgaunet/s3browse/pkg/config"
	"github.com/sgaunet/s3browse/pkg/s3client"
)

// ErrUnknownRemote is returned when no profile exists for a remote name.
var ErrUnknownRemote = errors.New("unknown remote")

// clientPool builds and caches one signed client per remote. singleflight
// collapses concurrent builds for the same remote into one.
type clientPool struct {
	registry *config.Registry
	group    singleflight.Group
	log      *slog.Logger

	mu      sync.Mutex
	clients map[string]*s3client.Client
}

func newClientPool(registry *config.Registry) *clientPool {
	return &clientPool{
		registry: registry,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		clients:  make(map[string]*s3client.Client),
	}
}

func (p *clientPool) setLogger(log *slog.Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = log
	for _, c := range p.clients {
		c.SetLogger(log)
	}
}

func (p *clientPool) client(ctx context.Context, remote string) (*s3client.Client, error) {
	p.mu.Lock()
	c, ok := p.clients[remote]
	p.mu.Unlock()
	if ok {
		return c, nil
	}

	v, err, _ := p.group.Do(remote, func() (any, error) {
		profile, ok := p.registry.Get(remote)
		if !ok {
			return nil, fmt.Errorf("client: %w: %q", ErrUnknownRemote, remote)
		}
		c, err := s3client.New(ctx, profile)
		if err != nil {
			return nil, fmt.Errorf("client: error building client for %q: %w", remote, err)
		}
		p.mu.Lock()
		c.SetLogger(p.log)
		p.clients[remote] = c
		p.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*s3client.Client), nil
}

// evict drops the cached client so the next call rebuilds it from the
// current profile.
func (p *clientPool) evict(remote string) {
	p.mu.Lock()
	delete(p.clients, remote)
	p.mu.Unlock()
}
