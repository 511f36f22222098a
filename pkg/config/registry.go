package config

import (
	"io"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds the loaded remote profiles keyed by name. Profiles are
// read-only; Replace swaps a whole profile rather than mutating in place.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]RemoteProfile
	log      *slog.Logger
}

// NewRegistry creates an empty registry.
// By default the logger is set to write to /dev/null.
func NewRegistry() *Registry {
	return &Registry{
		profiles: make(map[string]RemoteProfile),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger sets the logger.
func (r *Registry) SetLogger(log *slog.Logger) {
	r.log = log
}

// LoadProfiles loads the given profiles into the registry. Malformed
// entries are skipped with a warning rather than failing the whole load.
// It returns the number of profiles loaded.
func (r *Registry) LoadProfiles(profiles map[string]RemoteProfile) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	loaded := 0
	for name, p := range profiles {
		if p.Name == "" {
			p.Name = name
		}
		if err := p.Validate(); err != nil {
			r.log.Warn("skipping malformed remote profile",
				slog.String("remote", name),
				slog.String("error", err.Error()))
			continue
		}
		r.profiles[p.Name] = p.WithDefaults()
		loaded++
	}
	return loaded
}

// Get returns the profile for the given remote name.
func (r *Registry) Get(name string) (RemoteProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	return p, ok
}

// Names returns the sorted list of configured remote names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Replace validates the profile and swaps it in under its name. The caller
// is responsible for purging cached state for the remote afterwards.
func (r *Registry) Replace(p RemoteProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.profiles[p.Name] = p.WithDefaults()
	r.mu.Unlock()
	return nil
}

// Remove deletes the profile for the given remote name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	delete(r.profiles, name)
	r.mu.Unlock()
}
