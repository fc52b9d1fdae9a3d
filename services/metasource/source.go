// Package metasource holds the metadata-source registry: external catalogs
// (TMDB, Bangumi, ...) that resolve titles, aliases and cross-catalogue IDs.
// Sources share the Scraper registry's shape but answer identity questions
// rather than danmaku ones.
package metasource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"danmuhub/config"
	"danmuhub/models"
)

// Source is one external catalog.
type Source interface {
	Name() string
	Search(ctx context.Context, keyword string, mediaType models.MediaType) ([]models.MetadataDetails, error)
	GetDetails(ctx context.Context, id string, mediaType models.MediaType) (*models.MetadataDetails, error)
}

// Registry orders sources by configured priority.
type Registry struct {
	cfg *config.Manager

	mu      sync.RWMutex
	sources map[string]Source
}

func NewRegistry(cfg *config.Manager) *Registry {
	return &Registry{cfg: cfg, sources: make(map[string]Source)}
}

func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Name()] = s
}

func (r *Registry) Get(name string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("unknown metadata source %q", name)
	}
	return s, nil
}

// Enabled returns enabled sources in priority order (lowest number first).
func (r *Registry) Enabled() ([]Source, error) {
	settings, err := r.cfg.Load()
	if err != nil {
		return nil, err
	}

	priority := func(name string) int {
		for _, m := range settings.MetadataSources {
			if m.Name == name {
				return m.Priority
			}
		}
		return 1 << 20
	}
	enabled := func(name string) bool {
		for _, m := range settings.MetadataSources {
			if m.Name == name {
				return m.Enabled
			}
		}
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Source
	for name, s := range r.sources {
		if !enabled(name) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := priority(out[i].Name()), priority(out[j].Name())
		if pi != pj {
			return pi < pj
		}
		return out[i].Name() < out[j].Name()
	})
	return out, nil
}
