// Package scraper defines the provider interface and the registry the
// pipeline fans out over. Concrete providers register themselves at wiring
// time; the core never hardcodes a provider name.
package scraper

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"danmuhub/config"
	"danmuhub/models"
)

// Scraper is one danmaku provider.
type Scraper interface {
	Name() string
	// Search returns candidates for a keyword. episodeInfo may be nil;
	// providers that can narrow by episode use it as a hint.
	Search(ctx context.Context, keyword string, episodeInfo *models.EpisodeInfo, limit int) ([]models.ProviderSearchResult, error)
	// GetEpisodes lists a media entry's episodes.
	GetEpisodes(ctx context.Context, mediaID string, mediaType models.MediaType) ([]models.ProviderEpisodeInfo, error)
	// GetComments fetches the danmaku stream for one provider episode.
	GetComments(ctx context.Context, providerEpisodeID string) ([]models.Comment, error)
}

// URLResolver is implemented by scrapers that can recognize their own media
// URLs and resolve them to a media id.
type URLResolver interface {
	GetInfoFromURL(ctx context.Context, rawURL string) (*models.ProviderSearchResult, error)
}

// Registry holds the registered scrapers and answers enablement and
// ordering questions from live settings.
type Registry struct {
	cfg *config.Manager

	mu       sync.RWMutex
	scrapers map[string]Scraper
}

func NewRegistry(cfg *config.Manager) *Registry {
	return &Registry{cfg: cfg, scrapers: make(map[string]Scraper)}
}

func (r *Registry) Register(s Scraper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrapers[s.Name()] = s
}

// Get returns a scraper by name regardless of enablement; task replay needs
// disabled providers too.
func (r *Registry) Get(name string) (Scraper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scrapers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return s, nil
}

// Enabled returns the enabled scrapers in display order.
func (r *Registry) Enabled() ([]Scraper, error) {
	settings, err := r.cfg.Load()
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Scraper
	for name, s := range r.scrapers {
		if p, ok := settings.ProviderByName(name); ok && !p.Enabled {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		oi := settings.ProviderDisplayOrder(out[i].Name())
		oj := settings.ProviderDisplayOrder(out[j].Name())
		if oi != oj {
			return oi < oj
		}
		return out[i].Name() < out[j].Name()
	})
	return out, nil
}

// Names lists every registered provider, for the settings endpoint.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scrapers))
	for name := range r.scrapers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
