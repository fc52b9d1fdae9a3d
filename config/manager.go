package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Manager loads and persists settings to a JSON file. Loads are cached and
// invalidated either explicitly (after Save) or when the file's mtime moves,
// so an edit on disk is picked up without a restart.
type Manager struct {
	path string

	mu       sync.Mutex
	cached   *Settings
	cachedAt time.Time
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// EnsureDir ensures parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads settings from disk or creates defaults if missing.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := os.Stat(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.saveLocked(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}
	if err != nil {
		return Settings{}, err
	}

	if m.cached != nil && info.ModTime().Equal(m.cachedAt) {
		return *m.cached, nil
	}

	f, err := os.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	var s Settings
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return Settings{}, err
	}
	backfill(&s)

	m.cached = &s
	m.cachedAt = info.ModTime()
	return s, nil
}

// Invalidate drops the cached settings so the next Load rereads the file.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
}

// Save writes the provided settings to disk atomically and refreshes the
// cache.
func (m *Manager) Save(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(s)
}

func (m *Manager) saveLocked(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return err
	}
	if info, err := os.Stat(m.path); err == nil {
		m.cached = &s
		m.cachedAt = info.ModTime()
	} else {
		m.cached = nil
	}
	return nil
}

// backfill fills defaults for settings written by older versions.
func backfill(s *Settings) {
	defaults := DefaultSettings()

	if strings.TrimSpace(s.Database.Path) == "" {
		s.Database.Path = defaults.Database.Path
	}
	if strings.TrimSpace(s.Danmaku.Root) == "" {
		s.Danmaku.Root = defaults.Danmaku.Root
	}
	if strings.TrimSpace(s.Danmaku.MovieFilenameTemplate) == "" {
		s.Danmaku.MovieFilenameTemplate = defaults.Danmaku.MovieFilenameTemplate
	}
	if strings.TrimSpace(s.Danmaku.TVFilenameTemplate) == "" {
		s.Danmaku.TVFilenameTemplate = defaults.Danmaku.TVFilenameTemplate
	}
	if s.Danmaku.OutputLimitPerSource == 0 {
		s.Danmaku.OutputLimitPerSource = -1
	}
	if strings.TrimSpace(s.Danmaku.RandomColorMode) == "" {
		s.Danmaku.RandomColorMode = "off"
	}

	if s.Search.MaxResultsPerSource <= 0 {
		s.Search.MaxResultsPerSource = defaults.Search.MaxResultsPerSource
	}

	// TTLs have a hard floor so aggressive configs cannot hammer providers.
	clampTTL := func(v *int) {
		if *v < MinCacheTTL {
			*v = MinCacheTTL
		}
	}
	clampTTL(&s.Cache.SearchTTLSeconds)
	clampTTL(&s.Cache.EpisodesTTLSeconds)
	clampTTL(&s.Cache.BaseInfoTTLSeconds)
	clampTTL(&s.Cache.MetadataSearchTTLSeconds)

	if strings.TrimSpace(s.Proxy.Mode) == "" {
		s.Proxy.Mode = "none"
	}

	if s.RateLimit.GlobalPeriodSeconds <= 0 {
		s.RateLimit.GlobalPeriodSeconds = defaults.RateLimit.GlobalPeriodSeconds
	}
	if s.RateLimit.FallbackLimit <= 0 {
		s.RateLimit.FallbackLimit = defaults.RateLimit.FallbackLimit
	}

	if strings.TrimSpace(s.AI.BaseURL) == "" {
		s.AI.BaseURL = defaults.AI.BaseURL
	}
	if strings.TrimSpace(s.AI.Model) == "" {
		s.AI.Model = defaults.AI.Model
	}
	if s.AI.CacheTTLSeconds <= 0 {
		s.AI.CacheTTLSeconds = defaults.AI.CacheTTLSeconds
	}

	if len(s.NameConversion.SourcePriority) == 0 {
		s.NameConversion.SourcePriority = defaults.NameConversion.SourcePriority
	}

	if strings.TrimSpace(s.Log.File) == "" {
		s.Log.File = defaults.Log.File
	}
	if s.Log.MaxSize == 0 {
		s.Log.MaxSize = defaults.Log.MaxSize
	}
	if s.Log.MaxBackups == 0 {
		s.Log.MaxBackups = defaults.Log.MaxBackups
	}
	if s.Log.MaxAge == 0 {
		s.Log.MaxAge = defaults.Log.MaxAge
	}
}

// ProviderByName returns the config entry for a provider, if present.
func (s Settings) ProviderByName(name string) (ProviderConfig, bool) {
	for _, p := range s.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// ProviderDisplayOrder returns the configured display order for a provider,
// or a large value so unknown providers sort last.
func (s Settings) ProviderDisplayOrder(name string) int {
	if p, ok := s.ProviderByName(name); ok {
		return p.DisplayOrder
	}
	return 1 << 20
}
