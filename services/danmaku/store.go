// Package danmaku owns the on-disk XML artifact store: path templating,
// the dandanplay-compatible file format, the smart-refresh write rule and
// the serving-time post-processing chain.
package danmaku

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"danmuhub/config"
	"danmuhub/internal/database"
	"danmuhub/models"
)

// Store reads and writes episode danmaku files. The filesystem is abstracted
// so tests run against an in-memory tree.
type Store struct {
	cfg  *config.Manager
	fs   afero.Fs
	repo *database.AnimeRepository
}

func NewStore(cfg *config.Manager, fs afero.Fs, repo *database.AnimeRepository) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{cfg: cfg, fs: fs, repo: repo}
}

// SaveForEpisode applies the smart-refresh contract: a fetch that is not
// strictly richer than what is on disk never replaces it. Returns the number
// of comments written, or 0 when the write was skipped.
func (s *Store) SaveForEpisode(anime *models.Anime, source *models.AnimeSource, ep *models.Episode, comments []models.Comment) (int, error) {
	if len(comments) == 0 {
		return 0, nil
	}

	if ep.DanmakuFilePath != "" {
		exists, err := afero.Exists(s.fs, ep.DanmakuFilePath)
		if err != nil {
			return 0, err
		}
		if exists && len(comments) <= ep.CommentCount {
			log.Printf("[danmaku] episode %d: %d comments not richer than existing %d, keeping file", ep.ID, len(comments), ep.CommentCount)
			return 0, nil
		}
	}

	settings, err := s.cfg.Load()
	if err != nil {
		return 0, err
	}

	path := ep.DanmakuFilePath
	if path == "" {
		path = EpisodePath(settings, anime.Type, PathVars{
			AnimeID:   anime.ID,
			EpisodeID: ep.ID,
			SourceID:  source.ID,
			Title:     anime.Title,
			Season:    anime.Season,
			Episode:   ep.EpisodeIndex,
			Year:      anime.Year,
			Provider:  source.Provider,
		})
	}

	normalized := make([]models.Comment, len(comments))
	for i, c := range comments {
		c.P = NormalizeP(c.P, source.Provider)
		c.T = PTime(c.P)
		if c.CID == 0 {
			c.CID = int64(i + 1)
		}
		normalized[i] = c
	}
	sort.SliceStable(normalized, func(i, j int) bool { return normalized[i].T < normalized[j].T })

	body, err := EncodeXML(ep.ID, source.Provider, normalized)
	if err != nil {
		return 0, err
	}
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create danmaku directory: %w", err)
	}
	if err := afero.WriteFile(s.fs, path, body, 0o644); err != nil {
		return 0, fmt.Errorf("write danmaku file: %w", err)
	}

	if err := s.repo.UpdateEpisodeDanmaku(ep.ID, path, len(normalized)); err != nil {
		return 0, err
	}
	ep.DanmakuFilePath = path
	ep.CommentCount = len(normalized)
	log.Printf("[danmaku] episode %d: wrote %d comments to %s", ep.ID, len(normalized), path)
	return len(normalized), nil
}

// ReadEpisode loads and parses the episode's file. A missing file yields an
// empty list.
func (s *Store) ReadEpisode(ep *models.Episode) ([]models.Comment, error) {
	if ep.DanmakuFilePath == "" {
		return nil, nil
	}
	exists, err := afero.Exists(s.fs, ep.DanmakuFilePath)
	if err != nil || !exists {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, ep.DanmakuFilePath)
	if err != nil {
		return nil, err
	}
	return DecodeXML(data)
}

// DeleteEpisodeFile removes the file and prunes now-empty parent
// directories.
func (s *Store) DeleteEpisodeFile(path string) error {
	if path == "" {
		return nil
	}
	if err := s.fs.Remove(path); err != nil && !isNotExist(err) {
		return err
	}
	s.cleanupDirs(filepath.Dir(path))
	return nil
}

// DeleteFiles removes a batch of files, then prunes each affected directory
// once, deepest first.
func (s *Store) DeleteFiles(paths []string) {
	dirs := map[string]struct{}{}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := s.fs.Remove(p); err != nil && !isNotExist(err) {
			log.Printf("[danmaku] remove %s: %v", p, err)
			continue
		}
		dirs[filepath.Dir(p)] = struct{}{}
	}
	ordered := make([]string, 0, len(dirs))
	for d := range dirs {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })
	for _, d := range ordered {
		s.cleanupDirs(d)
	}
}

// cleanupDirs walks upward deleting empty directories. The walk stops at the
// danmaku root, or after three levels when a custom path puts files outside
// it.
func (s *Store) cleanupDirs(dir string) {
	settings, err := s.cfg.Load()
	if err != nil {
		return
	}
	root := filepath.Clean(settings.Danmaku.Root)
	for i := 0; i < 3; i++ {
		clean := filepath.Clean(dir)
		if clean == root || clean == "." || clean == string(filepath.Separator) {
			return
		}
		if !strings.HasPrefix(clean+string(filepath.Separator), root+string(filepath.Separator)) && !settings.Danmaku.CustomPathEnabled {
			return
		}
		entries, err := afero.ReadDir(s.fs, clean)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := s.fs.Remove(clean); err != nil {
			return
		}
		dir = filepath.Dir(clean)
	}
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
