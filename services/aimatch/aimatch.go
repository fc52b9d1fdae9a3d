// Package aimatch calls an OpenAI-compatible chat-completions endpoint to
// disambiguate search candidates when similarity scoring alone is not
// enough. Verdicts can be cached in the database so repeated webhook bursts
// for the same series cost one upstream call.
package aimatch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"danmuhub/config"
	"danmuhub/internal/database"
	"danmuhub/models"
	"danmuhub/services/scraper"
)

const requestTimeout = 30 * time.Second

// ErrNoSelection means the model answered but declined every candidate.
var ErrNoSelection = errors.New("ai matcher rejected all candidates")

const defaultMatchPrompt = `你是一个动漫识别助手。给定一个查询意图和候选列表，选出最匹配的候选。
只回答候选的序号（从0开始的数字），没有合适的候选时回答 -1。不要输出任何其他文字。`

const defaultConversionPrompt = `你是一个动漫译名助手。给定一个非中文的作品名称，回答它的官方简体中文译名。
只回答译名本身，不要输出任何其他文字。无法确定时回答原名。`

// Matcher is the disambiguation client.
type Matcher struct {
	cfg   *config.Manager
	httpc *scraper.HTTPClient
	cache *database.CacheRepository
}

func New(cfg *config.Manager, httpc *scraper.HTTPClient, cache *database.CacheRepository) *Matcher {
	return &Matcher{cfg: cfg, httpc: httpc, cache: cache}
}

// Enabled reports whether AI matching is switched on and configured.
func (m *Matcher) Enabled() bool {
	settings, err := m.cfg.Load()
	if err != nil {
		return false
	}
	return settings.AI.MatchEnabled && settings.AI.APIKey != ""
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// SelectBestMatch asks the model to pick one candidate for the query
// intent. favorited marks candidates backed by a favorited source, which
// the prompt tells the model to prefer. Returns the candidate index, or
// ErrNoSelection.
func (m *Matcher) SelectBestMatch(ctx context.Context, query string, episodeInfo *models.EpisodeInfo, candidates []models.ProviderSearchResult, favorited map[int]bool) (int, error) {
	if len(candidates) == 0 {
		return 0, ErrNoSelection
	}
	settings, err := m.cfg.Load()
	if err != nil {
		return 0, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "查询: %s\n", query)
	if episodeInfo != nil {
		fmt.Fprintf(&b, "目标: 第%d季 第%d集\n", episodeInfo.Season, episodeInfo.Episode)
	}
	b.WriteString("候选:\n")
	for i, c := range candidates {
		fav := ""
		if favorited[i] {
			fav = " [已收藏源]"
		}
		fmt.Fprintf(&b, "%d. %s (provider=%s type=%s season=%d year=%d)%s\n",
			i, c.Title, c.Provider, c.Type, c.Season, c.Year, fav)
	}

	cacheKey := ""
	if settings.AI.CacheEnabled && m.cache != nil {
		sum := sha256.Sum256([]byte(settings.AI.Model + "|" + b.String()))
		cacheKey = "aimatch:" + hex.EncodeToString(sum[:])
		if v, err := m.cache.Get(cacheKey); err == nil {
			if idx, err := strconv.Atoi(v); err == nil {
				if idx < 0 || idx >= len(candidates) {
					return 0, ErrNoSelection
				}
				return idx, nil
			}
		}
	}

	prompt := settings.AI.MatchPrompt
	if prompt == "" {
		prompt = defaultMatchPrompt
	}
	answer, err := m.complete(ctx, settings, prompt, b.String())
	if err != nil {
		return 0, err
	}

	idx, err := strconv.Atoi(strings.TrimSpace(answer))
	if err != nil {
		return 0, fmt.Errorf("unparseable ai verdict %q", answer)
	}

	if cacheKey != "" {
		ttl := time.Duration(settings.AI.CacheTTLSeconds) * time.Second
		if err := m.cache.Set(cacheKey, strconv.Itoa(idx), ttl); err != nil {
			log.Printf("[aimatch] cache verdict: %v", err)
		}
	}
	if idx < 0 || idx >= len(candidates) {
		return 0, ErrNoSelection
	}
	return idx, nil
}

// ConvertName asks the model for the Chinese title of a foreign-language
// name. Returns the input unchanged when the model punts.
func (m *Matcher) ConvertName(ctx context.Context, title string) (string, error) {
	settings, err := m.cfg.Load()
	if err != nil {
		return title, err
	}
	prompt := settings.AI.ConversionPrompt
	if prompt == "" {
		prompt = defaultConversionPrompt
	}
	answer, err := m.complete(ctx, settings, prompt, title)
	if err != nil {
		return title, err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return title, nil
	}
	return answer, nil
}

func (m *Matcher) complete(ctx context.Context, settings config.Settings, system, user string) (string, error) {
	if settings.AI.APIKey == "" {
		return "", errors.New("ai api key not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	payload := chatRequest{
		Model: settings.AI.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(settings.AI.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+settings.AI.APIKey)

	resp, err := m.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ai request: %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode ai response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("ai error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("ai response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
