package config

import "time"

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server          ServerSettings           `json:"server"`
	Database        DatabaseSettings         `json:"database"`
	Danmaku         DanmakuSettings          `json:"danmaku"`
	Search          SearchSettings           `json:"search"`
	Cache           CacheSettings            `json:"cache"`
	Proxy           ProxySettings            `json:"proxy"`
	RateLimit       RateLimitSettings        `json:"rateLimit"`
	Fallback        FallbackSettings         `json:"fallback"`
	AI              AISettings               `json:"ai"`
	SeasonMapping   SeasonMappingSettings    `json:"seasonMapping"`
	NameConversion  NameConversionSettings   `json:"nameConversion"`
	Providers       []ProviderConfig         `json:"providers"`
	MetadataSources []MetadataSourceConfig   `json:"metadataSources"`
	Recognition     RecognitionSettings      `json:"recognition"`
	Log             LogConfig                `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// PINHash is the bcrypt hash of the 6-digit admin PIN. The PIN itself
	// is generated on first start and printed to the log once.
	PINHash string `json:"pinHash"`
}

type DatabaseSettings struct {
	Path string `json:"path"`
}

// DanmakuSettings controls the on-disk artifact store and the comment
// post-processing applied when serving.
type DanmakuSettings struct {
	Root                  string `json:"root"`
	CustomPathEnabled     bool   `json:"customDanmakuPathEnabled"`
	MovieDirectoryPath    string `json:"movieDanmakuDirectoryPath"`
	MovieFilenameTemplate string `json:"movieDanmakuFilenameTemplate"`
	TVDirectoryPath       string `json:"tvDanmakuDirectoryPath"`
	TVFilenameTemplate    string `json:"tvDanmakuFilenameTemplate"`
	// OutputLimitPerSource caps comments served per source; -1 = unlimited.
	OutputLimitPerSource int    `json:"danmakuOutputLimitPerSource"`
	RandomColorMode      string `json:"danmakuRandomColorMode"` // off | white_to_random | all_random | all_white
	RandomColorPalette   string `json:"danmakuRandomColorPalette"`
	BlacklistEnabled     bool   `json:"danmakuBlacklistEnabled"`
	BlacklistPatterns    string `json:"danmakuBlacklistPatterns"` // pipe-separated regex alternates
}

type SearchSettings struct {
	MaxResultsPerSource int    `json:"searchMaxResultsPerSource"`
	GlobalBlacklistCN   string `json:"searchResultGlobalBlacklistCn"`
	GlobalBlacklistEng  string `json:"searchResultGlobalBlacklistEng"`
}

// CacheSettings holds the TTLs for the persistent KV cache. Each TTL is
// clamped to a 10800s floor on load.
type CacheSettings struct {
	SearchTTLSeconds         int `json:"searchTtlSeconds"`
	EpisodesTTLSeconds       int `json:"episodesTtlSeconds"`
	BaseInfoTTLSeconds       int `json:"baseInfoTtlSeconds"`
	MetadataSearchTTLSeconds int `json:"metadataSearchTtlSeconds"`
}

type ProxySettings struct {
	Mode               string `json:"proxyMode"` // none | http_socks | accelerate
	URL                string `json:"proxyUrl"`
	AccelerateProxyURL string `json:"accelerateProxyUrl"`
	SSLVerify          bool   `json:"proxySslVerify"`
}

type RateLimitSettings struct {
	Enabled             bool `json:"enabled"`
	GlobalLimit         int  `json:"globalLimit"` // 0 = unlimited
	GlobalPeriodSeconds int  `json:"globalPeriodSeconds"`
	FallbackLimit       int  `json:"fallbackLimit"`
}

type FallbackSettings struct {
	MatchEnabled              bool `json:"matchFallbackEnabled"`
	SearchEnabled             bool `json:"searchFallbackEnabled"`
	WebhookEnabled            bool `json:"webhookFallbackEnabled"`
	ExternalAPIEnabled        bool `json:"externalApiFallbackEnabled"`
	PreDownloadNextEpisode    bool `json:"preDownloadNextEpisodeEnabled"`
}

type AISettings struct {
	MatchEnabled    bool   `json:"aiMatchEnabled"`
	FallbackEnabled bool   `json:"aiFallbackEnabled"`
	Provider        string `json:"aiProvider"`
	APIKey          string `json:"aiApiKey"`
	BaseURL         string `json:"aiBaseUrl"`
	Model           string `json:"aiModel"`
	CacheEnabled    bool   `json:"aiCacheEnabled"`
	CacheTTLSeconds int    `json:"aiCacheTtl"`
	MatchPrompt     string `json:"aiMatchPrompt,omitempty"`
	AliasPrompt     string `json:"aiAliasPrompt,omitempty"`
	ConversionPrompt string `json:"aiConversionPrompt,omitempty"`
	SeasonPrompt    string `json:"aiSeasonPrompt,omitempty"`
}

// SeasonMappingSettings toggles TMDB episode-group mapping per entry point.
type SeasonMappingSettings struct {
	HomeSearch     bool `json:"homeSearchEnableTmdbSeasonMapping"`
	FallbackSearch bool `json:"fallbackSearchEnableTmdbSeasonMapping"`
	Webhook        bool `json:"webhookEnableTmdbSeasonMapping"`
	MatchFallback  bool `json:"matchFallbackEnableTmdbSeasonMapping"`
	ExternalSearch bool `json:"externalSearchEnableTmdbSeasonMapping"`
	AutoImport     bool `json:"autoImportEnableTmdbSeasonMapping"`
}

type NameConversionSettings struct {
	Enabled        bool     `json:"nameConversionEnabled"`
	SourcePriority []string `json:"nameConversionSourcePriority"`
}

// ProviderConfig enables and orders one danmaku scraper.
type ProviderConfig struct {
	Name         string `json:"name"`
	Enabled      bool   `json:"enabled"`
	DisplayOrder int    `json:"displayOrder"`
	// RateLimitQuota per period; -1 = unlimited.
	RateLimitQuota int `json:"rateLimitQuota"`
}

type MetadataSourceConfig struct {
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	Priority int    `json:"priority"`
	APIKey   string `json:"apiKey,omitempty"`
	Language string `json:"language,omitempty"`
}

// RecognitionSettings carries the raw recognition-word rules, one per line.
type RecognitionSettings struct {
	Rules string `json:"rules,omitempty"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// MinCacheTTL is the floor applied to every cache TTL setting.
const MinCacheTTL = 10800

// DefaultSettings returns sane defaults for a fresh install.
func DefaultSettings() Settings {
	return Settings{
		Server:   ServerSettings{Host: "0.0.0.0", Port: 7768},
		Database: DatabaseSettings{Path: "data/danmuhub.db"},
		Danmaku: DanmakuSettings{
			Root:                  "data/danmaku",
			CustomPathEnabled:     false,
			MovieDirectoryPath:    "",
			MovieFilenameTemplate: "${title}/${episodeId}.xml",
			TVDirectoryPath:       "",
			TVFilenameTemplate:    "${animeId}/${episodeId}.xml",
			OutputLimitPerSource:  -1,
			RandomColorMode:       "off",
			RandomColorPalette:    "",
			BlacklistEnabled:      false,
			BlacklistPatterns:     "",
		},
		Search: SearchSettings{MaxResultsPerSource: 30},
		Cache: CacheSettings{
			SearchTTLSeconds:         MinCacheTTL,
			EpisodesTTLSeconds:       MinCacheTTL,
			BaseInfoTTLSeconds:       MinCacheTTL,
			MetadataSearchTTLSeconds: MinCacheTTL,
		},
		Proxy: ProxySettings{Mode: "none", SSLVerify: true},
		RateLimit: RateLimitSettings{
			Enabled:             true,
			GlobalLimit:         0,
			GlobalPeriodSeconds: 3600,
			FallbackLimit:       50,
		},
		Fallback: FallbackSettings{
			MatchEnabled:           true,
			SearchEnabled:          true,
			WebhookEnabled:         true,
			ExternalAPIEnabled:     false,
			PreDownloadNextEpisode: false,
		},
		AI: AISettings{
			MatchEnabled:    false,
			FallbackEnabled: true,
			Provider:        "openai",
			BaseURL:         "https://api.openai.com/v1",
			Model:           "gpt-4o-mini",
			CacheEnabled:    true,
			CacheTTLSeconds: int((24 * time.Hour).Seconds()),
		},
		SeasonMapping:  SeasonMappingSettings{},
		NameConversion: NameConversionSettings{Enabled: false, SourcePriority: []string{"tmdb"}},
		Providers:      []ProviderConfig{},
		MetadataSources: []MetadataSourceConfig{
			{Name: "tmdb", Enabled: false, Priority: 1, Language: "zh-CN"},
		},
		Log: LogConfig{
			File:       "data/logs/danmuhub.log",
			Level:      "info",
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
	}
}
