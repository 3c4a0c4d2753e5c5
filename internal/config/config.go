package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	eidonerr "github.com/hpungsan/eidon/internal/errors"
)

// Search methods.
const (
	MethodKeyword  = "keyword"
	MethodSemantic = "semantic"
	MethodHybrid   = "hybrid"
)

// Embedding providers. An empty provider disables semantic search.
const (
	ProviderNone   = ""
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// MaxCompressionLevel is the highest accepted storage.compression_level.
const MaxCompressionLevel = 5

// CaptureSettings controls the capture scheduler.
type CaptureSettings struct {
	IntervalSeconds      int     `json:"interval_seconds"`
	IdleThresholdSeconds int     `json:"idle_threshold_seconds"`
	SimilarityThreshold  float64 `json:"similarity_threshold"`
	PauseWhenIdle        bool    `json:"pause_when_idle"`
	SkipSimilarScreens   bool    `json:"skip_similar_screens"`
	PreventSelfCapture   bool    `json:"prevent_self_capture"`
	CaptureOnStartup     bool    `json:"capture_on_startup"`

	// Backend selects the screenshot adapter: "auto", "grim" or "screencapture".
	Backend string `json:"backend,omitempty"`
}

// StorageSettings controls where captures live and how long they are kept.
type StorageSettings struct {
	// StoragePath is the data root for the database and blobs.
	// Empty means the base directory (~/.eidon). A leading ~ is expanded.
	StoragePath string `json:"storage_path,omitempty"`

	MaxStorageSizeBytes int64 `json:"max_storage_size_bytes"`

	// CompressionLevel is 0 (store cold blobs as-is) through 5 (smallest).
	CompressionLevel int `json:"compression_level"`

	// RetentionPeriodDays deletes captures older than this. 0 keeps forever.
	RetentionPeriodDays int `json:"retention_period_days"`

	// ArchiveOlderThanDays moves captures to the cold tier after this many days.
	ArchiveOlderThanDays int `json:"archive_older_than_days"`

	SweepIntervalMinutes int `json:"sweep_interval_minutes"`
}

// SearchSettings shapes search behaviour and result payloads.
type SearchSettings struct {
	Method              string  `json:"method"`
	MaxResults          int     `json:"max_results"`
	IncludeScreenshots  bool    `json:"include_screenshots"`
	IncludeText         bool    `json:"include_text"`
	IncludeMetadata     bool    `json:"include_metadata"`
	HybridKeywordWeight float64 `json:"hybrid_keyword_weight"`
	MinSemanticScore    float64 `json:"min_semantic_score"`
}

// PrivacySettings controls the built-in exclusion rules.
type PrivacySettings struct {
	// SeedDefaultRules installs the default exclusion rules on first start.
	SeedDefaultRules bool `json:"seed_default_rules"`
}

// OCRSettings configures the text extraction adapter.
type OCRSettings struct {
	Enabled  bool   `json:"enabled"`
	Command  string `json:"command,omitempty"`
	Language string `json:"language,omitempty"`
}

// EmbeddingSettings configures the optional semantic search backend.
type EmbeddingSettings struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	URL      string `json:"url,omitempty"`

	// APIKey is only ever read from the environment.
	APIKey string `json:"-"`
}

// ServerSettings configures the local HTTP server.
type ServerSettings struct {
	Bind string `json:"bind"`
	Port int    `json:"port"`
}

// Config holds application configuration.
// A *Config obtained from a Holder is a shared snapshot and must not be mutated.
type Config struct {
	Capture   CaptureSettings   `json:"capture"`
	Storage   StorageSettings   `json:"storage"`
	Search    SearchSettings    `json:"search"`
	Privacy   PrivacySettings   `json:"privacy"`
	OCR       OCRSettings       `json:"ocr"`
	Embedding EmbeddingSettings `json:"embedding"`
	Server    ServerSettings    `json:"server"`

	// AllowedPaths is an allowlist of directories for rule import/export.
	// Paths outside ~/.eidon/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for import/export.
	// When true, any directory is allowed (but symlink and extension checks still apply).
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of tool groups to disable entirely.
	// Known types: "capture", "timeline", "search", "rule", "storage", "archive", "settings".
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Capture: CaptureSettings{
			IntervalSeconds:      30,
			IdleThresholdSeconds: 120,
			SimilarityThreshold:  0.9,
			PauseWhenIdle:        true,
			SkipSimilarScreens:   true,
			PreventSelfCapture:   true,
			CaptureOnStartup:     true,
			Backend:              "auto",
		},
		Storage: StorageSettings{
			MaxStorageSizeBytes:  10 << 30,
			CompressionLevel:     3,
			RetentionPeriodDays:  90,
			ArchiveOlderThanDays: 7,
			SweepIntervalMinutes: 60,
		},
		Search: SearchSettings{
			Method:              MethodHybrid,
			MaxResults:          50,
			IncludeScreenshots:  true,
			IncludeText:         true,
			IncludeMetadata:     true,
			HybridKeywordWeight: 0.5,
			MinSemanticScore:    0.2,
		},
		Privacy: PrivacySettings{
			SeedDefaultRules: true,
		},
		OCR: OCRSettings{
			Enabled:  true,
			Command:  "tesseract",
			Language: "eng",
		},
		Server: ServerSettings{
			Bind: "127.0.0.1",
			Port: 7733,
		},
	}
}

// Load loads configuration from baseDir/config.json.
// Missing keys keep their defaults; a missing file yields DefaultConfig.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.eidon.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// loadFile decodes configPath on top of the defaults.
func loadFile(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()

	return cfg, nil
}

// Save writes cfg to configPath atomically (temp file + rename).
func Save(configPath string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(configPath), ".config-*.json")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	out.AllowedPaths = append([]string(nil), c.AllowedPaths...)
	out.DisabledTools = append([]string(nil), c.DisabledTools...)
	out.DisabledTypes = append([]string(nil), c.DisabledTypes...)
	return &out
}

// DataDir resolves the data root for the database and blobs.
func (c *Config) DataDir(baseDir string) string {
	p := strings.TrimSpace(c.Storage.StoragePath)
	if p == "" {
		return baseDir
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return filepath.Clean(p)
}

// SemanticEnabled reports whether an embedding provider is configured.
func (c *Config) SemanticEnabled() bool {
	return c.Embedding.Provider != ProviderNone
}

// Validate checks every range and cross-field constraint.
// Violations are returned as CONFIGURATION_ERROR naming the offending field.
func (c *Config) Validate() error {
	cp := c.Capture
	if cp.IntervalSeconds < 1 {
		return eidonerr.NewConfiguration("capture.interval_seconds", "must be at least 1")
	}
	if cp.IdleThresholdSeconds < 0 {
		return eidonerr.NewConfiguration("capture.idle_threshold_seconds", "must not be negative")
	}
	if cp.SimilarityThreshold < 0 || cp.SimilarityThreshold > 1 {
		return eidonerr.NewConfiguration("capture.similarity_threshold", "must be between 0.0 and 1.0")
	}
	switch cp.Backend {
	case "", "auto", "grim", "screencapture":
	default:
		return eidonerr.NewConfiguration("capture.backend", "must be one of auto, grim, screencapture")
	}

	st := c.Storage
	if st.MaxStorageSizeBytes <= 0 {
		return eidonerr.NewConfiguration("storage.max_storage_size_bytes", "must be positive")
	}
	if st.CompressionLevel < 0 || st.CompressionLevel > MaxCompressionLevel {
		return eidonerr.NewConfiguration("storage.compression_level", "must be between 0 and 5")
	}
	if st.RetentionPeriodDays < 0 {
		return eidonerr.NewConfiguration("storage.retention_period_days", "must not be negative (0 keeps forever)")
	}
	if st.ArchiveOlderThanDays < 0 {
		return eidonerr.NewConfiguration("storage.archive_older_than_days", "must not be negative")
	}
	if st.RetentionPeriodDays > 0 && st.ArchiveOlderThanDays >= st.RetentionPeriodDays {
		return eidonerr.NewConfiguration("storage.archive_older_than_days", "must be less than retention_period_days")
	}
	if st.SweepIntervalMinutes < 1 {
		return eidonerr.NewConfiguration("storage.sweep_interval_minutes", "must be at least 1")
	}

	sr := c.Search
	switch sr.Method {
	case MethodKeyword, MethodSemantic, MethodHybrid:
	default:
		return eidonerr.NewConfiguration("search.method", "must be one of keyword, semantic, hybrid")
	}
	if sr.MaxResults < 1 {
		return eidonerr.NewConfiguration("search.max_results", "must be at least 1")
	}
	if sr.HybridKeywordWeight < 0 || sr.HybridKeywordWeight > 1 {
		return eidonerr.NewConfiguration("search.hybrid_keyword_weight", "must be between 0.0 and 1.0")
	}
	if sr.MinSemanticScore < 0 || sr.MinSemanticScore > 1 {
		return eidonerr.NewConfiguration("search.min_semantic_score", "must be between 0.0 and 1.0")
	}

	switch c.Embedding.Provider {
	case ProviderNone, ProviderOllama, ProviderOpenAI:
	default:
		return eidonerr.NewConfiguration("embedding.provider", "must be empty, ollama or openai")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return eidonerr.NewConfiguration("server.port", "must be between 1 and 65535")
	}
	if strings.TrimSpace(c.Server.Bind) == "" {
		return eidonerr.NewConfiguration("server.bind", "must not be empty")
	}

	return nil
}

// normalize trims and deduplicates list settings.
func (c *Config) normalize() {
	c.AllowedPaths = mergeStringSlice(c.AllowedPaths, nil)
	c.DisabledTools = mergeStringSlice(c.DisabledTools, nil)
	c.DisabledTypes = mergeStringSlice(c.DisabledTypes, nil)
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
