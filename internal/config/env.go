package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	eidonerr "github.com/hpungsan/eidon/internal/errors"
)

// Environment variables recognised by ApplyEnv.
const (
	EnvBind          = "EIDON_BIND"
	EnvPort          = "EIDON_PORT"
	EnvStoragePath   = "EIDON_STORAGE_PATH"
	EnvEmbedProvider = "EIDON_EMBED_PROVIDER"
	EnvEmbedModel    = "EIDON_EMBED_MODEL"
	EnvEmbedURL      = "EIDON_EMBED_URL"
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvOCRLanguage   = "EIDON_OCR_LANGUAGE"

	// EnvHome moves the base dir. It is read from the process environment
	// only, since .env itself lives in the base dir.
	EnvHome = "EIDON_HOME"
)

var envKeys = []string{
	EnvBind, EnvPort, EnvStoragePath,
	EnvEmbedProvider, EnvEmbedModel, EnvEmbedURL, EnvOpenAIKey,
	EnvOCRLanguage,
}

// LoadEnv collects overrides from baseDir/.env and the process environment.
// Process variables win over the .env file. A missing .env is not an error.
func LoadEnv(baseDir string) (map[string]string, error) {
	env := make(map[string]string)

	dotenv := filepath.Join(baseDir, ".env")
	if _, err := os.Stat(dotenv); err == nil {
		fileVars, err := godotenv.Read(dotenv)
		if err != nil {
			return nil, err
		}
		for _, k := range envKeys {
			if v, ok := fileVars[k]; ok {
				env[k] = v
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	for _, k := range envKeys {
		if v, ok := os.LookupEnv(k); ok {
			env[k] = v
		}
	}
	return env, nil
}

// ApplyEnv overlays environment overrides onto cfg in place.
func ApplyEnv(cfg *Config, env map[string]string) error {
	if v := strings.TrimSpace(env[EnvBind]); v != "" {
		cfg.Server.Bind = v
	}
	if v := strings.TrimSpace(env[EnvPort]); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return eidonerr.NewConfiguration(EnvPort, "must be an integer")
		}
		cfg.Server.Port = port
	}
	if v := strings.TrimSpace(env[EnvStoragePath]); v != "" {
		cfg.Storage.StoragePath = v
	}
	if v := strings.TrimSpace(env[EnvEmbedProvider]); v != "" {
		cfg.Embedding.Provider = strings.ToLower(v)
	}
	if v := strings.TrimSpace(env[EnvEmbedModel]); v != "" {
		cfg.Embedding.Model = v
	}
	if v := strings.TrimSpace(env[EnvEmbedURL]); v != "" {
		cfg.Embedding.URL = v
	}
	if v := strings.TrimSpace(env[EnvOpenAIKey]); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := strings.TrimSpace(env[EnvOCRLanguage]); v != "" {
		cfg.OCR.Language = v
	}
	return nil
}

// LoadAll loads config.json, applies .env and environment overrides, and validates.
func LoadAll(baseDir string) (*Config, error) {
	cfg, err := Load(baseDir)
	if err != nil {
		return nil, err
	}
	env, err := LoadEnv(baseDir)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, env); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
