package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Vector backends.
const (
	VectorBackendQdrant = "qdrant"
	VectorBackendMemory = "memory"
)

// Model providers.
const (
	ProviderHTTP       = "http"
	ProviderLangchain  = "langchaingo"
	ProviderHash       = "hash"
	defaultAPIPort     = "9000"
	defaultWorkerCount = 4
)

// Config holds all configuration for the application.
type Config struct {
	APIPort   string
	LogLevel  slog.Level
	LogFormat string

	DBPath   string
	BlobDir  string
	QueueDir string

	VectorBackend    string
	QdrantURL        string
	QdrantCollection string
	QdrantVectorSize int

	EmbeddingProvider  string
	EmbeddingBaseURL   string
	EmbeddingModelName string

	LLMProvider  string
	LLMBaseURL   string
	LLMModelName string
	LLMAPIKey    string
	LLMMaxTokens int

	ExternalTimeout   time.Duration
	WorkerPoolSize    int
	WorkerMaxAttempts int
	MaxUploadBytes    int64

	// IngestConfigPath points at an optional YAML file with routing
	// thresholds and chunk windows.
	IngestConfigPath string
	Tuning           *Tuning

	// ImportDir, when set, is imported in the background at startup on
	// behalf of ImportOwner.
	ImportDir   string
	ImportOwner string
}

// Load reads configuration from environment variables and returns a Config struct.
// It applies defaults for optional fields and validates required fields.
// If a .env file exists in the current directory or project root, it will be loaded automatically.
// Environment variables already set take precedence over .env file values.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	// Check current directory first, then walk up to find project root (where go.mod is)
	_ = godotenv.Load() // Try current directory

	wd, err := os.Getwd()
	if err == nil {
		dir := wd
		for i := 0; i < 5; i++ { // Limit search depth
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break // Reached filesystem root
			}
			dir = parent
		}
	}

	cfg := &Config{
		APIPort:            getEnv("API_PORT", defaultAPIPort),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		DBPath:             getEnv("DB_PATH", "./data/docrag.db"),
		BlobDir:            getEnv("BLOB_DIR", "./data/blobs"),
		QueueDir:           getEnv("QUEUE_DIR", "./data/queue"),
		VectorBackend:      strings.ToLower(getEnv("VECTOR_BACKEND", VectorBackendQdrant)),
		QdrantURL:          getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection:   getEnv("QDRANT_COLLECTION", "documents"),
		EmbeddingProvider:  strings.ToLower(getEnv("EMBEDDING_PROVIDER", ProviderHTTP)),
		EmbeddingBaseURL:   getEnv("EMBEDDING_BASE_URL", "http://localhost:8081"),
		EmbeddingModelName: getEnv("EMBEDDING_MODEL_NAME", "granite-embedding-278m-multilingual"),
		LLMProvider:        strings.ToLower(getEnv("LLM_PROVIDER", ProviderHTTP)),
		LLMBaseURL:         getEnv("LLM_BASE_URL", "http://localhost:8080"),
		LLMModelName:       getEnv("LLM_MODEL", "Llama-3.1-8B-Instruct"),
		LLMAPIKey:          getEnv("LLM_API_KEY", "dummy-key"),
		IngestConfigPath:   getEnv("INGEST_CONFIG_PATH", ""),
		ImportDir:          getEnv("IMPORT_DIR", ""),
		ImportOwner:        getEnv("IMPORT_OWNER", ""),
	}
	if cfg.ImportDir != "" && cfg.ImportOwner == "" {
		return nil, fmt.Errorf("IMPORT_OWNER is required when IMPORT_DIR is set")
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error: %w", err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	switch cfg.VectorBackend {
	case VectorBackendQdrant, VectorBackendMemory:
	default:
		return nil, fmt.Errorf("VECTOR_BACKEND must be qdrant or memory, got %q", cfg.VectorBackend)
	}
	switch cfg.EmbeddingProvider {
	case ProviderHTTP, ProviderLangchain, ProviderHash:
	default:
		return nil, fmt.Errorf("EMBEDDING_PROVIDER must be http, langchaingo or hash, got %q", cfg.EmbeddingProvider)
	}
	switch cfg.LLMProvider {
	case ProviderHTTP, ProviderLangchain:
	default:
		return nil, fmt.Errorf("LLM_PROVIDER must be http or langchaingo, got %q", cfg.LLMProvider)
	}

	// Parse QDRANT_VECTOR_SIZE
	// Note: This must match the output vector size of the embeddings model.
	// If the vector size changes, the Qdrant collection must be recreated.
	vectorSizeStr := getEnv("QDRANT_VECTOR_SIZE", "")
	if vectorSizeStr == "" {
		return nil, fmt.Errorf("QDRANT_VECTOR_SIZE is required")
	}
	vectorSize, err := strconv.Atoi(vectorSizeStr)
	if err != nil {
		return nil, fmt.Errorf("QDRANT_VECTOR_SIZE must be a valid integer: %w", err)
	}
	if vectorSize <= 0 {
		return nil, fmt.Errorf("QDRANT_VECTOR_SIZE must be greater than 0")
	}
	cfg.QdrantVectorSize = vectorSize

	if cfg.LLMMaxTokens, err = getEnvInt("LLM_MAX_TOKENS", 256); err != nil {
		return nil, err
	}
	if cfg.WorkerPoolSize, err = getEnvInt("WORKER_POOL_SIZE", defaultWorkerCount); err != nil {
		return nil, err
	}
	if cfg.WorkerMaxAttempts, err = getEnvInt("WORKER_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	maxUpload, err := getEnvInt("MAX_UPLOAD_BYTES", 100<<20)
	if err != nil {
		return nil, err
	}
	cfg.MaxUploadBytes = int64(maxUpload)

	cfg.ExternalTimeout, err = time.ParseDuration(getEnv("EXTERNAL_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("EXTERNAL_TIMEOUT must be a duration like 30s: %w", err)
	}
	if cfg.ExternalTimeout <= 0 {
		return nil, fmt.Errorf("EXTERNAL_TIMEOUT must be greater than 0")
	}

	cfg.Tuning, err = LoadTuning(cfg.IngestConfigPath)
	if err != nil {
		return nil, err
	}
	// The upload cap from the environment wins over the tuning file.
	cfg.Tuning.Thresholds.Max = cfg.MaxUploadBytes
	if err := cfg.Tuning.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES: %w", err)
	}

	// Create data directories if they don't exist
	for _, dir := range []string{filepath.Dir(cfg.DBPath), cfg.BlobDir, cfg.QueueDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt parses a positive integer environment variable.
func getEnvInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return n, nil
}
