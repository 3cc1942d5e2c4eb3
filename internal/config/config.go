// Package config loads the process configuration from the environment, with
// flag overrides applied by the entrypoints.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the full process configuration. Optional integrations stay off
// when their settings are empty.
type Config struct {
	// Port is the HTTP listen port.
	Port string

	// MongoURI selects the persistent store; empty runs on the in-memory
	// store (single-process, data lost on restart).
	MongoURI string
	// MongoDatabase is the database name for the persistent store.
	MongoDatabase string

	// HighValueThreshold is the inclusive hold boundary in the smallest
	// currency unit; zero disables the gate.
	HighValueThreshold int64
	// ActingUser is the contributor identity for auto-detected savings
	// contributions.
	ActingUser string

	// GCSBucket enables raw-notification archival when set.
	GCSBucket string
	// GCSPrefix is the object prefix inside the archive bucket.
	GCSPrefix string

	// BigQueryProject and BigQueryDataset enable analytics export when both
	// are set.
	BigQueryProject string
	BigQueryDataset string

	// EnableModelFallback turns on the Gemini fallback for unmatched text.
	EnableModelFallback bool

	// SourcesFile optionally points at a JSON registry replacing the
	// builtin sources.
	SourcesFile string
	// AllowedSources is the user's allow-set of enabled source ids; nil
	// enables every registered source.
	AllowedSources []string

	// QueueBuffer and QueueWorkers size the ingestion job queue.
	QueueBuffer  int
	QueueWorkers int
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                getenv("PORT", "8080"),
		MongoURI:            os.Getenv("MONGO_URI"),
		MongoDatabase:       getenv("MONGO_DATABASE", "notiledger"),
		ActingUser:          os.Getenv("ACTING_USER"),
		GCSBucket:           os.Getenv("GCS_BUCKET"),
		GCSPrefix:           getenv("GCS_PREFIX", "notifications"),
		BigQueryProject:     os.Getenv("BQ_PROJECT"),
		BigQueryDataset:     getenv("BQ_DATASET", "notiledger"),
		EnableModelFallback: os.Getenv("ENABLE_MODEL_FALLBACK") == "true",
		SourcesFile:         os.Getenv("SOURCES_FILE"),
		AllowedSources:      getlist("ALLOWED_SOURCES"),
	}

	var err error
	if cfg.HighValueThreshold, err = getint64("HIGH_VALUE_THRESHOLD", 1000000); err != nil {
		return nil, err
	}
	buffer, err := getint64("QUEUE_BUFFER", 100)
	if err != nil {
		return nil, err
	}
	cfg.QueueBuffer = int(buffer)
	workers, err := getint64("QUEUE_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	cfg.QueueWorkers = int(workers)

	if cfg.HighValueThreshold < 0 {
		return nil, fmt.Errorf("config: HIGH_VALUE_THRESHOLD must not be negative")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getlist splits a comma-separated env var, dropping empty entries. An unset
// or empty var yields nil.
func getlist(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getint64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}
