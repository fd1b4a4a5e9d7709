// Package config loads process configuration from the environment and the
// knowledge-base registry file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Store selects the backend: "surreal" or "memory".
	Store string

	// Server
	ServerPort string
	// ServerURL is where the CLI finds the server.
	ServerURL     string
	ClientTimeout time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Execution
	Workers               int
	PollInterval          time.Duration
	LeaseTTL              time.Duration
	APIMinInterval        time.Duration
	MaxAttempts           int
	RetryInitial          time.Duration
	RetryMax              time.Duration
	CombinedFailurePolicy string
	VerifyValueTypes      bool
	AuthorizedUsers       []string
	Admins                []string
	WikibasesFile         string
	DefaultWikibase       string
	WikibaseToken         string
	UserAgent             string

	// User is the CLI's identity when submitting and acting on batches.
	User string
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "wikibatch"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "batches"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		Store: getEnv("WIKIBATCH_STORE", "surreal"),

		ServerPort:    getEnv("WIKIBATCH_SERVER_PORT", "8484"),
		ServerURL:     getEnv("WIKIBATCH_SERVER_URL", "http://localhost:8484"),
		ClientTimeout: getDuration("WIKIBATCH_CLIENT_TIMEOUT", 30*time.Second),

		LogFile:  getEnv("WIKIBATCH_LOG_FILE", "/tmp/wikibatch.log"),
		LogLevel: parseLogLevel(getEnv("WIKIBATCH_LOG_LEVEL", "INFO")),

		Workers:               getInt("WIKIBATCH_WORKERS", 1),
		PollInterval:          getDuration("WIKIBATCH_POLL_INTERVAL", 5*time.Second),
		LeaseTTL:              getDuration("WIKIBATCH_LEASE_TTL", 2*time.Minute),
		APIMinInterval:        getDuration("WIKIBATCH_API_MIN_INTERVAL", time.Second),
		MaxAttempts:           getInt("WIKIBATCH_MAX_ATTEMPTS", 5),
		RetryInitial:          getDuration("WIKIBATCH_RETRY_INITIAL", 2*time.Second),
		RetryMax:              getDuration("WIKIBATCH_RETRY_MAX", 30*time.Second),
		CombinedFailurePolicy: getEnv("WIKIBATCH_COMBINED_FAILURE_POLICY", "shared"),
		VerifyValueTypes:      getEnv("WIKIBATCH_VERIFY_VALUE_TYPES", "false") == "true",
		AuthorizedUsers:       splitList(getEnv("WIKIBATCH_AUTHORIZED_USERS", "*")),
		Admins:                splitList(getEnv("WIKIBATCH_ADMINS", "")),
		WikibasesFile:         getEnv("WIKIBATCH_WIKIBASES_FILE", ""),
		DefaultWikibase:       getEnv("WIKIBATCH_DEFAULT_WIKIBASE", "wikidata"),
		WikibaseToken:         getEnv("WIKIBASE_TOKEN", ""),
		UserAgent:             getEnv("WIKIBATCH_USER_AGENT", "wikibatch/1.0 (bulk edit service)"),

		User: getEnv("WIKIBATCH_USER", os.Getenv("USER")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid integer, using default", "key", key, "value", raw, "default", defaultVal)
		return defaultVal
	}
	return n
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", raw, "default", defaultVal)
		return defaultVal
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Wikibase is one entry of the knowledge-base registry.
type Wikibase struct {
	ID          string `yaml:"id" json:"id"`
	URL         string `yaml:"url" json:"url"`
	Description string `yaml:"description" json:"description,omitempty"`
	// Tool is the EditGroups tool name used in edit summaries.
	Tool string `yaml:"tool" json:"tool,omitempty"`
}

// DefaultWikibases is used when no registry file is configured.
var DefaultWikibases = []Wikibase{{
	ID:          "wikidata",
	URL:         "https://www.wikidata.org",
	Description: "Wikidata",
	Tool:        "wikibatch",
}}

type registryFile struct {
	Wikibases []Wikibase `yaml:"wikibases"`
}

// LoadWikibases reads the registry at path. An empty path yields
// DefaultWikibases.
func LoadWikibases(path string) ([]Wikibase, error) {
	if path == "" {
		return slices.Clone(DefaultWikibases), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wikibases: %w", err)
	}
	return ParseWikibases(data)
}

// ParseWikibases decodes a registry document and validates its entries.
func ParseWikibases(data []byte) ([]Wikibase, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse wikibases: %w", err)
	}
	if len(f.Wikibases) == 0 {
		return nil, fmt.Errorf("parse wikibases: no entries")
	}

	seen := make(map[string]bool, len(f.Wikibases))
	for i, wb := range f.Wikibases {
		switch {
		case wb.ID == "":
			return nil, fmt.Errorf("wikibase %d: missing id", i)
		case wb.URL == "":
			return nil, fmt.Errorf("wikibase %q: missing url", wb.ID)
		case seen[wb.ID]:
			return nil, fmt.Errorf("wikibase %q: duplicate id", wb.ID)
		}
		seen[wb.ID] = true
	}
	return f.Wikibases, nil
}
