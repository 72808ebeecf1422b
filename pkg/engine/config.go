package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/memvault/memvault-go/pkg/classifier"
	"github.com/memvault/memvault-go/pkg/decay"
	"github.com/memvault/memvault-go/pkg/embedder"
	"github.com/memvault/memvault-go/pkg/embedder/mock"
	"github.com/memvault/memvault-go/pkg/embedder/openai"
	"github.com/memvault/memvault-go/pkg/search"
	"github.com/memvault/memvault-go/pkg/store"
	"github.com/memvault/memvault-go/pkg/store/mysql"
	"github.com/memvault/memvault-go/pkg/store/postgres"
	"github.com/memvault/memvault-go/pkg/store/sqlite"
)

// Config contains the complete configuration for a MemVault engine.
//
// It is an immutable snapshot: components copy what they need at
// construction and never observe later mutation. There is no process-wide
// configuration state.
//
// Example:
//
//	config := &engine.Config{
//	    Store: engine.StoreConfig{
//	        Provider: "sqlite",
//	        SQLite:   engine.SQLiteConfig{Path: "./memvault.db"},
//	    },
//	    Embedder: engine.EmbedderConfig{
//	        Provider:   "openai",
//	        APIKey:     "sk-...",
//	        Dimensions: 1536,
//	    },
//	    Decay: decay.Config{Enabled: true},
//	}
type Config struct {
	// Store contains storage backend configuration.
	Store StoreConfig `yaml:"store" json:"store"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `yaml:"embedder" json:"embedder"`

	// Classifier contains the classification rule table.
	Classifier classifier.Config `yaml:"classifier" json:"classifier"`

	// Decay contains retention and cleanup settings.
	Decay decay.Config `yaml:"decay" json:"decay"`

	// Index contains ANN index tuning parameters.
	Index IndexConfig `yaml:"index" json:"index"`

	// Search contains engine-level retrieval settings.
	Search search.Config `yaml:"search" json:"search"`

	// ReconcileInterval is the period of the background job that repairs
	// records whose index insert failed. Zero disables reconciliation.
	ReconcileInterval time.Duration `yaml:"reconcile_interval" json:"reconcile_interval"`

	// WriteTimeout is the hard per-write timeout. Zero means the caller's
	// context governs.
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// TouchOnRead extends the expiry of entries returned by Search,
	// reinforcing frequently recalled memories. Off by default.
	TouchOnRead bool `yaml:"touch_on_read" json:"touch_on_read"`

	// ReinforcementFactor scales the remaining lifetime extension applied
	// by TouchOnRead. Defaults to 0.3.
	ReinforcementFactor float64 `yaml:"reinforcement_factor" json:"reinforcement_factor"`

	// NodeID distinguishes id generators across processes sharing a
	// backend. Range 0-1023.
	NodeID int64 `yaml:"node_id" json:"node_id"`
}

// StoreConfig contains configuration for the storage backend.
//
// Supported providers: sqlite (default), postgres, mysql.
type StoreConfig struct {
	// Provider is the backend name (sqlite, postgres, mysql).
	Provider string `yaml:"provider" json:"provider"`

	// SQLite contains SQLite-specific settings.
	SQLite SQLiteConfig `yaml:"sqlite" json:"sqlite"`

	// Postgres contains PostgreSQL-specific settings.
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`

	// MySQL contains settings for MySQL-compatible backends (MySQL,
	// OceanBase, MariaDB).
	MySQL MySQLConfig `yaml:"mysql" json:"mysql"`
}

// SQLiteConfig contains SQLite backend settings.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string `yaml:"path" json:"path"`

	// TableName is the table to use. Defaults to "memories".
	TableName string `yaml:"table_name" json:"table_name"`
}

// PostgresConfig contains PostgreSQL backend settings.
type PostgresConfig struct {
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	User      string `yaml:"user" json:"user"`
	Password  string `yaml:"password" json:"password"`
	DBName    string `yaml:"db_name" json:"db_name"`
	TableName string `yaml:"table_name" json:"table_name"`
	SSLMode   string `yaml:"ssl_mode" json:"ssl_mode"`

	// MaxOpenConns bounds the connection pool.
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns"`
}

// MySQLConfig contains settings for MySQL-compatible backends.
type MySQLConfig struct {
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	User      string `yaml:"user" json:"user"`
	Password  string `yaml:"password" json:"password"`
	DBName    string `yaml:"db_name" json:"db_name"`
	TableName string `yaml:"table_name" json:"table_name"`

	// MaxOpenConns bounds the connection pool.
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, mock, none. "none" disables the vector tier
// entirely; entries are reachable via text and scan search.
type EmbedderConfig struct {
	// Provider is the embedding provider name (openai, mock, none).
	Provider string `yaml:"provider" json:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `yaml:"api_key" json:"api_key"`

	// Model is the embedding model name (e.g., "text-embedding-3-small").
	Model string `yaml:"model" json:"model"`

	// BaseURL is the base URL for the API (optional).
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Dimensions is the embedding vector dimension.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// CacheEntries sizes the in-process embedding cache.
	// Zero disables caching.
	CacheEntries int64 `yaml:"cache_entries" json:"cache_entries"`
}

// IndexConfig contains ANN index tuning parameters.
type IndexConfig struct {
	// M is the maximum connections per node on the upper graph layers.
	M int `yaml:"m" json:"m"`

	// EfConstruction is the candidate-list size during insertion.
	EfConstruction int `yaml:"ef_construction" json:"ef_construction"`

	// EfSearch is the default candidate-list size during queries.
	EfSearch int `yaml:"ef_search" json:"ef_search"`
}

// Validate validates the configuration.
//
// Configuration problems fail fast here, at engine construction, never at
// per-call time. Returns an error wrapping ErrInvalidConfig with a specific
// reason, or nil.
func (c *Config) Validate() error {
	switch c.Store.Provider {
	case "", "sqlite":
		if c.Store.SQLite.Path == "" {
			return NewEngineError("Validate", fmt.Errorf("%w: sqlite path is required", ErrInvalidConfig))
		}
	case "postgres":
		if c.Store.Postgres.Host == "" || c.Store.Postgres.DBName == "" {
			return NewEngineError("Validate", fmt.Errorf("%w: postgres host and db_name are required", ErrInvalidConfig))
		}
	case "mysql":
		if c.Store.MySQL.Host == "" || c.Store.MySQL.DBName == "" {
			return NewEngineError("Validate", fmt.Errorf("%w: mysql host and db_name are required", ErrInvalidConfig))
		}
	default:
		return NewEngineError("Validate", fmt.Errorf("%w: unknown store provider %q", ErrInvalidConfig, c.Store.Provider))
	}

	switch c.Embedder.Provider {
	case "", "none", "mock":
	case "openai":
		if c.Embedder.APIKey == "" {
			return NewEngineError("Validate", fmt.Errorf("%w: openai embedder requires an api key", ErrInvalidConfig))
		}
	default:
		return NewEngineError("Validate", fmt.Errorf("%w: unknown embedder provider %q", ErrInvalidConfig, c.Embedder.Provider))
	}

	if c.Classifier.DefaultImportance < 0 {
		return NewEngineError("Validate", fmt.Errorf("%w: default importance must be >= 0", ErrInvalidConfig))
	}
	for event, rule := range c.Classifier.EventRules {
		if rule.Importance < 0 {
			return NewEngineError("Validate", fmt.Errorf("%w: event rule %q has negative importance", ErrInvalidConfig, event))
		}
	}
	for agent, rule := range c.Classifier.AgentRules {
		if rule.ImportanceMultiplier < 0 {
			return NewEngineError("Validate", fmt.Errorf("%w: agent rule %q has negative multiplier", ErrInvalidConfig, agent))
		}
		switch rule.MemoryType {
		case "", store.ShortTerm, store.LongTerm:
		default:
			return NewEngineError("Validate", fmt.Errorf("%w: agent rule %q has unknown memory type %q", ErrInvalidConfig, agent, rule.MemoryType))
		}
	}

	if c.ReinforcementFactor < 0 {
		return NewEngineError("Validate", fmt.Errorf("%w: reinforcement factor must be >= 0", ErrInvalidConfig))
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return NewEngineError("Validate", fmt.Errorf("%w: node id must be in [0, 1023]", ErrInvalidConfig))
	}

	return nil
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for a .env file (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - DATABASE_PROVIDER (sqlite, postgres, mysql)
//   - SQLITE_PATH, SQLITE_TABLE
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD,
//     POSTGRES_DATABASE, POSTGRES_SSLMODE
//   - MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASSWORD, MYSQL_DATABASE
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL,
//     EMBEDDING_BASE_URL, EMBEDDING_DIMENSIONS
//   - DECAY_ENABLED, DECAY_SHORT_TERM_HOURS, DECAY_LONG_TERM_HOURS,
//     DECAY_LOG_RETENTION_MINUTES
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnv() (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{}

	cfg.Store.Provider = getEnvOrDefault("DATABASE_PROVIDER", "sqlite")
	switch cfg.Store.Provider {
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))
		cfg.Store.MySQL = MySQLConfig{
			Host:     getEnvOrDefault("MYSQL_HOST", "localhost"),
			Port:     port,
			User:     getEnvOrDefault("MYSQL_USER", "root"),
			Password: os.Getenv("MYSQL_PASSWORD"),
			DBName:   getEnvOrDefault("MYSQL_DATABASE", "memvault"),
		}
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		cfg.Store.Postgres = PostgresConfig{
			Host:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			Port:     port,
			User:     getEnvOrDefault("POSTGRES_USER", "postgres"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DBName:   getEnvOrDefault("POSTGRES_DATABASE", "memvault"),
			SSLMode:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	default:
		cfg.Store.SQLite = SQLiteConfig{
			Path:      getEnvOrDefault("SQLITE_PATH", "./memvault.db"),
			TableName: getEnvOrDefault("SQLITE_TABLE", "memories"),
		}
	}

	dims, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_DIMENSIONS", "1536"))
	cfg.Embedder = EmbedderConfig{
		Provider:   getEnvOrDefault("EMBEDDING_PROVIDER", "openai"),
		APIKey:     os.Getenv("EMBEDDING_API_KEY"),
		Model:      getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
		BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
		Dimensions: dims,
	}

	cfg.Decay.Enabled = getEnvOrDefault("DECAY_ENABLED", "true") == "true"
	if v := os.Getenv("DECAY_SHORT_TERM_HOURS"); v != "" {
		cfg.Decay.ShortTermHours, _ = strconv.ParseFloat(v, 64)
	}
	if v := os.Getenv("DECAY_LONG_TERM_HOURS"); v != "" {
		cfg.Decay.LongTermHours, _ = strconv.ParseFloat(v, 64)
	}
	if v := os.Getenv("DECAY_LOG_RETENTION_MINUTES"); v != "" {
		cfg.Decay.LogRetentionMinutes, _ = strconv.ParseFloat(v, 64)
	}

	return cfg, nil
}

// LoadConfigFromFile loads configuration from a YAML file.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns a Config instance, or an error if loading or parsing fails.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewEngineError("LoadConfigFromFile", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, NewEngineError("LoadConfigFromFile", err)
	}

	return &cfg, nil
}

// FindEnvFile searches for a .env or .env.example file.
//
// The search checks the current directory, then up to 5 directory levels up.
// Returns the path of the first file found and whether one was found.
func FindEnvFile() (string, bool) {
	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		for _, name := range []string{".env", ".env.example"} {
			p := filepath.Join(dir, name)
			if _, err := os.Stat(p); err == nil {
				return p, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// buildStore constructs the storage backend named by the configuration.
func (c *Config) buildStore() (store.Store, error) {
	switch c.Store.Provider {
	case "postgres":
		return postgres.NewClient(&postgres.Config{
			Host:         c.Store.Postgres.Host,
			Port:         c.Store.Postgres.Port,
			User:         c.Store.Postgres.User,
			Password:     c.Store.Postgres.Password,
			DBName:       c.Store.Postgres.DBName,
			TableName:    c.Store.Postgres.TableName,
			SSLMode:      c.Store.Postgres.SSLMode,
			MaxOpenConns: c.Store.Postgres.MaxOpenConns,
		})
	case "mysql":
		return mysql.NewClient(&mysql.Config{
			Host:         c.Store.MySQL.Host,
			Port:         c.Store.MySQL.Port,
			User:         c.Store.MySQL.User,
			Password:     c.Store.MySQL.Password,
			DBName:       c.Store.MySQL.DBName,
			TableName:    c.Store.MySQL.TableName,
			MaxOpenConns: c.Store.MySQL.MaxOpenConns,
		})
	default:
		return sqlite.NewClient(&sqlite.Config{
			DBPath:    c.Store.SQLite.Path,
			TableName: c.Store.SQLite.TableName,
		})
	}
}

// buildEmbedder constructs the embedding provider named by the configuration.
// A nil provider (with nil error) means embeddings are disabled.
func (c *Config) buildEmbedder() (embedder.Provider, error) {
	var inner embedder.Provider
	switch c.Embedder.Provider {
	case "none":
		return nil, nil
	case "mock":
		inner = mock.New(c.Embedder.Dimensions)
	default:
		client, err := openai.NewClient(&openai.Config{
			APIKey:     c.Embedder.APIKey,
			Model:      c.Embedder.Model,
			BaseURL:    c.Embedder.BaseURL,
			Dimensions: c.Embedder.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		inner = client
	}

	if c.Embedder.CacheEntries > 0 {
		return embedder.NewCachedProvider(inner, &embedder.CacheConfig{
			MaxEntries: c.Embedder.CacheEntries,
		})
	}
	return inner, nil
}
