package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server"`

	// Tier determines which infrastructure backs the server
	Tier Tier `mapstructure:"tier"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository"`
	Cache      CacheConfig      `mapstructure:"cache"`
	EventBus   EventBusConfig   `mapstructure:"eventbus"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`

	// Review console settings
	Console ConsoleConfig `mapstructure:"console"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`

	// SeedFile optionally names a JSON file of transactions loaded at startup.
	SeedFile string `mapstructure:"seed_file"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
}

// ConsoleConfig holds settings for the review console client.
type ConsoleConfig struct {
	// APIURL is the base URL of the persistence API.
	APIURL string `mapstructure:"api_url"`

	// RequestTimeout bounds a single API call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// PageSize is the page requested when loading the collection.
	PageSize int `mapstructure:"page_size"`

	// RefreshInterval is the polling period of the collection view.
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`

	// ReloadDelay is the pause before reloading a transaction after a disposition.
	ReloadDelay time.Duration `mapstructure:"reload_delay"`

	// ReturnDelay is the pause before returning to the collection after an import.
	ReturnDelay time.Duration `mapstructure:"return_delay"`

	// IngestConcurrency bounds in-flight create calls during an import. 1 is sequential.
	IngestConcurrency int `mapstructure:"ingest_concurrency"`

	// IngestRate caps create calls per second during an import. 0 disables the limit.
	IngestRate float64 `mapstructure:"ingest_rate"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	Endpoint      string  `mapstructure:"endpoint"` // OTLP/HTTP collector host:port
	Insecure      bool    `mapstructure:"insecure"`
	SamplingRatio float64 `mapstructure:"sampling_ratio"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + in-memory cache + channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + Redis + NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			DetailTTL:    10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scoring: DefaultScoringConfig(),
		Console: ConsoleConfig{
			APIURL:            "http://localhost:8000",
			RequestTimeout:    15 * time.Second,
			PageSize:          100,
			RefreshInterval:   30 * time.Second,
			ReloadDelay:       time.Second,
			ReturnDelay:       2 * time.Second,
			IngestConcurrency: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			ServiceName:   "kestrel",
			Endpoint:      "localhost:4318",
			Insecure:      true,
			SamplingRatio: 1.0,
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		DetailTTL:      10 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
