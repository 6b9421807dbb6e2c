// Package config loads Kestrel configuration from defaults, an optional
// YAML file and KESTREL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix is the prefix for environment overrides, e.g. KESTREL_SERVER_PORT.
const EnvPrefix = "KESTREL"

// ErrInvalidConfig is returned when the loaded configuration is unusable.
var ErrInvalidConfig = errors.New("invalid configuration")

// Load reads configuration using the file named by KESTREL_CONFIG, if any.
func Load() (*domain.Config, error) {
	return LoadFile(os.Getenv(EnvPrefix + "_CONFIG"))
}

// LoadFile reads configuration from path (empty for none) layered over the
// tier defaults and under environment overrides.
func LoadFile(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := domain.DefaultConfig()
	if strings.EqualFold(v.GetString("tier"), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}
	setDefaults(v, cfg)

	// A configured factor list replaces the stock one rather than merging into it.
	if v.IsSet("scoring.factors") {
		cfg.Scoring.Factors = nil
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}

	if v.GetBool("debug") {
		cfg.Logging.Level = "debug"
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that defaults cannot express.
func Validate(cfg *domain.Config) error {
	s := cfg.Scoring
	if s.MediumThreshold <= 0 || s.MediumThreshold > s.HighThreshold || s.HighThreshold > 1 {
		return fmt.Errorf("%w: thresholds must satisfy 0 < medium <= high <= 1 (medium=%v high=%v)",
			ErrInvalidConfig, s.MediumThreshold, s.HighThreshold)
	}
	if cfg.Console.PageSize < 1 || cfg.Console.PageSize > 100 {
		return fmt.Errorf("%w: console.page_size must be between 1 and 100", ErrInvalidConfig)
	}
	if cfg.Console.IngestConcurrency < 1 {
		return fmt.Errorf("%w: console.ingest_concurrency must be at least 1", ErrInvalidConfig)
	}
	if cfg.Console.IngestRate < 0 {
		return fmt.Errorf("%w: console.ingest_rate must not be negative", ErrInvalidConfig)
	}
	if r := cfg.Tracing.SamplingRatio; r < 0 || r > 1 {
		return fmt.Errorf("%w: tracing.sampling_ratio must be between 0 and 1", ErrInvalidConfig)
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unknown repository driver %q", ErrInvalidConfig, cfg.Repository.Driver)
	}
	return nil
}

// setDefaults registers every scalar key so that AutomaticEnv can override it
// during Unmarshal.
func setDefaults(v *viper.Viper, cfg *domain.Config) {
	v.SetDefault("tier", string(cfg.Tier))
	v.SetDefault("seed_file", cfg.SeedFile)

	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)

	r := cfg.Repository
	v.SetDefault("repository.driver", r.Driver)
	v.SetDefault("repository.sqlite_path", r.SQLitePath)
	v.SetDefault("repository.postgres_host", r.PostgresHost)
	v.SetDefault("repository.postgres_port", r.PostgresPort)
	v.SetDefault("repository.postgres_user", r.PostgresUser)
	v.SetDefault("repository.postgres_password", r.PostgresPassword)
	v.SetDefault("repository.postgres_db", r.PostgresDB)
	v.SetDefault("repository.postgres_sslmode", r.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", r.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", r.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", r.ConnMaxLifetime)

	c := cfg.Cache
	v.SetDefault("cache.type", c.Type)
	v.SetDefault("cache.local_max_size", c.LocalMaxSize)
	v.SetDefault("cache.local_ttl", c.LocalTTL)
	v.SetDefault("cache.redis_addr", c.RedisAddr)
	v.SetDefault("cache.redis_password", c.RedisPassword)
	v.SetDefault("cache.redis_db", c.RedisDB)
	v.SetDefault("cache.enable_two_phase", c.EnableTwoPhase)
	v.SetDefault("cache.detail_ttl", c.DetailTTL)

	b := cfg.EventBus
	v.SetDefault("eventbus.type", b.Type)
	v.SetDefault("eventbus.channel_buffer_size", b.ChannelBufferSize)
	v.SetDefault("eventbus.nats_url", b.NATSUrl)
	v.SetDefault("eventbus.nats_token", b.NATSToken)
	v.SetDefault("eventbus.nats_max_reconnects", b.NATSMaxReconnects)
	v.SetDefault("eventbus.nats_reconnect_wait", b.NATSReconnectWait)

	s := cfg.Scoring
	v.SetDefault("scoring.high_threshold", s.HighThreshold)
	v.SetDefault("scoring.medium_threshold", s.MediumThreshold)
	v.SetDefault("scoring.average_amount", s.AverageAmount)
	v.SetDefault("scoring.currency", s.Currency)

	con := cfg.Console
	v.SetDefault("console.api_url", con.APIURL)
	v.SetDefault("console.request_timeout", con.RequestTimeout)
	v.SetDefault("console.page_size", con.PageSize)
	v.SetDefault("console.refresh_interval", con.RefreshInterval)
	v.SetDefault("console.reload_delay", con.ReloadDelay)
	v.SetDefault("console.return_delay", con.ReturnDelay)
	v.SetDefault("console.ingest_concurrency", con.IngestConcurrency)
	v.SetDefault("console.ingest_rate", con.IngestRate)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
	v.SetDefault("tracing.endpoint", cfg.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", cfg.Tracing.Insecure)
	v.SetDefault("tracing.sampling_ratio", cfg.Tracing.SamplingRatio)
}
