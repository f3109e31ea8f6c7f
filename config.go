package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/sethvargo/go-envconfig"
)

// Config holds the service settings, loaded from the environment
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR, default=:8080"`

	Log      LogConfig
	Database DatabaseConfig
	Tokens   TokensConfig
	Guard    GuardSettings
	Kafka    KafkaConfig

	BcryptCost int `env:"BCRYPT_COST, default=12"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL,  default=info"`
	Pretty bool   `env:"LOG_PRETTY, default=false"`
}

type DatabaseConfig struct {
	// Driver is postgres or sqlite
	Driver string `env:"DB_DRIVER, default=sqlite"`
	DSN    string `env:"DB_DSN,    default=file:tenant-auth.db?cache=shared"`
}

type TokensConfig struct {
	AccessSecret    string        `env:"ACCESS_TOKEN_SECRET"`
	RefreshSecret   string        `env:"REFRESH_TOKEN_SECRET"`
	AccessTTL       time.Duration `env:"ACCESS_TOKEN_TTL,      default=15m"`
	RefreshTTL      time.Duration `env:"REFRESH_TOKEN_TTL,     default=168h"`
	Issuer          string        `env:"TOKEN_ISSUER,          default=tenant-auth"`
	AccessAudience  string        `env:"ACCESS_TOKEN_AUDIENCE,  default=tenant-auth:access"`
	RefreshAudience string        `env:"REFRESH_TOKEN_AUDIENCE, default=tenant-auth:refresh"`
}

type GuardSettings struct {
	MaxAttempts   int           `env:"GUARD_MAX_ATTEMPTS,   default=5"`
	Window        time.Duration `env:"GUARD_WINDOW,         default=15m"`
	Capacity      int           `env:"GUARD_CAPACITY,       default=10000"`
	SweepInterval time.Duration `env:"GUARD_SWEEP_INTERVAL, default=30m"`
}

type KafkaConfig struct {
	// Brokers is empty when activity events only go to the log
	Brokers []string `env:"KAFKA_BROKERS"`
	Topic   string   `env:"KAFKA_TOPIC, default=tenant-auth.activity"`
	// Format is "normalized" for the flattened audit record or "raw" for
	// the event as is
	Format string `env:"KAFKA_FORMAT, default=normalized"`
}

// LoadConfig reads the configuration from the process environment
func LoadConfig(ctx context.Context) (*Config, error) {
	return LoadConfigFrom(ctx, envconfig.OsLookuper())
}

// LoadConfigFrom reads the configuration through the given lookuper
func LoadConfigFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that have no safe default
func (c Config) Validate() error {
	err := validation.Errors{
		"database": validation.ValidateStruct(&c.Database,
			validation.Field(&c.Database.Driver, validation.Required, validation.In("postgres", "sqlite")),
			validation.Field(&c.Database.DSN, validation.Required),
		),
		"tokens": validation.ValidateStruct(&c.Tokens,
			validation.Field(&c.Tokens.AccessSecret, validation.Required, validation.Length(32, 0)),
			validation.Field(&c.Tokens.RefreshSecret, validation.Required, validation.Length(32, 0),
				validation.NotIn(c.Tokens.AccessSecret).Error("must differ from the access secret")),
			validation.Field(&c.Tokens.Issuer, validation.Required),
			validation.Field(&c.Tokens.AccessAudience, validation.Required),
			validation.Field(&c.Tokens.RefreshAudience, validation.Required,
				validation.NotIn(c.Tokens.AccessAudience).Error("must differ from the access audience")),
		),
		"guard": validation.ValidateStruct(&c.Guard,
			validation.Field(&c.Guard.MaxAttempts, validation.Required, validation.Min(1)),
			validation.Field(&c.Guard.Capacity, validation.Required, validation.Min(1)),
		),
		"kafka": validation.ValidateStruct(&c.Kafka,
			validation.Field(&c.Kafka.Format, validation.In("normalized", "raw")),
		),
		"bcrypt_cost": validation.Validate(c.BcryptCost, validation.Min(4), validation.Max(31)),
	}.Filter()

	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid configuration")
	}
	return nil
}

// SignerConfigs returns the access and refresh signing parameters
func (c Config) SignerConfigs() (access, refresh SignerConfig) {
	access = SignerConfig{
		Secret:   []byte(c.Tokens.AccessSecret),
		TTL:      c.Tokens.AccessTTL,
		Issuer:   c.Tokens.Issuer,
		Audience: c.Tokens.AccessAudience,
	}
	refresh = SignerConfig{
		Secret:   []byte(c.Tokens.RefreshSecret),
		TTL:      c.Tokens.RefreshTTL,
		Issuer:   c.Tokens.Issuer,
		Audience: c.Tokens.RefreshAudience,
	}
	return access, refresh
}

// GuardConfig converts the guard settings
func (c Config) GuardConfig() GuardConfig {
	return GuardConfig{
		MaxAttempts:   c.Guard.MaxAttempts,
		Window:        c.Guard.Window,
		Capacity:      c.Guard.Capacity,
		SweepInterval: c.Guard.SweepInterval,
	}
}
