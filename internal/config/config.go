// Package config loads service configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "30s"
// or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full server configuration. Every field has a usable
// default so the service starts with no file at all.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Chain     ChainConfig     `yaml:"chain"`
	Generator GeneratorConfig `yaml:"generator"`
	Mail      MailConfig      `yaml:"mail"`
	Packager  PackagerConfig  `yaml:"packager"`
	Refund    RefundConfig    `yaml:"refund"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	RateLimit       float64  `yaml:"rate_limit"` // requests per second per client
	RateBurst       int      `yaml:"rate_burst"`
}

type DatabaseConfig struct {
	// DSN empty selects the in-memory store.
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type ChainConfig struct {
	RPCURL      string   `yaml:"rpc_url"`
	Treasury    string   `yaml:"treasury"`
	SignerURL   string   `yaml:"signer_url"`
	SignerToken string   `yaml:"signer_token"`
	Timeout     Duration `yaml:"timeout"`
}

type GeneratorConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Workers  int    `yaml:"workers"`
}

type MailConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	From     string `yaml:"from"`
}

type PackagerConfig struct {
	SpoolDir string `yaml:"spool_dir"`
}

type RefundConfig struct {
	SweepSchedule string `yaml:"sweep_schedule"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: Duration(15 * time.Second),
			RateLimit:       10,
			RateBurst:       20,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 20,
		},
		Chain: ChainConfig{
			RPCURL:  "https://api.mainnet-beta.solana.com",
			Timeout: Duration(30 * time.Second),
		},
		Generator: GeneratorConfig{
			Workers: 4,
		},
		Mail: MailConfig{
			From: "orders@dappfactory.io",
		},
		Packager: PackagerConfig{
			SpoolDir: "/var/spool/orderflow",
		},
		Refund: RefundConfig{
			SweepSchedule: "@every 1h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty or the
// file does not exist) and then applies ORDERFLOW_* environment
// overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setDuration := func(key string, dst *Duration) {
		if v, ok := os.LookupEnv(key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = Duration(d)
			}
		}
	}

	setString("ORDERFLOW_SERVER_ADDR", &cfg.Server.Addr)
	setDuration("ORDERFLOW_SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	setString("ORDERFLOW_DATABASE_DSN", &cfg.Database.DSN)
	setInt("ORDERFLOW_DATABASE_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	setString("ORDERFLOW_CHAIN_RPC_URL", &cfg.Chain.RPCURL)
	setString("ORDERFLOW_CHAIN_TREASURY", &cfg.Chain.Treasury)
	setString("ORDERFLOW_CHAIN_SIGNER_URL", &cfg.Chain.SignerURL)
	setString("ORDERFLOW_CHAIN_SIGNER_TOKEN", &cfg.Chain.SignerToken)
	setDuration("ORDERFLOW_CHAIN_TIMEOUT", &cfg.Chain.Timeout)
	setString("ORDERFLOW_GENERATOR_ENDPOINT", &cfg.Generator.Endpoint)
	setString("ORDERFLOW_GENERATOR_API_KEY", &cfg.Generator.APIKey)
	setInt("ORDERFLOW_GENERATOR_WORKERS", &cfg.Generator.Workers)
	setString("ORDERFLOW_MAIL_ENDPOINT", &cfg.Mail.Endpoint)
	setString("ORDERFLOW_MAIL_API_KEY", &cfg.Mail.APIKey)
	setString("ORDERFLOW_MAIL_FROM", &cfg.Mail.From)
	setString("ORDERFLOW_PACKAGER_SPOOL_DIR", &cfg.Packager.SpoolDir)
	setString("ORDERFLOW_REFUND_SWEEP_SCHEDULE", &cfg.Refund.SweepSchedule)
	setString("ORDERFLOW_LOG_LEVEL", &cfg.Logging.Level)
	setString("ORDERFLOW_LOG_FORMAT", &cfg.Logging.Format)
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Generator.Workers <= 0 {
		return fmt.Errorf("generator.workers must be positive")
	}
	if c.Packager.SpoolDir == "" {
		return fmt.Errorf("packager.spool_dir must not be empty")
	}
	return nil
}
