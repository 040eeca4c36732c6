// Package config loads runtime configuration from an optional .env file, an
// optional YAML file and the environment, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileEnv names the environment variable holding the YAML config path.
const FileEnv = "SUPPLYCHAIN_CONFIG"

// Config is the complete runtime configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
	Redis     RedisConfig     `yaml:"redis"`
	RocketMQ  RocketMQConfig  `yaml:"rocketmq"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Audit     AuditConfig     `yaml:"audit"`
	Expiry    ExpiryConfig    `yaml:"expiry"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host         string        `yaml:"host" env:"SERVER_HOST"`
	Port         int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the store. An empty DSN keeps state in memory.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	Migrate         bool   `yaml:"migrate" env:"DATABASE_MIGRATE"`
}

// InMemory reports whether no database is configured.
func (d DatabaseConfig) InMemory() bool { return strings.TrimSpace(d.DSN) == "" }

// LoggingConfig mirrors logger.LoggingConfig.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// AuthConfig configures caller identification.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"JWT_ISSUER"`
	// AllowHeaderIdentity trusts the X-Account-ID header. Local development
	// only.
	AllowHeaderIdentity bool `yaml:"allow_header_identity" env:"AUTH_ALLOW_HEADER_IDENTITY"`
}

// RateLimitConfig throttles callers. Zero RPS disables the limiter.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" env:"RATE_LIMIT_RPS"`
	Burst int     `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// CORSConfig lists allowed browser origins.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// RedisConfig backs the shared halt switch. An empty Addr keeps the switch
// in process.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	HaltKey  string `yaml:"halt_key" env:"REDIS_HALT_KEY"`
}

// RocketMQConfig enables the notification sink when NameServers is set.
type RocketMQConfig struct {
	NameServers []string `yaml:"name_servers" env:"ROCKETMQ_NAME_SERVERS"`
	TopicPrefix string   `yaml:"topic_prefix" env:"ROCKETMQ_TOPIC_PREFIX"`
	Namespace   string   `yaml:"namespace" env:"ROCKETMQ_NAMESPACE"`
	AccessKey   string   `yaml:"access_key" env:"ROCKETMQ_ACCESS_KEY"`
	SecretKey   string   `yaml:"secret_key" env:"ROCKETMQ_SECRET_KEY"`
	Buffer      int      `yaml:"buffer" env:"ROCKETMQ_BUFFER"`
}

// OracleConfig points at the informational price feed.
type OracleConfig struct {
	URL       string        `yaml:"url" env:"ORACLE_URL"`
	APIKey    string        `yaml:"api_key" env:"ORACLE_API_KEY"`
	PricePath string        `yaml:"price_path" env:"ORACLE_PRICE_PATH"`
	CacheTTL  time.Duration `yaml:"cache_ttl" env:"ORACLE_CACHE_TTL"`
}

// AuditConfig controls the HTTP request audit trail.
type AuditConfig struct {
	File   string `yaml:"file" env:"AUDIT_FILE"`
	Window int    `yaml:"window" env:"AUDIT_WINDOW"`
}

// ExpiryConfig drives the expiry sweeper. No operator disables it.
type ExpiryConfig struct {
	Schedule string `yaml:"schedule" env:"EXPIRY_SCHEDULE"`
	Operator string `yaml:"operator" env:"EXPIRY_OPERATOR"`
}

// BootstrapConfig seeds the admin set of an empty ledger.
type BootstrapConfig struct {
	Admins []string `yaml:"admins" env:"BOOTSTRAP_ADMINS"`
}

// New returns a configuration holding only defaults.
func New() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads .env, the YAML file named by SUPPLYCHAIN_CONFIG and the
// environment, then validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path := strings.TrimSpace(os.Getenv(FileEnv)); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Database.Driver == "" && !c.Database.InMemory() {
		c.Database.Driver = "postgres"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Logging.FilePrefix == "" {
		c.Logging.FilePrefix = "supplychain"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "supplychain"
	}
	if c.RateLimit.Burst == 0 && c.RateLimit.RPS > 0 {
		c.RateLimit.Burst = int(c.RateLimit.RPS) * 2
		if c.RateLimit.Burst == 0 {
			c.RateLimit.Burst = 1
		}
	}
	if c.Redis.HaltKey == "" {
		c.Redis.HaltKey = "supplychain:halted"
	}
	if c.RocketMQ.TopicPrefix == "" {
		c.RocketMQ.TopicPrefix = "supplychain"
	}
	if c.Oracle.PricePath == "" {
		c.Oracle.PricePath = "price"
	}
	if c.Oracle.CacheTTL == 0 {
		c.Oracle.CacheTTL = 30 * time.Second
	}
	if c.Audit.Window == 0 {
		c.Audit.Window = 200
	}
	if c.Expiry.Schedule == "" {
		c.Expiry.Schedule = "@every 1m"
	}
	c.CORS.AllowedOrigins = cleanList(c.CORS.AllowedOrigins)
	c.RocketMQ.NameServers = cleanList(c.RocketMQ.NameServers)
	c.Bootstrap.Admins = cleanList(c.Bootstrap.Admins)
	c.Expiry.Operator = strings.TrimSpace(c.Expiry.Operator)
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if !c.Database.InMemory() && c.Database.Driver != "postgres" {
		return fmt.Errorf("database.driver %q not supported", c.Database.Driver)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q must be json or text", c.Logging.Format)
	}
	if c.Auth.JWTSecret == "" && !c.Auth.AllowHeaderIdentity {
		return errors.New("auth.jwt_secret is required unless auth.allow_header_identity is set")
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate_limit values must not be negative")
	}
	if c.Audit.Window < 0 {
		return errors.New("audit.window must not be negative")
	}
	return nil
}

func cleanList(in []string) []string {
	var out []string
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
