package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/campuslink/core/internal/pkg/apperr"
	"gopkg.in/yaml.v3"
)

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port             int
	Env              string
	Database         DatabaseRuntimeConfig
	Redis            RedisRuntimeConfig
	Mongo            MongoRuntimeConfig
	ChatStore        string
	JWTSecret        string
	TokenTTL         time.Duration
	HandshakeTimeout time.Duration
	Revocation       RevocationConfig
	Auth             AuthConfig
	Gateway          GatewayConfig
	LoginPerMinute   int
	AllowedOrigins   []string
	Paths            RuntimePathsConfig
	Timezone         string
}

type DatabaseRuntimeConfig struct {
	Driver    string
	DSN       string
	Path      string
	Host      string
	Port      int
	User      string
	Password  string
	Name      string
	Charset   string
	ParseTime bool
	Loc       string
	Params    map[string]string
}

type RedisRuntimeConfig struct {
	URL      string
	Host     string
	Port     int
	Username string
	Password string
	DB       int
	TLS      bool
}

type MongoRuntimeConfig struct {
	URI      string
	Database string
}

type RevocationConfig struct {
	Store         string
	SweepInterval time.Duration
}

type AuthConfig struct {
	Verifier      string
	RemoteURL     string
	RemoteTimeout time.Duration
}

type GatewayConfig struct {
	Namespace string
	// Fanout relays room emissions to other processes through Redis.
	Fanout bool
}

type RuntimePathsConfig struct {
	Logs string
}

// IsProduction reports whether the process runs with env=production.
func (c *AppConfig) IsProduction() bool { return c.Env == "production" }

type rawAppConfig struct {
	Port             int               `yaml:"port"`
	Env              string            `yaml:"env"`
	Database         rawDatabaseConfig `yaml:"database"`
	Redis            rawRedisConfig    `yaml:"redis"`
	RedisURL         string            `yaml:"redis_url"`
	Mongo            rawMongoConfig    `yaml:"mongo"`
	Storage          rawStorageConfig  `yaml:"storage"`
	JWTSecret        string            `yaml:"jwt_secret"`
	TokenTTL         string            `yaml:"token_ttl"`
	HandshakeTimeout string            `yaml:"handshake_timeout"`
	Revocation       rawRevocation     `yaml:"revocation"`
	Auth             rawAuthConfig     `yaml:"auth"`
	Gateway          rawGatewayConfig  `yaml:"gateway"`
	RateLimit        rawRateLimit      `yaml:"rate_limit"`
	AllowedOrigins   []string          `yaml:"allowed_origins"`
	Paths            rawPathsConfig    `yaml:"paths"`
	Timezone         string            `yaml:"timezone"`
}

type rawDatabaseConfig struct {
	Driver    string            `yaml:"driver"`
	DSN       string            `yaml:"dsn"`
	Path      string            `yaml:"path"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	User      string            `yaml:"user"`
	Password  string            `yaml:"password"`
	Name      string            `yaml:"name"`
	Charset   string            `yaml:"charset"`
	ParseTime *bool             `yaml:"parse_time"`
	Loc       string            `yaml:"loc"`
	Params    map[string]string `yaml:"params"`
}

type rawRedisConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       *int   `yaml:"db"`
	TLS      *bool  `yaml:"tls"`
}

type rawMongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type rawStorageConfig struct {
	Chat string `yaml:"chat"`
}

type rawRevocation struct {
	Store         string `yaml:"store"`
	SweepInterval string `yaml:"sweep_interval"`
}

type rawAuthConfig struct {
	Verifier      string `yaml:"verifier"`
	RemoteURL     string `yaml:"remote_url"`
	RemoteTimeout string `yaml:"remote_timeout"`
}

type rawGatewayConfig struct {
	Namespace string `yaml:"namespace"`
	Fanout    *bool  `yaml:"fanout"`
}

type rawRateLimit struct {
	LoginPerMinute *int `yaml:"login_per_minute"`
}

type rawPathsConfig struct {
	Logs string `yaml:"logs"`
}

// Load reads the YAML file at configPath and applies environment overrides.
// A missing file at the default path yields the built-in defaults.
func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			content = nil
		} else {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
	}

	cfg, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML content on top of the defaults, then applies env overrides
// and validates the result.
func Parse(content []byte) (*AppConfig, error) {
	cfg := defaultAppConfig()
	raw := rawAppConfig{}
	if len(bytes.TrimSpace(content)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(content))
		decoder.KnownFields(true)
		if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, apperr.Config("parse: %v", err)
		}
	}

	if err := applyRawAppConfig(&cfg, raw); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultAppConfig() AppConfig {
	return AppConfig{
		Port: defaultPort,
		Env:  defaultEnv,
		Database: DatabaseRuntimeConfig{
			Driver:    defaultDBDriver,
			Path:      defaultSQLitePath,
			Host:      defaultDBHost,
			Port:      defaultDBPort,
			User:      defaultDBUser,
			Name:      defaultDBName,
			Charset:   defaultDBCharset,
			ParseTime: true,
			Loc:       defaultDBLoc,
		},
		Redis:            RedisRuntimeConfig{Port: defaultRedisPort},
		Mongo:            MongoRuntimeConfig{Database: defaultMongoDatabase},
		ChatStore:        ChatStoreSQL,
		TokenTTL:         defaultTokenTTL,
		HandshakeTimeout: defaultHandshakeTimeout,
		Revocation:       RevocationConfig{Store: RevocationAuto, SweepInterval: defaultSweepInterval},
		Auth:             AuthConfig{Verifier: VerifierLocal, RemoteTimeout: defaultRemoteTimeout},
		Gateway:          GatewayConfig{Namespace: defaultNamespace, Fanout: true},
		LoginPerMinute:   defaultLoginPerMinute,
	}
}

func applyRawAppConfig(cfg *AppConfig, raw rawAppConfig) error {
	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	if v := strings.TrimSpace(raw.Env); v != "" {
		cfg.Env = strings.ToLower(v)
	}

	db := &cfg.Database
	if v := strings.ToLower(strings.TrimSpace(raw.Database.Driver)); v != "" {
		db.Driver = v
	}
	setString(&db.DSN, raw.Database.DSN)
	setString(&db.Path, raw.Database.Path)
	setString(&db.Host, raw.Database.Host)
	if raw.Database.Port != 0 {
		db.Port = raw.Database.Port
	}
	setString(&db.User, raw.Database.User)
	setString(&db.Password, raw.Database.Password)
	setString(&db.Name, raw.Database.Name)
	setString(&db.Charset, raw.Database.Charset)
	if raw.Database.ParseTime != nil {
		db.ParseTime = *raw.Database.ParseTime
	}
	setString(&db.Loc, raw.Database.Loc)
	if len(raw.Database.Params) > 0 {
		db.Params = raw.Database.Params
	}

	rd := &cfg.Redis
	setString(&rd.URL, raw.Redis.URL)
	setString(&rd.URL, raw.RedisURL)
	setString(&rd.Host, raw.Redis.Host)
	if raw.Redis.Port != 0 {
		rd.Port = raw.Redis.Port
	}
	setString(&rd.Username, raw.Redis.Username)
	setString(&rd.Password, raw.Redis.Password)
	if raw.Redis.DB != nil {
		rd.DB = *raw.Redis.DB
	}
	if raw.Redis.TLS != nil {
		rd.TLS = *raw.Redis.TLS
	}

	setString(&cfg.Mongo.URI, raw.Mongo.URI)
	setString(&cfg.Mongo.Database, raw.Mongo.Database)
	if v := strings.ToLower(strings.TrimSpace(raw.Storage.Chat)); v != "" {
		cfg.ChatStore = v
	}

	setString(&cfg.JWTSecret, raw.JWTSecret)
	if err := setDuration(&cfg.TokenTTL, "token_ttl", raw.TokenTTL); err != nil {
		return err
	}
	if err := setDuration(&cfg.HandshakeTimeout, "handshake_timeout", raw.HandshakeTimeout); err != nil {
		return err
	}

	if v := strings.ToLower(strings.TrimSpace(raw.Revocation.Store)); v != "" {
		cfg.Revocation.Store = v
	}
	if err := setDuration(&cfg.Revocation.SweepInterval, "revocation.sweep_interval", raw.Revocation.SweepInterval); err != nil {
		return err
	}

	if v := strings.ToLower(strings.TrimSpace(raw.Auth.Verifier)); v != "" {
		cfg.Auth.Verifier = v
	}
	setString(&cfg.Auth.RemoteURL, raw.Auth.RemoteURL)
	if err := setDuration(&cfg.Auth.RemoteTimeout, "auth.remote_timeout", raw.Auth.RemoteTimeout); err != nil {
		return err
	}

	setString(&cfg.Gateway.Namespace, raw.Gateway.Namespace)
	if raw.Gateway.Fanout != nil {
		cfg.Gateway.Fanout = *raw.Gateway.Fanout
	}
	if raw.RateLimit.LoginPerMinute != nil {
		cfg.LoginPerMinute = *raw.RateLimit.LoginPerMinute
	}

	if raw.AllowedOrigins != nil {
		cfg.AllowedOrigins = normalizeOrigins(raw.AllowedOrigins)
	}
	setString(&cfg.Paths.Logs, raw.Paths.Logs)
	setString(&cfg.Timezone, raw.Timezone)
	return nil
}

// applyEnv lets deployments keep secrets out of the YAML file.
func applyEnv(cfg *AppConfig) {
	setString(&cfg.JWTSecret, os.Getenv(EnvJWTSecret))
	setString(&cfg.Redis.URL, os.Getenv(EnvRedisURL))
	setString(&cfg.Database.DSN, os.Getenv(EnvDatabaseDSN))
}

func (c *AppConfig) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return apperr.Config("invalid port %d, expected 1-65535", c.Port)
	}
	switch c.Database.Driver {
	case DriverMySQL, DriverSQLite:
	default:
		return apperr.Config("unsupported database.driver %q", c.Database.Driver)
	}
	switch c.ChatStore {
	case ChatStoreSQL:
	case ChatStoreMongo:
		if strings.TrimSpace(c.Mongo.URI) == "" {
			return apperr.Config("storage.chat=mongo requires mongo.uri")
		}
	default:
		return apperr.Config("unsupported storage.chat %q", c.ChatStore)
	}
	switch c.Revocation.Store {
	case RevocationAuto, RevocationMemory:
	case RevocationRedis:
		if c.Redis.URLValue() == "" {
			return apperr.Config("revocation.store=redis requires redis settings")
		}
	default:
		return apperr.Config("unsupported revocation.store %q", c.Revocation.Store)
	}
	switch c.Auth.Verifier {
	case VerifierLocal:
	case VerifierRemote:
		if strings.TrimSpace(c.Auth.RemoteURL) == "" {
			return apperr.Config("auth.verifier=remote requires auth.remote_url")
		}
	default:
		return apperr.Config("unsupported auth.verifier %q", c.Auth.Verifier)
	}
	if c.Redis.DB < 0 {
		return apperr.Config("invalid redis.db %d, expected >= 0", c.Redis.DB)
	}
	if c.LoginPerMinute < 0 {
		return apperr.Config("invalid rate_limit.login_per_minute %d", c.LoginPerMinute)
	}
	if !strings.HasPrefix(c.Gateway.Namespace, "/") {
		c.Gateway.Namespace = "/" + c.Gateway.Namespace
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key, v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return apperr.Config("invalid %s %q, expected a positive duration like 30s", key, v)
	}
	*dst = d
	return nil
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	seen := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	return out
}
