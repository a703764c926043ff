// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// キーストアのバックエンド名。keystore.Backend*と同じ値。
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerListen string
	ServerPort   string
	BaseURL      string
	TLSCert      string
	TLSKey       string
	TrustProxy   bool

	// Keystore
	ProxyBackend string
	RedisURL     string
	BadgerPath   string
	DatabaseURL  string

	// ProxyRetention はプロキシエントリの保持期間。0は無期限（postgresのみ有効）。
	ProxyRetention time.Duration

	// Proxy
	ProxyFetchTimeout  time.Duration
	ProxyMaxSize       int64
	ProxyCacheSizeMB   int
	ProxyCacheTTL      time.Duration
	ProxyCacheMaxEntry int

	// Rewrite
	RewriteMaxConcurrency int

	// Upstream
	UpstreamURL     string
	UpstreamTimeout time.Duration

	// Endpoints
	EndpointFrontend bool
	EndpointAPI      bool

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitPerMin int

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
	LogFile  string
	LogCDN   bool
	LogIPs   bool
}

// Load は環境変数からConfigを読み込む。
// バックエンドに必要な設定が欠けている場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{
		ServerListen: getEnvString("SERVER_LISTEN", ""),
		ServerPort:   getEnvString("SERVER_PORT", "8080"),
		BaseURL:      strings.TrimRight(getEnvString("BASE_URL", "http://localhost:8080"), "/"),
		TLSCert:      os.Getenv("TLS_CERT"),
		TLSKey:       os.Getenv("TLS_KEY"),
		TrustProxy:   getEnvBool("TRUST_PROXY", false),

		ProxyBackend: strings.ToLower(getEnvString("PROXY_BACKEND", BackendMemory)),
		RedisURL:     os.Getenv("REDIS_URL"),
		BadgerPath:   os.Getenv("BADGER_PATH"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),

		ProxyRetention: getEnvDuration("PROXY_RETENTION", 0),

		ProxyFetchTimeout:  getEnvDuration("PROXY_FETCH_TIMEOUT", 15*time.Second),
		ProxyMaxSize:       getEnvInt64("PROXY_MAX_SIZE", 52428800),
		ProxyCacheSizeMB:   getEnvInt("PROXY_CACHE_SIZE_MB", 0),
		ProxyCacheTTL:      getEnvDuration("PROXY_CACHE_TTL", 10*time.Minute),
		ProxyCacheMaxEntry: getEnvInt("PROXY_CACHE_MAX_ENTRY", 1048576),

		RewriteMaxConcurrency: getEnvInt("REWRITE_MAX_CONCURRENCY", 16),

		UpstreamURL:     getEnvString("UPSTREAM_URL", "https://threads.example/api"),
		UpstreamTimeout: getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second),

		EndpointFrontend: getEnvBool("ENDPOINT_FRONTEND", true),
		EndpointAPI:      getEnvBool("ENDPOINT_API", true),

		RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MIN", 300),

		CORSAllowedOrigin: getEnvString("CORS_ALLOWED_ORIGIN", "*"),

		LogLevel: getEnvString("LOG_LEVEL", "info"),
		LogFile:  os.Getenv("LOG_FILE"),
		LogCDN:   getEnvBool("LOG_CDN", false),
		LogIPs:   getEnvBool("LOG_IPS", false),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は設定値の組み合わせを検証する。
func (c *Config) validate() error {
	var missing []string

	switch c.ProxyBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	case BackendBadger:
		if c.BadgerPath == "" {
			missing = append(missing, "BADGER_PATH")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	default:
		return fmt.Errorf("PROXY_BACKEND must be one of memory, redis, badger, postgres: %q", c.ProxyBackend)
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set for backend %s: %v", c.ProxyBackend, missing)
	}

	if c.ProxyRetention < 0 {
		return fmt.Errorf("PROXY_RETENTION must not be negative: %s", c.ProxyRetention)
	}
	if c.ProxyRetention > 0 && c.ProxyBackend != BackendPostgres {
		return fmt.Errorf("PROXY_RETENTION requires PROXY_BACKEND=postgres: %q", c.ProxyBackend)
	}

	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("TLS_CERT and TLS_KEY must be set together")
	}

	if err := validateHTTPURL("BASE_URL", c.BaseURL); err != nil {
		return err
	}
	if err := validateHTTPURL("UPSTREAM_URL", c.UpstreamURL); err != nil {
		return err
	}

	if _, err := strconv.Atoi(c.ServerPort); err != nil {
		return fmt.Errorf("SERVER_PORT must be a number: %q", c.ServerPort)
	}
	if c.ProxyMaxSize <= 0 {
		return fmt.Errorf("PROXY_MAX_SIZE must be positive: %d", c.ProxyMaxSize)
	}
	if c.ProxyCacheSizeMB < 0 {
		return fmt.Errorf("PROXY_CACHE_SIZE_MB must not be negative: %d", c.ProxyCacheSizeMB)
	}

	return nil
}

// Addr はHTTPサーバーの待ち受けアドレスを返す。
func (c *Config) Addr() string {
	return net.JoinHostPort(c.ServerListen, c.ServerPort)
}

// TLSEnabled は証明書と秘密鍵が設定されているかを返す。
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// ProxyPrefix はローカル参照のプレフィックス（BASE_URL + "/proxy"）を返す。
func (c *Config) ProxyPrefix() string {
	return c.BaseURL + "/proxy"
}

func validateHTTPURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL: %q", key, raw)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
