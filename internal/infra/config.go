package infra

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// currentUserAgent is protected by a mutex so embedders can override it at runtime
	uaMu             sync.RWMutex
	currentUserAgent = GetPlatformUserAgent() // Initialize with OS-appropriate string
)

// GetUserAgent returns the current active User-Agent string. (Thread-safe)
func GetUserAgent() string {
	uaMu.RLock()
	defer uaMu.RUnlock()
	return currentUserAgent
}

// SetUserAgent updates the global User-Agent string. (Thread-safe)
func SetUserAgent(ua string) {
	uaMu.Lock()
	defer uaMu.Unlock()
	currentUserAgent = ua
}

// GetPlatformUserAgent generates a browser-like User-Agent string based on current OS.
func GetPlatformUserAgent() string {
	chromeVer := "120.0.0.0" // Standard stable version
	os := runtime.GOOS
	arch := runtime.GOARCH

	switch os {
	case "windows":
		return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", chromeVer)
	case "linux":
		// Map arch to common Linux UA strings
		linuxArch := "x86_64"
		if arch == "arm64" {
			linuxArch = "aarch64"
		}
		return fmt.Sprintf("Mozilla/5.0 (X11; Linux %s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", linuxArch, chromeVer)
	case "darwin":
		return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", chromeVer)
	default:
		// Fallback
		return "Mozilla/5.0 (compatible; perp-go/1.0)"
	}
}

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Venue struct {
		Name         string `yaml:"name"`    // "hyperliquid" or "mock"
		Network      string `yaml:"network"` // "mainnet" or "testnet"
		RestURL      string `yaml:"rest_url"`
		WSURL        string `yaml:"ws_url"`
		Account      string `yaml:"account"`
		VaultAddress string `yaml:"vault_address"`
		PrivateKey   string `yaml:"private_key"`
	} `yaml:"venue"`

	Stream struct {
		ReconnectInitialMS  int      `yaml:"reconnect_initial_ms"`
		ReconnectMaxMS      int      `yaml:"reconnect_max_ms"`
		ReconnectMultiplier float64  `yaml:"reconnect_multiplier"`
		Jitter              float64  `yaml:"jitter"`
		StableAfterMS       int      `yaml:"stable_after_ms"`
		HeartbeatIntervalMS int      `yaml:"heartbeat_interval_ms"`
		HeartbeatTimeoutMS  int      `yaml:"heartbeat_timeout_ms"`
		HandshakeTimeoutMS  int      `yaml:"handshake_timeout_ms"`
		SyncIntervalMS      int      `yaml:"sync_interval_ms"`
		ChannelCapacity     int      `yaml:"channel_capacity"`
		OverflowPolicy      string   `yaml:"overflow_policy"` // "drop_oldest" or "drop_newest"
		Symbols             []string `yaml:"symbols"`
	} `yaml:"stream"`

	REST struct {
		TimeoutMS         int     `yaml:"timeout_ms"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		BreakerFailures   int     `yaml:"breaker_failures"`
		BreakerSuccesses  int     `yaml:"breaker_successes"`
		BreakerTimeoutMS  int     `yaml:"breaker_timeout_ms"`
	} `yaml:"rest"`

	Orders struct {
		EvictionGraceMS  int `yaml:"eviction_grace_ms"`
		PendingTimeoutMS int `yaml:"pending_timeout_ms"`
		SweepIntervalMS  int `yaml:"sweep_interval_ms"`
	} `yaml:"orders"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

// DefaultConfig returns a testnet configuration with every default filled in.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = AppName
	cfg.App.Version = "0.1.0"

	cfg.Venue.Name = "hyperliquid"
	cfg.Venue.Network = "testnet"

	cfg.Stream.ReconnectInitialMS = 1000
	cfg.Stream.ReconnectMaxMS = 60_000
	cfg.Stream.ReconnectMultiplier = 2
	cfg.Stream.Jitter = 0.2
	cfg.Stream.StableAfterMS = 30_000
	cfg.Stream.HeartbeatIntervalMS = 20_000
	cfg.Stream.HeartbeatTimeoutMS = 10_000
	cfg.Stream.HandshakeTimeoutMS = 15_000
	cfg.Stream.SyncIntervalMS = 1000
	cfg.Stream.ChannelCapacity = 1024
	cfg.Stream.OverflowPolicy = "drop_oldest"

	cfg.REST.TimeoutMS = 10_000
	cfg.REST.RequestsPerSecond = 20
	cfg.REST.Burst = 100
	cfg.REST.BreakerFailures = 5
	cfg.REST.BreakerSuccesses = 2
	cfg.REST.BreakerTimeoutMS = 30_000

	cfg.Orders.EvictionGraceMS = 60_000
	cfg.Orders.PendingTimeoutMS = 10 * 60_000
	cfg.Orders.SweepIntervalMS = 5000

	cfg.Logging.Level = "info"
	cfg.Metrics.Addr = "localhost:9090"
	return &cfg
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
// Keys missing from the file keep their DefaultConfig value.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch c.Venue.Network {
	case "mainnet", "testnet":
	default:
		return fmt.Errorf("invalid network: %q", c.Venue.Network)
	}
	if c.Venue.WSURL != "" && !strings.HasPrefix(c.Venue.WSURL, "ws://") && !strings.HasPrefix(c.Venue.WSURL, "wss://") {
		return fmt.Errorf("invalid WS URL: %s", c.Venue.WSURL)
	}
	if c.Venue.RestURL != "" && !strings.HasPrefix(c.Venue.RestURL, "http://") && !strings.HasPrefix(c.Venue.RestURL, "https://") {
		return fmt.Errorf("invalid REST URL: %s", c.Venue.RestURL)
	}

	s := c.Stream
	if s.ReconnectInitialMS <= 0 || s.ReconnectMaxMS < s.ReconnectInitialMS {
		return fmt.Errorf("reconnect delays must satisfy 0 < initial <= max")
	}
	if s.ReconnectMultiplier < 1 {
		return fmt.Errorf("reconnect multiplier must be >= 1")
	}
	if s.Jitter < 0 || s.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1)")
	}
	if s.HeartbeatIntervalMS <= 0 || s.HeartbeatTimeoutMS <= 0 {
		return fmt.Errorf("heartbeat interval and timeout must be positive")
	}
	if s.ChannelCapacity < 2 {
		return fmt.Errorf("channel capacity must be at least 2")
	}
	switch s.OverflowPolicy {
	case "drop_oldest", "drop_newest":
	default:
		return fmt.Errorf("invalid overflow policy: %q", s.OverflowPolicy)
	}

	if c.REST.TimeoutMS <= 0 || c.REST.RequestsPerSecond <= 0 || c.REST.Burst <= 0 {
		return fmt.Errorf("rest timeout, rate and burst must be positive")
	}
	if c.Orders.EvictionGraceMS < 0 || c.Orders.PendingTimeoutMS < 0 {
		return fmt.Errorf("order eviction timings must not be negative")
	}

	return nil
}

// IsMainnet reports whether the config targets real money.
func (c *Config) IsMainnet() bool { return c.Venue.Network == "mainnet" }

// HasCredentials reports whether a signing key is configured.
func (c *Config) HasCredentials() bool { return c.Venue.PrivateKey != "" }

// Backoff converts the stream section into a reconnect policy.
func (c *Config) Backoff() BackoffPolicy {
	return BackoffPolicy{
		Initial:     ms(c.Stream.ReconnectInitialMS),
		Max:         ms(c.Stream.ReconnectMaxMS),
		Multiplier:  c.Stream.ReconnectMultiplier,
		Jitter:      c.Stream.Jitter,
		StableAfter: ms(c.Stream.StableAfterMS),
	}
}

// WS converts the stream section into worker settings.
func (c *Config) WS() WSConfig {
	ws := DefaultWSConfig()
	ws.Backoff = c.Backoff()
	ws.HandshakeTimeout = ms(c.Stream.HandshakeTimeoutMS)
	ws.HeartbeatInterval = ms(c.Stream.HeartbeatIntervalMS)
	ws.HeartbeatTimeout = ms(c.Stream.HeartbeatTimeoutMS)
	if c.Stream.SyncIntervalMS > 0 {
		ws.SyncInterval = ms(c.Stream.SyncIntervalMS)
	}
	return ws
}

// RESTSettings converts the rest section into sender settings.
func (c *Config) RESTSettings(baseURL string) RESTConfig {
	return RESTConfig{
		BaseURL:           baseURL,
		Timeout:           ms(c.REST.TimeoutMS),
		RequestsPerSecond: c.REST.RequestsPerSecond,
		Burst:             c.REST.Burst,
		Breaker: CircuitBreakerConfig{
			Name:             "rest",
			FailureThreshold: c.REST.BreakerFailures,
			SuccessThreshold: c.REST.BreakerSuccesses,
			Timeout:          ms(c.REST.BreakerTimeoutMS),
		},
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
// 환경 변수는 설정 파일보다 우선합니다.
func overrideWithEnv(cfg *Config) {
	if cfg.Venue.PrivateKey != "" {
		// Using fmt instead of slog: the logger is built from this config
		fmt.Println("⚠️  SECURITY WARNING: private key found in config file.")
		fmt.Println("   Recommendation: use PERP_PRIVATE_KEY instead.")
	}

	if key := os.Getenv("PERP_PRIVATE_KEY"); key != "" {
		cfg.Venue.PrivateKey = key
	}
	if acct := os.Getenv("PERP_ACCOUNT"); acct != "" {
		cfg.Venue.Account = acct
	}
	if vault := os.Getenv("PERP_VAULT_ADDRESS"); vault != "" {
		cfg.Venue.VaultAddress = vault
	}
	if network := os.Getenv("PERP_NETWORK"); network != "" {
		cfg.Venue.Network = network
	}
}
