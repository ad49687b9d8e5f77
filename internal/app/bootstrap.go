package app

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"perp_go/internal/exchange"
	"perp_go/internal/infra"
	"perp_go/internal/infra/hyperliquid"
	"perp_go/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ConfirmRealMoneyEnv must be "true" before a mainnet client with a key is built.
const ConfirmRealMoneyEnv = "CONFIRM_REAL_MONEY"

// VenueFactory builds a venue client from the loaded configuration.
type VenueFactory func(cfg *infra.Config, m *metrics.Metrics) (exchange.PerpDex, error)

var venues = map[string]VenueFactory{
	hyperliquid.VenueName: newHyperliquid,
	"mock":                newMock,
}

func newMock(cfg *infra.Config, _ *metrics.Metrics) (exchange.PerpDex, error) {
	return exchange.NewMock(cfg.Stream.Symbols...), nil
}

func newHyperliquid(cfg *infra.Config, m *metrics.Metrics) (exchange.PerpDex, error) {
	opts, err := hyperliquid.OptionsFromConfig(cfg, m)
	if err != nil {
		return nil, err
	}
	c, err := hyperliquid.New(opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Venues lists the registered venue names.
func Venues() []string {
	names := make([]string, 0, len(venues))
	for n := range venues {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config   *infra.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads secrets and config, then sets up logging and metrics.
func (b *Bootstrap) Initialize() error {
	// 1. Secrets first: LoadConfig applies PERP_* overrides
	if err := infra.LoadSecretEnv(infra.SecretEnvFile); err != nil {
		return err
	}

	// 2. Load Config (Dynamic Path Resolution)
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		return err
	}
	return b.InitializeWith(cfg)
}

// InitializeWith sets up logging and metrics for an already loaded config.
func (b *Bootstrap) InitializeWith(cfg *infra.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	b.Config = cfg

	// Setup Logger
	b.Logger = infra.NewLogger(cfg)
	slog.SetDefault(b.Logger)
	slog.Info("🚀 Bootstrapping perp-go...", "venue", cfg.Venue.Name, "network", cfg.Venue.Network)

	// Metrics registry (process + Go runtime collectors included)
	b.Registry = prometheus.NewRegistry()
	b.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	b.Metrics = metrics.New(b.Registry)
	slog.Info("✅ Metrics registry ready")

	return nil
}

// NewVenue builds the configured venue client. Mainnet trading with a private
// key is refused unless CONFIRM_REAL_MONEY=true.
func (b *Bootstrap) NewVenue() (exchange.PerpDex, error) {
	if b.Config == nil {
		return nil, fmt.Errorf("bootstrap is not initialized")
	}
	factory, ok := venues[b.Config.Venue.Name]
	if !ok {
		return nil, fmt.Errorf("unknown venue: %q (known: %v)", b.Config.Venue.Name, Venues())
	}
	if err := CheckRealMoney(b.Config); err != nil {
		slog.Error(err.Error())
		return nil, err
	}
	if b.Config.IsMainnet() && b.Config.HasCredentials() {
		slog.Warn("🚨🚨🚨 Connecting with REAL MONEY (mainnet) 🚨🚨🚨", "venue", b.Config.Venue.Name)
	}

	m := b.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	dex, err := factory(b.Config, m)
	if err != nil {
		return nil, err
	}
	slog.Info("✅ Venue client ready", "venue", dex.Name())
	return dex, nil
}

// CheckRealMoney is the safety latch for mainnet credentials.
func CheckRealMoney(cfg *infra.Config) error {
	if cfg.Venue.Name == "mock" || !cfg.IsMainnet() || !cfg.HasCredentials() {
		return nil
	}
	if os.Getenv(ConfirmRealMoneyEnv) != "true" {
		return fmt.Errorf("SAFETY_GUARD: real trading requires '%s=true' environment variable", ConfirmRealMoneyEnv)
	}
	return nil
}
