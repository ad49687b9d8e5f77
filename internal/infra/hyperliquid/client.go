// Package hyperliquid is the Hyperliquid perpetuals venue: signed order entry
// over REST and market and account streams over one multiplexed WebSocket.
package hyperliquid

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"perp_go/internal/domain"
	"perp_go/internal/event"
	"perp_go/internal/exchange"
	"perp_go/internal/execution"
	"perp_go/internal/infra"
	"perp_go/internal/metrics"
	"perp_go/internal/stream"
	"perp_go/pkg/dexerr"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"
)

const VenueName = "hyperliquid"

// Constants for Hyperliquid API URLs
const (
	MainnetRestURL = "https://api.hyperliquid.xyz"
	MainnetWSURL   = "wss://api.hyperliquid.xyz/ws"
	TestnetRestURL = "https://api.hyperliquid-testnet.xyz"
	TestnetWSURL   = "wss://api.hyperliquid-testnet.xyz/ws"
)

// Options configures a Client. Start from DefaultOptions or OptionsFromConfig.
type Options struct {
	Mainnet bool
	RestURL string
	WSURL   string

	// PrivateKey enables trading. Account overrides the address used for
	// account queries and streams (for example when the key is an API wallet).
	PrivateKey   string
	Account      string
	VaultAddress string

	WS       infra.WSConfig
	REST     infra.RESTConfig
	Capacity int
	Overflow stream.OverflowPolicy
	Tracker  execution.TrackerConfig
	Metrics  *metrics.Metrics
}

// DefaultOptions returns production settings for the chosen network.
func DefaultOptions(mainnet bool) Options {
	o := Options{
		Mainnet:  mainnet,
		RestURL:  TestnetRestURL,
		WSURL:    TestnetWSURL,
		WS:       infra.DefaultWSConfig(),
		Capacity: 1024,
		Overflow: stream.DropOldest,
		Tracker:  execution.DefaultTrackerConfig(),
	}
	if mainnet {
		o.RestURL, o.WSURL = MainnetRestURL, MainnetWSURL
	}
	o.REST = infra.DefaultRESTConfig(o.RestURL)
	return o
}

// OptionsFromConfig maps the venue, stream, rest and orders sections onto Options.
func OptionsFromConfig(cfg *infra.Config, m *metrics.Metrics) (Options, error) {
	o := DefaultOptions(cfg.IsMainnet())
	if cfg.Venue.RestURL != "" {
		o.RestURL = cfg.Venue.RestURL
	}
	if cfg.Venue.WSURL != "" {
		o.WSURL = cfg.Venue.WSURL
	}
	policy, err := stream.ParseOverflowPolicy(cfg.Stream.OverflowPolicy)
	if err != nil {
		return Options{}, dexerr.Wrap(dexerr.KindInvalid, "options", err)
	}
	o.PrivateKey = cfg.Venue.PrivateKey
	o.Account = cfg.Venue.Account
	o.VaultAddress = cfg.Venue.VaultAddress
	o.WS = cfg.WS()
	o.REST = cfg.RESTSettings(o.RestURL)
	o.Capacity = cfg.Stream.ChannelCapacity
	o.Overflow = policy
	o.Tracker = execution.TrackerConfig{
		Grace:          time.Duration(cfg.Orders.EvictionGraceMS) * time.Millisecond,
		PendingTimeout: time.Duration(cfg.Orders.PendingTimeoutMS) * time.Millisecond,
		SweepInterval:  time.Duration(cfg.Orders.SweepIntervalMS) * time.Millisecond,
	}
	o.Metrics = m
	return o, nil
}

// Client implements exchange.PerpDex for Hyperliquid.
type Client struct {
	opts    Options
	rest    *infra.RESTClient
	worker  *infra.BaseWSWorker
	mux     *stream.Mux
	signer  *Signer // nil: read-only
	user    string  // lowercase address for account queries; "" without credentials
	vault   *common.Address
	nonces  *infra.NonceSource
	ids     *execution.IDGenerator
	tracker *execution.Tracker
	metrics *metrics.Metrics

	metaGroup singleflight.Group
	metaMu    sync.RWMutex
	meta      *domain.Meta

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ exchange.PerpDex = (*Client)(nil)

// New builds a client. Nothing touches the network until Connect or the first query.
func New(opts Options) (*Client, error) {
	const op = "new client"
	if opts.RestURL == "" || opts.WSURL == "" {
		d := DefaultOptions(opts.Mainnet)
		if opts.RestURL == "" {
			opts.RestURL = d.RestURL
		}
		if opts.WSURL == "" {
			opts.WSURL = d.WSURL
		}
	}
	if opts.WS.HeartbeatInterval <= 0 {
		opts.WS = infra.DefaultWSConfig()
	}
	if opts.REST.Timeout <= 0 {
		opts.REST = infra.DefaultRESTConfig(opts.RestURL)
	}
	opts.REST.BaseURL = opts.RestURL
	if opts.Tracker.Grace <= 0 {
		opts.Tracker.Grace = execution.DefaultTrackerConfig().Grace
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	opts.Tracker.Metrics = opts.Metrics

	var signer *Signer
	if opts.PrivateKey != "" {
		s, err := NewSigner(opts.PrivateKey, opts.Mainnet)
		if err != nil {
			return nil, err
		}
		signer = s
	}
	vault, err := parseAddress(op, opts.VaultAddress)
	if err != nil {
		return nil, err
	}
	account, err := parseAddress(op, opts.Account)
	if err != nil {
		return nil, err
	}

	var user string
	switch {
	case account != nil:
		user = strings.ToLower(account.Hex())
	case vault != nil:
		user = strings.ToLower(vault.Hex())
	case signer != nil:
		user = signer.Address()
	}

	mux := stream.NewMux(NewCodec(user), stream.Options{
		Venue:    VenueName,
		URL:      opts.WSURL,
		Capacity: opts.Capacity,
		Policy:   opts.Overflow,
		Retry:    opts.WS.Backoff,
		Metrics:  opts.Metrics,
	})
	worker := infra.NewBaseWSWorker(mux, opts.WS)
	mux.SetKicker(worker.Kick)

	c := &Client{
		opts:    opts,
		rest:    infra.NewRESTClient(opts.REST, opts.Metrics),
		worker:  worker,
		mux:     mux,
		signer:  signer,
		user:    user,
		vault:   vault,
		nonces:  infra.NewNonceSource(),
		ids:     execution.NewIDGenerator(),
		tracker: execution.NewTracker(opts.Tracker),
		metrics: opts.Metrics,
	}
	worker.OnStateChange(c.onStateChange)
	if signer != nil {
		slog.Info("hyperliquid signer loaded", "signer", signer, "user", user, "vault", vault != nil)
	}
	return c, nil
}

func (c *Client) Name() string { return VenueName }

// Connect starts the WebSocket and the tracker sweeper and waits for the
// first session. If ctx expires first the worker keeps retrying in the
// background and the error is Timeout.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return dexerr.New(dexerr.KindClosed, "connect", "client is closed")
	}
	if !c.started {
		c.started = true
		runCtx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.worker.Start(runCtx)

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.tracker.Run(runCtx)
		}()
		if c.signer != nil && c.user != "" {
			if err := c.startAccountStreams(runCtx); err != nil {
				c.mu.Unlock()
				return err
			}
		}
	}
	c.mu.Unlock()
	return c.worker.WaitConnected(ctx)
}

// Close stops the socket, closes every subscription and wipes the key.
// Closing twice is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	c.worker.Stop()
	c.mux.Close()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.signer.Wipe()
	return nil
}

func (c *Client) ConnectionState() infra.ConnectionStatus { return c.worker.Status() }

// Subscribe registers a stream. It may be called before Connect; the
// subscription is sent once a session is up and replayed after every reconnect.
func (c *Client) Subscribe(ctx context.Context, kind domain.StreamKind, coin string) (exchange.Subscription, error) {
	if c.isClosed() {
		return nil, dexerr.New(dexerr.KindClosed, "subscribe", "client is closed")
	}
	sub, err := c.mux.Subscribe(ctx, kind, coin)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (c *Client) Unsubscribe(id string) error { return c.mux.Unsubscribe(id) }

// PendingOrder returns the tracker's view of an order placed by this client.
func (c *Client) PendingOrder(cloid domain.ClientOrderID) (execution.PendingOrder, bool) {
	return c.tracker.Lookup(cloid, 0)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) onStateChange(s infra.ConnectionStatus) {
	c.metrics.ConnState.WithLabelValues(VenueName).Set(float64(s.State))
	if s.State == infra.ConnReconnecting {
		c.metrics.Reconnects.WithLabelValues(VenueName).Inc()
		slog.Warn("hyperliquid ws reconnecting", "attempt", s.Attempt, "delay", s.NextDelay)
		return
	}
	slog.Info("hyperliquid ws state", "state", s.State)
}

// startAccountStreams feeds the tracker from the orders and fills streams.
func (c *Client) startAccountStreams(ctx context.Context) error {
	for _, kind := range []domain.StreamKind{domain.StreamOrders, domain.StreamFills} {
		sub, err := c.mux.Subscribe(ctx, kind, "")
		if err != nil {
			return err
		}
		c.wg.Add(1)
		go c.pump(sub)
	}
	return nil
}

func (c *Client) pump(sub *stream.Subscription) {
	defer c.wg.Done()
	for ev := range sub.Events() {
		switch e := ev.(type) {
		case event.OrderEvent:
			c.applyOrderUpdate(e.Update)
		case event.FillEvent:
			// snapshot fills predate this session
			if !e.Snapshot {
				c.tracker.ApplyFill(e.Fill)
			}
		case event.GapEvent:
			slog.Warn("account stream gap", "kind", sub.Kind(), "reason", e.Reason)
		case event.DecodeErrorEvent:
			slog.Warn("account stream decode error", "kind", sub.Kind(), "err", e.Err)
		}
	}
}

func (c *Client) applyOrderUpdate(u domain.OrderUpdate) {
	up := execution.Update{
		ClientOrderID: u.Order.ClientOrderID,
		OrderID:       u.Order.OrderID,
		State:         u.State,
		Source:        "ws",
	}
	if u.State == domain.OrderFilled {
		up.FilledQty = u.Order.OrigSize
	}
	if u.State == domain.OrderRejected || u.State == domain.OrderCancelled {
		up.Reason = u.Status
	}
	if _, err := c.tracker.Apply(up); err != nil && dexerr.KindOf(err) != dexerr.KindNotFound {
		slog.Debug("order update not applied", "cloid", up.ClientOrderID, "oid", up.OrderID, "err", err)
	}
}
