package stream

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"perp_go/internal/domain"
	"perp_go/internal/event"
	"perp_go/internal/infra"
	"perp_go/internal/metrics"
	"perp_go/pkg/dexerr"
	"perp_go/pkg/quant"

	"github.com/google/uuid"
)

// Options configures a Mux.
type Options struct {
	Venue    string
	URL      string
	Capacity int
	Policy   OverflowPolicy

	// Retry paces resends of subscribe requests the venue has not acknowledged.
	Retry   infra.BackoffPolicy
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// upstream is one ledger entry: a venue subscription shared by its subscribers.
type upstream struct {
	key     Key
	subs    []*Subscription
	sentGen uint64 // session generation the subscribe was sent in; 0 = never
	acked   bool
	sentAt  time.Time
	attempt int
}

// Mux is the subscription multiplexer. It implements infra.WebSocketHandler:
// every socket write and every dispatch happens on the worker's session goroutine,
// while Subscribe and Unsubscribe only edit the ledger and call the kicker.
type Mux struct {
	codec   Codec
	opts    Options
	metrics *metrics.Metrics
	now     func() time.Time

	mu           sync.Mutex
	kick         func()
	gen          uint64
	connected    bool
	entries      []*upstream // registration order
	byKey        map[Key]*upstream
	subs         map[string]*Subscription
	pendingUnsub []Key
	closed       bool
}

var _ infra.WebSocketHandler = (*Mux)(nil)

// NewMux creates a multiplexer for one connection.
func NewMux(codec Codec, opts Options) *Mux {
	if opts.Capacity < minCapacity {
		opts.Capacity = minCapacity
	}
	if opts.Retry.Initial <= 0 {
		opts.Retry = infra.DefaultBackoffPolicy()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Mux{
		codec:   codec,
		opts:    opts,
		metrics: opts.Metrics,
		now:     opts.Now,
		byKey:   make(map[Key]*upstream),
		subs:    make(map[string]*Subscription),
	}
}

// SetKicker installs the function used to wake the session goroutine,
// normally (*infra.BaseWSWorker).Kick.
func (m *Mux) SetKicker(fn func()) {
	m.mu.Lock()
	m.kick = fn
	m.mu.Unlock()
}

// Subscribe registers a subscriber for (kind, coin) and returns immediately.
// The upstream subscribe is sent by the session goroutine. Cancelling ctx unsubscribes.
func (m *Mux) Subscribe(ctx context.Context, kind domain.StreamKind, coin string) (*Subscription, error) {
	const op = "subscribe"
	if !kind.Valid() {
		return nil, dexerr.Newf(dexerr.KindInvalid, op, "unknown stream kind %d", kind)
	}
	key, err := m.codec.UpstreamKey(kind, coin)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		id:     uuid.NewString(),
		kind:   kind,
		coin:   coin,
		key:    key,
		policy: m.opts.Policy,
		ch:     make(chan event.Event, m.opts.Capacity),
		mux:    m,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, dexerr.New(dexerr.KindClosed, op, "multiplexer is closed")
	}
	e, ok := m.byKey[key]
	if !ok {
		e = &upstream{key: key}
		m.byKey[key] = e
		m.entries = append(m.entries, e)
		m.pendingUnsub = slices.DeleteFunc(m.pendingUnsub, func(k Key) bool { return k == key })
	}
	e.subs = append(e.subs, sub)
	m.subs[sub.id] = sub
	sub.release = context.AfterFunc(ctx, func() { _ = m.Unsubscribe(sub.id) })
	kick := m.kick
	m.mu.Unlock()

	slog.Debug("stream subscribed", "venue", m.opts.Venue, "key", key, "id", sub.id, "shared", ok)
	if !ok && kick != nil {
		kick()
	}
	return sub, nil
}

// Unsubscribe removes a subscriber and closes its channel. The upstream is
// released when its last subscriber leaves. Unknown ids yield NotFound.
func (m *Mux) Unsubscribe(id string) error {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if !ok {
		m.mu.Unlock()
		return dexerr.Newf(dexerr.KindNotFound, "unsubscribe", "no subscription %s", id)
	}
	delete(m.subs, id)
	release := sub.release

	var kick func()
	if e, ok := m.byKey[sub.key]; ok {
		e.subs = slices.DeleteFunc(e.subs, func(s *Subscription) bool { return s == sub })
		if len(e.subs) == 0 {
			delete(m.byKey, e.key)
			m.entries = slices.DeleteFunc(m.entries, func(x *upstream) bool { return x == e })
			if m.connected && e.sentGen == m.gen {
				m.pendingUnsub = append(m.pendingUnsub, e.key)
				kick = m.kick
			}
		}
	}
	m.mu.Unlock()

	if release != nil {
		release()
	}
	sub.close()
	if kick != nil {
		kick()
	}
	return nil
}

// Keys returns the ledger in registration order.
func (m *Mux) Keys() []Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]Key, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.key
	}
	return keys
}

// Len returns the number of live subscribers.
func (m *Mux) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Close closes every delivery channel and rejects further subscribes.
func (m *Mux) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	subs := make([]*Subscription, 0, len(m.subs))
	releases := make([]func() bool, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
		releases = append(releases, s.release)
	}
	m.subs = make(map[string]*Subscription)
	m.byKey = make(map[Key]*upstream)
	m.entries = nil
	m.pendingUnsub = nil
	m.mu.Unlock()

	for i, s := range subs {
		releases[i]()
		s.close()
	}
}

func (m *Mux) ID() string     { return m.opts.Venue }
func (m *Mux) GetURL() string { return m.opts.URL }

// OnConnect replays the ledger in registration order.
func (m *Mux) OnConnect(ctx context.Context, w infra.FrameWriter) error {
	now := m.now()
	m.mu.Lock()
	m.gen++
	m.connected = true
	m.pendingUnsub = nil
	frames := make([][]byte, 0, len(m.entries))
	for _, e := range m.entries {
		msg, err := m.codec.SubscribeFrame(e.key)
		if err != nil {
			slog.Error("stream subscribe encode failed", "venue", m.opts.Venue, "key", e.key, "err", err)
			continue
		}
		e.sentGen, e.acked, e.sentAt, e.attempt = m.gen, false, now, 0
		frames = append(frames, msg)
	}
	m.mu.Unlock()

	if len(frames) > 0 {
		slog.Info("stream replaying subscriptions", "venue", m.opts.Venue, "count", len(frames))
	}
	return writeAll(w, frames)
}

// OnSync sends queued unsubscribes, first-time subscribes, and resends for
// subscribes still unacknowledged after the retry backoff.
func (m *Mux) OnSync(ctx context.Context, w infra.FrameWriter) error {
	now := m.now()
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil
	}
	var frames [][]byte
	for _, k := range m.pendingUnsub {
		if msg, err := m.codec.UnsubscribeFrame(k); err == nil {
			frames = append(frames, msg)
		}
	}
	m.pendingUnsub = nil

	for _, e := range m.entries {
		switch {
		case e.sentGen != m.gen:
			e.attempt = 0
		case !e.acked && now.Sub(e.sentAt) >= m.opts.Retry.Delay(e.attempt):
			e.attempt++
			slog.Warn("stream subscribe unacknowledged, resending", "venue", m.opts.Venue, "key", e.key, "attempt", e.attempt)
		default:
			continue
		}
		msg, err := m.codec.SubscribeFrame(e.key)
		if err != nil {
			slog.Error("stream subscribe encode failed", "venue", m.opts.Venue, "key", e.key, "err", err)
			continue
		}
		e.sentGen, e.acked, e.sentAt = m.gen, false, now
		frames = append(frames, msg)
	}
	m.mu.Unlock()

	return writeAll(w, frames)
}

func (m *Mux) OnPing(ctx context.Context, w infra.FrameWriter) error {
	return w.WriteFrame(m.codec.PingFrame())
}

func (m *Mux) IsPong(msg []byte) bool { return m.codec.IsPong(msg) }

// OnMessage decodes one frame and fans it out.
func (m *Mux) OnMessage(ctx context.Context, msg []byte) {
	fr, err := m.codec.Decode(msg)
	if err != nil {
		m.decodeFailed(fr.Key, msg, err)
		return
	}

	switch fr.Type {
	case FrameAck:
		m.mu.Lock()
		if e, ok := m.byKey[fr.Key]; ok {
			e.acked, e.attempt = true, 0
		}
		m.mu.Unlock()

	case FrameError:
		slog.Warn("stream venue error", "venue", m.opts.Venue, "key", fr.Key, "err", fr.Err)
		m.mu.Lock()
		if e, ok := m.byKey[fr.Key]; ok {
			// the next OnSync resends after the backoff
			e.acked = false
			e.sentAt = m.now()
		}
		m.mu.Unlock()

	case FrameData:
		m.Dispatch(fr.Key, fr.Events...)
	}
}

// Dispatch fans events out to the subscribers of k without blocking.
// Callers other than the session goroutine must not race with it, since
// per-subscriber order is only defined for a single producer.
func (m *Mux) Dispatch(k Key, evs ...event.Event) {
	targets := m.subscribers(k)
	for _, ev := range evs {
		for _, s := range targets {
			if s.matches(ev.GetCoin()) {
				s.deliver(ev)
			}
		}
	}
}

// OnDisconnect marks every upstream unacknowledged and tells each subscriber
// that events may have been missed.
func (m *Mux) OnDisconnect(err error) {
	m.mu.Lock()
	m.connected = false
	m.pendingUnsub = nil
	for _, e := range m.entries {
		e.acked = false
	}
	var subs []*Subscription
	for _, e := range m.entries {
		subs = append(subs, e.subs...)
	}
	m.mu.Unlock()

	reason := "connection lost"
	if err != nil {
		reason = err.Error()
	}
	ts := quant.FromTime(m.now())
	for _, s := range subs {
		s.deliver(gapEvent(s, ts, reason))
	}
}

func (m *Mux) subscribers(k Key) []*Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byKey[k]
	if !ok {
		return nil
	}
	return slices.Clone(e.subs)
}

func (m *Mux) decodeFailed(k Key, msg []byte, err error) {
	slog.Warn("stream decode failed", "venue", m.opts.Venue, "key", k, "err", err, "bytes", len(msg))
	m.metrics.DecodeErrors.WithLabelValues(m.opts.Venue).Inc()

	if !k.Kind.Valid() {
		return
	}
	ev := event.DecodeErrorEvent{
		BaseEvent: event.BaseEvent{Kind: k.Kind, Coin: k.Coin, Ts: quant.FromTime(m.now())},
		Err:       dexerr.Wrap(dexerr.KindProtocol, "decode "+k.String(), err),
		Raw:       slices.Clone(msg),
	}
	for _, s := range m.subscribers(k) {
		s.deliver(ev)
	}
}

func writeAll(w infra.FrameWriter, frames [][]byte) error {
	for _, f := range frames {
		if err := w.WriteFrame(f); err != nil {
			return err
		}
	}
	return nil
}
