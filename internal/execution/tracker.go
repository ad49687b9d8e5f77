// Package execution tracks submitted orders from placement to a terminal state.
package execution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"perp_go/internal/domain"
	"perp_go/internal/metrics"
	"perp_go/pkg/dexerr"
	"perp_go/pkg/quant"

	"github.com/tidwall/btree"
)

// PendingOrder is the tracker's view of one order.
type PendingOrder struct {
	ClientOrderID domain.ClientOrderID
	OrderID       uint64
	Request       domain.OrderRequest
	State         domain.OrderState
	SubmittedAt   time.Time
	UpdatedAt     time.Time
	FilledQty     quant.Qty
	AvgPx         quant.Price
	Reason        string
}

// Update is an acknowledgement, fill or rejection from either the REST
// response or the orders stream. At least one of ClientOrderID and OrderID is set.
type Update struct {
	ClientOrderID domain.ClientOrderID
	OrderID       uint64
	State         domain.OrderState
	FilledQty     quant.Qty
	AvgPx         quant.Price
	Reason        string
	Source        string
}

// TrackerConfig bounds how long entries stay in memory.
type TrackerConfig struct {
	// Grace keeps terminal orders queryable for this long.
	Grace time.Duration
	// PendingTimeout evicts orders that never reach a terminal state. Zero disables it.
	PendingTimeout time.Duration
	SweepInterval  time.Duration
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

// DefaultTrackerConfig returns a one minute grace and a ten minute pending timeout.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Grace:          time.Minute,
		PendingTimeout: 10 * time.Minute,
		SweepInterval:  5 * time.Second,
	}
}

type expiry struct {
	at    time.Time
	cloid domain.ClientOrderID
}

func expiryLess(a, b expiry) bool {
	if a.at.Equal(b.at) {
		return a.cloid < b.cloid
	}
	return a.at.Before(b.at)
}

type entry struct {
	order    PendingOrder
	deadline time.Time // zero: never evicted

	// Updates carry a running total while fills arrive one execution at a
	// time. Both describe the same executions.
	reported quant.Qty
	fillSum  quant.Qty
	trades   map[uint64]struct{}
}

func (e *entry) settleFilled() {
	if e.fillSum.Cmp(e.reported) > 0 {
		e.order.FilledQty = e.fillSum
		return
	}
	e.order.FilledQty = e.reported
}

// Tracker correlates asynchronous order updates with submitted requests.
// Lookups prefer the client order id and fall back to the exchange id.
type Tracker struct {
	cfg TrackerConfig

	mu      sync.Mutex
	byCloid map[domain.ClientOrderID]*entry
	byOid   map[uint64]domain.ClientOrderID
	expiry  *btree.BTreeG[expiry]
}

// NewTracker creates an empty tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	return &Tracker{
		cfg:     cfg,
		byCloid: make(map[domain.ClientOrderID]*entry),
		byOid:   make(map[uint64]domain.ClientOrderID),
		expiry:  btree.NewBTreeGOptions(expiryLess, btree.Options{NoLocks: true}),
	}
}

// Track registers a submitted order. req.ClientOrderID must be set and unused.
func (t *Tracker) Track(req domain.OrderRequest) (PendingOrder, error) {
	const op = "track"
	if req.ClientOrderID == "" {
		return PendingOrder{}, dexerr.New(dexerr.KindInvalid, op, "client order id is required")
	}
	now := t.cfg.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byCloid[req.ClientOrderID]; ok {
		return PendingOrder{}, dexerr.Newf(dexerr.KindInvalid, op, "client order id %s already tracked", req.ClientOrderID)
	}
	e := &entry{order: PendingOrder{
		ClientOrderID: req.ClientOrderID,
		Request:       req,
		State:         domain.OrderSubmitted,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}}
	t.byCloid[req.ClientOrderID] = e
	if t.cfg.PendingTimeout > 0 {
		t.setDeadline(e, now.Add(t.cfg.PendingTimeout))
	}
	t.cfg.Metrics.PendingOrders.Set(float64(len(t.byCloid)))
	return e.order, nil
}

// Apply moves an order to u.State.
// Repeating the current state is a no-op. Once terminal, a conflicting update is
// ignored and reported as AlreadyTerminal. Unknown orders yield NotFound.
func (t *Tracker) Apply(u Update) (PendingOrder, error) {
	const op = "apply"
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.find(u.ClientOrderID, u.OrderID)
	if e == nil {
		return PendingOrder{}, dexerr.Newf(dexerr.KindNotFound, op, "no order for cloid=%s oid=%d", u.ClientOrderID, u.OrderID)
	}
	if u.OrderID != 0 && e.order.OrderID == 0 {
		e.order.OrderID = u.OrderID
		t.byOid[u.OrderID] = e.order.ClientOrderID
	}

	cur := e.order.State
	switch {
	case u.State == cur:
		return e.order, nil
	case cur.IsTerminal():
		slog.Warn("order update after terminal state ignored",
			"cloid", e.order.ClientOrderID, "state", cur, "update", u.State, "source", u.Source)
		return e.order, dexerr.Newf(dexerr.KindAlreadyTerminal, op, "order %s already %s", e.order.ClientOrderID, cur)
	case u.State == domain.OrderSubmitted:
		// never move backwards
		return e.order, nil
	}

	now := t.cfg.Now()
	e.order.State = u.State
	e.order.UpdatedAt = now
	if u.FilledQty.IsPositive() {
		e.reported = u.FilledQty
		e.settleFilled()
	}
	if u.AvgPx.IsPositive() {
		e.order.AvgPx = u.AvgPx
	}
	if u.Reason != "" {
		e.order.Reason = u.Reason
	}
	if u.State.IsTerminal() {
		t.setDeadline(e, now.Add(t.cfg.Grace))
	}

	slog.Debug("order state changed", "cloid", e.order.ClientOrderID, "oid", e.order.OrderID,
		"from", cur, "to", u.State, "source", u.Source)
	return e.order, nil
}

// ApplyFill records one execution. FilledQty becomes the larger of the sum of
// distinct fills and the last total reported through Apply, so a fill already
// counted in that total is not added twice. Fills repeating a trade id are
// ignored. It reports whether the fill belonged to a tracked order.
func (t *Tracker) ApplyFill(f domain.UserFill) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.find(f.ClientOrderID, f.OrderID)
	if e == nil {
		return false
	}
	if f.TradeID != 0 {
		if _, dup := e.trades[f.TradeID]; dup {
			return true
		}
		if e.trades == nil {
			e.trades = make(map[uint64]struct{})
		}
		e.trades[f.TradeID] = struct{}{}
	}
	e.fillSum = e.fillSum.Add(f.Size)
	e.settleFilled()
	e.order.UpdatedAt = t.cfg.Now()
	return true
}

// Lookup returns the order by client id, or by exchange id when cloid is empty or unknown.
func (t *Tracker) Lookup(cloid domain.ClientOrderID, oid uint64) (PendingOrder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.find(cloid, oid)
	if e == nil {
		return PendingOrder{}, false
	}
	return e.order, true
}

// CheckCancellable returns NotFound for untracked orders and AlreadyTerminal
// for orders that can no longer be cancelled.
func (t *Tracker) CheckCancellable(cloid domain.ClientOrderID, oid uint64) (PendingOrder, error) {
	const op = "cancel"
	o, ok := t.Lookup(cloid, oid)
	if !ok {
		return o, dexerr.Newf(dexerr.KindNotFound, op, "no order for cloid=%s oid=%d", cloid, oid)
	}
	if o.State.IsTerminal() {
		return o, dexerr.Newf(dexerr.KindAlreadyTerminal, op, "order %s already %s", o.ClientOrderID, o.State)
	}
	return o, nil
}

// Untrack forgets an order whose request never left the client, so its
// client order id can be reused. Orders past Submitted are kept.
func (t *Tracker) Untrack(cloid domain.ClientOrderID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byCloid[cloid]
	if !ok || e.order.State != domain.OrderSubmitted || e.order.OrderID != 0 {
		return false
	}
	if !e.deadline.IsZero() {
		t.expiry.Delete(expiry{at: e.deadline, cloid: cloid})
	}
	t.dropLocked(e)
	t.cfg.Metrics.PendingOrders.Set(float64(len(t.byCloid)))
	return true
}

// Sweep evicts entries whose deadline is at or before now and returns how many it removed.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for {
		it, ok := t.expiry.Min()
		if !ok || it.at.After(now) {
			break
		}
		t.expiry.Delete(it)
		if e, ok := t.byCloid[it.cloid]; ok {
			if !e.order.State.IsTerminal() {
				slog.Warn("evicting order that never reached a terminal state",
					"cloid", it.cloid, "state", e.order.State, "age", now.Sub(e.order.SubmittedAt))
			}
			t.dropLocked(e)
			n++
		}
	}
	if n > 0 {
		t.cfg.Metrics.PendingOrders.Set(float64(len(t.byCloid)))
	}
	return n
}

// Run sweeps on every SweepInterval until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Sweep(t.cfg.Now()); n > 0 {
				slog.Debug("order tracker swept", "evicted", n)
			}
		}
	}
}

// Len returns the number of tracked orders.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byCloid)
}

func (t *Tracker) find(cloid domain.ClientOrderID, oid uint64) *entry {
	if cloid != "" {
		if e, ok := t.byCloid[cloid]; ok {
			return e
		}
	}
	if oid != 0 {
		if c, ok := t.byOid[oid]; ok {
			return t.byCloid[c]
		}
	}
	return nil
}

func (t *Tracker) dropLocked(e *entry) {
	delete(t.byCloid, e.order.ClientOrderID)
	if e.order.OrderID != 0 {
		delete(t.byOid, e.order.OrderID)
	}
}

func (t *Tracker) setDeadline(e *entry, at time.Time) {
	if !e.deadline.IsZero() {
		t.expiry.Delete(expiry{at: e.deadline, cloid: e.order.ClientOrderID})
	}
	e.deadline = at
	t.expiry.Set(expiry{at: at, cloid: e.order.ClientOrderID})
}
