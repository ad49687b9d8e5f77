package execution

import (
	"fmt"
	"sync/atomic"
	"time"

	"perp_go/internal/domain"
)

// IDGenerator issues process-unique client order ids of the form
// 0x<16 hex ms timestamp><16 hex counter>. The timestamp comes from the
// monotonic clock, so ids issued sequentially compare in issue order even if
// the wall clock steps backwards; the counter keeps concurrent ids distinct.
type IDGenerator struct {
	start   time.Time
	baseMs  int64
	counter atomic.Uint64
}

// NewIDGenerator anchors the generator at the current wall-clock time.
func NewIDGenerator() *IDGenerator {
	now := time.Now()
	return &IDGenerator{start: now, baseMs: now.UnixMilli()}
}

// Next returns a new id. Safe for concurrent use.
func (g *IDGenerator) Next() domain.ClientOrderID {
	ms := g.baseMs + time.Since(g.start).Milliseconds()
	n := g.counter.Add(1)
	return domain.ClientOrderID(fmt.Sprintf("0x%016x%016x", uint64(ms), n))
}
