package semaphore

import (
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/orchestra/internal/domain"
)

// Holder is one admitted slot.
type Holder struct {
	ID         string    `json:"id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Gate is a non-blocking counting semaphore that remembers admission order.
type Gate struct {
	mu      sync.Mutex
	limit   int
	holders []Holder
	index   map[string]struct{}
	logger  *slog.Logger
}

func NewGate(limit int, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if limit < 1 {
		limit = 1
	}

	return &Gate{
		limit:  limit,
		index:  make(map[string]struct{}),
		logger: logger.With("component", "admission-gate"),
	}
}

// TryAcquire admits id if a slot is free. Re-acquiring a held id is a no-op.
func (g *Gate) TryAcquire(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.index[id]; held {
		return nil
	}

	if len(g.holders) >= g.limit {
		g.logger.Debug("admission rejected", "holder_id", id, "active", len(g.holders), "limit", g.limit)
		return domain.NewCapacityExceededError(len(g.holders), g.limit)
	}

	g.holders = append(g.holders, Holder{ID: id, AcquiredAt: time.Now()})
	g.index[id] = struct{}{}
	return nil
}

// Release frees id's slot and reports whether it was held.
func (g *Gate) Release(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.index[id]; !held {
		return false
	}
	delete(g.index, id)

	for i, h := range g.holders {
		if h.ID == id {
			g.holders = append(g.holders[:i], g.holders[i+1:]...)
			break
		}
	}
	return true
}

func (g *Gate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.holders)
}

func (g *Gate) Limit() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit
}

// Available is the number of free slots, never negative.
func (g *Gate) Available() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if free := g.limit - len(g.holders); free > 0 {
		return free
	}
	return 0
}

// SetLimit resizes the gate. Holders beyond a lowered limit keep their slots;
// new admissions wait until the count drops below the limit.
func (g *Gate) SetLimit(limit int) {
	if limit < 1 {
		limit = 1
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if limit != g.limit {
		g.logger.Info("admission limit changed", "from", g.limit, "to", limit, "active", len(g.holders))
	}
	g.limit = limit
}

// Holders returns the admitted ids in admission order.
func (g *Gate) Holders() []Holder {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Holder, len(g.holders))
	copy(out, g.holders)
	return out
}
