package orders

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Status      Status
	Department  string
	RequestedBy string
	// CreatedUntil keeps orders created at or before it.
	CreatedUntil time.Time
	// OldestFirst flips the default newest-first ordering.
	OldestFirst bool
	Limit       int
}

func (f Filter) match(o Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.Department != "" && o.Department != f.Department {
		return false
	}
	if f.RequestedBy != "" && o.RequestedBy != f.RequestedBy {
		return false
	}
	if !f.CreatedUntil.IsZero() && o.CreatedAt.After(f.CreatedUntil) {
		return false
	}
	return true
}

func (f Filter) limit() int {
	if f.Limit <= 0 || f.Limit > 500 {
		return 100
	}
	return f.Limit
}

// Store persists orders. Update must fail with ErrConflict when the stored
// status no longer equals prev.
type Store interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, f Filter) ([]Order, error)
	Update(ctx context.Context, o Order, prev Status) error
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu     sync.RWMutex
	orders map[string]Order
}

// NewInMemory creates an empty order store.
func NewInMemory() *InMemory {
	return &InMemory{orders: make(map[string]Order)}
}

func (s *InMemory) Create(ctx context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return ErrConflict
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o.Clone(), nil
}

// List returns matching orders, newest first unless f.OldestFirst is set.
func (s *InMemory) List(ctx context.Context, f Filter) ([]Order, error) {
	s.mu.RLock()
	res := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		if f.match(o) {
			res = append(res, o.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		a, b := res[i], res[j]
		if f.OldestFirst {
			a, b = b, a
		}
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID > b.ID
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	if n := f.limit(); len(res) > n {
		res = res[:n]
	}
	return res, nil
}

func (s *InMemory) Update(ctx context.Context, o Order, prev Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != prev {
		return ErrConflict
	}
	s.orders[o.ID] = o.Clone()
	return nil
}
