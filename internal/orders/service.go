package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"villaops.org/internal/audit"
	"villaops.org/internal/auth"
	"villaops.org/internal/ids"
	"villaops.org/internal/obs"
)

// NewOrder is the input accepted by Service.Create.
type NewOrder struct {
	Department string   `json:"department"`
	Priority   Priority `json:"priority"`
	Items      []Item   `json:"items"`
	Notes      string   `json:"notes"`
}

// Actions lists which workflow affordances an actor has on an order.
type Actions struct {
	Approve bool   `json:"approve"`
	Reject  bool   `json:"reject"`
	Send    bool   `json:"send"`
	Next    Status `json:"next,omitempty"`
}

// Service gates workflow mutations behind the resolver and persists them.
type Service struct {
	store   Store
	checker auth.Checker
	now     func() time.Time
	tracer  trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithChecker replaces the default permission policy.
func WithChecker(c auth.Checker) Option {
	return func(s *Service) {
		if c != nil {
			s.checker = c
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:   store,
		checker: auth.DefaultPolicy(),
		now:     time.Now,
		tracer:  obs.Tracer("orders"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates in and stores a new pending order requested by actor.
func (s *Service) Create(ctx context.Context, actor *auth.User, in NewOrder) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.create")
	defer span.End()

	if actor == nil || !s.checker.CheckFeatureAccess(actor, auth.FeatureInventoryAccess) {
		return Order{}, ErrForbidden
	}
	if err := validateNewOrder(&in); err != nil {
		return Order{}, err
	}
	now := s.now().UTC()
	o := Order{
		ID:              ids.NewAt(now),
		Status:          StatusPending,
		Priority:        in.Priority,
		Department:      in.Department,
		Items:           in.Items,
		Notes:           strings.TrimSpace(in.Notes),
		RequestedBy:     actor.ID,
		RequestedByName: actor.Name,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return Order{}, fail(span, err)
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	_ = audit.LogEvent(ctx, "order.created", map[string]any{
		"order_id":   o.ID,
		"department": o.Department,
		"priority":   string(o.Priority),
		"total":      o.Total(),
	})
	return o, nil
}

// Get returns one order.
func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Order{}, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	return s.store.Get(ctx, id)
}

// List returns orders matching f.
func (s *Service) List(ctx context.Context, f Filter) ([]Order, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, f.Status)
	}
	return s.store.List(ctx, f)
}

// Approve advances the order one step on behalf of actor.
func (s *Service) Approve(ctx context.Context, actor *auth.User, id string) (Order, error) {
	return s.mutate(ctx, "orders.approve", actor, id, func(o Order) (Order, error) {
		return o.Approve(actor.Role, actorName(actor), s.now())
	})
}

// Reject moves the order to rejected. An empty reason is refused before
// anything is loaded.
func (s *Service) Reject(ctx context.Context, actor *auth.User, id, reason string) (Order, error) {
	if strings.TrimSpace(reason) == "" {
		return Order{}, ErrReasonRequired
	}
	return s.mutate(ctx, "orders.reject", actor, id, func(o Order) (Order, error) {
		return o.Reject(actor.Role, actorName(actor), reason, s.now())
	})
}

// Send dispatches an approved order to its vendor. Requires the
// inventory_management feature.
func (s *Service) Send(ctx context.Context, actor *auth.User, id string) (Order, error) {
	return s.mutate(ctx, "orders.send", actor, id, func(o Order) (Order, error) {
		if !s.checker.CheckFeatureAccess(actor, auth.FeatureInventoryManagement) {
			return o, ErrForbidden
		}
		return o.Send(s.now())
	})
}

// escalationPage bounds each List call made by EscalateOverdue.
const escalationPage = 500

// EscalateOverdue flags every pending order older than EscalationAfter and
// returns how many were moved. Overdue orders are scanned oldest first in
// pages until none are left.
func (s *Service) EscalateOverdue(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "orders.escalate")
	defer span.End()

	f := Filter{
		Status:       StatusPending,
		CreatedUntil: now.Add(-EscalationAfter),
		OldestFirst:  true,
		Limit:        escalationPage,
	}
	moved := 0
	for {
		page, err := s.store.List(ctx, f)
		if err != nil {
			return moved, fail(span, err)
		}
		progress := 0
		for _, o := range page {
			next, changed := o.Escalate(now)
			if !changed {
				continue
			}
			if err := s.store.Update(ctx, next, o.Status); err != nil {
				if errors.Is(err, ErrConflict) {
					continue
				}
				return moved, fail(span, err)
			}
			progress++
			moved++
			obs.ObserveTransition(string(o.Status), string(next.Status))
			_ = audit.LogEvent(ctx, "order.escalated", map[string]any{"order_id": o.ID})
		}
		// Escalated orders leave the pending set, so the next page starts fresh.
		if len(page) < f.Limit || progress == 0 {
			break
		}
	}
	span.SetAttributes(attribute.Int("orders.escalated", moved))
	return moved, nil
}

// Actions reports what actor may do with o right now.
func (s *Service) Actions(actor *auth.User, o Order) Actions {
	if actor == nil {
		return Actions{}
	}
	var a Actions
	if CanTakeActionOnOrder(o.Status, actor.Role) {
		if next := NextOrderStatus(o.Status, actor.Role); next != o.Status {
			a.Approve = true
			a.Next = next
		}
		a.Reject = o.Status.Rejectable()
	}
	a.Send = o.Status == StatusApproved && s.checker.CheckFeatureAccess(actor, auth.FeatureInventoryManagement)
	return a
}

func (s *Service) mutate(ctx context.Context, op string, actor *auth.User, id string, fn func(Order) (Order, error)) (Order, error) {
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	if actor == nil {
		return Order{}, ErrForbidden
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return Order{}, fail(span, err)
	}
	next, err := fn(cur)
	if err != nil {
		return Order{}, fail(span, err)
	}
	if err := s.store.Update(ctx, next, cur.Status); err != nil {
		return Order{}, fail(span, err)
	}
	obs.ObserveTransition(string(cur.Status), string(next.Status))
	span.SetAttributes(
		attribute.String("order.from", string(cur.Status)),
		attribute.String("order.to", string(next.Status)),
	)
	fields := map[string]any{
		"order_id": next.ID,
		"from":     string(cur.Status),
		"to":       string(next.Status),
		"role":     string(actor.Role),
	}
	if next.Status == StatusRejected {
		fields["reason"] = next.RejectionReason
	}
	_ = audit.LogEvent(ctx, eventFor(next.Status), fields)
	return next, nil
}

func eventFor(s Status) string {
	switch s {
	case StatusRejected:
		return "order.rejected"
	case StatusSent:
		return "order.sent"
	default:
		return "order.approved"
	}
}

func actorName(u *auth.User) string {
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}

func validateNewOrder(in *NewOrder) error {
	in.Department = strings.TrimSpace(in.Department)
	if in.Department == "" {
		return fmt.Errorf("%w: department is required", ErrInvalidInput)
	}
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}
	if !in.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, in.Priority)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidInput)
	}
	items := make([]Item, len(in.Items))
	for i, it := range in.Items {
		it.Name = strings.TrimSpace(it.Name)
		if it.Name == "" {
			return fmt.Errorf("%w: item %d has no name", ErrInvalidInput, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %q quantity must be > 0", ErrInvalidInput, it.Name)
		}
		if it.UnitCost < 0 {
			return fmt.Errorf("%w: item %q unit cost must be >= 0", ErrInvalidInput, it.Name)
		}
		items[i] = it
	}
	in.Items = items
	return nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
