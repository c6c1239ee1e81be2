package orders

import (
	"fmt"
	"strings"
	"time"

	"villaops.org/internal/auth"
)

// EscalationAfter is how long an order may sit in pending before it is
// flagged as overdue.
const EscalationAfter = 24 * time.Hour

// Priority ranks how urgently an order should be handled.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Item is one line of a purchase order. UnitCost is in minor units.
type Item struct {
	Name     string `json:"name"`
	SKU      string `json:"sku,omitempty"`
	Quantity int    `json:"quantity"`
	Unit     string `json:"unit,omitempty"`
	UnitCost int64  `json:"unit_cost"`
}

// Order is a purchase order moving through the approval workflow.
type Order struct {
	ID              string    `json:"id"`
	Status          Status    `json:"status"`
	Priority        Priority  `json:"priority"`
	Department      string    `json:"department"`
	Items           []Item    `json:"items"`
	Notes           string    `json:"notes,omitempty"`
	RequestedBy     string    `json:"requested_by"`
	RequestedByName string    `json:"requested_by_name,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	ManagerApprovedBy string     `json:"manager_approved_by,omitempty"`
	ManagerApprovedAt *time.Time `json:"manager_approved_at,omitempty"`
	AdminApprovedBy   string     `json:"admin_approved_by,omitempty"`
	AdminApprovedAt   *time.Time `json:"admin_approved_at,omitempty"`
	RejectedBy        string     `json:"rejected_by,omitempty"`
	RejectedAt        *time.Time `json:"rejected_at,omitempty"`
	RejectionReason   string     `json:"rejection_reason,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
}

// Total returns the sum of quantity times unit cost over all items.
func (o Order) Total() int64 {
	var sum int64
	for _, it := range o.Items {
		sum += int64(it.Quantity) * it.UnitCost
	}
	return sum
}

// Clone returns a copy of o that shares no slices or pointers.
func (o Order) Clone() Order {
	out := o
	if o.Items != nil {
		out.Items = make([]Item, len(o.Items))
		copy(out.Items, o.Items)
	}
	out.ManagerApprovedAt = cloneTime(o.ManagerApprovedAt)
	out.AdminApprovedAt = cloneTime(o.AdminApprovedAt)
	out.RejectedAt = cloneTime(o.RejectedAt)
	out.SentAt = cloneTime(o.SentAt)
	return out
}

// Approve advances o by one approval step on behalf of an actor holding
// role. The stamp written depends on which stage was reached.
func (o Order) Approve(role auth.Role, by string, at time.Time) (Order, error) {
	if !CanTakeActionOnOrder(o.Status, role) {
		return o, fmt.Errorf("%w: %s cannot act on %s order", ErrForbidden, role, o.Status)
	}
	next := NextOrderStatus(o.Status, role)
	if next == o.Status {
		return o, fmt.Errorf("%w: %s has no approval step from %s", ErrInvalidTransition, role, o.Status)
	}
	out := o.Clone()
	at = at.UTC()
	switch next {
	case StatusManagerApproved:
		out.ManagerApprovedBy = by
		out.ManagerApprovedAt = &at
	case StatusApproved:
		out.AdminApprovedBy = by
		out.AdminApprovedAt = &at
	}
	out.Status = next
	out.UpdatedAt = at
	return out, nil
}

// Reject moves o to rejected. The reason is mandatory and no stamp is
// written without one.
func (o Order) Reject(role auth.Role, by, reason string, at time.Time) (Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return o, ErrReasonRequired
	}
	if !CanTakeActionOnOrder(o.Status, role) {
		return o, fmt.Errorf("%w: %s cannot act on %s order", ErrForbidden, role, o.Status)
	}
	if !o.Status.Rejectable() {
		return o, fmt.Errorf("%w: cannot reject %s order", ErrInvalidTransition, o.Status)
	}
	out := o.Clone()
	at = at.UTC()
	out.Status = StatusRejected
	out.RejectedBy = by
	out.RejectedAt = &at
	out.RejectionReason = reason
	out.UpdatedAt = at
	return out, nil
}

// Send marks an approved order as sent to the vendor.
func (o Order) Send(at time.Time) (Order, error) {
	if o.Status != StatusApproved {
		return o, fmt.Errorf("%w: cannot send %s order", ErrInvalidTransition, o.Status)
	}
	out := o.Clone()
	at = at.UTC()
	out.Status = StatusSent
	out.SentAt = &at
	out.UpdatedAt = at
	return out, nil
}

// Escalate flags a pending order as overdue once EscalationAfter has passed
// since creation. The second result reports whether o changed.
func (o Order) Escalate(now time.Time) (Order, bool) {
	if o.Status != StatusPending || now.Sub(o.CreatedAt) < EscalationAfter {
		return o, false
	}
	out := o.Clone()
	out.Status = StatusPending24h
	out.UpdatedAt = now.UTC()
	return out, true
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
