package orders

import (
	"fmt"
	"strings"

	"villaops.org/internal/auth"
)

// Status is the approval stage of a purchase order.
type Status string

const (
	StatusPending         Status = "pending"
	StatusPending24h      Status = "pending_24h"
	StatusManagerApproved Status = "manager_approved"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusSent            Status = "sent"
)

var allStatuses = []Status{
	StatusPending,
	StatusPending24h,
	StatusManagerApproved,
	StatusApproved,
	StatusRejected,
	StatusSent,
}

// Statuses returns the status vocabulary in workflow order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

func (s Status) Valid() bool {
	for _, v := range allStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusSent
}

// Rejectable reports whether an order in s may still be rejected.
func (s Status) Rejectable() bool {
	switch s {
	case StatusPending, StatusPending24h, StatusManagerApproved:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// ParseStatus normalises raw into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.TrimSpace(strings.ToLower(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
	}
	return s, nil
}

// tier is the authority a role carries inside the approval workflow. It is
// independent of the rank table.
type tier int

const (
	tierNone tier = iota
	tierManager
	tierAdmin
	tierSuperadmin
)

func tierOf(role auth.Role) tier {
	switch role {
	case auth.RoleSuperadmin:
		return tierSuperadmin
	case auth.RoleAdministrator:
		return tierAdmin
	case auth.RolePropertyManager, auth.RoleManager:
		return tierManager
	default:
		return tierNone
	}
}

// CanTakeActionOnOrder reports whether role may approve or reject an order
// currently in status.
func CanTakeActionOnOrder(status Status, role auth.Role) bool {
	switch tierOf(role) {
	case tierSuperadmin:
		return status.Valid() && !status.Terminal()
	case tierAdmin:
		return status == StatusPending || status == StatusManagerApproved || status == StatusPending24h
	case tierManager:
		return status == StatusPending
	default:
		return false
	}
}

// NextOrderStatus returns the status an approval by role would produce.
// Roles without authority at status get status back unchanged, so callers
// must gate with CanTakeActionOnOrder first.
func NextOrderStatus(status Status, role auth.Role) Status {
	switch tierOf(role) {
	case tierSuperadmin:
		switch status {
		case StatusPending, StatusPending24h, StatusManagerApproved:
			return StatusApproved
		}
	case tierAdmin:
		switch status {
		case StatusManagerApproved, StatusPending24h:
			return StatusApproved
		}
	case tierManager:
		if status == StatusPending {
			return StatusManagerApproved
		}
	}
	return status
}
