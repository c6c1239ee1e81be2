package orders

import (
	"testing"

	"villaops.org/internal/auth"
)

func TestCanTakeActionOnOrder(t *testing.T) {
	type row map[Status]bool
	cases := map[auth.Role]row{
		auth.RoleSuperadmin: {
			StatusPending: true, StatusPending24h: true, StatusManagerApproved: true,
			StatusApproved: true, StatusRejected: false, StatusSent: false,
		},
		auth.RoleAdministrator: {
			StatusPending: true, StatusPending24h: true, StatusManagerApproved: true,
			StatusApproved: false, StatusRejected: false, StatusSent: false,
		},
		auth.RolePropertyManager: {
			StatusPending: true, StatusPending24h: false, StatusManagerApproved: false,
			StatusApproved: false, StatusRejected: false, StatusSent: false,
		},
		auth.RoleManager: {
			StatusPending: true, StatusPending24h: false, StatusManagerApproved: false,
			StatusApproved: false, StatusRejected: false, StatusSent: false,
		},
	}
	for role, want := range cases {
		for _, st := range Statuses() {
			if got := CanTakeActionOnOrder(st, role); got != want[st] {
				t.Errorf("CanTakeActionOnOrder(%s, %s) = %v, want %v", st, role, got, want[st])
			}
		}
	}
	for _, role := range []auth.Role{auth.RoleConcierge, auth.RoleInventoryManager, auth.RoleHousekeeper, auth.RoleExternalPartner, "ghost"} {
		for _, st := range Statuses() {
			if CanTakeActionOnOrder(st, role) {
				t.Errorf("%s should never act, allowed on %s", role, st)
			}
		}
	}
	if CanTakeActionOnOrder("bogus", auth.RoleSuperadmin) {
		t.Error("unknown status must not be actionable")
	}
}

func TestNextOrderStatus(t *testing.T) {
	cases := []struct {
		status Status
		role   auth.Role
		want   Status
	}{
		{StatusPending, auth.RoleSuperadmin, StatusApproved},
		{StatusPending24h, auth.RoleSuperadmin, StatusApproved},
		{StatusManagerApproved, auth.RoleSuperadmin, StatusApproved},
		{StatusApproved, auth.RoleSuperadmin, StatusApproved},
		{StatusManagerApproved, auth.RoleAdministrator, StatusApproved},
		{StatusPending24h, auth.RoleAdministrator, StatusApproved},
		{StatusPending, auth.RoleAdministrator, StatusPending},
		{StatusPending, auth.RolePropertyManager, StatusManagerApproved},
		{StatusPending, auth.RoleManager, StatusManagerApproved},
		{StatusApproved, auth.RolePropertyManager, StatusApproved},
		{StatusPending24h, auth.RolePropertyManager, StatusPending24h},
		{StatusPending, auth.RoleConcierge, StatusPending},
		{StatusRejected, auth.RoleSuperadmin, StatusRejected},
		{StatusSent, auth.RoleAdministrator, StatusSent},
	}
	for _, tc := range cases {
		if got := NextOrderStatus(tc.status, tc.role); got != tc.want {
			t.Errorf("NextOrderStatus(%s, %s) = %s, want %s", tc.status, tc.role, got, tc.want)
		}
	}
}

func TestScenarios(t *testing.T) {
	t.Run("property manager approves pending", func(t *testing.T) {
		if !CanTakeActionOnOrder(StatusPending, auth.RolePropertyManager) {
			t.Fatal("property manager should act on pending")
		}
		if got := NextOrderStatus(StatusPending, auth.RolePropertyManager); got != StatusManagerApproved {
			t.Fatalf("got %s", got)
		}
	})
	t.Run("superadmin fast path from pending_24h", func(t *testing.T) {
		if got := NextOrderStatus(StatusPending24h, auth.RoleSuperadmin); got != StatusApproved {
			t.Fatalf("got %s", got)
		}
	})
	t.Run("manager tier has no authority on approved", func(t *testing.T) {
		if got := NextOrderStatus(StatusApproved, auth.RolePropertyManager); got != StatusApproved {
			t.Fatalf("got %s", got)
		}
	})
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus(" Pending_24H "); err != nil || s != StatusPending24h {
		t.Fatalf("ParseStatus: %v %v", s, err)
	}
	if _, err := ParseStatus("archived"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}
