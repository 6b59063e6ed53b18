package board

import (
	"testing"

	v1 "kanva/contracts/realtime/v1"
)

func TestPermissionsForRole(t *testing.T) {
	t.Parallel()

	cases := []struct {
		role string
		want v1.Permissions
	}{
		{v1.RoleOwner, v1.Permissions{CanView: true, CanEdit: true, CanDelete: true, CanInvite: true, CanManageMembers: true}},
		{v1.RoleEditor, v1.Permissions{CanView: true, CanEdit: true}},
		{v1.RoleViewer, v1.Permissions{CanView: true}},
		{v1.RoleNone, v1.Permissions{}},
		{"bogus", v1.Permissions{}},
	}
	for _, tc := range cases {
		t.Run(tc.role, func(t *testing.T) {
			if got := PermissionsForRole(tc.role); got != tc.want {
				t.Fatalf("PermissionsForRole(%q) = %+v, want %+v", tc.role, got, tc.want)
			}
		})
	}
}

func TestResolveAccessOrder(t *testing.T) {
	t.Parallel()

	b := &Board{
		ID:         "b1",
		OwnerID:    "alice",
		Visibility: v1.VisibilityPrivate,
		Members: []Member{
			{UserID: "bob", Role: v1.RoleEditor, Permissions: PermissionsForRole(v1.RoleEditor)},
		},
	}

	cases := []struct {
		name      string
		board     *Board
		userID    string
		wantRole  string
		hasAccess bool
	}{
		{name: "owner wins", board: b, userID: "alice", wantRole: v1.RoleOwner, hasAccess: true},
		{name: "member record", board: b, userID: "bob", wantRole: v1.RoleEditor, hasAccess: true},
		{name: "stranger private", board: b, userID: "mallory", wantRole: v1.RoleNone},
		{name: "empty user", board: b, userID: "", wantRole: v1.RoleNone},
		{name: "nil board", board: nil, userID: "alice", wantRole: v1.RoleNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			acc := ResolveAccess(tc.board, tc.userID)
			if acc.Role != tc.wantRole || acc.HasAccess != tc.hasAccess {
				t.Fatalf("ResolveAccess = %+v, want role=%q access=%v", acc, tc.wantRole, tc.hasAccess)
			}
		})
	}
}

func TestResolveAccessPublicFallback(t *testing.T) {
	t.Parallel()

	b := &Board{ID: "b1", OwnerID: "alice", Visibility: v1.VisibilityPublic}

	acc := ResolveAccess(b, "stranger")
	if !acc.HasAccess || acc.Role != v1.RoleViewer {
		t.Fatalf("public fallback = %+v, want viewer", acc)
	}
	if !acc.Can(ActionView) || acc.Can(ActionEdit) || acc.Can(ActionInvite) {
		t.Fatalf("public viewer permissions wrong: %+v", acc.Permissions)
	}

	// A member record beats the public fallback even at a lower grant.
	b.Members = []Member{{UserID: "stranger", Role: v1.RoleEditor, Permissions: PermissionsForRole(v1.RoleEditor)}}
	acc = ResolveAccess(b, "stranger")
	if acc.Role != v1.RoleEditor || !acc.Can(ActionEdit) {
		t.Fatalf("member should win over public fallback: %+v", acc)
	}
}

func TestAccessCanUnknownAction(t *testing.T) {
	t.Parallel()

	acc := Access{HasAccess: true, Role: v1.RoleOwner, Permissions: PermissionsForRole(v1.RoleOwner)}
	if acc.Can(Action("transmogrify")) {
		t.Fatalf("unknown action granted")
	}
	if (Access{}).Can(ActionView) {
		t.Fatalf("no-access grant")
	}
}
