package board

import (
	"context"

	v1 "kanva/contracts/realtime/v1"
)

// Action names one permission field for CanPerform projections.
type Action string

// Actions gateable by the evaluator.
const (
	ActionView          Action = "view"
	ActionEdit          Action = "edit"
	ActionDelete        Action = "delete"
	ActionInvite        Action = "invite"
	ActionManageMembers Action = "manage_members"
)

// Access is the result of resolving a user against a board.
type Access struct {
	HasAccess   bool
	Role        string
	Permissions v1.Permissions
}

// Can projects the resolved permission set onto one action.
func (a Access) Can(action Action) bool {
	if !a.HasAccess {
		return false
	}
	switch action {
	case ActionView:
		return a.Permissions.CanView
	case ActionEdit:
		return a.Permissions.CanEdit
	case ActionDelete:
		return a.Permissions.CanDelete
	case ActionInvite:
		return a.Permissions.CanInvite
	case ActionManageMembers:
		return a.Permissions.CanManageMembers
	default:
		return false
	}
}

// PermissionsForRole is the fixed role -> permission table. Role changes must
// call this rather than copy a stored set, because permissions are
// denormalized onto member records.
func PermissionsForRole(role string) v1.Permissions {
	switch role {
	case v1.RoleOwner:
		return v1.Permissions{
			CanView:          true,
			CanEdit:          true,
			CanDelete:        true,
			CanInvite:        true,
			CanManageMembers: true,
		}
	case v1.RoleEditor:
		return v1.Permissions{CanView: true, CanEdit: true}
	case v1.RoleViewer:
		return v1.Permissions{CanView: true}
	default:
		return v1.Permissions{}
	}
}

// ResolveAccess evaluates userID against an already-loaded board.
//
// Resolution order: owner field, then member record, then public visibility
// (view-only), then no access.
func ResolveAccess(b *Board, userID string) Access {
	if b == nil || userID == "" {
		return Access{Role: v1.RoleNone}
	}

	if b.OwnerID == userID {
		return Access{HasAccess: true, Role: v1.RoleOwner, Permissions: PermissionsForRole(v1.RoleOwner)}
	}

	if m := b.Member(userID); m != nil {
		return Access{HasAccess: true, Role: m.Role, Permissions: m.Permissions}
	}

	if b.Visibility == v1.VisibilityPublic {
		return Access{HasAccess: true, Role: v1.RoleViewer, Permissions: PermissionsForRole(v1.RoleViewer)}
	}

	return Access{Role: v1.RoleNone}
}

// ResolveAccess loads the board and evaluates userID against it.
func (s *Service) ResolveAccess(ctx context.Context, boardID, userID string) (Access, error) {
	b, err := s.store.FindByID(ctx, boardID)
	if err != nil {
		return Access{Role: v1.RoleNone}, err
	}
	return ResolveAccess(b, userID), nil
}

// CanPerform is a thin projection of ResolveAccess onto one action.
func (s *Service) CanPerform(ctx context.Context, boardID, userID string, action Action) (bool, error) {
	acc, err := s.ResolveAccess(ctx, boardID, userID)
	if err != nil {
		return false, err
	}
	return acc.Can(action), nil
}

// requireAccess loads a board and enforces one action as a hard precondition.
// A negative result is an authorization failure, not a retryable condition.
func (s *Service) requireAccess(ctx context.Context, op, boardID, userID string, action Action) (*Board, Access, error) {
	b, err := s.store.FindByID(ctx, boardID)
	if err != nil {
		if IsNotFound(err) {
			return nil, Access{}, OpError{Op: op, Kind: ErrNotFound, Msg: "board not found"}
		}
		return nil, Access{}, err
	}

	acc := ResolveAccess(b, userID)
	if !acc.Can(action) {
		return nil, acc, OpError{Op: op, Kind: ErrForbidden, Msg: "missing permission: " + string(action)}
	}
	return b, acc, nil
}
