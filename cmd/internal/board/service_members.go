package board

import (
	"context"
	"strings"

	v1 "kanva/contracts/realtime/v1"
)

// AddMember adds a user as a board member at the given role. Requires invite
// permission. The owner cannot be added: ownership is implicit.
func (s *Service) AddMember(ctx context.Context, userID string, in v1.MemberAddPayload) (v1.MemberAddedPayload, error) {
	const op = "board.AddMember"

	target := strings.TrimSpace(in.UserID)
	if target == "" {
		return v1.MemberAddedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing user id"}
	}
	if !validMemberRole(in.Role) {
		return v1.MemberAddedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid role: " + in.Role}
	}

	unlock := s.lockBoard(in.BoardID)
	defer unlock()

	b, _, err := s.requireAccess(ctx, op, in.BoardID, userID, ActionInvite)
	if err != nil {
		return v1.MemberAddedPayload{}, err
	}

	if target == b.OwnerID {
		return v1.MemberAddedPayload{}, OpError{Op: op, Kind: ErrConflict, Msg: "owner is not a member"}
	}
	if b.Member(target) != nil {
		return v1.MemberAddedPayload{}, OpError{Op: op, Kind: ErrConflict, Msg: "user " + target + " is already a member"}
	}

	now := s.now()
	m := Member{
		UserID:      target,
		Role:        in.Role,
		Permissions: PermissionsForRole(in.Role),
		InvitedBy:   userID,
		InvitedAt:   now,
		JoinedAt:    now,
	}
	b.Members = append(b.Members, m)
	b.UpdatedAt = now

	if err := s.store.Replace(ctx, b.ID, b); err != nil {
		return v1.MemberAddedPayload{}, err
	}

	s.feed.Record(b.ID, ActivityEntry{At: now, UserID: userID, Action: "member.added", Detail: target})
	s.log.Info("board.member.add", "board_id", b.ID, "member_id", target, "role", in.Role, "user_id", userID)

	return v1.MemberAddedPayload{BoardID: b.ID, Member: m.Wire()}, nil
}

// RemoveMember removes a board member. Requires manage-members permission.
// The owner can never be the target; that is a rejected precondition, not a
// no-op.
func (s *Service) RemoveMember(ctx context.Context, userID string, in v1.MemberRemovePayload) (v1.MemberRemovedPayload, error) {
	const op = "board.RemoveMember"

	target := strings.TrimSpace(in.UserID)
	if target == "" {
		return v1.MemberRemovedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing user id"}
	}

	unlock := s.lockBoard(in.BoardID)
	defer unlock()

	b, _, err := s.requireAccess(ctx, op, in.BoardID, userID, ActionManageMembers)
	if err != nil {
		return v1.MemberRemovedPayload{}, err
	}

	if target == b.OwnerID {
		return v1.MemberRemovedPayload{}, OpError{Op: op, Kind: ErrConflict, Msg: "owner cannot be removed"}
	}

	idx := -1
	for i := range b.Members {
		if b.Members[i].UserID == target {
			idx = i
			break
		}
	}
	if idx < 0 {
		return v1.MemberRemovedPayload{}, OpError{Op: op, Kind: ErrNotFound, Msg: "member " + target}
	}

	now := s.now()
	b.Members = append(b.Members[:idx], b.Members[idx+1:]...)
	b.UpdatedAt = now

	if err := s.store.Replace(ctx, b.ID, b); err != nil {
		return v1.MemberRemovedPayload{}, err
	}

	s.feed.Record(b.ID, ActivityEntry{At: now, UserID: userID, Action: "member.removed", Detail: target})
	s.log.Info("board.member.remove", "board_id", b.ID, "member_id", target, "user_id", userID)

	return v1.MemberRemovedPayload{BoardID: b.ID, UserID: target}, nil
}

// ChangeMemberRole changes a member's role and recomputes the denormalized
// permission set from the fixed table. The owner's role is immutable.
func (s *Service) ChangeMemberRole(ctx context.Context, userID string, in v1.MemberChangeRolePayload) (v1.MemberRoleChangedPayload, error) {
	const op = "board.ChangeMemberRole"

	target := strings.TrimSpace(in.UserID)
	if target == "" {
		return v1.MemberRoleChangedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing user id"}
	}
	if !validMemberRole(in.Role) {
		return v1.MemberRoleChangedPayload{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid role: " + in.Role}
	}

	unlock := s.lockBoard(in.BoardID)
	defer unlock()

	b, _, err := s.requireAccess(ctx, op, in.BoardID, userID, ActionManageMembers)
	if err != nil {
		return v1.MemberRoleChangedPayload{}, err
	}

	if target == b.OwnerID {
		return v1.MemberRoleChangedPayload{}, OpError{Op: op, Kind: ErrConflict, Msg: "owner role cannot be changed"}
	}

	m := b.Member(target)
	if m == nil {
		return v1.MemberRoleChangedPayload{}, OpError{Op: op, Kind: ErrNotFound, Msg: "member " + target}
	}

	now := s.now()
	m.Role = in.Role
	// Recomputed, never copied: permissions are denormalized for fast checks.
	m.Permissions = PermissionsForRole(in.Role)
	b.UpdatedAt = now

	if err := s.store.Replace(ctx, b.ID, b); err != nil {
		return v1.MemberRoleChangedPayload{}, err
	}

	s.feed.Record(b.ID, ActivityEntry{At: now, UserID: userID, Action: "member.role_changed", Detail: target + " -> " + in.Role})
	s.log.Info("board.member.change_role", "board_id", b.ID, "member_id", target, "role", in.Role, "user_id", userID)

	return v1.MemberRoleChangedPayload{BoardID: b.ID, Member: m.Wire()}, nil
}
