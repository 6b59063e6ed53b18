package board

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	v1 "kanva/contracts/realtime/v1"

	"kanva/cmd/security/token"
)

const inviteTokenBytes = 32

// CreateInviteLinkInput describes invite link creation.
type CreateInviteLinkInput struct {
	BoardID string
	Role    string
	TTL     time.Duration
	MaxUses int
}

// AcceptInviteResult reports the outcome of consuming an invite token.
// Added is nil when the accepting user was already a member (or the owner);
// the use count is incremented either way.
type AcceptInviteResult struct {
	Board *Board
	Added *v1.MemberAddedPayload
}

// CreateInviteLink creates a shareable invite link and returns the link plus
// its plain token. Only the token's hash is stored on the aggregate.
func (s *Service) CreateInviteLink(ctx context.Context, userID string, in CreateInviteLinkInput) (InviteLink, string, error) {
	const op = "board.CreateInviteLink"

	role := in.Role
	if role == "" {
		role = v1.RoleViewer
	}
	if !validMemberRole(role) {
		return InviteLink{}, "", OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid role: " + role}
	}

	unlock := s.lockBoard(in.BoardID)
	defer unlock()

	b, _, err := s.requireAccess(ctx, op, in.BoardID, userID, ActionInvite)
	if err != nil {
		return InviteLink{}, "", err
	}

	now := s.now()

	tokenPlain, err := newOpaqueToken(inviteTokenBytes)
	if err != nil {
		return InviteLink{}, "", err
	}
	linkID, err := NewID(now)
	if err != nil {
		return InviteLink{}, "", err
	}

	link := InviteLink{
		ID:        linkID,
		TokenHash: token.HashInviteTokenHex(tokenPlain),
		Role:      role,
		CreatedBy: userID,
		CreatedAt: now,
		MaxUses:   in.MaxUses,
		Active:    true,
	}
	if in.TTL > 0 {
		exp := now.Add(in.TTL)
		link.ExpiresAt = &exp
	}

	b.InviteLinks = append(b.InviteLinks, link)
	b.UpdatedAt = now

	if err := s.store.Replace(ctx, b.ID, b); err != nil {
		return InviteLink{}, "", err
	}

	s.feed.Record(b.ID, ActivityEntry{At: now, UserID: userID, Action: "invite.created", Detail: linkID})
	s.log.Info("board.invite.create", "board_id", b.ID, "invite_id", linkID, "role", role, "user_id", userID)

	return link, tokenPlain, nil
}

// RevokeInviteLink deactivates a link. Links are never deleted, only
// deactivated, so the trail of past uses stays intact.
func (s *Service) RevokeInviteLink(ctx context.Context, userID, boardID, linkID string) (InviteLink, error) {
	const op = "board.RevokeInviteLink"

	unlock := s.lockBoard(boardID)
	defer unlock()

	b, _, err := s.requireAccess(ctx, op, boardID, userID, ActionInvite)
	if err != nil {
		return InviteLink{}, err
	}

	link := b.InviteLink(linkID)
	if link == nil {
		return InviteLink{}, OpError{Op: op, Kind: ErrNotFound, Msg: "invite " + linkID}
	}

	now := s.now()
	link.Active = false
	b.UpdatedAt = now

	if err := s.store.Replace(ctx, b.ID, b); err != nil {
		return InviteLink{}, err
	}

	s.feed.Record(b.ID, ActivityEntry{At: now, UserID: userID, Action: "invite.revoked", Detail: linkID})
	s.log.Info("board.invite.revoke", "board_id", b.ID, "invite_id", linkID, "user_id", userID)

	return *link, nil
}

// AcceptInviteLink consumes a valid token: rejects inactive, expired, or
// exhausted links; increments the use count; and creates a Member at the
// link's target role when the accepting user is not already one. The
// per-board lock makes concurrent acceptances of the same token safe: the
// use count can never exceed MaxUses.
func (s *Service) AcceptInviteLink(ctx context.Context, userID, boardID, tokenPlain string) (AcceptInviteResult, error) {
	const op = "board.AcceptInviteLink"

	if strings.TrimSpace(userID) == "" {
		return AcceptInviteResult{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing user id"}
	}
	tokenPlain = strings.TrimSpace(tokenPlain)
	if tokenPlain == "" {
		return AcceptInviteResult{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing invite token"}
	}

	unlock := s.lockBoard(boardID)
	defer unlock()

	b, err := s.store.FindByID(ctx, boardID)
	if err != nil {
		if IsNotFound(err) {
			return AcceptInviteResult{}, OpError{Op: op, Kind: ErrNotFound, Msg: "board not found"}
		}
		return AcceptInviteResult{}, err
	}

	hash := token.HashInviteTokenHex(tokenPlain)
	var link *InviteLink
	for i := range b.InviteLinks {
		if b.InviteLinks[i].TokenHash == hash {
			link = &b.InviteLinks[i]
			break
		}
	}
	if link == nil {
		return AcceptInviteResult{}, OpError{Op: op, Kind: ErrNotFound, Msg: "invite token not recognized"}
	}

	now := s.now()
	if !link.Active {
		return AcceptInviteResult{}, OpError{Op: op, Kind: ErrConflict, Msg: "invite link is revoked"}
	}
	if link.ExpiresAt != nil && !link.ExpiresAt.After(now) {
		return AcceptInviteResult{}, OpError{Op: op, Kind: ErrConflict, Msg: "invite link is expired"}
	}
	if link.MaxUses > 0 && link.UsedCount >= link.MaxUses {
		return AcceptInviteResult{}, OpError{Op: op, Kind: ErrConflict, Msg: "invite link is exhausted"}
	}

	link.UsedCount++

	var added *v1.MemberAddedPayload
	if userID != b.OwnerID && b.Member(userID) == nil {
		role := link.Role
		if role == "" {
			role = b.Settings.DefaultRole
		}
		m := Member{
			UserID:      userID,
			Role:        role,
			Permissions: PermissionsForRole(role),
			InvitedBy:   link.CreatedBy,
			InvitedAt:   link.CreatedAt,
			JoinedAt:    now,
		}
		b.Members = append(b.Members, m)
		added = &v1.MemberAddedPayload{BoardID: b.ID, Member: m.Wire()}
	}
	b.UpdatedAt = now

	if err := s.store.Replace(ctx, b.ID, b); err != nil {
		return AcceptInviteResult{}, err
	}

	s.feed.Record(b.ID, ActivityEntry{At: now, UserID: userID, Action: "invite.accepted", Detail: link.ID})
	s.log.Info("board.invite.accept", "board_id", b.ID, "invite_id", link.ID, "user_id", userID, "used", link.UsedCount)

	return AcceptInviteResult{Board: b, Added: added}, nil
}

func newOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = inviteTokenBytes
	}
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
