package boardapi

import (
	"net/http"
	"time"

	"kanva/cmd/internal/board"
	v1 "kanva/contracts/realtime/v1"
)

// inviteLinkView is the invite link as exposed over HTTP. The stored token
// hash never leaves the server.
type inviteLinkView struct {
	ID        string     `json:"id"`
	Role      string     `json:"role"`
	CreatedBy string     `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	MaxUses   int        `json:"max_uses,omitempty"`
	UsedCount int        `json:"used_count"`
	Active    bool       `json:"active"`
}

func viewInviteLink(l board.InviteLink) inviteLinkView {
	return inviteLinkView{
		ID:        l.ID,
		Role:      l.Role,
		CreatedBy: l.CreatedBy,
		CreatedAt: l.CreatedAt,
		ExpiresAt: l.ExpiresAt,
		MaxUses:   l.MaxUses,
		UsedCount: l.UsedCount,
		Active:    l.Active,
	}
}

type inviteCreateRequest struct {
	Role       string `json:"role,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
	MaxUses    int    `json:"max_uses,omitempty"`
}

func (h *Handler) handleInviteCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req inviteCreateRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}

	link, tokenPlain, err := h.svc.CreateInviteLink(r.Context(), userID, board.CreateInviteLinkInput{
		BoardID: r.PathValue("id"),
		Role:    req.Role,
		TTL:     time.Duration(req.TTLSeconds) * time.Second,
		MaxUses: req.MaxUses,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// The plain token is returned exactly once, at creation.
	writeJSON(w, http.StatusCreated, map[string]any{
		"link":  viewInviteLink(link),
		"token": tokenPlain,
	})
}

func (h *Handler) handleInviteRevoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	link, err := h.svc.RevokeInviteLink(r.Context(), userID, r.PathValue("id"), r.PathValue("link_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"link": viewInviteLink(link)})
}

type inviteAcceptRequest struct {
	BoardID string `json:"board_id"`
	Token   string `json:"token"`
}

func (h *Handler) handleInviteAccept(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req inviteAcceptRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}

	res, err := h.svc.AcceptInviteLink(r.Context(), userID, req.BoardID, req.Token)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if res.Added != nil && h.rt != nil {
		h.rt.BroadcastEvent(v1.TypeMemberAdded, res.Added.BoardID, *res.Added)
	}

	writeJSON(w, http.StatusOK, map[string]any{"board": res.Board.Wire()})
}
