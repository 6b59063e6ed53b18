// Package boardapi is the REST surface of the board service. It shares the
// command handlers and broadcaster with the websocket gateway, so a mutation
// made over HTTP converges on socket-connected peers exactly like a socket
// command would.
package boardapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"kanva/cmd/internal/board"
	v1 "kanva/contracts/realtime/v1"
)

const maxBodyBytes = 64 << 10

// TokenVerifier maps a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string, now time.Time) (userID string, err error)
}

// Broadcaster fans mutation deltas out to realtime peers.
type Broadcaster interface {
	BroadcastEvent(eventType, boardID string, payload any)
	NotifyAccessRevoked(boardID, userID, reason string)
}

// Handler serves the /api/ board endpoints.
type Handler struct {
	log      *slog.Logger
	svc      *board.Service
	verifier TokenVerifier
	rt       Broadcaster
}

// NewHandler wires the REST surface. rt may be nil (no realtime fanout, e.g.
// in tests).
func NewHandler(log *slog.Logger, svc *board.Service, verifier TokenVerifier, rt Broadcaster) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, svc: svc, verifier: verifier, rt: rt}
}

// Register mounts all routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/boards", h.handleBoardCreate)
	mux.HandleFunc("GET /api/boards", h.handleBoardList)
	mux.HandleFunc("GET /api/boards/{id}", h.handleBoardGet)
	mux.HandleFunc("PATCH /api/boards/{id}", h.handleBoardUpdate)
	mux.HandleFunc("DELETE /api/boards/{id}", h.handleBoardDelete)
	mux.HandleFunc("GET /api/boards/{id}/activity", h.handleBoardActivity)
	mux.HandleFunc("POST /api/boards/{id}/tasks", h.handleTaskCreate)
	mux.HandleFunc("PATCH /api/boards/{id}/tasks/{task_id}", h.handleTaskUpdate)
	mux.HandleFunc("DELETE /api/boards/{id}/tasks/{task_id}", h.handleTaskDelete)
	mux.HandleFunc("POST /api/boards/{id}/tasks/{task_id}/move", h.handleTaskMove)
	mux.HandleFunc("POST /api/boards/{id}/columns", h.handleColumnCreate)
	mux.HandleFunc("PATCH /api/boards/{id}/columns/{column_id}", h.handleColumnUpdate)
	mux.HandleFunc("DELETE /api/boards/{id}/columns/{column_id}", h.handleColumnDelete)
	mux.HandleFunc("POST /api/boards/{id}/columns/reorder", h.handleColumnReorder)
	mux.HandleFunc("POST /api/boards/{id}/columns/{column_id}/tasks/reorder", h.handleTaskReorder)
	mux.HandleFunc("POST /api/boards/{id}/members", h.handleMemberAdd)
	mux.HandleFunc("PATCH /api/boards/{id}/members/{user_id}", h.handleMemberChangeRole)
	mux.HandleFunc("DELETE /api/boards/{id}/members/{user_id}", h.handleMemberRemove)
	mux.HandleFunc("POST /api/boards/{id}/invites", h.handleInviteCreate)
	mux.HandleFunc("POST /api/boards/{id}/invites/{link_id}/revoke", h.handleInviteRevoke)
	mux.HandleFunc("POST /api/invites/accept", h.handleInviteAccept)
}

// requireAuth resolves the caller's user id from the Authorization header.
func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	tok, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok || strings.TrimSpace(tok) == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return "", false
	}

	userID, err := h.verifier.Verify(strings.TrimSpace(tok), time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return "", false
	}
	return userID, true
}

// writeServiceError maps board service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case board.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "bad_request", board.UserMessage(err))
	case board.IsForbidden(err):
		writeError(w, http.StatusForbidden, "forbidden", board.UserMessage(err))
	case board.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", board.UserMessage(err))
	case board.IsConflict(err):
		writeError(w, http.StatusConflict, "conflict", board.UserMessage(err))
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// ---- boards ----

type boardCreateRequest struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Visibility  string       `json:"visibility,omitempty"`
	Settings    *v1.Settings `json:"settings,omitempty"`
}

func (h *Handler) handleBoardCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req boardCreateRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}

	b, err := h.svc.CreateBoard(r.Context(), userID, board.CreateBoardInput{
		Name:        req.Name,
		Description: req.Description,
		Visibility:  req.Visibility,
		Settings:    req.Settings,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"board": b.Wire()})
}

func (h *Handler) handleBoardList(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	boards, err := h.svc.ListBoards(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]v1.Board, 0, len(boards))
	for _, b := range boards {
		out = append(out, b.Wire())
	}
	writeJSON(w, http.StatusOK, map[string]any{"boards": out})
}

func (h *Handler) handleBoardGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	b, access, err := h.svc.GetBoard(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"board": b.Wire(),
		"role":  access.Role,
	})
}

type boardUpdateRequest struct {
	Patch v1.BoardPatch `json:"patch"`
}

func (h *Handler) handleBoardUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req boardUpdateRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}

	out, err := h.svc.UpdateBoard(r.Context(), userID, board.UpdateBoardInput{
		BoardID: r.PathValue("id"),
		Patch:   req.Patch,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if h.rt != nil {
		h.rt.BroadcastEvent(v1.TypeBoardUpdated, out.BoardID, out)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleBoardDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	out, err := h.svc.DeleteBoard(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if h.rt != nil {
		h.rt.BroadcastEvent(v1.TypeBoardDeleted, out.BoardID, out)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleBoardActivity(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	boardID := r.PathValue("id")

	// Activity is gated on the same view check as the board itself.
	if _, _, err := h.svc.GetBoard(r.Context(), boardID, userID); err != nil {
		writeServiceError(w, err)
		return
	}

	entries := h.svc.Feed().Recent(boardID, 50)
	writeJSON(w, http.StatusOK, map[string]any{
		"board_id": boardID,
		"activity": entries,
	})
}
