package boardapi

import (
	"net/http"
	"time"

	"kanva/cmd/internal/board"
	v1 "kanva/contracts/realtime/v1"
)

// Column, task, and member endpoints. Each one runs the same service call the
// websocket gateway runs for the matching command, then fans the resulting
// delta out through the broadcaster, so HTTP and socket mutations are
// indistinguishable to connected peers.

// ---- tasks ----

type taskCreateRequest struct {
	ColumnID    string     `json:"column_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	AssigneeID  string     `json:"assignee_id,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

func (h *Handler) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req taskCreateRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}

	out, err := h.svc.CreateTask(r.Context(), userID, board.CreateTaskInput{
		BoardID:     r.PathValue("id"),
		ColumnID:    req.ColumnID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		AssigneeID:  req.AssigneeID,
		DueDate:     req.DueDate,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if h.rt != nil {
		h.rt.BroadcastEvent(v1.TypeTaskCreated, out.BoardID, out)
	}
	writeJSON(w, http.StatusCreated, out)
}

type taskUpdateRequest struct {
	Patch v1.TaskPatch `json:"patch"`
}

func (h *Handler) handleTaskUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req taskUpdateRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}

	out, err := h.svc.UpdateTask(r.Context(), userID, board.UpdateTaskInput{
		BoardID: r.PathValue("id"),
		TaskID:  r.PathValue("task_id"),
		Patch:   req.Patch,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if h.rt != nil {
		h.rt.BroadcastEvent(v1.TypeTaskUpdated, out.BoardID, out)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	out, err := h.svc.DeleteTask(r.Context(), userID, v1.TaskDeletePayload{
		BoardID: r.PathValue("id"),
		TaskID:  r.PathValue("task_id"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if h.rt != nil {
		h.rt.BroadcastEvent(v1.TypeTaskDeleted, out.BoardID, out)
	}
	writeJSON(w, http.StatusOK, out)
}

type taskMoveRequest struct {
	ToColumnID string `json:"to_column_id"`
	ToIndex    int    `json:"to_index"`
}

func (h *Handler) handleTaskMove(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req taskMoveRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}

	out, err := h.svc.MoveTask(r.Context(), userID, board.MoveTaskInput{
		BoardID:    r.PathValue("id"),
		TaskID:     r.PathValue("task_id"),
		ToColumnID: req.ToColumnID,
		ToIndex:    req.ToIndex,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if h.rt != nil {
		h.rt.BroadcastEvent(v1.TypeTaskMoved, out.BoardID, out)
	}
	writeJSON(w, http.StatusOK, out)
}

type taskReorderRequest struct {
	TaskIDs []string `json:"task_ids"`
}

func (h *Handler) handleTaskReorder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req taskReorderRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}

	out, err := h.svc.ReorderTasks(r.Context(), userID, board.ReorderTasksInput{
		BoardID:  r.PathValue("id"),
		ColumnID: r.PathValue("column_id"),
		TaskIDs:  req.TaskIDs,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if h.rt != nil {
		h.rt.BroadcastEvent(v1.TypeTaskReordered, out.BoardID, out)
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- columns ----

type columnCreateRequest struct {
	Name string `json:"name"`
}

func (h *Handler) handleColumnCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req columnCreateRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}

	out, err := h.svc.CreateColumn(r.Context(), userID, v1.ColumnCreatePayload{
		BoardID: r.PathValue("id"),
		Name:    req.Name,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if h.rt != nil {
		h.rt.BroadcastEvent(v1.TypeColumnCreated, out.BoardID, out)
	}
	writeJSON(w, http.StatusCreated, out)
}

type columnUpdateRequest struct {
	Name string `json:"name"`
}

func (h *Handler) handleColumnUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req columnUpdateRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}

	out, err := h.svc.UpdateColumn(r.Context(), userID, v1.ColumnUpdatePayload{
		BoardID:  r.PathValue("id"),
		ColumnID: r.PathValue("column_id"),
		Name:     req.Name,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if h.rt != nil {
		h.rt.BroadcastEvent(v1.TypeColumnUpdated, out.BoardID, out)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleColumnDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	out, err := h.svc.DeleteColumn(r.Context(), userID, v1.ColumnDeletePayload{
		BoardID:  r.PathValue("id"),
		ColumnID: r.PathValue("column_id"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if h.rt != nil {
		h.rt.BroadcastEvent(v1.TypeColumnDeleted, out.BoardID, out)
	}
	writeJSON(w, http.StatusOK, out)
}

type columnReorderRequest struct {
	ColumnIDs []string `json:"column_ids"`
}

func (h *Handler) handleColumnReorder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req columnReorderRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}

	out, err := h.svc.ReorderColumns(r.Context(), userID, v1.ColumnReorderPayload{
		BoardID:   r.PathValue("id"),
		ColumnIDs: req.ColumnIDs,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if h.rt != nil {
		h.rt.BroadcastEvent(v1.TypeColumnReordered, out.BoardID, out)
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- members ----

type memberAddRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (h *Handler) handleMemberAdd(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req memberAddRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}

	out, err := h.svc.AddMember(r.Context(), userID, v1.MemberAddPayload{
		BoardID: r.PathValue("id"),
		UserID:  req.UserID,
		Role:    req.Role,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if h.rt != nil {
		h.rt.BroadcastEvent(v1.TypeMemberAdded, out.BoardID, out)
	}
	writeJSON(w, http.StatusCreated, out)
}

type memberChangeRoleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) handleMemberChangeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req memberChangeRoleRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}

	out, err := h.svc.ChangeMemberRole(r.Context(), userID, v1.MemberChangeRolePayload{
		BoardID: r.PathValue("id"),
		UserID:  r.PathValue("user_id"),
		Role:    req.Role,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if h.rt != nil {
		h.rt.BroadcastEvent(v1.TypeMemberRoleChanged, out.BoardID, out)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleMemberRemove(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	out, err := h.svc.RemoveMember(r.Context(), userID, v1.MemberRemovePayload{
		BoardID: r.PathValue("id"),
		UserID:  r.PathValue("user_id"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if h.rt != nil {
		h.rt.BroadcastEvent(v1.TypeMemberRemoved, out.BoardID, out)
		// Removal revokes access: the target's live connections are told
		// directly, since they may not be in the board room anymore.
		h.rt.NotifyAccessRevoked(out.BoardID, out.UserID, "removed from board")
	}
	writeJSON(w, http.StatusOK, out)
}
