package v1

import "time"

// Role values carried on the wire. Owner is implicit on the board document and
// never stored as a member role.
const (
	RoleOwner  = "owner"
	RoleEditor = "editor"
	RoleViewer = "viewer"
	RoleNone   = "none"
)

// Priority values for tasks.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Visibility values for boards.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Permissions is the denormalized permission set attached to a member.
type Permissions struct {
	CanView          bool `json:"can_view"`
	CanEdit          bool `json:"can_edit"`
	CanDelete        bool `json:"can_delete"`
	CanInvite        bool `json:"can_invite"`
	CanManageMembers bool `json:"can_manage_members"`
}

// Settings is the per-board settings record.
type Settings struct {
	AllowGuestAccess bool   `json:"allow_guest_access"`
	RequireApproval  bool   `json:"require_approval"`
	DefaultRole      string `json:"default_role"`
}

// Task is the wire representation of a task.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	CreatorID   string     `json:"creator_id"`
	AssigneeID  string     `json:"assignee_id,omitempty"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Column is the wire representation of a column. TaskIDs defines display order.
type Column struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TaskIDs   []string  `json:"task_ids"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Member is the wire representation of a board member.
type Member struct {
	UserID      string      `json:"user_id"`
	Role        string      `json:"role"`
	Permissions Permissions `json:"permissions"`
	InvitedBy   string      `json:"invited_by,omitempty"`
	InvitedAt   time.Time   `json:"invited_at"`
	JoinedAt    time.Time   `json:"joined_at"`
}

// Board is the wire representation of a full board aggregate.
// Task map order is irrelevant; ordering is carried by Column.TaskIDs.
type Board struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	OwnerID     string          `json:"owner_id"`
	Visibility  string          `json:"visibility"`
	Settings    Settings        `json:"settings"`
	Columns     []Column        `json:"columns"`
	Tasks       map[string]Task `json:"tasks"`
	Members     []Member        `json:"members"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
