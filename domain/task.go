package domain

import "time"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Task represents a single item in the task list.
type Task struct {
	ID          int       `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewTask carries the fields a caller may set when creating a task.
type NewTask struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Status      *Status `json:"status"`
}

// TaskPatch is a partial update. Nil fields are left unchanged.
type TaskPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *Status `json:"status"`
}

// Apply returns t with the non-nil fields of p applied. ID and CreatedAt are never touched.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	return t
}

// SortOrder orders task listings by creation time.
type SortOrder string

const (
	SortNone SortOrder = ""
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// TaskFilter narrows a task listing.
type TaskFilter struct {
	Status *Status
	Sort   SortOrder
}

// Event types published after a task mutation.
const (
	TaskCreated = "task-created"
	TaskUpdated = "task-updated"
	TaskDeleted = "task-deleted"
)

// TaskEvent describes a completed task mutation.
type TaskEvent struct {
	Type  string    `json:"type"`
	Task  Task      `json:"task"`
	Actor Identity  `json:"actor"`
	Time  time.Time `json:"time"`
}
