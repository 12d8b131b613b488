package domain

import (
	"fmt"
	"strings"
)

// ValidateNewTask checks a create payload before it reaches the repository.
func ValidateNewTask(in NewTask) error {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Description) == "" {
		return fmt.Errorf("%w: title and description are required", ErrInvalidInput)
	}
	if in.Status != nil && !in.Status.Valid() {
		return invalidStatus(*in.Status)
	}
	return nil
}

// ValidateTaskPatch checks an update payload. Present text fields must stay non-empty.
func ValidateTaskPatch(p TaskPatch) error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
	}
	if p.Description != nil && strings.TrimSpace(*p.Description) == "" {
		return fmt.Errorf("%w: description must not be empty", ErrInvalidInput)
	}
	if p.Status != nil && !p.Status.Valid() {
		return invalidStatus(*p.Status)
	}
	return nil
}

// ParseStatus turns a status query value into an exact-match filter. An empty value means
// no filter; a value that names no status simply matches nothing.
func ParseStatus(raw string) *Status {
	if raw == "" {
		return nil
	}
	s := Status(raw)
	return &s
}

// ParseSortOrder reads a sort query value. Anything other than asc or desc keeps insertion
// order.
func ParseSortOrder(raw string) SortOrder {
	switch o := SortOrder(raw); o {
	case SortAsc, SortDesc:
		return o
	}
	return SortNone
}

func invalidStatus(s Status) error {
	return fmt.Errorf("%w: status %q must be one of %s, %s, %s",
		ErrInvalidInput, string(s), StatusPending, StatusInProgress, StatusCompleted)
}
