package api

import (
	"context"
	"time"

	"tasks-api/domain"
)

// TaskStore is the task repository as seen by handlers.
type TaskStore interface {
	List(f domain.TaskFilter) []domain.Task
	Get(id int) (domain.Task, error)
	Create(in domain.NewTask) domain.Task
	Update(id int, p domain.TaskPatch) (domain.Task, error)
	Delete(id int) (domain.Task, error)
	Len() int
}

// CredentialStore registers users and checks their passwords.
type CredentialStore interface {
	Register(username, password string) (domain.User, error)
	VerifyCredentials(username, password string) (domain.User, error)
	Count() int
}

// TokenIssuer signs bearer tokens for authenticated users.
type TokenIssuer interface {
	Issue(id domain.Identity) (string, time.Time, error)
}

// Authenticator verifies bearer tokens.
type Authenticator interface {
	Verify(token string) (domain.Identity, error)
}

// Deduper makes task creation idempotent per user and Idempotency-Key.
type Deduper interface {
	// Claim marks key as in flight and returns true if it was not seen before.
	Claim(ctx context.Context, userID int, key string) (bool, error)
	// Complete binds a claimed key to the task it created.
	Complete(ctx context.Context, userID int, key string, taskID int) error
	// Lookup returns the task bound to key. found is false when the key is unknown or
	// its first request has not finished yet.
	Lookup(ctx context.Context, userID int, key string) (taskID int, found bool, err error)
	// Release forgets key so the request can be retried.
	Release(ctx context.Context, userID int, key string) error
}

// EventSink accepts task events for asynchronous delivery.
type EventSink interface {
	Dispatch(ev domain.TaskEvent) bool
}

// EventPublisher delivers one task event to the outside world.
type EventPublisher interface {
	PublishTaskEvent(ctx context.Context, ev domain.TaskEvent) error
}
