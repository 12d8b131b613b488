package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"tasks-api/domain"
)

// TaskRepository owns the task list. Memory is authoritative while the process runs; the
// backing file is rewritten after every mutation and read back on startup.
type TaskRepository struct {
	path   string
	logger *log.Logger
	now    func() time.Time

	mu     sync.RWMutex
	tasks  []domain.Task
	nextID int
}

// OpenTaskRepository loads tasks from path. A missing file starts an empty list; an
// unreadable or corrupt file is logged and also starts empty.
func OpenTaskRepository(path string, logger *log.Logger) *TaskRepository {
	if logger == nil {
		logger = log.StandardLogger()
	}
	r := &TaskRepository{
		path:   path,
		logger: logger,
		now:    time.Now,
	}
	r.tasks = r.load()
	r.nextID = 1
	for _, t := range r.tasks {
		if t.ID >= r.nextID {
			r.nextID = t.ID + 1
		}
	}
	r.logger.WithFields(log.Fields{"path": path, "tasks": len(r.tasks), "next_id": r.nextID}).Info("task repository loaded")
	return r
}

func (r *TaskRepository) load() []domain.Task {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.WithError(err).WithField("path", r.path).Warn("could not read tasks file, starting empty")
		}
		return []domain.Task{}
	}
	var tasks []domain.Task
	if err := sonic.ConfigStd.Unmarshal(data, &tasks); err != nil {
		r.logger.WithError(err).WithField("path", r.path).Warn("tasks file is corrupt, starting empty")
		return []domain.Task{}
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks
}

// List returns a copy of the tasks matching f, in insertion order unless f.Sort is set.
func (r *TaskRepository) List(f domain.TaskFilter) []domain.Task {
	r.mu.RLock()
	out := make([]domain.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		out = append(out, t)
	}
	r.mu.RUnlock()

	switch f.Sort {
	case domain.SortAsc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	case domain.SortDesc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}
	return out
}

// Get returns the task with the given id.
func (r *TaskRepository) Get(id int) (domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexLocked(id)
	if i < 0 {
		return domain.Task{}, notFound(id)
	}
	return r.tasks[i], nil
}

// Create assigns the next id, stamps the creation time and persists the list.
func (r *TaskRepository) Create(in domain.NewTask) domain.Task {
	status := domain.StatusPending
	if in.Status != nil {
		status = *in.Status
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	t := domain.Task{
		ID:          r.nextID,
		Title:       in.Title,
		Description: in.Description,
		Status:      status,
		CreatedAt:   r.now().UTC().Truncate(time.Millisecond),
	}
	r.nextID++
	r.tasks = append(r.tasks, t)
	r.persistLocked("create", t.ID)
	return t
}

// Update applies p to the task with the given id and persists the list.
func (r *TaskRepository) Update(id int, p domain.TaskPatch) (domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return domain.Task{}, notFound(id)
	}
	r.tasks[i] = p.Apply(r.tasks[i])
	r.persistLocked("update", id)
	return r.tasks[i], nil
}

// Delete removes the task with the given id, persists the list and returns the removed task.
func (r *TaskRepository) Delete(id int) (domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return domain.Task{}, notFound(id)
	}
	removed := r.tasks[i]
	r.tasks = append(r.tasks[:i], r.tasks[i+1:]...)
	r.persistLocked("delete", id)
	return removed, nil
}

// Len reports how many tasks are stored.
func (r *TaskRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

func (r *TaskRepository) indexLocked(id int) int {
	for i := range r.tasks {
		if r.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// persistLocked writes the whole list. Failures are logged and otherwise ignored: the
// in-memory list stays authoritative for the running process.
func (r *TaskRepository) persistLocked(op string, id int) {
	data, err := sonic.ConfigStd.MarshalIndent(r.tasks, "", "  ")
	if err == nil {
		err = writeFileAtomic(r.path, data, 0o644)
	}
	if err != nil {
		r.logger.WithError(err).WithFields(log.Fields{
			"path": r.path,
			"op":   op,
			"task": id,
		}).Error("failed to persist tasks")
	}
}

func notFound(id int) error {
	return fmt.Errorf("%w: id %d", domain.ErrNotFound, id)
}
