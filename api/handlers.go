package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"tasks-api/domain"
)

// Deps groups the collaborators the HTTP layer is built from. Deduper, Events and Tracing
// are optional.
type Deps struct {
	Tasks   TaskStore
	Users   CredentialStore
	Issuer  TokenIssuer
	Auth    Authenticator
	Deduper Deduper
	Events  EventSink
	Tracing trace.TracerProvider
	Logger  *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	logger := d.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	e.JSONSerializer = SonicSerializer{}
	e.HTTPErrorHandler = ErrorHandler(logger)
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(RequestMetrics(logger, d.Tracing))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))
	e.Use(GzipRequestMiddleware())

	e.POST("/auth/register", postRegister(d.Users))
	e.POST("/auth/login", postLogin(d.Users, d.Issuer, logger))

	guard := RequireAuth(d.Auth, logger)
	e.GET("/tasks", getTasks(d.Tasks))
	e.GET("/tasks/:id", getTask(d.Tasks))
	e.POST("/tasks", postTask(d.Tasks, d.Deduper, d.Events, logger), guard)
	e.PUT("/tasks/:id", putTask(d.Tasks, d.Events), guard)
	e.DELETE("/tasks/:id", deleteTask(d.Tasks, d.Events), guard)

	e.GET("/healthz", healthz(d.Tasks, d.Users))
}

func healthz(tasks TaskStore, users CredentialStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		return respond(c, http.StatusOK, "ok", healthResponse{Tasks: tasks.Len(), Users: users.Count()})
	}
}

func postRegister(users CredentialStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req credentialsRequest
		if err := decodeBody(c, &req); err != nil {
			return err
		}
		u, err := users.Register(req.Username, req.Password)
		if err != nil {
			return err
		}
		return respond(c, http.StatusCreated, "user registered", registerResponse{ID: u.ID, Username: u.Username})
	}
}

func postLogin(users CredentialStore, issuer TokenIssuer, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req credentialsRequest
		if err := decodeBody(c, &req); err != nil {
			return err
		}
		u, err := users.VerifyCredentials(req.Username, req.Password)
		if err != nil {
			return err
		}
		token, expiresAt, err := issuer.Issue(u.Identity())
		if err != nil {
			return err
		}
		logger.WithField("user", u.ID).Debug("token issued")
		return respond(c, http.StatusOK, "login successful", loginResponse{Token: token, ExpiresAt: expiresAt})
	}
}

func getTasks(tasks TaskStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		f := domain.TaskFilter{
			Status: domain.ParseStatus(c.QueryParam("status")),
			Sort:   domain.ParseSortOrder(c.QueryParam("sort")),
		}
		return respond(c, http.StatusOK, "tasks retrieved", tasks.List(f))
	}
}

func getTask(tasks TaskStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := taskID(c)
		if err != nil {
			return err
		}
		t, err := tasks.Get(id)
		if err != nil {
			return err
		}
		return respond(c, http.StatusOK, "task retrieved", t)
	}
}

func postTask(tasks TaskStore, deduper Deduper, events EventSink, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, _ := IdentityFrom(c)
		var in domain.NewTask
		if err := decodeBody(c, &in); err != nil {
			return err
		}
		if err := domain.ValidateNewTask(in); err != nil {
			return err
		}

		ctx := c.Request().Context()
		key := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
		if len(key) > maxIdempotencyKeyLen {
			return echo.NewHTTPError(http.StatusBadRequest, "idempotency key is too long")
		}
		claimed := false
		if key != "" && deduper != nil {
			ok, err := deduper.Claim(ctx, actor.UserID, key)
			switch {
			case err != nil:
				logger.WithError(err).WithField("user", actor.UserID).Warn("idempotency check failed; creating without deduplication")
			case !ok:
				return replayCreate(c, tasks, deduper, actor, key, logger)
			default:
				claimed = true
			}
		}

		t := tasks.Create(in)
		if claimed {
			if err := deduper.Complete(ctx, actor.UserID, key, t.ID); err != nil {
				logger.WithError(err).WithFields(log.Fields{"user": actor.UserID, "task": t.ID}).Warn("failed to record idempotency key")
				if rerr := deduper.Release(context.Background(), actor.UserID, key); rerr != nil {
					logger.WithError(rerr).WithField("user", actor.UserID).Error("failed to release idempotency key")
				}
			}
		}
		publish(events, domain.TaskCreated, t, actor)
		return respond(c, http.StatusCreated, "task created", t)
	}
}

func replayCreate(c echo.Context, tasks TaskStore, deduper Deduper, actor domain.Identity, key string, logger *log.Logger) error {
	id, found, err := deduper.Lookup(c.Request().Context(), actor.UserID, key)
	if err != nil {
		logger.WithError(err).WithField("user", actor.UserID).Warn("idempotency lookup failed; treating key as in progress")
	}
	if err != nil || !found {
		return echo.NewHTTPError(http.StatusConflict, "a request with this idempotency key is in progress")
	}
	t, err := tasks.Get(id)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "task already created", t)
}

func putTask(tasks TaskStore, events EventSink) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, _ := IdentityFrom(c)
		id, err := taskID(c)
		if err != nil {
			return err
		}
		var patch domain.TaskPatch
		if err := decodeBody(c, &patch); err != nil {
			return err
		}
		if err := domain.ValidateTaskPatch(patch); err != nil {
			return err
		}
		t, err := tasks.Update(id, patch)
		if err != nil {
			return err
		}
		publish(events, domain.TaskUpdated, t, actor)
		return respond(c, http.StatusOK, "task updated", t)
	}
}

func deleteTask(tasks TaskStore, events EventSink) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, _ := IdentityFrom(c)
		id, err := taskID(c)
		if err != nil {
			return err
		}
		t, err := tasks.Delete(id)
		if err != nil {
			return err
		}
		publish(events, domain.TaskDeleted, t, actor)
		return respond(c, http.StatusOK, "task deleted", t)
	}
}

// taskID parses the :id path parameter. A value that is not a positive integer can never
// name a task, so it is reported as not found.
func taskID(c echo.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, domain.ErrNotFound
	}
	return id, nil
}

func publish(events EventSink, typ string, t domain.Task, actor domain.Identity) {
	if events == nil {
		return
	}
	events.Dispatch(domain.TaskEvent{Type: typ, Task: t, Actor: actor, Time: time.Now().UTC()})
}
