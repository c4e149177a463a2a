package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskmate/domain"
)

const (
	maxBodySize          = 64 << 10
	headerIdempotencyKey = "Idempotency-Key"
)

var (
	errDuplicateRequest = errors.New("duplicate request")
	errSessionMismatch  = fmt.Errorf("token does not belong to the signed-in user: %w", domain.ErrUnauthenticated)
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, deps Deps, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	h := &handlers{Deps: deps, log: logger}

	g := e.Group("/api", Observe(logger))
	g.POST("/session", h.signIn)
	g.DELETE("/session", h.signOut, h.authorize)
	g.GET("/tasks", h.listTasks, h.authorize)
	g.POST("/tasks", h.createTask, h.authorize)
	g.POST("/tasks/refresh", h.refresh, h.authorize)
	g.GET("/tasks/:id", h.editTask, h.authorize)
	g.PUT("/tasks/:id", h.saveTask, h.authorize)
	g.DELETE("/tasks/:id", h.deleteTask, h.authorize)
	g.POST("/tasks/:id/toggle", h.toggleTask, h.authorize)
	g.GET("/stats", h.stats, h.authorize)
	g.GET("/profile", h.getProfile, h.authorize)
	g.PUT("/profile", h.putProfile, h.authorize)
	e.GET("/healthz", healthz)
}

type handlers struct {
	Deps
	log *log.Logger
}

type statsResponse struct {
	domain.Stats
	Summary string `json:"summary"`
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
	Stats statsResponse `json:"stats"`
}

type sessionResponse struct {
	UserID string        `json:"userId"`
	Tasks  []domain.Task `json:"tasks"`
	Stats  statsResponse `json:"stats"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func newStatsResponse(s domain.Stats) statsResponse {
	return statsResponse{Stats: s, Summary: s.Summary()}
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindRemote:
		if errors.Is(err, domain.ErrTaskNotFound) {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	}
	switch {
	case errors.Is(err, errDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (h *handlers) fail(c echo.Context, stage string, err error) error {
	m := metricsFrom(c)
	m.SetErrorStage(stage)
	m.SetError(err)

	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp.Error = verr.Message
		resp.Field = verr.Field
	}
	if status >= http.StatusInternalServerError {
		h.log.WithFields(log.Fields{"route": c.Path(), "stage": stage}).WithError(err).Error("request failed")
	}
	return c.JSON(status, resp)
}

// authorize requires a bearer token whose subject is the signed-in user.
func (h *handlers) authorize(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := h.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			metricsFrom(c).SetErrorStage("auth")
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		current, err := h.currentUser()
		if err != nil {
			return h.fail(c, "session", err)
		}
		if userID != current {
			return h.fail(c, "auth", errSessionMismatch)
		}
		return next(c)
	}
}

func (h *handlers) decode(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Message: "invalid body"}
	}
	return nil
}

func (h *handlers) currentUser() (string, error) {
	userID, ok := h.Session.CurrentUserID()
	if !ok {
		return "", domain.ErrUnauthenticated
	}
	return userID, nil
}

func (h *handlers) listResponse() tasksResponse {
	return tasksResponse{
		Tasks: h.Engine.View("", domain.FilterAll),
		Stats: newStatsResponse(h.Engine.Stats()),
	}
}

func (h *handlers) signIn(c echo.Context) error {
	userID, err := h.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		metricsFrom(c).SetErrorStage("auth")
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	h.Session.SignIn(userID)

	start := time.Now()
	tasks, err := h.Engine.Refresh(c.Request().Context())
	metricsFrom(c).ObserveEngine(time.Since(start))
	if err != nil {
		return h.fail(c, "refresh", err)
	}
	metricsFrom(c).SetTasksReturned(len(tasks))
	return c.JSON(http.StatusOK, sessionResponse{
		UserID: userID,
		Tasks:  tasks,
		Stats:  newStatsResponse(h.Engine.Stats()),
	})
}

func (h *handlers) signOut(c echo.Context) error {
	h.Session.SignOut()
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) listTasks(c echo.Context) error {
	if _, err := h.currentUser(); err != nil {
		return h.fail(c, "session", err)
	}
	status, err := domain.ParseStatusFilter(c.QueryParam("filter"))
	if err != nil {
		return h.fail(c, "invalid_filter", err)
	}
	tasks := h.Engine.View(c.QueryParam("q"), status)
	metricsFrom(c).SetTasksReturned(len(tasks))
	return c.JSON(http.StatusOK, tasksResponse{
		Tasks: tasks,
		Stats: newStatsResponse(h.Engine.Stats()),
	})
}

func (h *handlers) refresh(c echo.Context) error {
	start := time.Now()
	_, err := h.Engine.Refresh(c.Request().Context())
	metricsFrom(c).ObserveEngine(time.Since(start))
	if err != nil {
		return h.fail(c, "refresh", err)
	}
	resp := h.listResponse()
	metricsFrom(c).SetTasksReturned(len(resp.Tasks))
	return c.JSON(http.StatusOK, resp)
}

func (h *handlers) createTask(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := h.currentUser()
	if err != nil {
		return h.fail(c, "session", err)
	}
	var fields domain.TaskFields
	if err := h.decode(c, &fields); err != nil {
		return h.fail(c, "decode", err)
	}

	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
	if key != "" && h.Deduper != nil {
		added, err := h.Deduper.Add(ctx, userID, key)
		if err != nil {
			h.log.WithError(err).Warn("idempotency check unavailable")
			key = ""
		} else if !added {
			return h.fail(c, "duplicate", errDuplicateRequest)
		}
	}

	start := time.Now()
	task, err := h.Engine.Create(ctx, fields)
	metricsFrom(c).ObserveEngine(time.Since(start))
	if err != nil {
		if key != "" && h.Deduper != nil {
			if rerr := h.Deduper.Remove(ctx, userID, key); rerr != nil {
				h.log.WithError(rerr).Warn("release idempotency key")
			}
		}
		return h.fail(c, "create", err)
	}
	return c.JSON(http.StatusCreated, task)
}

func (h *handlers) editTask(c echo.Context) error {
	start := time.Now()
	draft, err := h.Engine.Edit(c.Request().Context(), c.Param("id"))
	metricsFrom(c).ObserveEngine(time.Since(start))
	if err != nil {
		return h.fail(c, "edit", err)
	}
	return c.JSON(http.StatusOK, draft)
}

func (h *handlers) saveTask(c echo.Context) error {
	var draft domain.Draft
	if err := h.decode(c, &draft); err != nil {
		return h.fail(c, "decode", err)
	}
	draft.ID = c.Param("id")

	start := time.Now()
	task, err := h.Engine.Save(c.Request().Context(), draft)
	metricsFrom(c).ObserveEngine(time.Since(start))
	if err != nil {
		return h.fail(c, "save", err)
	}
	return c.JSON(http.StatusOK, task)
}

func (h *handlers) deleteTask(c echo.Context) error {
	ctx := c.Request().Context()
	start := time.Now()
	err := h.Engine.Delete(ctx, c.Param("id"))
	if err != nil {
		metricsFrom(c).ObserveEngine(time.Since(start))
		return h.fail(c, "delete", err)
	}
	if _, err := h.Engine.Refresh(ctx); err != nil {
		h.log.WithError(err).Warn("refresh after delete")
	}
	metricsFrom(c).ObserveEngine(time.Since(start))

	resp := h.listResponse()
	metricsFrom(c).SetTasksReturned(len(resp.Tasks))
	return c.JSON(http.StatusOK, resp)
}

func (h *handlers) toggleTask(c echo.Context) error {
	start := time.Now()
	task, err := h.Engine.ToggleCompletion(c.Request().Context(), c.Param("id"))
	metricsFrom(c).ObserveEngine(time.Since(start))
	if err != nil {
		return h.fail(c, "toggle", err)
	}
	return c.JSON(http.StatusOK, task)
}

func (h *handlers) stats(c echo.Context) error {
	if _, err := h.currentUser(); err != nil {
		return h.fail(c, "session", err)
	}
	return c.JSON(http.StatusOK, newStatsResponse(h.Engine.Stats()))
}

func (h *handlers) getProfile(c echo.Context) error {
	userID, err := h.currentUser()
	if err != nil {
		return h.fail(c, "session", err)
	}
	if h.Profiles == nil {
		return c.NoContent(http.StatusNotFound)
	}
	p, found, err := h.Profiles.GetProfile(c.Request().Context(), userID)
	if err != nil {
		return h.fail(c, "profile", &domain.RemoteFailure{Op: "get profile", Err: err})
	}
	if !found {
		return c.NoContent(http.StatusNotFound)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *handlers) putProfile(c echo.Context) error {
	userID, err := h.currentUser()
	if err != nil {
		return h.fail(c, "session", err)
	}
	if h.Profiles == nil {
		return c.NoContent(http.StatusNotImplemented)
	}
	var p domain.Profile
	if err := h.decode(c, &p); err != nil {
		return h.fail(c, "decode", err)
	}
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.TrimSpace(p.Email)
	if p.Name == "" {
		return h.fail(c, "decode", &domain.ValidationError{Field: "name", Message: "please enter your name"})
	}
	saved, err := h.Profiles.UpsertProfile(c.Request().Context(), userID, p)
	if err != nil {
		return h.fail(c, "profile", &domain.RemoteFailure{Op: "save profile", Err: err})
	}
	return c.JSON(http.StatusOK, saved)
}
