package httpx

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ticklist/api/internal/repository"
	"github.com/ticklist/api/internal/service/auth"
	"github.com/ticklist/api/internal/service/todo"
	"github.com/ticklist/api/internal/service/user"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      chi.Router
	logger   *slog.Logger
	auth     auth.Service
	users    user.Service
	todos    todo.Service
	dbHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
}

const (
	healthCheckTimeout = 2 * time.Second
	maxTodoTextLen     = 500
	maxBulkItems       = 100
	maxSyncEntries     = 500
	defaultPerPage     = 50
	maxPerPage         = 200
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, userSvc user.Service, todoSvc todo.Service, allowedOrigins []string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		logger:   logger,
		auth:     authSvc,
		users:    userSvc,
		todos:    todoSvc,
		dbHealth: dbHealth,
	}
	r.initMetrics()
	r.register(allowedOrigins)
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) register(allowedOrigins []string) {
	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.RealIP)
	mux.Use(r.audit)
	mux.Use(chimw.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{headerConflict},
		MaxAge:         300,
	}))
	mux.Use(chimw.Compress(5))

	mux.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	mux.Get("/healthz", r.handleHealthz)
	mux.Method(http.MethodGet, "/metrics", promhttp.Handler())

	mux.Route("/api/v1", func(api chi.Router) {
		api.Route("/auth", func(ar chi.Router) {
			ar.Post("/register", r.handleRegister)
			ar.Post("/login", r.handleLogin)
			ar.Post("/refresh", r.handleRefresh)
			ar.Post("/logout", r.handleLogout)
		})
		api.Group(func(protected chi.Router) {
			protected.Use(r.requireAuth)
			protected.Route("/users/me", func(ur chi.Router) {
				ur.Get("/", r.handleGetMe)
				ur.Patch("/", r.handleUpdateMe)
				ur.Delete("/", r.handleDeleteMe)
			})
			protected.Route("/todos", func(tr chi.Router) {
				tr.Get("/", r.handleListTodos)
				tr.Post("/", r.handleCreateTodo)
				tr.Post("/bulk", r.handleBulkCreateTodos)
				tr.Post("/sync", r.handleSyncTodos)
				tr.Route("/{todoID}", func(item chi.Router) {
					item.Get("/", r.handleGetTodo)
					item.Patch("/", r.handleUpdateTodo)
					item.Delete("/", r.handleDeleteTodo)
					item.Post("/restore", r.handleRestoreTodo)
				})
			})
		})
	})

	r.mux = mux
}

func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := validateEmail(payload.Email); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if len(payload.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	user, pair, err := r.auth.Register(req.Context(), payload.Email, payload.Password, strings.TrimSpace(payload.DisplayName))
	if err != nil {
		r.respondServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTokenResponse(user, pair))
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.Email == "" || payload.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	user, pair, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		r.respondServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(user, pair))
}

func (r *Router) handleRefresh(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}
	user, pair, err := r.auth.Refresh(req.Context(), payload.RefreshToken)
	if err != nil {
		r.respondServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(user, pair))
}

func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}
	if err := r.auth.Logout(req.Context(), payload.RefreshToken); err != nil {
		r.respondServiceError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleGetMe(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	user, err := r.users.Get(req.Context(), info.UserID)
	if err != nil {
		r.respondServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (r *Router) handleUpdateMe(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	var payload struct {
		DisplayName *string `json:"display_name"`
		Email       *string `json:"email"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.Email != nil {
		if msg := validateEmail(*payload.Email); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
	}
	updated, err := r.users.Update(req.Context(), info.UserID, user.UpdateInput{
		DisplayName: payload.DisplayName,
		Email:       payload.Email,
	})
	if err != nil {
		r.respondServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(updated))
}

func (r *Router) handleDeleteMe(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if err := r.users.Delete(req.Context(), info.UserID); err != nil {
		r.respondServiceError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleListTodos(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	filter, errMsg := parseListFilter(req)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	items, total, err := r.todos.List(req.Context(), info.UserID, filter)
	if err != nil {
		r.respondServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, todoListResponse{
		Items:   toTodoResponses(items),
		Page:    filter.Page,
		PerPage: filter.PerPage,
		Total:   total,
	})
}

func parseListFilter(req *http.Request) (repository.TodoFilter, string) {
	filter := repository.TodoFilter{
		Status:  repository.StatusAll,
		Sort:    repository.SortNewest,
		Page:    1,
		PerPage: defaultPerPage,
	}
	q := req.URL.Query()
	if v := q.Get("status"); v != "" {
		switch v {
		case repository.StatusAll, repository.StatusActive, repository.StatusCompleted:
			filter.Status = v
		default:
			return filter, "status must be one of: all, active, completed"
		}
	}
	if v := q.Get("sort"); v != "" {
		switch v {
		case repository.SortNewest, repository.SortOldest, repository.SortAlpha:
			filter.Sort = v
		default:
			return filter, "sort must be one of: newest, oldest, alpha"
		}
	}
	if v := q.Get("q"); v != "" {
		filter.Search = v
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, "since must be an RFC3339 timestamp"
		}
		filter.Since = &since
	}
	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return filter, "page must be a positive integer"
		}
		filter.Page = page
	}
	if v := q.Get("per_page"); v != "" {
		perPage, err := strconv.Atoi(v)
		if err != nil || perPage < 1 || perPage > maxPerPage {
			return filter, "per_page must be between 1 and 200"
		}
		filter.PerPage = perPage
	}
	return filter, ""
}

type createTodoRequest struct {
	Text      string  `json:"text"`
	Completed bool    `json:"completed"`
	ClientID  *string `json:"client_id"`
}

func validateTodoText(text string) string {
	if text == "" {
		return "text is required"
	}
	if utf8.RuneCountInString(text) > maxTodoTextLen {
		return "text must be at most 500 characters"
	}
	return ""
}

func (r *Router) handleCreateTodo(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	var payload createTodoRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := validateTodoText(payload.Text); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	created, err := r.todos.Create(req.Context(), info.UserID, todo.CreateInput{
		Text:      payload.Text,
		Completed: payload.Completed,
		ClientID:  payload.ClientID,
	})
	if err != nil {
		r.respondServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTodoResponse(*created))
}

func (r *Router) handleBulkCreateTodos(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	var payload struct {
		Items []createTodoRequest `json:"items"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(payload.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items must not be empty")
		return
	}
	if len(payload.Items) > maxBulkItems {
		writeError(w, http.StatusBadRequest, "items must contain at most 100 entries")
		return
	}
	inputs := make([]todo.CreateInput, 0, len(payload.Items))
	for _, item := range payload.Items {
		if msg := validateTodoText(item.Text); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		inputs = append(inputs, todo.CreateInput{
			Text:      item.Text,
			Completed: item.Completed,
			ClientID:  item.ClientID,
		})
	}
	created, err := r.todos.BulkCreate(req.Context(), info.UserID, inputs)
	if err != nil {
		r.respondServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"items": toTodoResponses(created)})
}

func (r *Router) handleGetTodo(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	found, err := r.todos.Get(req.Context(), info.UserID, chi.URLParam(req, "todoID"))
	if err != nil {
		r.respondServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, toTodoResponse(*found))
}

func (r *Router) handleUpdateTodo(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	var payload struct {
		Version   int64   `json:"version"`
		Text      *string `json:"text"`
		Completed *bool   `json:"completed"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.Version < 1 {
		writeError(w, http.StatusBadRequest, "version is required and must be at least 1")
		return
	}
	if payload.Text != nil {
		if msg := validateTodoText(*payload.Text); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
	}
	updated, err := r.todos.Update(req.Context(), info.UserID, chi.URLParam(req, "todoID"), todo.UpdateInput{
		Version:   payload.Version,
		Text:      payload.Text,
		Completed: payload.Completed,
	})
	if err != nil {
		r.respondServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, toTodoResponse(*updated))
}

func (r *Router) handleDeleteTodo(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if err := r.todos.Delete(req.Context(), info.UserID, chi.URLParam(req, "todoID")); err != nil {
		r.respondServiceError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleRestoreTodo(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	restored, err := r.todos.Restore(req.Context(), info.UserID, chi.URLParam(req, "todoID"))
	if err != nil {
		r.respondServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, toTodoResponse(*restored))
}

func (r *Router) handleSyncTodos(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	var payload struct {
		LastSync *time.Time `json:"last_sync"`
		Todos    []struct {
			ID        string  `json:"id"`
			Version   int64   `json:"version"`
			Text      *string `json:"text"`
			Completed *bool   `json:"completed"`
			ClientID  *string `json:"client_id"`
		} `json:"todos"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(payload.Todos) > maxSyncEntries {
		writeError(w, http.StatusBadRequest, "todos must contain at most 500 entries")
		return
	}
	entries := make([]todo.SyncEntry, 0, len(payload.Todos))
	for _, e := range payload.Todos {
		if e.ID == "" {
			writeError(w, http.StatusBadRequest, "every sync entry requires an id")
			return
		}
		if e.Version < 1 {
			writeError(w, http.StatusBadRequest, "every sync entry requires a version of at least 1")
			return
		}
		if e.Text != nil {
			if msg := validateTodoText(*e.Text); msg != "" {
				writeError(w, http.StatusBadRequest, msg)
				return
			}
		}
		entries = append(entries, todo.SyncEntry{
			ID:        e.ID,
			Version:   e.Version,
			Text:      e.Text,
			Completed: e.Completed,
			ClientID:  e.ClientID,
		})
	}
	lastSync := time.Unix(0, 0).UTC()
	if payload.LastSync != nil {
		lastSync = payload.LastSync.UTC()
	}
	result, err := r.todos.Sync(req.Context(), info.UserID, lastSync, entries)
	if err != nil {
		r.respondServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncResponse(result))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{"status": "down"}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func validateEmail(email string) string {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return "email is required"
	}
	at := strings.Index(trimmed, "@")
	if at <= 0 || at == len(trimmed)-1 {
		return "email is invalid"
	}
	return ""
}

func (r *Router) audit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		actor := &auditActor{}
		req = req.WithContext(context.WithValue(req.Context(), contextKeyActor, actor))
		start := time.Now()
		next.ServeHTTP(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		route := routePattern(req)
		r.recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := chimw.GetReqID(req.Context()); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if actor.userID != "" {
			fields = append(fields, "actor", "user", "user_id", actor.userID)
		} else {
			fields = append(fields, "actor", "anonymous")
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	})
}

func routePattern(req *http.Request) string {
	if rctx := chi.RouteContext(req.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
