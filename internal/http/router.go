package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mauroas7/Tardia-Plataforma/internal/domain"
	"github.com/mauroas7/Tardia-Plataforma/internal/feature"
	"github.com/mauroas7/Tardia-Plataforma/internal/repository"
	"github.com/mauroas7/Tardia-Plataforma/internal/service/auth"
	"github.com/mauroas7/Tardia-Plataforma/internal/service/bot"
	"github.com/mauroas7/Tardia-Plataforma/internal/service/provision"
	"github.com/mauroas7/Tardia-Plataforma/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	auth         auth.Service
	bots         bot.Service
	hub          *ws.Hub
	upgrader     websocket.Upgrader
	limiter      RateLimiter
	dbHealth     func(context.Context) error
	dockerHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitPublic    = 60
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, botSvc bot.Service, hub *ws.Hub, limiter RateLimiter, dbHealth, dockerHealth func(context.Context) error) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		auth:   authSvc,
		bots:   botSvc,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:      limiter,
		dbHealth:     dbHealth,
		dockerHealth: dockerHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/signup", r.audit("/auth/signup", r.withRateLimit("/auth/signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.audit("/auth/login", r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/features", r.audit("/features", r.withRateLimit("/features", rateLimitPublic, rateWindowDefault, rateLimitKeyIP, r.handleFeatures)))
	r.mux.HandleFunc("/bots", r.audit("/bots", r.handlerAuthRate("/bots", rateLimitUserWrite, rateWindowDefault, r.handleBots)))
	r.mux.HandleFunc("/bots/", r.audit("/bots/{id}", r.handlerAuthRate("/bots/{id}", rateLimitUserWrite, rateWindowDefault, r.handleBotSubroutes)))
	r.mux.HandleFunc("/ws/bots", r.audit("/ws/bots", r.handlerAuthRate("/ws/bots", rateLimitWebsocket, rateWindowRealtime, r.handleBotsWS)))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tokens, err := r.auth.Signup(req.Context(), payload.Email, payload.Password)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, auth.ErrEmailTaken) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":   userView(user),
		"tokens": tokens,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tokens, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":   userView(user),
		"tokens": tokens,
	})
}

func (r *Router) handleFeatures(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"features": feature.All()})
}

func (r *Router) handleBots(w http.ResponseWriter, req *http.Request) {
	userID, ok := userIDFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodGet:
		bots, err := r.bots.List(req.Context(), userID)
		if err != nil {
			r.respondBotError(w, err)
			return
		}
		views := make([]map[string]any, 0, len(bots))
		for i := range bots {
			views = append(views, botView(&bots[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"bots": views})
	case http.MethodPost:
		var payload struct {
			Name     string   `json:"name"`
			Token    string   `json:"token"`
			Features []string `json:"features"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.bots.Create(req.Context(), userID, payload.Name, payload.Token, payload.Features)
		if err != nil {
			r.respondBotError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"bot": botView(created)})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleBotSubroutes(w http.ResponseWriter, req *http.Request) {
	userID, ok := userIDFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	rest := strings.Trim(strings.TrimPrefix(req.URL.Path, "/bots/"), "/")
	parts := strings.Split(rest, "/")
	if rest == "" || len(parts) > 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	botID := parts[0]

	if len(parts) == 2 {
		if parts[1] != "retry" || req.Method != http.MethodPost {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		retried, err := r.bots.Retry(req.Context(), userID, botID)
		if err != nil {
			r.respondBotError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"bot": botView(retried)})
		return
	}

	switch req.Method {
	case http.MethodGet:
		found, err := r.bots.Get(req.Context(), userID, botID)
		if err != nil {
			r.respondBotError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"bot": botView(found)})
	case http.MethodDelete:
		removals, err := r.bots.Delete(req.Context(), userID, botID)
		if err != nil {
			r.respondBotError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removals": removalViews(removals)})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleBotsWS(w http.ResponseWriter, req *http.Request) {
	userID, ok := userIDFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for status websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(userID, client)
	go func() {
		defer func() {
			r.hub.Unregister(userID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()

	components := make(map[string]any)
	status := "ok"
	for name, check := range map[string]func(context.Context) error{
		"database": r.dbHealth,
		"docker":   r.dockerHealth,
	} {
		if check == nil {
			continue
		}
		if err := check(ctx); err != nil {
			status = "degraded"
			components[name] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components[name] = map[string]any{"status": "up"}
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

func (r *Router) respondBotError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bot.ErrInvalidName),
		errors.Is(err, bot.ErrMissingToken),
		errors.Is(err, feature.ErrInvalidSelection):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, bot.ErrNameTaken),
		errors.Is(err, bot.ErrNotFailed),
		errors.Is(err, provision.ErrRunInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, bot.ErrQuotaExceeded):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "bot not found")
	default:
		r.logger.Error("bot request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func userView(user *domain.User) map[string]any {
	return map[string]any{
		"id":    user.ID,
		"email": user.Email,
	}
}

func botView(b *domain.Bot) map[string]any {
	view := map[string]any{
		"id":         b.ID,
		"name":       b.Name,
		"features":   b.Features,
		"status":     b.Status,
		"created_at": b.CreatedAt.UTC().Format(time.RFC3339),
	}
	if b.Endpoint != "" {
		view["endpoint"] = b.Endpoint
	}
	if b.DeploymentRef != "" {
		view["deployment_ref"] = b.DeploymentRef
	}
	if b.Diagnostic != "" {
		view["diagnostic"] = b.Diagnostic
	}
	return view
}

func removalViews(removals []domain.Removal) []map[string]any {
	views := make([]map[string]any, 0, len(removals))
	for _, removal := range removals {
		view := map[string]any{
			"resource": removal.Resource,
			"outcome":  string(removal.Outcome),
		}
		if removal.Err != nil {
			view["error"] = removal.Err.Error()
		}
		views = append(views, view)
	}
	return views
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
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
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if userID, ok := userIDFromContext(ctx); ok {
			fields = append(fields, "user_id", userID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
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

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}
