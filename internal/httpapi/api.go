package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"lmsportal.org/internal/audit"
	"lmsportal.org/internal/auth"
	"lmsportal.org/internal/obs"
	"lmsportal.org/internal/ratelimit"
)

// ReadyProbe checks readiness, typically a database ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config holds environment-dependent switches for the HTTP layer.
type Config struct {
	SecureCookies bool
	// SkipCSRF and SkipRateLimit exist for local development and tests.
	// Production startup refuses them.
	SkipCSRF      bool
	SkipRateLimit bool
	AllowedOrigin string
	Version       string
}

// API is the HTTP layer over the auth core.
type API struct {
	mux           *http.ServeMux
	svc           *auth.Service
	impersonation *auth.ImpersonationManager
	recorder      *audit.Recorder
	readyProbe    ReadyProbe
	cfg           Config

	loginLimiter   *ratelimit.Limiter
	refreshLimiter *ratelimit.Limiter
	generalLimiter *ratelimit.Limiter
}

func New(svc *auth.Service, imp *auth.ImpersonationManager, recorder *audit.Recorder, rp ReadyProbe, cfg Config) *API {
	windows := ratelimit.NewMemoryStore()
	windows.StartSweeper(time.Minute, 5*time.Minute)

	a := &API{
		mux:            http.NewServeMux(),
		svc:            svc,
		impersonation:  imp,
		recorder:       recorder,
		readyProbe:     rp,
		cfg:            cfg,
		loginLimiter:   ratelimit.New(windows, ratelimit.LoginRule),
		refreshLimiter: ratelimit.New(windows, ratelimit.RefreshRule),
		generalLimiter: ratelimit.New(windows, ratelimit.GeneralRule),
	}

	a.mux.HandleFunc("/auth/login", a.handleLogin)
	a.mux.HandleFunc("/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/auth/refresh-and-redirect", a.handleRefreshAndRedirect)
	// Logout is deliberately unguarded: it must succeed even when the
	// session is expired or gone, since it only ever clears state.
	a.mux.HandleFunc("/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/auth/logout-all", a.guard(guardConfig{}, a.handleLogoutAll))
	a.mux.HandleFunc("/auth/me", a.guard(guardConfig{csrfExempt: true}, a.handleMe))
	a.mux.HandleFunc("/auth/permissions", a.guard(guardConfig{csrfExempt: true}, a.handlePermissions))
	a.mux.HandleFunc("/auth/switch-node", a.guard(guardConfig{}, a.handleSwitchNode))
	a.mux.HandleFunc("/auth/change-password", a.guard(guardConfig{}, a.handleChangePassword))
	a.mux.HandleFunc("/csrf-token", a.handleCSRFToken)

	a.mux.HandleFunc("/admin/users/", a.handleAdminUsers)
	// No role requirement here: the ending call usually arrives from the
	// impersonated session itself, which carries the target's roles.
	a.mux.HandleFunc("/admin/impersonation/", a.guard(guardConfig{}, a.handleImpersonationEnd))
	a.mux.HandleFunc("/admin/users/preview-permissions", a.guard(guardConfig{
		roles:      []auth.RoleKey{auth.RoleAdmin},
		auditEvent: audit.PermissionPreview,
	}, a.handlePreviewPermissions))

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReadyz)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.generalLimit(a.mux)
	h = SecurityHeaders(h)
	if a.cfg.AllowedOrigin != "" {
		h = CORS(h, []string{a.cfg.AllowedOrigin})
	}
	h = MaxBodyBytes(h, 1<<20)
	if !a.cfg.SkipRateLimit {
		h = RateLimit(h, 20, 100)
	}
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// generalLimit applies the broad per-IP request window in front of every
// route. The token bucket in RateLimit smooths short bursts on top of it;
// this window does the same accounting as the login and refresh limiters.
func (a *API) generalLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.SkipRateLimit {
			if d := a.generalLimiter.Allow("general:" + clientIP(r)); !d.Allowed {
				a.rejectRateLimited(w, r, "general", d)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "lms-auth",
		"version": a.cfg.Version,
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
