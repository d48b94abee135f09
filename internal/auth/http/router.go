package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/flightdesk/flightdesk/internal/auth/metrics"
	"github.com/flightdesk/flightdesk/internal/auth/service"
	"github.com/flightdesk/flightdesk/internal/auth/store"
	"github.com/flightdesk/flightdesk/pkg/httpx"
	"github.com/flightdesk/flightdesk/pkg/rbac"
	"github.com/flightdesk/flightdesk/pkg/slogx"

	_ "github.com/flightdesk/flightdesk/api/auth" // Swagger docs
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer

	store      store.Store
	tokenStore Pinger

	TokenService     *service.TokenService
	UserService      *service.UserService
	RolesService     *service.RolesService
	BootstrapService *service.BootstrapService
	MFAService       *service.MFAService
}

// NewRouter builds a router. tokenStore is pinged by /readyz alongside st and
// may be st itself. gatherer backs /metrics; nil disables the endpoint.
func NewRouter(
	buildVersion string,
	st store.Store,
	tokenStore Pinger,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
) *Router {
	if tokenStore == nil {
		tokenStore = st
	}
	if m == nil {
		m = metrics.Noop()
	}

	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		metrics:      m,
		gatherer:     gatherer,
		store:        st,
		tokenStore:   tokenStore,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerMe()
	r.registerMFA()
	r.registerAdmin()
	r.registerRoles()
	r.registerBootstrap()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Flightdesk Authentication Service API
//	@version		0.1.0
//	@description	Session and token service for the flight school platform.
//	@description
//	@description				Access tokens are short-lived HS256 JWTs. Refresh tokens are opaque, single use and rotated on every refresh.
//
//	@contact.name				Flightdesk Team
//	@contact.url				https://github.com/flightdesk/flightdesk
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT access token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// handle registers h under pattern and records request metrics labelled
// with the pattern rather than the raw path.
func (r *Router) handle(pattern string, h http.Handler) {
	r.Mux.Handle(pattern, r.metrics.Instrument(pattern, h))
}

// secured prefixes mws with bearer authentication.
func (r *Router) secured(h http.Handler, mws ...httpx.Middleware) http.Handler {
	return httpx.Chain(h, append([]httpx.Middleware{httpx.AuthnMiddleware(r.TokenService)}, mws...)...)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{
		TokenService: r.TokenService,
		UserService:  r.UserService,
	}

	// POST /login - strict rate limit by IP + username to slow credential stuffing
	r.handle("POST /v1/auth/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByIPAndJSONField(httpx.StrictLimit, "username"),
		),
	)

	// POST /refresh - strict rate limit by IP
	r.handle("POST /v1/auth/refresh",
		httpx.Chain(http.HandlerFunc(h.HandleRefresh),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// POST /logout - moderate rate limit
	r.handle("POST /v1/auth/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerMe() {
	h := &MeHandler{UserService: r.UserService}

	r.handle("GET /v1/auth/me",
		r.secured(http.HandlerFunc(h.HandleMe),
			httpx.RateLimitByUser(httpx.LenientLimit),
		),
	)

	// Password changes re-verify the current password, so they share the strict bucket
	r.handle("POST /v1/auth/password",
		r.secured(http.HandlerFunc(h.HandleChangePassword),
			httpx.RateLimitByUser(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerMFA() {
	h := &MFAHandler{MFAService: r.MFAService}

	r.handle("POST /v1/auth/mfa/totp/enroll",
		r.secured(http.HandlerFunc(h.HandleEnroll),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	// Strict to prevent brute force of TOTP codes
	r.handle("POST /v1/auth/mfa/totp/confirm",
		r.secured(http.HandlerFunc(h.HandleConfirm),
			httpx.RateLimitByUser(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerAdmin() {
	h := &AdminHandler{
		UserService:  r.UserService,
		RolesService: r.RolesService,
		TokenService: r.TokenService,
	}

	r.handle("POST /v1/admin/users",
		r.secured(http.HandlerFunc(h.HandleCreateUser),
			httpx.RequireCapability(rbac.CapManageUsers),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)
	r.handle("PUT /v1/admin/users/{id}/roles",
		r.secured(http.HandlerFunc(h.HandleSetRoles),
			httpx.RequireCapability(rbac.CapManageUsers),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)
	r.handle("GET /v1/admin/users/{id}/sessions",
		r.secured(http.HandlerFunc(h.HandleListSessions),
			httpx.RequireCapability(rbac.CapManageSessions),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)
	r.handle("POST /v1/admin/users/{id}/sessions/revoke",
		r.secured(http.HandlerFunc(h.HandleRevokeSessions),
			httpx.RequireCapability(rbac.CapManageSessions),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerRoles() {
	h := &RolesHandler{RolesService: r.RolesService}

	r.handle("GET /v1/admin/roles",
		r.secured(h,
			httpx.RequireAnyRole(rbac.RoleBaseManager, rbac.RoleAdmin, rbac.RoleSuperAdmin),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerBootstrap() {
	// POST /bootstrap - very strict rate limit by IP (one-time setup endpoint)
	bootstrapHandler := &BootstrapHandler{BootstrapService: r.BootstrapService}
	r.handle("POST /v1/bootstrap",
		httpx.Chain(bootstrapHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.tokenStore),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)

	if r.gatherer != nil {
		r.Mux.Handle("GET /metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	}
}
