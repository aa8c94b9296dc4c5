package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tokend/internal/auth/service"
	"github.com/aussiebroadwan/tokend/internal/auth/store"
	"github.com/aussiebroadwan/tokend/pkg/httpx"
	"github.com/aussiebroadwan/tokend/pkg/jwtx"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	_ "github.com/aussiebroadwan/tokend/api/auth" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// AdminScope guards key management and metrics.
const AdminScope = "keys:admin"

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeyStore
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	backends     []store.Backend

	Sessions    *service.SessionManager
	KeyRotation *service.KeyRotationService
	// MetricsReader backs GET /v1/metrics; the route is absent when nil.
	MetricsReader sdkmetric.Reader
	// LoginToken authenticates trusted upstream callers of POST /v1/sessions.
	// Logins are disabled when empty.
	LoginToken string
	EnableDocs bool
}

// NewRouter builds a router. backends are pinged by /readyz.
func NewRouter(
	keys *jwtx.KeyStore,
	buildVersion string,
	logger *slog.Logger,
	backends ...store.Backend,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		backends:     backends,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerKeyPublication()
	r.registerSessions()
	r.registerKeys()
	r.registerMetrics()
	r.registerSystem()

	if r.EnableDocs {
		r.Mux.Handle("/swagger/", httpSwagger.Handler())
	}
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			tokend Token Service API
//	@version		0.1.0
//	@description	Issues and rotates asymmetrically signed JWT access and refresh tokens.
//	@description
//	@description				Tokens are signed with the deployment's algorithm (RS256 or ES256) and can be verified using the JWKS endpoint.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/tokend
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

func (r *Router) registerKeyPublication() {
	// GET /jwks.json - public endpoint with high limit
	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.keys),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}

func (r *Router) registerSessions() {
	h := &SessionHandler{Sessions: r.Sessions, LoginToken: r.LoginToken}

	// POST /sessions - trusted callers only; strict limit guards the login token
	if r.LoginToken != "" {
		r.Mux.Handle("POST /v1/sessions",
			httpx.Chain(http.HandlerFunc(h.HandleLogin),
				httpx.RateLimitByIP(httpx.TokenLimit),
			),
		)
	}

	// POST /token/refresh - strict rate limit by IP
	r.Mux.Handle("POST /v1/token/refresh",
		httpx.Chain(http.HandlerFunc(h.HandleRefresh),
			httpx.RateLimitByIP(httpx.TokenLimit),
		),
	)

	r.Mux.Handle("POST /v1/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout),
			httpx.RateLimitByIP(httpx.TokenLimit),
		),
	)

	// GET /userinfo - any valid access token, limited per subject
	r.Mux.Handle("GET /v1/userinfo",
		httpx.Chain(http.HandlerFunc(h.HandleUserInfo),
			httpx.AuthnMiddleware(r.Sessions),
			httpx.RateLimitBySubject(httpx.PublicLimit),
		),
	)
}

func (r *Router) registerKeys() {
	h := &KeysHandler{KeyRotation: r.KeyRotation}

	// POST /v1/keys/rotate - Rotate keys (requires keys:admin)
	securedRotate := httpx.Chain(http.HandlerFunc(h.HandleRotate),
		httpx.AuthnMiddleware(r.Sessions),
		httpx.RequireAnyScope(AdminScope),
		httpx.RateLimitBySubject(httpx.AdminLimit),
	)

	// GET /v1/keys - List keys (requires keys:admin)
	securedList := httpx.Chain(http.HandlerFunc(h.HandleListKeys),
		httpx.AuthnMiddleware(r.Sessions),
		httpx.RequireAnyScope(AdminScope),
		httpx.RateLimitBySubject(httpx.AdminLimit),
	)

	r.Mux.Handle("POST /v1/keys/rotate", securedRotate)
	r.Mux.Handle("GET /v1/keys", securedList)
}

func (r *Router) registerMetrics() {
	if r.MetricsReader == nil {
		return
	}
	r.Mux.Handle("GET /v1/metrics",
		httpx.Chain(MetricsHandler(r.MetricsReader),
			httpx.AuthnMiddleware(r.Sessions),
			httpx.RequireAnyScope(AdminScope),
			httpx.RateLimitBySubject(httpx.AdminLimit),
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - public limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.keys, r.backends...),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}
