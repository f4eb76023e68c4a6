package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/cache"
	"github.com/postpilot/postpilot/internal/store"
	"github.com/postpilot/postpilot/pkg/logging"
)

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Router sets up API routes
type Router struct {
	handler *JSONRPCHandler
	store   store.Store
	db      HealthChecker
	cache   *cache.Cache
	logger  *zap.Logger
}

// NewRouter creates a new API router. database may be nil for the in-memory store.
func NewRouter(st store.Store, database HealthChecker, redisCache *cache.Cache) *Router {
	router := &Router{
		handler: NewJSONRPCHandler(),
		store:   st,
		db:      database,
		cache:   redisCache,
		logger:  logging.WithComponent("api-router"),
	}

	// Register all API methods
	router.registerMethods()

	return router
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	// Health check endpoints
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// JSON-RPC endpoint
	engine.POST("/", r.handler.Handle)
}

// registerMethods registers all API methods
func (r *Router) registerMethods() {
	accounts := NewAccountsAPI(r.store)
	posts := NewPostsAPI(r.store)
	rules := NewRulesAPI(r.store, r.store)

	r.handler.RegisterMethod("accounts.create", accounts.Create)

	r.handler.RegisterMethod("posts.create", posts.Create)
	r.handler.RegisterMethod("posts.schedule", posts.Schedule)
	r.handler.RegisterMethod("posts.get", posts.Get)

	r.handler.RegisterMethod("rules.create", rules.Create)
	r.handler.RegisterMethod("rules.list", rules.List)
	r.handler.RegisterMethod("replies.list", rules.ListReplies)
}

// healthHandler handles health check requests
func (r *Router) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	if r.db != nil {
		checks["database"] = "ok"
		if err := r.db.Health(ctx); err != nil {
			r.logger.Warn("Database health check failed", zap.Error(err))
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if r.cache != nil {
		checks["redis"] = "ok"
		if err := r.cache.Health(ctx); err != nil {
			checks["redis"] = err.Error()
		}
	}

	c.JSON(status, gin.H{
		"status":  http.StatusText(status),
		"service": "postpilot",
		"checks":  checks,
	})
}
