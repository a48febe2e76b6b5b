// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, identity, logging/redaction, panic recovery,
// metrics, idempotency, CORS and security headers.
//
// Rate limiting applies only to routes that start a generation turn; reads,
// CRUD writes and observers are not counted.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-stream/internal/config"
	"github.com/tbourn/go-chat-stream/internal/conversation"
	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/http/docs"
	"github.com/tbourn/go-chat-stream/internal/http/handlers"
	"github.com/tbourn/go-chat-stream/internal/http/middleware"
	"github.com/tbourn/go-chat-stream/internal/llm"
	"github.com/tbourn/go-chat-stream/internal/ratelimit"
	"github.com/tbourn/go-chat-stream/internal/repo"
	"github.com/tbourn/go-chat-stream/internal/services"
)

// chatRepoShim adapts the repository free functions to the services.ChatRepo
// interface expected by the ChatService.
type chatRepoShim struct{}

// CreateChat proxies repo.CreateChat.
func (chatRepoShim) CreateChat(ctx context.Context, db *gorm.DB, userID, title string) (*domain.Chat, error) {
	return repo.CreateChat(ctx, db, userID, title)
}

// GetChat proxies repo.GetChat.
func (chatRepoShim) GetChat(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Chat, error) {
	return repo.GetChat(ctx, db, id, userID)
}

// UpdateChatTitle proxies repo.UpdateChatTitle.
func (chatRepoShim) UpdateChatTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	return repo.UpdateChatTitle(ctx, db, id, userID, title)
}

// CountChats proxies repo.CountChats (pagination support).
func (chatRepoShim) CountChats(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountChats(ctx, db, userID)
}

// ListChatsPage proxies repo.ListChatsPage (pagination support).
func (chatRepoShim) ListChatsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Chat, error) {
	return repo.ListChatsPage(ctx, db, userID, offset, limit)
}

// App holds the services behind the HTTP API.
type App struct {
	DB       *gorm.DB
	Chats    *services.ChatService
	Messages *services.MessageGateway
	Turns    *services.Orchestrator
	Hub      *conversation.Hub
	Limiter  *ratelimit.Limiter
}

// NewApp builds the service graph over db and the token source src.
func NewApp(db *gorm.DB, src llm.Source, cfg config.Config) *App {
	hub := conversation.NewHub()

	chats := services.NewChatService(db, chatRepoShim{})
	chats.TitleMaxLen = cfg.Turn.TitleMaxLen
	chats.TitleLocale = language.English

	gw := services.NewMessageGateway(db)

	orch := services.NewOrchestrator(gw, src, hub)
	orch.Titler = chats
	orch.DefaultModel = cfg.Provider.Model
	orch.IdleTimeout = cfg.Turn.StreamIdleTimeout
	orch.FinalizeTimeout = cfg.Turn.FinalizeTimeout
	if cfg.Turn.MaxPromptRunes > 0 {
		orch.MaxPromptRunes = cfg.Turn.MaxPromptRunes
	}

	lim := ratelimit.New(ratelimit.Config{
		Window:        cfg.RateLimit.Window,
		MaxRequests:   cfg.RateLimit.MaxRequests,
		SweepInterval: cfg.RateLimit.SweepInterval,
	})

	return &App{DB: db, Chats: chats, Messages: gw, Turns: orch, Hub: hub, Limiter: lim}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Auth: resolve the user id (JWT or demo header)
//  4. RedactingLogger: structured logs with PII scrubbing
//  5. Recovery: capture panics after logger
//  6. Body size limiter
//  7. Metrics
//  8. Idempotency (before the rate limiter so replays bypass it)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, app *App, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Identity
	r.Use(middleware.Auth(middleware.AuthOptions{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
		Public: []string{"/health", "/metrics", "/swagger/"},
	}))

	// 4) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"Proxy-Authorization"},
	}))

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Global body size limit
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	r.Use(limitBody(maxBody))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency-Key validation and replay lookup
	r.Use(middleware.Idempotency(
		middleware.IdempotencyOptions{MaxLen: 200},
		handlers.IdempotencyLookup(app.DB),
	))

	// 9) CORS posture (safe defaults: allow all if none configured)
	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey, "Last-Event-ID"},
		ExposeHeaders: []string{
			"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed",
			middleware.HeaderRateLimit, middleware.HeaderRateRemaining, middleware.HeaderRateReset, middleware.HeaderRetryAfter,
		},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	origins := cfg.CORS.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	h := handlers.New(handlers.Deps{
		Chats:          app.Chats,
		Messages:       app.Messages,
		Turns:          app.Turns,
		Hub:            app.Hub,
		DB:             app.DB,
		IdempotencyTTL: cfg.IdempotencyTTL,
		CheckOrigin:    handlers.AllowOrigins(origins),
	})
	limited := middleware.RateLimit(app.Limiter)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Chats
		api.POST("/chats", h.CreateChat)
		api.GET("/chats", h.ListChats)
		api.GET("/chats/:id", h.GetChat)
		api.PUT("/chats/:id/title", h.UpdateChatTitle)

		// Messages (history listing is the only compressed route; streams must flush)
		api.GET("/chats/:id/messages", gzip.Gzip(gzip.DefaultCompression), h.ListMessages)
		api.POST("/chats/:id/messages", h.AppendMessage)
		api.PATCH("/chats/:id/messages/:mid", h.PatchMessage)

		// Turns
		api.POST("/chats/:id/turns", limited, h.PostTurn)
		api.POST("/chats/:id/messages/:mid/regenerate", limited, h.RegenerateMessage)
		api.GET("/chats/:id/turns/current", h.TurnStatus)
		api.DELETE("/chats/:id/turns/current", h.StopTurn)

		// Observers
		api.GET("/chats/:id/ws", h.WatchChat)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
