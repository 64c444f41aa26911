package server

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/opsdeck/opsdeck/internal/broadcast"
	"github.com/opsdeck/opsdeck/internal/cache"
	"github.com/opsdeck/opsdeck/internal/config"
	"github.com/opsdeck/opsdeck/internal/database"
	"github.com/opsdeck/opsdeck/internal/domain/account"
	"github.com/opsdeck/opsdeck/internal/domain/admin"
	"github.com/opsdeck/opsdeck/internal/domain/deploy"
	"github.com/opsdeck/opsdeck/internal/domain/session"
	"github.com/opsdeck/opsdeck/internal/metrics"
	"github.com/opsdeck/opsdeck/internal/ratelimit"
	"github.com/opsdeck/opsdeck/internal/utils"
)

// SetupRoutes wires repositories, services and handlers onto the
// Fiber app. All API routes live under /v1.
func SetupRoutes(app *fiber.App, envConfig *config.Environment, cfg *config.Config, collector *metrics.Collector) error {
	api := app.Group("/v1")

	// Initialize repositories
	accountRepo := account.NewRepository(database.DB)
	adminRepo := admin.NewRepository(database.DB)

	// Broadcast channel: Redis when configured, in-process otherwise.
	var broker broadcast.Broker
	if cfg.Redis.Enabled {
		broker = broadcast.NewRedisBroker(cache.RedisClient)
	} else {
		broker = broadcast.NewMemoryBroker()
	}

	// Login attempt store per config.
	var attempts ratelimit.AttemptStore
	switch cfg.RateLimit.Store {
	case "postgres":
		attempts = accountRepo
	case "redis":
		if cfg.Redis.Enabled {
			attempts = ratelimit.NewRedisStore(cache.RedisClient, 2*cfg.RateLimit.Window)
		} else {
			slog.Warn("Redis attempt store configured without Redis; using memory")
			attempts = ratelimit.NewMemoryStore()
		}
	default:
		attempts = ratelimit.NewMemoryStore()
	}
	gate := ratelimit.NewGate(attempts, accountRepo, ratelimit.Config{
		Window:         cfg.RateLimit.Window,
		MaxAttempts:    cfg.RateLimit.MaxAttempts,
		LogoutCooldown: cfg.RateLimit.LogoutCooldown,
	})

	// External job execution
	gateway := deploy.NewHTTPGateway(cfg.Deploy.RunnerBaseURL, cfg.Deploy.RunnerToken,
		cfg.Deploy.TunnelURLTemplate, cfg.Deploy.CallTimeout)
	coordinator := deploy.NewCoordinator(accountRepo, gateway, collector, cfg.Deploy.CallTimeout)

	// Session engine
	sessionManager := session.NewManager(accountRepo, coordinator, broker, collector)

	userCookies := session.CookieSet{
		Prefix: "opsdeck",
		Domain: cfg.Auth.CookieDomain,
		MaxAge: cfg.Auth.SessionTTL,
	}
	adminCookies := session.CookieSet{
		Prefix: "opsdeck_admin",
		Domain: cfg.Auth.CookieDomain,
		MaxAge: cfg.Auth.AdminSessionTTL,
	}

	// Provisioning token issuer
	privateKey, err := config.LoadRSAPrivateKey(envConfig.PrivateKey, envConfig.Environment)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}
	issuerName := cfg.Auth.TokenIssuer
	if issuerName == "" {
		issuerName = cfg.Server.Domain
	}
	tokenIssuer := admin.NewTokenIssuer(privateKey, issuerName, cfg.Auth.TokenTTL)

	adminService := admin.NewService(adminRepo, accountRepo, sessionManager, tokenIssuer, cfg.Auth.AdminSessionTTL)

	// Handlers
	sessionHandler := session.NewHandler(sessionManager, gate, userCookies, collector)
	deployHandler := deploy.NewHandler(coordinator)
	adminHandler := admin.NewHandler(adminService, adminCookies)

	requireSession := session.Middleware(sessionManager, userCookies)
	requireAdmin := admin.Middleware(adminService, adminCookies)
	throttle := ipThrottle(cfg.RateLimit.IPRate, cfg.RateLimit.IPBurst)

	// Auth routes
	authGroup := api.Group("/auth", throttle)
	authGroup.Post("/login", sessionHandler.Login)
	authGroup.Post("/logout", sessionHandler.Logout)
	authGroup.Get("/session", requireSession, sessionHandler.Me)

	// Deploy routes
	deployGroup := api.Group("/deploy", requireSession)
	deployGroup.Post("/", deployHandler.Start)
	deployGroup.Post("/stop", deployHandler.Stop)
	deployGroup.Get("/status", deployHandler.Status)

	// Invalidation event stream
	api.Get("/events", requireSession, EventsHandler(broker))

	// Admin routes
	adminGroup := api.Group("/admin")
	adminGroup.Post("/login", throttle, adminHandler.Login)
	adminGroup.Post("/logout", adminHandler.Logout)
	adminGroup.Post("/accounts/:id/token", requireAdmin, adminHandler.IssueToken)
	adminGroup.Delete("/accounts/:id/token", requireAdmin, adminHandler.RevokeToken)
	adminGroup.Post("/accounts/:id/logout", requireAdmin, adminHandler.ForceLogout)

	api.Get("/health", func(c *fiber.Ctx) error {
		return utils.SuccessResponse(c, fiber.Map{"status": "ok"}, "")
	})

	slog.Info("Routes registered",
		"broadcast", fmt.Sprintf("%T", broker),
		"attempt_store", cfg.RateLimit.Store)

	return nil
}
