// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/amirphl/event-rsvp-engine/app/dto"
	"github.com/amirphl/event-rsvp-engine/app/handlers"
	"github.com/amirphl/event-rsvp-engine/app/middleware"
	"github.com/amirphl/event-rsvp-engine/config"
	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Handlers groups every HTTP handler the router mounts
type Handlers struct {
	Auth     *handlers.AuthHandler
	Webhook  *handlers.WebhookHandler
	Campaign handlers.CampaignHandlerInterface
	Chat     handlers.ChatHandlerInterface
	Contact  handlers.ContactHandlerInterface
	Media    *handlers.MediaHandler
}

// FiberRouter implements routing using Fiber v3
type FiberRouter struct {
	app      *fiber.App
	cfg      *config.ProductionConfig
	handlers Handlers
	auth     *middleware.AuthMiddleware
	log      zerolog.Logger
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(cfg *config.ProductionConfig, h Handlers, auth *middleware.AuthMiddleware, log zerolog.Logger) *FiberRouter {
	bodyLimit := cfg.Server.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = 20 * 1024 * 1024
	}

	app := fiber.New(fiber.Config{
		AppName:      "Event RSVP Engine",
		ServerHeader: "event-rsvp-engine",
		ErrorHandler: errorHandler(log),
		BodyLimit:    bodyLimit,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ProxyHeader:  cfg.Server.ProxyHeader,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	return &FiberRouter{
		app:      app,
		cfg:      cfg,
		handlers: h,
		auth:     auth,
		log:      log.With().Str("component", "router").Logger(),
	}
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	r.setupMiddleware()

	if r.cfg.Metrics.Enabled {
		r.app.Get(r.cfg.Metrics.PrometheusPath, adaptor.HTTPHandler(promhttp.Handler()))
	}

	// Provider callbacks authenticate with the verify token and the payload signature
	r.app.Get("/webhook", r.handlers.Webhook.Verify)
	r.app.Post("/webhook", r.handlers.Webhook.Receive)

	api := r.app.Group("/api/v1")
	api.Get("/health", r.healthCheck)

	api.Use(limiter.New(limiter.Config{
		Max:          r.cfg.Security.GlobalRateLimit,
		Expiration:   r.cfg.Security.RateLimitWindow,
		KeyGenerator: func(c fiber.Ctx) string { return c.IP() },
		LimitReached: rateLimited,
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/api/v1/health"
		},
	}))

	auth := api.Group("/auth")
	auth.Use(limiter.New(limiter.Config{
		Max:          20,
		Expiration:   time.Minute,
		KeyGenerator: func(c fiber.Ctx) string { return c.IP() },
		LimitReached: rateLimited,
	}))
	auth.Post("/refresh", r.handlers.Auth.RefreshToken)
	auth.Post("/logout", r.auth.Authenticate(), r.handlers.Auth.Logout)

	protected := api.Group("", r.auth.Authenticate())

	campaigns := protected.Group("/campaigns")
	campaigns.Post("/", r.handlers.Campaign.CreateCampaign)
	campaigns.Get("/", r.handlers.Campaign.ListCampaigns)
	campaigns.Get("/:id", r.handlers.Campaign.GetCampaign)
	campaigns.Delete("/:id", r.handlers.Campaign.DeleteCampaign)
	campaigns.Get("/:id/messages", r.handlers.Campaign.ListCampaignMessages)
	campaigns.Put("/:id/schedule", r.handlers.Campaign.RescheduleCampaign)
	campaigns.Post("/:id/cancel", r.handlers.Campaign.CancelCampaign)
	campaigns.Post("/:id/retry", r.handlers.Campaign.RetryCampaign)

	chats := protected.Group("/chats")
	chats.Get("/", r.handlers.Chat.ListConversations)
	chats.Get("/:contact_id", r.handlers.Chat.GetConversation)
	chats.Get("/:contact_id/messages", r.handlers.Chat.ListChatMessages)
	chats.Post("/:contact_id/messages", r.handlers.Chat.SendAdminMessage)
	chats.Post("/:contact_id/resume", r.handlers.Chat.ResumeAutomation)

	groups := protected.Group("/groups")
	groups.Post("/", r.handlers.Contact.CreateGroup)
	groups.Get("/", r.handlers.Contact.ListGroups)
	groups.Get("/:id/contacts", r.handlers.Contact.ListContacts)
	groups.Post("/:id/contacts/import", r.handlers.Contact.ImportContacts)
	groups.Delete("/:id/contacts", r.handlers.Contact.DeleteGroupContacts)
	groups.Get("/:id/itineraries/export", r.handlers.Contact.ExportItineraries)

	uploads := protected.Group("/uploads")
	uploads.Get("/:id", r.handlers.Media.Download)
	uploads.Get("/:id/preview", r.handlers.Media.Preview)

	r.app.Use(r.notFoundHandler)

	r.log.Info().Msg("routes configured")
}

func (r *FiberRouter) setupMiddleware() {
	// Request ID must be first
	r.app.Use(requestid.New(requestid.Config{
		Header:    "X-Request-ID",
		Generator: generateRequestID,
	}))

	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			r.log.Error().
				Interface("panic", e).
				Interface("request_id", c.Locals("requestid")).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("recovered from panic")
		},
	}))

	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             "DENY",
		HSTSMaxAge:                31536000,
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		CrossOriginResourcePolicy: "cross-origin",
	}))

	r.app.Use(cors.New(cors.Config{
		AllowOrigins:     r.cfg.Security.AllowedOrigins,
		AllowMethods:     r.cfg.Security.AllowedMethods,
		AllowHeaders:     append(r.cfg.Security.AllowedHeaders, "X-Request-ID"),
		ExposeHeaders:    []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: r.cfg.Security.AllowCredentials && !containsWildcard(r.cfg.Security.AllowedOrigins),
		MaxAge:           utils.CORSMaxAge,
	}))

	if r.cfg.Server.EnableMetrics {
		r.app.Use(middleware.Metrics())
	}

	if r.cfg.Logging.EnableAccessLog {
		r.app.Use(logger.New(logger.Config{
			Format:     `{"time":"${time}","request_id":"${locals:requestid}","level":"info","method":"${method}","path":"${path}","ip":"${ip}","status":${status},"latency":"${latency}","bytes_in":${bytesReceived},"bytes_out":${bytesSent}}` + "\n",
			TimeFormat: time.RFC3339,
			TimeZone:   "UTC",
			Next: func(c fiber.Ctx) bool {
				return c.Path() == "/api/v1/health" || c.Path() == r.cfg.Metrics.PrometheusPath
			},
		}))
	}
}

// Start begins listening on address
func (r *FiberRouter) Start(address string) error {
	r.log.Info().Str("address", address).Msg("starting server")
	return r.app.Listen(address)
}

func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "Service is healthy",
		Data: fiber.Map{
			"status":    "ok",
			"timestamp": utils.UTCNow().Unix(),
			"service":   "event-rsvp-engine",
		},
	})
}

func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "The requested resource was not found",
		Error: dto.ErrorDetail{
			Code: "NOT_FOUND",
			Details: fiber.Map{
				"path":       c.Path(),
				"method":     c.Method(),
				"request_id": c.Locals("requestid"),
			},
		},
	})
}

func rateLimited(c fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
		Success: false,
		Message: "Too many requests. Please try again later.",
		Error: dto.ErrorDetail{
			Code: "RATE_LIMIT_EXCEEDED",
		},
	})
}

func errorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "An internal server error occurred"
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
			message = e.Message
		}

		if code >= fiber.StatusInternalServerError {
			log.Error().Err(err).Int("status", code).Str("path", c.Path()).Msg("request failed")
		}

		return c.Status(code).JSON(dto.APIResponse{
			Success: false,
			Message: message,
			Error: dto.ErrorDetail{
				Code: "INTERNAL_ERROR",
				Details: fiber.Map{
					"timestamp":  utils.UTCNow().Unix(),
					"request_id": c.Locals("requestid"),
				},
			},
		})
	}
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return utils.UTCNow().Format("20060102150405.000000000")
	}
	return hex.EncodeToString(b)
}
