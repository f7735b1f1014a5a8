package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/istefan/ahoi-api/internal/admin"
	"github.com/istefan/ahoi-api/internal/auth"
	"github.com/istefan/ahoi-api/internal/config"
	"github.com/istefan/ahoi-api/internal/engine"
	"github.com/istefan/ahoi-api/internal/files"
	"github.com/istefan/ahoi-api/internal/metadata"
	"github.com/istefan/ahoi-api/internal/notify"
	"github.com/istefan/ahoi-api/internal/schema"
	"github.com/istefan/ahoi-api/internal/storage"
	"github.com/istefan/ahoi-api/internal/store"
	"github.com/istefan/ahoi-api/internal/users"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, driver: %s, policy: %s)",
		cfg.Server.Port, cfg.Database.Driver, cfg.API.Policy)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Bootstrap system tables
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap system tables: %v", err)
	}
	log.Println("System tables ready")

	// 4. Create registry and load structure metadata
	reg := metadata.NewRegistry()
	if err := metadata.LoadAll(ctx, db, reg); err != nil {
		log.Fatalf("Failed to load metadata: %v", err)
	}

	// 5. Create schema manager and recreate any missing data tables
	schemaMgr := schema.NewManager(db, reg)
	if err := schemaMgr.EnsureTables(ctx); err != nil {
		log.Fatalf("Failed to verify data tables: %v", err)
	}

	// 6. Start webhook dispatcher
	dispatcher := engine.NewDispatcher(reg, engine.DispatcherConfig{
		Timeout:      cfg.Webhooks.Timeout(),
		MaxRedirects: cfg.Webhooks.MaxRedirects,
		Workers:      cfg.Webhooks.Workers,
		QueueSize:    cfg.Webhooks.QueueSize,
	})
	dispatcher.Start()
	defer dispatcher.Stop()

	// 7. Build mailer for the configured provider
	mailer, err := notify.NewMailer(cfg.Email)
	if err != nil {
		log.Fatalf("Failed to configure email: %v", err)
	}

	// 8. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		BodyLimit:    int(cfg.Storage.MaxFileSize) + 1024*1024,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	if len(cfg.CORS.AllowedOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins:     strings.Join(cfg.CORS.AllowedOrigins, ","),
			AllowMethods:     "GET,POST,PUT,PATCH,DELETE",
			AllowHeaders:     "Authorization,Content-Type",
			AllowCredentials: true,
		}))
	}

	// 9. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/ahoi/v1")

	// 10. Public auth routes
	authHandler := auth.NewHandler(db, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL(), dispatcher)
	auth.RegisterRoutes(api, authHandler)

	// 11. Everything below requires a valid token
	api.Use(auth.Middleware(cfg.Auth.JWTSecret))

	// 12. Definition API (administrator only)
	adminHandler := admin.NewHandler(db, reg, schemaMgr, dispatcher)
	adminGroup := api.Group("/_admin", auth.RequireAdministrator())
	admin.RegisterRoutes(adminGroup, adminHandler)

	// 13. Account management
	usersHandler := users.NewHandler(db)
	users.RegisterRoutes(api, usersHandler)

	// 14. File storage
	blobs := storage.NewLocalStore(cfg.Storage.LocalPath)
	filesHandler := files.NewHandler(db, blobs, cfg.Storage.MaxFileSize)
	files.RegisterRoutes(api, filesHandler)

	// 15. Email notifications
	notifyHandler := notify.NewHandler(mailer)
	notify.RegisterRoutes(api, notifyHandler)

	// 16. Dynamic structure routes (must come last, :structure is a wildcard)
	engineHandler := engine.NewHandler(db, reg, cfg.API.Policy, dispatcher)
	engine.RegisterDynamicRoutes(api, engineHandler)

	// 17. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(app.Listen(addr))
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	var appErr *engine.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(engine.ErrorResponse{
		Error: &engine.AppError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		},
	})
}
