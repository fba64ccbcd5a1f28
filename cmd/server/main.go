package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/rs/zerolog"

	"github.com/stanstork/invitation-api/internal/authz"
	"github.com/stanstork/invitation-api/internal/config"
	"github.com/stanstork/invitation-api/internal/enrolment"
	"github.com/stanstork/invitation-api/internal/handlers"
	"github.com/stanstork/invitation-api/internal/i18n"
	"github.com/stanstork/invitation-api/internal/invitation"
	"github.com/stanstork/invitation-api/internal/middleware"
	"github.com/stanstork/invitation-api/internal/migration"
	"github.com/stanstork/invitation-api/internal/notification"
	"github.com/stanstork/invitation-api/internal/repository"
	"github.com/stanstork/invitation-api/internal/routes"
)

type application struct {
	config        *config.Config
	db            *sql.DB
	store         repository.Store
	logger        zerolog.Logger
	notifications notification.Service
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	log.SetFlags(0)
	log.SetOutput(logger)

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Initialize database connection.
	dialect, err := repository.ParseDialect(cfg.Database.Driver)
	if err != nil {
		logger.Fatal().Err(err).Msg("Unsupported database driver")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := repository.Open(ctx, dialect, cfg.Database.URL)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()

	// Run database migrations.
	if err := migration.Run(db, dialect, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	store := repository.NewStore(db, dialect)

	// Initialize notification service.
	notifiers := []notification.Notifier{notification.NewLogNotifier(logger)}
	if cfg.Email.Enabled() && len(cfg.Email.AuditRecipients) > 0 {
		emailNotifier, err := notification.NewEmailNotifier(cfg.Email, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to configure email notifier")
		}
		notifiers = append(notifiers, emailNotifier)
	}
	notificationService := notification.NewService(store.Events(), logger, notifiers...)

	app := &application{
		config:        cfg,
		db:            db,
		store:         store,
		logger:        logger,
		notifications: notificationService,
	}

	// Initialize the HTTP router and middleware.
	router := app.initRouter(logger)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins(cfg.CORS.AllowedOrigins),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization", "Accept-Language"}),
		h.AllowCredentials(),
	)(loggedRouter)
	recovered := h.RecoveryHandler(h.RecoveryLogger(log.Default()), h.PrintRecoveryStack(true))(corsHandler)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(recovered, logger)

	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(logger zerolog.Logger) http.Handler {
	opts := []invitation.Option{
		invitation.WithLogger(logger),
		invitation.WithTokenKey([]byte(app.config.TokenKey)),
		invitation.WithAcceptURLTemplate(app.config.Invitation.AcceptURLTemplate),
		invitation.WithDefaultValidity(app.config.Invitation.DefaultValidity),
		invitation.WithTranslator(i18n.NewTranslator()),
	}

	// Mailer for invites
	if app.config.Email.Enabled() {
		inviteMailer, err := notification.NewSMTPInviteMailer(app.config.Email)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure invite mailer")
		}
		opts = append(opts, invitation.WithMailer(inviteMailer))
	} else {
		logger.Warn().Msg("SMTP not configured; invitation emails will not be sent")
	}

	manager, err := invitation.NewManager(app.store, app.notifications, opts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure invitation manager")
	}
	checker := authz.NewChecker(app.store.Directory())
	proxies, err := middleware.ParseTrustedProxies(app.config.RateLimit.TrustedProxies)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid rate_limit.trusted_proxies")
	}

	return routes.NewRouter(routes.Deps{
		Health:      handlers.HealthCheck(app.store),
		Invitations: handlers.NewInvitationHandler(manager, logger),
		Enrolments:  handlers.NewEnrolmentHandler(enrolment.NewService(app.store, logger), checker, logger),
		Events:      handlers.NewEventHandler(app.notifications, logger),
		Checker:     checker,
		JWTSecret:   app.config.JWTSecret,
		AcceptLimit: middleware.RateLimitConfig{
			Requests:       app.config.RateLimit.Requests,
			Window:         app.config.RateLimit.Window,
			Burst:          app.config.RateLimit.Burst,
			TrustedProxies: proxies,
		},
		Logger: logger,
	})
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, logger zerolog.Logger) {
	server := &http.Server{
		Addr:              ":" + app.config.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
}
