package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/yagsothebrand/waitlist-api/internal/http/handlers"
	mw "github.com/yagsothebrand/waitlist-api/internal/http/middleware"
	"github.com/yagsothebrand/waitlist-api/internal/mailer"
	"github.com/yagsothebrand/waitlist-api/internal/repo/postgres"
	"github.com/yagsothebrand/waitlist-api/internal/service"
	"github.com/yagsothebrand/waitlist-api/internal/session"
	"github.com/yagsothebrand/waitlist-api/pkg/config"
	"github.com/yagsothebrand/waitlist-api/pkg/database"
	"github.com/yagsothebrand/waitlist-api/pkg/events"
	"github.com/yagsothebrand/waitlist-api/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	var eventBus events.EventBus
	if bus, err := events.NewNATSEventBus(cfg.NATS.URL); err != nil {
		logger.Warn("NATS unavailable, events disabled", "error", err)
		eventBus = events.NoopEventBus{}
	} else {
		eventBus = bus
	}
	defer eventBus.Close()

	redisClient := newRedisClient(cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	waitlistRepo := postgres.NewWaitlistRepo(pool)
	accessService := service.NewAccessService(waitlistRepo, newMailer(cfg), eventBus, cfg.App.PublicBaseURL)
	sessions := session.NewManager(waitlistRepo, session.Config{
		Secret:         cfg.Session.Secret,
		TTL:            cfg.Session.TTL,
		CookieDomain:   cfg.Session.CookieDomain,
		CookieSecure:   cfg.Session.CookieSecure,
		EntryPath:      cfg.App.EntryPath,
		CheckEmailPath: cfg.App.CheckEmailPath,
	})
	var cooldown *mw.Cooldown
	if redisClient != nil {
		cooldown = mw.NewCooldown(redisClient, cfg.App.ResendCooldown)
	}

	h := handlers.NewAccessHandler(accessService, sessions, cooldown)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("waitlist"))
	r.Use(mw.Logging)
	r.Use(mw.Health)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.App.PublicBaseURL, "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Mount("/v1/access", h.Routes())

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down waitlist service...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Waitlist service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting waitlist service", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Waitlist service error", "error", err)
		os.Exit(1)
	}
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		logger.Warn("Invalid REDIS_URL, cooldown disabled", "error", err)
		return nil
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.DB = cfg.DB
	return redis.NewClient(opts)
}

func newMailer(cfg *config.Config) mailer.Service {
	switch {
	case cfg.Email.DevMode:
		return mailer.NewDevMailer()
	case cfg.Email.MailerSendKey != "":
		return mailer.NewMailer(cfg.Email.MailerSendKey, cfg.Email.FromName, cfg.Email.FromEmail)
	default:
		return mailer.NewSMTPMailer(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.SMTPFrom,
			cfg.Email.SMTPUser, cfg.Email.SMTPPass, cfg.Email.SMTPUseTLS)
	}
}
