package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/farm-market/config"
	"github.com/ErlanBelekov/farm-market/internal/audit"
	"github.com/ErlanBelekov/farm-market/internal/cache"
	"github.com/ErlanBelekov/farm-market/internal/email"
	"github.com/ErlanBelekov/farm-market/internal/health"
	"github.com/ErlanBelekov/farm-market/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/farm-market/internal/infrastructure/redis"
	ctxlog "github.com/ErlanBelekov/farm-market/internal/log"
	"github.com/ErlanBelekov/farm-market/internal/metrics"
	"github.com/ErlanBelekov/farm-market/internal/otp"
	"github.com/ErlanBelekov/farm-market/internal/password"
	"github.com/ErlanBelekov/farm-market/internal/pending"
	"github.com/ErlanBelekov/farm-market/internal/reaper"
	"github.com/ErlanBelekov/farm-market/internal/security"
	"github.com/ErlanBelekov/farm-market/internal/token"
	httptransport "github.com/ErlanBelekov/farm-market/internal/transport/http"
	"github.com/ErlanBelekov/farm-market/internal/transport/http/handler"
	"github.com/ErlanBelekov/farm-market/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if !cfg.IsLocal() {
		gin.SetMode(gin.ReleaseMode)
	}

	issuer, err := token.NewIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTTTL())
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}
	cipher, err := newCipher(cfg, logger)
	if err != nil {
		log.Fatalf("token cipher: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		stop()
		log.Fatalf("migrate: %v", err)
	}

	metrics.Register()
	checker := health.NewChecker(logger, prometheus.DefaultRegisterer).Add("postgres", pool)

	// Cache: Redis when configured so rate limits and CSRF tokens are shared
	// across replicas, otherwise process-local.
	var store cache.Store
	if cfg.RedisURL != "" {
		client, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			stop()
			log.Fatalf("redis: %v", err)
		}
		defer client.Close()
		rc := redis.NewCache(client, "farmmarket")
		checker.Add("redis", rc)
		store = rc
	} else {
		logger.Warn("REDIS_URL not set, using in-process cache; rate limits are per instance")
		mem := cache.NewMemory()
		sweeper := reaper.New(logger).Add("cache", func(context.Context, time.Time) (int, error) {
			return mem.Sweep(), nil
		})
		go func() {
			if err := sweeper.Start(ctx, "@every 1m"); err != nil {
				logger.Error("cache sweeper", "error", err)
			}
		}()
		store = mem
	}

	// Persistence
	userRepo := postgres.NewUserRepository(pool)
	pendingRepo := postgres.NewPendingRegistrationRepository(pool)
	otpRepo := postgres.NewOTPRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)

	// Audit writes happen off the request path.
	events := audit.NewDispatcher(audit.NewRecorder(auditRepo, logger), cfg.AuditBufferSize,
		audit.OnDrop(metrics.AuditDroppedTotal.Inc))
	defer events.Close()

	mailer := email.NewSender(email.Options{
		Provider:     cfg.MailProvider,
		ResendAPIKey: cfg.ResendAPIKey,
		ResendFrom:   cfg.ResendFrom,
		SMTP: email.SMTPOptions{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		},
	}, logger)

	// Auth
	authUsecase := usecase.NewAuthUsecase(usecase.AuthDeps{
		Users:   userRepo,
		Pending: pending.NewStore(pendingRepo, userRepo),
		OTPs:    otp.NewEngine(otpRepo),
		Issuer:  issuer,
		Cipher:  cipher,
		Hasher:  password.NewHasher(),
		Mailer:  mailer,
		Events:  events,
		Logger:  logger,
	})
	adminUsecase := usecase.NewAdminUsecase(userRepo, events, logger)

	// Security
	gateway := security.NewGateway(security.GatewayConfig{
		RateLimitRPM:  cfg.RateLimitRPM,
		SuspiciousRPM: cfg.SuspiciousIPRPM,
		AllowHTTP:     cfg.AllowHTTP,
	}, store, events, logger)
	csrf := security.NewCSRF(store, events, logger)

	router, err := httptransport.NewRouter(httptransport.Deps{
		Logger:         logger,
		Gateway:        gateway,
		Cipher:         cipher,
		Issuer:         issuer,
		Sessions:       security.NewSessionValidator(userRepo, events, logger),
		CSRF:           csrf,
		Events:         events,
		TrustedProxies: cfg.TrustedProxies,
		Auth:           handler.NewAuthHandler(authUsecase, logger),
		Admin:          handler.NewAdminHandler(adminUsecase, logger),
		Me:             handler.NewMeHandler(userRepo, logger),
		Security:       handler.NewSecurityHandler(csrf, logger),
	})
	if err != nil {
		log.Fatalf("router: %v", err)
	}

	srv := http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker, security.NewAPIKeys(cfg.MetricsAPIKeys))

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

// newCipher loads the token encryption material. In ENV=local missing
// material is replaced with a random key and IV.
func newCipher(cfg *config.Config, logger *slog.Logger) (*token.Cipher, error) {
	key, iv := cfg.TokenEncryptionKey, cfg.TokenEncryptionIV
	if cfg.IsLocal() && (key == "" || iv == "") {
		var err error
		key, iv, err = token.GenerateKeyMaterial()
		if err != nil {
			return nil, err
		}
		logger.Warn("TOKEN_ENCRYPTION_KEY/IV not set, generated ephemeral material; issued tokens will not survive a restart")
	}
	return token.NewCipher(key, iv)
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
