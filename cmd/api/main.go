package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/kasir-api/internal/cart"
	"github.com/noah-isme/kasir-api/internal/common"
	"github.com/noah-isme/kasir-api/internal/config"
	"github.com/noah-isme/kasir-api/internal/contact"
	"github.com/noah-isme/kasir-api/internal/effects"
	"github.com/noah-isme/kasir-api/internal/fee"
	"github.com/noah-isme/kasir-api/internal/health"
	"github.com/noah-isme/kasir-api/internal/ledger"
	"github.com/noah-isme/kasir-api/internal/lock"
	"github.com/noah-isme/kasir-api/internal/obs"
	"github.com/noah-isme/kasir-api/internal/outbox"
	"github.com/noah-isme/kasir-api/internal/product"
	"github.com/noah-isme/kasir-api/internal/ratelimit"
	"github.com/noah-isme/kasir-api/internal/report"
	"github.com/noah-isme/kasir-api/internal/returns"
	"github.com/noah-isme/kasir-api/internal/security"
	"github.com/noah-isme/kasir-api/internal/settings"
	"github.com/noah-isme/kasir-api/internal/settlement"
	"github.com/noah-isme/kasir-api/internal/stock"
	"github.com/noah-isme/kasir-api/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "kasir")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "kasir-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "kasir-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	db := postgres.New(pool)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisOpts.Addr,
		Password: redisOpts.Password,
		DB:       redisOpts.DB,
	})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close asynq client")
		}
	}()
	queuer := &outbox.Asynq{Client: asynqClient, Logger: logger}

	validate := validator.New()

	settingsSvc := &settings.Service{Store: db}
	settingsHandler := &settings.Handler{Svc: settingsSvc}

	stockSvc := &stock.Service{Store: db, Outbox: queuer, Logger: logger}
	stockHandler := &stock.Handler{Svc: stockSvc}

	productSvc := &product.Service{Store: db, Stock: stockSvc, Outbox: queuer, Validate: validate, Logger: logger}
	productHandler := &product.Handler{Svc: productSvc}

	contactSvc := &contact.Service{Store: db, Outbox: queuer, Validate: validate, Logger: logger}
	contactHandler := &contact.Handler{Svc: contactSvc}

	ledgerSvc := &ledger.Service{Store: db, Outbox: queuer, Logger: logger}
	ledgerHandler := &ledger.Handler{Svc: ledgerSvc}

	feeSvc := &fee.Service{Store: db, Outbox: queuer, Logger: logger}
	feeHandler := &fee.Handler{Svc: feeSvc}

	cartSvc := &cart.Service{Store: db, Logger: logger}
	cartHandler := &cart.Handler{Svc: cartSvc}

	coordinator := &effects.Coordinator{
		Store:  db,
		Stock:  stockSvc,
		Outbox: queuer,
		Redis:  redisClient,
		TTL:    envDurationMillis("EFFECTS_GUARD_TTL_MS", 24*60*60*1000),
		Logger: logger,
	}

	locker := &lock.Locker{R: redisClient, RetryBackoff: envDurationMillis("LOCK_RETRY_BACKOFF_MS", 50)}

	settlementSvc := &settlement.Service{
		Store:    db,
		Carts:    cartSvc,
		Settings: settingsSvc,
		Effects:  coordinator,
		Locker:   locker,
		Logger:   logger,
	}
	settlementHandler := &settlement.Handler{Svc: settlementSvc}

	returnSvc := &returns.Service{Store: db, Stock: stockSvc, Outbox: queuer, Logger: logger}
	returnHandler := &returns.Handler{Svc: returnSvc}

	reportSvc := &report.Service{Store: db}
	reportHandler := &report.Handler{Svc: reportSvc}

	idem := common.Idem{R: redisClient, TTL: envDurationMillis("IDEMPOTENCY_TTL_MS", 10*60*1000)}

	limiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:"},
		Config: ratelimit.Config{
			Key: func(r *http.Request) string {
				return strings.TrimSpace(r.Header.Get(cart.TerminalHeader)) + ":" + common.ClientIP(r)
			},
			Window: envDurationMillis("RATE_LIMIT_WINDOW_MS", 1000),
			Max:    envInt("RATE_LIMIT_MAX", 50),
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("rate limiter degraded")
		},
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(cashierContext)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{
		Enable:                envBool("SECURE_HEADERS_ENABLE", true),
		EnableHSTS:            envBool("SECURE_HSTS_ENABLE", false),
		HSTSMaxAge:            envInt("SECURE_HSTS_MAX_AGE", 31536000),
		HSTSIncludeSubdomains: envBool("SECURE_HSTS_INCLUDE_SUBDOMAINS", false),
	}.Middleware)
	r.Use(security.BodyLimit{Max: int64(envInt("SECURE_BODY_LIMIT_BYTES", 1<<20))}.Middleware)
	if envBool("SECURE_CSRF_ENABLE", false) {
		r.Use(security.CSRF{Header: envOrDefault("SECURE_CSRF_HEADER", "X-CSRF-Token")}.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key", "X-CSRF-Token", cart.TerminalHeader, common.UserIDHeader, common.UserNameHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	pprofEnabled := envBool("OBS_ENABLE_PPROF", true)
	if pprofEnabled {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(limiter.Middleware)

		v.Route("/products", func(p chi.Router) {
			p.Get("/", productHandler.List)
			p.Get("/barcode", productHandler.ByBarcode)
			p.Post("/", productHandler.Create)
			p.Route("/{id}", func(child chi.Router) {
				child.Get("/", productHandler.Get)
				child.Put("/", productHandler.Update)
				child.Delete("/", productHandler.Delete)
				child.Post("/stock", productHandler.AdjustStock)
				child.Get("/stock-history", stockHandler.History)
			})
		})

		v.Route("/contacts", func(c chi.Router) {
			c.Get("/", contactHandler.List)
			c.Post("/", contactHandler.Create)
			c.Route("/{id}", func(child chi.Router) {
				child.Get("/", contactHandler.Get)
				child.Put("/", contactHandler.Update)
				child.Delete("/", contactHandler.Delete)
				child.Post("/points/redeem", contactHandler.RedeemPoints)
				child.Post("/points/reset", contactHandler.ResetPoints)
				child.Get("/ledger", ledgerHandler.Statement)
			})
		})

		v.Route("/ledgers", func(l chi.Router) {
			l.Post("/", ledgerHandler.Add)
			l.Put("/{id}", ledgerHandler.Update)
			l.Delete("/{id}", ledgerHandler.Delete)
		})

		v.Route("/fees", func(f chi.Router) {
			f.Get("/", feeHandler.List)
			f.Post("/", feeHandler.Create)
			f.Put("/{id}", feeHandler.Update)
			f.Delete("/{id}", feeHandler.Delete)
		})

		v.Route("/cart", func(c chi.Router) {
			c.Get("/", cartHandler.Get)
			c.Delete("/", cartHandler.Clear)
			c.Post("/items", cartHandler.AddLine)
			c.Patch("/items", cartHandler.UpdateQuantity)
			c.Delete("/items", cartHandler.RemoveLine)
			c.Post("/customer", cartHandler.SetCustomer)
			c.Delete("/customer", cartHandler.ClearCustomer)
			c.Post("/fees", cartHandler.AddFee)
			c.Delete("/fees/{feeID}", cartHandler.RemoveFee)
			c.Post("/hold", cartHandler.Hold)
			c.Get("/pending", cartHandler.ListPending)
			c.Post("/pending/{id}/resume", cartHandler.Resume)
			c.Delete("/pending/{id}", cartHandler.DeletePending)
		})

		v.Route("/settlement", func(s chi.Router) {
			s.Post("/begin", settlementHandler.Begin)
			s.Get("/", settlementHandler.Preview)
			s.Post("/method", settlementHandler.SelectMethod)
			s.Post("/amount", settlementHandler.EnterAmount)
			s.Post("/donation", settlementHandler.ToggleDonation)
			s.With(idem.Middleware).Post("/confirm", settlementHandler.Confirm)
			s.Post("/cancel", settlementHandler.Cancel)
		})

		v.Route("/transactions", func(t chi.Router) {
			t.Get("/", reportHandler.Transactions)
			t.With(idem.Middleware).Post("/{id}/returns", returnHandler.ReturnLine)
		})

		v.Get("/reports/summary", reportHandler.Summary)

		v.Route("/settings", func(s chi.Router) {
			s.Get("/", settingsHandler.Get)
			s.Put("/", settingsHandler.Update)
		})
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}

// cashierContext propagates the cashier id header into the request context so
// request logs can attribute writes.
func cashierContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(common.UserIDHeader)); id != "" {
			r = r.WithContext(common.WithUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
