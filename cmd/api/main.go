package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/carrier"
	"github.com/noah-isme/toko-checkout/internal/cart"
	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/city"
	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/config"
	"github.com/noah-isme/toko-checkout/internal/delivery"
	"github.com/noah-isme/toko-checkout/internal/events"
	"github.com/noah-isme/toko-checkout/internal/geocode"
	"github.com/noah-isme/toko-checkout/internal/health"
	"github.com/noah-isme/toko-checkout/internal/lock"
	"github.com/noah-isme/toko-checkout/internal/notify"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/order"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/ratelimit"
	"github.com/noah-isme/toko-checkout/internal/resilience"
	"github.com/noah-isme/toko-checkout/internal/security"
	"github.com/noah-isme/toko-checkout/internal/session"
	"github.com/noah-isme/toko-checkout/internal/stream"
)

// carrierAPI is everything the checkout needs from the delivery carrier.
type carrierAPI interface {
	city.CarrierDirectory
	delivery.PointLister
	delivery.Quoter
	order.Registrar
}

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingEnabled := cfg.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:    obs.ServiceName,
			ServiceVersion: version,
			Endpoint:       cfg.OTLPEndpoint,
			SamplingRatio:  cfg.SamplingRatio,
			Environment:    cfg.AppEnv,
			OriginCityCode: cfg.OriginCityCode,
			Currency:       cfg.Currency,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	}

	bus := &events.Bus{}
	var subscriber events.Subscriber
	var storage cart.Storage
	var history order.History
	var pointCache *delivery.SnapshotCache
	if redisClient != nil {
		pubsub := events.RedisPubSub{Client: redisClient, Logger: &logger}
		bus.Publisher = pubsub
		subscriber = pubsub
		storage = cart.NewRedisStorage(redisClient, "cart", cfg.CartTTL)
		history = order.NewRedisHistory(redisClient, "orders", int64(cfg.OrderHistorySize), cfg.OrderHistoryTTL)
		pointCache = delivery.NewSnapshotCache(redisClient, "points", cfg.PointsCacheTTL)
	} else {
		hub := events.NewMemoryHub()
		bus.Publisher = hub
		subscriber = hub
		storage = cart.NewMemoryStorage()
		history = order.NewMemoryHistory()
		logger.Warn().Msg("REDIS_URL not set: carts, orders and events stay in process memory")
	}

	carrierBreaker := newBreaker("carrier", cfg, logger)
	geocodeBreaker := newBreaker("geocode", cfg, logger)
	paymentBreaker := newBreaker("payment", cfg, logger)
	breakers := []*resilience.Breaker{carrierBreaker, geocodeBreaker, paymentBreaker}

	var webhook *notify.Webhook
	if cfg.WebhookURL != "" {
		if err := notify.ValidateURL(cfg.WebhookURL); err != nil {
			logger.Fatal().Err(err).Msg("invalid CHECKOUT_WEBHOOK_URL")
		}
		webhookBreaker := newBreaker("webhook", cfg, logger)
		breakers = append(breakers, webhookBreaker)
		webhook = &notify.Webhook{
			HTTP:      providerHTTP(webhookBreaker, cfg),
			URL:       cfg.WebhookURL,
			Secret:    cfg.WebhookSecret,
			Replay:    notify.RedisReplayProtector{Client: redisClient, Prefix: "notify"},
			ReplayTTL: 24 * time.Hour,
			Logger:    &logger,
		}
		bus.Notifiers = append(bus.Notifiers, webhook)
	}

	var carrierClient carrierAPI = &carrier.Mock{}
	if cfg.CarrierConfigured() {
		carrierClient = &carrier.Client{
			HTTP:         providerHTTP(carrierBreaker, cfg),
			BaseURL:      cfg.CarrierBaseURL,
			ClientID:     cfg.CarrierClientID,
			ClientSecret: cfg.CarrierClientSecret,
			Logger:       &logger,
		}
	} else {
		logger.Warn().Msg("carrier credentials missing: using canned carrier responses")
	}

	var suggester geocode.Suggester = geocode.Mock{Count: cfg.GeocodeCount}
	if cfg.GeocodeToken != "" {
		suggester = &geocode.Client{
			HTTP:    providerHTTP(geocodeBreaker, cfg),
			BaseURL: cfg.GeocodeBaseURL,
			Token:   cfg.GeocodeToken,
			Count:   cfg.GeocodeCount,
			Logger:  &logger,
		}
	}

	var payments payment.Provider = payment.Mock{}
	if cfg.PaymentsConfigured() {
		// payments are never retried blindly; the idempotence key covers one attempt
		paymentHTTP := providerHTTP(paymentBreaker, cfg)
		paymentHTTP.MaxAttempts = 1
		payments = &payment.YooKassa{
			HTTP:      paymentHTTP,
			BaseURL:   cfg.YooKassaBaseURL,
			ShopID:    cfg.YooKassaShopID,
			SecretKey: cfg.YooKassaSecretKey,
			ReturnURL: cfg.PaymentReturnURL,
			Logger:    &logger,
		}
	} else {
		logger.Warn().Msg("payment credentials missing: using mock payments")
	}

	validate := common.NewValidator()
	checkoutSvc := &checkout.Service{
		Payments:  payments,
		Orders:    carrierClient,
		History:   history,
		Events:    bus,
		Validator: validate,
		Logger:    &logger,
		Origin:    cfg.OriginCityCode,
		Currency:  cfg.Currency,
		LockTTL:   cfg.CheckoutLockTTL,
	}
	if redisClient != nil {
		checkoutSvc.Locker = lock.Locker{R: redisClient, Prefix: "lock", Wait: cfg.CheckoutLockWait}
	}

	registry := session.NewRegistry(session.Deps{
		Storage:    storage,
		Events:     bus,
		Suggester:  suggester,
		Directory:  carrierClient,
		Lister:     carrierClient,
		PointCache: pointCache,
		Quoter:     carrierClient,
		Checkout:   checkoutSvc,
		Origin:     cfg.OriginCityCode,
		Debounce:   cfg.CityDebounce,
		Logger:     &logger,
	}, cfg.SessionIdleTTL)
	go registry.Run(ctx, cfg.SessionSweep)

	limiterStore, err := ratelimit.NewStore(redisClient, "ratelimit")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter store")
	}
	queryLimiter, err := ratelimit.New(limiterStore, cfg.CityQueryRate)
	if err != nil {
		logger.Fatal().Err(err).Str("rate", cfg.CityQueryRate).Msg("parse city query rate")
	}
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	sessionHandler := &session.Handler{
		Registry:  registry,
		History:   history,
		Validator: validate,
		QueryLimiter: ratelimit.Handler{
			Limiter: queryLimiter,
			Key:     common.SessionClientKey,
			OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
		}.Middleware,
		CheckoutGuard: idem.Middleware,
	}
	streamHandler := &stream.Handler{
		Subscriber: subscriber,
		Snapshot: func(ctx context.Context, id string) (any, error) {
			s, err := registry.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			return s.View(), nil
		},
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         &logger,
	}

	var httpMetrics *obs.HTTPMetrics
	if cfg.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBuckets), nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.WithLogger(logger))
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.IsProduction(), TrustForwardedProto: cfg.IsProduction()}.Middleware)
	r.Use(security.BodyLimit{}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.PprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.PprofUser, cfg.PprofPass))
	}

	healthHandler := health.Handler{Breakers: breakers}
	if redisClient != nil {
		healthHandler.Checker = readinessChecker{redis: redisClient}
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		sessionHandler.Routes(v)
		v.Get("/sessions/{sessionID}/stream", streamHandler.Serve)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Bool("redis", redisClient != nil).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	if webhook != nil {
		webhook.Wait()
	}
	logger.Info().Msg("server stopped")
}

func initRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func newBreaker(target string, cfg *config.Config, logger zerolog.Logger) *resilience.Breaker {
	return resilience.NewBreaker(resilience.BreakerConfig{
		Target:       target,
		MinRequests:  5,
		FailureRatio: 0.5,
		OpenFor:      cfg.BreakerOpenFor,
		Logger:       &logger,
	})
}

func providerHTTP(breaker *resilience.Breaker, cfg *config.Config) resilience.HTTPClient {
	return resilience.HTTPClient{
		Client:      resilience.NewInstrumentedClient(cfg.ProviderTimeout * 2),
		Breaker:     breaker,
		BaseBackoff: 200 * time.Millisecond,
		MaxAttempts: cfg.ProviderMaxAttempts,
		Jitter:      0.2,
		Timeout:     cfg.ProviderTimeout,
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	redis *redis.Client
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
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
