package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"paragate/gateway-service/internal/authn"
	"paragate/gateway-service/internal/authorize"
	"paragate/gateway-service/internal/config"
	"paragate/gateway-service/internal/csrf"
	"paragate/gateway-service/internal/gateway"
	"paragate/gateway-service/internal/httputil"
	"paragate/gateway-service/internal/identity"
	"paragate/gateway-service/internal/metrics"
	"paragate/gateway-service/internal/outcome"
	"paragate/gateway-service/internal/providers"
	"paragate/gateway-service/internal/rate"
	"paragate/gateway-service/internal/rememberme"
)

func main() {
	configFlag := flag.String("config", "", "path to config file (overrides PARAGATE_CONFIG env var)")
	flag.Parse()

	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath = os.Getenv("PARAGATE_CONFIG")
	}
	if cfgPath == "" {
		cfgPath = "./config.yaml"
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			cfgPath = "./config.example.yaml"
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Logging.Level == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().
		Str("config_path", cfgPath).
		Str("listen", cfg.Server.Listen).
		Str("log_level", cfg.Logging.Level).
		Msg("server configuration")
	log.Info().
		Str("cookie", cfg.Cookie.Name).
		Bool("always_remember", cfg.RememberMe.Always).
		Int("signed_window_sec", cfg.Signed.WindowSec).
		Str("cache_backend", cfg.Cache.Backend).
		Int("protected_rules", len(cfg.Security.Protected)).
		Int("ignored_patterns", len(cfg.Security.Ignored)).
		Msg("gateway configuration")

	metrics.MustRegister()

	// Identity store seeded from config. Deployments with a real user
	// database substitute their own identity.Store here.
	users := make([]identity.UserRecord, 0, len(cfg.Identity.Users))
	for _, u := range cfg.Identity.Users {
		users = append(users, identity.UserRecord{
			ID:           u.ID,
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			Secret:       u.Secret,
			Roles:        u.Roles,
		})
	}
	store := identity.NewMemoryStore(users)

	rm, err := rememberme.NewService(cfg.RememberMe.Secret, cfg.RememberMeValidity(), store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create remember-me service")
	}

	var federated authn.ProviderVerifier
	if cfg.Providers.Federated.Issuer != "" {
		fed, err := providers.NewOIDC(context.Background(),
			cfg.Providers.Federated.Issuer,
			cfg.Providers.Federated.ClientID,
			time.Duration(cfg.Providers.Federated.TimeoutMs)*time.Millisecond)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up federated identity provider")
		}
		federated = fed
		log.Info().Str("issuer", cfg.Providers.Federated.Issuer).Msg("federated identity enabled")
	}
	var oauth authn.ProviderVerifier
	if cfg.Providers.OAuth.Endpoint != "" {
		oauth = providers.NewOAuth(cfg.Providers.OAuth.Endpoint,
			time.Duration(cfg.Providers.OAuth.TimeoutMs)*time.Millisecond)
		log.Info().Str("endpoint", cfg.Providers.OAuth.Endpoint).Msg("oauth provider enabled")
	}

	attempts := rate.NewLimiter(cfg.Auth.LoginRPSMax, time.Duration(cfg.Auth.LoginWindowS)*time.Second)
	chain := authn.NewChain(store, federated, oauth, cfg.SignedWindow(), attempts)

	var cache csrf.Cache
	if cfg.Cache.Backend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr, DB: cfg.Cache.RedisDB})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("redis unreachable")
		}
		cache = csrf.NewRedisCache(client, cfg.Cache.KeyPrefix)
		log.Info().Str("addr", cfg.Cache.RedisAddr).Msg("csrf cache: redis")
	} else {
		cache = csrf.NewMemoryCache()
		log.Info().Msg("csrf cache: in-process memory")
	}
	guard := csrf.NewGuard(cache, cfg.Csrf.Param, cfg.Csrf.Header, cfg.CsrfTTL())

	evaluator := newEvaluator(cfg)
	out := &outcome.Handlers{
		SigninURL:     cfg.Security.Signin,
		SuccessURL:    cfg.Security.SigninSuccess,
		FailureURL:    cfg.Security.SigninFailure,
		DeniedURL:     cfg.Security.AccessDenied,
		ReturnParam:   cfg.Security.ReturnParam,
		APIPathPrefix: "/v1/",
	}

	// The protected API the gateway fronts. Handlers read the resolved
	// Principal from the request context.
	api := http.NewServeMux()
	api.HandleFunc("/v1/whoami", func(w http.ResponseWriter, r *http.Request) {
		p, ok := gateway.PrincipalFromContext(r.Context())
		if !ok {
			httputil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"code": "no_principal"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"id": p.ID, "roles": p.Roles, "scheme": p.Scheme,
		})
	})

	gw := gateway.New(cfg, log.Logger, chain, rm, evaluator, guard, out, api)

	mux := http.NewServeMux()
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"uptime": time.Since(startTime).String(),
		})
	}))
	mux.Handle("/metricsz", promhttp.Handler())
	mux.Handle("/", gw)

	handler := httputil.RequestIDMiddleware(log.Logger)(mux)

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
	}

	go func() {
		log.Info().Str("listen", cfg.Server.Listen).Msg("paragate listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

var startTime = time.Now()

func newEvaluator(cfg *config.Config) *authorize.Evaluator {
	rules := make([]authorize.Rule, 0, len(cfg.Security.Protected))
	for _, r := range cfg.Security.Protected {
		rules = append(rules, authorize.Rule{Patterns: r.Patterns, Roles: r.Roles})
	}
	return authorize.NewEvaluator(rules)
}
