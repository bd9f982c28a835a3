package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/chi-demo/middleware"

	"github.com/tendant/content-odata/pkg/contentrepo/config"
	"github.com/tendant/content-odata/pkg/contentrepo/odata"
)

type Config struct {
	EnvPrefix    string        `env:"CONTENT_ENV_PREFIX" env-default:""`
	ApiKeySHA256 string        `env:"API_KEY_SHA256" env-default:""`
	BinaryRoot   string        `env:"BINARY_ROOT" env-default:"/binaryhandler"`
	MetricsPath  string        `env:"METRICS_PATH" env-default:"/metrics"`
	FilterCache  int           `env:"FILTER_CACHE_SIZE" env-default:"256"`
	MaxBodySize  int64         `env:"MAX_BODY_SIZE" env-default:"67108864"`
	Timeout      time.Duration `env:"REQUEST_TIMEOUT" env-default:"60s"`
	JWT          JWTConfig
	CORS         CORSConfig
}

type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" env-separator:","`
	MaxAge         int      `env:"CORS_MAX_AGE" env-default:"300"`
}

type JWTConfig struct {
	Secret    string `env:"JWT_SECRET" env-default:""`
	UserClaim string `env:"JWT_USER_CLAIM" env-default:"user_id"`
	Required  bool   `env:"JWT_REQUIRED" env-default:"false"`
}

func main() {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("Failed to read configuration", "err", err)
		os.Exit(1)
	}

	serverConfig, err := config.Load(config.WithEnv(cfg.EnvPrefix))
	if err != nil {
		slog.Error("Failed to load repository configuration", "err", err)
		os.Exit(1)
	}
	svc, err := serverConfig.BuildService()
	if err != nil {
		slog.Error("Failed to build content repository", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := odata.NewMetrics(reg)
	if err != nil {
		slog.Error("Failed to register metrics", "err", err)
		os.Exit(1)
	}

	handler, err := odata.New(svc,
		odata.WithServiceRoot(serverConfig.ServiceRoot),
		odata.WithBinaryRoot(cfg.BinaryRoot),
		odata.WithFilterCacheSize(cfg.FilterCache),
		odata.WithMetrics(metrics),
		odata.WithMaxBodySize(cfg.MaxBodySize),
	)
	if err != nil {
		slog.Error("Failed to create OData handler", "err", err)
		os.Exit(1)
	}

	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)
	server.R.Handle(cfg.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	var apiKeyMiddleware func(next http.Handler) http.Handler
	if cfg.ApiKeySHA256 != "" {
		apiKeyMiddleware, err = middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
			APIKeys: map[string]string{
				"key1": cfg.ApiKeySHA256,
			},
		})
		if err != nil {
			slog.Error("Failed initialize API Key middleware", "err", err)
			os.Exit(1)
		}
	}

	server.R.Group(func(r chi.Router) {
		r.Use(chimw.RequestID, chimw.Recoverer)
		if len(cfg.CORS.AllowedOrigins) > 0 {
			r.Use(odata.CORS(odata.CORSConfig{
				AllowedOrigins: cfg.CORS.AllowedOrigins,
				MaxAge:         cfg.CORS.MaxAge,
			}))
		}
		if cfg.Timeout > 0 {
			r.Use(chimw.Timeout(cfg.Timeout))
		}
		if apiKeyMiddleware != nil {
			r.Use(apiKeyMiddleware)
		}
		if cfg.JWT.Secret != "" {
			ja := jwtauth.New("HS256", []byte(cfg.JWT.Secret), nil)
			r.Use(jwtauth.Verifier(ja))
			if cfg.JWT.Required {
				r.Use(jwtauth.Authenticator)
			}
			r.Use(odata.JWTUser(cfg.JWT.UserClaim))
		}
		r.Mount(serverConfig.ServiceRoot, handler.Routes())
		r.Mount(cfg.BinaryRoot, handler.BinaryRoutes())
	})

	slog.Info("Content repository ready",
		"serviceRoot", serverConfig.ServiceRoot,
		"binaryRoot", cfg.BinaryRoot,
		"database", serverConfig.DatabaseType,
		"storage", serverConfig.DefaultStorageBackend,
		"auth", cfg.JWT.Secret != "",
	)

	server.Run()
}
