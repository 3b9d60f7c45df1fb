package app

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/glbridge/internal/observability"
	"github.com/odyssey-erp/glbridge/internal/platform/httpx"
)

// APIKeyHeader carries the shared key spreadsheet clients send.
const APIKeyHeader = "X-API-Key"

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the glbridge middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 300 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	rate := 600
	if cfg.Config != nil && cfg.Config.AppRateLimit > 0 {
		rate = cfg.Config.AppRateLimit
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(rate, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, func(next http.Handler) http.Handler {
			return cfg.Metrics.Middleware(next)
		})
	}
	if cfg.Config != nil && cfg.Config.APIKeyHash != "" {
		middlewares = append(middlewares, APIKey(cfg.Config.APIKeyHash, logger, "/health", "/metrics"))
	}
	return middlewares
}

// APIKey rejects requests whose X-API-Key does not match the bcrypt hash.
// Verified keys are remembered by digest so bcrypt runs once per key.
func APIKey(hash string, logger *slog.Logger, public ...string) func(http.Handler) http.Handler {
	open := make(map[string]struct{}, len(public))
	for _, p := range public {
		open[p] = struct{}{}
	}
	var verified sync.Map
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := open[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				httpx.Problem(w, http.StatusUnauthorized, "Missing API Key", "send the key in the "+APIKeyHeader+" header")
				return
			}
			sum := sha256.Sum256([]byte(key))
			digest := hex.EncodeToString(sum[:])
			if _, ok := verified.Load(digest); !ok {
				if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
					logger.Warn("api key rejected", slog.String("path", r.URL.Path), slog.String("remote", r.RemoteAddr))
					httpx.Problem(w, http.StatusUnauthorized, "Invalid API Key", "")
					return
				}
				verified.Store(digest, struct{}{})
			}
			next.ServeHTTP(w, r)
		})
	}
}
