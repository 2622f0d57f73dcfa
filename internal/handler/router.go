package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/auth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

type RouterConfig struct {
	AllowedOrigins []string
	JWTSecret      []byte
	APIKey         *auth.APIKeyVerifier
}

func NewRouter(h *Handler, cfg RouterConfig, logger log.Logger) http.Handler {
	if cfg.APIKey == nil {
		cfg.APIKey = &auth.APIKeyVerifier{}
	}

	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", auth.APIKeyHeader},
		ExposedHeaders: []string{requestIDHeader},
	}))

	// Routes
	r.Get("/health", h.Health)
	r.Get("/api/public-config", h.PublicConfig)
	r.Get("/api/sitemap", h.Sitemap)
	r.Get("/api/bguneai", h.AI)

	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalMiddleware(cfg.JWTSecret))
		r.Get("/api/feed", h.Feed)
		r.With(cfg.APIKey.Middleware).Get("/api/v1/feed", h.APIFeed)
	})

	return r
}

// requestID はクライアントの X-Request-ID を引き継ぎ、無ければ UUID v7 を採番する
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			if v7, err := uuid.NewV7(); err == nil {
				id = v7.String()
			} else {
				id = uuid.NewString()
			}
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(logger log.Logger) func(http.Handler) http.Handler {
	helper := log.NewHelper(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			helper.Infow(
				"msg", "http request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"latency", time.Since(start),
			)
		})
	}
}
