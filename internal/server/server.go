package server

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sendrec/lessonstream/internal/auth"
	"github.com/sendrec/lessonstream/internal/database"
	"github.com/sendrec/lessonstream/internal/docs"
	"github.com/sendrec/lessonstream/internal/lesson"
	"github.com/sendrec/lessonstream/internal/metrics"
	"github.com/sendrec/lessonstream/internal/ratelimit"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	DB              database.DBTX
	Pinger          Pinger
	Lesson          lesson.Deps
	LessonConfig    lesson.Config
	JWTSecret       string
	Metrics         *metrics.Metrics
	AllowedOrigins  []string
	BaseURL         string
	StorageEndpoint string
	EnableDocs      bool
	Version         string
}

type Server struct {
	router        chi.Router
	pinger        Pinger
	metrics       *metrics.Metrics
	jwtSecret     string
	docs          *docs.Reference
	lessonHandler *lesson.Handler
}

func New(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}

	r := chi.NewRouter()
	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)
	r.Use(securityHeaders(SecurityConfig{
		BaseURL:         cfg.BaseURL,
		StorageEndpoint: cfg.StorageEndpoint,
	}))
	r.Use(corsHeaders(cfg.AllowedOrigins))

	s := &Server{router: r, pinger: cfg.Pinger, metrics: m, jwtSecret: cfg.JWTSecret}

	if cfg.EnableDocs {
		ref, err := docs.New(docs.Options{Version: cfg.Version, BaseURL: cfg.BaseURL})
		if err != nil {
			log.Fatalf("build API docs: %v", err)
		}
		s.docs = ref
	}

	if cfg.DB != nil {
		if cfg.JWTSecret == "" {
			log.Fatal("JWT_SECRET is required; set the environment variable")
		}
		deps := cfg.Lesson
		deps.Metrics = m
		lessonCfg := cfg.LessonConfig
		if lessonCfg.VideoSessionSecret == "" {
			lessonCfg.VideoSessionSecret = cfg.JWTSecret
		}
		s.lessonHandler = lesson.NewHandler(cfg.DB, deps, lessonCfg)
	}

	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	if s.docs != nil {
		s.router.Get(docs.PagePath, s.docs.ServePage)
		s.router.Get(docs.SpecPath, s.docs.ServeSpec)
	}

	if s.lessonHandler == nil {
		return
	}
	h := s.lessonHandler
	requireAuth := auth.Middleware(s.jwtSecret)

	otpLimiter := ratelimit.NewLimiter(0.5, 5)
	otpLimiter.OnReject = s.countRejected("otp")
	s.router.Group(func(r chi.Router) {
		r.Use(otpLimiter.Middleware)
		r.Use(requireAuth)
		r.Post("/api/otp", h.OTP)
	})

	telemetryLimiter := ratelimit.NewLimiter(5, 20)
	telemetryLimiter.OnReject = s.countRejected("telemetry")
	s.router.Group(func(r chi.Router) {
		r.Use(telemetryLimiter.Middleware)
		r.Use(requireAuth)
		r.Get("/api/progress", h.GetProgress)
		r.Post("/api/progress", h.PostProgress)
		r.Post("/api/heartbeat", h.Heartbeat)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/api/signed-url", h.SignedURL)
		r.Post("/api/duration", h.PostDuration)
	})
}

func (s *Server) countRejected(route string) func(*http.Request) {
	return func(*http.Request) {
		s.metrics.RateLimited.WithLabelValues(route).Inc()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
