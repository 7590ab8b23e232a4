package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"DrawSight/internal/auth"
	"DrawSight/internal/config"
	"DrawSight/internal/draws"
	"DrawSight/internal/job"
	"DrawSight/internal/observability/metrics"
	"DrawSight/internal/schedule"
	"DrawSight/pkg/logger"
	"DrawSight/pkg/plugin"
)

// Deps 汇集 API 依赖的组件。Scheduler、Metrics 与 Auth 可以为空。
type Deps struct {
	Auth      *auth.Service
	Manager   *plugin.Manager
	Predictor *job.Predictor
	Jobs      *job.Service
	Draws     draws.Store
	Scheduler *schedule.Scheduler
	Metrics   *metrics.Metrics
}

// Server 负责暴露 REST 接口。
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	router *chi.Mux
	logger *slog.Logger
}

// NewServer 构造 API 服务实例并注册路由。
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: chi.NewRouter(),
		logger: logger.Named("api"),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loggingMiddleware)
	if deps.Metrics != nil {
		s.router.Use(deps.Metrics.Instrument)
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", auth.HeaderAPIKey, "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:         300,
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler())
	}

	read := s.guard(auth.PermissionRead)
	predict := s.guard(auth.PermissionPredict)
	manage := s.guard(auth.PermissionManage)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.With(read).Get("/stats", s.handleStats)
		r.With(read).Get("/executions", s.handleActiveExecutions)

		r.Route("/plugins", func(r chi.Router) {
			r.With(read).Get("/", s.handleListPlugins)
			r.Route("/{id}", func(r chi.Router) {
				r.With(read).Get("/", s.handleGetPlugin)
				r.With(read).Get("/schema", s.handlePluginSchema)
				r.Group(func(r chi.Router) {
					r.Use(manage)
					r.Post("/load", s.handleLoadPlugin)
					r.Post("/unload", s.handleUnloadPlugin)
					r.Post("/reset", s.handleResetPlugin)
					r.Post("/pause", s.handlePausePlugin)
					r.Post("/resume", s.handleResumePlugin)
					r.Delete("/cache", s.handleInvalidateCache)
				})
			})
		})

		r.With(predict).Post("/predictions", s.handlePredict)

		r.Route("/jobs", func(r chi.Router) {
			r.With(predict).Post("/", s.handleSubmitJob)
			r.With(read).Get("/", s.handleListJobs)
			r.With(read).Get("/stats", s.handleJobStats)
			r.With(read).Get("/{id}", s.handleGetJob)
		})

		r.Route("/draws", func(r chi.Router) {
			r.Use(read)
			r.Get("/", s.handleLotteryTypes)
			r.Get("/{lotteryType}/stats", s.handleDrawStats)
			r.Get("/{lotteryType}/latest", s.handleLatestDraw)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.With(read).Get("/", s.handleListSchedules)
			r.With(predict).Post("/{name}/run", s.handleRunSchedule)
		})
	})
}

// guard 返回要求指定权限的中间件。未启用认证时直接放行。
func (s *Server) guard(permission string) func(http.Handler) http.Handler {
	return s.deps.Auth.Middleware(auth.MiddlewareConfig{
		Permissions: []string{permission},
		OnError:     writeError,
	})
}

// Handler 返回路由，便于测试与嵌入。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	readHeader := time.Duration(s.cfg.ReadHeaderTimeoutSeconds) * time.Second
	if readHeader <= 0 {
		readHeader = 5 * time.Second
	}
	shutdownTimeout := time.Duration(s.cfg.ShutdownTimeoutSeconds) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	server := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           withContext(ctx, s.router),
		ReadHeaderTimeout: readHeader,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API 服务开始监听", slog.String("addr", s.cfg.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: errorDetail{Code: "SHUTTING_DOWN", Message: "服务已关闭"}})
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"loaded_plugins": len(s.deps.Manager.Loaded()),
	})
}
