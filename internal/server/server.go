package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termhost/internal/api/middleware"
	resthttp "github.com/GriffinCanCode/termhost/internal/http"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/termhost/internal/logging"
	"github.com/GriffinCanCode/termhost/internal/term/host"
	"github.com/GriffinCanCode/termhost/internal/term/session"
	"github.com/GriffinCanCode/termhost/internal/ws"
)

// Server wraps the HTTP server and its dependencies
type Server struct {
	router  *gin.Engine
	manager *session.Manager
	metrics *monitoring.Metrics
	log     *logging.Logger
	cfg     *config.Config
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, log *logging.Logger) (*Server, error) {
	metrics := monitoring.NewMetrics()

	ptyHost := &host.PTY{
		WorkingDir: cfg.Terminal.WorkingDir,
	}
	manager := session.NewManager(ptyHost, log).
		WithMetrics(metrics).
		WithDefaults(session.Options{
			Shell:      cfg.Terminal.Shell,
			WorkingDir: cfg.Terminal.WorkingDir,
			Cols:       cfg.Terminal.Cols,
			Rows:       cfg.Terminal.Rows,
		})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	tracer := tracing.New("termhost", log.Logger)

	corsCfg := middleware.DefaultCORSConfig()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(corsCfg))
	router.Use(tracing.Middleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := resthttp.NewHandlers(manager, metrics)
	wsHandler := ws.NewHandler(manager, metrics, log, corsCfg.AllowOrigins)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/stats", handlers.Stats)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Session management
	router.POST("/sessions", handlers.CreateSession)
	router.GET("/sessions", handlers.ListSessions)
	router.GET("/sessions/:id", handlers.GetSession)
	router.POST("/sessions/:id/execute", handlers.Execute)
	router.POST("/sessions/:id/interrupt", handlers.Interrupt)
	router.POST("/sessions/:id/resize", handlers.Resize)
	router.DELETE("/sessions/:id", handlers.CloseSession)

	// WebSocket display attachment
	router.GET("/sessions/:id/attach", wsHandler.Attach)

	return &Server{
		router:  router,
		manager: manager,
		metrics: metrics,
		log:     log,
		cfg:     cfg,
	}, nil
}

// Run starts the server
func (s *Server) Run() error {
	addr := s.cfg.Server.Host + ":" + s.cfg.Server.Port
	s.log.Info("starting terminal host", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close cleans up resources
func (s *Server) Close() error {
	s.log.Info("closing sessions", zap.Int("count", s.manager.Count()))
	s.manager.CloseAll()
	return nil
}
