package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/courierlink/courier/internal/api"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server manages the HTTP server lifecycle for the relay daemon.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer builds the gin engine, mounts the API under /api/v1 and wraps
// it in an http.Server bound to addr.
func NewServer(addr string, a *api.API, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLog(logger))
	engine.Use(cors.New(cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Accept"},
		AllowOrigins:     []string{"*"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	a.Register(engine.Group("/api/v1"))

	return &Server{
		srv:    &http.Server{Addr: addr, Handler: engine},
		logger: logger,
	}
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown. Open event streams are closed as
// their request contexts cancel.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("shutdown error", zap.Error(err))
	}
}

func requestLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
