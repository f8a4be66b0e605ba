// Package server is the HTTP surface: gin router setup, CORS, and
// graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"rpcache-proxy/config"
	"rpcache-proxy/internal/breaker"
	"rpcache-proxy/internal/cache"
	"rpcache-proxy/internal/dispatcher"
	"rpcache-proxy/internal/logger"
	"rpcache-proxy/internal/metrics"
	"rpcache-proxy/internal/network"
	"rpcache-proxy/internal/pipeline"
	"rpcache-proxy/internal/queue"
	"rpcache-proxy/internal/stats"
	"rpcache-proxy/internal/upstream"
)

const Version = "0.1.0"

type Server struct {
	Config     *config.Config
	Registry   *network.Registry
	Pipeline   *pipeline.Pipeline
	Dispatcher *dispatcher.Dispatcher
	Metrics    *metrics.Metrics
	Stats      *stats.Counters
	Breakers   *breaker.Registry
	Queues     *queue.Registry
	Client     *upstream.Client
	CacheStore cache.Store
	Logger     logger.Logger

	router     *gin.Engine
	httpServer *http.Server
	startedAt  time.Time
}

func New(cfg *config.Config, reg *network.Registry, p *pipeline.Pipeline, d *dispatcher.Dispatcher, m *metrics.Metrics, s *stats.Counters, br *breaker.Registry, qr *queue.Registry, client *upstream.Client, store cache.Store, log logger.Logger) *Server {
	return &Server{
		Config: cfg, Registry: reg, Pipeline: p, Dispatcher: d,
		Metrics: m, Stats: s, Breakers: br, Queues: qr, Client: client,
		CacheStore: store, Logger: log, router: gin.Default(),
	}
}

// Serve blocks until ctx is cancelled or a shutdown signal arrives: start
// the HTTP server in a goroutine, wait on the cancellation, then shut it
// down cleanly.
func (s *Server) Serve(ctx context.Context) error {
	s.startedAt = time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.handleShutdownSignal(cancel)

	s.configureRouter()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%s", s.Config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.Config.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.Config.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.Config.Server.IdleTimeoutSec) * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Logger.Info("serving rpcache-proxy at http://localhost:" + s.Config.Server.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("server failed to start", logger.Fields{"error": err.Error()})
		}
	}()

	<-ctx.Done()
	s.Logger.Info("shutdown signal received, shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.Logger.Error("error during http server shutdown", logger.Fields{"error": err.Error()})
	}

	if err := s.CacheStore.Close(); err != nil {
		s.Logger.Error("error closing cache store", logger.Fields{"error": err.Error()})
	}
	s.Logger.Cleanup()

	wg.Wait()
	s.Logger.Info("all services shut down cleanly")
	return nil
}

func (s *Server) handleShutdownSignal(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	cancel()
}

func (s *Server) configureRouter() {
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     s.Config.CORS.AllowOrigins,
		AllowMethods:     s.Config.CORS.AllowMethods,
		AllowHeaders:     s.Config.CORS.AllowHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	RegisterRoutes(s.router, s)
}

func (s *Server) uptime() time.Duration {
	return time.Since(s.startedAt)
}

func memoryUsageBytes() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc
}
