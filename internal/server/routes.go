package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes wires the proxy's HTTP surface onto router.
func RegisterRoutes(router *gin.Engine, s *Server) {
	router.POST("/", s.handleRPC(""))
	router.POST("/:network", s.handleNamedRPC)

	router.GET("/health", s.handleHealth)
	router.GET("/stats", s.handleStats)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{})))
	router.POST("/cache/clear", s.handleCacheClear)
}
