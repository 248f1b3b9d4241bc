package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// RouterConfig holds what SetupRoutes wires. RateLimit, Admin and Metrics
// are optional.
type RouterConfig struct {
	Consulta *ConsultaHandler
	Health   *HealthHandler
	// RateLimit guards the question endpoints.
	RateLimit gin.HandlerFunc
	// Admin guards the endpoints that clear state.
	Admin   gin.HandlerFunc
	Metrics gin.HandlerFunc
}

// SetupRoutes registers every route on r. Global middleware is installed
// by the caller.
func SetupRoutes(r *gin.Engine, config *RouterConfig) {
	api := r.Group("/api")
	{
		setupQuestionRoutes(api, config)
		api.GET("/historico", config.Consulta.History)
		api.GET("/schemas", config.Consulta.Schemas)
		api.GET("/schemas/:slug", config.Consulta.Schema)
		setupAdminRoutes(api, config)
	}
	setupSystemRoutes(r, config)
}

func setupQuestionRoutes(rg *gin.RouterGroup, config *RouterConfig) {
	questions := rg.Group("")
	if config.RateLimit != nil {
		questions.Use(config.RateLimit)
	}
	questions.POST("/consulta", config.Consulta.Consulta)
	questions.POST("/consulta-mcp", config.Consulta.ConsultaMCP)
	questions.POST("/consulta-streaming", config.Consulta.ConsultaStreaming)
}

func setupAdminRoutes(rg *gin.RouterGroup, config *RouterConfig) {
	admin := rg.Group("")
	if config.Admin != nil {
		admin.Use(config.Admin)
	}
	admin.POST("/limpar-cache", config.Consulta.ClearCache)
	admin.POST("/limpar-historico", config.Consulta.ClearHistory)
}

func setupSystemRoutes(r *gin.Engine, config *RouterConfig) {
	if config.Health != nil {
		r.GET("/health", config.Health.Health)
		r.GET("/ready", config.Health.Ready)
		r.GET("/version", config.Health.Version)
	}
	if config.Metrics != nil {
		r.GET("/metrics", config.Metrics)
	}
}

func init() {
	binding.EnableDecoderUseNumber = true
}
