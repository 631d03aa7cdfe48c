package router

import (
	"lavamon/app/handler"
	"lavamon/app/middleware"

	"github.com/gin-gonic/gin"
)

// Router Router
type Router struct {
	storeHandler  *handler.StoreHandler
	healthHandler *handler.HealthHandler
	apiKey        string
}

// NewRouter creates a new Router
func NewRouter(storeHandler *handler.StoreHandler, healthHandler *handler.HealthHandler, apiKey string) *Router {
	return &Router{
		storeHandler:  storeHandler,
		healthHandler: healthHandler,
		apiKey:        apiKey,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	engine.GET("/healthz", r.healthHandler.Healthz)

	// V1 API - read-only store queries
	v1 := engine.Group("/v1")
	v1.Use(middleware.AuthMiddleware(r.apiKey))
	{
		classes := v1.Group("/stores/:class")
		{
			classes.GET("/tables", r.storeHandler.ListTables)
			classes.GET("/tables/:table", r.storeHandler.GetTable)
		}

		v1.GET("/jobs/:job_id/resource", r.storeHandler.GetJobResource)
	}
}
