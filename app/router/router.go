package router

import (
	"yarrow/app/handler"
	"yarrow/app/middleware"
	"yarrow/pkg/constants"

	"github.com/gin-gonic/gin"
)

// Router Router
type Router struct {
	indexHandler *handler.IndexHandler
}

// NewRouter creates a new Router
func NewRouter(indexHandler *handler.IndexHandler) *Router {
	return &Router{
		indexHandler: indexHandler,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	// Routing is by path alone; every method is served
	engine.Any(constants.IndexPathNextID, r.indexHandler.NextID)
	engine.Any(constants.IndexPathTerminate, r.indexHandler.Terminate)

	// Any other path identifies the service
	engine.NoRoute(r.indexHandler.Identify)
	engine.NoMethod(r.indexHandler.Identify)
}
