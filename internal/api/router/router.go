package router

import (
	"github.com/cuongbtq/refminer-intake/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures the admin API router
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger, "/health", "/ready"))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)

	projectHandler := handler.NewProjectHandler(deps)

	v1 := r.Group("/api/v1")
	{
		projects := v1.Group("/projects")
		{
			// GET /api/v1/projects - List dedup records
			projects.GET("", projectHandler.ListProjects)

			// GET /api/v1/projects/lookup?git_url= - Check one repository
			projects.GET("/lookup", projectHandler.LookupProject)
		}
	}

	return r
}
