package routes

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"go-beacon/db"
	"go-beacon/handlers"
	"go-beacon/pipeline"
	"go-beacon/processor"
	"go-beacon/resources"
)

func SetupRouter(store db.Store, intake *processor.Intake, p *pipeline.Pipeline, coordinator *resources.Coordinator, clientURL string) *gin.Engine {
	r := gin.Default()

	origins := []string{"http://localhost:3000", "http://localhost:5173"}
	if clientURL != "" {
		origins = append(origins, clientURL)
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "Hello, welcome to Go Beacon!",
		})
	})
	r.GET("/health", handlers.HealthHandler)

	// Inject dependencies into handlers
	api := r.Group("/api/beacon")
	{
		api.POST("/sos", func(c *gin.Context) {
			handlers.ReportSOSHandler(c, intake)
		})
		api.POST("/incidents", func(c *gin.Context) {
			handlers.CreateIncidentHandler(c, intake)
		})
		api.GET("/incidents", func(c *gin.Context) {
			handlers.ListOpenIncidentsHandler(c, store)
		})
		api.GET("/incidents/:id", func(c *gin.Context) {
			handlers.GetIncidentHandler(c, store)
		})
		api.POST("/incidents/:id/requeue", func(c *gin.Context) {
			handlers.RequeueIncidentHandler(c, p)
		})
		api.GET("/resources", func(c *gin.Context) {
			handlers.GetResourcesHandler(c, coordinator)
		})
	}

	return r
}
