package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"go-beacon/resources"
)

// GetResourcesHandler reports current capacity and allocations per kind.
func GetResourcesHandler(c *gin.Context, coordinator *resources.Coordinator) {
	c.JSON(http.StatusOK, gin.H{
		"resources":   coordinator.Snapshot(),
		"allocations": coordinator.Records(),
	})
}
