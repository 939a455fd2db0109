package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"go-beacon/db"
	"go-beacon/pipeline"
	"go-beacon/processor"
	"go-beacon/types"
)

type incidentRequest struct {
	Type     string         `json:"type" binding:"required"`
	Location types.Location `json:"location" binding:"required"`
}

// CreateIncidentHandler opens an operator-reported incident directly. These
// skip clustering and enter the pipeline already verified.
func CreateIncidentHandler(c *gin.Context, intake *processor.Intake) {
	var req incidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if !types.ValidIncidentType(req.Type) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unknown incident type: " + req.Type,
		})
		return
	}

	inc := &types.Incident{
		Type:     types.IncidentType(req.Type),
		Location: req.Location,
	}
	if err := intake.CreateIncident(c.Request.Context(), inc); err != nil {
		log.Printf("Error creating incident: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to create incident",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":  "Incident accepted for processing",
		"incident": inc,
	})
}

// GetIncidentHandler returns one incident with its current processing state.
func GetIncidentHandler(c *gin.Context, store db.Store) {
	inc, err := store.GetIncident(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Incident not found"})
			return
		}
		log.Printf("Error fetching incident %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to fetch incident",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, inc)
}

// ListOpenIncidentsHandler returns every incident that has not reached a
// terminal state.
func ListOpenIncidentsHandler(c *gin.Context, store db.Store) {
	open, err := store.ListOpenIncidents(c.Request.Context())
	if err != nil {
		log.Printf("Error listing open incidents: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list incidents",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":     len(open),
		"incidents": open,
	})
}

// RequeueIncidentHandler puts a failed incident back through the pipeline.
func RequeueIncidentHandler(c *gin.Context, p *pipeline.Pipeline) {
	id := c.Param("id")
	if err := p.Requeue(c.Request.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Incident not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Cannot requeue incident",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Incident requeued", "id": id})
}
