package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"go-beacon/processor"
	"go-beacon/types"
)

type sosRequest struct {
	Text     string         `json:"text" binding:"required"`
	Location types.Location `json:"location" binding:"required"`
	Source   string         `json:"source"`
}

// ReportSOSHandler accepts a raw distress report. The report is analyzed and
// clustered synchronously; incident processing continues in the background.
func ReportSOSHandler(c *gin.Context, intake *processor.Intake) {
	var req sosRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if req.Source == "" {
		req.Source = "manual"
	}

	res, err := intake.ProcessReport(c.Request.Context(), req.Text, req.Location, req.Source)
	if err != nil {
		log.Printf("Error processing SOS report: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to process report",
			"details": err.Error(),
		})
		return
	}

	if res.Discarded {
		c.JSON(http.StatusOK, gin.H{
			"message": "Report does not look like a distress signal",
			"result":  res,
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Report accepted",
		"result":  res,
	})
}
