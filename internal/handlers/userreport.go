package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/user-report-service/internal/auth"
	"github.com/PratikDhanave/user-report-service/internal/models"
	"github.com/PratikDhanave/user-report-service/internal/store"
)

// ReportSubmitter saves a report and reconciles it now or later.
type ReportSubmitter interface {
	Submit(ctx context.Context, r models.UserReport) (models.UserReport, bool, error)
}

// ReportReader loads reports by id.
type ReportReader interface {
	GetUserReport(ctx context.Context, id int64) (models.UserReport, error)
}

// RegisterUserReportRoutes registers the feedback endpoints.
//
// POST /user-reports
// - Requires X-API-Key (project context)
// - 201 for a new report, 200 when a report inside its edit window is overwritten
// - 409 when a report for the event exists and is past its edit window
//
// GET /user-reports/:id
// - 404 for reports of other projects
func RegisterUserReportRoutes(r gin.IRoutes, svc ReportSubmitter, reports ReportReader) {
	r.POST("/user-reports", func(c *gin.Context) {
		projectID := auth.ProjectID(c)
		if projectID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req models.UserReportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}

		eventID, err := models.NormalizeEventID(req.EventID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		name := strings.TrimSpace(req.Name)
		email := strings.TrimSpace(req.Email)
		if name == "" || email == "" || strings.TrimSpace(req.Comments) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name, email, comments are required"})
			return
		}
		if !strings.Contains(email, "@") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email is invalid"})
			return
		}

		report, created, err := svc.Submit(c.Request.Context(), models.UserReport{
			ProjectID: projectID,
			EventID:   eventID,
			Name:      name,
			Email:     email,
			Comments:  req.Comments,
		})
		if errors.Is(err, store.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "an event with this id already has a user report"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "saving user report failed"})
			return
		}

		status := http.StatusCreated
		if !created {
			status = http.StatusOK
		}
		c.JSON(status, report)
	})

	r.GET("/user-reports/:id", func(c *gin.Context) {
		projectID := auth.ProjectID(c)
		if projectID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
			return
		}

		report, err := reports.GetUserReport(c.Request.Context(), id)
		if errors.Is(err, store.ErrNotFound) || (err == nil && report.ProjectID != projectID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user report not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}

		c.JSON(http.StatusOK, report)
	})
}
