package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/user-report-service/internal/auth"
	"github.com/PratikDhanave/user-report-service/internal/models"
)

// EventWriter persists ingested events.
type EventWriter interface {
	InsertEvent(ctx context.Context, ev models.NewEvent) (models.Event, bool, error)
}

// parseRFC3339 parses an RFC3339 timestamp and normalizes it to UTC.
func parseRFC3339(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// RegisterEventRoutes registers the ingestion-path endpoint.
//
// POST /events
// - Requires X-API-Key (project context)
// - Durable: returns success only after DB write completes
// - Idempotent: duplicates detected via (project_id, event_id) uniqueness
func RegisterEventRoutes(r gin.IRoutes, st EventWriter) {
	r.POST("/events", func(c *gin.Context) {
		projectID := auth.ProjectID(c)
		if projectID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req models.EventIngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}

		if strings.TrimSpace(req.Message) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message required"})
			return
		}
		if req.Timestamp == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timestamp required"})
			return
		}

		ts, err := parseRFC3339(req.Timestamp)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timestamp must be RFC3339"})
			return
		}

		// Idempotency precedence:
		// 1) Idempotency-Key header
		// 2) event_id in payload
		// 3) generated id (cannot dedupe client retries)
		eventID := c.GetHeader("Idempotency-Key")
		if eventID == "" {
			eventID = req.EventID
		}
		if eventID == "" {
			eventID = models.NewEventID()
		}
		eventID, err = models.NormalizeEventID(eventID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ev, dup, err := st.InsertEvent(c.Request.Context(), models.NewEvent{
			ProjectID:   projectID,
			EventID:     eventID,
			Message:     req.Message,
			Environment: strings.TrimSpace(req.Environment),
			Fingerprint: req.Fingerprint,
			Timestamp:   ts,
			Tags:        req.Tags,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db insert failed"})
			return
		}

		// 201 for new events, 200 for duplicates (idempotent success).
		status := http.StatusCreated
		if dup {
			status = http.StatusOK
		}

		c.JSON(status, models.EventIngestResponse{
			EventID:       ev.EventID,
			GroupID:       ev.GroupID,
			EnvironmentID: ev.EnvironmentID,
			Duplicate:     dup,
		})
	})
}
