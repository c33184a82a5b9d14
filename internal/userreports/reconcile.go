// Package userreports attaches user feedback to the events it describes.
//
// A report is submitted with a project and an event id. Once the event is visible
// in the event store, the report is reconciled: it takes the event's group and
// environment. Reports whose event is not visible yet are reconciled later by the
// sentry.tasks.update_user_report task, which retries until the event shows up.
package userreports

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/PratikDhanave/user-report-service/internal/models"
	"github.com/PratikDhanave/user-report-service/internal/store"
)

// ErrEventNotFound is returned when the event a report refers to does not exist
// (yet). Callers are expected to retry.
var ErrEventNotFound = errors.New("event not found")

// EventStore resolves events. Absence is reported as store.ErrNotFound.
type EventStore interface {
	GetEventByID(ctx context.Context, projectID int64, eventID string) (models.Event, error)
}

// ReportStore persists reconciled fields onto user reports.
type ReportStore interface {
	UpdateUserReport(ctx context.Context, id int64, u models.UserReportUpdate) error
}

// ReportLoader reads user reports by id.
type ReportLoader interface {
	GetUserReport(ctx context.Context, id int64) (models.UserReport, error)
}

// Reconciler copies an event's group and environment onto its user report.
type Reconciler struct {
	events  EventStore
	reports ReportStore
	logger  *zap.Logger
}

func NewReconciler(events EventStore, reports ReportStore, logger *zap.Logger) *Reconciler {
	return &Reconciler{events: events, reports: reports, logger: logger}
}

// Reconcile persists the group and environment of the report's event onto the
// report and mirrors them on r. When the event does not exist the returned error
// wraps ErrEventNotFound and r is left untouched.
func (rc *Reconciler) Reconcile(ctx context.Context, r *models.UserReport) error {
	event, err := rc.events.GetEventByID(ctx, r.ProjectID, r.EventID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: project=%d event_id=%s", ErrEventNotFound, r.ProjectID, r.EventID)
	}
	if err != nil {
		return fmt.Errorf("get event %s: %w", r.EventID, err)
	}

	u := models.UserReportUpdate{GroupID: event.GroupID, EnvironmentID: event.EnvironmentID}
	if err := rc.reports.UpdateUserReport(ctx, r.ID, u); err != nil {
		return fmt.Errorf("update user report %d: %w", r.ID, err)
	}
	r.Apply(u)

	rc.logger.Debug("user report reconciled",
		zap.Int64("user_report_id", r.ID),
		zap.Int64("project_id", r.ProjectID),
		zap.String("event_id", r.EventID),
		zap.Int64("group_id", event.GroupID),
		zap.Int64("environment_id", event.EnvironmentID),
	)
	return nil
}
