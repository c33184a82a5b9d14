package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PratikDhanave/user-report-service/internal/models"
)

var (
	// ErrNotFound is returned when the requested event or report does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a user report already exists for the event and
	// can no longer be edited.
	ErrConflict = errors.New("user report already exists")
)

// Store is the durable persistence layer for events and user reports.
type Store interface {
	Ping(ctx context.Context) error
	Close() error
	EnsureSchema(ctx context.Context) error

	// InsertEvent persists an event and returns duplicate=true when
	// (project_id, event_id) already existed. Group and environment are resolved
	// only for new events.
	InsertEvent(ctx context.Context, ev models.NewEvent) (models.Event, bool, error)
	GetEventByID(ctx context.Context, projectID int64, eventID string) (models.Event, error)

	// SaveUserReport inserts a report, or overwrites the feedback fields of an
	// existing report for the same event if it was added after editableSince.
	SaveUserReport(ctx context.Context, r models.UserReport, editableSince time.Time) (models.UserReport, error)
	GetUserReport(ctx context.Context, id int64) (models.UserReport, error)
	UpdateUserReport(ctx context.Context, id int64, u models.UserReportUpdate) error
}

// Open picks the implementation from the URL scheme and applies the schema.
//
//	postgres://... or postgresql://...  PostgreSQL via pgx
//	sqlite://<path>                     SQLite file (":memory:" is not supported)
func Open(ctx context.Context, dbURL string) (Store, error) {
	var (
		st  Store
		err error
	)
	switch {
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		st, err = NewPostgresStore(ctx, dbURL)
	case strings.HasPrefix(dbURL, "sqlite://"):
		st, err = OpenSQLite(strings.TrimPrefix(dbURL, "sqlite://"))
	default:
		return nil, fmt.Errorf("unsupported DB_URL scheme: %q", dbURL)
	}
	if err != nil {
		return nil, err
	}

	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return st, nil
}
