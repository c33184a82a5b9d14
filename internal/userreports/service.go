package userreports

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/PratikDhanave/user-report-service/internal/models"
	"github.com/PratikDhanave/user-report-service/internal/tasks"
)

// EditWindow is how long after submission a report may be overwritten by a new
// submission for the same event.
const EditWindow = 5 * time.Minute

// Saver persists submitted reports.
type Saver interface {
	SaveUserReport(ctx context.Context, r models.UserReport, editableSince time.Time) (models.UserReport, error)
}

// Dispatcher schedules a registered task.
type Dispatcher interface {
	Delay(ctx context.Context, name string, args any) (tasks.Message, error)
}

// Service handles report submission.
type Service struct {
	saver      Saver
	reconciler *Reconciler
	dispatcher Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(saver Saver, reconciler *Reconciler, dispatcher Dispatcher, logger *zap.Logger) *Service {
	return &Service{
		saver:      saver,
		reconciler: reconciler,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// Submit saves r and reconciles it right away when its event is already stored.
// Otherwise the update task is dispatched and the unreconciled report is
// returned. created is false when an existing report inside its edit window was
// overwritten.
func (s *Service) Submit(ctx context.Context, r models.UserReport) (models.UserReport, bool, error) {
	// Postgres keeps microseconds; the overwrite check below compares against it.
	now := s.now().UTC().Truncate(time.Microsecond)
	r.DateAdded = now

	saved, err := s.saver.SaveUserReport(ctx, r, now.Add(-EditWindow))
	if err != nil {
		return models.UserReport{}, false, err
	}
	// An overwrite keeps the original date_added.
	created := saved.DateAdded.Equal(now)

	err = s.reconciler.Reconcile(ctx, &saved)
	if err == nil {
		return saved, created, nil
	}

	s.logger.Info("user report not reconciled, deferring",
		zap.Int64("user_report_id", saved.ID),
		zap.String("event_id", saved.EventID),
		zap.Error(err),
	)
	// The report is already committed, so the task must be queued even if the
	// caller has gone away.
	msg, err := s.dispatcher.Delay(context.WithoutCancel(ctx), UpdateUserReportTaskName, UpdateUserReportArgs{UserReportID: saved.ID})
	if err != nil {
		return models.UserReport{}, false, fmt.Errorf("dispatch %s: %w", UpdateUserReportTaskName, err)
	}
	s.logger.Debug("dispatched task",
		zap.String("task", msg.Task),
		zap.String("task_id", msg.ID),
	)
	return saved, created, nil
}
