package userreports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/PratikDhanave/user-report-service/internal/store"
	"github.com/PratikDhanave/user-report-service/internal/tasks"
)

const (
	// UpdateUserReportTaskName is the stable dispatch name of the reconciliation
	// task. Queued messages refer to it, so it must never change.
	UpdateUserReportTaskName = "sentry.tasks.update_user_report"

	UpdateUserReportQueue      = "update"
	UpdateUserReportRetryDelay = 5 * time.Minute
	UpdateUserReportMaxRetries = 5
)

// errBadPayload marks payloads that no retry can fix.
var errBadPayload = errors.New("invalid payload")

// UpdateUserReportArgs is the task payload. Unknown keys are ignored.
type UpdateUserReportArgs struct {
	UserReportID int64 `json:"user_report_id"`
}

// UpdateUserReportTask returns the task that loads a report by id and reconciles
// it. Every failure is retried except a malformed payload or a deleted report.
func UpdateUserReportTask(rc *Reconciler, reports ReportLoader) tasks.Task {
	handler := func(ctx context.Context, payload json.RawMessage) error {
		var args UpdateUserReportArgs
		if err := json.Unmarshal(payload, &args); err != nil {
			return fmt.Errorf("%w: %v", errBadPayload, err)
		}
		if args.UserReportID <= 0 {
			return fmt.Errorf("%w: user_report_id required", errBadPayload)
		}

		report, err := reports.GetUserReport(ctx, args.UserReportID)
		if err != nil {
			return fmt.Errorf("load user report %d: %w", args.UserReportID, err)
		}
		return rc.Reconcile(ctx, &report)
	}

	return tasks.Task{
		Name:              UpdateUserReportTaskName,
		Queue:             UpdateUserReportQueue,
		DefaultRetryDelay: UpdateUserReportRetryDelay,
		MaxRetries:        UpdateUserReportMaxRetries,
		Handler:           tasks.Retry(handler, tasks.Exclude(errBadPayload, store.ErrNotFound)),
	}
}
