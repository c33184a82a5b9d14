package models

import "time"

// UserReport is user feedback attached to an event. GroupID and EnvironmentID stay
// nil until the report is reconciled with its event.
type UserReport struct {
	ID            int64     `json:"id"`
	ProjectID     int64     `json:"project_id"`
	EventID       string    `json:"event_id"`
	GroupID       *int64    `json:"group_id"`
	EnvironmentID *int64    `json:"environment_id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Comments      string    `json:"comments"`
	DateAdded     time.Time `json:"date_added"`
}

// Reconciled reports whether the report already points at a group.
func (r UserReport) Reconciled() bool {
	return r.GroupID != nil
}

// UserReportUpdate carries the fields copied from an event onto a report.
type UserReportUpdate struct {
	GroupID       int64
	EnvironmentID int64
}

// Apply mirrors an update that was persisted onto the in-memory report.
func (r *UserReport) Apply(u UserReportUpdate) {
	groupID, envID := u.GroupID, u.EnvironmentID
	r.GroupID = &groupID
	r.EnvironmentID = &envID
}

// UserReportRequest is the POST /user-reports payload.
type UserReportRequest struct {
	EventID  string `json:"event_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Comments string `json:"comments"`
}
