package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/user-report-service/internal/models"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := OpenSQLite(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	require.NoError(t, st.EnsureSchema(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newEvent(projectID int64, message string) models.NewEvent {
	return models.NewEvent{
		ProjectID: projectID,
		EventID:   models.NewEventID(),
		Message:   message,
		Timestamp: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestOpen_SQLiteSchemeAppliesSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "open.db")

	for i := 0; i < 3; i++ {
		st, err := Open(ctx, "sqlite://"+path)
		require.NoError(t, err, "open iteration %d", i)
		require.NoError(t, st.Ping(ctx))
		require.NoError(t, st.Close())
	}
}

func TestOpen_RejectsUnknownScheme(t *testing.T) {
	_, err := Open(context.Background(), "mysql://localhost/db")
	require.Error(t, err)
}

func TestOpenSQLite_ConfiguresWAL(t *testing.T) {
	st := openTestStore(t)

	var mode string
	require.NoError(t, st.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, st.DB().QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestInsertEvent_ResolvesGroupAndEnvironment(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	in := newEvent(1, "boom")
	in.Environment = "production"
	in.Tags = map[string]string{"release": "1.0.0"}

	ev, dup, err := st.InsertEvent(ctx, in)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.NotZero(t, ev.GroupID)
	assert.NotZero(t, ev.EnvironmentID)

	got, err := st.GetEventByID(ctx, 1, in.EventID)
	require.NoError(t, err)
	assert.Equal(t, ev.GroupID, got.GroupID)
	assert.Equal(t, ev.EnvironmentID, got.EnvironmentID)
	assert.Equal(t, "production", got.Environment)
	assert.Equal(t, "boom", got.Message)
	assert.Equal(t, in.Timestamp, got.Timestamp)
	assert.Equal(t, map[string]string{"release": "1.0.0"}, got.Tags)
}

func TestInsertEvent_DuplicateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	in := newEvent(1, "boom")
	first, dup, err := st.InsertEvent(ctx, in)
	require.NoError(t, err)
	require.False(t, dup)

	second, dup, err := st.InsertEvent(ctx, in)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first.ID, second.ID)

	var timesSeen int
	require.NoError(t, st.DB().QueryRow("SELECT times_seen FROM event_groups WHERE id = ?", first.GroupID).Scan(&timesSeen))
	assert.Equal(t, 1, timesSeen, "duplicate must not bump group counters")
}

func TestInsertEvent_GroupsByFingerprint(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	a, _, err := st.InsertEvent(ctx, newEvent(1, "timeout talking to db"))
	require.NoError(t, err)
	b, _, err := st.InsertEvent(ctx, newEvent(1, "timeout talking to db"))
	require.NoError(t, err)
	c, _, err := st.InsertEvent(ctx, newEvent(1, "nil pointer"))
	require.NoError(t, err)
	other, _, err := st.InsertEvent(ctx, newEvent(2, "timeout talking to db"))
	require.NoError(t, err)

	assert.Equal(t, a.GroupID, b.GroupID)
	assert.NotEqual(t, a.GroupID, c.GroupID)
	assert.NotEqual(t, a.GroupID, other.GroupID, "groups are scoped to a project")

	custom := newEvent(1, "completely different message")
	custom.Fingerprint = []string{"timeout talking to db"}
	d, _, err := st.InsertEvent(ctx, custom)
	require.NoError(t, err)
	assert.Equal(t, a.GroupID, d.GroupID)
}

func TestInsertEvent_DefaultEnvironment(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	a, _, err := st.InsertEvent(ctx, newEvent(1, "one"))
	require.NoError(t, err)
	b, _, err := st.InsertEvent(ctx, newEvent(1, "two"))
	require.NoError(t, err)

	assert.Equal(t, models.DefaultEnvironment, a.Environment)
	assert.Equal(t, a.EnvironmentID, b.EnvironmentID)
}

func TestGetEventByID_NotFound(t *testing.T) {
	st := openTestStore(t)

	_, err := st.GetEventByID(context.Background(), 1, models.NewEventID())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveUserReport_EditWindow(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	added := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	report := models.UserReport{
		ProjectID: 1,
		EventID:   models.NewEventID(),
		Name:      "Jane",
		Email:     "jane@example.com",
		Comments:  "it broke",
		DateAdded: added,
	}

	saved, err := st.SaveUserReport(ctx, report, added.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)
	assert.Nil(t, saved.GroupID)
	assert.Nil(t, saved.EnvironmentID)
	assert.Equal(t, added, saved.DateAdded)

	// Within the window the feedback is overwritten in place.
	report.Comments = "it broke twice"
	updated, err := st.SaveUserReport(ctx, report, added.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, saved.ID, updated.ID)
	assert.Equal(t, "it broke twice", updated.Comments)

	// Past the window the existing report is locked.
	_, err = st.SaveUserReport(ctx, report, added.Add(time.Minute))
	require.ErrorIs(t, err, ErrConflict)
}

func TestUpdateUserReport(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	ev, _, err := st.InsertEvent(ctx, newEvent(1, "boom"))
	require.NoError(t, err)

	saved, err := st.SaveUserReport(ctx, models.UserReport{ProjectID: 1, EventID: ev.EventID, Name: "a", Email: "a@b.c", Comments: "x"}, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)

	require.NoError(t, st.UpdateUserReport(ctx, saved.ID, models.UserReportUpdate{GroupID: ev.GroupID, EnvironmentID: ev.EnvironmentID}))

	got, err := st.GetUserReport(ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, got.GroupID)
	require.NotNil(t, got.EnvironmentID)
	assert.Equal(t, ev.GroupID, *got.GroupID)
	assert.Equal(t, ev.EnvironmentID, *got.EnvironmentID)
}

func TestUserReport_NotFound(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	_, err := st.GetUserReport(ctx, 42)
	require.ErrorIs(t, err, ErrNotFound)

	err = st.UpdateUserReport(ctx, 42, models.UserReportUpdate{GroupID: 1, EnvironmentID: 1})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGroupHash(t *testing.T) {
	assert.Equal(t, GroupHash(nil, "boom"), GroupHash([]string{"boom"}, "other"))
	assert.NotEqual(t, GroupHash([]string{"a", "b"}, ""), GroupHash([]string{"ab"}, ""))
	assert.Len(t, GroupHash(nil, "boom"), 32)
}
