package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/PratikDhanave/user-report-service/internal/models"
)

//go:embed schema_sqlite.sql
var sqliteSchemaSQL string

// SQLiteStore is the SQLite implementation of Store, used for local development
// and tests. It uses WAL mode with a single writer connection.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite creates or opens a SQLite database at path and applies the pragmas
// the store relies on. The schema is applied by EnsureSchema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" || path == ":memory:" {
		return nil, errors.New("sqlite path required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying sql.DB for direct queries.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchemaSQL)
	return err
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) InsertEvent(ctx context.Context, ev models.NewEvent) (models.Event, bool, error) {
	if ev.ProjectID == 0 || ev.EventID == "" {
		return models.Event{}, false, errors.New("projectID/eventID required")
	}

	tags, err := marshalTags(ev.Tags)
	if err != nil {
		return models.Event{}, false, err
	}
	ts := ev.Timestamp.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Event{}, false, fmt.Errorf("begin insert event tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The single writer connection serializes this transaction, so the existence
	// check cannot race with another insert.
	existing, err := getEventSQLite(ctx, tx, ev.ProjectID, ev.EventID)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.Event{}, false, err
	}

	var envID int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO environments (project_id, name)
		VALUES (?, ?)
		ON CONFLICT (project_id, name) DO UPDATE SET name = excluded.name
		RETURNING id
	`, ev.ProjectID, ev.Environment).Scan(&envID); err != nil {
		return models.Event{}, false, fmt.Errorf("resolve environment: %w", err)
	}

	var groupID int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO event_groups (project_id, hash, message, first_seen, last_seen, times_seen)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT (project_id, hash) DO UPDATE
		SET last_seen = MAX(event_groups.last_seen, excluded.last_seen),
		    times_seen = event_groups.times_seen + 1
		RETURNING id
	`, ev.ProjectID, GroupHash(ev.Fingerprint, ev.Message), ev.Message, ts, ts).Scan(&groupID); err != nil {
		return models.Event{}, false, fmt.Errorf("resolve group: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (project_id, event_id, group_id, environment_id, message, ts, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.ProjectID, ev.EventID, groupID, envID, ev.Message, ts, string(tags))
	if err != nil {
		return models.Event{}, false, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Event{}, false, fmt.Errorf("insert event id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Event{}, false, fmt.Errorf("commit insert event: %w", err)
	}

	return models.Event{
		ID:            id,
		ProjectID:     ev.ProjectID,
		EventID:       ev.EventID,
		GroupID:       groupID,
		EnvironmentID: envID,
		Environment:   ev.Environment,
		Message:       ev.Message,
		Timestamp:     ts,
		Tags:          ev.Tags,
	}, false, nil
}

func (s *SQLiteStore) GetEventByID(ctx context.Context, projectID int64, eventID string) (models.Event, error) {
	return getEventSQLite(ctx, s.db, projectID, eventID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getEventSQLite(ctx context.Context, q queryRower, projectID int64, eventID string) (models.Event, error) {
	var (
		ev   models.Event
		tags []byte
	)
	err := q.QueryRowContext(ctx, `
		SELECT e.id, e.project_id, e.event_id, e.group_id, e.environment_id, env.name,
		       e.message, e.ts, e.tags
		FROM events e
		JOIN environments env ON env.id = e.environment_id
		WHERE e.project_id = ? AND e.event_id = ?
	`, projectID, eventID).Scan(
		&ev.ID, &ev.ProjectID, &ev.EventID, &ev.GroupID, &ev.EnvironmentID, &ev.Environment,
		&ev.Message, &ev.Timestamp, &tags,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Event{}, ErrNotFound
	}
	if err != nil {
		return models.Event{}, fmt.Errorf("get event: %w", err)
	}
	ev.Timestamp = ev.Timestamp.UTC()
	if ev.Tags, err = unmarshalTags(tags); err != nil {
		return models.Event{}, err
	}
	return ev, nil
}

func (s *SQLiteStore) SaveUserReport(ctx context.Context, r models.UserReport, editableSince time.Time) (models.UserReport, error) {
	if r.DateAdded.IsZero() {
		r.DateAdded = time.Now()
	}
	r.DateAdded = r.DateAdded.UTC()

	// The driver parses DATETIME only for columns with a declared type, so the
	// row is read back with a plain SELECT instead of RETURNING it.
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO user_reports (project_id, event_id, group_id, environment_id, name, email, comments, date_added)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, event_id) DO UPDATE
		SET name = excluded.name, email = excluded.email, comments = excluded.comments
		WHERE user_reports.date_added > ?
		RETURNING id
	`, r.ProjectID, r.EventID, nullInt64(r.GroupID), nullInt64(r.EnvironmentID), r.Name, r.Email, r.Comments,
		r.DateAdded, editableSince.UTC()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserReport{}, ErrConflict
	}
	if err != nil {
		return models.UserReport{}, fmt.Errorf("save user report: %w", err)
	}
	return s.GetUserReport(ctx, id)
}

func (s *SQLiteStore) GetUserReport(ctx context.Context, id int64) (models.UserReport, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, event_id, group_id, environment_id, name, email, comments, date_added
		FROM user_reports
		WHERE id = ?
	`, id)
	r, err := scanUserReportSQLite(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return models.UserReport{}, fmt.Errorf("get user report: %w", err)
	}
	return r, err
}

func (s *SQLiteStore) UpdateUserReport(ctx context.Context, id int64, u models.UserReportUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_reports SET group_id = ?, environment_id = ? WHERE id = ?
	`, u.GroupID, u.EnvironmentID, id)
	if err != nil {
		return fmt.Errorf("update user report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user report: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUserReportSQLite(row *sql.Row) (models.UserReport, error) {
	var (
		r             models.UserReport
		groupID       sql.NullInt64
		environmentID sql.NullInt64
	)
	err := row.Scan(
		&r.ID, &r.ProjectID, &r.EventID, &groupID, &environmentID,
		&r.Name, &r.Email, &r.Comments, &r.DateAdded,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserReport{}, ErrNotFound
	}
	if err != nil {
		return models.UserReport{}, err
	}
	if groupID.Valid {
		r.GroupID = &groupID.Int64
	}
	if environmentID.Valid {
		r.EnvironmentID = &environmentID.Int64
	}
	r.DateAdded = r.DateAdded.UTC()
	return r, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
