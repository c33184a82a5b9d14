package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PratikDhanave/user-report-service/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore is the PostgreSQL implementation of Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaSQL)
	return err
}

// Ping is used by readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

// InsertEvent persists an event together with its environment and group.
//
// Duplicate detection is enforced by the (project_id, event_id) constraint. The
// group counters are bumped in the same transaction, so a losing duplicate rolls
// them back.
func (p *PostgresStore) InsertEvent(ctx context.Context, ev models.NewEvent) (models.Event, bool, error) {
	if ev.ProjectID == 0 || ev.EventID == "" {
		return models.Event{}, false, errors.New("projectID/eventID required")
	}

	existing, err := p.GetEventByID(ctx, ev.ProjectID, ev.EventID)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.Event{}, false, err
	}

	tags, err := marshalTags(ev.Tags)
	if err != nil {
		return models.Event{}, false, err
	}
	ts := ev.Timestamp.UTC()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return models.Event{}, false, fmt.Errorf("begin insert event tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var envID int64
	if err := tx.QueryRow(ctx, `
		INSERT INTO environments (project_id, name)
		VALUES ($1, $2)
		ON CONFLICT (project_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, ev.ProjectID, ev.Environment).Scan(&envID); err != nil {
		return models.Event{}, false, fmt.Errorf("resolve environment: %w", err)
	}

	var groupID int64
	if err := tx.QueryRow(ctx, `
		INSERT INTO event_groups (project_id, hash, message, first_seen, last_seen, times_seen)
		VALUES ($1, $2, $3, $4, $4, 1)
		ON CONFLICT (project_id, hash) DO UPDATE
		SET last_seen = GREATEST(event_groups.last_seen, EXCLUDED.last_seen),
		    times_seen = event_groups.times_seen + 1
		RETURNING id
	`, ev.ProjectID, GroupHash(ev.Fingerprint, ev.Message), ev.Message, ts).Scan(&groupID); err != nil {
		return models.Event{}, false, fmt.Errorf("resolve group: %w", err)
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO events (project_id, event_id, group_id, environment_id, message, ts, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, event_id) DO NOTHING
		RETURNING id
	`, ev.ProjectID, ev.EventID, groupID, envID, ev.Message, ts, tags).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost a race with a concurrent insert of the same event.
		_ = tx.Rollback(ctx)
		existing, err := p.GetEventByID(ctx, ev.ProjectID, ev.EventID)
		if err != nil {
			return models.Event{}, false, err
		}
		return existing, true, nil
	}
	if err != nil {
		return models.Event{}, false, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
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

// GetEventByID returns ErrNotFound when the project has no such event.
func (p *PostgresStore) GetEventByID(ctx context.Context, projectID int64, eventID string) (models.Event, error) {
	var (
		ev   models.Event
		tags []byte
	)
	err := p.pool.QueryRow(ctx, `
		SELECT e.id, e.project_id, e.event_id, e.group_id, e.environment_id, env.name,
		       e.message, e.ts, e.tags
		FROM events e
		JOIN environments env ON env.id = e.environment_id
		WHERE e.project_id = $1 AND e.event_id = $2
	`, projectID, eventID).Scan(
		&ev.ID, &ev.ProjectID, &ev.EventID, &ev.GroupID, &ev.EnvironmentID, &ev.Environment,
		&ev.Message, &ev.Timestamp, &tags,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Event{}, ErrNotFound
	}
	if err != nil {
		return models.Event{}, fmt.Errorf("get event: %w", err)
	}
	if ev.Tags, err = unmarshalTags(tags); err != nil {
		return models.Event{}, err
	}
	return ev, nil
}

// SaveUserReport upserts a report. The update branch only applies while the
// stored report is newer than editableSince; otherwise ErrConflict.
func (p *PostgresStore) SaveUserReport(ctx context.Context, r models.UserReport, editableSince time.Time) (models.UserReport, error) {
	if r.DateAdded.IsZero() {
		r.DateAdded = time.Now()
	}
	r.DateAdded = r.DateAdded.UTC()

	var out models.UserReport
	err := p.pool.QueryRow(ctx, `
		INSERT INTO user_reports (project_id, event_id, group_id, environment_id, name, email, comments, date_added)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (project_id, event_id) DO UPDATE
		SET name = EXCLUDED.name, email = EXCLUDED.email, comments = EXCLUDED.comments
		WHERE user_reports.date_added > $9
		RETURNING id, project_id, event_id, group_id, environment_id, name, email, comments, date_added
	`, r.ProjectID, r.EventID, r.GroupID, r.EnvironmentID, r.Name, r.Email, r.Comments, r.DateAdded,
		editableSince.UTC()).Scan(
		&out.ID, &out.ProjectID, &out.EventID, &out.GroupID, &out.EnvironmentID,
		&out.Name, &out.Email, &out.Comments, &out.DateAdded,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UserReport{}, ErrConflict
	}
	if err != nil {
		return models.UserReport{}, fmt.Errorf("save user report: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) GetUserReport(ctx context.Context, id int64) (models.UserReport, error) {
	var r models.UserReport
	err := p.pool.QueryRow(ctx, `
		SELECT id, project_id, event_id, group_id, environment_id, name, email, comments, date_added
		FROM user_reports
		WHERE id = $1
	`, id).Scan(
		&r.ID, &r.ProjectID, &r.EventID, &r.GroupID, &r.EnvironmentID,
		&r.Name, &r.Email, &r.Comments, &r.DateAdded,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UserReport{}, ErrNotFound
	}
	if err != nil {
		return models.UserReport{}, fmt.Errorf("get user report: %w", err)
	}
	return r, nil
}

func (p *PostgresStore) UpdateUserReport(ctx context.Context, id int64, u models.UserReportUpdate) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE user_reports SET group_id = $2, environment_id = $3 WHERE id = $1
	`, id, u.GroupID, u.EnvironmentID)
	if err != nil {
		return fmt.Errorf("update user report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalTags(tags map[string]string) ([]byte, error) {
	if tags == nil {
		tags = map[string]string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	return b, nil
}

func unmarshalTags(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var tags map[string]string
	if err := json.Unmarshal(b, &tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if len(tags) == 0 {
		return nil, nil
	}
	return tags, nil
}
