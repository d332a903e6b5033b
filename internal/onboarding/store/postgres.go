package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"onboarder/internal/onboarding/models"
	"onboarder/pkg/platform/sentinel"
)

const runsTable = "onboarding_runs"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var runColumns = []string{
	"id", "ticket_key", "user_email", "username", "employee_name",
	"domain", "ou", "temp_password_hash", "source_user",
	"retry_count", "status", "last_error", "employee", "created_at", "updated_at",
}

// PostgresStore persists runs in PostgreSQL. The employee snapshot is kept
// as JSONB so the record replays exactly what the run saw.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.Run) error {
	snapshot, err := json.Marshal(run.Employee)
	if err != nil {
		return fmt.Errorf("encode employee snapshot: %w", err)
	}

	query, args, err := psql.Insert(runsTable).
		Columns(runColumns...).
		Values(run.ID, run.TicketKey, run.UserEmail, run.Username, run.EmployeeName,
			run.Domain, run.OU, run.TempPasswordHash, run.SourceUser,
			run.RetryCount, string(run.Status), run.LastError, snapshot, run.CreatedAt, run.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.Run) error {
	run.UpdatedAt = time.Now().UTC()

	query, args, err := psql.Update(runsTable).
		Set("retry_count", run.RetryCount).
		Set("status", string(run.Status)).
		Set("last_error", run.LastError).
		Set("updated_at", run.UpdatedAt).
		Where(sq.Eq{"id": run.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", run.ID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	query, args, err := psql.Select(runColumns...).
		From(runsTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	run, err := scanRun(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

func (s *PostgresStore) RunsByEmail(ctx context.Context, email string) ([]*models.Run, error) {
	query, args, err := psql.Select(runColumns...).
		From(runsTable).
		Where(sq.Eq{"user_email": email}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs for %s: %w", email, err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (*models.Run, error) {
	var (
		run      models.Run
		status   string
		snapshot []byte
	)
	err := row.Scan(&run.ID, &run.TicketKey, &run.UserEmail, &run.Username, &run.EmployeeName,
		&run.Domain, &run.OU, &run.TempPasswordHash, &run.SourceUser,
		&run.RetryCount, &status, &run.LastError, &snapshot, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &run.Employee); err != nil {
			return nil, fmt.Errorf("decode employee snapshot: %w", err)
		}
	}
	return &run, nil
}
