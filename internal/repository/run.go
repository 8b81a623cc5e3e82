package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/chatform/flow-engine-go/internal/model"
)

// RunRepository records flow executions starting. It backs the
// bot-level once-per-user and cooldown policies (which look at runs,
// not per-group history) and the monthly run quota.
type RunRepository interface {
	Append(ctx context.Context, id, botID, contactID string) error
	Last(ctx context.Context, botID, contactID string) (*model.FlowRun, error)
	Exists(ctx context.Context, botID, contactID string) (bool, error)
	CountSince(ctx context.Context, botID string, since time.Time) (int, error)
}

type runDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type runRepo struct {
	db runDB
}

func NewRunRepository(db *sqlx.DB) RunRepository {
	return &runRepo{db: db}
}

func (r *runRepo) Append(ctx context.Context, id, botID, contactID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO flow_runs (id, bot_id, contact_id) VALUES ($1, $2, $3)
	`, id, botID, contactID)
	return err
}

func (r *runRepo) Last(ctx context.Context, botID, contactID string) (*model.FlowRun, error) {
	var run model.FlowRun
	err := r.db.GetContext(ctx, &run, `
		SELECT * FROM flow_runs
		WHERE bot_id = $1 AND contact_id = $2
		ORDER BY started_at DESC
		LIMIT 1
	`, botID, contactID)
	return HandleNotFound(&run, err)
}

func (r *runRepo) Exists(ctx context.Context, botID, contactID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM flow_runs WHERE bot_id = $1 AND contact_id = $2
		)
	`, botID, contactID)
	return exists, err
}

func (r *runRepo) CountSince(ctx context.Context, botID string, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM flow_runs WHERE bot_id = $1 AND started_at >= $2
	`, botID, since)
	return count, err
}
