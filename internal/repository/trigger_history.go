package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/chatform/flow-engine-go/internal/model"
)

// TriggerHistoryRepository is append-only: rows are never mutated, only
// appended and range-queried for cooldown/once-per-user policies.
type TriggerHistoryRepository interface {
	Append(ctx context.Context, botID, contactID, triggerGroupID string) error
	LastForGroup(ctx context.Context, botID, contactID, triggerGroupID string) (*model.TriggerHistory, error)
	ExistsForGroup(ctx context.Context, botID, contactID, triggerGroupID string) (bool, error)
	LastAnyGroup(ctx context.Context, botID, contactID string) (*model.TriggerHistory, error)
	// Prune deletes rows older than cutoff but always keeps the most
	// recent row per (bot, contact, group). Once-per-user groups must
	// stay blocked forever, and cooldown lookups only ever read the
	// newest row.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type historyDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type triggerHistoryRepo struct {
	db historyDB
}

func NewTriggerHistoryRepository(db *sqlx.DB) TriggerHistoryRepository {
	return &triggerHistoryRepo{db: db}
}

func (r *triggerHistoryRepo) Append(ctx context.Context, botID, contactID, triggerGroupID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trigger_history (bot_id, contact_id, trigger_group_id)
		VALUES ($1, $2, $3)
	`, botID, contactID, triggerGroupID)
	return err
}

func (r *triggerHistoryRepo) LastForGroup(ctx context.Context, botID, contactID, triggerGroupID string) (*model.TriggerHistory, error) {
	var row model.TriggerHistory
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM trigger_history
		WHERE bot_id = $1 AND contact_id = $2 AND trigger_group_id = $3
		ORDER BY triggered_at DESC
		LIMIT 1
	`, botID, contactID, triggerGroupID)
	return HandleNotFound(&row, err)
}

func (r *triggerHistoryRepo) ExistsForGroup(ctx context.Context, botID, contactID, triggerGroupID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM trigger_history
			WHERE bot_id = $1 AND contact_id = $2 AND trigger_group_id = $3
		)
	`, botID, contactID, triggerGroupID)
	return exists, err
}

func (r *triggerHistoryRepo) LastAnyGroup(ctx context.Context, botID, contactID string) (*model.TriggerHistory, error) {
	var row model.TriggerHistory
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM trigger_history
		WHERE bot_id = $1 AND contact_id = $2
		ORDER BY triggered_at DESC
		LIMIT 1
	`, botID, contactID)
	return HandleNotFound(&row, err)
}

func (r *triggerHistoryRepo) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM trigger_history AS old
		WHERE old.triggered_at < $1
		  AND EXISTS (
			SELECT 1 FROM trigger_history newer
			WHERE newer.bot_id = old.bot_id
			  AND newer.contact_id = old.contact_id
			  AND newer.trigger_group_id = old.trigger_group_id
			  AND newer.triggered_at > old.triggered_at
		  )
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
