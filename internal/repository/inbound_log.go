package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
)

// InboundLogRepository records one row per inbound message, feeding the
// first-message and quiet-period trigger conditions.
type InboundLogRepository interface {
	Append(ctx context.Context, botID, contactID string, receivedAt time.Time) error
	Count(ctx context.Context, botID, contactID string) (int, error)
	// SecondMostRecent returns the timestamp of the inbound message
	// before the current one, or nil when there is none. Quiet-period
	// conditions use it because the triggering message is already
	// persisted when they run.
	SecondMostRecent(ctx context.Context, botID, contactID string) (*time.Time, error)
	// MostRecent returns the timestamp of the latest inbound message,
	// or nil when there is none. Quiet-period conditions use it on the
	// event path, where the triggering occurrence is not logged.
	MostRecent(ctx context.Context, botID, contactID string) (*time.Time, error)
	// Prune deletes rows older than cutoff but always keeps the two
	// most recent rows per (bot, contact): the first-message check
	// needs evidence that earlier messages existed, and quiet-period
	// checks read the row before the triggering one.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type inboundLogDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type inboundLogRepo struct {
	db inboundLogDB
}

func NewInboundLogRepository(db *sqlx.DB) InboundLogRepository {
	return &inboundLogRepo{db: db}
}

func (r *inboundLogRepo) Append(ctx context.Context, botID, contactID string, receivedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO inbound_log (bot_id, contact_id, received_at)
		VALUES ($1, $2, $3)
	`, botID, contactID, receivedAt)
	return err
}

func (r *inboundLogRepo) Count(ctx context.Context, botID, contactID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM inbound_log WHERE bot_id = $1 AND contact_id = $2
	`, botID, contactID)
	return count, err
}

func (r *inboundLogRepo) SecondMostRecent(ctx context.Context, botID, contactID string) (*time.Time, error) {
	var ts time.Time
	err := r.db.GetContext(ctx, &ts, `
		SELECT received_at FROM inbound_log
		WHERE bot_id = $1 AND contact_id = $2
		ORDER BY received_at DESC
		OFFSET 1 LIMIT 1
	`, botID, contactID)
	return HandleNotFound(&ts, err)
}

func (r *inboundLogRepo) MostRecent(ctx context.Context, botID, contactID string) (*time.Time, error) {
	var ts time.Time
	err := r.db.GetContext(ctx, &ts, `
		SELECT received_at FROM inbound_log
		WHERE bot_id = $1 AND contact_id = $2
		ORDER BY received_at DESC
		LIMIT 1
	`, botID, contactID)
	return HandleNotFound(&ts, err)
}

func (r *inboundLogRepo) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM inbound_log AS old
		WHERE old.received_at < $1
		  AND (
			SELECT COUNT(*) FROM inbound_log newer
			WHERE newer.bot_id = old.bot_id
			  AND newer.contact_id = old.contact_id
			  AND newer.received_at > old.received_at
		  ) >= 2
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
