package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/chatform/flow-engine-go/internal/model"
)

type SessionRepository interface {
	Find(ctx context.Context, botID, contactID string) (*model.Session, error)
	// Upsert writes the session unconditionally, bumping its version.
	Upsert(ctx context.Context, session *model.Session) error
	// UpdateIfVersion replaces the session only when the stored row still
	// carries the expected version. Returns false when the row changed
	// underneath the caller (or is gone).
	UpdateIfVersion(ctx context.Context, session *model.Session, expected int) (bool, error)
	Delete(ctx context.Context, botID, contactID string) error
	// DeleteIfVersion removes the session only at the expected version.
	DeleteIfVersion(ctx context.Context, botID, contactID string, expected int) (bool, error)
}

type sessionDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type sessionRepo struct {
	db sessionDB
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) Find(ctx context.Context, botID, contactID string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM flow_sessions WHERE bot_id = $1 AND contact_id = $2
	`, botID, contactID)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) Upsert(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO flow_sessions (bot_id, contact_id, current_node_id, waiting_for, waiting_data, expires_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		ON CONFLICT (bot_id, contact_id) DO UPDATE SET
			current_node_id = EXCLUDED.current_node_id,
			waiting_for = EXCLUDED.waiting_for,
			waiting_data = EXCLUDED.waiting_data,
			expires_at = EXCLUDED.expires_at,
			version = flow_sessions.version + 1,
			updated_at = NOW()
	`, session.BotID, session.ContactID, session.CurrentNodeID,
		session.WaitingFor, session.WaitingData, session.ExpiresAt)
	return err
}

func (r *sessionRepo) UpdateIfVersion(ctx context.Context, session *model.Session, expected int) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE flow_sessions SET
			current_node_id = $3,
			waiting_for = $4,
			waiting_data = $5,
			expires_at = $6,
			version = version + 1,
			updated_at = NOW()
		WHERE bot_id = $1 AND contact_id = $2 AND version = $7
	`, session.BotID, session.ContactID, session.CurrentNodeID,
		session.WaitingFor, session.WaitingData, session.ExpiresAt, expected)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *sessionRepo) Delete(ctx context.Context, botID, contactID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM flow_sessions WHERE bot_id = $1 AND contact_id = $2
	`, botID, contactID)
	return err
}

func (r *sessionRepo) DeleteIfVersion(ctx context.Context, botID, contactID string, expected int) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM flow_sessions WHERE bot_id = $1 AND contact_id = $2 AND version = $3
	`, botID, contactID, expected)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
