package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/chatform/flow-engine-go/internal/model"
)

type ContactRepository interface {
	FindByID(ctx context.Context, id string) (*model.Contact, error)
	FindByPhone(ctx context.Context, botID, phone string) (*model.Contact, error)
	Create(ctx context.Context, params model.CreateContactParams) (*model.Contact, error)
	UpdateTags(ctx context.Context, id string, tags []string) error
	SetBotActive(ctx context.Context, id string, active bool) error
	SetTakeoverUntil(ctx context.Context, id string, until *time.Time) error
	UpdateName(ctx context.Context, id string, name string) error
}

// contactDB is satisfied by both *sqlx.DB and *sqlx.Tx.
type contactDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type contactRepo struct {
	db contactDB
}

func NewContactRepository(db *sqlx.DB) ContactRepository {
	return &contactRepo{db: db}
}

func (r *contactRepo) FindByID(ctx context.Context, id string) (*model.Contact, error) {
	var contact model.Contact
	err := r.db.GetContext(ctx, &contact, `
		SELECT * FROM contacts WHERE id = $1
	`, id)
	return HandleNotFound(&contact, err)
}

func (r *contactRepo) FindByPhone(ctx context.Context, botID, phone string) (*model.Contact, error) {
	var contact model.Contact
	err := r.db.GetContext(ctx, &contact, `
		SELECT * FROM contacts WHERE bot_id = $1 AND phone = $2
	`, botID, phone)
	return HandleNotFound(&contact, err)
}

func (r *contactRepo) Create(ctx context.Context, params model.CreateContactParams) (*model.Contact, error) {
	var contact model.Contact
	err := r.db.GetContext(ctx, &contact, `
		INSERT INTO contacts (bot_id, phone, name, is_group, is_channel, is_bot_active, tags)
		VALUES ($1, $2, $3, $4, $5, TRUE, '[]')
		ON CONFLICT (bot_id, phone) DO UPDATE SET updated_at = NOW()
		RETURNING *
	`, params.BotID, params.Phone, params.Name, params.IsGroup, params.IsChannel)
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

func (r *contactRepo) UpdateTags(ctx context.Context, id string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE contacts SET tags = $2, updated_at = NOW() WHERE id = $1
	`, id, data)
	return err
}

func (r *contactRepo) SetBotActive(ctx context.Context, id string, active bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET is_bot_active = $2, updated_at = NOW() WHERE id = $1
	`, id, active)
	return err
}

func (r *contactRepo) SetTakeoverUntil(ctx context.Context, id string, until *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET takeover_until = $2, updated_at = NOW() WHERE id = $1
	`, id, until)
	return err
}

func (r *contactRepo) UpdateName(ctx context.Context, id string, name string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET name = $2, updated_at = NOW() WHERE id = $1
	`, id, name)
	return err
}
