package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/chatform/flow-engine-go/internal/model"
)

type VariableRepository interface {
	GetAll(ctx context.Context, contactID string) (map[string]string, error)
	Set(ctx context.Context, contactID, key, value string, label *string) error
	Delete(ctx context.Context, contactID, key string) error
}

type variableDB interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type variableRepo struct {
	db variableDB
}

func NewVariableRepository(db *sqlx.DB) VariableRepository {
	return &variableRepo{db: db}
}

func (r *variableRepo) GetAll(ctx context.Context, contactID string) (map[string]string, error) {
	var rows []model.ContactVariable
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM contact_variables WHERE contact_id = $1
	`, contactID)
	if err != nil {
		return nil, err
	}
	vars := make(map[string]string, len(rows))
	for _, row := range rows {
		vars[row.Key] = row.Value
	}
	return vars, nil
}

func (r *variableRepo) Set(ctx context.Context, contactID, key, value string, label *string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contact_variables (contact_id, key, value, label)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (contact_id, key) DO UPDATE SET
			value = EXCLUDED.value,
			label = COALESCE(EXCLUDED.label, contact_variables.label),
			updated_at = NOW()
	`, contactID, key, value, label)
	return err
}

func (r *variableRepo) Delete(ctx context.Context, contactID, key string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM contact_variables WHERE contact_id = $1 AND key = $2
	`, contactID, key)
	return err
}
