package repository

import (
	"database/sql"
	"errors"
)

// HandleNotFound converts sql.ErrNoRows into a (nil, nil) result. The
// Find* lookups in this package treat a missing row as an ordinary
// outcome (no session pending, contact not yet known), not an error.
//
//	var session model.Session
//	err := r.db.GetContext(ctx, &session, query, botID, contactID)
//	return HandleNotFound(&session, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
