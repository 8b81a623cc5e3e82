package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/chatform/flow-engine-go/internal/model"
)

type BotRepository interface {
	FindByID(ctx context.Context, id string) (*model.Bot, error)
	FindByChannelID(ctx context.Context, channelID string) (*model.Bot, error)
}

type botRepo struct {
	db *sqlx.DB
}

func NewBotRepository(db *sqlx.DB) BotRepository {
	return &botRepo{db: db}
}

func (r *botRepo) FindByID(ctx context.Context, id string) (*model.Bot, error) {
	var bot model.Bot
	err := r.db.GetContext(ctx, &bot, `
		SELECT * FROM bots WHERE id = $1
	`, id)
	return HandleNotFound(&bot, err)
}

func (r *botRepo) FindByChannelID(ctx context.Context, channelID string) (*model.Bot, error) {
	var bot model.Bot
	err := r.db.GetContext(ctx, &bot, `
		SELECT * FROM bots WHERE channel_id = $1 AND enabled = TRUE
	`, channelID)
	return HandleNotFound(&bot, err)
}
