package store

import (
	"context"
	"time"

	"hearth/cmd/identity"

	"github.com/jackc/pgx/v5"
)

func scanChannel(row pgx.Row) (identity.Channel, error) {
	var c identity.Channel
	err := row.Scan(&c.ID, &c.FamilyID, &c.Name, &c.CreatedBy, &c.CreatedAt)
	return c, err
}

func scanMessage(row pgx.Row) (identity.Message, error) {
	var m identity.Message
	err := row.Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.Body, &m.CreatedAt)
	return m, err
}

func (r *pgRepo) CreateChannel(ctx context.Context, c identity.Channel) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO `+r.table("channels")+` (id, family_id, name, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.FamilyID, c.Name, c.CreatedBy, c.CreatedAt)
	return pgErr("store.CreateChannel", "family", err)
}

func (r *pgRepo) GetChannel(ctx context.Context, id string) (identity.Channel, error) {
	c, err := scanChannel(r.db.QueryRow(ctx,
		`SELECT id, family_id, name, created_by, created_at FROM `+r.table("channels")+` WHERE id = $1`, id))
	return c, pgErr("store.GetChannel", "channel", err)
}

func (r *pgRepo) ListChannels(ctx context.Context, familyID string) ([]identity.Channel, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, family_id, name, created_by, created_at FROM `+r.table("channels")+`
		  WHERE family_id = $1 ORDER BY id`,
		familyID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanChannel)
}

func (r *pgRepo) CreateMessage(ctx context.Context, m identity.Message) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO `+r.table("messages")+` (id, channel_id, author_id, body, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ChannelID, m.AuthorID, m.Body, m.CreatedAt)
	return pgErr("store.CreateMessage", "channel", err)
}

func (r *pgRepo) ListMessages(ctx context.Context, channelID string, cur MessageCursor, limit int) ([]identity.Message, error) {
	if cur.Before.IsZero() {
		cur.Before = time.Now().UTC().Add(time.Second)
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, channel_id, author_id, body, created_at FROM `+r.table("messages")+`
		  WHERE channel_id = $1 AND (created_at < $2 OR (created_at = $2 AND id < $3))
		  ORDER BY created_at DESC, id DESC
		  LIMIT $4`,
		channelID, cur.Before, cur.BeforeID, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanMessage)
}
