package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS watch_history (
	client_id  text NOT NULL,
	item_key   text NOT NULL,
	item_id    text NOT NULL,
	media_type text NOT NULL,
	title      text NOT NULL DEFAULT '',
	watched_at timestamptz NOT NULL,
	PRIMARY KEY (client_id, item_key)
)`

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create watch_history: %w", err)
	}
	return nil
}

func (p *Postgres) Record(ctx context.Context, clientID string, e Entry) error {
	if err := validate(clientID, e); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO watch_history (client_id, item_key, item_id, media_type, title, watched_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (client_id, item_key)
		DO UPDATE SET title = EXCLUDED.title, watched_at = EXCLUDED.watched_at`,
		clientID, e.Key(), e.ItemID, e.MediaType, e.Title, e.WatchedAt)
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, clientID string, limit int) ([]Entry, error) {
	query := `SELECT item_id, media_type, title, watched_at FROM watch_history
		WHERE client_id = $1 ORDER BY watched_at DESC`
	args := []interface{}{clientID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ItemID, &e.MediaType, &e.Title, &e.WatchedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
