package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stagesync/internal/store"
)

func (c *Client) Get(ctx context.Context, room, key string) (string, bool, error) {
	var value string
	err := c.pool.QueryRow(ctx,
		`SELECT value FROM room_entries WHERE room = $1 AND key = $2`, room, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting %s/%s: %w", room, key, err)
	}
	return value, true, nil
}

func (c *Client) Set(ctx context.Context, room, key, value string) error {
	_, err := c.pool.Exec(ctx, `
INSERT INTO room_entries (room, key, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (room, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		room, key, value)
	if err != nil {
		return fmt.Errorf("setting %s/%s: %w", room, key, err)
	}
	return nil
}

func (c *Client) List(ctx context.Context, room string) ([]store.Entry, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT key, value, updated_at FROM room_entries WHERE room = $1 ORDER BY key`, room)
	if err != nil {
		return nil, fmt.Errorf("listing room %s: %w", room, err)
	}
	defer rows.Close()

	var out []store.Entry
	for rows.Next() {
		entry := store.Entry{Room: room}
		if err := rows.Scan(&entry.Key, &entry.Value, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning room entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (c *Client) ClearRoom(ctx context.Context, room string) (int64, error) {
	tag, err := c.pool.Exec(ctx, `DELETE FROM room_entries WHERE room = $1`, room)
	if err != nil {
		return 0, fmt.Errorf("clearing room %s: %w", room, err)
	}
	return tag.RowsAffected(), nil
}
