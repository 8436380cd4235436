package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stagesync/internal/store"
)

const timeLayout = "2006-01-02T15:04:05.999Z"

func (c *Client) Get(ctx context.Context, room, key string) (string, bool, error) {
	var value string
	err := c.db.QueryRowContext(ctx,
		`SELECT value FROM room_entries WHERE room = ? AND key = ?`, room, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting %s/%s: %w", room, key, err)
	}
	return value, true, nil
}

func (c *Client) Set(ctx context.Context, room, key, value string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO room_entries (room, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (room, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		room, key, value, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("setting %s/%s: %w", room, key, err)
	}
	return nil
}

func (c *Client) List(ctx context.Context, room string) ([]store.Entry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM room_entries WHERE room = ? ORDER BY key`, room)
	if err != nil {
		return nil, fmt.Errorf("listing room %s: %w", room, err)
	}
	defer rows.Close()

	var out []store.Entry
	for rows.Next() {
		entry := store.Entry{Room: room}
		var updated string
		if err := rows.Scan(&entry.Key, &entry.Value, &updated); err != nil {
			return nil, fmt.Errorf("scanning room entry: %w", err)
		}
		if ts, err := time.Parse(timeLayout, updated); err == nil {
			entry.UpdatedAt = ts
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (c *Client) ClearRoom(ctx context.Context, room string) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM room_entries WHERE room = ?`, room)
	if err != nil {
		return 0, fmt.Errorf("clearing room %s: %w", room, err)
	}
	return res.RowsAffected()
}
