package postgres

import (
	"context"
	"fmt"
)

func (c *Client) EnsureSchema(ctx context.Context) error {
	// Executed as one implicit transaction; IF NOT EXISTS keeps reruns cheap.
	ddl := `
CREATE TABLE IF NOT EXISTS room_entries (
    room       TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (room, key)
);

CREATE INDEX IF NOT EXISTS idx_room_entries_room ON room_entries (room);
`
	if _, err := c.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating postgres schema: %w", err)
	}
	return nil
}
