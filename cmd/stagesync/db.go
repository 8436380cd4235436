package main

import (
	"context"
	"fmt"
	"strings"

	"stagesync/internal/store"
	"stagesync/internal/store/postgres"
	"stagesync/internal/store/sqlite"
)

// openStore opens the room store named by dsn and ensures its schema.
func openStore(ctx context.Context, dsn string) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch {
	case strings.HasPrefix(dsn, "memory://"):
		s = store.NewMemory()
	case strings.HasPrefix(dsn, "sqlite://"):
		s, err = sqlite.New(ctx, dsn)
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		s, err = postgres.New(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported store DSN %q", dsn)
	}
	if err != nil {
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = s.Close(ctx)
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}
