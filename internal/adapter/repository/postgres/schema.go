package postgres

import (
	"context"
	"fmt"
)

// CreateLogsTableSQL creates the logs table if it does not exist.
const CreateLogsTableSQL = `CREATE TABLE IF NOT EXISTS logs (
	id SERIAL PRIMARY KEY,
	endpoint TEXT NOT NULL,
	method TEXT NOT NULL,
	status INTEGER NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	details TEXT NULL
)`

// EnsureSchema creates the logs table.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.ExecContext(ctx, CreateLogsTableSQL); err != nil {
		return fmt.Errorf("create logs table: %w", classifyError(err))
	}
	return nil
}
