package repository

import (
	"context"
	"time"

	"github.com/tphakala/threatlink/internal/datastore/entities"
)

// ConfigRepository provides access to correlation_configs.
type ConfigRepository interface {
	// Activate stores a new version and makes it the only active row, in one
	// transaction.
	Activate(ctx context.Context, settingsJSON, checksum string, at time.Time) (*entities.CorrelationConfig, error)

	// GetActive returns the active row.
	// Returns ErrConfigNotFound if nothing was activated yet.
	GetActive(ctx context.Context) (*entities.CorrelationConfig, error)

	// History returns stored versions, newest first.
	History(ctx context.Context, limit int) ([]*entities.CorrelationConfig, error)

	// CountActive returns the number of rows flagged active.
	CountActive(ctx context.Context) (int64, error)
}
