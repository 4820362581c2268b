package storage

import (
	"context"
	"fmt"

	"github.com/pauljones0/rfd-deal-digest/internal/config"
	"github.com/pauljones0/rfd-deal-digest/internal/models"
)

// ErrSubscriberExists is re-exported so callers outside the pipeline only
// need this package.
var ErrSubscriberExists = models.ErrSubscriberExists

// SubscriberStore is the durable email to subscription state mapping.
// Rows are never deleted; Deactivate is the only removal path.
type SubscriberStore interface {
	// AddOrReactivate returns StatusError together with ErrSubscriberExists
	// when a concurrent insert of the same email won the race.
	AddOrReactivate(ctx context.Context, email string) (models.SubscribeStatus, error)
	// Deactivate is a no-op for unknown emails.
	Deactivate(ctx context.Context, email string) error
	ListActive(ctx context.Context) ([]string, error)
	ListInactive(ctx context.Context) ([]string, error)
	// ListSubscribers returns the full rows in the given state, oldest first.
	ListSubscribers(ctx context.Context, active bool) ([]models.Subscriber, error)
	// Get returns nil, nil when the email is unknown.
	Get(ctx context.Context, email string) (*models.Subscriber, error)
	Close() error
}

// Open builds the store selected by cfg.SubscriberBackend.
func Open(ctx context.Context, cfg *config.Config) (SubscriberStore, error) {
	switch cfg.SubscriberBackend {
	case config.BackendFirestore:
		return NewFirestoreStore(ctx, cfg.ProjectID)
	case config.BackendSQL, "":
		return NewSQLStore(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown subscriber backend %q", cfg.SubscriberBackend)
	}
}
