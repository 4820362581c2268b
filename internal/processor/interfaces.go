package processor

import (
	"context"

	"github.com/pauljones0/rfd-deal-digest/internal/models"
)

// ListingFetcher downloads the listing page.
type ListingFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// ListingParser turns listing markup into deals.
type ListingParser interface {
	Parse(html string) ([]models.Deal, error)
}

// DigestFormatter renders deals into an HTML body.
type DigestFormatter interface {
	Format(deals []models.Deal) string
}

// SubscriberLister is the read side of the subscriber store.
type SubscriberLister interface {
	ListActive(ctx context.Context) ([]string, error)
}

// DigestDispatcher abstracts the email layer.
type DigestDispatcher interface {
	Send(ctx context.Context, subject, htmlBody string, recipients []string) error
}
