package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pauljones0/rfd-deal-digest/internal/models"
)

const subscribersCollection = "subscribers"

// FirestoreStore keeps one document per subscriber, keyed by the hash of
// the email so the document ID is the uniqueness constraint.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

func (c *FirestoreStore) Close() error {
	return c.client.Close()
}

// subscriberDocID is case-sensitive, matching how emails are stored.
func subscriberDocID(email string) string {
	hash := sha256.Sum256([]byte(email))
	return hex.EncodeToString(hash[:])
}

func (c *FirestoreStore) doc(email string) *firestore.DocumentRef {
	return c.client.Collection(subscribersCollection).Doc(subscriberDocID(email))
}

func (c *FirestoreStore) AddOrReactivate(ctx context.Context, email string) (models.SubscribeStatus, error) {
	ref := c.doc(email)

	var result models.SubscribeStatus
	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			result = models.StatusNew
			return tx.Create(ref, models.Subscriber{
				Email:        email,
				SubscribedAt: time.Now().UTC(),
				IsActive:     true,
			})
		}
		if err != nil {
			return err
		}

		var sub models.Subscriber
		if err := snap.DataTo(&sub); err != nil {
			return fmt.Errorf("failed to unmarshal subscriber: %w", err)
		}
		if sub.IsActive {
			result = models.StatusAlreadyActive
			return nil
		}
		result = models.StatusReactivated
		return tx.Update(ref, []firestore.Update{{Path: "isActive", Value: true}})
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return models.StatusError, fmt.Errorf("create subscriber %s: %w", email, ErrSubscriberExists)
		}
		return models.StatusError, fmt.Errorf("subscribe transaction: %w", err)
	}
	return result, nil
}

func (c *FirestoreStore) Deactivate(ctx context.Context, email string) error {
	_, err := c.doc(email).Update(ctx, []firestore.Update{{Path: "isActive", Value: false}})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("deactivate subscriber: %w", err)
	}
	return nil
}

func (c *FirestoreStore) ListActive(ctx context.Context) ([]string, error) {
	return c.listByState(ctx, true)
}

func (c *FirestoreStore) ListInactive(ctx context.Context) ([]string, error) {
	return c.listByState(ctx, false)
}

func (c *FirestoreStore) listByState(ctx context.Context, active bool) ([]string, error) {
	subs, err := c.ListSubscribers(ctx, active)
	if err != nil {
		return nil, err
	}
	emails := make([]string, 0, len(subs))
	for _, sub := range subs {
		emails = append(emails, sub.Email)
	}
	return emails, nil
}

func (c *FirestoreStore) ListSubscribers(ctx context.Context, active bool) ([]models.Subscriber, error) {
	iter := c.client.Collection(subscribersCollection).Where("isActive", "==", active).Documents(ctx)
	defer iter.Stop()

	subs := []models.Subscriber{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate subscribers: %w", err)
		}
		var sub models.Subscriber
		if err := doc.DataTo(&sub); err != nil {
			return nil, fmt.Errorf("failed to unmarshal subscriber %s: %w", doc.Ref.ID, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (c *FirestoreStore) Get(ctx context.Context, email string) (*models.Subscriber, error) {
	doc, err := c.doc(email).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscriber: %w", err)
	}
	if !doc.Exists() {
		return nil, nil
	}

	var sub models.Subscriber
	if err := doc.DataTo(&sub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscriber: %w", err)
	}
	return &sub, nil
}
