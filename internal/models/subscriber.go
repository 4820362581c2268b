package models

import (
	"errors"
	"time"
)

// ErrSubscriberExists is returned when an insert loses the race against a
// concurrent insert of the same email.
var ErrSubscriberExists = errors.New("subscriber already exists")

// Subscriber is a single opted-in email address.
type Subscriber struct {
	ID           int64     `db:"id" firestore:"-" json:"id,omitempty"`
	Email        string    `db:"email" firestore:"email" json:"email" validate:"required,email"`
	SubscribedAt time.Time `db:"subscribed_at" firestore:"subscribedAt" json:"subscribed_at"`
	IsActive     bool      `db:"is_active" firestore:"isActive" json:"is_active"`
}

// SubscribeStatus is the outcome of a subscribe request.
type SubscribeStatus string

const (
	StatusNew           SubscribeStatus = "new"
	StatusReactivated   SubscribeStatus = "reactivated"
	StatusAlreadyActive SubscribeStatus = "already_active"
	StatusError         SubscribeStatus = "error"
)

// Changed reports whether the request left the subscriber active when it
// was not before.
func (s SubscribeStatus) Changed() bool {
	return s == StatusNew || s == StatusReactivated
}
