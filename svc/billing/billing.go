package billing

import (
	"time"

	"github.com/google/uuid"
)

// Status is the subscription lifecycle status as reported by the
// billing provider. The engine records provider-reported transitions,
// it never invents them.
type Status string

const (
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusUnpaid            Status = "unpaid"
	StatusCanceled          Status = "canceled"
)

// Valid reports whether the status belongs to the known lifecycle set.
func (s Status) Valid() bool {
	switch s {
	case StatusIncomplete, StatusIncompleteExpired, StatusTrialing,
		StatusActive, StatusPastDue, StatusUnpaid, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether the status accepts no further transitions.
// A provider reusing a terminal subscription id is rejected; a fresh
// subscription id goes through the create path instead.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusIncompleteExpired
}

// Customer maps one local account to one external billing identity.
type Customer struct {
	AccountID  uuid.UUID
	ExternalID string
	Livemode   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Subscription is the locally cached subscription state. The external
// id is the primary key; terminal records are retained for audit.
type Subscription struct {
	ID                 string
	AccountID          uuid.UUID
	Status             Status
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	Livemode           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

func (s *Subscription) IsTerminal() bool {
	return s.Status.Terminal()
}
