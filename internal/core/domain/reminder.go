package domain

import (
	"errors"
	"strings"
	"time"
)

type ReminderType string

const (
	ReminderEmail ReminderType = "email"
	ReminderInApp ReminderType = "in_app"
	ReminderBoth  ReminderType = "both"
)

func (t ReminderType) Valid() bool {
	switch t {
	case ReminderEmail, ReminderInApp, ReminderBoth:
		return true
	default:
		return false
	}
}

// Channels lists the dispatch channels implied by the reminder type, in a
// fixed order.
func (t ReminderType) Channels() []Channel {
	switch t {
	case ReminderEmail:
		return []Channel{ChannelEmail}
	case ReminderInApp:
		return []Channel{ChannelInApp}
	case ReminderBoth:
		return []Channel{ChannelEmail, ChannelInApp}
	default:
		return nil
	}
}

type ReminderStatus string

const (
	ReminderPending ReminderStatus = "pending"
	ReminderSent    ReminderStatus = "sent"
	ReminderExpired ReminderStatus = "expired"
)

func (s ReminderStatus) rank() int {
	switch s {
	case ReminderPending:
		return 1
	case ReminderSent:
		return 2
	case ReminderExpired:
		return 3
	default:
		return 0
	}
}

// CanTransitionTo reports whether next is strictly later in
// pending -> sent -> expired. Status never regresses.
func (s ReminderStatus) CanTransitionTo(next ReminderStatus) bool {
	return next.rank() > 0 && next.rank() > s.rank()
}

// ReminderRecord schedules a notification ahead of a document's expiration.
// DocumentName is free text and does not reference a DocumentRecord.
type ReminderRecord struct {
	ID             string         `json:"id"`
	OwnerID        string         `json:"owner_id"`
	DocumentName   string         `json:"document_name"`
	ExpirationDate Date           `json:"expiration_date"`
	ReminderDate   Timestamp      `json:"reminder_date"`
	Type           ReminderType   `json:"type"`
	Status         ReminderStatus `json:"status"`
	CreatedAt      Timestamp      `json:"created_at"`
}

func (r ReminderRecord) RecordID() string { return r.ID }
func (r ReminderRecord) RecordOwner() string { return r.OwnerID }
func (r ReminderRecord) RecordCategory() string { return "" }
func (r ReminderRecord) RecordCreatedAt() time.Time { return r.CreatedAt.Time() }

func (r ReminderRecord) SearchFields() []string {
	return []string{r.DocumentName, r.OwnerID}
}

// ReminderInput is the creation request for a reminder.
type ReminderInput struct {
	OwnerID        string       `json:"owner_id"`
	DocumentName   string       `json:"document_name"`
	ExpirationDate Date         `json:"expiration_date"`
	ReminderDate   Timestamp    `json:"reminder_date"`
	Type           ReminderType `json:"type"`
}

// Validate enforces the creation-time invariants. They are not re-checked
// once the reminder is stored.
func (in ReminderInput) Validate() error {
	switch {
	case strings.TrimSpace(in.OwnerID) == "":
		return WrapError(ErrInvalidInput, "validate reminder", errors.New("owner_id is required"))
	case strings.TrimSpace(in.DocumentName) == "":
		return WrapError(ErrInvalidInput, "validate reminder", errors.New("document_name is required"))
	case !in.Type.Valid():
		return WrapError(ErrInvalidInput, "validate reminder", errors.New("type must be one of email, in_app, both"))
	case in.ExpirationDate.IsZero():
		return WrapError(ErrInvalidInput, "validate reminder", errors.New("expiration_date is required"))
	case in.ReminderDate.IsZero():
		return WrapError(ErrInvalidInput, "validate reminder", errors.New("reminder_date is required"))
	}
	reminderAt := in.ReminderDate.Time()
	if !reminderAt.Before(in.ExpirationDate.Midnight(reminderAt.Location())) {
		return WrapError(ErrInvalidInput, "validate reminder", errors.New("reminder_date must be before expiration_date"))
	}
	return nil
}

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"
)

// Notification is the payload handed to a dispatch channel.
type Notification struct {
	ReminderID     string `json:"reminder_id"`
	OwnerID        string `json:"owner_id"`
	DocumentName   string `json:"document_name"`
	ExpirationDate Date   `json:"expiration_date"`
}

func NotificationFor(r ReminderRecord) Notification {
	return Notification{
		ReminderID:     r.ID,
		OwnerID:        r.OwnerID,
		DocumentName:   r.DocumentName,
		ExpirationDate: r.ExpirationDate,
	}
}

// ReconcileReport summarises one reconciliation pass.
type ReconcileReport struct {
	Scope            Scope                  `json:"scope"`
	Now              time.Time              `json:"now"`
	Examined         int                    `json:"examined"`
	Transitioned     map[ReminderStatus]int `json:"transitioned"`
	Stale            int                    `json:"stale"`
	Dispatched       int                    `json:"dispatched"`
	DispatchFailures int                    `json:"dispatch_failures"`
	PersistFailures  int                    `json:"persist_failures"`
}

func (r ReconcileReport) TotalTransitions() int {
	total := 0
	for _, n := range r.Transitioned {
		total += n
	}
	return total
}
