package domain

import (
	"time"

	"github.com/google/uuid"
)

type UnitState string

const (
	UnitAvailable UnitState = "available"
	UnitHeld      UnitState = "held"
	UnitBooked    UnitState = "booked"
)

// ValidTransition reports whether a Unit may move from one state to another.
// Allowed: available→held, held→available, held→booked, booked→available.
// A booked Unit never goes back to held.
func ValidTransition(from, to UnitState) bool {
	switch from {
	case UnitAvailable:
		return to == UnitHeld
	case UnitHeld:
		return to == UnitAvailable || to == UnitBooked
	case UnitBooked:
		return to == UnitAvailable
	}
	return false
}

type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentSucceeded IntentStatus = "succeeded"
	IntentFailed    IntentStatus = "failed"
	IntentCanceled  IntentStatus = "canceled"
)

// Terminal reports whether an intent status can no longer change
// through the normal pending→outcome flow.
func (s IntentStatus) Terminal() bool {
	return s == IntentSucceeded || s == IntentFailed || s == IntentCanceled
}

type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCanceled  BookingStatus = "canceled"
	BookingRefunded  BookingStatus = "refunded"
)

// Unit is a bookable resource within an event: a table, or one slot of
// a ticket class modeled as identical units.
type Unit struct {
	ID       int64
	EventID  int64
	Label    string
	Capacity int
	State    UnitState
}

type UnitAvailability struct {
	UnitID int64     `json:"unit_id"`
	Label  string    `json:"label"`
	State  UnitState `json:"state"`
}

type Hold struct {
	ID         uuid.UUID
	UnitID     int64
	EventID    int64
	OwnerToken string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

func (h *Hold) Expired(now time.Time) bool {
	return !h.ExpiresAt.After(now)
}

type PaymentIntent struct {
	ID             uuid.UUID
	HoldID         uuid.UUID
	UnitID         int64
	EventID        int64
	ProviderID     string
	ClientSecret   string
	AmountCents    int64
	Currency       string
	GuestDetails   []byte // jsonb raw, copied onto the booking at finalize
	Status         IntentStatus
	IdempotencyKey string
	CreatedAt      time.Time
}

type Booking struct {
	ID              uuid.UUID
	UnitID          int64
	EventID         int64
	PaymentIntentID uuid.UUID
	GuestDetails    []byte // jsonb raw
	Status          BookingStatus
	CreatedAt       time.Time
	FinalizedAt     time.Time
}
