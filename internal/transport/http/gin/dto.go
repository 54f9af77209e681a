package httpgin

import (
	"encoding/json"
	"time"

	"github.com/vintora/tablebook/internal/domain"
)

type CreateHoldRequest struct {
	OwnerToken string `json:"ownerToken" binding:"required"`
	TTLSeconds int    `json:"ttlSeconds"`
}

type CreateHoldResponse struct {
	HoldID    string    `json:"holdId"`
	UnitID    int64     `json:"unitId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type CreateIntentRequest struct {
	AmountCents  int64           `json:"amount" binding:"required,gt=0"`
	GuestDetails json.RawMessage `json:"guestDetails"`
}

type CreateIntentResponse struct {
	IntentID             string `json:"intentId"`
	ProviderClientSecret string `json:"providerClientSecret"`
	Status               string `json:"status"`
}

type BookingResponse struct {
	BookingID    string          `json:"bookingId"`
	UnitID       int64           `json:"unitId"`
	EventID      int64           `json:"eventId"`
	GuestDetails json.RawMessage `json:"guestDetails,omitempty"`
	Status       string          `json:"status"`
	FinalizedAt  time.Time       `json:"finalizedAt"`
}

func toBookingResponse(b *domain.Booking) BookingResponse {
	return BookingResponse{
		BookingID:    b.ID.String(),
		UnitID:       b.UnitID,
		EventID:      b.EventID,
		GuestDetails: b.GuestDetails,
		Status:       string(b.Status),
		FinalizedAt:  b.FinalizedAt,
	}
}

type UnitResponse struct {
	UnitID   int64  `json:"unitId"`
	EventID  int64  `json:"eventId"`
	Label    string `json:"label"`
	Capacity int    `json:"capacity"`
	State    string `json:"state"`
}

type AvailabilityResponse struct {
	EventID int64                     `json:"eventId"`
	Units   []domain.UnitAvailability `json:"units"`
}

type CreateEventRequest struct {
	Title    string `json:"title" binding:"required"`
	StartsAt string `json:"starts_at" binding:"required"`
	EndsAt   string `json:"ends_at" binding:"required"`
}

type CreateEventResponse struct {
	EventID int64 `json:"event_id"`
}

type SeedUnitsRequest struct {
	Units []UnitInput `json:"units" binding:"required,min=1,dive"`
}

type UnitInput struct {
	Label    string `json:"label" binding:"required"`
	Capacity int    `json:"capacity" binding:"required,gt=0"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
