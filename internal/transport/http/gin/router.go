package httpgin

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/vintora/tablebook/internal/repository"
	redisrepo "github.com/vintora/tablebook/internal/repository/redis"
	"github.com/vintora/tablebook/internal/service"
	"github.com/vintora/tablebook/internal/service/admin"
	"github.com/vintora/tablebook/internal/service/booking"
	"github.com/vintora/tablebook/internal/service/hold"
	"github.com/vintora/tablebook/internal/service/payment"
	"github.com/vintora/tablebook/internal/service/query"
	"github.com/vintora/tablebook/internal/service/webhook"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	broadcaster *Broadcaster,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health + metrics
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public API
	r.GET("/events/:id/availability", handleGetAvailability(svcs))
	r.GET("/events/:id/availability/stream", handleAvailabilityStream(broadcaster))
	r.GET("/units/:unitId", handleGetUnit(svcs))

	r.POST("/availability/:unitId/hold", handleCreateHold(svcs, idem))
	r.DELETE("/holds/:holdId", handleReleaseHold(svcs))

	r.POST("/holds/:holdId/payment-intent", handleCreateIntent(svcs))
	r.GET("/holds/:holdId/payment-intent", handleGetIntent(svcs))
	r.GET("/payment-intents/:intentId", handleGetIntentByID(svcs))
	r.POST("/payment-intents/:intentId/confirm", handleConfirmIntent(svcs))

	r.POST("/webhooks/payment-provider", handleProviderWebhook(svcs))

	r.GET("/bookings/:id", handleGetBooking(svcs))

	// Admin-API
	// TODO: add admin auth middleware
	adminGroup := r.Group("/admin")
	{
		adminGroup.POST("/events", handleCreateEvent(svcs))
		adminGroup.POST("/events/:id/units", handleSeedUnits(svcs))
		adminGroup.POST("/bookings/:id/cancel", handleCancelBooking(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Availability snapshot for an event
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  AvailabilityResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		units, err := svcs.Query.Availability(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 5s; the stream carries invalidation hints
		writeJSONWithCache(c, http.StatusOK,
			AvailabilityResponse{EventID: eventID, Units: units},
			"public, max-age=5", true)
	}
}

// @Summary  Create hold (idempotent via Idempotency-Key)
// @Param    unitId  path  int  true  "Unit ID"
// @Param    req body  CreateHoldRequest true "payload"
// @Header   200 {string} Idempotency-Key "echo"
// @Success  200 {object} CreateHoldResponse
// @Failure  400 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse "unit not found"
// @Failure  409 {object} ErrorResponse "unit held or booked / idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /availability/{unitId}/hold [post]
func handleCreateHold(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		unitID, ok := parseInt64Param(c, "unitId")
		if !ok {
			return
		}
		var req CreateHoldRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemHold(unitID, idemKey)

			if payload, ok, _ := idem.GetResult(
				c.Request.Context(),
				idemStorageKey,
			); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(
					http.StatusOK,
					"application/json; charset=utf-8",
					[]byte(payload),
				)
				return
			}

			locked, err := idem.AcquireLock(
				c.Request.Context(),
				idemStorageKey,
				60*time.Second,
			)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(
					c.Request.Context(),
					idemStorageKey,
				); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(
						http.StatusOK,
						"application/json; charset=utf-8",
						[]byte(payload),
					)
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(
					http.StatusConflict,
					ErrorResponse{Error: "idempotency key in progress"},
				)
				return
			}
		}

		ttl := time.Duration(req.TTLSeconds) * time.Second
		rlKey := "ip:" + c.ClientIP()

		h, err := svcs.Hold.Create(
			c.Request.Context(),
			unitID,
			req.OwnerToken,
			ttl,
			rlKey,
		)
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			if errors.Is(err, hold.ErrRateLimited) {
				c.Header("Retry-After", "60")
				c.JSON(
					http.StatusTooManyRequests,
					ErrorResponse{Error: "rate limited"},
				)
				return
			}
			respondErr(c, err)
			return
		}

		resp := CreateHoldResponse{
			HoldID:    h.ID.String(),
			UnitID:    h.UnitID,
			ExpiresAt: h.ExpiresAt,
		}

		if idemStorageKey != "" && idem != nil {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusOK, resp)
	}
}

// @Summary  Release hold
// @Param    holdId  path  string  true  "Hold ID (uuid)"
// @Success  204
// @Router   /holds/{holdId} [delete]
func handleReleaseHold(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		holdID, ok := parseUUIDParam(c, "holdId")
		if !ok {
			return
		}
		if err := svcs.Hold.Release(c.Request.Context(), holdID); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary  Create payment intent for a hold
// @Param    holdId  path  string  true  "Hold ID (uuid)"
// @Param    req body  CreateIntentRequest true "payload"
// @Success  200 {object} CreateIntentResponse
// @Failure  404 {object} ErrorResponse "hold not found"
// @Failure  410 {object} ErrorResponse "hold expired"
// @Router   /holds/{holdId}/payment-intent [post]
func handleCreateIntent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		holdID, ok := parseUUIDParam(c, "holdId")
		if !ok {
			return
		}
		var req CreateIntentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		in, err := svcs.Payment.CreateIntent(
			c.Request.Context(),
			holdID,
			req.AmountCents,
			req.GuestDetails,
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, CreateIntentResponse{
			IntentID:             in.ID.String(),
			ProviderClientSecret: in.ClientSecret,
			Status:               string(in.Status),
		})
	}
}

// @Summary  Get unit
// @Param    unitId  path  int  true  "Unit ID"
// @Success  200 {object} UnitResponse
// @Failure  404 {object} ErrorResponse
// @Router   /units/{unitId} [get]
func handleGetUnit(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		unitID, ok := parseInt64Param(c, "unitId")
		if !ok {
			return
		}
		u, err := svcs.Query.GetUnit(c.Request.Context(), unitID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, UnitResponse{
			UnitID:   u.ID,
			EventID:  u.EventID,
			Label:    u.Label,
			Capacity: u.Capacity,
			State:    string(u.State),
		}, "public, max-age=5", true)
	}
}

// @Summary  Get payment intent for a hold
// @Param    holdId  path  string  true  "Hold ID (uuid)"
// @Success  200 {object} CreateIntentResponse
// @Failure  404 {object} ErrorResponse
// @Router   /holds/{holdId}/payment-intent [get]
func handleGetIntent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		holdID, ok := parseUUIDParam(c, "holdId")
		if !ok {
			return
		}
		in, err := svcs.Payment.GetIntent(c.Request.Context(), holdID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, CreateIntentResponse{
			IntentID:             in.ID.String(),
			ProviderClientSecret: in.ClientSecret,
			Status:               string(in.Status),
		})
	}
}

// @Summary  Get payment intent
// @Param    intentId  path  string  true  "Payment intent ID (uuid)"
// @Success  200 {object} CreateIntentResponse
// @Failure  404 {object} ErrorResponse
// @Router   /payment-intents/{intentId} [get]
func handleGetIntentByID(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		intentID, ok := parseUUIDParam(c, "intentId")
		if !ok {
			return
		}
		in, err := svcs.Payment.GetIntentByID(c.Request.Context(), intentID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, CreateIntentResponse{
			IntentID:             in.ID.String(),
			ProviderClientSecret: in.ClientSecret,
			Status:               string(in.Status),
		})
	}
}

// @Summary  Confirm payment (synchronous path)
// @Param    intentId  path  string  true  "Payment intent ID (uuid)"
// @Success  200 {object} BookingResponse
// @Success  202 {object} ErrorResponse "payment still pending"
// @Failure  404 {object} ErrorResponse
// @Failure  410 {object} ErrorResponse "hold expired, charge refunded"
// @Router   /payment-intents/{intentId}/confirm [post]
func handleConfirmIntent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		intentID, ok := parseUUIDParam(c, "intentId")
		if !ok {
			return
		}
		b, err := svcs.Booking.ConfirmSync(c.Request.Context(), intentID)
		if err != nil {
			if errors.Is(err, booking.ErrPaymentPending) {
				c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
				return
			}
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toBookingResponse(b))
	}
}

// @Summary  Payment provider webhook
// @Success  200 {object} map[string]bool
// @Failure  400 {object} ErrorResponse "bad signature"
// @Failure  409 {object} ErrorResponse "deferred, redeliver"
// @Router   /webhooks/payment-provider [post]
func handleProviderWebhook(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
		if err != nil {
			badRequest(c, "cannot read body")
			return
		}

		sig := c.GetHeader("Stripe-Signature")

		if err := svcs.Webhook.Handle(c.Request.Context(), payload, sig); err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

// @Summary  Get booking
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} BookingResponse
// @Failure  404 {object} ErrorResponse
// @Router   /bookings/{id} [get]
func handleGetBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		b, err := svcs.Booking.GetBooking(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toBookingResponse(b))
	}
}

// @Summary  Create event
// @Param    req body  CreateEventRequest true "payload"
// @Success  201 {object} CreateEventResponse
// @Router   /admin/events [post]
func handleCreateEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		starts, err := parseRFC3339(req.StartsAt)
		if err != nil {
			badRequest(c, "invalid starts_at (RFC3339)")
			return
		}
		ends, err := parseRFC3339(req.EndsAt)
		if err != nil {
			badRequest(c, "invalid ends_at (RFC3339)")
			return
		}
		id, err := svcs.Admin.CreateEvent(c.Request.Context(), req.Title, starts, ends)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, CreateEventResponse{EventID: id})
	}
}

// @Summary  Seed units for an event
// @Param    id  path  int  true  "Event ID"
// @Param    req body  SeedUnitsRequest true "payload"
// @Success  201 {object} map[string]int
// @Router   /admin/events/{id}/units [post]
func handleSeedUnits(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req SeedUnitsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		units := make([]repository.UnitInput, 0, len(req.Units))
		for _, u := range req.Units {
			units = append(units, repository.UnitInput{Label: u.Label, Capacity: u.Capacity})
		}
		if err := svcs.Admin.SeedUnits(c.Request.Context(), eventID, units); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"created": len(units)})
	}
}

// @Summary  Cancel booking and refund
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} BookingResponse
// @Failure  404 {object} ErrorResponse
// @Router   /admin/bookings/{id}/cancel [post]
func handleCancelBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		b, err := svcs.Booking.Cancel(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toBookingResponse(b))
	}
}

// --- Helpers ---

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	v, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return v, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	// hold service
	case errors.Is(err, hold.ErrUnitNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unit not found"})
		return
	case errors.Is(err, hold.ErrUnitUnavailable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "unit held or booked"})
		return
	case errors.Is(err, hold.ErrHoldNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "hold not found"})
		return
	// payment service
	case errors.Is(err, payment.ErrHoldNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "hold not found"})
		return
	case errors.Is(err, payment.ErrHoldExpired):
		c.JSON(http.StatusGone, ErrorResponse{Error: "hold expired"})
		return
	case errors.Is(err, payment.ErrIntentExists):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "payment already finished for this hold"})
		return
	case errors.Is(err, payment.ErrIntentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "payment intent not found"})
		return
	// booking service
	case errors.Is(err, booking.ErrIntentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "payment intent not found"})
		return
	case errors.Is(err, booking.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking not found"})
		return
	case errors.Is(err, booking.ErrHoldExpired):
		c.JSON(http.StatusGone, ErrorResponse{Error: "hold expired, charge refunded"})
		return
	case errors.Is(err, booking.ErrOutcomeConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conflicting payment outcome"})
		return
	// webhook service
	case errors.Is(err, webhook.ErrBadSignature):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid signature"})
		return
	case errors.Is(err, webhook.ErrDeferred):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "event deferred, redeliver"})
		return
	// query service
	case errors.Is(err, query.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	case errors.Is(err, query.ErrUnitNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unit not found"})
		return
	// admin service
	case errors.Is(err, admin.ErrEventConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "event conflict"})
		return
	case errors.Is(err, admin.ErrUnitsConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "units conflict"})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
