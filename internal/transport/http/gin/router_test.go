package httpgin

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/vintora/tablebook/internal/provider"
	"github.com/vintora/tablebook/internal/service"
	"github.com/vintora/tablebook/internal/service/booking"
	"github.com/vintora/tablebook/internal/service/hold"
	"github.com/vintora/tablebook/internal/service/payment"
	"github.com/vintora/tablebook/internal/service/query"
	"github.com/vintora/tablebook/internal/service/webhook"
)

// rejectAllGateway fails signature verification for every delivery.
type rejectAllGateway struct{}

func (rejectAllGateway) CreateIntent(context.Context, provider.CreateIntentInput) (*provider.Intent, error) {
	return nil, nil
}

func (rejectAllGateway) RetrieveIntent(context.Context, string) (*provider.Intent, error) {
	return nil, nil
}

func (rejectAllGateway) CancelIntent(context.Context, string) error { return nil }

func (rejectAllGateway) Refund(context.Context, string, string) error { return nil }

func (rejectAllGateway) VerifyEvent([]byte, string) (*provider.Event, error) {
	return nil, provider.ErrBadSignature
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svcs := &service.Services{
		Webhook: webhook.New(nil, rejectAllGateway{}, nil, discardLogger()),
	}
	r := NewRouter(svcs, nil, NewBroadcaster(), discardLogger())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment-provider",
		strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=0,v1=bogus")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid signature")
}

func TestRespondErrMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		err  error
		want int
	}{
		{hold.ErrUnitNotFound, http.StatusNotFound},
		{hold.ErrUnitUnavailable, http.StatusConflict},
		{payment.ErrHoldNotFound, http.StatusNotFound},
		{payment.ErrHoldExpired, http.StatusGone},
		{payment.ErrIntentExists, http.StatusConflict},
		{booking.ErrHoldExpired, http.StatusGone},
		{booking.ErrBookingNotFound, http.StatusNotFound},
		{booking.ErrOutcomeConflict, http.StatusConflict},
		{webhook.ErrBadSignature, http.StatusBadRequest},
		{webhook.ErrDeferred, http.StatusConflict},
		{query.ErrEventNotFound, http.StatusNotFound},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		respondErr(c, tc.err)
		assert.Equal(t, tc.want, w.Code, "error %v", tc.err)
	}
}

func TestHoldCreateRejectsBadBody(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svcs := &service.Services{}
	r := NewRouter(svcs, nil, NewBroadcaster(), discardLogger())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/availability/1/hold",
		strings.NewReader(`{"ttlSeconds": 60}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	// ownerToken is required
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHoldCreateRejectsBadUnitID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svcs := &service.Services{}
	r := NewRouter(svcs, nil, NewBroadcaster(), discardLogger())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/availability/abc/hold",
		strings.NewReader(`{"ownerToken":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
