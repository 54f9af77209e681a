package service

import (
	"log/slog"

	"github.com/vintora/tablebook/internal/provider"
	postgres "github.com/vintora/tablebook/internal/repository/postgres"
	redis "github.com/vintora/tablebook/internal/repository/redis"
	"github.com/vintora/tablebook/internal/service/admin"
	"github.com/vintora/tablebook/internal/service/booking"
	"github.com/vintora/tablebook/internal/service/hold"
	"github.com/vintora/tablebook/internal/service/payment"
	"github.com/vintora/tablebook/internal/service/query"
	"github.com/vintora/tablebook/internal/service/webhook"
)

type Services struct {
	Hold    *hold.Service
	Payment *payment.Service
	Booking *booking.Service
	Webhook *webhook.Service
	Query   *query.Service
	Admin   *admin.Service
}

type Config struct {
	Hold    hold.Config
	Payment payment.Config
	Query   query.Config
}

func NewServices(
	store *postgres.Store,
	cache *redis.Cache,
	pubsub *redis.AvailabilityPubSub,
	limiter *redis.SlidingWindowLimiter,
	gateway provider.Gateway,
	logger *slog.Logger,
	cfg Config,
) *Services {
	bookingSvc := booking.New(store, cache, pubsub, gateway, logger)

	return &Services{
		Hold:    hold.New(store, cache, pubsub, limiter, gateway, logger, cfg.Hold),
		Payment: payment.New(store, gateway, logger, cfg.Payment),
		Booking: bookingSvc,
		Webhook: webhook.New(store, gateway, bookingSvc, logger),
		Query:   query.New(store, cache, cfg.Query),
		Admin:   admin.New(store, cache, logger),
	}
}
