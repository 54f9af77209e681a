package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vintora/tablebook/internal/domain"
)

// AvailabilityPubSub fans out unit-state changes to subscribers. Delivery is
// best-effort: a client that misses a message gets correct data on the next
// snapshot fetch.
type AvailabilityPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewAvailabilityPubSub(rdb *redis.Client) *AvailabilityPubSub {
	return &AvailabilityPubSub{
		rdb:     rdb,
		channel: ChannelAvailability(),
	}
}

type AvailabilityChangedMsg struct {
	Type     string           `json:"type"`
	EventID  int64            `json:"event_id"`
	UnitID   int64            `json:"unit_id"`
	NewState domain.UnitState `json:"new_state"`
	TsUnix   int64            `json:"ts_unix"`
}

func (p *AvailabilityPubSub) PublishUnitChanged(
	ctx context.Context,
	eventID, unitID int64,
	newState domain.UnitState,
) error {
	msg := AvailabilityChangedMsg{
		Type:     "availability_changed",
		EventID:  eventID,
		UnitID:   unitID,
		NewState: newState,
		TsUnix:   time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

func (p *AvailabilityPubSub) Subscribe(
	ctx context.Context,
	handler func(ctx context.Context, msg AvailabilityChangedMsg),
) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg AvailabilityChangedMsg
			if err := json.Unmarshal([]byte(m.Payload), &msg); err == nil &&
				msg.UnitID != 0 {
				handler(ctx, msg)
			}
		}
	}
}
