package httpgin

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	redisrepo "github.com/vintora/tablebook/internal/repository/redis"
)

// Broadcaster bridges the redis availability channel to per-event SSE
// subscribers in this process. Delivery is best-effort: a slow client's
// buffer fills and further messages for it are dropped, which is fine
// because clients re-fetch the snapshot on (re)connect.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[int64]map[chan redisrepo.AvailabilityChangedMsg]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[int64]map[chan redisrepo.AvailabilityChangedMsg]struct{}),
	}
}

// Run consumes the redis channel until ctx is canceled.
func (b *Broadcaster) Run(ctx context.Context, pubsub *redisrepo.AvailabilityPubSub) error {
	err := pubsub.Subscribe(ctx, func(_ context.Context, msg redisrepo.AvailabilityChangedMsg) {
		b.dispatch(msg)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (b *Broadcaster) dispatch(msg redisrepo.AvailabilityChangedMsg) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs[msg.EventID] {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (b *Broadcaster) subscribe(eventID int64) (<-chan redisrepo.AvailabilityChangedMsg, func()) {
	ch := make(chan redisrepo.AvailabilityChangedMsg, 16)

	b.mu.Lock()
	if b.subs[eventID] == nil {
		b.subs[eventID] = make(map[chan redisrepo.AvailabilityChangedMsg]struct{})
	}
	b.subs[eventID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs[eventID], ch)
		if len(b.subs[eventID]) == 0 {
			delete(b.subs, eventID)
		}
		b.mu.Unlock()
	}

	return ch, cancel
}

const sseHeartbeat = 15 * time.Second

// handleAvailabilityStream streams `{unitId, newState}` messages for one
// event. No replay: the client fetches the snapshot on connect and treats
// the stream as invalidation hints.
func handleAvailabilityStream(bc *Broadcaster) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		ch, cancel := bc.subscribe(eventID)
		defer cancel()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		heartbeat := time.NewTicker(sseHeartbeat)
		defer heartbeat.Stop()

		ctx := c.Request.Context()

		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case msg := <-ch:
				c.SSEvent("availability", gin.H{
					"unitId":   msg.UnitID,
					"newState": msg.NewState,
				})
				return true
			case <-heartbeat.C:
				c.SSEvent("ping", time.Now().Unix())
				return true
			}
		})
	}
}
