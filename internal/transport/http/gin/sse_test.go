package httpgin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vintora/tablebook/internal/domain"
	redisrepo "github.com/vintora/tablebook/internal/repository/redis"
)

func TestBroadcasterDispatch(t *testing.T) {
	bc := NewBroadcaster()

	ch1, cancel1 := bc.subscribe(1)
	defer cancel1()
	ch2, cancel2 := bc.subscribe(2)
	defer cancel2()

	bc.dispatch(redisrepo.AvailabilityChangedMsg{
		EventID:  1,
		UnitID:   7,
		NewState: domain.UnitHeld,
	})

	select {
	case msg := <-ch1:
		assert.Equal(t, int64(7), msg.UnitID)
		assert.Equal(t, domain.UnitHeld, msg.NewState)
	default:
		t.Fatal("subscriber for event 1 got nothing")
	}

	select {
	case <-ch2:
		t.Fatal("subscriber for event 2 must not receive event 1 messages")
	default:
	}
}

func TestBroadcasterCancelRemovesSubscriber(t *testing.T) {
	bc := NewBroadcaster()

	ch, cancel := bc.subscribe(5)
	cancel()

	bc.dispatch(redisrepo.AvailabilityChangedMsg{EventID: 5, UnitID: 1})

	select {
	case <-ch:
		t.Fatal("canceled subscriber still receives messages")
	default:
	}

	bc.mu.RLock()
	_, exists := bc.subs[5]
	bc.mu.RUnlock()
	assert.False(t, exists)
}

func TestBroadcasterSlowClientDropped(t *testing.T) {
	bc := NewBroadcaster()

	ch, cancel := bc.subscribe(9)
	defer cancel()

	// fill the buffer past capacity; dispatch must never block
	for i := 0; i < 100; i++ {
		bc.dispatch(redisrepo.AvailabilityChangedMsg{EventID: 9, UnitID: int64(i)})
	}

	require.Equal(t, 16, len(ch))
}
