package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(BatchFlushed, "conservative", BatchFlushedData{FlushID: "f1", TotalShares: 100})

	select {
	case event := <-ch:
		assert.Equal(t, BatchFlushed, event.Type)
		assert.Equal(t, "conservative", event.Bucket)
		assert.NotEmpty(t, event.ID)
		data, ok := event.Data.(BatchFlushedData)
		require.True(t, ok)
		assert.Equal(t, "f1", data.FlushID)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	ch, cancel := bus.Subscribe()

	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Publish(HarvestCompleted, "conservative", nil)
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	_, cancel := bus.Subscribe()
	defer cancel()

	// Flood well past the buffer without draining; overflow is dropped.
	for i := 0; i < 200; i++ {
		bus.Publish(DepositQueued, "conservative", nil)
	}
}
