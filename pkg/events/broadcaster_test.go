package events_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgaunet/s3browse/pkg/dto"
	"github.com/sgaunet/s3browse/pkg/events"
)

func TestBroadcastToAllSubscribers(t *testing.T) {
	bc := events.NewBroadcaster()
	a := bc.Subscribe()
	b := bc.Subscribe()
	defer bc.Unsubscribe(a)
	defer bc.Unsubscribe(b)

	assert.Equal(t, 2, bc.Count())

	ev := dto.Event{Kind: dto.ListingUpdated, Remote: "r1", Prefix: "docs/"}
	bc.Publish(ev)

	assert.Equal(t, ev, <-a)
	assert.Equal(t, ev, <-b)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bc := events.NewBroadcaster()
	ch := bc.Subscribe()
	bc.Unsubscribe(ch)

	assert.Equal(t, 0, bc.Count())
	_, open := <-ch
	assert.False(t, open)

	// Publishing after all subscribers left must not panic.
	bc.Publish(dto.Event{Kind: dto.ListingUpdated})
}

func TestSlowConsumerDropsEvents(t *testing.T) {
	bc := events.NewBroadcaster()
	ch := bc.Subscribe()
	defer bc.Unsubscribe(ch)

	// Fill far beyond the channel buffer; Publish must never block.
	for i := 0; i < 200; i++ {
		bc.Publish(dto.Event{Kind: dto.TransferUpdated, JobID: "j"})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	require.Greater(t, received, 0)
	assert.Less(t, received, 200, "overflow events are dropped")
}
