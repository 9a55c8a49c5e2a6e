package event_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/distqueue/distqueue/internal/event"
)

func TestFeedDeliversToSubscribers(t *testing.T) {
	var f event.Feed
	sub := f.Subscribe(4)
	defer sub.Unsubscribe()

	f.Send(event.TaskEvent{Kind: event.KindSubmitted, TaskID: 1})

	select {
	case ev := <-sub.Chan():
		require.Equal(t, uint64(1), ev.TaskID)
		require.Equal(t, event.KindSubmitted, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFeedDropsOnFullBuffer(t *testing.T) {
	var f event.Feed
	sub := f.Subscribe(1)
	defer sub.Unsubscribe()

	f.Send(event.TaskEvent{Kind: event.KindClaimed, TaskID: 1})
	f.Send(event.TaskEvent{Kind: event.KindClaimed, TaskID: 2}) // dropped, buffer full

	ev := <-sub.Chan()
	require.Equal(t, uint64(1), ev.TaskID)
}

func TestUnsubscribeClosesChannels(t *testing.T) {
	var f event.Feed
	sub := f.Subscribe(1)
	sub.Unsubscribe()
	sub.Unsubscribe() // must not panic

	_, ok := <-sub.Chan()
	require.False(t, ok)
}
