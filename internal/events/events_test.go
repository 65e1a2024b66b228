package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBusDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	stop := make(chan struct{})
	go bus.Run(stop)
	defer close(stop)

	sub := bus.Subscribe(4)
	bus.Publish(Event{Kind: TradeDetected, Reason: "test"})

	select {
	case e := <-sub:
		require.Equal(t, TradeDetected, e.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	stop := make(chan struct{})
	go bus.Run(stop)
	defer close(stop)

	sub := bus.Subscribe(4)
	bus.Unsubscribe(sub)
	time.Sleep(10 * time.Millisecond)
	bus.Publish(Event{Kind: CopyFailed})

	select {
	case <-sub:
		t.Fatal("unsubscribed channel should not receive events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusFanOutToMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	stop := make(chan struct{})
	go bus.Run(stop)
	defer close(stop)

	subA := bus.Subscribe(4)
	subB := bus.Subscribe(4)
	bus.Publish(Event{Kind: PositionOpened})

	for _, sub := range []chan Event{subA, subB} {
		select {
		case e := <-sub:
			require.Equal(t, PositionOpened, e.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}
