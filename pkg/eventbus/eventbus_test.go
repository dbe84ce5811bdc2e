package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnagg/aggregator/pkg/model"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := New(4)
	defer bus.Close()

	var mu sync.Mutex
	var got []model.EventType
	done := make(chan struct{}, 1)

	bus.Subscribe(func(e model.Event) {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
		if e.Type == model.EventRunDone {
			done <- struct{}{}
		}
	})

	bus.Publish(model.EventRunStart, "test", nil)
	bus.Publish(model.EventRunDone, "test", nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, model.EventRunStart, got[0])
	assert.Equal(t, model.EventRunDone, got[1])
}

func TestSubscriberPanicDoesNotCrashBus(t *testing.T) {
	bus := New(4)
	defer bus.Close()

	done := make(chan struct{}, 1)
	bus.Subscribe(func(model.Event) { panic("boom") })
	bus.Subscribe(func(e model.Event) { done <- struct{}{} })

	bus.Publish(model.EventErrorOccurred, "test", nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second subscriber never ran")
	}
}
