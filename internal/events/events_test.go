package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewEventBus()

	var got []*Event
	bus.Subscribe(EventSyncCompleted, func(e *Event) error {
		got = append(got, e)
		return nil
	})
	bus.Subscribe(EventSyncFailed, func(e *Event) error {
		t.Fatal("wrong event type delivered")
		return nil
	})

	bus.Publish(&Event{Type: EventSyncCompleted})

	require.Len(t, got, 1)
	assert.Equal(t, EventSyncCompleted, got[0].Type)
	assert.False(t, got[0].CreatedAt.IsZero(), "publish stamps the event time")
}

func TestPublishJSONRoundTrip(t *testing.T) {
	bus := NewEventBus()

	var got RowEventPayload
	bus.Subscribe(EventRowSynced, func(e *Event) error {
		return json.Unmarshal(e.Payload, &got)
	})

	err := bus.PublishJSON(EventRowSynced, RowEventPayload{
		RowIndex: 3,
		Outcome:  "api_error",
		Message:  "list not found: Ghost",
	})
	require.NoError(t, err)

	assert.Equal(t, 3, got.RowIndex)
	assert.Equal(t, "api_error", got.Outcome)
	assert.Equal(t, "list not found: Ghost", got.Message)
}

func TestPublishJSONNilBus(t *testing.T) {
	var bus *EventBus
	assert.NoError(t, bus.PublishJSON(EventSyncStarted, SyncEventPayload{}))
}

func TestHandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := NewEventBus()

	var second int
	bus.Subscribe(EventSyncStarted, func(*Event) error { return errors.New("boom") })
	bus.Subscribe(EventSyncStarted, func(*Event) error {
		second++
		return nil
	})

	bus.Publish(&Event{Type: EventSyncStarted})
	assert.Equal(t, 1, second)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewEventBus()
	bus.Publish(&Event{Type: EventSyncFailed})
}
