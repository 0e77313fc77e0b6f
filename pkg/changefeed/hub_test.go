package changefeed

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubDeliversInOrderPerTable(t *testing.T) {
	hub := NewHub(8, zap.NewNop())
	sub, err := hub.Subscribe(context.Background(), "requests")
	require.NoError(t, err)
	other, err := hub.Subscribe(context.Background(), "request_applications")
	require.NoError(t, err)

	for _, typ := range []EventType{EventInsert, EventUpdate, EventDelete} {
		require.NoError(t, hub.Publish(Event{Table: "requests", Type: typ}))
	}

	assert.Equal(t, EventInsert, (<-sub.Events()).Type)
	assert.Equal(t, EventUpdate, (<-sub.Events()).Type)
	assert.Equal(t, EventDelete, (<-sub.Events()).Type)
	assert.Len(t, other.Events(), 0)
}

func TestHubWildcardSubscriber(t *testing.T) {
	hub := NewHub(8, zap.NewNop())
	sub, err := hub.Subscribe(context.Background(), Wildcard)
	require.NoError(t, err)

	require.NoError(t, hub.Publish(Event{Table: "teacher_rates", Type: EventInsert}))
	ev := <-sub.Events()
	assert.Equal(t, "teacher_rates", ev.Table)
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	hub := NewHub(1, zap.NewNop())
	sub, err := hub.Subscribe(context.Background(), "requests")
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers())

	sub.Close()
	sub.Close()

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers())
	require.NoError(t, hub.Publish(Event{Table: "requests", Type: EventInsert}))
}

func TestHubClosesLaggingSubscriber(t *testing.T) {
	hub := NewHub(1, zap.NewNop())
	sub, err := hub.Subscribe(context.Background(), "requests")
	require.NoError(t, err)

	require.NoError(t, hub.Publish(Event{Table: "requests", Type: EventInsert}))
	require.NoError(t, hub.Publish(Event{Table: "requests", Type: EventUpdate}))

	first, open := <-sub.Events()
	require.True(t, open)
	assert.Equal(t, EventInsert, first.Type)
	_, open = <-sub.Events()
	assert.False(t, open)
}

func TestHubCloseRejectsNewWork(t *testing.T) {
	hub := NewHub(1, zap.NewNop())
	sub, err := hub.Subscribe(context.Background(), "requests")
	require.NoError(t, err)

	hub.Close()
	hub.Close()

	_, open := <-sub.Events()
	assert.False(t, open)
	_, err = hub.Subscribe(context.Background(), "requests")
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.ErrorIs(t, hub.Publish(Event{Table: "requests"}), ErrHubClosed)
}

func TestDecode(t *testing.T) {
	ev, err := Decode(`{"table":"requests","type":"DELETE","new":null,"old":{"id":7}}`)
	require.NoError(t, err)
	assert.Equal(t, EventDelete, ev.Type)
	assert.JSONEq(t, `{"id":7}`, string(ev.Row()))

	ev, err = Decode(`{"table":"requests","type":"UPDATE","new":{"id":8},"old":{"id":8}}`)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{"id":8}`), ev.Row())

	ev, err = Decode(`{"table":"requests","type":"DELETE","id":9}`)
	require.NoError(t, err)
	assert.Equal(t, int64(9), ev.ID)
	assert.JSONEq(t, `{"id":9}`, string(ev.Row()))
	assert.True(t, ev.Hydrated())

	ev, err = Decode(`{"table":"requests","type":"UPDATE","id":9}`)
	require.NoError(t, err)
	assert.False(t, ev.Hydrated())

	_, err = Decode(`{"table":"requests","type":"TRUNCATE"}`)
	assert.Error(t, err)
	_, err = Decode(`{"type":"INSERT"}`)
	assert.Error(t, err)
	_, err = Decode(`not json`)
	assert.Error(t, err)
}

func TestHubResetClosesSubscribersAndStaysOpen(t *testing.T) {
	hub := NewHub(4, zap.NewNop())
	requests, err := hub.Subscribe(context.Background(), "requests")
	require.NoError(t, err)
	all, err := hub.Subscribe(context.Background(), Wildcard)
	require.NoError(t, err)

	assert.Equal(t, 2, hub.Reset())
	_, open := <-requests.Events()
	assert.False(t, open)
	_, open = <-all.Events()
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers())

	fresh, err := hub.Subscribe(context.Background(), "requests")
	require.NoError(t, err)
	require.NoError(t, hub.Publish(Event{Table: "requests", Type: EventInsert, ID: 1}))
	assert.Equal(t, int64(1), (<-fresh.Events()).ID)
	assert.Equal(t, 0, NewHub(1, nil).Reset())
}
