package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	notice := AbsenceNotice{
		SubjectHandle: "alice",
		WindowID:      "win-1",
		WindowName:    "CS101 Monday",
		RecordedAt:    time.Date(2025, 3, 10, 9, 10, 0, 0, time.UTC),
	}
	body, err := notice.Encode()
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, Message{Type: TypeAbsence, Body: body}))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		assert.Equal(t, TypeAbsence, msg.Type)
		got, err := DecodeAbsence(msg.Body)
		require.NoError(t, err)
		assert.Equal(t, notice, got)
	case <-time.After(time.Second):
		t.Fatal("no message consumed")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	msg := Message{Type: TypeAbsence, Body: []byte(`{"subject_handle":"a|b"}`)}
	got, err := deserialize(serialize(msg))
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}
