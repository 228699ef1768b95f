package agorabus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rookdaemon/agorabus"
)

func TestNewMessage_RequiresType(t *testing.T) {
	_, err := agorabus.NewMessage(agorabus.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, agorabus.ErrInvalidMessage)
}

func TestNewMessage_AssignsIDAndTimestamp(t *testing.T) {
	msg, err := agorabus.NewMessage(agorabus.Options{
		Type:        "chat.message",
		Source:      "session",
		Destination: "slack",
		Payload:     "hello",
		Meta:        map[string]string{"sender_id": "u1"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())
	assert.Equal(t, "chat.message", msg.Type)
	assert.Equal(t, "session", msg.Source)
	assert.Equal(t, "slack", msg.Destination)
	assert.Equal(t, "hello", msg.Payload)
	assert.Equal(t, "u1", msg.Meta["sender_id"])
}

func TestNewMessage_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		msg, err := agorabus.NewMessage(agorabus.Options{Type: "test.event"})
		require.NoError(t, err)
		require.False(t, seen[msg.ID], "duplicate id %s", msg.ID)
		seen[msg.ID] = true
	}
}

func TestWithSource_AmendsOnlySource(t *testing.T) {
	msg, err := agorabus.NewMessage(agorabus.Options{
		Type:    "agora.update",
		Source:  "relay",
		Payload: 42,
	})
	require.NoError(t, err)

	echo := msg.WithSource("loopback")

	assert.Equal(t, "loopback", echo.Source)
	assert.Equal(t, msg.ID, echo.ID)
	assert.Equal(t, msg.Timestamp, echo.Timestamp)
	assert.Equal(t, msg.Type, echo.Type)
	assert.Equal(t, msg.Payload, echo.Payload)

	// The original is untouched.
	assert.Equal(t, "relay", msg.Source)
}
