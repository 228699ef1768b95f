package slackchat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rookdaemon/agorabus"
)

func TestConfig_Validate(t *testing.T) {
	c := Config{ID: "slack", BotToken: "xoxb-test", Channel: "C123"}
	require.NoError(t, c.Validate())

	assert.Error(t, Config{BotToken: "xoxb-test", Channel: "C123"}.Validate())
	assert.Error(t, Config{ID: "slack", Channel: "C123"}.Validate())
	assert.Error(t, Config{ID: "slack", BotToken: "xoxb-test"}.Validate())
}

func TestConfigFromMap(t *testing.T) {
	c := ConfigFromMap(map[string]any{
		"id":        "announcer",
		"bot_token": "xoxb-test",
		"channel":   "C123",
	})
	assert.Equal(t, "announcer", c.ID)
	assert.Equal(t, "xoxb-test", c.BotToken)
	assert.Equal(t, "C123", c.Channel)

	d := ConfigFromMap(map[string]any{"bot_token": "xoxb-test", "channel": "C123"})
	assert.Equal(t, "slack", d.ID)
}

func TestNew_RejectsIncompleteConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestMessageTypes(t *testing.T) {
	p, err := New(Config{ID: "slack", BotToken: "xoxb-test", Channel: "C123"})
	require.NoError(t, err)
	assert.Equal(t, []string{"chat.message", "chat.notice"}, p.MessageTypes())
}

func TestSend_BeforeStartFails(t *testing.T) {
	p, err := New(Config{ID: "slack", BotToken: "xoxb-test", Channel: "C123"})
	require.NoError(t, err)

	msg, err := agorabus.NewMessage(agorabus.Options{Type: "chat.message", Payload: "hi"})
	require.NoError(t, err)
	assert.ErrorIs(t, p.Send(context.Background(), msg), ErrNotStarted)
}

func TestPayloadText(t *testing.T) {
	assert.Equal(t, "hi", payloadText("hi"))
	assert.Equal(t, "raw", payloadText([]byte("raw")))
	assert.Empty(t, payloadText(struct{}{}))
	assert.Empty(t, payloadText(nil))
}
