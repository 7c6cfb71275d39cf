package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/conductor/internal/event"
)

func TestSlackParser_Message(t *testing.T) {
	var acked []string
	p := NewSlackParser(func(channel, threadTS, text string) {
		acked = append(acked, channel+"/"+threadTS+": "+text)
	}, testLogger())

	body := []byte(`{
		"type": "event_callback",
		"event": {"type": "message", "text": "Build payments", "user": "U1", "channel": "C1", "ts": "1700000000.0001"}
	}`)

	events, err := p.Parse(body)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, event.TaskRequested, ev.Type)
	assert.Equal(t, "Build payments", ev.Message)
	assert.Equal(t, "U1", ev.SenderID)
	assert.Equal(t, "C1", ev.Channel)
	assert.Equal(t, "1700000000.0001", ev.ThreadTS)

	require.NotNil(t, ev.Ack)
	ev.Ack("Got it — starting design")
	require.Len(t, acked, 1)
	assert.Equal(t, "C1/1700000000.0001: Got it — starting design", acked[0])
}

func TestSlackParser_ThreadedMessage(t *testing.T) {
	p := NewSlackParser(nil, testLogger())
	body := []byte(`{
		"type": "event_callback",
		"event": {"type": "message", "text": "more detail", "user": "U1", "channel": "C1",
			"ts": "1700000099.0002", "thread_ts": "1700000000.0001"}
	}`)

	events, err := p.Parse(body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "1700000000.0001", events[0].ThreadTS)
}

func TestSlackParser_FiltersBots(t *testing.T) {
	p := NewSlackParser(nil, testLogger())

	cases := []struct {
		name string
		body string
	}{
		{"bot marker", `{"type":"event_callback","event":{"type":"message","text":"hi","bot_id":"B1","channel":"C1"}}`},
		{"bot subtype", `{"type":"event_callback","event":{"type":"message","text":"hi","subtype":"bot_message","channel":"C1"}}`},
		{"message changed", `{"type":"event_callback","event":{"type":"message","text":"hi","user":"U1","subtype":"message_changed"}}`},
		{"non message", `{"type":"event_callback","event":{"type":"reaction_added"}}`},
		{"url verification", `{"type":"url_verification","challenge":"abc"}`},
		{"empty text", `{"type":"event_callback","event":{"type":"message","text":"","user":"U1"}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events, err := p.Parse([]byte(tc.body))
			require.NoError(t, err)
			assert.Empty(t, events)
		})
	}
}

func TestSlackParser_Malformed(t *testing.T) {
	p := NewSlackParser(nil, testLogger())
	_, err := p.Parse([]byte(`{not json`))
	assert.Error(t, err)
}
