package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/conductor/internal/event"
)

// AckFunc posts an acknowledgement reply into the originating thread.
type AckFunc func(channel, threadTS, text string)

// SlackParser maps Slack Events API payloads to task:requested events.
type SlackParser struct {
	ack    AckFunc
	logger zerolog.Logger
}

// NewSlackParser creates a parser. ack may be nil when no chat client
// is configured.
func NewSlackParser(ack AckFunc, logger zerolog.Logger) *SlackParser {
	return &SlackParser{
		ack:    ack,
		logger: logger.With().Str("component", "ingest.slack").Logger(),
	}
}

type slackEnvelope struct {
	Type  string `json:"type"`
	Event struct {
		Type     string `json:"type"`
		SubType  string `json:"subtype"`
		Text     string `json:"text"`
		User     string `json:"user"`
		BotID    string `json:"bot_id"`
		Channel  string `json:"channel"`
		TS       string `json:"ts"`
		ThreadTS string `json:"thread_ts"`
	} `json:"event"`
}

// Parse maps a verified request body to zero or more events. Bot
// messages and non-message payloads produce nothing.
func (p *SlackParser) Parse(body []byte) ([]event.Event, error) {
	var env slackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding slack payload: %w", err)
	}

	if env.Type != "event_callback" || env.Event.Type != "message" {
		return nil, nil
	}
	// Messages from bots (bot marker or bot subtype) never start work.
	if env.Event.BotID != "" || env.Event.SubType == "bot_message" {
		return nil, nil
	}
	if env.Event.SubType != "" || env.Event.Text == "" {
		return nil, nil
	}

	ev := event.New(event.SourceSlack, event.TaskRequested)
	ev.Raw = json.RawMessage(body)
	ev.Message = env.Event.Text
	ev.SenderID = env.Event.User
	ev.Channel = env.Event.Channel
	ev.ThreadTS = env.Event.ThreadTS
	if ev.ThreadTS == "" {
		ev.ThreadTS = env.Event.TS
	}

	if p.ack != nil {
		channel, threadTS := ev.Channel, ev.ThreadTS
		ev.Ack = func(text string) {
			p.ack(channel, threadTS, text)
		}
	}

	return []event.Event{ev}, nil
}
