// Package notify delivers operator messages. Delivery is fire-and-forget:
// failures are logged and counted, never propagated to the caller.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"upbitbot-go/internal/metrics"
)

// Notifier is the engine-facing notification contract.
type Notifier interface {
	Notify(message string)
}

// Nop discards every message; backtests use it.
type Nop struct{}

func (Nop) Notify(string) {}

// Telegram posts messages to a Telegram channel via the bot API.
type Telegram struct {
	baseURL   string
	botToken  string
	channelID string
	client    *http.Client
	log       zerolog.Logger
}

// NewTelegram builds a notifier for the given bot token and channel.
func NewTelegram(botToken, channelID string, log zerolog.Logger) *Telegram {
	return &Telegram{
		baseURL:   "https://api.telegram.org",
		botToken:  botToken,
		channelID: channelID,
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log,
	}
}

// WithBaseURL overrides the API host, used by tests.
func (t *Telegram) WithBaseURL(url string) *Telegram {
	t.baseURL = url
	return t
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Notify sends the message. Any failure is swallowed after logging.
func (t *Telegram) Notify(message string) {
	body, err := json.Marshal(sendMessageRequest{ChatID: t.channelID, Text: message, ParseMode: "HTML"})
	if err != nil {
		t.fail(err)
		return
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.fail(err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.fail(err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		t.fail(fmt.Errorf("telegram responded %d", resp.StatusCode))
	}
}

func (t *Telegram) fail(err error) {
	metrics.NotifyFailures.Inc()
	t.log.Warn().Err(err).Msg("notification delivery failed")
}
