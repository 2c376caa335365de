// Package transport delivers outbound replies over the Telegram Bot API.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"aria/internal/models"
	"aria/internal/resilience"

	"github.com/leonid-shevtsov/telegold"
	"github.com/yuin/goldmark"
)

// telegramMessageLimit is the Bot API cap on message text length.
const telegramMessageLimit = 4096

// Telegram Markdown converter using telegold (goldmark with Telegram HTML renderer)
var telegramMarkdownConverter = goldmark.New(goldmark.WithRenderer(telegold.NewRenderer()))

// TelegramSender sends messages through the Telegram Bot API. Model output is
// markdown; it is converted to Telegram HTML before sending.
type TelegramSender struct {
	botToken   string
	apiBase    string
	httpClient *http.Client
}

// NewTelegramSender creates a sender for the given bot token.
func NewTelegramSender(botToken string) *TelegramSender {
	return &TelegramSender{
		botToken: botToken,
		apiBase:  "https://api.telegram.org",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetAPIBase overrides the Bot API host (tests).
func (s *TelegramSender) SetAPIBase(base string) {
	s.apiBase = strings.TrimSuffix(base, "/")
}

// Send delivers one outbound message. Optional controls are rendered as a
// reply keyboard so flow menus are tappable.
func (s *TelegramSender) Send(ctx context.Context, msg models.OutboundMessage) error {
	text := markdownToTelegramHTML(msg.Text)
	if len(text) > telegramMessageLimit {
		text = text[:telegramMessageLimit-3] + "..."
	}

	payload := map[string]interface{}{
		"chat_id":    msg.ChannelID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if len(msg.Controls) > 0 {
		rows := make([][]map[string]string, 0, len(msg.Controls))
		for _, option := range msg.Controls {
			rows = append(rows, []map[string]string{{"text": option}})
		}
		payload["reply_markup"] = map[string]interface{}{
			"keyboard":          rows,
			"one_time_keyboard": true,
			"resize_keyboard":   true,
		}
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return resilience.Permanentf("telegram payload encode", err)
	}

	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(jsonPayload))
	if err != nil {
		return resilience.Permanentf("telegram request build", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return resilience.Transientf("telegram send", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.Transientf("telegram response read", err)
	}

	var telegramResp struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(respBody, &telegramResp); err != nil {
		return resilience.Transientf("telegram response parse", err)
	}

	if !telegramResp.OK {
		apiErr := fmt.Errorf("telegram API error %d: %s", telegramResp.ErrorCode, telegramResp.Description)
		if telegramResp.ErrorCode == http.StatusTooManyRequests || telegramResp.ErrorCode >= 500 {
			return resilience.Transientf("telegram send", apiErr)
		}
		return resilience.Permanentf("telegram send", apiErr)
	}

	return nil
}

// markdownToTelegramHTML converts model markdown to Telegram-safe HTML.
// Falls back to raw text when conversion fails; Telegram renders it plain.
func markdownToTelegramHTML(text string) string {
	var buf bytes.Buffer
	if err := telegramMarkdownConverter.Convert([]byte(text), &buf); err != nil {
		log.Printf("⚠️  [TELEGRAM] Markdown conversion failed, sending plain text: %v", err)
		return text
	}
	return strings.TrimSpace(buf.String())
}

// TelegramUpdate is the inbound webhook payload subset the engine consumes.
type TelegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

// ToInbound converts a Telegram update to the engine's neutral wire type.
// Returns false for update kinds the engine does not process (edits, media).
func (u *TelegramUpdate) ToInbound() (models.InboundUpdate, bool) {
	if u.Message == nil || strings.TrimSpace(u.Message.Text) == "" {
		return models.InboundUpdate{}, false
	}
	return models.InboundUpdate{
		UpdateID:  fmt.Sprintf("%d", u.UpdateID),
		ChannelID: fmt.Sprintf("%d", u.Message.Chat.ID),
		Text:      u.Message.Text,
	}, true
}
