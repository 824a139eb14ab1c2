package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"PostForge/internal/config"
	"PostForge/internal/domain"
	"PostForge/internal/markup"
	"PostForge/internal/ports"
)

const defaultBaseURL = "https://api.telegram.org"

// bot wraps the sendMessage call shared by the channel and the operator chat.
type bot struct {
	baseURL  string
	botToken string
	client   *http.Client
	limiter  *rate.Limiter
}

func newBot(cfg config.TelegramConfig) *bot {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	b := &bot{
		baseURL:  strings.TrimRight(base, "/"),
		botToken: cfg.BotToken,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
	if cfg.MessagesPerSecond > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), 1)
	}
	return b
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

// send posts an HTML message and classifies failures as *domain.DeliveryError.
func (b *bot) send(ctx context.Context, chatID, text string) error {
	if b.botToken == "" || chatID == "" {
		return &domain.DeliveryError{Permanent: true, Err: errors.New("telegram bot misconfigured")}
	}
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return &domain.DeliveryError{Err: fmt.Errorf("wait for rate limit: %w", err)}
		}
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", b.baseURL, b.botToken)
	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", text)
	form.Set("parse_mode", "HTML")
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &domain.DeliveryError{Permanent: true, Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		return &domain.DeliveryError{Err: fmt.Errorf("do request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var decoded apiResponse
	_ = json.Unmarshal(raw, &decoded)

	desc := decoded.Description
	if desc == "" {
		desc = resp.Status
	}
	derr := &domain.DeliveryError{Err: fmt.Errorf("telegram error %d: %s", resp.StatusCode, desc)}
	if decoded.Parameters != nil && decoded.Parameters.RetryAfter > 0 {
		derr.RetryAfter = time.Duration(decoded.Parameters.RetryAfter) * time.Second
	}
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
		derr.Permanent = true
	}
	return derr
}

// Channel publishes final posts to the configured Telegram channel.
type Channel struct {
	bot    *bot
	chatID string
}

var _ ports.Channel = (*Channel)(nil)

// NewChannel registers bot token and channel identifier.
func NewChannel(cfg config.TelegramConfig) *Channel {
	return &Channel{bot: newBot(cfg), chatID: cfg.ChannelID}
}

// Deliver converts the post to the Telegram HTML subset and sends it.
func (c *Channel) Deliver(ctx context.Context, text string) error {
	return c.bot.send(ctx, c.chatID, markup.TelegramHTML(text))
}

// Operator sends plain failure reports to the operator chat.
type Operator struct {
	bot    *bot
	chatID string
}

var _ ports.OperatorNotifier = (*Operator)(nil)

// NewOperator registers bot token and operator chat identifier.
func NewOperator(cfg config.TelegramConfig) *Operator {
	return &Operator{bot: newBot(cfg), chatID: cfg.OperatorChatID}
}

// Report escapes text and sends it. Without an operator chat it is a no-op.
func (o *Operator) Report(ctx context.Context, text string) error {
	if o.chatID == "" {
		return nil
	}
	return o.bot.send(ctx, o.chatID, escapeHTML(text))
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
