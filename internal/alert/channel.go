package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"insider-tracker/pkg/types"
)

// Channel delivers a FormattedAlert and reports success. Implementations
// are data behind a two-method interface, not an inheritance hierarchy.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert types.FormattedAlert) bool
}

// ChannelConfig tunes retry/backoff shared by all channel adapters.
type ChannelConfig struct {
	MaxRetries    int           // default 3
	BaseBackoff   time.Duration // default 500ms
	RatePerMinute int           // default 20
	DryRun        bool
}

func applyChannelDefaults(cfg ChannelConfig) ChannelConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 20
	}
	return cfg
}

// discordEmbedPayload is the JSON body webhook-style channels expect:
// {"embeds": [...]}.
type discordEmbedPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// DiscordChannel is the webhook-style alert channel: a single POST of the
// rich embed, with retry/backoff and a dry-run short-circuit.
type DiscordChannel struct {
	http    *resty.Client
	limiter *slidingWindowLimiter
	cfg     ChannelConfig
	logger  *slog.Logger
}

// NewDiscordChannel builds a Discord webhook channel against webhookURL.
func NewDiscordChannel(webhookURL string, cfg ChannelConfig, logger *slog.Logger) *DiscordChannel {
	cfg = applyChannelDefaults(cfg)
	return &DiscordChannel{
		http:    resty.New().SetBaseURL(webhookURL).SetTimeout(10 * time.Second),
		limiter: newSlidingWindowLimiter(cfg.RatePerMinute),
		cfg:     cfg,
		logger:  logger,
	}
}

func (d *DiscordChannel) Name() string { return "discord" }

func (d *DiscordChannel) Send(ctx context.Context, alert types.FormattedAlert) bool {
	if d.cfg.DryRun {
		d.logger.Info("DRY-RUN: would send discord alert", "assessment", alert.Assessment.AssessmentID)
		return true
	}
	d.limiter.wait()

	payload := discordEmbedPayload{Embeds: []discordEmbed{{
		Title:       alert.RichEmbed.Title,
		Description: alert.RichEmbed.Description,
		Color:       alert.RichEmbed.Color,
		Fields:      toDiscordFields(alert.RichEmbed.Fields),
	}}}

	return withRetry(ctx, d.cfg, d.logger, "discord", func() (bool, int, *int) {
		resp, err := d.http.R().SetContext(ctx).SetBody(payload).Post("")
		if err != nil {
			d.logger.Warn("discord send failed", "error", err)
			return false, 0, nil
		}
		if resp.StatusCode() == 204 {
			return true, resp.StatusCode(), nil
		}
		return false, resp.StatusCode(), parseRetryAfterHeader(resp)
	})
}

func toDiscordFields(fields []types.AlertEmbedField) []discordField {
	out := make([]discordField, len(fields))
	for i, f := range fields {
		out[i] = discordField{Name: f.Name, Value: f.Value, Inline: f.Inline}
	}
	return out
}

func parseRetryAfterHeader(resp *resty.Response) *int {
	if resp.StatusCode() != 429 {
		return nil
	}
	var body struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.RetryAfter > 0 {
		s := int(body.RetryAfter)
		return &s
	}
	return nil
}

// TelegramChannel is the bot-API-style alert channel.
type TelegramChannel struct {
	http    *resty.Client
	chatID  string
	limiter *slidingWindowLimiter
	cfg     ChannelConfig
	logger  *slog.Logger
}

// NewTelegramChannel builds a Telegram bot-API channel.
func NewTelegramChannel(botToken, chatID string, cfg ChannelConfig, logger *slog.Logger) *TelegramChannel {
	cfg = applyChannelDefaults(cfg)
	return &TelegramChannel{
		http:    resty.New().SetBaseURL(fmt.Sprintf("https://api.telegram.org/bot%s", botToken)).SetTimeout(10 * time.Second),
		chatID:  chatID,
		limiter: newSlidingWindowLimiter(cfg.RatePerMinute),
		cfg:     cfg,
		logger:  logger,
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

type telegramSendMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResponse struct {
	OK         bool `json:"ok"`
	ErrorCode  int  `json:"error_code"`
	Parameters struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (t *TelegramChannel) Send(ctx context.Context, alert types.FormattedAlert) bool {
	if t.cfg.DryRun {
		t.logger.Info("DRY-RUN: would send telegram alert", "assessment", alert.Assessment.AssessmentID)
		return true
	}
	t.limiter.wait()

	payload := telegramSendMessage{
		ChatID:                t.chatID,
		Text:                  alert.Markdown,
		ParseMode:             "MarkdownV2",
		DisableWebPagePreview: false,
	}

	return withRetry(ctx, t.cfg, t.logger, "telegram", func() (bool, int, *int) {
		var result telegramResponse
		resp, err := t.http.R().SetContext(ctx).SetBody(payload).SetResult(&result).Post("/sendMessage")
		if err != nil {
			t.logger.Warn("telegram send failed", "error", err)
			return false, 0, nil
		}
		if result.OK {
			return true, resp.StatusCode(), nil
		}
		var retryAfter *int
		if result.ErrorCode == 429 && result.Parameters.RetryAfter > 0 {
			retryAfter = &result.Parameters.RetryAfter
		}
		return false, resp.StatusCode(), retryAfter
	})
}

// withRetry runs attempt up to cfg.MaxRetries+1 times. A 429 response honors
// the server-supplied retry_after before the next attempt; otherwise backoff
// is exponential from cfg.BaseBackoff.
func withRetry(ctx context.Context, cfg ChannelConfig, logger *slog.Logger, channel string, attempt func() (ok bool, status int, retryAfter *int)) bool {
	backoff := cfg.BaseBackoff
	for try := 0; try <= cfg.MaxRetries; try++ {
		ok, status, retryAfter := attempt()
		if ok {
			return true
		}
		if try == cfg.MaxRetries {
			logger.Warn("channel send exhausted retries", "channel", channel, "status", status)
			return false
		}

		wait := backoff
		if retryAfter != nil {
			wait = time.Duration(*retryAfter) * time.Second
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		backoff *= 2
	}
	return false
}
