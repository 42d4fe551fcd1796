package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/errwatch/errwatch/errors"
	"github.com/errwatch/errwatch/internal/httpclient"
	"github.com/errwatch/errwatch/internal/util"
	"github.com/errwatch/errwatch/source"
)

// Dispatcher delivers one aggregated entry to its destination. Delivery is
// at-most-once per cycle; a failed send is logged and counted, never retried
// within the cycle.
type Dispatcher interface {
	Send(ctx context.Context, entry *Entry) error
}

// EmailDispatcher handles email destinations. There is no SMTP transport;
// deliveries are logged so an external relay can be wired in behind this
// interface.
type EmailDispatcher struct {
	logger *zap.SugaredLogger
}

// NewEmailDispatcher creates the logging email dispatcher.
func NewEmailDispatcher(logger *zap.SugaredLogger) *EmailDispatcher {
	return &EmailDispatcher{logger: logger}
}

// Send logs the aggregated notification for the recipient.
func (d *EmailDispatcher) Send(ctx context.Context, entry *Entry) error {
	if d.logger != nil {
		d.logger.Infow("Email notification",
			"recipient", entry.Destination.Address,
			"kind", entry.Kind,
			"query", entry.QueryName,
			"subject", entry.Subject(),
			"errors", len(entry.Errors))
	}
	return nil
}

// DispatcherOptions configures the channel dispatcher.
type DispatcherOptions struct {
	Timeout           time.Duration
	RequestsPerMinute int
	AllowPrivateURLs  bool
}

// ChannelDispatcher delivers entries to webhook, telegram, and teams
// channels. Outbound requests share a rate limiter so a burst of errors
// doesn't hammer the receiving side.
type ChannelDispatcher struct {
	channels *ChannelStore
	client   *httpclient.SaferClient
	limiter  *rate.Limiter
	logger   *zap.SugaredLogger
}

// NewChannelDispatcher creates a channel dispatcher.
func NewChannelDispatcher(channels *ChannelStore, opts DispatcherOptions, logger *zap.SugaredLogger) *ChannelDispatcher {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	rpm := opts.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}

	client := httpclient.NewSaferClientWithOptions(timeout, httpclient.SaferClientOptions{
		BlockPrivateIP: util.Ptr(!opts.AllowPrivateURLs),
	})

	return &ChannelDispatcher{
		channels: channels,
		client:   client,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm),
		logger:   logger,
	}
}

// Send loads the destination channel, builds its payload, and POSTs it.
// Channel statistics are updated whether or not the send succeeds.
func (d *ChannelDispatcher) Send(ctx context.Context, entry *Entry) error {
	ch, err := d.channels.Get(entry.Destination.Address)
	if err != nil {
		return errors.Wrapf(err, "load channel %s", entry.Destination.Address)
	}
	if !ch.Active {
		return nil
	}

	sendErr := d.post(ctx, ch, entry)
	if err := d.channels.RecordSend(ch.ID, sendErr); err != nil && d.logger != nil {
		d.logger.Warnw("Failed to record channel stats", "channel", ch.ID, "error", err)
	}
	return sendErr
}

func (d *ChannelDispatcher) post(ctx context.Context, ch *Channel, entry *Entry) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limit wait")
	}

	url, body, headers, err := buildChannelRequest(ch, entry)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build channel request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if err := d.client.ValidateURL(req.URL); err != nil {
		return errors.Wrap(err, "channel url rejected")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "post to %s channel %s", ch.Type, ch.Name)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Newf("channel %s returned status %d: %s", ch.Name, resp.StatusCode, respBody)
	}

	if d.logger != nil {
		d.logger.Infow("Channel notification sent",
			"channel", ch.Name,
			"type", ch.Type,
			"kind", entry.Kind,
			"errors", len(entry.Errors))
	}
	return nil
}

// webhookConfig is the config JSON for webhook channels.
type webhookConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// telegramConfig is the config JSON for telegram channels. APIBase exists
// so tests can point at a local server.
type telegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
	APIBase  string `json:"api_base,omitempty"`
}

// teamsConfig is the config JSON for teams channels.
type teamsConfig struct {
	URL string `json:"url"`
}

func buildChannelRequest(ch *Channel, entry *Entry) (url string, body []byte, headers map[string]string, err error) {
	switch ch.Type {
	case ChannelWebhook:
		var cfg webhookConfig
		if err := json.Unmarshal([]byte(ch.Config), &cfg); err != nil || cfg.URL == "" {
			return "", nil, nil, errors.Newf("webhook channel %s has invalid config", ch.Name)
		}
		body, err = json.Marshal(webhookPayload(entry))
		return cfg.URL, body, cfg.Headers, err

	case ChannelTelegram:
		var cfg telegramConfig
		if err := json.Unmarshal([]byte(ch.Config), &cfg); err != nil || cfg.BotToken == "" || cfg.ChatID == "" {
			return "", nil, nil, errors.Newf("telegram channel %s has invalid config", ch.Name)
		}
		base := cfg.APIBase
		if base == "" {
			base = "https://api.telegram.org"
		}
		url = fmt.Sprintf("%s/bot%s/sendMessage", base, cfg.BotToken)
		body, err = json.Marshal(map[string]any{
			"chat_id":    cfg.ChatID,
			"text":       telegramText(entry),
			"parse_mode": "HTML",
		})
		return url, body, nil, err

	case ChannelTeams:
		var cfg teamsConfig
		if err := json.Unmarshal([]byte(ch.Config), &cfg); err != nil || cfg.URL == "" {
			return "", nil, nil, errors.Newf("teams channel %s has invalid config", ch.Name)
		}
		body, err = json.Marshal(teamsCard(entry))
		return cfg.URL, body, nil, err

	default:
		return "", nil, nil, errors.Newf("unknown channel type: %s", ch.Type)
	}
}

// webhookPayload is a generic JSON event for arbitrary receivers.
func webhookPayload(entry *Entry) map[string]any {
	errs := make([]map[string]any, 0, len(entry.Errors))
	for _, ec := range entry.Errors {
		errs = append(errs, map[string]any{
			"error_id":         ec.ErrorID,
			"row":              ec.Row,
			"first_seen_at":    ec.FirstSeenAt.UTC().Format(time.RFC3339),
			"occurrence_count": ec.OccurrenceCount,
		})
	}
	return map[string]any{
		"event":      "errwatch." + entry.Kind,
		"query_id":   entry.QueryID,
		"query_name": entry.QueryName,
		"subject":    entry.Subject(),
		"count":      len(entry.Errors),
		"errors":     errs,
		"sent_at":    time.Now().UTC().Format(time.RFC3339),
	}
}

func telegramText(entry *Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", entry.Subject())
	for i, ec := range entry.Errors {
		if i >= 10 {
			fmt.Fprintf(&b, "… and %d more\n", len(entry.Errors)-i)
			break
		}
		fmt.Fprintf(&b, "• %s (seen %dx)\n", summarizeRow(ec.Row), ec.OccurrenceCount)
	}
	return b.String()
}

func teamsCard(entry *Entry) map[string]any {
	facts := make([]map[string]string, 0, len(entry.Errors))
	for i, ec := range entry.Errors {
		if i >= 10 {
			break
		}
		facts = append(facts, map[string]string{
			"name":  fmt.Sprintf("Error %d", i+1),
			"value": summarizeRow(ec.Row),
		})
	}
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "https://schema.org/extensions",
		"themeColor": "D70000",
		"summary":    entry.Subject(),
		"title":      entry.Subject(),
		"sections": []map[string]any{
			{
				"activityTitle": entry.QueryName,
				"facts":         facts,
			},
		},
	}
}

// summarizeRow renders a short deterministic preview of a row.
func summarizeRow(row source.Row) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	// Stable key order keeps messages reproducible.
	sort.Strings(keys)

	parts := make([]string, 0, 4)
	for _, k := range keys {
		if len(parts) == 4 {
			break
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, source.FormatValue(row[k])))
	}
	return strings.Join(parts, " ")
}
