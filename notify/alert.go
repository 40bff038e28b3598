package notify

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"carwatch/utils"
)

const userAgent = "carwatch/1.0"

// Alerter is the one-way operator channel.
type Alerter interface {
	Alert(ctx context.Context, title, message string) error
}

// AlertOptions selects the operator channel. ntfy wins over Telegram; with
// neither configured alerts only go to the log.
type AlertOptions struct {
	NtfyURL     string
	Telegram    *Telegram
	AdminChatID int64
	Timeout     time.Duration
	Logger      *utils.Logger
}

// NewAlerter builds the operator alert channel. Every alert is also logged.
func NewAlerter(opts AlertOptions) Alerter {
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewLogger()
	}
	var next Alerter
	switch {
	case strings.TrimSpace(opts.NtfyURL) != "":
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		next = &ntfyAlerter{endpoint: strings.TrimSpace(opts.NtfyURL), client: &http.Client{Timeout: timeout}}
	case opts.Telegram != nil && opts.AdminChatID != 0:
		next = &telegramAlerter{tg: opts.Telegram, chatID: opts.AdminChatID}
	}
	return &logAlerter{logger: logger, next: next}
}

type logAlerter struct {
	logger *utils.Logger
	next   Alerter
}

func (l *logAlerter) Alert(ctx context.Context, title, message string) error {
	l.logger.Warn("[alert] %s: %s", title, message)
	if l.next == nil {
		return nil
	}
	return l.next.Alert(ctx, title, message)
}

type ntfyAlerter struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyAlerter) Alert(ctx context.Context, title, message string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if title != "" {
		req.Header.Set("Title", title)
	}
	req.Header.Set("Tags", "carwatch,credentials")
	req.Header.Set("Priority", "high")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type telegramAlerter struct {
	tg     *Telegram
	chatID int64
}

func (a *telegramAlerter) Alert(ctx context.Context, title, message string) error {
	text := fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(title), html.EscapeString(message))
	return a.tg.SendText(ctx, a.chatID, text)
}
