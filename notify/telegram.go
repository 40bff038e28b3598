package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf16"
)

// Bot API text limits, in UTF-16 code units.
const (
	CaptionLimit = 1024
	MessageLimit = 4096
)

// TextLength measures s the way the Bot API counts length limits. Markup is
// counted too, so the result never undercounts.
func TextLength(s string) int {
	return len(utf16.Encode([]rune(s)))
}

// ErrRecipientBlocked means the recipient has permanently blocked the bot.
var ErrRecipientBlocked = errors.New("notify: recipient blocked the bot")

// Button is one inline keyboard button. Exactly one of URL and CallbackData
// should be set.
type Button struct {
	Text         string
	URL          string
	CallbackData string
}

// Message is a rendered notification. When PhotoURL is set the text becomes
// the photo caption.
type Message struct {
	Text     string
	PhotoURL string
	Buttons  [][]Button
}

// APIError is a non-ok Bot API reply.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

func (e *APIError) Unwrap() error {
	if e.Code == http.StatusForbidden {
		return ErrRecipientBlocked
	}
	return nil
}

// Telegram sends messages through the Bot API.
type Telegram struct {
	base   string
	client *http.Client
}

// NewTelegram creates a Bot API client. apiBase is usually
// https://api.telegram.org.
func NewTelegram(apiBase, token string, timeout time.Duration) *Telegram {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Telegram{
		base:   strings.TrimRight(apiBase, "/") + "/bot" + token,
		client: &http.Client{Timeout: timeout},
	}
}

type inlineButton struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendRequest struct {
	ChatID                int64        `json:"chat_id"`
	Text                  string       `json:"text,omitempty"`
	Photo                 string       `json:"photo,omitempty"`
	Caption               string       `json:"caption,omitempty"`
	ParseMode             string       `json:"parse_mode"`
	DisableWebPagePreview bool         `json:"disable_web_page_preview,omitempty"`
	ReplyMarkup           *replyMarkup `json:"reply_markup,omitempty"`
}

type apiReply struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Send delivers m to chatID, as a photo when it has one. Text too long for a
// caption goes out as a plain message without the photo.
func (t *Telegram) Send(ctx context.Context, chatID int64, m Message) error {
	req := sendRequest{ChatID: chatID, ParseMode: "HTML", ReplyMarkup: keyboard(m.Buttons)}
	method := "sendMessage"
	if m.PhotoURL != "" && TextLength(m.Text) <= CaptionLimit {
		method = "sendPhoto"
		req.Photo = m.PhotoURL
		req.Caption = m.Text
	} else {
		req.Text = m.Text
		req.DisableWebPagePreview = true
	}
	return t.call(ctx, method, req)
}

// SendText delivers a plain HTML message without buttons.
func (t *Telegram) SendText(ctx context.Context, chatID int64, text string) error {
	return t.Send(ctx, chatID, Message{Text: text})
}

func keyboard(rows [][]Button) *replyMarkup {
	if len(rows) == 0 {
		return nil
	}
	out := &replyMarkup{InlineKeyboard: make([][]inlineButton, 0, len(rows))}
	for _, row := range rows {
		r := make([]inlineButton, 0, len(row))
		for _, b := range row {
			r = append(r, inlineButton{Text: b.Text, URL: b.URL, CallbackData: b.CallbackData})
		}
		out.InlineKeyboard = append(out.InlineKeyboard, r)
	}
	return out
}

func (t *Telegram) call(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram %s: encode: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram %s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var reply apiReply
	if err := json.Unmarshal(data, &reply); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Method: method, Code: resp.StatusCode, Description: strings.TrimSpace(string(data))}
		}
		return fmt.Errorf("telegram %s: decode reply: %w", method, err)
	}
	if !reply.OK {
		code := reply.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &APIError{Method: method, Code: code, Description: reply.Description}
	}
	return nil
}
