package notify

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const (
	defaultTelegramAPI = "https://api.telegram.org"
	maxCaptionPreview  = 700 // Telegram captions cap at 1024 characters
	maxAlertChars      = 3500
)

// Telegram delivers records to one admin chat through the Bot API.
type Telegram struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegram creates a Telegram deliverer. apiBase may be empty.
func NewTelegram(apiBase, token, chatID string) *Telegram {
	if apiBase == "" {
		apiBase = defaultTelegramAPI
	}
	return &Telegram{
		apiBase: strings.TrimSuffix(apiBase, "/"),
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Name implements Deliverer.
func (t *Telegram) Name() string { return "telegram" }

// Durable implements Deliverer: the chat keeps the uploaded document.
func (t *Telegram) Durable() bool { return true }

// Deliver implements Deliverer.
func (t *Telegram) Deliver(ctx context.Context, rec Record) error {
	if rec.IsFile() {
		return t.sendDocument(ctx, rec.Path, FileCaption(rec))
	}
	return t.sendMessage(ctx, PreviewMessage(rec))
}

// Alert sends a crash report. Long traces keep their tail, where the panic site is.
func (t *Telegram) Alert(ctx context.Context, text string) error {
	if len(text) > maxAlertChars {
		text = text[len(text)-maxAlertChars:]
	}
	msg := "🚨 <b>CRITICAL SYSTEM FAILURE</b> 🚨\n\n<pre>" + html.EscapeString(text) + "</pre>"
	return t.sendMessage(ctx, msg)
}

// PreviewMessage renders a preview record as Telegram HTML.
func PreviewMessage(rec Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>🎯 Important req:</b> %s\n\n", html.EscapeString(rec.Origin))
	b.WriteString(html.EscapeString(rec.Preview))
	fmt.Fprintf(&b, "\n<pre>logsift snapshot %s</pre>", html.EscapeString(rec.Origin))
	return b.String()
}

// FileCaption renders the caption for a file record as Telegram HTML.
func FileCaption(rec Record) string {
	caption := fmt.Sprintf("📦 <b>Log Export:</b> %s\n📝 <b>Reason:</b> %s",
		html.EscapeString(rec.Origin), html.EscapeString(rec.Reason))
	if rec.Preview != "" {
		// Cut before escaping so an entity is never split.
		preview := rec.Preview
		if r := []rune(preview); len(r) > maxCaptionPreview {
			preview = string(r[:maxCaptionPreview]) + "…"
		}
		caption += "\n\n" + html.EscapeString(preview)
	}
	return caption
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.apiBase, t.token, method)
}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	form := url.Values{
		"chat_id":    {t.chatID},
		"text":       {text},
		"parse_mode": {"HTML"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendMessage"), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return t.do(req)
}

func (t *Telegram) sendDocument(ctx context.Context, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("telegram: open %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("chat_id", t.chatID)
	_ = mw.WriteField("caption", caption)
	_ = mw.WriteField("parse_mode", "HTML")
	part, err := mw.CreateFormFile("document", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("telegram: read %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendDocument"), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return t.do(req)
}

func (t *Telegram) do(req *http.Request) error {
	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of logs.
		return fmt.Errorf("telegram: %s request failed", filepath.Base(req.URL.Path))
	}
	defer resp.Body.Close()

	var tr telegramResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tr); err != nil {
		return fmt.Errorf("telegram: status %d: decode response: %w", resp.StatusCode, err)
	}
	if !tr.OK {
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, tr.Description)
	}
	return nil
}
