package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/yuin/goldmark"
)

// Webhook posts record metadata as JSON to an HTTP endpoint. The payload
// carries the message both as Markdown and as rendered HTML. Files are not
// uploaded, so the webhook is not durable.
type Webhook struct {
	url    string
	client *http.Client
	md     goldmark.Markdown
}

// NewWebhook creates a webhook deliverer for url.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
		md:     goldmark.New(),
	}
}

// WebhookPayload is the JSON body posted for each record.
type WebhookPayload struct {
	Record
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
}

// Name implements Deliverer.
func (w *Webhook) Name() string { return "webhook" }

// Durable implements Deliverer.
func (w *Webhook) Durable() bool { return false }

// Deliver implements Deliverer.
func (w *Webhook) Deliver(ctx context.Context, rec Record) error {
	payload, err := w.Payload(rec)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Payload builds the JSON body for rec.
func (w *Webhook) Payload(rec Record) (*WebhookPayload, error) {
	p := &WebhookPayload{Record: rec, Markdown: MarkdownMessage(rec)}
	if rec.IsFile() {
		p.FileName = filepath.Base(rec.Path)
		if st, err := os.Stat(rec.Path); err == nil {
			p.FileSize = st.Size()
		}
	}

	var buf bytes.Buffer
	if err := w.md.Convert([]byte(p.Markdown), &buf); err != nil {
		return nil, fmt.Errorf("webhook: render markdown: %w", err)
	}
	p.HTML = buf.String()
	return p, nil
}

// MarkdownMessage renders rec as Markdown. User-controlled text goes into
// code spans or fenced blocks so it cannot inject markup.
func MarkdownMessage(rec Record) string {
	var b strings.Builder
	if rec.IsFile() {
		fmt.Fprintf(&b, "**Log export:** `%s`\n\n**Reason:** %s\n\n**File:** `%s`\n",
			codeSafe(rec.Origin), rec.Reason, codeSafe(filepath.Base(rec.Path)))
	} else {
		fmt.Fprintf(&b, "**Important request:** `%s`\n", codeSafe(rec.Origin))
	}
	if rec.Preview != "" {
		fmt.Fprintf(&b, "\n```\n%s\n```\n", strings.ReplaceAll(rec.Preview, "```", "'''"))
	}
	return b.String()
}

func codeSafe(s string) string {
	return strings.ReplaceAll(s, "`", "'")
}
