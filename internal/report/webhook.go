package report

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// WebhookSink posts reports to a chat incoming-webhook URL.
type WebhookSink struct {
	url     string
	channel string
	client  *http.Client
}

// NewWebhookSink creates a WebhookSink. channel may be empty.
func NewWebhookSink(url, channel string) *WebhookSink {
	return &WebhookSink{
		url:     url,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// Name implements Sink.
func (w *WebhookSink) Name() string { return "webhook" }

// SendMessage posts the report text as a preformatted block.
func (w *WebhookSink) SendMessage(ctx context.Context, msg Message) error {
	return w.post(ctx, "*"+msg.Title+"*\n```\n"+msg.Text+"\n```")
}

// UploadFile posts a link to the uploaded attachment. Webhooks cannot carry
// file bodies, so a file without a URL only announces its local path.
func (w *WebhookSink) UploadFile(ctx context.Context, f File) error {
	text := "*" + f.Title + "*"
	if f.Caption != "" {
		text += "\n" + f.Caption
	}
	if f.URL != "" {
		text += "\n<" + f.URL + "|" + f.Name + ">"
	} else {
		text += "\n" + f.Name + " saved to " + f.Path
	}
	return w.post(ctx, text)
}

func (w *WebhookSink) post(ctx context.Context, text string) error {
	payload, err := json.Marshal(webhookPayload{Channel: w.channel, Text: text})
	if err != nil {
		return eris.Wrap(err, "report: marshal webhook payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "report: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "report: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("report: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
