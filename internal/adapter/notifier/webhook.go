package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/vertextoedge/book-downloader/internal/adapter/httpclient"
	"github.com/vertextoedge/book-downloader/internal/port"
	"go.uber.org/zap"
)

// WebhookNotifier posts download notifications to a chat webhook
type WebhookNotifier struct {
	webhookURL string
	client     *retryablehttp.Client
	logger     *zap.Logger
}

// Ensure WebhookNotifier implements port.Notifier
var _ port.Notifier = (*WebhookNotifier)(nil)

type webhookPayload struct {
	Content string `json:"content"`
	BookID  string `json:"book_id"`
}

// NewWebhookNotifier creates a notifier. A nil client gets the default retrying client.
func NewWebhookNotifier(webhookURL string, client *retryablehttp.Client, logger *zap.Logger) *WebhookNotifier {
	if client == nil {
		client = httpclient.New(nil, logger)
	}
	return &WebhookNotifier{
		webhookURL: webhookURL,
		client:     client,
		logger:     logger,
	}
}

// DownloadFinished sends "Download finished: <title> (<size>)"
func (n *WebhookNotifier) DownloadFinished(ctx context.Context, bookID, title, sizeDescription string) error {
	if n.webhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	body, err := json.Marshal(webhookPayload{
		Content: FinishedMessage(title, sizeDescription),
		BookID:  bookID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	n.logger.Debug("download notification sent", zap.String("book_id", bookID))
	return nil
}

// FinishedMessage formats the user-facing completion text
func FinishedMessage(title, sizeDescription string) string {
	return fmt.Sprintf("Download finished: %s (%s)", title, sizeDescription)
}

// LogNotifier only logs notifications; used when no webhook is configured
type LogNotifier struct {
	logger *zap.Logger
}

// Ensure LogNotifier implements port.Notifier
var _ port.Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) DownloadFinished(ctx context.Context, bookID, title, sizeDescription string) error {
	n.logger.Info(FinishedMessage(title, sizeDescription), zap.String("book_id", bookID))
	return nil
}

// New returns a webhook notifier, or a log notifier when webhookURL is empty
func New(webhookURL string, client *retryablehttp.Client, logger *zap.Logger) port.Notifier {
	if webhookURL == "" {
		return NewLogNotifier(logger)
	}
	return NewWebhookNotifier(webhookURL, client, logger)
}
