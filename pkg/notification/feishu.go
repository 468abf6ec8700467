package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"yarrow/pkg/logger"
)

// FeishuNotifier sends notifications to Feishu (Lark)
type FeishuNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewFeishuNotifier creates a notifier for webhookURL, falling back to FEISHU_WEBHOOK_URL.
// Without a URL every send is a no-op.
func NewFeishuNotifier(webhookURL string) *FeishuNotifier {
	if webhookURL == "" {
		webhookURL = os.Getenv("FEISHU_WEBHOOK_URL")
	}

	return &FeishuNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enabled reports whether a webhook URL is configured
func (f *FeishuNotifier) Enabled() bool {
	return f.webhookURL != ""
}

// RunCompletedNotification describes a finished fleet run
type RunCompletedNotification struct {
	RunID      string
	Session    string
	Script     string
	Provider   string
	Runners    int
	Ticks      int
	Summary    string
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// SendRunCompletedNotification posts the final summary of a run
func (f *FeishuNotifier) SendRunCompletedNotification(ctx context.Context, n *RunCompletedNotification) error {
	if !f.Enabled() {
		logger.DebugCtx(ctx, "Feishu webhook URL not configured, skipping notification")
		return nil
	}

	payload, err := json.Marshal(f.buildRunCompletedMessage(n))
	if err != nil {
		return fmt.Errorf("failed to marshal Feishu message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Feishu notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Feishu API returned status code: %d", resp.StatusCode)
	}

	logger.InfoCtx(ctx, "Feishu notification sent for run %s", n.RunID)
	return nil
}

func lmd(content string) map[string]interface{} {
	return map[string]interface{}{"tag": "lark_md", "content": content}
}

func field(label, value string) map[string]interface{} {
	return map[string]interface{}{
		"is_short": true,
		"text":     lmd(fmt.Sprintf("**%s**\n%s", label, value)),
	}
}

// buildRunCompletedMessage builds a Feishu message card for a finished run
func (f *FeishuNotifier) buildRunCompletedMessage(n *RunCompletedNotification) map[string]interface{} {
	template, title, outcome := "green", "Fleet run completed", "completed"
	if n.Err != nil {
		template, title, outcome = "red", "Fleet run failed", n.Err.Error()
	}

	return map[string]interface{}{
		"msg_type": "interactive",
		"card": map[string]interface{}{
			"header": map[string]interface{}{
				"template": template,
				"title": map[string]interface{}{
					"content": title,
					"tag":     "plain_text",
				},
			},
			"elements": []interface{}{
				map[string]interface{}{
					"tag":  "div",
					"text": lmd(fmt.Sprintf("**Session**: %s\n**Script**: %s", n.Session, n.Script)),
				},
				map[string]interface{}{"tag": "hr"},
				map[string]interface{}{
					"tag": "div",
					"fields": []interface{}{
						field("Provider", n.Provider),
						field("Runners", fmt.Sprintf("%d", n.Runners)),
						field("Ticks", fmt.Sprintf("%d", n.Ticks)),
						field("Duration", n.FinishedAt.Sub(n.StartedAt).Round(time.Second).String()),
					},
				},
				map[string]interface{}{
					"tag":  "div",
					"text": lmd(fmt.Sprintf("**Final summary**: %s", n.Summary)),
				},
				map[string]interface{}{
					"tag": "note",
					"elements": []interface{}{
						map[string]interface{}{
							"content": fmt.Sprintf("run %s %s at %s", n.RunID, outcome, n.FinishedAt.Format("2006-01-02 15:04:05")),
							"tag":     "plain_text",
						},
					},
				},
			},
		},
	}
}
