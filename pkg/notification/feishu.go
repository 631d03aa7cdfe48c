package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"lavamon/pkg/logger"
)

// maxCardRows bounds the jobs listed in one card
const maxCardRows = 20

// FeishuNotifier sends notifications to Feishu (Lark)
type FeishuNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewFeishuNotifier creates a new Feishu notifier.
// Priority: webhookURL argument > FEISHU_WEBHOOK_URL environment variable.
func NewFeishuNotifier(webhookURL string) *FeishuNotifier {
	if webhookURL == "" {
		webhookURL = os.Getenv("FEISHU_WEBHOOK_URL")
		if webhookURL != "" {
			logger.Info("Using Feishu webhook URL from environment variable")
		}
	}

	return &FeishuNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enabled reports whether a webhook is configured
func (f *FeishuNotifier) Enabled() bool {
	return f.webhookURL != ""
}

// FinishedJob is one line of a finished-job notification
type FinishedJob struct {
	Job     string
	User    string
	Status  string
	CPUPeak string
	MemPeak string
	RunTime int64 // seconds
}

// NotifyFinishedJobs posts a card summarizing the jobs reported in one monitor pass
func (f *FeishuNotifier) NotifyFinishedJobs(ctx context.Context, jobs []FinishedJob) error {
	if f.webhookURL == "" || len(jobs) == 0 {
		return nil
	}

	payload, err := json.Marshal(f.buildFinishedJobsMessage(jobs))
	if err != nil {
		return fmt.Errorf("failed to marshal Feishu message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.webhookURL, bytes.NewBuffer(payload))
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

	logger.InfoCtx(ctx, "Feishu notification sent for %d finished jobs", len(jobs))
	return nil
}

// buildFinishedJobsMessage builds a Feishu message card listing finished jobs
func (f *FeishuNotifier) buildFinishedJobsMessage(jobs []FinishedJob) map[string]interface{} {
	var lines strings.Builder
	for i, job := range jobs {
		if i == maxCardRows {
			fmt.Fprintf(&lines, "... and %d more", len(jobs)-maxCardRows)
			break
		}
		fmt.Fprintf(&lines, "**%s** %s %s | cpu peak %s | mem peak %s | %ds\n",
			job.Job, job.User, job.Status, job.CPUPeak, job.MemPeak, job.RunTime)
	}

	template := "green"
	for _, job := range jobs {
		if job.Status == "EXIT" {
			template = "orange"
			break
		}
	}

	return map[string]interface{}{
		"msg_type": "interactive",
		"card": map[string]interface{}{
			"header": map[string]interface{}{
				"template": template,
				"title": map[string]interface{}{
					"content": fmt.Sprintf("%d openlava jobs finished", len(jobs)),
					"tag":     "plain_text",
				},
			},
			"elements": []interface{}{
				map[string]interface{}{
					"tag": "div",
					"text": map[string]interface{}{
						"content": lines.String(),
						"tag":     "lark_md",
					},
				},
			},
		},
	}
}
