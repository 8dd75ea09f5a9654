package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
)

type WebhookPayload struct {
	Status        string    `json:"status"`
	RunID         string    `json:"run_id"`
	Database      string    `json:"database"`
	Collection    string    `json:"collection"`
	ArchiveKey    string    `json:"archive_key,omitempty"`
	ArchiveSize   int64     `json:"archive_size,omitempty"`
	ArchiveHuman  string    `json:"archive_size_human,omitempty"`
	Encrypted     bool      `json:"encrypted"`
	Exported      int       `json:"exported"`
	Deleted       int64     `json:"deleted"`
	FailedStage   string    `json:"failed_stage,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Error         string    `json:"error,omitempty"`
	Warnings      []string  `json:"warnings,omitempty"`
	Duration      string    `json:"duration"`
	Timestamp     time.Time `json:"timestamp"`
	Repository    string    `json:"repository,omitempty"`
	WorkflowRunID string    `json:"workflow_run_id,omitempty"`
	WorkflowURL   string    `json:"workflow_run_url,omitempty"`
}

type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, summary *RunSummary) error {
	if n.url == "" {
		return nil
	}

	payload := buildWebhookPayload(summary)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "collection-archiver/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-success status: %d", resp.StatusCode)
	}

	return nil
}

func buildWebhookPayload(summary *RunSummary) *WebhookPayload {
	payload := &WebhookPayload{
		Status:      summary.Status,
		RunID:       summary.RunID,
		Database:    summary.DatabaseName,
		Collection:  summary.CollectionName,
		ArchiveKey:  summary.ArchiveKey,
		ArchiveSize: summary.ArchiveSize,
		Encrypted:   summary.Encrypted,
		Exported:    summary.Exported,
		Deleted:     summary.Deleted,
		FailedStage: summary.FailedStage,
		Reason:      summary.Reason,
		Duration:    summary.Duration.String(),
		Timestamp:   summary.Finished.UTC(),
	}

	if summary.ArchiveSize > 0 {
		payload.ArchiveHuman = humanize.Bytes(uint64(summary.ArchiveSize))
	}
	if summary.Error != nil {
		payload.Error = summary.Error.Error()
	}
	for _, w := range summary.Warnings {
		payload.Warnings = append(payload.Warnings, w.Error())
	}

	// Add GitHub context if available
	if repo := os.Getenv("GITHUB_REPOSITORY"); repo != "" {
		payload.Repository = repo
	}
	if runID := os.Getenv("GITHUB_RUN_ID"); runID != "" {
		payload.WorkflowRunID = runID
		if serverURL := os.Getenv("GITHUB_SERVER_URL"); serverURL != "" {
			if repo := os.Getenv("GITHUB_REPOSITORY"); repo != "" {
				payload.WorkflowURL = fmt.Sprintf("%s/%s/actions/runs/%s", serverURL, repo, runID)
			}
		}
	}

	return payload
}
