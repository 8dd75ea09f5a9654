package notify

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jorgepascosoto/collection-archiver/internal/pipeline"
)

// RunSummary is the notification view of a pipeline Outcome.
type RunSummary struct {
	RunID          string
	Status         string
	DatabaseName   string
	CollectionName string
	ArchiveKey     string
	ArchiveSize    int64
	Encrypted      bool
	Exported       int
	Deleted        int64
	FailedStage    string
	Reason         string
	Error          error
	Warnings       []error
	Duration       time.Duration
	Finished       time.Time
}

func NewRunSummary(dbName, collection string, o *pipeline.Outcome) *RunSummary {
	s := &RunSummary{
		RunID:          o.RunID,
		Status:         o.Kind.String(),
		DatabaseName:   dbName,
		CollectionName: collection,
		Exported:       o.Exported,
		Deleted:        o.Deleted,
		Reason:         o.Reason,
		Error:          o.Err,
		Warnings:       o.Warnings,
		Duration:       o.Duration(),
		Finished:       o.Finished,
	}
	if o.Kind == pipeline.OutcomeCompleted {
		s.ArchiveKey = o.ArchiveKey
		s.ArchiveSize = o.ArchiveSize
		s.Encrypted = o.Encrypted
	}
	if o.Kind == pipeline.OutcomeFailed {
		s.FailedStage = o.FailedStage.String()
	}
	return s
}

func (s *RunSummary) Failed() bool {
	return s.Status == pipeline.OutcomeFailed.String()
}

// ShouldNotify applies the success/failure gates. Skipped runs count as
// successes.
func (s *RunSummary) ShouldNotify(onSuccess, onFailure bool) bool {
	if s.Failed() {
		return onFailure
	}
	return onSuccess
}

// WriteGitHubSummary appends a markdown table to the step summary when
// running inside GitHub Actions.
func WriteGitHubSummary(summary *RunSummary) error {
	summaryFile := os.Getenv("GITHUB_STEP_SUMMARY")
	if summaryFile == "" {
		return nil // Not running in GitHub Actions
	}

	return appendFile(summaryFile, buildSummaryMarkdown(summary))
}

func buildSummaryMarkdown(summary *RunSummary) string {
	var sb strings.Builder

	sb.WriteString("## Collection Archive Summary\n\n")

	switch {
	case summary.Failed():
		sb.WriteString("**Status:** :x: Failed\n\n")
	case summary.Status == pipeline.OutcomeSkipped.String():
		sb.WriteString("**Status:** :fast_forward: Skipped\n\n")
	default:
		sb.WriteString("**Status:** :white_check_mark: Completed\n\n")
	}

	sb.WriteString("| Property | Value |\n")
	sb.WriteString("|----------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Database | %s |\n", summary.DatabaseName))
	sb.WriteString(fmt.Sprintf("| Collection | %s |\n", summary.CollectionName))
	sb.WriteString(fmt.Sprintf("| Run ID | `%s` |\n", summary.RunID))

	switch {
	case summary.Failed():
		sb.WriteString(fmt.Sprintf("| Failed Stage | %s |\n", summary.FailedStage))
		if summary.Error != nil {
			sb.WriteString(fmt.Sprintf("| Error | %s |\n", summary.Error.Error()))
		}
	case summary.ArchiveKey != "":
		sb.WriteString(fmt.Sprintf("| Archive Key | `%s` |\n", summary.ArchiveKey))
		sb.WriteString(fmt.Sprintf("| Archive Size | %s |\n", humanize.Bytes(uint64(summary.ArchiveSize))))
		sb.WriteString(fmt.Sprintf("| Encrypted | %s |\n", boolToEmoji(summary.Encrypted)))
		sb.WriteString(fmt.Sprintf("| Exported | %d |\n", summary.Exported))
		sb.WriteString(fmt.Sprintf("| Deleted | %d |\n", summary.Deleted))
	case summary.Reason != "":
		sb.WriteString(fmt.Sprintf("| Reason | %s |\n", summary.Reason))
	}
	sb.WriteString(fmt.Sprintf("| Duration | %s |\n", summary.Duration.Round(time.Millisecond)))

	for _, w := range summary.Warnings {
		sb.WriteString(fmt.Sprintf("| Warning | %s |\n", w.Error()))
	}

	sb.WriteString("\n")

	return sb.String()
}

func boolToEmoji(b bool) string {
	if b {
		return ":white_check_mark:"
	}
	return ":x:"
}

func SetGitHubOutput(name, value string) error {
	outputFile := os.Getenv("GITHUB_OUTPUT")
	if outputFile == "" {
		return nil
	}

	return appendFile(outputFile, fmt.Sprintf("%s=%s\n", name, value))
}

func appendFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
