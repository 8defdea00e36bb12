package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/codalotl/intentbench/internal/types"
)

// TopN is how many ranked models the Slack message lists.
const TopN = 5

// Message formats the summary as Slack mrkdwn: the winner line and the top
// ranked models.
func Message(summary types.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Intent benchmark winner (lowest Brier score):* `%s`\n", summary.Winner)
	for i, m := range summary.Models {
		if i == TopN {
			fmt.Fprintf(&b, "_...and %d more_\n", len(summary.Models)-TopN)
			break
		}
		fmt.Fprintf(&b, "%d. `%s` brier %.4f, accuracy %.4f, avg %.2fs\n", i+1, m.Model, m.BrierScore, m.Accuracy, m.AvgDurationSec)
	}
	if summary.DiagnosticsCount > 0 {
		fmt.Fprintf(&b, "%d record(s) repaired before scoring\n", summary.DiagnosticsCount)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Slack posts the summary to an incoming webhook. An empty URL is a no-op.
func Slack(ctx context.Context, webhookURL string, summary types.Summary) error {
	if strings.TrimSpace(webhookURL) == "" {
		return nil
	}
	msg := &slack.WebhookMessage{Text: Message(summary)}
	if err := slack.PostWebhookContext(ctx, webhookURL, msg); err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	return nil
}
