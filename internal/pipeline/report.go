package pipeline

import (
	"time"

	"github.com/JakeFAU/ai-digest/internal/digest"
	"github.com/JakeFAU/ai-digest/internal/orchestrator"
	"github.com/JakeFAU/ai-digest/internal/recency"
)

// Status is the terminal state of a run.
type Status string

// Run statuses. Only StatusFailed is a failed run; the others all reached
// delivery.
const (
	StatusDelivered      Status = "delivered"
	StatusDeliveryFailed Status = "delivery_failed"
	StatusFailed         Status = "failed"
)

// AccountSummary is the per-account slice of a Report.
type AccountSummary struct {
	Handle    string                 `json:"handle"`
	Winner    string                 `json:"winner,omitempty"`
	Items     int                    `json:"items"`
	Completed bool                   `json:"completed"`
	Attempts  []orchestrator.Attempt `json:"attempts"`
}

// Report describes one pipeline run.
type Report struct {
	RunID            string            `json:"run_id"`
	Status           Status            `json:"status"`
	DigestKind       digest.Kind       `json:"digest_kind,omitempty"`
	DigestStrategy   string            `json:"digest_strategy,omitempty"`
	SummarizerErrors []string          `json:"summarizer_errors,omitempty"`
	Window           time.Duration     `json:"window_ns"`
	WindowFrom       time.Time         `json:"window_from"`
	WindowTo         time.Time         `json:"window_to"`
	Accounts         []AccountSummary  `json:"accounts"`
	Succeeded        int               `json:"accounts_succeeded"`
	PostsCollected   int               `json:"posts_collected"`
	PostsMerged      int               `json:"posts_merged"`
	PostsKept        int               `json:"posts_kept"`
	FilterStats      recency.Stats     `json:"filter_stats"`
	BudgetExhausted  bool              `json:"budget_exhausted"`
	Delivered        bool              `json:"delivered"`
	Notifier         string            `json:"notifier,omitempty"`
	DeliveryError    string            `json:"delivery_error,omitempty"`
	Error            string            `json:"error,omitempty"`
	Artifacts        map[string]string `json:"artifacts,omitempty"`
	ArtifactErrors   []string          `json:"artifact_errors,omitempty"`
	MessageID        string            `json:"message_id,omitempty"`
	Started          time.Time         `json:"started"`
	Finished         time.Time         `json:"finished"`
}

func summarizeAccounts(fetch orchestrator.Report) []AccountSummary {
	out := make([]AccountSummary, 0, len(fetch.Accounts))
	for _, acct := range fetch.Accounts {
		out = append(out, AccountSummary{
			Handle:    acct.Account.Handle,
			Winner:    acct.Winner,
			Items:     len(acct.Posts),
			Completed: acct.Completed,
			Attempts:  acct.Attempts,
		})
	}
	return out
}
