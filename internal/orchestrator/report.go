package orchestrator

import (
	"time"

	"github.com/JakeFAU/ai-digest/internal/adapter"
	"github.com/JakeFAU/ai-digest/internal/post"
)

// Attempt records one adapter invocation for one account.
type Attempt struct {
	Account string          `json:"account"`
	Adapter string          `json:"adapter"`
	Outcome adapter.Outcome `json:"outcome"`
	Reason  adapter.Reason  `json:"reason,omitempty"`
	Items   int             `json:"items"`
	// Waited is the governor pause taken before the call.
	Waited   time.Duration `json:"waited_ns"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
	// Late marks a call that returned after the run budget expired.
	Late bool `json:"late,omitempty"`
}

// AccountResult is the orchestrator's output for one account. An account
// whose adapters all failed has no posts and an empty Winner.
type AccountResult struct {
	Account  post.AccountTarget `json:"account"`
	Posts    []post.Post        `json:"posts"`
	Winner   string             `json:"winner,omitempty"`
	Attempts []Attempt          `json:"attempts"`
	// Completed is false when the budget expired before the chain finished.
	Completed bool `json:"completed"`
	// BySource holds every successful adapter's posts in comparison mode.
	BySource map[string][]post.Post `json:"by_source,omitempty"`
}

// Report summarizes one orchestrated fetch.
type Report struct {
	Accounts        []AccountResult `json:"accounts"`
	BudgetExhausted bool            `json:"budget_exhausted"`
	Started         time.Time       `json:"started"`
	Finished        time.Time       `json:"finished"`
}

// Attempts counts adapter invocations across accounts.
func (r Report) Attempts() int {
	n := 0
	for _, acct := range r.Accounts {
		n += len(acct.Attempts)
	}
	return n
}

// Succeeded counts accounts that yielded at least one post.
func (r Report) Succeeded() int {
	n := 0
	for _, acct := range r.Accounts {
		if len(acct.Posts) > 0 {
			n++
		}
	}
	return n
}

// PostCount is the number of posts collected before merging.
func (r Report) PostCount() int {
	n := 0
	for _, acct := range r.Accounts {
		n += len(acct.Posts)
	}
	return n
}

// Batches returns every account's posts in account order.
func (r Report) Batches() [][]post.Post {
	out := make([][]post.Post, 0, len(r.Accounts))
	for _, acct := range r.Accounts {
		out = append(out, acct.Posts)
	}
	return out
}
