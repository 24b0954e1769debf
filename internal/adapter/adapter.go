// Package adapter defines the source adapter contract shared by every post
// acquisition strategy, together with its result variant and error taxonomy.
package adapter

import (
	"context"
	"time"

	"github.com/JakeFAU/ai-digest/internal/post"
)

// Adapter fetches candidate posts for one account from one acquisition strategy.
// Implementations classify every failure into the returned Result and never
// retry internally beyond their own host lists.
type Adapter interface {
	ID() string
	Fetch(ctx context.Context, account post.AccountTarget, limit int) Result
}

// Closer is implemented by adapters that hold per-process resources.
type Closer interface {
	Close()
}

// RunScoped is implemented by adapters holding resources that must not
// outlive a run. EndRun is called once the run's fetch phase is over; the
// adapter reacquires what it needs on the next Fetch.
type RunScoped interface {
	EndRun()
}

// Availability is implemented by adapters that can tell, without I/O, that
// they will skip every call (for example when a credential is missing).
type Availability interface {
	Available() bool
}

// Outcome is the variant tag of a Result.
type Outcome string

// Supported outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Result is the outcome of one adapter invocation for one account.
type Result struct {
	Source   string
	Outcome  Outcome
	Posts    []post.Post
	Err      *Error
	Duration time.Duration
}

// Success builds a successful result, tagging every post with source.
// An empty post slice is reported as a failed result with ReasonEmpty.
func Success(source string, posts []post.Post) Result {
	if len(posts) == 0 {
		return Failed(source, NewError(ReasonEmpty, nil))
	}
	tagged := make([]post.Post, len(posts))
	for i, p := range posts {
		p.Source = source
		tagged[i] = p
	}
	return Result{Source: source, Outcome: OutcomeSuccess, Posts: tagged}
}

// Skipped builds a result for an adapter that was not attempted.
func Skipped(source string, reason string) Result {
	return Result{Source: source, Outcome: OutcomeSkipped, Err: NewError(ReasonUnavailable, errString(reason))}
}

// Failed builds a failed result from err, classifying it when needed.
func Failed(source string, err error) Result {
	return Result{Source: source, Outcome: OutcomeFailed, Err: Classify(err)}
}

// Reason returns the failure reason, or an empty string on success.
func (r Result) Reason() Reason {
	if r.Err == nil {
		return ""
	}
	return r.Err.Reason
}

// OK reports whether the result carries at least one post.
func (r Result) OK() bool {
	return r.Outcome == OutcomeSuccess && len(r.Posts) > 0
}

// Empty reports whether the adapter responded but found nothing.
func (r Result) Empty() bool {
	return r.Outcome == OutcomeFailed && r.Reason() == ReasonEmpty
}

type errString string

func (e errString) Error() string { return string(e) }
