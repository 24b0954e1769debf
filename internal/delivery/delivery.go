// Package delivery wraps digest text into the outbound message contract and
// hands it to exactly one notifier, once.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/ai-digest/internal/digest"
)

// Message is the formatted notification.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Markdown renders the message as a single markdown document.
func (m Message) Markdown() string {
	return "*" + m.Title + "*\n\n" + m.Body
}

// Coverage describes what the digest covers.
type Coverage struct {
	From time.Time
	To   time.Time
	// Accounts is the number of monitored accounts.
	Accounts int
	// Succeeded is the number of accounts that yielded posts.
	Succeeded int
	// Collected is the number of posts fetched before filtering.
	Collected int
	// Kept is the number of posts in the window.
	Kept int
}

const windowLayout = "2006-01-02 15:04"

// Format wraps d into a Message titled with the UTC date of cov.To.
func Format(d digest.Digest, cov Coverage) Message {
	to := cov.To.UTC()
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(d.Text))
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "_Window: %s → %s UTC • %d accounts • %d posts_\n",
		cov.From.UTC().Format(windowLayout), to.Format(windowLayout), cov.Accounts, cov.Kept)
	fmt.Fprintf(&sb, "_Processed %d/%d accounts • %d total posts_", cov.Succeeded, cov.Accounts, cov.Collected)
	if d.Degraded() {
		fmt.Fprintf(&sb, "\n_Summary mode: %s_", d.Kind)
	}
	return Message{
		Title: "📰 Daily AI Summary - " + to.Format(time.DateOnly),
		Body:  sb.String(),
	}
}

// FormatError builds the catch-all notice sent when a run fails before
// regular delivery.
func FormatError(err error, now time.Time) Message {
	detail := "unknown error"
	if err != nil {
		detail = err.Error()
	}
	return Message{
		Title: "⚠️ Error Alert",
		Body: fmt.Sprintf("The AI digest run failed at %s UTC.\n```\n%s\n```",
			now.UTC().Format(windowLayout), detail),
	}
}

// Notifier delivers one message.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, msg Message) error
}

// DeliveryError reports a failed delivery.
type DeliveryError struct {
	Notifier string
	// StatusCode is the endpoint's HTTP status, zero for transport errors.
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s delivery failed with status %d: %v", e.Notifier, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s delivery failed with status %d", e.Notifier, e.StatusCode)
	default:
		return fmt.Sprintf("%s delivery failed: %v", e.Notifier, e.Err)
	}
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Deliver attempts delivery exactly once. Failures come back as
// *DeliveryError and are never retried here.
func Deliver(ctx context.Context, n Notifier, msg Message) (err error) {
	if n == nil {
		return &DeliveryError{Notifier: "none", Err: errors.New("no notifier configured")}
	}
	defer func() {
		if r := recover(); r != nil {
			err = &DeliveryError{Notifier: n.Name(), Err: fmt.Errorf("notifier panic: %v", r)}
		}
	}()
	if err := n.Notify(ctx, msg); err != nil {
		var de *DeliveryError
		if errors.As(err, &de) {
			return de
		}
		return &DeliveryError{Notifier: n.Name(), Err: err}
	}
	return nil
}
