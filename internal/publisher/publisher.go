// Package publisher defines how run reports are announced to downstream
// consumers.
package publisher

import "context"

// Publisher sends one JSON-encoded payload with string attributes and
// returns the server-assigned message id.
type Publisher interface {
	Publish(ctx context.Context, payload any, attrs map[string]string) (string, error)
}
