package post

import (
	"errors"
	"strings"
)

// ErrNoAccounts is returned when no usable account handles are configured.
var ErrNoAccounts = errors.New("no accounts configured")

// AccountTarget is one monitored account. It is immutable once loaded.
type AccountTarget struct {
	Handle string `json:"handle"`
}

// String returns the handle with a leading @.
func (a AccountTarget) String() string {
	return "@" + a.Handle
}

// ParseAccounts normalizes raw handles, dropping blanks and case-insensitive
// duplicates while preserving order.
func ParseAccounts(raw []string) ([]AccountTarget, error) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]AccountTarget, 0, len(raw))
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			handle := strings.TrimPrefix(strings.TrimSpace(part), "@")
			if handle == "" {
				continue
			}
			key := strings.ToLower(handle)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, AccountTarget{Handle: handle})
		}
	}
	if len(out) == 0 {
		return nil, ErrNoAccounts
	}
	return out, nil
}

// Handles returns the handles of the provided accounts.
func Handles(accounts []AccountTarget) []string {
	out := make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = a.Handle
	}
	return out
}
