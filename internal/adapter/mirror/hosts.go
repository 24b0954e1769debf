package mirror

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/ai-digest/internal/adapter"
	"github.com/JakeFAU/ai-digest/internal/post"
)

// DefaultHosts is the ordered mirror host list tried for every account.
var DefaultHosts = []string{
	"nitter.net",
	"nitter.poast.org",
	"nitter.privacydev.net",
	"nitter.unixfox.eu",
	"nitter.kavin.rocks",
	"nitter.rawbit.ninja",
	"nitter.1d4.us",
	"nitter.moomoo.me",
	"nitter.fdn.fr",
	"nitter.42l.fr",
}

// suspiciousMarkers appear in final URLs when a mirror bounced the request to
// a block or maintenance page.
var suspiciousMarkers = []string{"status.d420.de", "blocked", "error", "maintenance"}

var (
	// ErrNoHosts is returned when the host list is empty.
	ErrNoHosts = errors.New("no mirror hosts configured")
	// ErrAllCooling is returned when every host is in a rate-limit cooldown.
	ErrAllCooling = errors.New("every mirror host is cooling down")
	// ErrSuspiciousRedirect marks a response that landed on a block page.
	ErrSuspiciousRedirect = errors.New("suspicious redirect")
)

// Pacer paces and parks mirror hosts.
type Pacer interface {
	Available(host string) bool
	Wait(ctx context.Context, host string) error
	CoolDown(host string)
}

// HostFunc fetches and parses posts from one mirror base URL.
type HostFunc func(ctx context.Context, base *url.URL) ([]post.Post, error)

// Walk tries hosts in order until one yields posts. Hosts in cooldown are
// skipped, a rate-limited host is parked, and any other failure moves on to
// the next host. The error of the last attempted host decides the reason
// reported when every host fails.
func Walk(ctx context.Context, hosts []string, pacer Pacer, logger *zap.Logger, fetch HostFunc) ([]post.Post, error) {
	if len(hosts) == 0 {
		return nil, adapter.NewError(adapter.ReasonUnavailable, ErrNoHosts)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		errs    []error
		last    *adapter.Error
		tried   int
		skipped int
	)
	for _, raw := range hosts {
		base, err := BaseURL(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		host := base.Host
		if pacer != nil {
			if !pacer.Available(host) {
				skipped++
				continue
			}
			if err := pacer.Wait(ctx, host); err != nil {
				return nil, adapter.Classify(err)
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, adapter.Classify(err)
		}
		tried++
		posts, err := fetch(ctx, base)
		if err == nil && len(posts) == 0 {
			err = adapter.NewError(adapter.ReasonEmpty, nil)
		}
		if err == nil {
			return posts, nil
		}
		last = adapter.Classify(err)
		errs = append(errs, fmt.Errorf("%s: %w", host, err))
		if last.Reason == adapter.ReasonRateLimited && pacer != nil {
			pacer.CoolDown(host)
		}
		logger.Debug("mirror host failed",
			zap.String("host", host),
			zap.String("reason", string(last.Reason)),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	if tried == 0 {
		if skipped > 0 {
			return nil, adapter.NewError(adapter.ReasonRateLimited, ErrAllCooling)
		}
		return nil, adapter.NewError(adapter.ReasonUnavailable, errors.Join(append(errs, ErrNoHosts)...))
	}
	return nil, adapter.NewError(last.Reason, fmt.Errorf("all mirror hosts failed: %w", errors.Join(errs...)))
}

// BaseURL normalizes a host entry. Bare hosts default to https.
func BaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty mirror host")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse mirror host %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("mirror host %q has no host", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u, nil
}

// Suspicious reports whether finalURL looks like a block or maintenance page.
// Only the host and the parts of the path and query that are not the
// account handle are inspected, so a handle such as ErrorLabs never trips it.
func Suspicious(finalURL, handle string) bool {
	u, err := url.Parse(finalURL)
	if err != nil {
		return containsMarker(strings.ToLower(finalURL))
	}
	handle = strings.ToLower(strings.TrimPrefix(handle, "@"))
	parts := []string{strings.ToLower(u.Host)}
	for _, seg := range strings.Split(strings.ToLower(u.Path), "/") {
		if seg != "" && seg != handle {
			parts = append(parts, seg)
		}
	}
	if q := strings.ToLower(u.RawQuery); q != "" {
		if handle != "" {
			q = strings.ReplaceAll(q, handle, "")
		}
		parts = append(parts, q)
	}
	return containsMarker(strings.Join(parts, "/"))
}

func containsMarker(s string) bool {
	for _, marker := range suspiciousMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
