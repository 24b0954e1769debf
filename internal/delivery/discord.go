package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// discordContentLimit is Discord's per-message character cap.
const discordContentLimit = 2000

// webhookExecutor is the discordgo session method this notifier uses.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts through a Discord webhook.
type DiscordNotifier struct {
	id      string
	token   string
	session webhookExecutor
}

// NewDiscordNotifier parses a webhook URL of the form
// https://discord.com/api/webhooks/{id}/{token}.
func NewDiscordNotifier(webhookURL string) (*DiscordNotifier, error) {
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &DiscordNotifier{id: id, token: token, session: session}, nil
}

// Name implements Notifier.
func (d *DiscordNotifier) Name() string { return "discord" }

// Notify implements Notifier.
func (d *DiscordNotifier) Notify(ctx context.Context, msg Message) error {
	content := truncateRunes("**"+msg.Title+"**\n\n"+msg.Body, discordContentLimit)
	_, err := d.session.WebhookExecute(d.id, d.token, true,
		&discordgo.WebhookParams{Content: content},
		discordgo.WithContext(ctx),
	)
	if err == nil {
		return nil
	}
	de := &DeliveryError{Notifier: d.Name(), Err: err}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		de.StatusCode = restErr.Response.StatusCode
	}
	return de
}

func parseWebhookURL(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse discord webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("discord webhook url %q has no id/token", u.Redacted())
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
