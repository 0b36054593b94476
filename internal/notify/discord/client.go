// Package discord posts alerting messages to a Discord incoming webhook.
// Discord's webhook endpoint accepts the same payload shape as a Slack
// incoming webhook at its "/slack" suffix, so this client reuses
// github.com/slack-go/slack's WebhookMessage type and PostWebhook function
// rather than hand-rolling a third JSON payload shape for what is, on the
// wire, the identical request.
package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/jsaddiction/metarr/internal/notify"
)

// Client posts Event messages to a single Discord channel's webhook URL.
type Client struct {
	webhookURL string
	username   string
}

// NewClient builds a Client. webhookURL is the Discord channel webhook as
// copied from Discord's integration settings; slackCompatURL appends the
// "/slack" suffix Discord documents for Slack-format payloads.
func NewClient(webhookURL, username string) *Client {
	return &Client{webhookURL: slackCompatURL(webhookURL), username: username}
}

func slackCompatURL(webhookURL string) string {
	if strings.HasSuffix(webhookURL, "/slack") {
		return webhookURL
	}
	return strings.TrimRight(webhookURL, "/") + "/slack"
}

// Notify implements notify.Notifier, formatting ev into a one-line alert.
func (c *Client) Notify(ctx context.Context, ev notify.Event) error {
	text := ev.Message
	if text == "" {
		text = fmt.Sprintf("%s updated", ev.Title)
	}
	return c.Post(ctx, text)
}

// Post sends a plain text message.
func (c *Client) Post(ctx context.Context, text string) error {
	msg := &slack.WebhookMessage{
		Text:     text,
		Username: c.username,
	}
	if err := slack.PostWebhookContext(ctx, c.webhookURL, msg); err != nil {
		return fmt.Errorf("discord: post webhook: %w", err)
	}
	return nil
}
