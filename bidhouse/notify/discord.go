package notify

import (
	"context"
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/webhook"
)

// DiscordDeliverer posts notifications to a Discord channel webhook.
// Recipients are mentioned by id in the message body; the channel acts as
// the shared notification feed.
type DiscordDeliverer struct {
	client webhook.Client
}

func NewDiscordDeliverer(webhookURL string) (*DiscordDeliverer, error) {
	client, err := webhook.NewWithURL(webhookURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook client: %w", err)
	}
	return &DiscordDeliverer{client: client}, nil
}

func (d *DiscordDeliverer) Deliver(_ context.Context, recipientID string, message Message) error {
	content := fmt.Sprintf("<@%s> %s", recipientID, message.Body)
	if _, err := d.client.CreateMessage(discord.WebhookMessageCreate{Content: content}); err != nil {
		return fmt.Errorf("failed to post webhook message: %w", err)
	}
	return nil
}
