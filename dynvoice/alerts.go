package dynvoice

import (
	"context"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const alertColor = 0xE74C3C

// Alerter reports operator-facing failures (missing permissions, full
// categories...) which aren't shown to the member who caused them.
type Alerter interface {
	Alert(ctx context.Context, message string)
}

// discordAlerter logs every alert, and posts it to a Discord channel
// when one is configured
type discordAlerter struct {
	session   DiscordSessionHandler
	channelID string
	logger    *slog.Logger
}

func newDiscordAlerter(
	session DiscordSessionHandler,
	channelID string,
	logger *slog.Logger,
) *discordAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &discordAlerter{
		session:   session,
		channelID: channelID,
		logger:    logger.With(loggerNameKey, "alerts"),
	}
}

func (a *discordAlerter) Alert(ctx context.Context, message string) {
	a.logger.WarnContext(ctx, "alert", "message", message)
	if a.channelID == "" {
		return
	}
	_, err := a.session.ChannelMessageSendComplex(
		a.channelID,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title:       "Voice channels",
					Description: truncate(message, 4096),
					Color:       alertColor,
					Timestamp:   time.Now().UTC().Format(time.RFC3339),
				},
			},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		a.logger.ErrorContext(
			ctx,
			"unable to post alert",
			tint.Err(err),
			"channel_id", a.channelID,
		)
	}
}
