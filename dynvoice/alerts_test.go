package dynvoice

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordAlerter(t *testing.T) {
	t.Parallel()
	g := newFakeGuild()
	g.addVoiceChannel("alerts", "alerts")
	ctx := context.Background()

	newDiscordAlerter(g, "", nil).Alert(ctx, "nowhere to go")
	assert.Empty(t, g.channelMessages("alerts"))

	a := newDiscordAlerter(g, "alerts", nil)
	a.Alert(ctx, "category is full")
	a.Alert(ctx, strings.Repeat("x", 5000))

	msgs := g.channelMessages("alerts")
	require.Len(t, msgs, 2)
	require.Len(t, msgs[0].Embeds, 1)
	assert.Equal(t, "category is full", msgs[0].Embeds[0].Description)
	assert.Equal(t, alertColor, msgs[0].Embeds[0].Color)
	assert.Len(t, msgs[1].Embeds[0].Description, 4096)

	// posting to a deleted channel is only logged
	g.removeChannel("alerts")
	newDiscordAlerter(g, "alerts", nil).Alert(ctx, "still logged")
}
