package dynvoice

import (
	"context"
	"log/slog"
	"reflect"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestChunkItems(t *testing.T) {
	tests := []struct {
		name           string
		maxRowLength   int
		items          []int
		expectedResult [][]int
	}{
		{
			name:           "exactly divisible",
			maxRowLength:   3,
			items:          []int{1, 2, 3, 4, 5, 6},
			expectedResult: [][]int{{1, 2, 3}, {4, 5, 6}},
		},
		{
			name:           "not exactly divisible",
			maxRowLength:   4,
			items:          []int{1, 2, 3, 4, 5, 6, 7},
			expectedResult: [][]int{{1, 2, 3, 4}, {5, 6, 7}},
		},
		{
			name:           "max row length greater than items",
			maxRowLength:   5,
			items:          []int{1, 2, 3},
			expectedResult: [][]int{{1, 2, 3}},
		},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				result := chunkItems(tt.maxRowLength, tt.items...)
				if !reflect.DeepEqual(result, tt.expectedResult) {
					t.Errorf("expected %#v, got %#v", tt.expectedResult, result)
				}
			},
		)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel", truncate("hello", 3))
	assert.Equal(t, "日本", truncate("日本語", 2))
}

func TestContextLogger(t *testing.T) {
	_, ok := ContextLogger(context.Background())
	assert.False(t, ok)

	logger := slog.Default().With("foo", "bar")
	got, ok := ContextLogger(WithLogger(context.Background(), logger))
	assert.True(t, ok)
	assert.Equal(t, logger, got)
}

func TestStructToSlogValue(t *testing.T) {
	type inner struct {
		Secret string `json:"secret" log:"[redacted]"`
		Name   string `json:"name"`
		Empty  string `json:"empty"`
	}
	v := structToSlogValue(inner{Secret: "hunter2", Name: "foo"})
	attrs := v.Group()
	assert.Len(t, attrs, 2)
	assert.Equal(t, "secret", attrs[0].Key)
	assert.Equal(t, "[redacted]", attrs[0].Value.String())
	assert.Equal(t, "name", attrs[1].Key)
	assert.Equal(t, "foo", attrs[1].Value.String())

	assert.Equal(t, slog.KindAny, structToSlogValue((*inner)(nil)).Kind())
}

func TestDiscordInteractionOptions(t *testing.T) {
	i := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionApplicationCommand,
			Data: discordgo.ApplicationCommandInteractionData{
				Name: DiscordSlashCommandVoice,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{
						Name: "rename",
						Type: discordgo.ApplicationCommandOptionSubCommand,
						Options: []*discordgo.ApplicationCommandInteractionDataOption{
							{Name: "name", Type: discordgo.ApplicationCommandOptionString, Value: "Mars"},
						},
					},
				},
			},
		},
	}
	sub, opts := discordInteractionOptions(i)
	assert.Equal(t, "rename", sub)
	if assert.Contains(t, opts, "name") {
		assert.Equal(t, "Mars", opts["name"].StringValue())
	}
}

func TestMemberHelpers(t *testing.T) {
	m := &discordgo.Member{User: &discordgo.User{ID: "1", Bot: true}, Roles: []string{"a", "b"}}
	assert.Equal(t, "1", memberID(m))
	assert.Equal(t, "", memberID(nil))
	assert.True(t, isBot(m))
	assert.True(t, hasAnyRole(m, "x", "b"))
	assert.False(t, hasAnyRole(m, "x"))
	assert.False(t, hasAnyRole(nil, "a"))
	assert.Equal(t, "<@1>", mention("1"))
}
