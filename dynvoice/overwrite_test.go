package dynvoice

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverwritePatch_And(t *testing.T) {
	t.Parallel()
	p := allow(permView | permConnect).and(deny(permConnect))
	assert.Equal(t, permView, p.Allow)
	assert.Equal(t, permConnect, p.Deny)
	assert.Zero(t, p.Clear)

	p = p.and(inherit(permConnect))
	assert.Equal(t, permView, p.Allow)
	assert.Zero(t, p.Deny)
	assert.Equal(t, permConnect, p.Clear)
}

func TestOverwriteSet_Apply(t *testing.T) {
	t.Parallel()
	original := []*discordgo.PermissionOverwrite{
		{ID: "role", Type: discordgo.PermissionOverwriteTypeRole, Allow: permView},
		{ID: "member", Type: discordgo.PermissionOverwriteTypeMember, Allow: permMemberGrant},
	}
	s := newOverwriteSet(original)

	s.applyRole("role", deny(permConnect))
	assert.True(t, s.allows("role", permView))
	assert.True(t, s.denies("role", permConnect))

	s.applyRole("role", inherit(permConnect))
	assert.False(t, s.denies("role", permConnect))

	s.applyMember("new", allow(permVoiceAccess))
	assert.True(t, s.has("new"))
	assert.Equal(t, []string{"member", "new"}, s.members())

	// the input slice isn't modified
	assert.Equal(t, permView, original[0].Allow)
	assert.Zero(t, original[0].Deny)
}

func TestOverwriteSet_ListDropsEmptyMembers(t *testing.T) {
	t.Parallel()
	s := newOverwriteSet(
		[]*discordgo.PermissionOverwrite{
			{ID: "role", Type: discordgo.PermissionOverwriteTypeRole},
			{ID: "member", Type: discordgo.PermissionOverwriteTypeMember, Allow: permChat},
		},
	)
	s.applyMember("member", inherit(permChat))
	list := s.list()
	require.Len(t, list, 1)
	assert.Equal(t, "role", list[0].ID)

	s.remove("role")
	s.remove("missing")
	assert.Empty(t, s.list())
	assert.Nil(t, s.get("role"))
}

func TestOverwriteSet_WithoutLockOverrides(t *testing.T) {
	t.Parallel()
	s := newOverwriteSet(
		[]*discordgo.PermissionOverwrite{
			{ID: "everyone", Type: discordgo.PermissionOverwriteTypeRole, Deny: permView},
			{ID: "user_role", Type: discordgo.PermissionOverwriteTypeRole, Deny: permView | permConnect},
			{ID: "bot", Type: discordgo.PermissionOverwriteTypeMember, Allow: permManage},
			{ID: "owner", Type: discordgo.PermissionOverwriteTypeMember, Allow: permMemberGrant},
			{ID: "guest", Type: discordgo.PermissionOverwriteTypeMember, Allow: permVoiceAccess},
		},
	)

	rv := s.withoutLockOverrides("bot", "user_role", map[string]bool{"owner": true}, true)
	assert.True(t, rv.has("everyone"))
	assert.True(t, rv.has("bot"))
	assert.True(t, rv.has("owner"))
	assert.False(t, rv.has("guest"))
	assert.True(t, rv.allows("user_role", permView))
	assert.False(t, rv.denies("user_role", permView|permConnect))

	// the source set is untouched
	assert.True(t, s.has("guest"))
	assert.True(t, s.denies("user_role", permConnect))

	kept := s.withoutLockOverrides("bot", "user_role", nil, false)
	assert.True(t, kept.denies("user_role", permConnect))
	assert.Equal(t, []string{"bot"}, kept.members())
}
