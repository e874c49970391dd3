package dynvoice

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GroupLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	group, ch, err := store.CreateGroup(ctx, testGuildID, "100", "role", true)
	require.NoError(t, err)
	assert.NotEmpty(t, group.ID)
	assert.Equal(t, group.ID, ch.GroupID)

	_, err = store.CreateSiblingChannel(ctx, group.ID, "101")
	require.NoError(t, err)
	_, err = store.CreateSiblingChannel(ctx, group.ID, "101")
	assert.Error(t, err)

	dynamic, err := store.IsDynamic(ctx, "101")
	require.NoError(t, err)
	assert.True(t, dynamic)
	dynamic, err = store.IsDynamic(ctx, "999")
	require.NoError(t, err)
	assert.False(t, dynamic)

	_, err = store.Channel(ctx, "999")
	assert.ErrorIs(t, err, ErrNotDynamicChannel)
	_, err = store.ChannelByText(ctx, "")
	assert.ErrorIs(t, err, ErrNotDynamicChannel)

	ch.TextChannelID = "t100"
	ch.Locked = true
	require.NoError(t, store.SaveChannel(ctx, ch))
	byText, err := store.ChannelByText(ctx, "t100")
	require.NoError(t, err)
	assert.Equal(t, "100", byText.ChannelID)
	assert.True(t, byText.Locked)

	require.NoError(t, store.SetGroupTextDefault(ctx, group.ID, false))
	stored, err := store.Group(ctx, group.ID)
	require.NoError(t, err)
	assert.False(t, stored.TextChannelByDefault)
	assert.Equal(t, "role", stored.UserRoleID)

	_, _, err = store.EnsureMembership(ctx, "u1", "100", time.Now())
	require.NoError(t, err)
	require.NoError(
		t,
		store.CreateRoleLink(ctx, &RoleLink{RoleID: "r1", TargetID: "100", TargetKind: RoleLinkTargetChannel}),
	)
	require.NoError(
		t,
		store.CreateRoleLink(ctx, &RoleLink{RoleID: "r2", TargetID: group.ID, TargetKind: RoleLinkTargetGroup}),
	)

	groupDeleted, err := store.DeleteChannel(ctx, "100")
	require.NoError(t, err)
	assert.False(t, groupDeleted)
	memberships, err := store.Memberships(ctx, "100")
	require.NoError(t, err)
	assert.Empty(t, memberships)
	links, err := store.RoleLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "r2", links[0].RoleID)

	groupDeleted, err = store.DeleteChannel(ctx, "101")
	require.NoError(t, err)
	assert.True(t, groupDeleted)
	groups, err := store.Groups(ctx)
	require.NoError(t, err)
	assert.Empty(t, groups)
	links, err = store.RoleLinks(ctx)
	require.NoError(t, err)
	assert.Empty(t, links)

	// already gone
	groupDeleted, err = store.DeleteChannel(ctx, "101")
	require.NoError(t, err)
	assert.False(t, groupDeleted)
}

func TestStore_SaveChannelDoesNotRecreate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	_, ch, err := store.CreateGroup(ctx, testGuildID, "100", "", false)
	require.NoError(t, err)

	require.NoError(t, store.DeleteGroup(ctx, ch.GroupID))
	ch.Locked = true
	require.NoError(t, store.SaveChannel(ctx, ch))
	_, err = store.Channel(ctx, "100")
	assert.ErrorIs(t, err, ErrNotDynamicChannel)
}

func TestStore_Memberships(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	base := time.UnixMilli(1_700_000_000_000)

	m2, created, err := store.EnsureMembership(ctx, "u2", "100", base.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, created)
	m1, created, err := store.EnsureMembership(ctx, "u1", "100", base)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := store.EnsureMembership(ctx, "u2", "100", base.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, m2.ID, again.ID)
	assert.Equal(t, base.Add(time.Second).UnixMilli(), again.JoinedAt)

	memberships, err := store.Memberships(ctx, "100")
	require.NoError(t, err)
	require.Len(t, memberships, 2)
	assert.Equal(t, "u1", memberships[0].MemberID)
	assert.Equal(t, "u2", memberships[1].MemberID)

	byID, err := store.MembershipByID(ctx, m1.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", byID.MemberID)
	missing, err := store.MembershipByID(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	deleted, err := store.DeleteMembership(ctx, "u1", "100")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = store.DeleteMembership(ctx, "u1", "100")
	require.NoError(t, err)
	assert.False(t, deleted)
	m, err := store.Membership(ctx, "u1", "100")
	require.NoError(t, err)
	assert.Nil(t, m)

	require.NoError(t, store.DeleteMemberships(ctx, "100"))
	memberships, err = store.Memberships(ctx, "100")
	require.NoError(t, err)
	assert.Empty(t, memberships)
}

func TestStore_EachChannel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	group, _, err := store.CreateGroup(ctx, testGuildID, "c00", "", false)
	require.NoError(t, err)
	for i := 1; i < 7; i++ {
		_, err = store.CreateSiblingChannel(ctx, group.ID, fmt.Sprintf("c%02d", i))
		require.NoError(t, err)
	}

	var batches []int
	var ids []string
	err = store.EachChannel(
		ctx, 3, func(channels []DynChannel) error {
			batches = append(batches, len(channels))
			for _, c := range channels {
				ids = append(ids, c.ChannelID)
			}
			return nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 1}, batches)
	assert.Equal(t, []string{"c00", "c01", "c02", "c03", "c04", "c05", "c06"}, ids)
}

func TestStore_RoleLinks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	link := &RoleLink{RoleID: "r1", TargetID: "200", TargetKind: RoleLinkTargetChannel}
	require.NoError(t, store.CreateRoleLink(ctx, link))
	assert.ErrorIs(t, store.CreateRoleLink(ctx, link), ErrAlreadyInState)
	require.NoError(
		t,
		store.CreateRoleLink(ctx, &RoleLink{RoleID: "r2", TargetID: "200", TargetKind: RoleLinkTargetChannel}),
	)

	forTarget, err := store.RoleLinksForTarget(ctx, "200")
	require.NoError(t, err)
	require.Len(t, forTarget, 2)
	assert.Equal(t, "r1", forTarget[0].RoleID)

	got, err := store.RoleLink(ctx, "r2", "200")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, RoleLinkTargetChannel, got.TargetKind)

	deleted, err := store.DeleteRoleLink(ctx, "r1", "200")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = store.DeleteRoleLink(ctx, "r1", "200")
	require.NoError(t, err)
	assert.False(t, deleted)

	got, err = store.RoleLink(ctx, "r1", "200")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_AllowedNamesAndSettings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateAllowedName(ctx, "venus"))
	require.NoError(t, store.CreateAllowedName(ctx, "mars"))
	assert.ErrorIs(t, store.CreateAllowedName(ctx, "mars"), ErrAlreadyInState)

	names, err := store.AllowedNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"mars", "venus"}, names)

	deleted, err := store.DeleteAllowedName(ctx, "mars")
	require.NoError(t, err)
	assert.True(t, deleted)

	settings, err := store.GuildSettings(ctx, testGuildID)
	require.NoError(t, err)
	assert.Equal(t, testGuildID, settings.GuildID)
	assert.False(t, settings.RequireWhitespaces)

	require.NoError(t, store.SetRequireWhitespaces(ctx, testGuildID, true))
	settings, err = store.GuildSettings(ctx, testGuildID)
	require.NoError(t, err)
	assert.True(t, settings.RequireWhitespaces)

	require.NoError(t, store.SetRequireWhitespaces(ctx, testGuildID, false))
	settings, err = store.GuildSettings(ctx, testGuildID)
	require.NoError(t, err)
	assert.False(t, settings.RequireWhitespaces)
}

func TestCreateDB_UnsupportedType(t *testing.T) {
	t.Parallel()
	_, err := CreateDB(context.Background(), "mysql", "whatever")
	assert.ErrorContains(t, err, "unsupported database type")
}
