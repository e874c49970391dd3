package dynvoice

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// CreateGroup turns an existing voice channel into the first channel of
// a new dynamic group. userRoleID is the role members normally access
// the channel with (the @everyone role if empty), which must be able to
// see and connect to it.
func (e *Engine) CreateGroup(
	ctx context.Context,
	actor Actor,
	channelID string,
	userRoleID string,
	textByDefault bool,
) (*DynGroup, error) {
	if err := e.require(ctx, actor, PermissionDynWrite); err != nil {
		return nil, err
	}
	if userRoleID == "" {
		userRoleID = e.guildID
	}

	ctx, release, err := e.locks.Acquire(ctx, channelID)
	if err != nil {
		return nil, err
	}
	defer release()

	dynamic, err := e.store.IsDynamic(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if dynamic {
		return nil, alreadyInState("that channel is already dynamic")
	}

	voice, err := e.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classifyDiscordError(err, "unable to fetch channel")
	}
	if voice.Type != discordgo.ChannelTypeGuildVoice {
		return nil, invalidTarget("that isn't a voice channel")
	}
	canAccess, err := e.roleCanAccess(ctx, voice, userRoleID)
	if err != nil {
		return nil, err
	}
	if !canAccess {
		return nil, invalidTarget("that role can't see or connect to the channel")
	}

	existing, err := e.session.GuildChannels(e.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classifyDiscordError(err, "unable to list channels")
	}
	name := e.randomName(existing)
	if _, err = e.session.ChannelEdit(
		channelID,
		&discordgo.ChannelEdit{Name: name},
		discordgo.WithContext(ctx),
	); err != nil {
		return nil, classifyDiscordError(err, "unable to rename channel")
	}

	group, ch, err := e.store.CreateGroup(ctx, e.guildID, channelID, userRoleID, textByDefault)
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "created group", "group", group, "channel", ch)
	e.voiceLog(ctx, channelID, "Channel created. Use the buttons below or `/voice` to manage it.", true)
	return group, nil
}

// roleCanAccess reports whether roleID can view and connect to ch,
// judging by the channel overwrite first, then the role's permissions
func (e *Engine) roleCanAccess(ctx context.Context, ch *discordgo.Channel, roleID string) (bool, error) {
	ow := newOverwriteSet(ch.PermissionOverwrites)
	if ow.denies(roleID, permVoiceAccess) {
		return false, nil
	}
	if ow.allows(roleID, permVoiceAccess) {
		return true, nil
	}
	role, err := e.session.GuildRole(e.guildID, roleID, discordgo.WithContext(ctx))
	if err != nil {
		return false, classifyDiscordError(err, "unable to fetch role")
	}
	perms := role.Permissions
	if perms&discordgo.PermissionAdministrator != 0 {
		return true, nil
	}
	for _, bit := range []int64{permView, permConnect} {
		if perms&bit == 0 && !ow.allows(roleID, bit) {
			return false, nil
		}
	}
	return true, nil
}

// RemoveGroup deletes every channel of the group except channelID, which
// becomes a regular voice channel again.
func (e *Engine) RemoveGroup(ctx context.Context, actor Actor, channelID string) error {
	if err := e.require(ctx, actor, PermissionDynWrite); err != nil {
		return err
	}
	ch, err := e.store.Channel(ctx, channelID)
	if err != nil {
		return err
	}

	ctx, release, err := e.locks.Acquire(ctx, groupLockKey(ch.GroupID))
	if err != nil {
		return err
	}
	defer release()

	channels, err := e.store.GroupChannels(ctx, ch.GroupID)
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range channels {
		if c.TextChannelID != "" {
			errs = append(errs, e.deleteDiscordChannel(ctx, c.TextChannelID))
		}
		if c.ChannelID != channelID {
			errs = append(errs, e.deleteDiscordChannel(ctx, c.ChannelID))
		}
	}
	if err = errors.Join(errs...); err != nil {
		return err
	}

	if err = e.store.DeleteGroup(ctx, ch.GroupID); err != nil {
		return err
	}
	for _, c := range channels {
		e.forget(ctx, c.ChannelID)
	}
	e.logger.InfoContext(ctx, "removed group", "group_id", ch.GroupID, "channels", len(channels))
	return nil
}

func (e *Engine) deleteDiscordChannel(ctx context.Context, channelID string) error {
	_, err := e.session.ChannelDelete(channelID, discordgo.WithContext(ctx))
	if err == nil || isNotFound(err) {
		return nil
	}
	return classifyDiscordError(err, fmt.Sprintf("unable to delete %s", channelMention(channelID)))
}

// SetDefaultTextChannel sets whether channels of the group get a text
// channel as soon as someone joins
func (e *Engine) SetDefaultTextChannel(ctx context.Context, actor Actor, ref ChannelRef, enabled bool) error {
	if err := e.require(ctx, actor, PermissionDynWrite); err != nil {
		return err
	}
	return e.withChannel(
		ctx, ref, func(ctx context.Context, st *channelState) error {
			if st.group.TextChannelByDefault == enabled {
				return alreadyInState("the group already uses that setting")
			}
			if err := e.store.SetGroupTextDefault(ctx, st.group.ID, enabled); err != nil {
				return err
			}
			st.group.TextChannelByDefault = enabled
			return nil
		},
	)
}

// GroupInfo is a group along with its channels
type GroupInfo struct {
	Group    DynGroup     `json:"group"`
	Channels []DynChannel `json:"channels"`
}

// ListGroups returns every group. Channels which no longer exist on
// Discord are dropped along the way, and groups left empty omitted.
func (e *Engine) ListGroups(ctx context.Context, actor Actor) ([]GroupInfo, error) {
	if err := e.require(ctx, actor, PermissionDynRead); err != nil {
		return nil, err
	}
	groups, err := e.store.Groups(ctx)
	if err != nil {
		return nil, err
	}

	rv := make([]GroupInfo, 0, len(groups))
	for _, g := range groups {
		channels, err := e.store.GroupChannels(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		info := GroupInfo{Group: g, Channels: make([]DynChannel, 0, len(channels))}
		for _, c := range channels {
			if e.dropIfStale(ctx, c.ChannelID) {
				continue
			}
			info.Channels = append(info.Channels, c)
		}
		if len(info.Channels) == 0 {
			e.logger.InfoContext(ctx, "group no longer has channels", "group", g)
			continue
		}
		rv = append(rv, info)
	}
	return rv, nil
}

// Resume reconciles stored channels with the voice states seen on
// startup: members who left while the bot was offline are removed, and
// members who joined are added.
func (e *Engine) Resume(ctx context.Context) error {
	states, err := e.session.VoiceStates(e.guildID)
	if err != nil {
		return err
	}
	var channelIDs []string
	if err = e.store.EachChannel(
		ctx, sweepBatchSize, func(channels []DynChannel) error {
			for _, c := range channels {
				channelIDs = append(channelIDs, c.ChannelID)
			}
			return nil
		},
	); err != nil {
		return err
	}

	for _, channelID := range channelIDs {
		memberships, err := e.store.Memberships(ctx, channelID)
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(memberships))
		for _, m := range memberships {
			known[m.MemberID] = true
			if states[m.MemberID] != channelID {
				if err = e.MemberLeave(ctx, m.MemberID, channelID); err != nil {
					e.logger.ErrorContext(ctx, "error resuming leave", tint.Err(err), "member_id", m.MemberID)
				}
			}
		}
		for memberID, current := range states {
			if current == channelID && !known[memberID] {
				if err = e.MemberJoin(ctx, memberID, channelID); err != nil {
					e.logger.ErrorContext(ctx, "error resuming join", tint.Err(err), "member_id", memberID)
				}
			}
		}
	}
	return nil
}
