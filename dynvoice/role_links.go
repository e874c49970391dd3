package dynvoice

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

// linkTarget returns what a role link for channelID applies to: the
// channel's group when it's dynamic, otherwise the voice channel itself
func (e *Engine) linkTarget(ctx context.Context, channelID string) (string, RoleLinkTarget, error) {
	ch, err := e.store.Channel(ctx, channelID)
	switch {
	case err == nil:
		return ch.GroupID, RoleLinkTargetGroup, nil
	case !errors.Is(err, ErrNotDynamicChannel):
		return "", "", err
	}
	voice, err := e.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return "", "", classifyDiscordError(err, "unable to fetch channel")
	}
	if voice.Type != discordgo.ChannelTypeGuildVoice {
		return "", "", invalidTarget("that isn't a voice channel")
	}
	return channelID, RoleLinkTargetChannel, nil
}

// AddRoleLink grants roleID to members while they're connected to
// channelID (or any channel of its group), starting with those connected
// now
func (e *Engine) AddRoleLink(ctx context.Context, actor Actor, roleID string, channelID string) (*RoleLink, error) {
	if err := e.require(ctx, actor, PermissionLinkWrite); err != nil {
		return nil, err
	}
	targetID, kind, err := e.linkTarget(ctx, channelID)
	if err != nil {
		return nil, err
	}
	link := &RoleLink{RoleID: roleID, TargetID: targetID, TargetKind: kind}
	if err = e.store.CreateRoleLink(ctx, link); err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "created role link", "role_id", roleID, "target_id", targetID, "target_kind", kind)
	if err = e.syncRoleLinks(ctx, []RoleLink{*link}, false); err != nil {
		e.logger.WarnContext(ctx, "error applying new role link", tint.Err(err))
	}
	return link, nil
}

// RemoveRoleLink deletes a link, removing the role from members
// currently connected to the target
func (e *Engine) RemoveRoleLink(ctx context.Context, actor Actor, roleID string, channelID string) error {
	if err := e.require(ctx, actor, PermissionLinkWrite); err != nil {
		return err
	}
	targetID, kind, err := e.linkTarget(ctx, channelID)
	if err != nil {
		return err
	}
	deleted, err := e.store.DeleteRoleLink(ctx, roleID, targetID)
	if err != nil {
		return err
	}
	if !deleted {
		return invalidTarget("that role isn't linked to the channel")
	}

	connected, err := e.linkMembers(ctx, RoleLink{RoleID: roleID, TargetID: targetID, TargetKind: kind})
	if err != nil {
		return err
	}
	for memberID := range connected {
		if err = e.session.GuildMemberRoleRemove(e.guildID, memberID, roleID, discordgo.WithContext(ctx)); err != nil {
			e.logger.WarnContext(ctx, "unable to remove linked role", tint.Err(err), "member_id", memberID)
		}
	}
	return nil
}

// RoleLinks lists every role link
func (e *Engine) RoleLinks(ctx context.Context, actor Actor) ([]RoleLink, error) {
	if err := e.require(ctx, actor, PermissionLinkRead); err != nil {
		return nil, err
	}
	return e.store.RoleLinks(ctx)
}

// linkedRoles returns the roles linked to channelID, directly or via
// its group
func (e *Engine) linkedRoles(ctx context.Context, channelID string) (map[string]bool, error) {
	targets := []string{channelID}
	if ch, err := e.store.Channel(ctx, channelID); err == nil {
		targets = append(targets, ch.GroupID)
	} else if !errors.Is(err, ErrNotDynamicChannel) {
		return nil, err
	}
	roles := map[string]bool{}
	for _, t := range targets {
		links, err := e.store.RoleLinksForTarget(ctx, t)
		if err != nil {
			return nil, err
		}
		for _, l := range links {
			roles[l.RoleID] = true
		}
	}
	return roles, nil
}

// updateLinkedRoles swaps the linked roles of a member moving between
// two channels. Either ID may be empty.
func (e *Engine) updateLinkedRoles(ctx context.Context, memberID, before, after string) {
	logger := e.logger.With("member_id", memberID)
	oldRoles := map[string]bool{}
	newRoles := map[string]bool{}
	var err error
	if before != "" {
		if oldRoles, err = e.linkedRoles(ctx, before); err != nil {
			logger.ErrorContext(ctx, "error reading role links", tint.Err(err))
			return
		}
	}
	if after != "" {
		if newRoles, err = e.linkedRoles(ctx, after); err != nil {
			logger.ErrorContext(ctx, "error reading role links", tint.Err(err))
			return
		}
	}

	for roleID := range oldRoles {
		if newRoles[roleID] {
			continue
		}
		if err = e.session.GuildMemberRoleRemove(e.guildID, memberID, roleID, discordgo.WithContext(ctx)); err != nil {
			logger.WarnContext(ctx, "unable to remove linked role", tint.Err(err), "role_id", roleID)
			if isForbidden(err) {
				e.alert(ctx, "missing permissions to remove role <@&%s> from %s", roleID, mention(memberID))
			}
		}
	}
	for roleID := range newRoles {
		if oldRoles[roleID] {
			continue
		}
		if err = e.session.GuildMemberRoleAdd(e.guildID, memberID, roleID, discordgo.WithContext(ctx)); err != nil {
			logger.WarnContext(ctx, "unable to add linked role", tint.Err(err), "role_id", roleID)
			if isForbidden(err) {
				e.alert(ctx, "missing permissions to add role <@&%s> to %s", roleID, mention(memberID))
			}
		}
	}
}

// linkMembers returns the members currently connected to the link's
// target
func (e *Engine) linkMembers(ctx context.Context, link RoleLink) (map[string]bool, error) {
	channels := map[string]bool{}
	switch link.TargetKind {
	case RoleLinkTargetGroup:
		groupChannels, err := e.store.GroupChannels(ctx, link.TargetID)
		if err != nil {
			return nil, err
		}
		for _, c := range groupChannels {
			channels[c.ChannelID] = true
		}
	default:
		channels[link.TargetID] = true
	}

	states, err := e.session.VoiceStates(e.guildID)
	if err != nil {
		return nil, err
	}
	rv := map[string]bool{}
	for memberID, channelID := range states {
		if channels[channelID] {
			rv[memberID] = true
		}
	}
	return rv, nil
}

// SyncRoleLinks makes linked roles match current voice states: the role
// is added to connected members missing it, and removed from members
// holding it while connected elsewhere (or not at all).
func (e *Engine) SyncRoleLinks(ctx context.Context) error {
	links, err := e.store.RoleLinks(ctx)
	if err != nil {
		return err
	}
	return e.syncRoleLinks(ctx, links, true)
}

func (e *Engine) syncRoleLinks(ctx context.Context, links []RoleLink, removeStale bool) error {
	want := map[string]map[string]bool{}
	for _, link := range links {
		members, err := e.linkMembers(ctx, link)
		if err != nil {
			return err
		}
		if want[link.RoleID] == nil {
			want[link.RoleID] = map[string]bool{}
		}
		for m := range members {
			want[link.RoleID][m] = true
		}
	}

	holders := make(map[string]map[string]bool, len(want))
	for roleID := range want {
		have, err := e.session.RoleMembers(e.guildID, roleID)
		if err != nil {
			return err
		}
		holders[roleID] = make(map[string]bool, len(have))
		for _, m := range have {
			holders[roleID][m] = true
		}
	}

	var added, removed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.config.RoleSyncWorkers, 1))
	for roleID, members := range want {
		holding := holders[roleID]
		for memberID := range members {
			if holding[memberID] {
				continue
			}
			g.Go(
				func() error {
					if err := e.session.GuildMemberRoleAdd(
						e.guildID, memberID, roleID, discordgo.WithContext(gctx),
					); err != nil {
						return classifyDiscordError(err, "unable to add linked role")
					}
					added.Add(1)
					return nil
				},
			)
		}
		if !removeStale {
			continue
		}
		for memberID := range holding {
			if members[memberID] {
				continue
			}
			g.Go(
				func() error {
					if err := e.session.GuildMemberRoleRemove(
						e.guildID, memberID, roleID, discordgo.WithContext(gctx),
					); err != nil {
						return classifyDiscordError(err, "unable to remove linked role")
					}
					removed.Add(1)
					return nil
				},
			)
		}
	}
	err := g.Wait()
	e.logger.InfoContext(
		ctx,
		"synced role links",
		"links", len(links),
		"added", added.Load(),
		"removed", removed.Load(),
		tint.Err(err),
	)
	return err
}
