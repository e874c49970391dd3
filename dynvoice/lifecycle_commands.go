package dynvoice

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

const joinRequestIDPrefix = customIDPrefix + ":jr"

// Lock denies the channel's user role from connecting, while everyone
// currently in it keeps access. With hide, the role can't see the
// channel either.
func (e *Engine) Lock(ctx context.Context, actor Actor, ref ChannelRef, hide bool) error {
	return e.withChannel(
		ctx, ref, func(ctx context.Context, st *channelState) error {
			if err := e.authorize(ctx, actor, st); err != nil {
				return err
			}
			ow := newOverwriteSet(st.voice.PermissionOverwrites)
			switch {
			case hide && ow.denies(st.userRoleID, permView):
				return alreadyInState("channel is already hidden")
			case !hide && st.ch.Locked:
				return alreadyInState("channel is already locked")
			}

			rolePatch := allow(permView).and(deny(permConnect))
			if hide {
				rolePatch = deny(permVoiceAccess)
			}
			ow.applyRole(st.userRoleID, rolePatch)
			for id := range st.present {
				ow.applyMember(id, allow(permVoiceAccess))
			}
			if actor.MemberID != "" {
				ow.applyMember(actor.MemberID, allow(permVoiceAccess))
			}
			if err := e.editOverwrites(ctx, st.voice, ow); err != nil {
				return err
			}

			st.ch.Locked = true
			if err := e.store.SaveChannel(ctx, st.ch); err != nil {
				return err
			}

			if st.text != nil {
				for id := range st.present {
					if err := e.patchMemberOverwrite(ctx, st.text, id, allow(permView|permChat)); err != nil {
						e.logger.WarnContext(ctx, "unable to grant text channel access", tint.Err(err), "member_id", id)
					}
				}
			}

			verb := "locked"
			if hide {
				verb = "hidden"
			}
			e.voiceLog(ctx, st.ch.ChannelID, fmt.Sprintf("Channel %s by %s", verb, actorMention(actor)), true)
			return nil
		},
	)
}

// Hide is Lock, also hiding the channel from the user role
func (e *Engine) Hide(ctx context.Context, actor Actor, ref ChannelRef) error {
	return e.Lock(ctx, actor, ref, true)
}

// Unlock reverts Lock (and Hide). Personal overwrites are dropped, except
// for the members currently in the channel.
func (e *Engine) Unlock(ctx context.Context, actor Actor, ref ChannelRef) error {
	return e.withChannel(
		ctx, ref, func(ctx context.Context, st *channelState) error {
			if err := e.authorize(ctx, actor, st); err != nil {
				return err
			}
			if !st.ch.Locked {
				return alreadyInState("channel isn't locked")
			}
			botID := e.session.BotUserID()

			voice := newOverwriteSet(st.voice.PermissionOverwrites).withoutLockOverrides(
				botID,
				st.userRoleID,
				nil,
				true,
			)
			for id := range st.present {
				voice.applyMember(id, allow(permMemberGrant))
			}
			if err := e.editOverwrites(ctx, st.voice, voice); err != nil {
				return err
			}

			st.ch.Locked = false
			if err := e.store.SaveChannel(ctx, st.ch); err != nil {
				return err
			}

			if st.text != nil {
				keep := make(map[string]bool, len(st.present))
				for id := range st.present {
					keep[id] = true
				}
				text := newOverwriteSet(st.text.PermissionOverwrites).withoutLockOverrides(botID, "", keep, false)
				if err := e.editOverwrites(ctx, st.text, text); err != nil {
					e.logger.WarnContext(ctx, "unable to reset text channel permissions", tint.Err(err))
				}
			}

			e.voiceLog(ctx, st.ch.ChannelID, fmt.Sprintf("Channel unlocked by %s", actorMention(actor)), true)
			return nil
		},
	)
}

// Unhide makes a hidden channel visible again. It stays locked.
func (e *Engine) Unhide(ctx context.Context, actor Actor, ref ChannelRef) error {
	return e.withChannel(
		ctx, ref, func(ctx context.Context, st *channelState) error {
			if err := e.authorize(ctx, actor, st); err != nil {
				return err
			}
			ow := newOverwriteSet(st.voice.PermissionOverwrites)
			if !ow.denies(st.userRoleID, permView) {
				return alreadyInState("channel isn't hidden")
			}
			ow.applyRole(st.userRoleID, allow(permView).and(deny(permConnect)))
			role := ow.get(st.userRoleID)
			if err := e.session.ChannelPermissionSet(
				st.voice.ID,
				st.userRoleID,
				discordgo.PermissionOverwriteTypeRole,
				role.Allow,
				role.Deny,
				discordgo.WithContext(ctx),
			); err != nil {
				return classifyDiscordError(err, "unable to edit channel permissions")
			}
			st.voice.PermissionOverwrites = ow.list()
			e.voiceLog(ctx, st.ch.ChannelID, fmt.Sprintf("Channel made visible by %s", actorMention(actor)), true)
			return nil
		},
	)
}

// SetNoPing controls whether the owner is mentioned on join requests
func (e *Engine) SetNoPing(ctx context.Context, actor Actor, ref ChannelRef, noPing bool) error {
	return e.withChannel(
		ctx, ref, func(ctx context.Context, st *channelState) error {
			if err := e.authorize(ctx, actor, st); err != nil {
				return err
			}
			if st.ch.NoPing == noPing {
				if noPing {
					return alreadyInState("pings are already disabled")
				}
				return alreadyInState("pings are already enabled")
			}
			st.ch.NoPing = noPing
			return e.store.SaveChannel(ctx, st.ch)
		},
	)
}

// AddMembers gives targets access to the channel, even while locked
func (e *Engine) AddMembers(ctx context.Context, actor Actor, ref ChannelRef, targets []string) error {
	return e.withChannel(
		ctx, ref, func(ctx context.Context, st *channelState) error {
			if err := e.authorize(ctx, actor, st); err != nil {
				return err
			}
			botID := e.session.BotUserID()
			for _, t := range targets {
				if t == botID {
					return invalidTarget("the bot can't be added")
				}
			}
			var errs []error
			for _, t := range targets {
				errs = append(errs, e.admit(ctx, st, t))
			}
			if err := errors.Join(errs...); err != nil {
				return err
			}
			e.voiceLog(
				ctx,
				st.ch.ChannelID,
				fmt.Sprintf("%s added by %s", mentions(targets), actorMention(actor)),
				false,
			)
			return nil
		},
	)
}

// admit grants memberID access to the voice channel and its chat
func (e *Engine) admit(ctx context.Context, st *channelState, memberID string) error {
	if err := e.patchMemberOverwrite(ctx, st.voice, memberID, allow(permMemberGrant)); err != nil {
		return err
	}
	if st.text != nil {
		return e.patchMemberOverwrite(ctx, st.text, memberID, allow(permView|permChat))
	}
	return nil
}

// RemoveMembers revokes targets' access to the channel and disconnects
// those currently in it.
func (e *Engine) RemoveMembers(ctx context.Context, actor Actor, ref ChannelRef, targets []string) error {
	return e.withChannel(
		ctx, ref, func(ctx context.Context, st *channelState) error {
			if err := e.authorize(ctx, actor, st); err != nil {
				return err
			}
			if err := e.checkRemovable(ctx, actor, targets); err != nil {
				return err
			}

			ownerRemoved := false
			var errs []error
			for _, t := range targets {
				removed, err := e.evict(ctx, st, t)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				ownerRemoved = ownerRemoved || removed
			}
			if ownerRemoved && st.present.Humans() > 0 {
				if _, err := e.owners.Fix(ctx, st.ch, st.present); err != nil {
					errs = append(errs, err)
				}
			}
			if err := errors.Join(errs...); err != nil {
				return err
			}
			e.voiceLog(
				ctx,
				st.ch.ChannelID,
				fmt.Sprintf("%s removed by %s", mentions(targets), actorMention(actor)),
				false,
			)
			return nil
		},
	)
}

func (e *Engine) checkRemovable(ctx context.Context, actor Actor, targets []string) error {
	botID := e.session.BotUserID()
	for _, t := range targets {
		switch {
		case t == botID:
			return invalidTarget("the bot can't be removed")
		case t == actor.MemberID:
			return invalidTarget("you can't remove yourself")
		}
		if len(e.teamRoleIDs) == 0 {
			continue
		}
		m, err := e.session.GuildMember(e.guildID, t, discordgo.WithContext(ctx))
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return classifyDiscordError(err, "unable to fetch member")
		}
		if hasAnyRole(m, e.teamRoleIDs...) {
			return invalidTarget(fmt.Sprintf("%s can't be removed", mention(t)))
		}
	}
	return nil
}

// evict denies memberID and disconnects them if present. Returns true
// if they owned the channel.
func (e *Engine) evict(ctx context.Context, st *channelState, memberID string) (bool, error) {
	patch := inherit(permView).and(deny(permConnect | permChat))
	if err := e.patchMemberOverwrite(ctx, st.voice, memberID, patch); err != nil {
		return false, err
	}
	if st.text != nil {
		if err := e.patchMemberOverwrite(ctx, st.text, memberID, inherit(permView).and(deny(permChat))); err != nil {
			return false, err
		}
	}

	membership, err := e.store.Membership(ctx, memberID, st.ch.ChannelID)
	if err != nil {
		return false, err
	}
	wasOwner := st.ch.OwnerOverride == memberID
	if membership != nil {
		wasOwner = wasOwner || (st.ch.OwnerMembershipID != nil && *st.ch.OwnerMembershipID == membership.ID)
		if _, err = e.store.DeleteMembership(ctx, memberID, st.ch.ChannelID); err != nil {
			return false, err
		}
	}
	if st.ch.OwnerOverride == memberID {
		st.ch.OwnerOverride = ""
		if err = e.store.SaveChannel(ctx, st.ch); err != nil {
			return false, err
		}
	}

	if _, ok := st.present[memberID]; !ok {
		return wasOwner, nil
	}
	key := TransitionKey{MemberID: memberID, ChannelID: st.ch.ChannelID}
	e.scheduler.MarkKicked(key)
	if err = e.session.GuildMemberMove(e.guildID, memberID, nil, discordgo.WithContext(ctx)); err != nil {
		e.scheduler.UnmarkKicked(key)
		e.alert(ctx, "unable to disconnect %s from %s", mention(memberID), channelMention(st.ch.ChannelID))
		return wasOwner, classifyDiscordError(err, "unable to disconnect member")
	}
	delete(st.present, memberID)
	return wasOwner, nil
}

// TransferOwner makes target the owner of the channel
func (e *Engine) TransferOwner(ctx context.Context, actor Actor, ref ChannelRef, target string) error {
	return e.withChannel(
		ctx, ref, func(ctx context.Context, st *channelState) error {
			if err := e.authorize(ctx, actor, st); err != nil {
				return err
			}
			isBotTarget, present := st.present[target]
			switch {
			case target == e.session.BotUserID() || (present && isBotTarget):
				return invalidTarget("a bot can't own a channel")
			case !present:
				return invalidTarget(fmt.Sprintf("%s isn't in the channel", mention(target)))
			}
			owner, err := e.owners.Get(ctx, st.ch, st.present)
			if err != nil {
				return err
			}
			if owner == target {
				return alreadyInState(fmt.Sprintf("%s already owns the channel", mention(target)))
			}
			st.ch.OwnerOverride = target
			if err = e.store.SaveChannel(ctx, st.ch); err != nil {
				return err
			}
			_, err = e.owners.Refresh(ctx, st.ch, st.present)
			return err
		},
	)
}

// GetOwner returns the owner's member ID, or an empty string if the
// channel has no owner
func (e *Engine) GetOwner(ctx context.Context, ref ChannelRef) (string, error) {
	var owner string
	err := e.withChannel(
		ctx, ref, func(ctx context.Context, st *channelState) error {
			var err error
			owner, err = e.owners.Get(ctx, st.ch, st.present)
			return err
		},
	)
	return owner, err
}

// Rename renames the channel (and its text channel). Unless actor holds
// PermissionDynRename, the name must be made of whitelisted words.
// Unless force is set, names already used in the category are rejected.
func (e *Engine) Rename(ctx context.Context, actor Actor, ref ChannelRef, name string, force bool) error {
	name = strings.TrimSpace(name)
	if n := len([]rune(name)); n == 0 || n > discordMaxChannelNameLength {
		return invalidTarget(fmt.Sprintf("name must be between 1 and %d characters", discordMaxChannelNameLength))
	}
	return e.withChannel(
		ctx, ref, func(ctx context.Context, st *channelState) error {
			if err := e.authorize(ctx, actor, st); err != nil {
				return err
			}
			if !e.auth.HasPermission(ctx, actor, PermissionDynRename) {
				allowed, requireWS, err := e.whitelist(ctx)
				if err != nil {
					return err
				}
				if !CheckName(name, allowed, requireWS) {
					return invalidTarget("that name isn't allowed")
				}
			}
			if name == st.voice.Name {
				return alreadyInState("channel already has that name")
			}
			if !force {
				if err := e.checkDuplicateName(ctx, st.voice, name); err != nil {
					return err
				}
			}
			if !e.renameLimiter(st.ch.ChannelID).Allow() {
				return ErrRateLimited
			}

			rctx, cancel := context.WithTimeout(ctx, e.config.RenameTimeout)
			defer cancel()
			_, err := e.session.ChannelEdit(
				st.voice.ID,
				&discordgo.ChannelEdit{Name: name},
				discordgo.WithContext(rctx),
			)
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(rctx.Err(), context.DeadlineExceeded) {
				return ErrRateLimited
			}
			if err != nil {
				return classifyDiscordError(err, "unable to rename channel")
			}
			previous := st.voice.Name
			st.voice.Name = name

			if st.text != nil {
				if _, err = e.session.ChannelEdit(
					st.text.ID,
					&discordgo.ChannelEdit{Name: name},
					discordgo.WithContext(ctx),
				); err != nil {
					e.logger.WarnContext(ctx, "unable to rename text channel", tint.Err(err), "channel", st.ch)
				}
			}
			e.voiceLog(
				ctx,
				st.ch.ChannelID,
				fmt.Sprintf("Renamed from **%s** to **%s** by %s", previous, name, actorMention(actor)),
				false,
			)
			return nil
		},
	)
}

func (e *Engine) checkDuplicateName(ctx context.Context, voice *discordgo.Channel, name string) error {
	channels, err := e.session.GuildChannels(e.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return classifyDiscordError(err, "unable to list channels")
	}
	for _, c := range channels {
		if c.ID != voice.ID && c.ParentID == voice.ParentID && strings.EqualFold(c.Name, name) {
			return invalidTarget("another channel already has that name")
		}
	}
	return nil
}

func (e *Engine) renameLimiter(channelID string) *rate.Limiter {
	e.limiterMu.Lock()
	defer e.limiterMu.Unlock()
	lim, ok := e.renameLimiters[channelID]
	if !ok {
		burst := max(e.config.RenameBurst, 1)
		lim = rate.NewLimiter(rate.Every(e.config.RenameInterval/time.Duration(burst)), burst)
		e.renameLimiters[channelID] = lim
	}
	return lim
}

// JoinRequestResult is the outcome of a join request
type JoinRequestResult int

const (
	JoinRequestDenied JoinRequestResult = iota
	JoinRequestApproved
	JoinRequestExpired
)

func (r JoinRequestResult) String() string {
	switch r {
	case JoinRequestApproved:
		return "approved"
	case JoinRequestExpired:
		return "expired"
	default:
		return "denied"
	}
}

type joinRequest struct {
	id          string
	channelID   string
	requesterID string
	decision    chan bool
}

// JoinRequest asks the owner of a locked channel to let requesterID in,
// and waits for their answer (or JoinRequestTimeout). A member can only
// have one request pending at a time.
func (e *Engine) JoinRequest(ctx context.Context, requesterID string, ref ChannelRef) (JoinRequestResult, error) {
	release, ok := e.locks.TryAcquire("join_request:" + requesterID)
	if !ok {
		return JoinRequestDenied, ErrTooManyRequests
	}
	defer release()

	req := &joinRequest{
		id:          uuid.NewString(),
		requesterID: requesterID,
		decision:    make(chan bool, 1),
	}
	defer func() {
		e.joinRequestMu.Lock()
		delete(e.joinRequests, req.id)
		e.joinRequestMu.Unlock()
	}()

	var messageID string
	err := e.withChannel(
		ctx, ref, func(ctx context.Context, st *channelState) error {
			if !st.ch.Locked {
				return invalidTarget("that channel isn't locked, you can join it directly")
			}
			if _, ok := st.present[requesterID]; ok {
				return alreadyInState("you're already in that channel")
			}
			if newOverwriteSet(st.voice.PermissionOverwrites).allows(requesterID, permConnect) {
				return alreadyInState("you already have access to that channel")
			}
			owner, err := e.owners.Get(ctx, st.ch, st.present)
			if err != nil {
				return err
			}
			if owner == "" {
				return invalidTarget("that channel has no owner to ask")
			}
			req.channelID = st.ch.ChannelID
			e.joinRequestMu.Lock()
			e.joinRequests[req.id] = req
			e.joinRequestMu.Unlock()

			content := ""
			allowed := &discordgo.MessageAllowedMentions{}
			if !st.ch.NoPing {
				content = mention(owner)
				allowed.Users = []string{owner}
			}
			msg, err := e.session.ChannelMessageSendComplex(
				st.ch.ChannelID,
				&discordgo.MessageSend{
					Content: content,
					Embeds: []*discordgo.MessageEmbed{
						{
							Description: fmt.Sprintf("%s would like to join the channel", mention(requesterID)),
							Color:       voiceLogColor,
						},
					},
					Components:      joinRequestComponents(req.id),
					AllowedMentions: allowed,
				},
				discordgo.WithContext(ctx),
			)
			if err != nil {
				return classifyDiscordError(err, "unable to post join request")
			}
			messageID = msg.ID
			return nil
		},
	)
	if err != nil {
		return JoinRequestDenied, err
	}

	timer := time.NewTimer(e.config.JoinRequestTimeout)
	defer timer.Stop()

	result := JoinRequestExpired
	select {
	case approved := <-req.decision:
		if approved {
			result = JoinRequestApproved
		} else {
			result = JoinRequestDenied
		}
	case <-timer.C:
	case <-ctx.Done():
		err = ctx.Err()
	}

	e.closeJoinRequest(ctx, req, messageID, result)
	if err != nil || result != JoinRequestApproved {
		return result, err
	}

	err = e.withChannel(
		ctx, VoiceChannelRef(req.channelID), func(ctx context.Context, st *channelState) error {
			return e.admit(ctx, st, requesterID)
		},
	)
	return result, err
}

func (e *Engine) closeJoinRequest(ctx context.Context, req *joinRequest, messageID string, result JoinRequestResult) {
	content := fmt.Sprintf("Join request from %s %s", mention(req.requesterID), result)
	empty := []discordgo.MessageComponent{}
	embeds := []*discordgo.MessageEmbed{}
	if _, err := e.session.ChannelMessageEditComplex(
		&discordgo.MessageEdit{
			ID:         messageID,
			Channel:    req.channelID,
			Content:    &content,
			Components: &empty,
			Embeds:     &embeds,
		},
		discordgo.WithContext(context.WithoutCancel(ctx)),
	); err != nil {
		e.logger.WarnContext(ctx, "unable to update join request message", tint.Err(err))
	}
}

// ResolveJoinRequest records the owner's answer to a pending join request
func (e *Engine) ResolveJoinRequest(ctx context.Context, actor Actor, requestID string, approve bool) error {
	e.joinRequestMu.Lock()
	req, ok := e.joinRequests[requestID]
	e.joinRequestMu.Unlock()
	if !ok {
		return invalidTarget("that request has expired")
	}
	err := e.withChannel(
		ctx, VoiceChannelRef(req.channelID), func(ctx context.Context, st *channelState) error {
			return e.authorize(ctx, actor, st)
		},
	)
	if err != nil {
		return err
	}
	select {
	case req.decision <- approve:
		return nil
	default:
		return alreadyInState("that request was already answered")
	}
}

func joinRequestComponents(requestID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Accept",
					Style:    discordgo.SuccessButton,
					CustomID: fmt.Sprintf("%s:%s:approve", joinRequestIDPrefix, requestID),
				},
				discordgo.Button{
					Label:    "Deny",
					Style:    discordgo.DangerButton,
					CustomID: fmt.Sprintf("%s:%s:deny", joinRequestIDPrefix, requestID),
				},
			},
		},
	}
}

// ChannelInfo describes a dynamic channel
type ChannelInfo struct {
	ChannelID     string   `json:"channel_id"`
	TextChannelID string   `json:"text_channel_id,omitempty"`
	GroupID       string   `json:"group_id"`
	State         string   `json:"state"`
	NoPing        bool     `json:"no_ping"`
	OwnerID       string   `json:"owner_id,omitempty"`
	Members       []string `json:"members"`
	Blacklist     []string `json:"blacklist"`
}

const (
	channelStateUnlocked = "unlocked"
	channelStateLocked   = "locked"
	channelStateHidden   = "hidden"
)

// Info describes the channel. Hidden channels are only described to
// members in them, or who could manage them.
func (e *Engine) Info(ctx context.Context, actor Actor, ref ChannelRef) (*ChannelInfo, error) {
	var info *ChannelInfo
	err := e.withChannel(
		ctx, ref, func(ctx context.Context, st *channelState) error {
			ow := newOverwriteSet(st.voice.PermissionOverwrites)
			state := channelStateUnlocked
			switch {
			case ow.denies(st.userRoleID, permView):
				state = channelStateHidden
			case st.ch.Locked:
				state = channelStateLocked
			}
			if _, inChannel := st.present[actor.MemberID]; state == channelStateHidden && !inChannel {
				if err := e.authorize(ctx, actor, st); err != nil {
					return err
				}
			}

			owner, err := e.owners.Get(ctx, st.ch, st.present)
			if err != nil {
				return err
			}
			memberships, err := e.store.Memberships(ctx, st.ch.ChannelID)
			if err != nil {
				return err
			}

			info = &ChannelInfo{
				ChannelID:     st.ch.ChannelID,
				TextChannelID: st.ch.TextChannelID,
				GroupID:       st.ch.GroupID,
				State:         state,
				NoPing:        st.ch.NoPing,
				OwnerID:       owner,
				Members:       orderMembers(memberships, st.present, st.ch.OwnerOverride),
				Blacklist:     []string{},
			}
			for _, id := range ow.members() {
				if ow.denies(id, permConnect) {
					info.Blacklist = append(info.Blacklist, id)
				}
			}
			sort.Strings(info.Blacklist)
			return nil
		},
	)
	return info, err
}

// orderMembers lists the present members, the override first, then in
// join order. Members without a membership come last.
func orderMembers(memberships []DynChannelMember, present Presence, override string) []string {
	rv := make([]string, 0, len(present))
	seen := make(map[string]bool, len(present))
	if _, ok := present[override]; ok && override != "" {
		rv = append(rv, override)
		seen[override] = true
	}
	for _, m := range memberships {
		if _, ok := present[m.MemberID]; ok && !seen[m.MemberID] {
			rv = append(rv, m.MemberID)
			seen[m.MemberID] = true
		}
	}
	var rest []string
	for id := range present {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	slices.Sort(rest)
	return append(rv, rest...)
}

// CreateTextChannel creates the companion text channel on demand and
// returns its ID
func (e *Engine) CreateTextChannel(ctx context.Context, actor Actor, ref ChannelRef) (string, error) {
	var textID string
	err := e.withChannel(
		ctx, ref, func(ctx context.Context, st *channelState) error {
			if err := e.authorize(ctx, actor, st); err != nil {
				return err
			}
			if st.text != nil {
				textID = st.text.ID
				return alreadyInState(fmt.Sprintf("channel already has a text channel: %s", channelMention(st.text.ID)))
			}
			if err := e.createTextChannel(ctx, st); err != nil {
				if errors.Is(err, ErrCapacityExceeded) {
					e.alert(ctx, "unable to create a text channel for %s: %s", channelMention(st.ch.ChannelID), ErrorMessage(err))
				}
				return err
			}
			textID = st.text.ID
			return nil
		},
	)
	return textID, err
}

func actorMention(actor Actor) string {
	if actor.IsSystem() || actor.MemberID == "" {
		return "an administrator"
	}
	return mention(actor.MemberID)
}

func mentions(ids []string) string {
	rv := make([]string, 0, len(ids))
	for _, id := range ids {
		rv = append(rv, mention(id))
	}
	return strings.Join(rv, ", ")
}

// whitelist returns the words channels may be renamed with, and whether
// they must be separated by spaces
func (e *Engine) whitelist(ctx context.Context) (map[string][]string, bool, error) {
	custom, err := e.store.AllowedNames(ctx)
	if err != nil {
		return nil, false, err
	}
	settings, err := e.store.GuildSettings(ctx, e.guildID)
	if err != nil {
		return nil, false, err
	}
	return e.names.Allowed(custom), settings.RequireWhitespaces, nil
}
