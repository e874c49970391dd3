package dynvoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

const (
	voiceLogColor   = 0x5865F2
	voiceLogTitle   = "Voice channel log"
	sweepBatchSize  = 100
	customIDPrefix  = "dynvoice"
	controlIDPrefix = customIDPrefix + ":ctl"
)

// EngineConfig holds the collaborators of an Engine
type EngineConfig struct {
	GuildID     string
	Voice       *VoiceConfig
	TeamRoleIDs []string
	Session     DiscordSessionHandler
	Store       *Store
	Authorizer  Authorizer
	Alerter     Alerter
	Controls    ControlMessageStore
	Names       *NameLists
	Logger      *slog.Logger
}

// Engine applies join/leave transitions and member commands to dynamic
// voice channels. Every operation on a channel runs under that channel's
// lock, and re-reads stored and Discord state once the lock is held.
// Creating or deleting a channel of a group additionally holds the
// group's lock, which is always taken after a channel lock.
type Engine struct {
	guildID     string
	session     DiscordSessionHandler
	store       *Store
	locks       *LockRegistry
	scheduler   *TransitionScheduler
	owners      *OwnerResolver
	auth        Authorizer
	alerts      Alerter
	controls    ControlMessageStore
	names       *NameLists
	config      *VoiceConfig
	teamRoleIDs []string
	logger      *slog.Logger

	now func() time.Time

	randMu sync.Mutex
	rand   *rand.Rand

	limiterMu      sync.Mutex
	renameLimiters map[string]*rate.Limiter

	joinRequestMu sync.Mutex
	joinRequests  map[string]*joinRequest

	// channels left empty because no replacement could be created
	keptMu    sync.Mutex
	keptEmpty map[string]bool
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	var errs []error
	if cfg.GuildID == "" {
		errs = append(errs, errors.New("guild ID required"))
	}
	if cfg.Session == nil {
		errs = append(errs, errors.New("discord session required"))
	}
	if cfg.Store == nil {
		errs = append(errs, errors.New("store required"))
	}
	if cfg.Authorizer == nil {
		errs = append(errs, errors.New("authorizer required"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if cfg.Voice == nil {
		cfg.Voice = DefaultConfig().Voice
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Controls == nil {
		cfg.Controls = newMemoryControlMessages(DefaultRedisTTL)
	}
	if cfg.Names == nil {
		names, err := DefaultNameLists()
		if err != nil {
			return nil, err
		}
		cfg.Names = names
	}

	e := &Engine{
		guildID:        cfg.GuildID,
		session:        cfg.Session,
		store:          cfg.Store,
		locks:          NewLockRegistry(),
		auth:           cfg.Authorizer,
		alerts:         cfg.Alerter,
		controls:       cfg.Controls,
		names:          cfg.Names,
		config:         cfg.Voice,
		teamRoleIDs:    cfg.TeamRoleIDs,
		logger:         cfg.Logger.With(loggerNameKey, "engine"),
		now:            time.Now,
		rand:           rand.New(rand.NewSource(time.Now().UnixNano())),
		renameLimiters: map[string]*rate.Limiter{},
		joinRequests:   map[string]*joinRequest{},
		keptEmpty:      map[string]bool{},
	}
	if e.alerts == nil {
		e.alerts = newDiscordAlerter(cfg.Session, "", cfg.Logger)
	}
	e.owners = NewOwnerResolver(cfg.Store, e.announceOwner, cfg.Logger)
	e.scheduler = NewTransitionScheduler(
		cfg.Voice.JoinDelay,
		cfg.Voice.LeaveDelay,
		e,
		cfg.Logger,
	)
	e.scheduler.onError = func(ctx context.Context, kind TransitionKind, key TransitionKey, err error) {
		e.alert(
			ctx,
			"unable to apply %s of %s in %s: %s",
			kind,
			mention(key.MemberID),
			channelMention(key.ChannelID),
			ErrorMessage(err),
		)
	}
	return e, nil
}

// Close cancels pending transitions and waits for in-flight commits
func (e *Engine) Close() {
	e.scheduler.Stop()
	e.scheduler.Wait()
}

// channelState is everything an operation needs to know about a
// dynamic channel, loaded under its lock
type channelState struct {
	ch         *DynChannel
	group      *DynGroup
	voice      *discordgo.Channel
	text       *discordgo.Channel
	present    Presence
	userRoleID string
}

// resolve turns ref into a voice channel ID
func (e *Engine) resolve(ctx context.Context, ref ChannelRef) (string, error) {
	switch ref.Kind {
	case RefVoiceChannel:
		return ref.ID, nil
	case RefTextChannel:
		ch, err := e.store.ChannelByText(ctx, ref.ID)
		if err != nil {
			return "", err
		}
		return ch.ChannelID, nil
	case RefMember:
		states, err := e.session.VoiceStates(e.guildID)
		if err != nil {
			return "", err
		}
		channelID := states[ref.ID]
		if channelID == "" {
			return "", invalidTarget("you need to be connected to a voice channel")
		}
		return channelID, nil
	default:
		return "", fmt.Errorf("invalid channel reference: %s", ref)
	}
}

// withChannel resolves ref, then runs fn with the channel's lock held
func (e *Engine) withChannel(
	ctx context.Context,
	ref ChannelRef,
	fn func(ctx context.Context, st *channelState) error,
) error {
	channelID, err := e.resolve(ctx, ref)
	if err != nil {
		return err
	}
	ctx, release, err := e.locks.Acquire(ctx, channelID)
	if err != nil {
		return err
	}
	defer release()

	st, err := e.loadState(ctx, channelID)
	if err != nil {
		return err
	}
	return fn(ctx, st)
}

// loadState reads the stored channel and its Discord counterparts. If
// the voice channel was deleted outside the bot, its records are dropped
// and ErrChannelNotFound is returned. A deleted text channel is forgotten.
func (e *Engine) loadState(ctx context.Context, channelID string) (*channelState, error) {
	ch, err := e.store.Channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	group, err := e.store.Group(ctx, ch.GroupID)
	if err != nil {
		return nil, fmt.Errorf("error loading group %s: %w", ch.GroupID, err)
	}

	voice, err := e.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			e.logger.WarnContext(ctx, "voice channel deleted externally", "channel", ch)
			e.dropChannel(ctx, ch)
			return nil, ErrChannelNotFound
		}
		return nil, classifyDiscordError(err, "unable to fetch channel")
	}

	st := &channelState{
		ch:         ch,
		group:      group,
		voice:      voice,
		userRoleID: group.UserRoleID,
	}
	if st.userRoleID == "" {
		st.userRoleID = e.guildID
	}

	if ch.TextChannelID != "" {
		text, textErr := e.session.Channel(ch.TextChannelID, discordgo.WithContext(ctx))
		switch {
		case textErr == nil:
			st.text = text
		case isNotFound(textErr):
			e.logger.WarnContext(ctx, "text channel deleted externally", "channel", ch)
			ch.TextChannelID = ""
			if err = e.store.SaveChannel(ctx, ch); err != nil {
				return nil, err
			}
		default:
			return nil, classifyDiscordError(textErr, "unable to fetch text channel")
		}
	}

	st.present, err = e.session.VoiceChannelMembers(e.guildID, channelID)
	if err != nil {
		return nil, fmt.Errorf("error reading voice channel members: %w", err)
	}
	return st, nil
}

// dropChannel removes the records of a channel which no longer exists
// on Discord
func (e *Engine) dropChannel(ctx context.Context, ch *DynChannel) {
	if _, err := e.store.DeleteChannel(ctx, ch.ChannelID); err != nil {
		e.logger.ErrorContext(ctx, "error dropping stale channel", tint.Err(err), "channel", ch)
		return
	}
	e.forget(ctx, ch.ChannelID)
}

// forget clears in-memory and cached state for a deleted channel
func (e *Engine) forget(ctx context.Context, channelID string) {
	e.owners.Invalidate(channelID)
	if err := e.controls.Delete(ctx, channelID); err != nil {
		e.logger.WarnContext(ctx, "error deleting control message ID", tint.Err(err), "channel_id", channelID)
	}
	e.limiterMu.Lock()
	delete(e.renameLimiters, channelID)
	e.limiterMu.Unlock()
	e.setKeptEmpty(channelID, false)
}

func (e *Engine) setKeptEmpty(channelID string, kept bool) {
	e.keptMu.Lock()
	defer e.keptMu.Unlock()
	if kept {
		e.keptEmpty[channelID] = true
		return
	}
	delete(e.keptEmpty, channelID)
}

func (e *Engine) isKeptEmpty(channelID string) bool {
	e.keptMu.Lock()
	defer e.keptMu.Unlock()
	return e.keptEmpty[channelID]
}

// authorize returns nil if actor may manage the channel: the current
// owner, anyone holding PermissionOverrideOwner, or the system.
func (e *Engine) authorize(ctx context.Context, actor Actor, st *channelState) error {
	if actor.IsSystem() || e.auth.HasPermission(ctx, actor, PermissionOverrideOwner) {
		return nil
	}
	owner, err := e.owners.Get(ctx, st.ch, st.present)
	if err != nil {
		return err
	}
	if owner != "" && owner == actor.MemberID {
		return nil
	}
	return ErrNotAuthorized
}

// require returns ErrNotAuthorized unless actor holds perm
func (e *Engine) require(ctx context.Context, actor Actor, perm Permission) error {
	if e.auth.HasPermission(ctx, actor, perm) {
		return nil
	}
	return newError(KindNotAuthorized, "you don't have permission to do that", nil)
}

func (e *Engine) alert(ctx context.Context, format string, args ...any) {
	e.alerts.Alert(ctx, fmt.Sprintf(format, args...))
}

// MemberJoin applies a member joining a dynamic channel.
func (e *Engine) MemberJoin(ctx context.Context, memberID, channelID string) error {
	ctx, release, err := e.locks.Acquire(ctx, channelID)
	if err != nil {
		return err
	}
	defer release()

	st, err := e.loadState(ctx, channelID)
	if errors.Is(err, ErrNotDynamicChannel) || errors.Is(err, ErrChannelNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	logger := e.logger.With("channel", st.ch, "member_id", memberID)

	member, err := e.session.GuildMember(e.guildID, memberID, discordgo.WithContext(ctx))
	if err != nil {
		return classifyDiscordError(err, "unable to fetch member")
	}
	memberIsBot := isBot(member)
	st.present[memberID] = memberIsBot
	if !memberIsBot {
		e.setKeptEmpty(channelID, false)
	}

	if err = e.ensureSpareChannel(ctx, st); err != nil {
		logger.ErrorContext(ctx, "unable to ensure an empty channel", tint.Err(err))
		e.alert(ctx, "unable to create a new channel next to %s: %s", channelMention(channelID), ErrorMessage(err))
	}

	if st.text == nil && st.group.TextChannelByDefault && !memberIsBot {
		if err = e.createTextChannel(ctx, st); err != nil {
			logger.ErrorContext(ctx, "unable to create text channel", tint.Err(err))
			e.alert(ctx, "unable to create a text channel for %s: %s", channelMention(channelID), ErrorMessage(err))
		}
	}

	e.grantOnJoin(ctx, st, memberID, logger)
	e.voiceLog(ctx, channelID, fmt.Sprintf("%s joined", mention(memberID)), false)

	membership, created, err := e.store.EnsureMembership(ctx, memberID, channelID, e.now())
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "member joined", "membership_id", membership.ID, "created", created)

	if memberIsBot {
		return nil
	}
	if _, err = e.owners.Fix(ctx, st.ch, st.present); err != nil {
		return fmt.Errorf("error updating owner: %w", err)
	}
	return nil
}

// grantOnJoin gives a joining member access to the channel's chat, and
// to the voice channel itself if it's unlocked. In a locked channel a
// member without a personal overwrite got in some other way (moved by
// a moderator...) and is admitted.
func (e *Engine) grantOnJoin(ctx context.Context, st *channelState, memberID string, logger *slog.Logger) {
	if st.text != nil {
		if err := e.patchMemberOverwrite(ctx, st.text, memberID, allow(permView|permChat)); err != nil {
			logger.ErrorContext(ctx, "unable to grant text channel access", tint.Err(err))
			e.alert(ctx, "unable to grant %s access to %s: %s", mention(memberID), channelMention(st.text.ID), ErrorMessage(err))
		}
	}

	voiceOverwrites := newOverwriteSet(st.voice.PermissionOverwrites)
	var patch overwritePatch
	switch {
	case !st.ch.Locked:
		patch = allow(permMemberGrant)
	case !voiceOverwrites.has(memberID):
		patch = allow(permVoiceAccess | permChat)
	default:
		return
	}
	if err := e.patchMemberOverwrite(ctx, st.voice, memberID, patch); err != nil {
		logger.ErrorContext(ctx, "unable to grant voice channel access", tint.Err(err))
		e.alert(ctx, "unable to grant %s access to %s: %s", mention(memberID), channelMention(st.voice.ID), ErrorMessage(err))
	}
}

// MemberLeave applies a member leaving a dynamic channel. When the last
// human leaves, the channel is deleted once an empty sibling is
// guaranteed to exist.
func (e *Engine) MemberLeave(ctx context.Context, memberID, channelID string) error {
	ctx, release, err := e.locks.Acquire(ctx, channelID)
	if err != nil {
		return err
	}
	defer release()

	st, err := e.loadState(ctx, channelID)
	if errors.Is(err, ErrNotDynamicChannel) || errors.Is(err, ErrChannelNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	logger := e.logger.With("channel", st.ch, "member_id", memberID)
	delete(st.present, memberID)

	membership, err := e.store.Membership(ctx, memberID, channelID)
	if err != nil {
		return err
	}
	if membership != nil {
		if !st.ch.Locked {
			e.revokeOnLeave(ctx, st, memberID, logger)
		}
		if _, err = e.store.DeleteMembership(ctx, memberID, channelID); err != nil {
			return err
		}
		logger.InfoContext(ctx, "member left", "membership_id", membership.ID)

		if st.present.Humans() > 0 {
			e.voiceLog(ctx, channelID, fmt.Sprintf("%s left", mention(memberID)), false)
		}

		wasOwner := st.ch.OwnerOverride == memberID ||
			(st.ch.OwnerMembershipID != nil && *st.ch.OwnerMembershipID == membership.ID)
		if wasOwner && st.present.Humans() > 0 {
			if _, err = e.owners.Fix(ctx, st.ch, st.present); err != nil {
				return fmt.Errorf("error updating owner: %w", err)
			}
		}
	}

	if st.present.Humans() > 0 {
		return nil
	}
	if membership == nil && e.isKeptEmpty(channelID) {
		// already torn down as far as capacity allows
		return nil
	}
	return e.teardown(ctx, st)
}

func (e *Engine) revokeOnLeave(ctx context.Context, st *channelState, memberID string, logger *slog.Logger) {
	if st.text != nil {
		if err := e.patchMemberOverwrite(ctx, st.text, memberID, inherit(permView|permChat)); err != nil {
			logger.WarnContext(ctx, "unable to revoke text channel access", tint.Err(err))
		}
	}
	if err := e.patchMemberOverwrite(ctx, st.voice, memberID, inherit(permMemberGrant)); err != nil {
		logger.WarnContext(ctx, "unable to revoke voice channel access", tint.Err(err))
	}
}

// teardown deletes an empty channel along with its text channel. The
// voice channel is kept if no empty sibling exists and none could be
// created, so a group never runs out of free channels.
func (e *Engine) teardown(ctx context.Context, st *channelState) error {
	logger := e.logger.With("channel", st.ch)

	if st.text != nil {
		if _, err := e.session.ChannelDelete(st.text.ID, discordgo.WithContext(ctx)); err != nil && !isNotFound(err) {
			logger.ErrorContext(ctx, "unable to delete text channel", tint.Err(err))
			if isForbidden(err) {
				e.alert(ctx, "missing permissions to delete %s", channelMention(st.text.ID))
			}
		} else {
			st.text = nil
			st.ch.TextChannelID = ""
			if err = e.store.SaveChannel(ctx, st.ch); err != nil {
				return err
			}
		}
	}

	ctx, release, err := e.locks.Acquire(ctx, groupLockKey(st.ch.GroupID))
	if err != nil {
		return err
	}
	defer release()

	siblings, err := e.store.GroupChannels(ctx, st.ch.GroupID)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(siblings, func(c DynChannel) bool { return c.ChannelID == st.ch.ChannelID }) {
		// the group was removed while we waited
		return nil
	}

	spare, err := e.findSpare(ctx, siblings, st.ch.ChannelID)
	if err != nil {
		return err
	}
	if spare == "" {
		created, createErr := e.createSibling(ctx, st)
		if createErr != nil {
			e.setKeptEmpty(st.ch.ChannelID, true)
			e.alert(
				ctx,
				"keeping empty channel %s, no replacement could be created: %s",
				channelMention(st.ch.ChannelID),
				ErrorMessage(createErr),
			)
			return createErr
		}
		logger.InfoContext(ctx, "created replacement channel", "replacement", created)
	}
	return e.deleteVoice(ctx, st)
}

// deleteVoice deletes the voice channel and its records. Must be called
// with the group lock held.
func (e *Engine) deleteVoice(ctx context.Context, st *channelState) error {
	if err := e.owners.Clear(ctx, st.ch); err != nil {
		return err
	}
	if err := e.store.DeleteMemberships(ctx, st.ch.ChannelID); err != nil {
		return err
	}
	if _, err := e.session.ChannelDelete(st.ch.ChannelID, discordgo.WithContext(ctx)); err != nil && !isNotFound(err) {
		if isForbidden(err) {
			e.alert(ctx, "missing permissions to delete %s", channelMention(st.ch.ChannelID))
		}
		return classifyDiscordError(err, "unable to delete channel")
	}
	if _, err := e.store.DeleteChannel(ctx, st.ch.ChannelID); err != nil {
		return err
	}
	e.forget(ctx, st.ch.ChannelID)
	e.logger.InfoContext(ctx, "deleted empty channel", "channel", st.ch)
	return nil
}

// ensureSpareChannel creates a sibling if every channel of the group has
// someone in it. The check is repeated under the group lock, so that
// concurrent joins create one channel between them.
func (e *Engine) ensureSpareChannel(ctx context.Context, st *channelState) error {
	if st.present.Humans() == 0 {
		return nil
	}
	ctx, release, err := e.locks.Acquire(ctx, groupLockKey(st.ch.GroupID))
	if err != nil {
		return err
	}
	defer release()

	siblings, err := e.store.GroupChannels(ctx, st.ch.GroupID)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(siblings, func(c DynChannel) bool { return c.ChannelID == st.ch.ChannelID }) {
		return nil
	}
	spare, err := e.findSpare(ctx, siblings, st.ch.ChannelID)
	if err != nil || spare != "" {
		return err
	}
	_, err = e.createSibling(ctx, st)
	return err
}

// findSpare returns the ID of a sibling (other than exclude) with no
// humans in it. Siblings deleted outside the bot are dropped.
func (e *Engine) findSpare(ctx context.Context, siblings []DynChannel, exclude string) (string, error) {
	for i := range siblings {
		sib := &siblings[i]
		if sib.ChannelID == exclude {
			continue
		}
		present, err := e.session.VoiceChannelMembers(e.guildID, sib.ChannelID)
		if err != nil {
			return "", err
		}
		if present.Humans() > 0 {
			continue
		}
		_, err = e.session.Channel(sib.ChannelID, discordgo.WithContext(ctx))
		switch {
		case err == nil:
			return sib.ChannelID, nil
		case isNotFound(err):
			e.logger.WarnContext(ctx, "sibling channel deleted externally", "channel", sib)
			e.dropChannel(ctx, sib)
		default:
			return "", classifyDiscordError(err, "unable to fetch channel")
		}
	}
	return "", nil
}

// createSibling creates a new channel in st's group, copying st's
// permissions without any lock overrides. Must be called with the group
// lock held.
func (e *Engine) createSibling(ctx context.Context, st *channelState) (*DynChannel, error) {
	existing, err := e.checkCapacity(ctx, st.voice.ParentID)
	if err != nil {
		return nil, err
	}

	overwrites := newOverwriteSet(st.voice.PermissionOverwrites).withoutLockOverrides(
		e.session.BotUserID(),
		st.userRoleID,
		nil,
		st.ch.Locked,
	)
	data := discordgo.GuildChannelCreateData{
		Name:                 e.randomName(existing),
		Type:                 discordgo.ChannelTypeGuildVoice,
		Bitrate:              st.voice.Bitrate,
		UserLimit:            st.voice.UserLimit,
		ParentID:             st.voice.ParentID,
		PermissionOverwrites: overwrites.list(),
	}
	created, err := e.safeCreate(ctx, data, st.userRoleID)
	if err != nil {
		return nil, err
	}

	ch, err := e.store.CreateSiblingChannel(ctx, st.ch.GroupID, created.ID)
	if err != nil {
		if _, delErr := e.session.ChannelDelete(created.ID, discordgo.WithContext(ctx)); delErr != nil {
			e.logger.ErrorContext(ctx, "unable to delete orphaned channel", tint.Err(delErr), "channel_id", created.ID)
		}
		return nil, err
	}
	e.logger.InfoContext(ctx, "created sibling channel", "channel", ch, "name", created.Name)
	e.voiceLog(ctx, ch.ChannelID, "Channel created. Use the buttons below or `/voice` to manage it.", true)
	return ch, nil
}

// safeCreate creates a channel. The bot can't grant permissions it
// doesn't have itself, so if Discord refuses, the user role's overwrite
// is left out and re-applied with an edit afterward.
func (e *Engine) safeCreate(
	ctx context.Context,
	data discordgo.GuildChannelCreateData,
	userRoleID string,
) (*discordgo.Channel, error) {
	created, err := e.session.GuildChannelCreateComplex(e.guildID, data, discordgo.WithContext(ctx))
	if err == nil {
		return created, nil
	}
	if !isForbidden(err) {
		return nil, classifyDiscordError(err, "unable to create channel")
	}

	full := data.PermissionOverwrites
	stripped := make([]*discordgo.PermissionOverwrite, 0, len(full))
	for _, ow := range full {
		if ow.ID != userRoleID {
			stripped = append(stripped, ow)
		}
	}
	if len(stripped) == len(full) {
		e.alert(ctx, "missing permissions to create channel %q", data.Name)
		return nil, classifyDiscordError(err, "unable to create channel")
	}

	data.PermissionOverwrites = stripped
	created, err = e.session.GuildChannelCreateComplex(e.guildID, data, discordgo.WithContext(ctx))
	if err != nil {
		e.alert(ctx, "missing permissions to create channel %q", data.Name)
		return nil, classifyDiscordError(err, "unable to create channel")
	}
	if _, err = e.session.ChannelEdit(
		created.ID,
		&discordgo.ChannelEdit{PermissionOverwrites: full},
		discordgo.WithContext(ctx),
	); err != nil {
		e.alert(ctx, "unable to apply permissions to %s: %s", channelMention(created.ID), ErrorMessage(classifyDiscordError(err, "edit failed")))
	}
	return created, nil
}

// checkCapacity returns ErrCapacityExceeded if no more channels fit in
// the category. Returns the guild's channels otherwise. Callers alert.
func (e *Engine) checkCapacity(ctx context.Context, parentID string) ([]*discordgo.Channel, error) {
	channels, err := e.session.GuildChannels(e.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classifyDiscordError(err, "unable to list channels")
	}
	count := len(channels)
	limit := e.config.GuildLimit
	if parentID != "" {
		count = 0
		for _, c := range channels {
			if c.ParentID == parentID {
				count++
			}
		}
		limit = e.config.CategoryLimit
	}
	if count >= limit {
		return nil, newError(
			KindCapacityExceeded,
			fmt.Sprintf("%d of %d channels already exist in %s", count, limit, categoryName(parentID)),
			nil,
		)
	}
	return channels, nil
}

func (e *Engine) randomName(existing []*discordgo.Channel) string {
	avoid := make(map[string]bool, len(existing))
	for _, c := range existing {
		avoid[c.Name] = true
	}
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.names.RandomName(e.guildID, e.now(), avoid, e.rand)
}

// createTextChannel creates the companion text channel for st, visible
// to the members currently in the voice channel.
func (e *Engine) createTextChannel(ctx context.Context, st *channelState) error {
	if _, err := e.checkCapacity(ctx, st.voice.ParentID); err != nil {
		return err
	}

	overwrites := newOverwriteSet(nil)
	overwrites.applyRole(e.guildID, deny(permVoiceAccess))
	if botID := e.session.BotUserID(); botID != "" {
		overwrites.applyMember(botID, allow(permView|permChat|permManage))
	}
	for _, roleID := range e.teamRoleIDs {
		overwrites.applyRole(roleID, allow(permView|permChat))
	}
	for id := range st.present {
		overwrites.applyMember(id, allow(permView|permChat))
	}

	text, err := e.session.GuildChannelCreateComplex(
		e.guildID,
		discordgo.GuildChannelCreateData{
			Name:                 st.voice.Name,
			Type:                 discordgo.ChannelTypeGuildText,
			Topic:                fmt.Sprintf("Chat for %s", channelMention(st.voice.ID)),
			ParentID:             st.voice.ParentID,
			PermissionOverwrites: overwrites.list(),
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		if isForbidden(err) {
			e.alert(ctx, "missing permissions to create a text channel for %s", channelMention(st.voice.ID))
		}
		return classifyDiscordError(err, "unable to create text channel")
	}

	st.ch.TextChannelID = text.ID
	if err = e.store.SaveChannel(ctx, st.ch); err != nil {
		st.ch.TextChannelID = ""
		if _, delErr := e.session.ChannelDelete(text.ID, discordgo.WithContext(ctx)); delErr != nil {
			e.logger.ErrorContext(ctx, "unable to delete orphaned text channel", tint.Err(delErr))
		}
		return err
	}
	st.text = text
	e.logger.InfoContext(ctx, "created text channel", "channel", st.ch)
	return nil
}

// patchMemberOverwrite applies patch to memberID's overwrite on ch. The
// overwrite is deleted if nothing is left in it. ch.PermissionOverwrites
// is updated on success.
func (e *Engine) patchMemberOverwrite(
	ctx context.Context,
	ch *discordgo.Channel,
	memberID string,
	patch overwritePatch,
) error {
	ow := newOverwriteSet(ch.PermissionOverwrites)
	existed := ow.has(memberID)
	ow.applyMember(memberID, patch)
	updated := ow.get(memberID)

	var err error
	switch {
	case updated.Allow == 0 && updated.Deny == 0 && !existed:
		return nil
	case updated.Allow == 0 && updated.Deny == 0:
		err = e.session.ChannelPermissionDelete(ch.ID, memberID, discordgo.WithContext(ctx))
		if isNotFound(err) {
			err = nil
		}
	default:
		err = e.session.ChannelPermissionSet(
			ch.ID,
			memberID,
			discordgo.PermissionOverwriteTypeMember,
			updated.Allow,
			updated.Deny,
			discordgo.WithContext(ctx),
		)
	}
	if err != nil {
		return classifyDiscordError(err, "unable to update channel permissions")
	}
	ch.PermissionOverwrites = ow.list()
	return nil
}

// editOverwrites replaces all of ch's permission overwrites
func (e *Engine) editOverwrites(ctx context.Context, ch *discordgo.Channel, ow *overwriteSet) error {
	overwrites := ow.list()
	_, err := e.session.ChannelEdit(
		ch.ID,
		&discordgo.ChannelEdit{PermissionOverwrites: overwrites},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return classifyDiscordError(err, "unable to edit channel permissions")
	}
	ch.PermissionOverwrites = overwrites
	return nil
}

// announceOwner is called by the OwnerResolver when a channel gets a
// new owner
func (e *Engine) announceOwner(ctx context.Context, ch *DynChannel, ownerID string) {
	e.voiceLog(ctx, ch.ChannelID, fmt.Sprintf("%s is now the owner", mention(ownerID)), false)
}

// voiceLog adds a line to the log embed posted in the voice channel's
// chat. The current control message is edited while it has room, else
// (or with forceNew) a new one is posted and the previous message loses
// its buttons.
func (e *Engine) voiceLog(ctx context.Context, channelID string, text string, forceNew bool) {
	logger := e.logger.With("channel_id", channelID)
	ts := e.now().Unix()
	field := &discordgo.MessageEmbedField{
		Name:  fmt.Sprintf("<t:%d:D> <t:%d:T>", ts, ts),
		Value: truncate(text, 1024),
	}

	previousID, err := e.controls.Get(ctx, channelID)
	if err != nil {
		logger.WarnContext(ctx, "unable to read control message ID", tint.Err(err))
	}

	if previousID != "" && !forceNew {
		msg, msgErr := e.session.ChannelMessage(channelID, previousID, discordgo.WithContext(ctx))
		if msgErr == nil && len(msg.Embeds) > 0 && len(msg.Embeds[0].Fields) < discordMaxEmbedFields {
			embed := *msg.Embeds[0]
			embed.Fields = append(slices.Clone(embed.Fields), field)
			embeds := []*discordgo.MessageEmbed{&embed}
			_, msgErr = e.session.ChannelMessageEditComplex(
				&discordgo.MessageEdit{ID: previousID, Channel: channelID, Embeds: &embeds},
				discordgo.WithContext(ctx),
			)
			if msgErr == nil {
				return
			}
		}
		if msgErr != nil {
			logger.DebugContext(ctx, "unable to extend control message", tint.Err(msgErr))
		}
	}

	msg, err := e.session.ChannelMessageSendComplex(
		channelID,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title:  voiceLogTitle,
					Color:  voiceLogColor,
					Fields: []*discordgo.MessageEmbedField{field},
				},
			},
			Components:      controlComponents(channelID),
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.WarnContext(ctx, "unable to post voice log", tint.Err(err))
		return
	}

	if previousID != "" {
		empty := []discordgo.MessageComponent{}
		if _, err = e.session.ChannelMessageEditComplex(
			&discordgo.MessageEdit{ID: previousID, Channel: channelID, Components: &empty},
			discordgo.WithContext(ctx),
		); err != nil {
			logger.DebugContext(ctx, "unable to clear previous control message", tint.Err(err))
		}
	}
	if err = e.controls.Set(ctx, channelID, msg.ID); err != nil {
		logger.WarnContext(ctx, "unable to store control message ID", tint.Err(err))
	}
}

// controlComponents are the buttons attached to the latest log message
func controlComponents(channelID string) []discordgo.MessageComponent {
	button := func(label string, emoji string, action controlAction, style discordgo.ButtonStyle) discordgo.MessageComponent {
		return discordgo.Button{
			Label:    label,
			Style:    style,
			Emoji:    &discordgo.ComponentEmoji{Name: emoji},
			CustomID: controlCustomID(channelID, action),
		}
	}
	buttons := []discordgo.MessageComponent{
		button("Info", "ℹ️", controlInfo, discordgo.SecondaryButton),
		button("Help", "❓", controlHelp, discordgo.SecondaryButton),
		button("Lock", "🔒", controlLock, discordgo.PrimaryButton),
		button("Hide", "🙈", controlHide, discordgo.PrimaryButton),
		button("Ping", "🔔", controlPing, discordgo.SecondaryButton),
	}
	var rows []discordgo.MessageComponent
	for _, chunk := range chunkItems(discordMaxButtonsPerActionRow, buttons...) {
		rows = append(rows, discordgo.ActionsRow{Components: chunk})
	}
	return rows
}

// RunSweeper periodically drops the records of channels deleted outside
// the bot, until ctx is done
func (e *Engine) RunSweeper(ctx context.Context) {
	if e.config.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.SweepStaleChannels(ctx)
			if err != nil {
				e.logger.ErrorContext(ctx, "error sweeping stale channels", tint.Err(err))
				continue
			}
			if n > 0 {
				e.logger.InfoContext(ctx, "swept stale channels", "count", n)
			}
		}
	}
}

// SweepStaleChannels drops every stored channel whose voice channel no
// longer exists, returning how many were dropped
func (e *Engine) SweepStaleChannels(ctx context.Context) (int, error) {
	var channelIDs []string
	err := e.store.EachChannel(
		ctx, sweepBatchSize, func(channels []DynChannel) error {
			for _, c := range channels {
				channelIDs = append(channelIDs, c.ChannelID)
			}
			return nil
		},
	)
	if err != nil {
		return 0, err
	}

	dropped := 0
	for _, channelID := range channelIDs {
		if ctx.Err() != nil {
			return dropped, ctx.Err()
		}
		if e.dropIfStale(ctx, channelID) {
			dropped++
		}
	}
	return dropped, nil
}

func (e *Engine) dropIfStale(ctx context.Context, channelID string) bool {
	ctx, release, err := e.locks.Acquire(ctx, channelID)
	if err != nil {
		return false
	}
	defer release()
	_, err = e.loadState(ctx, channelID)
	return errors.Is(err, ErrChannelNotFound)
}

// HandleVoiceStateUpdate updates linked roles right away, and hands
// dynamic channel joins/leaves to the transition scheduler.
func (e *Engine) HandleVoiceStateUpdate(ctx context.Context, vs *discordgo.VoiceStateUpdate) {
	if vs == nil || vs.VoiceState == nil || vs.GuildID != e.guildID {
		return
	}
	memberID := vs.UserID
	var before string
	if vs.BeforeUpdate != nil {
		before = vs.BeforeUpdate.ChannelID
	}
	after := vs.ChannelID
	if before == after {
		return
	}
	logger := e.logger.With("member_id", memberID, "before", before, "after", after)
	logger.DebugContext(ctx, "voice state update")

	e.updateLinkedRoles(ctx, memberID, before, after)

	if before != "" {
		dynamic, err := e.store.IsDynamic(ctx, before)
		if err != nil {
			logger.ErrorContext(ctx, "error checking channel", tint.Err(err))
		} else if dynamic {
			if _, err = e.scheduler.Left(ctx, TransitionKey{MemberID: memberID, ChannelID: before}); err != nil {
				logger.ErrorContext(ctx, "error applying leave", tint.Err(err))
				e.alert(ctx, "unable to apply leave of %s in %s: %s", mention(memberID), channelMention(before), ErrorMessage(err))
			}
		}
	}
	if after != "" {
		dynamic, err := e.store.IsDynamic(ctx, after)
		if err != nil {
			logger.ErrorContext(ctx, "error checking channel", tint.Err(err))
		} else if dynamic {
			e.scheduler.Joined(ctx, TransitionKey{MemberID: memberID, ChannelID: after})
		}
	}
}

func channelMention(channelID string) string {
	return fmt.Sprintf("<#%s>", channelID)
}

func categoryName(parentID string) string {
	if parentID == "" {
		return "the server"
	}
	return channelMention(parentID)
}
