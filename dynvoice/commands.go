package dynvoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	DiscordSlashCommandVoice      = "voice"
	DiscordSlashCommandVoiceAdmin = "voiceadmin"

	subcommandLock     = "lock"
	subcommandUnlock   = "unlock"
	subcommandHide     = "hide"
	subcommandUnhide   = "unhide"
	subcommandAdd      = "add"
	subcommandRemove   = "remove"
	subcommandOwner    = "owner"
	subcommandTransfer = "transfer"
	subcommandRename   = "rename"
	subcommandInfo     = "info"
	subcommandText     = "text"
	subcommandPing     = "ping"
	subcommandJoin     = "join"

	subcommandGroupCreate = "group-create"
	subcommandGroupRemove = "group-remove"
	subcommandGroupText   = "group-text"
	subcommandGroups      = "groups"
	subcommandLinkAdd     = "link-add"
	subcommandLinkRemove  = "link-remove"
	subcommandLinks       = "links"
	subcommandNameAdd     = "name-add"
	subcommandNameRemove  = "name-remove"
	subcommandNames       = "names"
	subcommandNameCheck   = "name-check"
	subcommandNameParts   = "name-parts"
	subcommandNameSpaces  = "name-spaces"
	subcommandSweep       = "sweep"

	optionMember   = "member"
	optionMember2  = "member2"
	optionMember3  = "member3"
	optionName     = "name"
	optionForce    = "force"
	optionEnabled  = "enabled"
	optionChannel  = "channel"
	optionRole     = "role"
	optionText     = "text"
	optionRequired = "required"

	// maxNamePartsShown limits the splits listed by name-parts
	maxNamePartsShown = 10

	helpText = "**Dynamic voice channels**\n" +
		"Join any channel of a group, and a new empty one appears. " +
		"The first member to join owns the channel.\n\n" +
		"`/voice lock` only lets current members (and anyone added) connect\n" +
		"`/voice hide` also hides the channel\n" +
		"`/voice unlock` and `/voice unhide` undo them\n" +
		"`/voice add` and `/voice remove` manage who can connect\n" +
		"`/voice transfer` hands the channel to someone else\n" +
		"`/voice rename` renames the channel with whitelisted words\n" +
		"`/voice text` creates a text channel for the members\n" +
		"`/voice join` asks the owner of a locked channel to let you in"
)

// controlAction is the action of a control message button
type controlAction string

const (
	controlInfo controlAction = "info"
	controlHelp controlAction = "help"
	controlLock controlAction = "lock"
	controlHide controlAction = "hide"
	controlPing controlAction = "ping"
)

func controlCustomID(channelID string, action controlAction) string {
	return fmt.Sprintf("%s:%s:%s", controlIDPrefix, channelID, action)
}

// parseControlCustomID reverses controlCustomID
func parseControlCustomID(customID string) (string, controlAction, bool) {
	rest, ok := strings.CutPrefix(customID, controlIDPrefix+":")
	if !ok {
		return "", "", false
	}
	channelID, action, ok := strings.Cut(rest, ":")
	if !ok || channelID == "" {
		return "", "", false
	}
	switch a := controlAction(action); a {
	case controlInfo, controlHelp, controlLock, controlHide, controlPing:
		return channelID, a, true
	default:
		return "", "", false
	}
}

// parseJoinRequestCustomID parses the custom ID of a join request button
func parseJoinRequestCustomID(customID string) (requestID string, approve bool, ok bool) {
	rest, ok := strings.CutPrefix(customID, joinRequestIDPrefix+":")
	if !ok {
		return "", false, false
	}
	requestID, answer, ok := strings.Cut(rest, ":")
	if !ok || requestID == "" {
		return "", false, false
	}
	switch answer {
	case "approve":
		return requestID, true, true
	case "deny":
		return requestID, false, true
	default:
		return "", false, false
	}
}

func subcommand(
	name string,
	description string,
	options ...*discordgo.ApplicationCommandOption,
) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options:     options,
	}
}

func userOption(name string, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

func boolOption(name string, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionBoolean,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

func stringOption(name string, description string, maxLength int) *discordgo.ApplicationCommandOption {
	minLength := 1
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: description,
		Required:    true,
		MinLength:   &minLength,
		MaxLength:   maxLength,
	}
}

func voiceChannelOption(required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionChannel,
		Name:         optionChannel,
		Description:  "Voice channel",
		Required:     required,
		ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildVoice},
	}
}

func roleOption(required bool, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionRole,
		Name:        optionRole,
		Description: description,
		Required:    required,
	}
}

// appCommandVoice creates the "/voice" command members use to manage
// the channel they're in
func appCommandVoice() *discordgo.ApplicationCommand {
	dmPerm := false
	return &discordgo.ApplicationCommand{
		Name:         DiscordSlashCommandVoice,
		Type:         discordgo.ChatApplicationCommand,
		Description:  "Manage your voice channel",
		DMPermission: &dmPerm,
		Options: []*discordgo.ApplicationCommandOption{
			subcommand(subcommandLock, "Only let current members connect"),
			subcommand(subcommandUnlock, "Let anyone connect again"),
			subcommand(subcommandHide, "Lock the channel and hide it"),
			subcommand(subcommandUnhide, "Make the channel visible again"),
			subcommand(
				subcommandAdd,
				"Let members connect while the channel is locked",
				userOption(optionMember, "Member to add", true),
				userOption(optionMember2, "Another member to add", false),
				userOption(optionMember3, "Another member to add", false),
			),
			subcommand(
				subcommandRemove,
				"Disconnect members and keep them out",
				userOption(optionMember, "Member to remove", true),
				userOption(optionMember2, "Another member to remove", false),
				userOption(optionMember3, "Another member to remove", false),
			),
			subcommand(subcommandOwner, "Show who owns the channel"),
			subcommand(
				subcommandTransfer,
				"Make someone else the owner",
				userOption(optionMember, "New owner", true),
			),
			subcommand(
				subcommandRename,
				"Rename the channel",
				stringOption(optionName, "New name", discordMaxChannelNameLength),
				boolOption(optionForce, "Skip the whitelist (requires permission)", false),
			),
			subcommand(subcommandInfo, "Describe the channel"),
			subcommand(subcommandText, "Create a text channel for the members"),
			subcommand(
				subcommandPing,
				"Whether you're pinged on join requests",
				boolOption(optionEnabled, "Ping me", true),
			),
			subcommand(
				subcommandJoin,
				"Ask the owner of a locked channel to let you in",
				voiceChannelOption(true),
			),
		},
	}
}

// appCommandVoiceAdmin creates the "/voiceadmin" command, which manages
// groups, role links and the rename whitelist
func appCommandVoiceAdmin() *discordgo.ApplicationCommand {
	dmPerm := false
	var defaultPerms int64 = discordgo.PermissionManageChannels
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandVoiceAdmin,
		Type:                     discordgo.ChatApplicationCommand,
		Description:              "Manage dynamic voice channels",
		DMPermission:             &dmPerm,
		DefaultMemberPermissions: &defaultPerms,
		Options: []*discordgo.ApplicationCommandOption{
			subcommand(
				subcommandGroupCreate,
				"Make a voice channel dynamic",
				voiceChannelOption(true),
				roleOption(false, "Role members use to access the channel"),
				boolOption(optionText, "Create text channels by default", false),
			),
			subcommand(
				subcommandGroupRemove,
				"Delete a group, keeping the given channel",
				voiceChannelOption(true),
			),
			subcommand(
				subcommandGroupText,
				"Whether channels get a text channel by default",
				voiceChannelOption(true),
				boolOption(optionEnabled, "Create text channels by default", true),
			),
			subcommand(subcommandGroups, "List groups"),
			subcommand(
				subcommandLinkAdd,
				"Grant a role while connected to a channel",
				roleOption(true, "Role to grant"),
				voiceChannelOption(true),
			),
			subcommand(
				subcommandLinkRemove,
				"Remove a role link",
				roleOption(true, "Linked role"),
				voiceChannelOption(true),
			),
			subcommand(subcommandLinks, "List role links"),
			subcommand(
				subcommandNameAdd,
				"Add a word to the rename whitelist",
				stringOption(optionName, "Word", maxAllowedNameLength),
			),
			subcommand(
				subcommandNameRemove,
				"Remove a word from the rename whitelist",
				stringOption(optionName, "Word", maxAllowedNameLength),
			),
			subcommand(subcommandNames, "List the rename whitelist"),
			subcommand(
				subcommandNameCheck,
				"Check whether a name is allowed",
				stringOption(optionName, "Name", discordMaxChannelNameLength),
			),
			subcommand(
				subcommandNameParts,
				"Show the whitelisted words a name is made of",
				stringOption(optionName, "Name", discordMaxChannelNameLength),
			),
			subcommand(
				subcommandNameSpaces,
				"Whether whitelisted words must be separated by spaces",
				boolOption(optionRequired, "Require spaces", true),
			),
			subcommand(subcommandSweep, "Forget channels deleted outside the bot"),
		},
	}
}

// CommandHandler responds to slash commands and button clicks by
// calling the Engine
type CommandHandler struct {
	engine       *Engine
	session      DiscordSessionHandler
	errorMessage string
	logger       *slog.Logger
}

func NewCommandHandler(
	engine *Engine,
	session DiscordSessionHandler,
	errorMessage string,
	logger *slog.Logger,
) *CommandHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if errorMessage == "" {
		errorMessage = DefaultDiscordErrorMessage
	}
	return &CommandHandler{
		engine:       engine,
		session:      session,
		errorMessage: errorMessage,
		logger:       logger.With(loggerNameKey, "commands"),
	}
}

// Handle responds to an interaction. Commands are acknowledged with an
// ephemeral deferred response right away, and the response edited once
// the Engine returns.
func (h *CommandHandler) Handle(ctx context.Context, i *discordgo.InteractionCreate) {
	logger := h.logger.With(slog.Group("interaction", interactionLogAttrs(*i)...))
	ctx = WithLogger(ctx, logger)

	u := getDiscordUser(i)
	if u == nil {
		logger.ErrorContext(ctx, "no user found in interaction")
		return
	}
	if u.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring", "user_id", u.ID)
		return
	}
	if i.GuildID != "" && i.GuildID != h.engine.guildID {
		logger.WarnContext(ctx, "interaction from another guild, ignoring")
		return
	}

	switch i.Type {
	case discordgo.InteractionPing:
		h.respond(ctx, i, &discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong})
	case discordgo.InteractionApplicationCommand:
		if !h.deferResponse(ctx, i) {
			return
		}
		content, err := h.runCommand(ctx, i)
		h.finish(ctx, i, content, err)
	case discordgo.InteractionMessageComponent:
		if !h.deferResponse(ctx, i) {
			return
		}
		content, err := h.runComponent(ctx, i)
		h.finish(ctx, i, content, err)
	default:
		logger.WarnContext(ctx, "unhandled interaction type")
	}
}

func (h *CommandHandler) respond(ctx context.Context, i *discordgo.InteractionCreate, resp *discordgo.InteractionResponse) {
	if err := h.session.InteractionRespond(i.Interaction, resp, discordgo.WithContext(ctx)); err != nil {
		h.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	}
}

func (h *CommandHandler) deferResponse(ctx context.Context, i *discordgo.InteractionCreate) bool {
	err := h.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		h.logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return false
	}
	return true
}

// finish edits the deferred response with content, or the error's
// message. Errors which aren't an *Error are logged, and the user
// gets the generic error message.
func (h *CommandHandler) finish(ctx context.Context, i *discordgo.InteractionCreate, content string, err error) {
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			h.logger.InfoContext(ctx, "command rejected", "kind", e.Kind, tint.Err(err))
			content = ErrorMessage(err)
		} else {
			h.logger.ErrorContext(ctx, "error running command", tint.Err(err))
			content = h.errorMessage
		}
	}
	content = truncate(content, 2000)
	if _, editErr := h.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{
			Content:         &content,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		},
		discordgo.WithContext(context.WithoutCancel(ctx)),
	); editErr != nil {
		h.logger.ErrorContext(ctx, "error updating interaction", tint.Err(editErr))
	}
}

// interactionRef picks the channel a command applies to: the dynamic
// channel it was used in (voice chat or companion text channel), else
// the channel the member is connected to
func (h *CommandHandler) interactionRef(ctx context.Context, i *discordgo.InteractionCreate) ChannelRef {
	actorID := memberID(i.Member)
	if i.ChannelID == "" {
		return MemberRef(actorID)
	}
	if dynamic, err := h.engine.store.IsDynamic(ctx, i.ChannelID); err == nil && dynamic {
		return VoiceChannelRef(i.ChannelID)
	}
	if _, err := h.engine.store.ChannelByText(ctx, i.ChannelID); err == nil {
		return TextChannelRef(i.ChannelID)
	}
	return MemberRef(actorID)
}

func optionUsers(options map[string]*discordgo.ApplicationCommandInteractionDataOption, names ...string) []string {
	var rv []string
	seen := map[string]bool{}
	for _, name := range names {
		opt, ok := options[name]
		if !ok {
			continue
		}
		id, _ := opt.Value.(string)
		if id != "" && !seen[id] {
			seen[id] = true
			rv = append(rv, id)
		}
	}
	return rv
}

func optionString(options map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	opt, ok := options[name]
	if !ok {
		return ""
	}
	s, _ := opt.Value.(string)
	return s
}

func optionBool(options map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) bool {
	opt, ok := options[name]
	if !ok {
		return false
	}
	b, _ := opt.Value.(bool)
	return b
}

func (h *CommandHandler) runCommand(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	data := i.ApplicationCommandData()
	sub, options := discordInteractionOptions(i)
	h.logger.InfoContext(ctx, "received command", "command", data.Name, "subcommand", sub)

	switch data.Name {
	case DiscordSlashCommandVoice:
		return h.runVoice(ctx, i, sub, options)
	case DiscordSlashCommandVoiceAdmin:
		return h.runVoiceAdmin(ctx, i, sub, options)
	default:
		return "", fmt.Errorf("unknown command: %s", data.Name)
	}
}

func (h *CommandHandler) runVoice(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	sub string,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) (string, error) {
	e := h.engine
	actor := MemberActor(i.Member)
	ref := h.interactionRef(ctx, i)

	switch sub {
	case subcommandLock:
		return "Channel locked", e.Lock(ctx, actor, ref, false)
	case subcommandUnlock:
		return "Channel unlocked", e.Unlock(ctx, actor, ref)
	case subcommandHide:
		return "Channel hidden", e.Hide(ctx, actor, ref)
	case subcommandUnhide:
		return "Channel visible", e.Unhide(ctx, actor, ref)
	case subcommandAdd:
		targets := optionUsers(options, optionMember, optionMember2, optionMember3)
		return fmt.Sprintf("Added %s", mentions(targets)), e.AddMembers(ctx, actor, ref, targets)
	case subcommandRemove:
		targets := optionUsers(options, optionMember, optionMember2, optionMember3)
		return fmt.Sprintf("Removed %s", mentions(targets)), e.RemoveMembers(ctx, actor, ref, targets)
	case subcommandOwner:
		owner, err := e.GetOwner(ctx, ref)
		if err != nil {
			return "", err
		}
		if owner == "" {
			return "The channel has no owner", nil
		}
		return fmt.Sprintf("%s owns the channel", mention(owner)), nil
	case subcommandTransfer:
		target := optionString(options, optionMember)
		return fmt.Sprintf("%s now owns the channel", mention(target)), e.TransferOwner(ctx, actor, ref, target)
	case subcommandRename:
		name := optionString(options, optionName)
		return fmt.Sprintf("Channel renamed to **%s**", name), e.Rename(ctx, actor, ref, name, optionBool(options, optionForce))
	case subcommandInfo:
		info, err := e.Info(ctx, actor, ref)
		if err != nil {
			return "", err
		}
		return formatChannelInfo(info), nil
	case subcommandText:
		textID, err := e.CreateTextChannel(ctx, actor, ref)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Created %s", channelMention(textID)), nil
	case subcommandPing:
		enabled := optionBool(options, optionEnabled)
		msg := "You'll be pinged on join requests"
		if !enabled {
			msg = "You won't be pinged on join requests"
		}
		return msg, e.SetNoPing(ctx, actor, ref, !enabled)
	case subcommandJoin:
		channelID := optionString(options, optionChannel)
		result, err := e.JoinRequest(ctx, actor.MemberID, VoiceChannelRef(channelID))
		if err != nil {
			return "", err
		}
		switch result {
		case JoinRequestApproved:
			return fmt.Sprintf("You can now join %s", channelMention(channelID)), nil
		case JoinRequestExpired:
			return "The owner didn't answer in time", nil
		default:
			return "The owner denied your request", nil
		}
	default:
		return "", fmt.Errorf("unknown subcommand: %s", sub)
	}
}

func (h *CommandHandler) runVoiceAdmin(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	sub string,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) (string, error) {
	e := h.engine
	actor := MemberActor(i.Member)
	channelID := optionString(options, optionChannel)
	name := optionString(options, optionName)

	switch sub {
	case subcommandGroupCreate:
		if _, err := e.CreateGroup(
			ctx, actor, channelID, optionString(options, optionRole), optionBool(options, optionText),
		); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s is now dynamic", channelMention(channelID)), nil
	case subcommandGroupRemove:
		return fmt.Sprintf("Group removed, %s is a regular channel again", channelMention(channelID)),
			e.RemoveGroup(ctx, actor, channelID)
	case subcommandGroupText:
		return "Group updated", e.SetDefaultTextChannel(
			ctx, actor, VoiceChannelRef(channelID), optionBool(options, optionEnabled),
		)
	case subcommandGroups:
		groups, err := e.ListGroups(ctx, actor)
		if err != nil {
			return "", err
		}
		return formatGroups(groups), nil
	case subcommandLinkAdd:
		roleID := optionString(options, optionRole)
		if _, err := e.AddRoleLink(ctx, actor, roleID, channelID); err != nil {
			return "", err
		}
		return fmt.Sprintf("<@&%s> linked to %s", roleID, channelMention(channelID)), nil
	case subcommandLinkRemove:
		roleID := optionString(options, optionRole)
		return fmt.Sprintf("<@&%s> unlinked from %s", roleID, channelMention(channelID)),
			e.RemoveRoleLink(ctx, actor, roleID, channelID)
	case subcommandLinks:
		links, err := e.RoleLinks(ctx, actor)
		if err != nil {
			return "", err
		}
		return formatRoleLinks(links), nil
	case subcommandNameAdd:
		return fmt.Sprintf("Added `%s`", name), e.AddAllowedName(ctx, actor, name)
	case subcommandNameRemove:
		return fmt.Sprintf("Removed `%s`", name), e.RemoveAllowedName(ctx, actor, name)
	case subcommandNames:
		names, err := e.Whitelist(ctx, actor)
		if err != nil {
			return "", err
		}
		return formatWhitelist(names), nil
	case subcommandNameCheck:
		ok, err := e.IsNameAllowed(ctx, actor, name)
		if err != nil {
			return "", err
		}
		if ok {
			return fmt.Sprintf("`%s` is allowed", name), nil
		}
		return fmt.Sprintf("`%s` isn't allowed", name), nil
	case subcommandNameParts:
		parts, err := e.NameParts(ctx, actor, name)
		if err != nil {
			return "", err
		}
		return formatNameParts(name, parts), nil
	case subcommandNameSpaces:
		required := optionBool(options, optionRequired)
		return fmt.Sprintf("Spaces between words required: %t", required),
			e.SetRequireWhitespaces(ctx, actor, required)
	case subcommandSweep:
		if err := e.require(ctx, actor, PermissionDynWrite); err != nil {
			return "", err
		}
		n, err := e.SweepStaleChannels(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Forgot %d deleted channels", n), nil
	default:
		return "", fmt.Errorf("unknown subcommand: %s", sub)
	}
}

// runComponent handles control message and join request buttons. The
// lock, hide and ping buttons toggle.
func (h *CommandHandler) runComponent(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	customID := i.MessageComponentData().CustomID
	actor := MemberActor(i.Member)
	e := h.engine

	if requestID, approve, ok := parseJoinRequestCustomID(customID); ok {
		if err := e.ResolveJoinRequest(ctx, actor, requestID, approve); err != nil {
			return "", err
		}
		if approve {
			return "Request accepted", nil
		}
		return "Request denied", nil
	}

	channelID, action, ok := parseControlCustomID(customID)
	if !ok {
		return "", fmt.Errorf("unknown component: %s", customID)
	}
	ref := VoiceChannelRef(channelID)
	if action == controlHelp {
		return helpText, nil
	}

	info, err := e.Info(ctx, actor, ref)
	if err != nil {
		return "", err
	}
	switch action {
	case controlInfo:
		return formatChannelInfo(info), nil
	case controlLock:
		if info.State == channelStateUnlocked {
			return "Channel locked", e.Lock(ctx, actor, ref, false)
		}
		return "Channel unlocked", e.Unlock(ctx, actor, ref)
	case controlHide:
		if info.State == channelStateHidden {
			return "Channel visible", e.Unhide(ctx, actor, ref)
		}
		return "Channel hidden", e.Hide(ctx, actor, ref)
	case controlPing:
		if info.NoPing {
			return "You'll be pinged on join requests", e.SetNoPing(ctx, actor, ref, false)
		}
		return "You won't be pinged on join requests", e.SetNoPing(ctx, actor, ref, true)
	default:
		return "", fmt.Errorf("unknown control action: %s", action)
	}
}

func formatChannelInfo(info *ChannelInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (%s)\n", channelMention(info.ChannelID), info.State)
	if info.OwnerID != "" {
		fmt.Fprintf(&b, "Owner: %s\n", mention(info.OwnerID))
	}
	if info.TextChannelID != "" {
		fmt.Fprintf(&b, "Text channel: %s\n", channelMention(info.TextChannelID))
	}
	if len(info.Members) > 0 {
		fmt.Fprintf(&b, "Members: %s\n", mentions(info.Members))
	}
	if len(info.Blacklist) > 0 {
		fmt.Fprintf(&b, "Removed: %s\n", mentions(info.Blacklist))
	}
	if info.NoPing {
		b.WriteString("Join request pings disabled\n")
	}
	return b.String()
}

func formatGroups(groups []GroupInfo) string {
	if len(groups) == 0 {
		return "No groups"
	}
	var b strings.Builder
	for _, g := range groups {
		ids := make([]string, 0, len(g.Channels))
		for _, c := range g.Channels {
			ids = append(ids, channelMention(c.ChannelID))
		}
		fmt.Fprintf(&b, "`%s` %s\n", g.Group.ID, strings.Join(ids, " "))
	}
	return b.String()
}

func formatRoleLinks(links []RoleLink) string {
	if len(links) == 0 {
		return "No role links"
	}
	var b strings.Builder
	for _, l := range links {
		target := channelMention(l.TargetID)
		if l.TargetKind == RoleLinkTargetGroup {
			target = fmt.Sprintf("group `%s`", l.TargetID)
		}
		fmt.Fprintf(&b, "<@&%s> → %s\n", l.RoleID, target)
	}
	return b.String()
}

func formatWhitelist(lists map[string][]string) string {
	if len(lists) == 0 {
		return "The whitelist is empty"
	}
	names := make([]string, 0, len(lists))
	for name := range lists {
		names = append(names, name)
	}
	slices.Sort(names)
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "**%s** (%d): %s\n", name, len(lists[name]), strings.Join(lists[name], ", "))
	}
	return b.String()
}

func formatNameParts(name string, parts [][]NamePart) string {
	if len(parts) == 0 {
		return fmt.Sprintf("`%s` can't be made of whitelisted words", name)
	}
	var b strings.Builder
	for n, split := range parts {
		if n == maxNamePartsShown {
			fmt.Fprintf(&b, "...and %d more", len(parts)-n)
			break
		}
		words := make([]string, 0, len(split))
		for _, p := range split {
			words = append(words, fmt.Sprintf("`%s` (%s)", p.Word, p.List))
		}
		b.WriteString(strings.Join(words, " + "))
		b.WriteString("\n")
	}
	return b.String()
}
