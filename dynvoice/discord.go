package dynvoice

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	// discordMaxButtonsPerActionRow defines the maximum number of buttons
	// allowed per action row in Discord interactions.
	discordMaxButtonsPerActionRow = 5

	// discordMaxEmbedFields is the maximum number of fields in an embed
	discordMaxEmbedFields = 25

	// discordMaxChannelNameLength is the maximum length of a channel name
	discordMaxChannelNameLength = 100
)

// Discord manages the session and the handlers which aren't specific
// to voice channels.
//
// Fields:
//   - session: The Discord session handler.
//   - config: Configuration for the Discord integration.
//   - logger: Logger for Discord-related events.
//   - metricConnects: Counter for gateway connection events.
//   - metricDisconnects: Counter for gateway disconnection events.
//   - connected: Whether the gateway connection is currently up.
//
// Voice state and interaction events are routed to the Engine by
// DynVoice. Discord only tracks the connection itself and registers
// the slash commands.
type Discord struct {
	session           DiscordSessionHandler
	config            *DiscordConfig
	logger            *slog.Logger
	metricConnects    atomic.Int64
	metricDisconnects atomic.Int64
	connected         atomic.Bool
}

// newDiscord initializes a new Discord instance with the provided configuration.
// The session is created separately, by newSession.
func newDiscord(config *DiscordConfig, logger *slog.Logger) *Discord {
	return &Discord{config: config, logger: logger}
}

// newSession creates a discordgo session. State tracking is enabled, as
// voice channel membership is read from the state cache.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.StateEnabled = true
	disc.State.TrackVoice = true
	disc.State.TrackMembers = true
	disc.State.TrackRoles = true
	disc.State.TrackChannels = true
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}

	if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}
	return session, nil
}

// handlerReady logs the READY event sent after identifying with the gateway
func (d *Discord) handlerReady() func(s *discordgo.Session, r *discordgo.Ready) {
	return func(s *discordgo.Session, r *discordgo.Ready) {
		d.logger.Info(
			"Ready",
			"session_id", r.SessionID,
			"user_id", r.User.ID,
			"username", r.User.Username,
			"guilds", len(r.Guilds),
		)
	}
}

// handlerConnect marks the session connected and increments the connect counter
func (d *Discord) handlerConnect() func(s *discordgo.Session, r *discordgo.Connect) {
	return func(s *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		sessionID, userID, username := sessionIdentity(s)
		d.logger.Info(
			"Connected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)
	}
}

// handlerDisconnect marks the session disconnected and increments the
// disconnect counter. discordgo reconnects on its own.
func (d *Discord) handlerDisconnect() func(s *discordgo.Session, r *discordgo.Disconnect) {
	return func(s *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)
		sessionID, userID, username := sessionIdentity(s)
		d.logger.Info(
			"disconnected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)
	}
}

// sessionIdentity returns the session ID and bot user from the session's
// state, or empty strings if state isn't populated yet.
func sessionIdentity(s *discordgo.Session) (sessionID, userID, username string) {
	if s == nil || s.State == nil {
		return "", "", ""
	}
	sessionID = s.State.SessionID
	if s.State.User != nil {
		userID = s.State.User.ID
		username = s.State.User.Username
	}
	return sessionID, userID, username
}

// registerCommands sends the bot's commands to the discord bulk overwrite
// endpoint
func (d *Discord) registerCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		[]*discordgo.ApplicationCommand{appCommandVoice(), appCommandVoiceAdmin()},
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	if len(created) == 0 {
		return created, fmt.Errorf("no commands created")
	}
	return created, nil
}

// DiscordSessionHandler defines the subset of `discordgo.Session` used
// by the bot, so an in-memory guild can stand in for it in tests.
// REST methods keep the discordgo signatures. The voice/member lookups
// read from the session's state cache.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// SetIdentify sets the identify object that's sent during the initial
	// handshake with the discord gateway
	SetIdentify(discordgo.Identify)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error

	// SetHTTPClient sets the HTTP client for the session
	SetHTTPClient(client *http.Client)

	// BotUserID returns the bot's own user ID, once connected
	BotUserID() string

	// ApplicationCommandBulkOverwrite overwrites Discord application commands in bulk.
	//
	// Parameters:
	//   - appID: The ID of the application.
	//   - guildID: The ID of the guild where the commands will be overwritten.
	//   - commands: The complete set of commands the guild should have.
	//   - options: Optional request options for the bulk overwrite operation.
	//
	// Returns:
	//   - []*discordgo.ApplicationCommand: The created commands, with their IDs.
	//   - error: An error if the bulk overwrite operation fails.
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// InteractionResponseEdit modifies the given interaction's response,
	// used after a deferred acknowledgement
	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessage fetches a single message, used to find the voice log
	// message a channel's controls are attached to
	ChannelMessage(
		channelID string,
		messageID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendComplex sends a message with embeds and components.
	//
	// Parameters:
	//   - channelID: The ID of the channel where the message will be sent.
	//     Voice channels accept messages in their built-in text chat.
	//   - data: The message to send.
	//   - options: Optional request options for the send operation.
	//
	// Returns:
	//   - *discordgo.Message: The sent message object.
	//   - error: An error if the message could not be sent.
	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageEditComplex edits a message the bot previously sent
	ChannelMessageEditComplex(
		m *discordgo.MessageEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// Channel fetches a channel from the API. Permission overwrites in the
	// state cache can lag behind our own edits, so this never uses state.
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)

	// GuildChannels lists every channel of the guild, used to count
	// channels against the category and guild limits
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)

	// GuildChannelCreateComplex creates a channel with the given
	// permission overwrites. Discord rejects overwrites granting
	// permissions the bot doesn't have itself.
	GuildChannelCreateComplex(
		guildID string,
		data discordgo.GuildChannelCreateData,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// ChannelEdit modifies a channel. A non-nil PermissionOverwrites
	// replaces the channel's overwrites entirely.
	ChannelEdit(
		channelID string,
		data *discordgo.ChannelEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// ChannelPermissionSet creates or replaces the overwrite for a single
	// role or member.
	//
	// Parameters:
	//   - channelID: The ID of the channel to modify.
	//   - targetID: The role or member the overwrite applies to.
	//   - targetType: Whether targetID is a role or a member.
	//   - allow: The permission bits explicitly allowed.
	//   - deny: The permission bits explicitly denied.
	//   - options: Optional request options.
	ChannelPermissionSet(
		channelID string,
		targetID string,
		targetType discordgo.PermissionOverwriteType,
		allow int64,
		deny int64,
		options ...discordgo.RequestOption,
	) error

	// ChannelPermissionDelete removes the overwrite for targetID, so
	// it inherits the channel's (or category's) permissions again
	ChannelPermissionDelete(
		channelID string,
		targetID string,
		options ...discordgo.RequestOption,
	) error

	// ChannelDelete deletes a channel. A 404 means it's already gone.
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)

	// GuildMember returns a member from the state cache, falling back to
	// the API
	GuildMember(
		guildID string,
		userID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Member, error)

	// GuildRole returns a role from the state cache, falling back to
	// the API
	GuildRole(guildID string, roleID string, options ...discordgo.RequestOption) (*discordgo.Role, error)

	// GuildMemberMove moves a member to channelID, or disconnects them
	// from voice if channelID is nil
	GuildMemberMove(
		guildID string,
		userID string,
		channelID *string,
		options ...discordgo.RequestOption,
	) error

	// GuildMemberRoleAdd adds roleID to the member, used for linked roles
	GuildMemberRoleAdd(
		guildID string,
		userID string,
		roleID string,
		options ...discordgo.RequestOption,
	) error

	// GuildMemberRoleRemove removes roleID from the member
	GuildMemberRoleRemove(
		guildID string,
		userID string,
		roleID string,
		options ...discordgo.RequestOption,
	) error

	// VoiceChannelMembers returns the members connected to channelID
	VoiceChannelMembers(guildID string, channelID string) (Presence, error)

	// VoiceStates maps connected user IDs to their voice channel ID
	VoiceStates(guildID string) (map[string]string, error)

	// RoleMembers returns the IDs of cached members holding roleID
	RoleMembers(guildID string, roleID string) ([]string, error)
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	d.session.Identify = i
}

// SetLogLevel maps lvl to the equivalent discordgo log level. Levels
// without an equivalent are rejected.
func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

// BotUserID returns the user ID from the READY state, or an empty
// string before the session is connected.
func (d DiscordSession) BotUserID() string {
	if d.session.State == nil || d.session.State.User == nil {
		return ""
	}
	return d.session.State.User.ID
}

// ApplicationCommandBulkOverwrite overwrites the guild's commands,
// logging each command that was created.
func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command", c.Name, "id", c.ID)
	}
	return created, nil
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) ChannelMessage(
	channelID string,
	messageID string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessage(channelID, messageID, options...)
}

// ChannelMessageSendComplex sends a message, logging any error
func (d DiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendComplex(channelID, data, options...)
	if err != nil {
		d.logger.Error(
			"error sending message",
			tint.Err(err),
			"channel_id", channelID,
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageEditComplex(
	m *discordgo.MessageEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageEditComplex(m, options...)
}

func (d DiscordSession) Channel(
	channelID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.Channel(channelID, options...)
}

func (d DiscordSession) GuildChannels(
	guildID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Channel, error) {
	return d.session.GuildChannels(guildID, options...)
}

// GuildChannelCreateComplex creates a channel, logging the outcome
func (d DiscordSession) GuildChannelCreateComplex(
	guildID string,
	data discordgo.GuildChannelCreateData,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	ch, err := d.session.GuildChannelCreateComplex(guildID, data, options...)
	if err != nil {
		d.logger.Error(
			"error creating channel",
			tint.Err(err),
			"name", data.Name,
			"parent_id", data.ParentID,
		)
		return ch, err
	}
	d.logger.Info("created channel", "channel_id", ch.ID, "name", ch.Name)
	return ch, nil
}

func (d DiscordSession) ChannelEdit(
	channelID string,
	data *discordgo.ChannelEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	ch, err := d.session.ChannelEdit(channelID, data, options...)
	if err != nil {
		d.logger.Error("error editing channel", tint.Err(err), "channel_id", channelID)
	}
	return ch, err
}

func (d DiscordSession) ChannelPermissionSet(
	channelID string,
	targetID string,
	targetType discordgo.PermissionOverwriteType,
	allow int64,
	deny int64,
	options ...discordgo.RequestOption,
) error {
	err := d.session.ChannelPermissionSet(channelID, targetID, targetType, allow, deny, options...)
	if err != nil {
		d.logger.Error(
			"error setting channel permissions",
			tint.Err(err),
			"channel_id", channelID,
			"target_id", targetID,
		)
	}
	return err
}

func (d DiscordSession) ChannelPermissionDelete(
	channelID string,
	targetID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.ChannelPermissionDelete(channelID, targetID, options...)
}

// ChannelDelete deletes a channel, logging the outcome
func (d DiscordSession) ChannelDelete(
	channelID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	ch, err := d.session.ChannelDelete(channelID, options...)
	if err != nil {
		d.logger.Error("error deleting channel", tint.Err(err), "channel_id", channelID)
		return ch, err
	}
	d.logger.Info("deleted channel", "channel_id", channelID)
	return ch, nil
}

func (d DiscordSession) GuildMember(
	guildID string,
	userID string,
	options ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	if d.session.State != nil {
		if m, err := d.session.State.Member(guildID, userID); err == nil {
			return m, nil
		}
	}
	return d.session.GuildMember(guildID, userID, options...)
}

// GuildRole returns a role from the state cache. Discord has no
// endpoint for a single role, so on a cache miss every role of the
// guild is fetched.
func (d DiscordSession) GuildRole(
	guildID string,
	roleID string,
	options ...discordgo.RequestOption,
) (*discordgo.Role, error) {
	if d.session.State != nil {
		if r, err := d.session.State.Role(guildID, roleID); err == nil {
			return r, nil
		}
	}
	roles, err := d.session.GuildRoles(guildID, options...)
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		if r.ID == roleID {
			return r, nil
		}
	}
	return nil, fmt.Errorf("role %s not found", roleID)
}

func (d DiscordSession) GuildMemberMove(
	guildID string,
	userID string,
	channelID *string,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildMemberMove(guildID, userID, channelID, options...)
}

func (d DiscordSession) GuildMemberRoleAdd(
	guildID string,
	userID string,
	roleID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildMemberRoleAdd(guildID, userID, roleID, options...)
}

func (d DiscordSession) GuildMemberRoleRemove(
	guildID string,
	userID string,
	roleID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildMemberRoleRemove(guildID, userID, roleID, options...)
}

// VoiceChannelMembers returns the members connected to channelID,
// according to the state cache. Members missing from the voice state
// are looked up individually, and counted as humans if that fails.
func (d DiscordSession) VoiceChannelMembers(guildID string, channelID string) (Presence, error) {
	guild, err := d.session.State.Guild(guildID)
	if err != nil {
		return nil, err
	}

	d.session.State.RLock()
	states := make([]*discordgo.VoiceState, 0, len(guild.VoiceStates))
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID == channelID {
			states = append(states, vs)
		}
	}
	d.session.State.RUnlock()

	present := make(Presence, len(states))
	for _, vs := range states {
		m := vs.Member
		if m == nil || m.User == nil {
			m, err = d.GuildMember(guildID, vs.UserID)
			if err != nil {
				d.logger.Warn(
					"unable to look up voice channel member",
					tint.Err(err),
					"user_id", vs.UserID,
				)
				present[vs.UserID] = false
				continue
			}
		}
		present[vs.UserID] = isBot(m)
	}
	return present, nil
}

// VoiceStates maps each connected user's ID to their voice channel ID,
// according to the state cache
func (d DiscordSession) VoiceStates(guildID string) (map[string]string, error) {
	guild, err := d.session.State.Guild(guildID)
	if err != nil {
		return nil, err
	}
	d.session.State.RLock()
	defer d.session.State.RUnlock()
	rv := make(map[string]string, len(guild.VoiceStates))
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != "" {
			rv[vs.UserID] = vs.ChannelID
		}
	}
	return rv, nil
}

// RoleMembers returns the IDs of cached members holding roleID. Members
// are only cached once seen, so this may be incomplete right after
// connecting.
func (d DiscordSession) RoleMembers(guildID string, roleID string) ([]string, error) {
	guild, err := d.session.State.Guild(guildID)
	if err != nil {
		return nil, err
	}
	d.session.State.RLock()
	defer d.session.State.RUnlock()
	var rv []string
	for _, m := range guild.Members {
		if hasAnyRole(m, roleID) {
			rv = append(rv, memberID(m))
		}
	}
	return rv, nil
}
