//nolint:lll // struct tags can't be split
package dynvoice

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
)

const (
	EnvvarSetEnvPrefix    = "DYNVOICE_ENV_PREFIX"
	DefaultEnvPrefix      = "DC"
	DefaultDatabaseType   = "sqlite"
	DefaultDatabase       = "dynvoice.sqlite3"
	DefaultLogLevel       = slog.LevelInfo
	DefaultStartupTimeout = 30 * time.Second

	DefaultShutdownTimeout = 60 * time.Second

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultDiscordGatewayIntent = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMembers
	DefaultDiscordLogLevel     = slog.LevelWarn
	DefaultDiscordErrorMessage = "sorry, something went wrong!"
	DefaultDiscordgoLogLevel   = slog.LevelWarn

	DefaultVoiceJoinDelay          = time.Second
	DefaultVoiceLeaveDelay         = 5 * time.Second
	DefaultVoiceCategoryLimit      = 50
	DefaultVoiceGuildLimit         = 500
	DefaultVoiceJoinRequestTimeout = 2 * time.Minute
	DefaultVoiceRenameTimeout      = 3 * time.Second
	DefaultVoiceRenameBurst        = 2
	DefaultVoiceRenameInterval     = 10 * time.Minute
	DefaultVoiceSweepInterval      = 30 * time.Minute
	DefaultVoiceRoleSyncWorkers    = 4
	DefaultVoiceLogLevel           = slog.LevelInfo

	DefaultRedisKeyPrefix = "dynvc_control_message"
	DefaultRedisTTL       = 24 * time.Hour

	DefaultAPIListen        = "127.0.0.1:5000"
	DefaultAPILogLevel      = slog.LevelInfo
	DefaultAPITokenLifetime = 24 * time.Hour

	DefaultDatabaseSlowThreshold   = 200 * time.Millisecond
	DefaultDatabaseLogLevel        = slog.LevelInfo
	defaultListenNetwork           = "tcp"
	DefaultAPICORSAllowCredentials = true
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		"Cache-Control",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		xRequestIDHeader,
		"Location",
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

type Config struct {
	// Database connection string
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Voice configures dynamic voice channel behavior
	Voice *VoiceConfig `yaml:"voice" mapstructure:"voice" json:"voice" binding:"required"`

	// Redis configures where control message IDs are kept. When Addr
	// is empty, they're kept in memory.
	Redis *RedisConfig `yaml:"redis" mapstructure:"redis" json:"redis"`

	// API configures the admin API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord" binding:"required"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID is the guild the bot manages voice channels in. Slash
	// commands are registered to this guild.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id" binding:"required"`

	// AlertChannelID is where operator alerts are posted (missing
	// permissions, category limits...). If empty, alerts are only logged.
	AlertChannelID string `yaml:"alert_channel_id" mapstructure:"alert_channel_id" json:"alert_channel_id"`

	// TeamRoleIDs are staff roles. Members holding one of these can't be
	// removed from a channel by its owner, and the roles are granted
	// access to new text channels.
	TeamRoleIDs []string `yaml:"team_role_ids" mapstructure:"team_role_ids" json:"team_role_ids"`

	// Permissions maps a permission name (see [Permission]) to the role IDs
	// which are granted it.
	Permissions map[string][]string `yaml:"permissions" mapstructure:"permissions" json:"permissions"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. Voice states and guild members are required.
	// See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// VoiceConfig configures dynamic voice channel behavior.
type VoiceConfig struct {
	// JoinDelay is how long a member has to stay in a channel before
	// the join is applied
	JoinDelay time.Duration `yaml:"join_delay" mapstructure:"join_delay" json:"join_delay"`

	// LeaveDelay is how long a member has to stay out of a channel before
	// the leave is applied
	LeaveDelay time.Duration `yaml:"leave_delay" mapstructure:"leave_delay" json:"leave_delay"`

	// CategoryLimit is the maximum number of channels in a category.
	// Channels won't be created in a category at this limit.
	CategoryLimit int `yaml:"category_limit" mapstructure:"category_limit" json:"category_limit" binding:"min=1"`

	// GuildLimit applies instead of CategoryLimit to channels without
	// a category.
	GuildLimit int `yaml:"guild_limit" mapstructure:"guild_limit" json:"guild_limit" binding:"min=1"`

	// JoinRequestTimeout is how long a channel owner has to accept
	// a join request.
	JoinRequestTimeout time.Duration `yaml:"join_request_timeout" mapstructure:"join_request_timeout" json:"join_request_timeout"`

	// RenameTimeout bounds a single rename call. Discord holds rate-limited
	// renames instead of rejecting them, so a rename that takes longer than
	// this is reported as rate limited.
	RenameTimeout time.Duration `yaml:"rename_timeout" mapstructure:"rename_timeout" json:"rename_timeout"`

	// RenameBurst and RenameInterval limit renames per channel
	RenameBurst    int           `yaml:"rename_burst" mapstructure:"rename_burst" json:"rename_burst"`
	RenameInterval time.Duration `yaml:"rename_interval" mapstructure:"rename_interval" json:"rename_interval"`

	// SweepInterval is how often records of deleted channels are removed.
	// 0 disables the sweep.
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval" json:"sweep_interval"`

	// RoleSyncWorkers limits concurrent role updates on startup
	RoleSyncWorkers int `yaml:"role_sync_workers" mapstructure:"role_sync_workers" json:"role_sync_workers"`

	// NamesDir optionally points to a directory of *.txt name lists,
	// used instead of the embedded lists
	NamesDir string `yaml:"names_dir" mapstructure:"names_dir" json:"names_dir"`

	// NameLists selects the lists new channel names are drawn from.
	// Empty uses every list. All lists make up the rename whitelist.
	NameLists []string `yaml:"name_lists" mapstructure:"name_lists" json:"name_lists"`

	// LogLevel for the lifecycle engine
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// RedisConfig configures the redis client
type RedisConfig struct {
	Addr      string        `yaml:"addr" mapstructure:"addr" json:"addr"`
	Password  string        `yaml:"password" mapstructure:"password" json:"password" log:"[redacted]"`
	DB        int           `yaml:"db" mapstructure:"db" json:"db"`
	KeyPrefix string        `yaml:"key_prefix" mapstructure:"key_prefix" json:"key_prefix"`
	TTL       time.Duration `yaml:"ttl" mapstructure:"ttl" json:"ttl"`
}

// APIConfig configures the admin API server
type APIConfig struct {
	// Enabled starts the API server alongside the bot
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Secret used for signing and verifying API tokens
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]" binding:"required_if=Enabled true"`

	// TokenLifetime is the default lifetime of tokens issued by `dynvoice token`
	TokenLifetime time.Duration `yaml:"token_lifetime" mapstructure:"token_lifetime" json:"token_lifetime"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`

	// Development registers pprof handlers and runs gin in debug mode
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		ExposeHeaders:    defaultExpose,
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}
	voiceLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)
	voiceLogLevel.Set(DefaultVoiceLogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Voice: &VoiceConfig{
			JoinDelay:          DefaultVoiceJoinDelay,
			LeaveDelay:         DefaultVoiceLeaveDelay,
			CategoryLimit:      DefaultVoiceCategoryLimit,
			GuildLimit:         DefaultVoiceGuildLimit,
			JoinRequestTimeout: DefaultVoiceJoinRequestTimeout,
			RenameTimeout:      DefaultVoiceRenameTimeout,
			RenameBurst:        DefaultVoiceRenameBurst,
			RenameInterval:     DefaultVoiceRenameInterval,
			SweepInterval:      DefaultVoiceSweepInterval,
			RoleSyncWorkers:    DefaultVoiceRoleSyncWorkers,
			LogLevel:           voiceLogLevel,
		},
		Redis: &RedisConfig{
			KeyPrefix: DefaultRedisKeyPrefix,
			TTL:       DefaultRedisTTL,
		},
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			Permissions:       map[string][]string{},
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			TokenLifetime:     DefaultAPITokenLifetime,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
