package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/arcward/dynvoice/dynvoice"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = dynvoice.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "dynvoice [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
					StringToPermissionsHookFunc(),
					mapstructure.StringToSliceHookFunc(" "),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

// StringToPermissionsHookFunc decodes permission grants given as a
// string, like "override_owner=123,456 dyn_write=789", into a map of
// permission names to role IDs
func StringToPermissionsHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t != reflect.TypeOf(map[string][]string{}) {
			return data, nil
		}
		return parsePermissionGrants(data.(string))
	}
}

func parsePermissionGrants(s string) (map[string][]string, error) {
	grants := map[string][]string{}
	for _, field := range strings.Fields(s) {
		name, roles, ok := strings.Cut(field, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid permission grant: %q", field)
		}
		if _, err := dynvoice.ParsePermission(name); err != nil {
			return nil, err
		}
		for _, r := range strings.Split(roles, ",") {
			if r = strings.TrimSpace(r); r != "" {
				grants[name] = append(grants[name], r)
			}
		}
	}
	return grants, nil
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", dynvoice.DefaultDatabase)
	viper.SetDefault("database_type", dynvoice.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", dynvoice.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", dynvoice.DefaultDatabaseLogLevel.String())

	viper.SetDefault("log_level", dynvoice.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", dynvoice.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", dynvoice.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.alert_channel_id", "")
	viper.SetDefault("discord.team_role_ids", []string{})
	viper.SetDefault("discord.permissions", "")
	viper.SetDefault("discord.log_level", dynvoice.DefaultDiscordLogLevel.String())
	viper.SetDefault("discord.discordgo_log_level", dynvoice.DefaultDiscordgoLogLevel.String())
	viper.SetDefault("discord.gateway_intents", int(dynvoice.DefaultDiscordGatewayIntent))

	// Voice config
	viper.SetDefault("voice.join_delay", dynvoice.DefaultVoiceJoinDelay)
	viper.SetDefault("voice.leave_delay", dynvoice.DefaultVoiceLeaveDelay)
	viper.SetDefault("voice.category_limit", dynvoice.DefaultVoiceCategoryLimit)
	viper.SetDefault("voice.guild_limit", dynvoice.DefaultVoiceGuildLimit)
	viper.SetDefault("voice.join_request_timeout", dynvoice.DefaultVoiceJoinRequestTimeout)
	viper.SetDefault("voice.rename_timeout", dynvoice.DefaultVoiceRenameTimeout)
	viper.SetDefault("voice.rename_burst", dynvoice.DefaultVoiceRenameBurst)
	viper.SetDefault("voice.rename_interval", dynvoice.DefaultVoiceRenameInterval)
	viper.SetDefault("voice.sweep_interval", dynvoice.DefaultVoiceSweepInterval)
	viper.SetDefault("voice.role_sync_workers", dynvoice.DefaultVoiceRoleSyncWorkers)
	viper.SetDefault("voice.names_dir", "")
	viper.SetDefault("voice.name_lists", []string{})
	viper.SetDefault("voice.log_level", dynvoice.DefaultVoiceLogLevel.String())

	// Redis config
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.key_prefix", dynvoice.DefaultRedisKeyPrefix)
	viper.SetDefault("redis.ttl", dynvoice.DefaultRedisTTL)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", dynvoice.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.token_lifetime", dynvoice.DefaultAPITokenLifetime)
	viper.SetDefault("api.log_level", dynvoice.DefaultAPILogLevel.String())
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.read_timeout", dynvoice.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", dynvoice.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", dynvoice.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", dynvoice.DefaultIdleTimeout)

	// API: CORS config
	viper.SetDefault("api.cors.allow_headers", dynvoice.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", dynvoice.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.expose_headers", dynvoice.DefaultCORSExposeHeaders)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", dynvoice.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", dynvoice.DefaultAPICORSAllowCredentials)

	envPrefix := os.Getenv(dynvoice.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = dynvoice.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	for _, key := range []string{
		"discord.team_role_ids",
		"voice.name_lists",
		"api.cors.allow_headers",
		"api.cors.allow_origins",
		"api.cors.allow_methods",
		"api.cors.expose_headers",
	} {
		viper.Set(key, viper.GetStringSlice(key))
	}

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"voice.log_level",
		"api.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
