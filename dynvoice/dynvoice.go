package dynvoice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/arcward/dynvoice/dynvoice.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var structValidator = validator.New()

//nolint:gochecknoinits // config validation uses the same tags as gin
func init() {
	structValidator.SetTagName("binding")
}

// DynVoice is the bot runtime. It owns the Discord session, database,
// lifecycle engine and admin API.
type DynVoice struct {
	config *Config
	logger *slog.Logger

	db      *gorm.DB
	writeDB *database
	store   *Store

	redis    *redis.Client
	controls ControlMessageStore
	names    *NameLists
	auth     *RoleAuthorizer

	discord  *Discord
	engine   *Engine
	commands *CommandHandler
	api      *API

	// runMu prevents concurrent runs
	runMu sync.Mutex

	signalReady chan struct{}
	signalStop  chan struct{}
	startedAt   time.Time

	removeHandlerFuncs []func()
}

func New(config *Config) (*DynVoice, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}
	if config.Discord == nil {
		return nil, errors.Join(append(errs, errors.New("discord config required"))...)
	}
	if config.Voice == nil {
		config.Voice = DefaultConfig().Voice
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	d := &DynVoice{
		config:      config,
		signalReady: make(chan struct{}, 1),
	}
	d.logger = slog.New(newLogHandler(config.LogLevel))
	slog.SetDefault(d.logger)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(config.Discord.DiscordGoLogLevel).WithAttrs(
			[]slog.Attr{slog.String(loggerNameKey, "discordgo")},
		),
	)

	config.Discord.httpClient = config.HTTPClient
	d.discord = newDiscord(config.Discord, newComponentLogger("discord", config.Discord.LogLevel))

	auth, err := NewRoleAuthorizer(config.Discord.Permissions)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid permissions: %w", err))
	}
	d.auth = auth

	names, err := loadNameLists(config.Voice)
	if err != nil {
		errs = append(errs, fmt.Errorf("error loading name lists: %w", err))
	}
	d.names = names

	if config.API != nil && config.API.Enabled {
		api, apiErr := newAPI(d, config.API)
		errs = append(errs, apiErr)
		d.api = api
	}

	return d, errors.Join(errs...)
}

// loadNameLists reads the lists in [VoiceConfig.NamesDir], or the
// embedded lists if it's not set
func loadNameLists(cfg *VoiceConfig) (*NameLists, error) {
	if cfg.NamesDir != "" {
		return LoadNameLists(os.DirFS(cfg.NamesDir), cfg.NameLists)
	}
	sub, err := fs.Sub(embeddedNameLists, "names")
	if err != nil {
		return nil, err
	}
	return LoadNameLists(sub, cfg.NameLists)
}

func (d *DynVoice) ValidateConfig() error {
	return structValidator.Struct(d.config)
}

// Engine returns the lifecycle engine, once Run has initialized it
func (d *DynVoice) Engine() *Engine {
	return d.engine
}

// Ready is signaled once Run has connected to Discord
func (d *DynVoice) Ready() <-chan struct{} {
	return d.signalReady
}

// Stop triggers a graceful shutdown of a running bot
func (d *DynVoice) Stop() {
	select {
	case d.signalStop <- struct{}{}:
	default:
	}
}

// RegisterSlashCommands overwrites the guild's commands with /voice
// and /voiceadmin
func (d *DynVoice) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return d.discord.registerCommands(options...)
}

// Run initializes the database, connects to Discord and blocks until ctx
// is canceled (or Stop is called), then shuts down gracefully.
func (d *DynVoice) Run(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.signalStop = make(chan struct{}, 1)
	d.startedAt = time.Now()
	logger := d.logger

	if err := d.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	runtimeWG := &sync.WaitGroup{}

	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", d.config))

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-d.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			logger.Warn("context canceled")
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, d.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- d.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	if d.api != nil {
		go func() {
			httpErr := d.api.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
	}

	if err := d.initDiscordSession(ctx, runtimeWG); err != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(err))
		return err
	}
	if err := d.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	if _, err := d.RegisterSlashCommands(discordgo.WithContext(startCtx)); err != nil {
		logger.ErrorContext(ctx, "error registering commands", tint.Err(err))
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		d.engine.RunSweeper(ctx)
	}()

	select {
	case d.signalReady <- struct{}{}:
	default:
	}
	logger.InfoContext(ctx, "sent ready signal")

	<-ctx.Done()
	return d.shutdown(ctx, runtimeWG)
}

// initRun opens the database and builds the engine around it
func (d *DynVoice) initRun(ctx context.Context) error {
	if err := d.initDB(ctx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	if err := d.initControls(ctx); err != nil {
		return err
	}

	if d.discord.session == nil {
		session, err := d.discord.newSession()
		if err != nil {
			return err
		}
		d.discord.session = session
	}

	voiceLogger := newComponentLogger("voice", d.config.Voice.LogLevel)
	engine, err := NewEngine(
		EngineConfig{
			GuildID:     d.config.Discord.GuildID,
			Voice:       d.config.Voice,
			TeamRoleIDs: d.config.Discord.TeamRoleIDs,
			Session:     d.discord.session,
			Store:       d.store,
			Authorizer:  d.auth,
			Alerter:     newDiscordAlerter(d.discord.session, d.config.Discord.AlertChannelID, voiceLogger),
			Controls:    d.controls,
			Names:       d.names,
			Logger:      voiceLogger,
		},
	)
	if err != nil {
		return fmt.Errorf("error creating engine: %w", err)
	}
	d.engine = engine
	d.commands = NewCommandHandler(engine, d.discord.session, DefaultDiscordErrorMessage, d.discord.logger)
	return nil
}

func (d *DynVoice) initDB(ctx context.Context) error {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = d.logger
	}

	handler := newLogHandler(d.config.DatabaseLogLevel)
	gormLogger := newGORMLogger(handler, d.config.DatabaseSlowThreshold)
	db, err := getDB(d.config.DatabaseType, d.config.Database, gormLogger)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	d.db = db

	if d.config.DatabaseType == dbTypeSQLite {
		if err = configureSQLite(ctx, db); err != nil {
			return err
		}
	}

	logger.Debug("migrating database...")
	if err = migrate(ctx, db); err != nil {
		logger.Error("error migrating database", tint.Err(err))
		return err
	}
	logger.Debug("finished migrating database")

	d.writeDB = newDatabase(
		db,
		slog.New(handler).With(loggerNameKey, "database"),
		d.config.DatabaseType == dbTypePostgres,
	)
	d.store = NewStore(d.writeDB)
	return nil
}

// initControls connects to redis when an address is configured, else
// keeps control message IDs in memory
func (d *DynVoice) initControls(ctx context.Context) error {
	if d.controls != nil {
		return nil
	}
	cfg := d.config.Redis
	if cfg == nil || cfg.Addr == "" {
		d.logger.InfoContext(ctx, "redis not configured, keeping control messages in memory")
		ttl := DefaultRedisTTL
		if cfg != nil && cfg.TTL > 0 {
			ttl = cfg.TTL
		}
		d.controls = newMemoryControlMessages(ttl)
		return nil
	}
	client, err := newRedisClient(ctx, cfg)
	if err != nil {
		return err
	}
	d.redis = client
	d.controls = newRedisControlMessages(client, cfg.KeyPrefix, cfg.TTL)
	return nil
}

// initDiscordSession sets the gateway intents and registers the event
// handlers. Each event is handled in its own goroutine, tracked by
// runtimeWG.
func (d *DynVoice) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	logger := d.logger.With(loggerNameKey, "discord_session")
	ctx = WithLogger(ctx, logger)

	for _, remove := range d.removeHandlerFuncs {
		remove()
	}

	d.discord.session.SetIdentify(discordgo.Identify{Intents: d.config.Discord.GatewayIntents})

	spawn := func(fn func()) {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			defer func() {
				if rc := recover(); rc != nil {
					handleRecover(ctx, rc)
				}
			}()
			fn()
		}()
	}

	session := d.discord.session
	d.removeHandlerFuncs = []func(){
		session.AddHandler(d.discord.handlerConnect()),
		session.AddHandler(d.discord.handlerDisconnect()),
		session.AddHandler(d.discord.handlerReady()),
		session.AddHandler(
			func(_ *discordgo.Session, _ *discordgo.Ready) {
				spawn(
					func() {
						d.onReady(ctx)
					},
				)
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
				spawn(
					func() {
						d.engine.HandleVoiceStateUpdate(ctx, vs)
					},
				)
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				spawn(
					func() {
						d.commands.Handle(ctx, i)
					},
				)
			},
		),
	}
	return nil
}

// onReady reconciles stored channels and linked roles with the voice
// states the gateway reports, which may have changed while disconnected
func (d *DynVoice) onReady(ctx context.Context) {
	if err := d.engine.Resume(ctx); err != nil {
		d.logger.ErrorContext(ctx, "error resuming voice channels", tint.Err(err))
	}
	if err := d.engine.SyncRoleLinks(ctx); err != nil {
		d.logger.ErrorContext(ctx, "error syncing role links", tint.Err(err))
	}
}

// shutdown stops accepting new work, waits for in-flight handlers and
// transitions until the shutdown deadline, then closes connections
func (d *DynVoice) shutdown(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	d.logger.WarnContext(ctx, "shutting down")
	shutdownStart := time.Now()
	shutdownDeadline := shutdownStart.Add(d.config.ShutdownTimeout)
	d.logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_timeout", d.config.ShutdownTimeout,
		"shutdown_deadline", shutdownDeadline,
	)

	closeCtx, closeCancel := context.WithDeadline(context.Background(), shutdownDeadline)
	defer closeCancel()

	for _, remove := range d.removeHandlerFuncs {
		remove()
	}
	d.removeHandlerFuncs = nil

	if d.api != nil {
		if err := d.api.Shutdown(closeCtx); err != nil {
			d.logger.ErrorContext(ctx, "error shutting down api", tint.Err(err))
		}
	}

	stopped := make(chan struct{})
	go func() {
		runtimeWG.Wait()
		if d.engine != nil {
			d.engine.Close()
		}
		close(stopped)
	}()

	var errs []error
	select {
	case <-stopped:
		d.logger.InfoContext(
			ctx,
			"finished handling in-flight events",
			"duration", time.Since(shutdownStart),
		)
	case <-closeCtx.Done():
		d.logger.ErrorContext(ctx, "shutdown deadline exceeded")
		errs = append(errs, errors.New("in-flight events did not finish in time"))
	}

	if d.discord.session != nil {
		if err := d.discord.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing discord session: %w", err))
		}
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing redis: %w", err))
		}
	}
	if d.db != nil {
		if sqlDB, err := d.db.DB(); err == nil {
			if err = sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("error closing database: %w", err))
			}
		}
	}
	d.logger.InfoContext(ctx, "shutdown complete", "duration", time.Since(shutdownStart))
	return errors.Join(errs...)
}
