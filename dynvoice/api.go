package dynvoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

const (
	pprofPrefix      = "/debug"
	apiPrefix        = "/api"
	apiHealthCheck   = "/healthz"
	apiPathGroups    = "/groups"
	apiPathGroup     = "/groups/:channel_id"
	apiPathChannel   = "/channels/:channel_id"
	apiPathLock      = "/channels/:channel_id/lock"
	apiPathLinks     = "/links"
	apiPathLink      = "/links/:role_id/:channel_id"
	apiPathNames     = "/names"
	apiPathName      = "/names/:name"
	apiPathNameCheck = "/names/check"
	apiPathSweep     = "/sweep"
	apiPathSyncLinks = "/links/sync"

	apiPathRegisterCommands = "/discord/register_commands"
)

const (
	xRequestIDHeader = "X-Request-ID"
	authHeader       = "Authorization"
	bearerPrefix     = "Bearer "
	tokenIssuer      = "dynvoice"
	ginSubjectKey    = "subject"
)

// API is the admin HTTP API. Every route under /api requires a bearer
// token signed with [APIConfig.Secret] (see IssueToken).
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger

	requestMetrics   map[string]int
	requestMetricsMu sync.Mutex

	handlers *APIHandlers
}

func newAPI(d *DynVoice, config *APIConfig) (*API, error) {
	if config.Secret == "" {
		return nil, errors.New("api secret required")
	}
	if config.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	api := &API{
		config:         config,
		engine:         r,
		requestMetrics: map[string]int{},
		logger:         newComponentLogger("api", config.LogLevel),
	}
	api.handlers = &APIHandlers{d: d, logger: api.logger}
	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"*"}
		corsConfig.AllowCredentials = false
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(api.logger),
		metricMiddleware(api),
		cors.New(corsConfig),
	)

	r.GET(apiHealthCheck, api.handlers.healthCheck)
	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	h := api.handlers
	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware([]byte(config.Secret)))

	protected.GET(apiPathGroups, h.listGroups)
	protected.POST(apiPathGroups, h.createGroup)
	protected.DELETE(apiPathGroup, h.removeGroup)
	protected.GET(apiPathChannel, h.channelInfo)
	protected.POST(apiPathLock, h.lockChannel)
	protected.DELETE(apiPathLock, h.unlockChannel)
	protected.GET(apiPathLinks, h.listRoleLinks)
	protected.POST(apiPathLinks, h.addRoleLink)
	protected.DELETE(apiPathLink, h.removeRoleLink)
	protected.POST(apiPathSyncLinks, h.syncRoleLinks)
	protected.GET(apiPathNames, h.listNames)
	protected.POST(apiPathNames, h.addName)
	protected.GET(apiPathNameCheck, h.checkName)
	protected.DELETE(apiPathName, h.removeName)
	protected.POST(apiPathSweep, h.sweep)
	protected.POST(apiPathRegisterCommands, h.registerCommands)

	return api, nil
}

// Serve listens on [APIConfig.Listen] and serves until Shutdown
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "serving api", "addr", a.listener.Addr().String())
	return a.httpServer.Serve(a.listener)
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

// IssueToken returns a signed API token for subject, expiring after
// lifetime
func IssueToken(secret []byte, subject string, lifetime time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("secret required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}
	if lifetime > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(lifetime))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// parseToken verifies a token issued by IssueToken, returning its subject
func parseToken(secret []byte, tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(_ *jwt.Token) (any, error) {
			return secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
	)
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}

func authMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)
		header := c.GetHeader(authHeader)
		tokenString, ok := strings.CutPrefix(header, bearerPrefix)
		if !ok || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		subject, err := parseToken(secret, tokenString)
		if err != nil {
			logger.Warn("invalid api token", tint.Err(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		c.Set(ginSubjectKey, subject)
		c.Next()
	}
}

// requestIDMiddleware assigns each request an ID, which is logged and
// returned in the X-Request-ID header
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the request logger stored in the gin context,
// creating it with the request details on first use
func ginContextLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, ok := v.(*slog.Logger); ok {
			return requestLogger
		}
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}
	requestLogger := slog.Default().With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID, _ := c.Get(xRequestIDHeader)
		requestLogger := base.With(
			slog.Group(
				"request",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"remote_ip", c.RemoteIP(),
			),
			slog.Any(xRequestIDHeader, requestID),
		)
		c.Set(string(loggerContextKey), requestLogger)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		response := slog.Group("response", "status_code", c.Writer.Status(), "body_size", c.Writer.Size())
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs,
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

// metricMiddleware counts requests by method and route
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()
		key := fmt.Sprintf("%s %s", c.Request.Method, c.FullPath())
		a.requestMetricsMu.Lock()
		a.requestMetrics[key]++
		a.requestMetricsMu.Unlock()
	}
}

type httpError struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type httpReply struct {
	Message string `json:"message"`
}

func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyEngineError responds with the status matching the error's kind
func ginReplyEngineError(c *gin.Context, err error) {
	var e *Error
	if !errors.As(err, &e) {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: "internal error"})
		return
	}
	status := http.StatusInternalServerError
	switch e.Kind {
	case KindNotDynamicChannel, KindChannelNotFound:
		status = http.StatusNotFound
	case KindNotAuthorized:
		status = http.StatusForbidden
	case KindAlreadyInState, KindCapacityExceeded:
		status = http.StatusConflict
	case KindInvalidTarget:
		status = http.StatusBadRequest
	case KindRateLimited, KindTooManyRequests:
		status = http.StatusTooManyRequests
	case KindExternalEditFailed:
		status = http.StatusBadGateway
	}
	c.AbortWithStatusJSON(status, httpError{Error: ErrorMessage(err), Kind: e.Kind.String()})
}

// APIHandlers implements the API routes. Operations run as SystemActor.
type APIHandlers struct {
	d      *DynVoice
	logger *slog.Logger
}

type healthCheckResponse struct {
	DiscordGatewayConnected bool `json:"discord_gateway_connected"`
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	c.JSON(
		http.StatusOK, healthCheckResponse{
			DiscordGatewayConnected: h.d.discord != nil && h.d.discord.connected.Load(),
		},
	)
}

func (h *APIHandlers) listGroups(c *gin.Context) {
	groups, err := h.d.engine.ListGroups(c.Request.Context(), SystemActor())
	if err != nil {
		ginReplyEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, groups)
}

type createGroupRequest struct {
	ChannelID     string `json:"channel_id" binding:"required,numeric"`
	UserRoleID    string `json:"user_role_id" binding:"omitempty,numeric"`
	TextByDefault bool   `json:"text_by_default"`
}

func (h *APIHandlers) createGroup(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	group, err := h.d.engine.CreateGroup(
		c.Request.Context(),
		SystemActor(),
		req.ChannelID,
		req.UserRoleID,
		req.TextByDefault,
	)
	if err != nil {
		ginReplyEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

func (h *APIHandlers) removeGroup(c *gin.Context) {
	channelID := c.Param("channel_id")
	if err := h.d.engine.RemoveGroup(c.Request.Context(), SystemActor(), channelID); err != nil {
		ginReplyEngineError(c, err)
		return
	}
	ginReplyMessage(c, "group removed")
}

func (h *APIHandlers) channelInfo(c *gin.Context) {
	info, err := h.d.engine.Info(
		c.Request.Context(),
		SystemActor(),
		VoiceChannelRef(c.Param("channel_id")),
	)
	if err != nil {
		ginReplyEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *APIHandlers) lockChannel(c *gin.Context) {
	hide := c.Query("hide") == "true"
	if err := h.d.engine.Lock(
		c.Request.Context(),
		SystemActor(),
		VoiceChannelRef(c.Param("channel_id")),
		hide,
	); err != nil {
		ginReplyEngineError(c, err)
		return
	}
	ginReplyMessage(c, "channel locked")
}

func (h *APIHandlers) unlockChannel(c *gin.Context) {
	if err := h.d.engine.Unlock(
		c.Request.Context(),
		SystemActor(),
		VoiceChannelRef(c.Param("channel_id")),
	); err != nil {
		ginReplyEngineError(c, err)
		return
	}
	ginReplyMessage(c, "channel unlocked")
}

func (h *APIHandlers) listRoleLinks(c *gin.Context) {
	links, err := h.d.engine.RoleLinks(c.Request.Context(), SystemActor())
	if err != nil {
		ginReplyEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, links)
}

type roleLinkRequest struct {
	RoleID    string `json:"role_id" binding:"required,numeric"`
	ChannelID string `json:"channel_id" binding:"required,numeric"`
}

func (h *APIHandlers) addRoleLink(c *gin.Context) {
	var req roleLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	link, err := h.d.engine.AddRoleLink(c.Request.Context(), SystemActor(), req.RoleID, req.ChannelID)
	if err != nil {
		ginReplyEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, link)
}

func (h *APIHandlers) removeRoleLink(c *gin.Context) {
	if err := h.d.engine.RemoveRoleLink(
		c.Request.Context(),
		SystemActor(),
		c.Param("role_id"),
		c.Param("channel_id"),
	); err != nil {
		ginReplyEngineError(c, err)
		return
	}
	ginReplyMessage(c, "role link removed")
}

func (h *APIHandlers) syncRoleLinks(c *gin.Context) {
	if err := h.d.engine.SyncRoleLinks(c.Request.Context()); err != nil {
		ginReplyEngineError(c, err)
		return
	}
	ginReplyMessage(c, "role links synced")
}

func (h *APIHandlers) listNames(c *gin.Context) {
	names, err := h.d.engine.Whitelist(c.Request.Context(), SystemActor())
	if err != nil {
		ginReplyEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, names)
}

type nameRequest struct {
	Name string `json:"name" binding:"required,max=25"`
}

func (h *APIHandlers) addName(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if err := h.d.engine.AddAllowedName(c.Request.Context(), SystemActor(), req.Name); err != nil {
		ginReplyEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpReply{Message: "name added"})
}

func (h *APIHandlers) removeName(c *gin.Context) {
	if err := h.d.engine.RemoveAllowedName(c.Request.Context(), SystemActor(), c.Param("name")); err != nil {
		ginReplyEngineError(c, err)
		return
	}
	ginReplyMessage(c, "name removed")
}

type nameCheckResponse struct {
	Name    string       `json:"name"`
	Allowed bool         `json:"allowed"`
	Parts   [][]NamePart `json:"parts"`
}

func (h *APIHandlers) checkName(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: "name required"})
		return
	}
	ctx := c.Request.Context()
	allowed, err := h.d.engine.IsNameAllowed(ctx, SystemActor(), name)
	if err != nil {
		ginReplyEngineError(c, err)
		return
	}
	parts, err := h.d.engine.NameParts(ctx, SystemActor(), name)
	if err != nil {
		ginReplyEngineError(c, err)
		return
	}
	if parts == nil {
		parts = [][]NamePart{}
	}
	c.JSON(http.StatusOK, nameCheckResponse{Name: name, Allowed: allowed, Parts: parts})
}

type sweepResponse struct {
	Dropped int `json:"dropped"`
}

func (h *APIHandlers) sweep(c *gin.Context) {
	n, err := h.d.engine.SweepStaleChannels(c.Request.Context())
	if err != nil {
		ginReplyEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, sweepResponse{Dropped: n})
}

func (h *APIHandlers) registerCommands(c *gin.Context) {
	if h.d.discord == nil || h.d.discord.session == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, httpError{Error: "discord not connected"})
		return
	}
	created, err := h.d.discord.registerCommands(discordgo.WithContext(c.Request.Context()))
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadGateway, httpError{Error: "unable to register commands"})
		return
	}
	names := make([]string, 0, len(created))
	for _, cmd := range created {
		names = append(names, cmd.Name)
	}
	c.JSON(http.StatusOK, gin.H{"commands": names})
}
