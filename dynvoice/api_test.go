package dynvoice

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPISecret = "test-secret"

type testAPI struct {
	api   *API
	guild *fakeGuild
	token string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	e, guild, _ := newTestEngine(t)

	discord := newDiscord(DefaultConfig().Discord, e.logger)
	discord.session = guild

	cfg := DefaultConfig().API
	cfg.Enabled = true
	cfg.Secret = testAPISecret
	api, err := newAPI(&DynVoice{engine: e, discord: discord}, cfg)
	require.NoError(t, err)

	token, err := IssueToken([]byte(testAPISecret), "tester", time.Hour)
	require.NoError(t, err)
	return &testAPI{api: api, guild: guild, token: token}
}

func (ta *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if ta.token != "" {
		req.Header.Set(authHeader, bearerPrefix+ta.token)
	}
	w := httptest.NewRecorder()
	ta.api.engine.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) httpError {
	t.Helper()
	var e httpError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

func TestNewAPI_SecretRequired(t *testing.T) {
	cfg := DefaultConfig().API
	_, err := newAPI(&DynVoice{}, cfg)
	assert.Error(t, err)
}

func TestIssueToken(t *testing.T) {
	secret := []byte("abc")
	token, err := IssueToken(secret, "admin", time.Minute)
	require.NoError(t, err)

	subject, err := parseToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "admin", subject)

	_, err = parseToken([]byte("other"), token)
	assert.Error(t, err)

	_, err = IssueToken(nil, "admin", time.Minute)
	assert.Error(t, err)

	expired := jwt.NewWithClaims(
		jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   "admin",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	)
	expiredToken, err := expired.SignedString(secret)
	require.NoError(t, err)
	_, err = parseToken(secret, expiredToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	wrongIssuer := jwt.NewWithClaims(
		jwt.SigningMethodHS256, jwt.RegisteredClaims{Issuer: "someone-else", Subject: "admin"},
	)
	wrongIssuerToken, err := wrongIssuer.SignedString(secret)
	require.NoError(t, err)
	_, err = parseToken(secret, wrongIssuerToken)
	assert.Error(t, err)
}

func TestAPI_Auth(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(t, http.MethodGet, apiHealthCheck, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(xRequestIDHeader))

	for _, token := range []string{"", "garbage"} {
		ta.token = token
		w = ta.do(t, http.MethodGet, apiPrefix+apiPathGroups, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, "token %q", token)
		assert.NotEmpty(t, w.Header().Get(xRequestIDHeader))
	}

	other, err := IssueToken([]byte("not-the-secret"), "tester", time.Hour)
	require.NoError(t, err)
	ta.token = other
	w = ta.do(t, http.MethodGet, apiPrefix+apiPathGroups, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_Groups(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(t, http.MethodPost, apiPrefix+apiPathGroups, `{"channel_id": "abc"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ta.do(t, http.MethodPost, apiPrefix+apiPathGroups, `{"channel_id": "`+testChannelID+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ta.do(t, http.MethodPost, apiPrefix+apiPathGroups, `{"channel_id": "`+testChannelID+`"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, KindAlreadyInState.String(), decodeError(t, w).Kind)

	w = ta.do(t, http.MethodGet, apiPrefix+apiPathGroups, "")
	require.Equal(t, http.StatusOK, w.Code)
	var groups []GroupInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &groups))
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Channels, 1)
	assert.Equal(t, testChannelID, groups[0].Channels[0].ChannelID)
}

func TestAPI_LockAndInfo(t *testing.T) {
	ta := newTestAPI(t)
	w := ta.do(t, http.MethodPost, apiPrefix+apiPathGroups, `{"channel_id": "`+testChannelID+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	lockPath := apiPrefix + "/channels/" + testChannelID + "/lock"
	w = ta.do(t, http.MethodPost, lockPath, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ta.do(t, http.MethodPost, lockPath, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ta.do(t, http.MethodGet, apiPrefix+"/channels/"+testChannelID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var info ChannelInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, testChannelID, info.ChannelID)
	assert.Equal(t, channelStateLocked, info.State)

	w = ta.do(t, http.MethodDelete, lockPath, "")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ta.do(t, http.MethodGet, apiPrefix+"/channels/999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, KindNotDynamicChannel.String(), decodeError(t, w).Kind)
}

func TestAPI_Names(t *testing.T) {
	ta := newTestAPI(t)

	w := ta.do(t, http.MethodPost, apiPrefix+apiPathNames, `{"name": "nebula"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ta.do(t, http.MethodGet, apiPrefix+apiPathNameCheck+"?name=nebula", "")
	require.Equal(t, http.StatusOK, w.Code)
	var check nameCheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &check))
	assert.Equal(t, "nebula", check.Name)
	assert.True(t, check.Allowed)

	w = ta.do(t, http.MethodGet, apiPrefix+apiPathNameCheck, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ta.do(t, http.MethodDelete, apiPrefix+"/names/nebula", "")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestAPI_RegisterCommands(t *testing.T) {
	ta := newTestAPI(t)
	w := ta.do(t, http.MethodPost, apiPrefix+apiPathRegisterCommands, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Commands []string `json:"commands"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.ElementsMatch(t, []string{DiscordSlashCommandVoice, DiscordSlashCommandVoiceAdmin}, resp.Commands)
}

func TestGinReplyEngineError_Status(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: ErrNotDynamicChannel, want: http.StatusNotFound},
		{err: ErrChannelNotFound, want: http.StatusNotFound},
		{err: ErrNotAuthorized, want: http.StatusForbidden},
		{err: ErrAlreadyInState, want: http.StatusConflict},
		{err: newError(KindCapacityExceeded, "full", nil), want: http.StatusConflict},
		{err: ErrInvalidTarget, want: http.StatusBadRequest},
		{err: ErrRateLimited, want: http.StatusTooManyRequests},
		{err: ErrTooManyRequests, want: http.StatusTooManyRequests},
		{err: ErrExternalEditFailed, want: http.StatusBadGateway},
		{err: io.EOF, want: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		ginReplyEngineError(c, tc.err)
		assert.Equal(t, tc.want, w.Code, tc.err.Error())
	}
}
