package dynvoice

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("wrapped: %w", alreadyInState("channel is already locked"))
	assert.ErrorIs(t, err, ErrAlreadyInState)
	assert.NotErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, "channel is already locked", ErrorMessage(err))

	assert.Equal(t, ErrNotAuthorized.Message, ErrorMessage(ErrNotAuthorized))
	assert.Equal(t, "invalid_target", ErrorMessage(&Error{Kind: KindInvalidTarget}))
	assert.Equal(t, DefaultDiscordErrorMessage, ErrorMessage(errors.New("boom")))
}

func TestError_Error(t *testing.T) {
	t.Parallel()
	cause := errors.New("cause")
	assert.Equal(t, "invalid_target: bad: cause", newError(KindInvalidTarget, "bad", cause).Error())
	assert.Equal(t, "invalid_target: cause", newError(KindInvalidTarget, "", cause).Error())
	assert.Equal(t, "invalid_target: bad", invalidTarget("bad").Error())
	assert.Equal(t, "rate_limited", (&Error{Kind: KindRateLimited}).Error())
	assert.Equal(t, "unknown", ErrorKind(99).String())
	assert.ErrorIs(t, newError(KindInvalidTarget, "", cause), cause)
}

func TestClassifyDiscordError(t *testing.T) {
	t.Parallel()
	forbidden := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	notFound := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
	unknownChannel := &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusBadRequest},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownChannel},
	}
	other := errors.New("connection reset")

	assert.Nil(t, classifyDiscordError(nil, "x"))
	assert.ErrorIs(t, classifyDiscordError(forbidden, "x"), ErrExternalEditFailed)
	assert.ErrorIs(t, classifyDiscordError(notFound, "x"), ErrChannelNotFound)
	assert.ErrorIs(t, classifyDiscordError(unknownChannel, "x"), ErrChannelNotFound)

	err := classifyDiscordError(other, "editing channel")
	assert.ErrorIs(t, err, other)
	var e *Error
	assert.False(t, errors.As(err, &e))
}
