package dynvoice

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// ErrorKind classifies the errors returned by Engine operations.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotDynamicChannel
	KindNotAuthorized
	KindAlreadyInState
	KindCapacityExceeded
	KindExternalEditFailed
	KindChannelNotFound
	KindInvalidTarget
	KindRateLimited
	KindTooManyRequests
)

var errorKindNames = map[ErrorKind]string{
	KindUnknown:            "unknown",
	KindNotDynamicChannel:  "not_dynamic_channel",
	KindNotAuthorized:      "not_authorized",
	KindAlreadyInState:     "already_in_state",
	KindCapacityExceeded:   "capacity_exceeded",
	KindExternalEditFailed: "external_edit_failed",
	KindChannelNotFound:    "channel_not_found",
	KindInvalidTarget:      "invalid_target",
	KindRateLimited:        "rate_limited",
	KindTooManyRequests:    "too_many_requests",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return errorKindNames[KindUnknown]
}

// Error is returned by Engine operations. Message is safe to show to the
// member who invoked the operation. Two errors match with errors.Is when
// their kinds are equal, so callers can compare against the sentinels below.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Err.Error())
	case e.Err != nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotDynamicChannel  = &Error{Kind: KindNotDynamicChannel, Message: "not a dynamic voice channel"}
	ErrNotAuthorized      = &Error{Kind: KindNotAuthorized, Message: "you need to be the channel owner to do that"}
	ErrAlreadyInState     = &Error{Kind: KindAlreadyInState}
	ErrCapacityExceeded   = &Error{Kind: KindCapacityExceeded, Message: "category channel limit reached"}
	ErrExternalEditFailed = &Error{Kind: KindExternalEditFailed, Message: "missing permissions to edit the channel"}
	ErrChannelNotFound    = &Error{Kind: KindChannelNotFound, Message: "channel no longer exists"}
	ErrInvalidTarget      = &Error{Kind: KindInvalidTarget}
	ErrRateLimited        = &Error{Kind: KindRateLimited, Message: "channel was renamed too often, try again later"}
	ErrTooManyRequests    = &Error{Kind: KindTooManyRequests, Message: "you already have a pending join request"}
)

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func alreadyInState(message string) *Error {
	return newError(KindAlreadyInState, message, nil)
}

func invalidTarget(message string) *Error {
	return newError(KindInvalidTarget, message, nil)
}

// ErrorMessage returns the member-facing text for err.
func ErrorMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		return e.Kind.String()
	}
	return DefaultDiscordErrorMessage
}

// restError unwraps a discordgo REST error, if err is (or wraps) one.
func restError(err error) (*discordgo.RESTError, bool) {
	var re *discordgo.RESTError
	if errors.As(err, &re) && re.Response != nil {
		return re, true
	}
	return nil, false
}

// isForbidden reports whether err is a 403 from the Discord API.
func isForbidden(err error) bool {
	re, ok := restError(err)
	return ok && re.Response.StatusCode == http.StatusForbidden
}

// isNotFound reports whether err says the target no longer exists.
func isNotFound(err error) bool {
	re, ok := restError(err)
	if !ok {
		return false
	}
	if re.Response.StatusCode == http.StatusNotFound {
		return true
	}
	return re.Message != nil && re.Message.Code == discordgo.ErrCodeUnknownChannel
}

// classifyDiscordError maps a discordgo error to one of the typed kinds.
func classifyDiscordError(err error, message string) error {
	if err == nil {
		return nil
	}
	switch {
	case isForbidden(err):
		return newError(KindExternalEditFailed, message, err)
	case isNotFound(err):
		return newError(KindChannelNotFound, message, err)
	default:
		return fmt.Errorf("%s: %w", message, err)
	}
}
