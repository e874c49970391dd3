package dynvoice

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// maxAllowedNameLength is the maximum length of a whitelisted word
const maxAllowedNameLength = 25

func normalizeAllowedName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	n := len([]rune(name))
	if n == 0 || n > maxAllowedNameLength {
		return "", invalidTarget(fmt.Sprintf("name must be between 1 and %d characters", maxAllowedNameLength))
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return "", invalidTarget("name can't contain spaces, add each word separately")
	}
	return name, nil
}

// AddAllowedName adds a word to the rename whitelist
func (e *Engine) AddAllowedName(ctx context.Context, actor Actor, name string) error {
	if err := e.require(ctx, actor, PermissionWhitelistWrite); err != nil {
		return err
	}
	name, err := normalizeAllowedName(name)
	if err != nil {
		return err
	}
	return e.store.CreateAllowedName(ctx, name)
}

// RemoveAllowedName removes a word added with AddAllowedName
func (e *Engine) RemoveAllowedName(ctx context.Context, actor Actor, name string) error {
	if err := e.require(ctx, actor, PermissionWhitelistWrite); err != nil {
		return err
	}
	name, err := normalizeAllowedName(name)
	if err != nil {
		return err
	}
	deleted, err := e.store.DeleteAllowedName(ctx, name)
	if err != nil {
		return err
	}
	if !deleted {
		return invalidTarget("that name isn't in the whitelist")
	}
	return nil
}

// AllowedNames returns the words added with AddAllowedName
func (e *Engine) AllowedNames(ctx context.Context, actor Actor) ([]string, error) {
	if err := e.require(ctx, actor, PermissionWhitelistRead); err != nil {
		return nil, err
	}
	return e.store.AllowedNames(ctx)
}

// Whitelist returns every allowed word, keyed by the list it's from
func (e *Engine) Whitelist(ctx context.Context, actor Actor) (map[string][]string, error) {
	if err := e.require(ctx, actor, PermissionWhitelistList); err != nil {
		return nil, err
	}
	allowed, _, err := e.whitelist(ctx)
	return allowed, err
}

// IsNameAllowed reports whether a channel could be renamed to name
// without PermissionDynRename
func (e *Engine) IsNameAllowed(ctx context.Context, actor Actor, name string) (bool, error) {
	if err := e.require(ctx, actor, PermissionWhitelistCheck); err != nil {
		return false, err
	}
	allowed, requireWS, err := e.whitelist(ctx)
	if err != nil {
		return false, err
	}
	return CheckName(name, allowed, requireWS), nil
}

// NameParts returns the ways name splits into whitelisted words
func (e *Engine) NameParts(ctx context.Context, actor Actor, name string) ([][]NamePart, error) {
	if err := e.require(ctx, actor, PermissionWhitelistCheckParts); err != nil {
		return nil, err
	}
	allowed, requireWS, err := e.whitelist(ctx)
	if err != nil {
		return nil, err
	}
	return FindNameParts(name, allowed, requireWS), nil
}

// SetRequireWhitespaces sets whether whitelisted words in a custom name
// must be separated by spaces
func (e *Engine) SetRequireWhitespaces(ctx context.Context, actor Actor, required bool) error {
	if err := e.require(ctx, actor, PermissionWhitelistWrite); err != nil {
		return err
	}
	settings, err := e.store.GuildSettings(ctx, e.guildID)
	if err != nil {
		return err
	}
	if settings.RequireWhitespaces == required {
		return alreadyInState("the setting already has that value")
	}
	return e.store.SetRequireWhitespaces(ctx, e.guildID, required)
}
