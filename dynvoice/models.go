package dynvoice

import (
	"log/slog"
)

const (
	columnChannelID           = "channel_id"
	columnGroupID             = "group_id"
	columnMemberID            = "member_id"
	columnTextChannelID       = "text_channel_id"
	columnJoinedAt            = "joined_at"
	columnOwnerMembershipID   = "owner_membership_id"
	columnOwnerOverride       = "owner_override"
	columnRoleID              = "role_id"
	columnTargetID            = "target_id"
	columnTextChannelDefault  = "text_channel_by_default"
	columnRequireWhitespaces  = "require_whitespaces"
	columnName                = "name"
)

// DynGroup is a pool of interchangeable voice channels. A group always
// has at least one DynChannel; removing the last channel removes the group.
type DynGroup struct {
	ID      string `gorm:"primaryKey;size:36" json:"id"`
	GuildID string `gorm:"index" json:"guild_id"`

	// UserRoleID is the role that normally has access to the group's
	// channels. Locking a channel denies this role.
	UserRoleID string `json:"user_role_id"`

	// TextChannelByDefault creates a companion text channel for each
	// channel as soon as someone joins it
	TextChannelByDefault bool `json:"text_channel_by_default"`
	ModelUnixTime
}

func (DynGroup) TableName() string {
	return "dynvoice_group"
}

func (g DynGroup) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", g.ID),
		slog.String("user_role_id", g.UserRoleID),
		slog.Bool(columnTextChannelDefault, g.TextChannelByDefault),
	)
}

// DynChannel is a voice channel belonging to a DynGroup.
type DynChannel struct {
	ChannelID     string `gorm:"primaryKey" json:"channel_id"`
	GroupID       string `gorm:"index;size:36;not null" json:"group_id"`
	TextChannelID string `gorm:"index" json:"text_channel_id,omitempty"`
	Locked        bool   `json:"locked"`
	NoPing        bool   `json:"no_ping"`

	// OwnerMembershipID references the DynChannelMember of the current owner
	OwnerMembershipID *uint `json:"owner_membership_id,omitempty"`

	// OwnerOverride is a member ID explicitly made owner, which takes
	// precedence over join order while that member is present
	OwnerOverride string `json:"owner_override,omitempty"`
	ModelUnixTime
}

func (DynChannel) TableName() string {
	return "dynvoice_channel"
}

func (c DynChannel) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String(columnChannelID, c.ChannelID),
		slog.String(columnGroupID, c.GroupID),
		slog.Bool("locked", c.Locked),
	}
	if c.TextChannelID != "" {
		attrs = append(attrs, slog.String(columnTextChannelID, c.TextChannelID))
	}
	if c.OwnerOverride != "" {
		attrs = append(attrs, slog.String(columnOwnerOverride, c.OwnerOverride))
	}
	return slog.GroupValue(attrs...)
}

// DynChannelMember records that a member joined a DynChannel. There's at
// most one row per (member, channel) pair.
type DynChannelMember struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	MemberID  string `gorm:"uniqueIndex:idx_dynvoice_member_channel;not null" json:"member_id"`
	ChannelID string `gorm:"uniqueIndex:idx_dynvoice_member_channel;index;not null" json:"channel_id"`

	// JoinedAt is a unix timestamp in milliseconds
	JoinedAt int64 `gorm:"not null" json:"joined_at"`
}

func (DynChannelMember) TableName() string {
	return "dynvoice_channel_member"
}

// RoleLinkTarget identifies what a RoleLink applies to
type RoleLinkTarget string

const (
	RoleLinkTargetChannel RoleLinkTarget = "channel"
	RoleLinkTargetGroup   RoleLinkTarget = "group"
)

// RoleLink grants RoleID to members while they're in the target voice
// channel, or in any channel of the target group.
type RoleLink struct {
	RoleID     string         `gorm:"primaryKey" json:"role_id"`
	TargetID   string         `gorm:"primaryKey" json:"target_id"`
	TargetKind RoleLinkTarget `gorm:"not null;default:channel" json:"target_kind"`
	ModelUnixTime
}

func (RoleLink) TableName() string {
	return "role_voice_link"
}

// AllowedChannelName is a word members may use when renaming channels
type AllowedChannelName struct {
	Name string `gorm:"primaryKey;size:25" json:"name"`
	ModelUnixTime
}

func (AllowedChannelName) TableName() string {
	return "voice_allowed_name"
}

// GuildSettings holds runtime-modifiable settings for a guild
type GuildSettings struct {
	GuildID string `gorm:"primaryKey" json:"guild_id"`

	// RequireWhitespaces requires the words of a custom channel name to be
	// separated by spaces
	RequireWhitespaces bool `json:"require_whitespaces"`
	ModelUnixTime
}

func (GuildSettings) TableName() string {
	return "dynvoice_guild_settings"
}
