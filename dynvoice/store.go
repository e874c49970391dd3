package dynvoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store persists dynamic groups, channels, memberships, role links and
// channel name settings. Records only reference each other by ID.
type Store struct {
	db *database
}

func NewStore(db *database) *Store {
	return &Store{db: db}
}

// CreateGroup creates a group with seedChannelID as its first channel
func (s *Store) CreateGroup(
	ctx context.Context,
	guildID string,
	seedChannelID string,
	userRoleID string,
	textByDefault bool,
) (*DynGroup, *DynChannel, error) {
	group := &DynGroup{
		ID:                   uuid.NewString(),
		GuildID:              guildID,
		UserRoleID:           userRoleID,
		TextChannelByDefault: textByDefault,
	}
	channel := &DynChannel{ChannelID: seedChannelID, GroupID: group.ID}
	err := s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			if err := tx.Create(group).Error; err != nil {
				return err
			}
			return tx.Create(channel).Error
		},
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create group: %w", err)
	}
	return group, channel, nil
}

// CreateSiblingChannel adds an unlocked channel to an existing group
func (s *Store) CreateSiblingChannel(ctx context.Context, groupID, channelID string) (
	*DynChannel,
	error,
) {
	channel := &DynChannel{ChannelID: channelID, GroupID: groupID}
	if _, err := s.db.Create(ctx, channel); err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	return channel, nil
}

// DeleteChannel removes the channel and its memberships. The group is
// removed as well when this was its last channel. Returns true if the
// group was removed.
func (s *Store) DeleteChannel(ctx context.Context, channelID string) (bool, error) {
	var groupDeleted bool
	err := s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			var channel DynChannel
			if err := tx.Where(columnChannelID+" = ?", channelID).Take(&channel).Error; err != nil {
				return err
			}
			if err := tx.Where(columnChannelID+" = ?", channelID).Delete(&DynChannelMember{}).Error; err != nil {
				return err
			}
			if err := tx.Where(columnChannelID+" = ?", channelID).Delete(&DynChannel{}).Error; err != nil {
				return err
			}
			if err := tx.Where(
				columnTargetID+" = ? AND target_kind = ?",
				channelID,
				RoleLinkTargetChannel,
			).Delete(&RoleLink{}).Error; err != nil {
				return err
			}
			var remaining int64
			if err := tx.Model(&DynChannel{}).Where(
				columnGroupID+" = ?",
				channel.GroupID,
			).Count(&remaining).Error; err != nil {
				return err
			}
			if remaining > 0 {
				return nil
			}
			groupDeleted = true
			return deleteGroupTx(tx, channel.GroupID)
		},
	)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete channel: %w", err)
	}
	return groupDeleted, nil
}

// DeleteGroup removes the group along with its channels, their memberships
// and any role links targeting the group.
func (s *Store) DeleteGroup(ctx context.Context, groupID string) error {
	err := s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			var channelIDs []string
			if err := tx.Model(&DynChannel{}).Where(
				columnGroupID+" = ?",
				groupID,
			).Pluck(columnChannelID, &channelIDs).Error; err != nil {
				return err
			}
			if len(channelIDs) > 0 {
				if err := tx.Where(columnChannelID+" IN ?", channelIDs).Delete(&DynChannelMember{}).Error; err != nil {
					return err
				}
				if err := tx.Where(columnChannelID+" IN ?", channelIDs).Delete(&DynChannel{}).Error; err != nil {
					return err
				}
			}
			return deleteGroupTx(tx, groupID)
		},
	)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return nil
}

func deleteGroupTx(tx *gorm.DB, groupID string) error {
	if err := tx.Where(
		columnTargetID+" = ? AND target_kind = ?",
		groupID,
		RoleLinkTargetGroup,
	).Delete(&RoleLink{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", groupID).Delete(&DynGroup{}).Error
}

// Channel returns the channel with the given voice channel ID, or
// ErrNotDynamicChannel.
func (s *Store) Channel(ctx context.Context, channelID string) (*DynChannel, error) {
	return s.channelWhere(ctx, columnChannelID+" = ?", channelID)
}

// ChannelByText returns the channel whose companion text channel is textID
func (s *Store) ChannelByText(ctx context.Context, textID string) (*DynChannel, error) {
	return s.channelWhere(ctx, columnTextChannelID+" = ?", textID)
}

func (s *Store) channelWhere(ctx context.Context, query string, args ...any) (*DynChannel, error) {
	if len(args) == 1 && args[0] == "" {
		return nil, ErrNotDynamicChannel
	}
	db, cancel := s.db.read(ctx)
	defer cancel()
	var channel DynChannel
	err := db.Where(query, args...).Take(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotDynamicChannel
	}
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

// IsDynamic reports whether channelID belongs to a group
func (s *Store) IsDynamic(ctx context.Context, channelID string) (bool, error) {
	_, err := s.Channel(ctx, channelID)
	if errors.Is(err, ErrNotDynamicChannel) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Group(ctx context.Context, groupID string) (*DynGroup, error) {
	db, cancel := s.db.read(ctx)
	defer cancel()
	var group DynGroup
	if err := db.Where("id = ?", groupID).Take(&group).Error; err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *Store) Groups(ctx context.Context) ([]DynGroup, error) {
	db, cancel := s.db.read(ctx)
	defer cancel()
	var groups []DynGroup
	err := db.Order("created_at, id").Find(&groups).Error
	return groups, err
}

// GroupChannels returns the channels of a group, oldest first
func (s *Store) GroupChannels(ctx context.Context, groupID string) ([]DynChannel, error) {
	db, cancel := s.db.read(ctx)
	defer cancel()
	var channels []DynChannel
	err := db.Where(columnGroupID+" = ?", groupID).Order("created_at, " + columnChannelID).Find(&channels).Error
	return channels, err
}

// SaveChannel persists every field of channel. A channel that was
// deleted in the meantime is not recreated.
func (s *Store) SaveChannel(ctx context.Context, channel *DynChannel) error {
	if _, err := s.db.UpdateAll(ctx, channel); err != nil {
		return fmt.Errorf("failed to save channel: %w", err)
	}
	return nil
}

func (s *Store) SetGroupTextDefault(ctx context.Context, groupID string, enabled bool) error {
	_, err := s.db.Updates(
		ctx,
		&DynGroup{ID: groupID},
		map[string]any{columnTextChannelDefault: enabled},
	)
	return err
}

// EachChannel streams every channel in batches, calling fn for each batch.
func (s *Store) EachChannel(
	ctx context.Context,
	batchSize int,
	fn func(channels []DynChannel) error,
) error {
	db, cancel := s.db.read(ctx)
	defer cancel()
	var batch []DynChannel
	rv := db.Order(columnChannelID).FindInBatches(
		&batch, batchSize, func(_ *gorm.DB, _ int) error {
			return fn(batch)
		},
	)
	return rv.Error
}

// Memberships returns a channel's members in join order
func (s *Store) Memberships(ctx context.Context, channelID string) ([]DynChannelMember, error) {
	db, cancel := s.db.read(ctx)
	defer cancel()
	var members []DynChannelMember
	err := db.Where(
		columnChannelID+" = ?",
		channelID,
	).Order(columnJoinedAt + ", id").Find(&members).Error
	return members, err
}

// Membership returns the membership of memberID in channelID, or nil
func (s *Store) Membership(ctx context.Context, memberID, channelID string) (*DynChannelMember, error) {
	db, cancel := s.db.read(ctx)
	defer cancel()
	var m DynChannelMember
	err := db.Where(
		columnMemberID+" = ? AND "+columnChannelID+" = ?",
		memberID,
		channelID,
	).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MembershipByID returns the membership with the given ID, or nil
func (s *Store) MembershipByID(ctx context.Context, id uint) (*DynChannelMember, error) {
	db, cancel := s.db.read(ctx)
	defer cancel()
	var m DynChannelMember
	err := db.Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// EnsureMembership returns the existing membership for the pair, or
// creates one joined at joinedAt. created is true if a row was inserted.
func (s *Store) EnsureMembership(
	ctx context.Context,
	memberID string,
	channelID string,
	joinedAt time.Time,
) (m *DynChannelMember, created bool, err error) {
	existing, err := s.Membership(ctx, memberID, channelID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	m = &DynChannelMember{
		MemberID:  memberID,
		ChannelID: channelID,
		JoinedAt:  joinedAt.UnixMilli(),
	}
	if _, err = s.db.Create(ctx, m); err != nil {
		return nil, false, fmt.Errorf("failed to create membership: %w", err)
	}
	return m, true, nil
}

// DeleteMembership removes the membership of memberID in channelID,
// returning true if one existed.
func (s *Store) DeleteMembership(ctx context.Context, memberID, channelID string) (bool, error) {
	n, err := s.db.Delete(
		ctx,
		&DynChannelMember{},
		columnMemberID+" = ? AND "+columnChannelID+" = ?",
		memberID,
		channelID,
	)
	return n > 0, err
}

// DeleteMemberships removes every membership of channelID
func (s *Store) DeleteMemberships(ctx context.Context, channelID string) error {
	_, err := s.db.Delete(ctx, &DynChannelMember{}, columnChannelID+" = ?", channelID)
	return err
}

// CreateRoleLink returns ErrAlreadyInState if the link already exists
func (s *Store) CreateRoleLink(ctx context.Context, link *RoleLink) error {
	existing, err := s.RoleLink(ctx, link.RoleID, link.TargetID)
	if err != nil {
		return err
	}
	if existing != nil {
		return alreadyInState("that role link already exists")
	}
	_, err = s.db.Create(ctx, link)
	return err
}

// DeleteRoleLink returns false if the link didn't exist
func (s *Store) DeleteRoleLink(ctx context.Context, roleID, targetID string) (bool, error) {
	n, err := s.db.Delete(
		ctx,
		&RoleLink{},
		columnRoleID+" = ? AND "+columnTargetID+" = ?",
		roleID,
		targetID,
	)
	return n > 0, err
}

func (s *Store) RoleLink(ctx context.Context, roleID, targetID string) (*RoleLink, error) {
	db, cancel := s.db.read(ctx)
	defer cancel()
	var link RoleLink
	err := db.Where(
		columnRoleID+" = ? AND "+columnTargetID+" = ?",
		roleID,
		targetID,
	).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (s *Store) RoleLinks(ctx context.Context) ([]RoleLink, error) {
	db, cancel := s.db.read(ctx)
	defer cancel()
	var links []RoleLink
	err := db.Order(columnTargetID + ", " + columnRoleID).Find(&links).Error
	return links, err
}

// RoleLinksForTarget returns the links for a channel or group ID
func (s *Store) RoleLinksForTarget(ctx context.Context, targetID string) ([]RoleLink, error) {
	db, cancel := s.db.read(ctx)
	defer cancel()
	var links []RoleLink
	err := db.Where(columnTargetID+" = ?", targetID).Order(columnRoleID).Find(&links).Error
	return links, err
}

// CreateAllowedName returns ErrAlreadyInState if the name already exists
func (s *Store) CreateAllowedName(ctx context.Context, name string) error {
	n, err := s.db.CreateIfMissing(ctx, &AllowedChannelName{Name: name})
	if err != nil {
		return err
	}
	if n == 0 {
		return alreadyInState("that name is already allowed")
	}
	return nil
}

func (s *Store) DeleteAllowedName(ctx context.Context, name string) (bool, error) {
	n, err := s.db.Delete(ctx, &AllowedChannelName{}, columnName+" = ?", name)
	return n > 0, err
}

func (s *Store) AllowedNames(ctx context.Context) ([]string, error) {
	db, cancel := s.db.read(ctx)
	defer cancel()
	var names []string
	err := db.Model(&AllowedChannelName{}).Order(columnName).Pluck(columnName, &names).Error
	return names, err
}

// GuildSettings returns the settings for guildID, or defaults if none
// were saved yet
func (s *Store) GuildSettings(ctx context.Context, guildID string) (GuildSettings, error) {
	db, cancel := s.db.read(ctx)
	defer cancel()
	settings := GuildSettings{GuildID: guildID}
	err := db.Where("guild_id = ?", guildID).Take(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return settings, nil
	}
	return settings, err
}

func (s *Store) SetRequireWhitespaces(ctx context.Context, guildID string, required bool) error {
	settings, err := s.GuildSettings(ctx, guildID)
	if err != nil {
		return err
	}
	settings.RequireWhitespaces = required
	_, err = s.db.Save(ctx, &settings)
	return err
}
