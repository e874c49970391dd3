package dynvoice

import (
	"github.com/bwmarrin/discordgo"
)

const (
	permView    int64 = discordgo.PermissionViewChannel
	permConnect int64 = discordgo.PermissionVoiceConnect
	permSend    int64 = discordgo.PermissionSendMessages
	permReact   int64 = discordgo.PermissionAddReactions
	permManage  int64 = discordgo.PermissionManageChannels

	permVoiceAccess = permView | permConnect
	permChat        = permSend | permReact
	permMemberGrant = permVoiceAccess | permChat
)

// overwritePatch describes a tri-state change to a permission overwrite:
// each bit is either set to allow, set to deny, reset to inherit, or left
// as-is.
type overwritePatch struct {
	Allow int64
	Deny  int64
	Clear int64
}

func allow(bits int64) overwritePatch {
	return overwritePatch{Allow: bits}
}

func deny(bits int64) overwritePatch {
	return overwritePatch{Deny: bits}
}

func inherit(bits int64) overwritePatch {
	return overwritePatch{Clear: bits}
}

// and combines two patches, with o winning on overlap.
func (p overwritePatch) and(o overwritePatch) overwritePatch {
	touched := o.Allow | o.Deny | o.Clear
	return overwritePatch{
		Allow: (p.Allow &^ touched) | o.Allow,
		Deny:  (p.Deny &^ touched) | o.Deny,
		Clear: (p.Clear &^ touched) | o.Clear,
	}
}

// overwriteSet is an editable copy of a channel's permission overwrites,
// keyed by target ID. The channel's original slice is never modified.
type overwriteSet struct {
	byID  map[string]*discordgo.PermissionOverwrite
	order []string
}

func newOverwriteSet(overwrites []*discordgo.PermissionOverwrite) *overwriteSet {
	s := &overwriteSet{byID: make(map[string]*discordgo.PermissionOverwrite, len(overwrites))}
	for _, ow := range overwrites {
		if ow == nil {
			continue
		}
		c := *ow
		if _, exists := s.byID[c.ID]; !exists {
			s.order = append(s.order, c.ID)
		}
		s.byID[c.ID] = &c
	}
	return s
}

func (s *overwriteSet) get(id string) *discordgo.PermissionOverwrite {
	return s.byID[id]
}

func (s *overwriteSet) has(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// apply merges patch into the overwrite for id, creating it if needed.
func (s *overwriteSet) apply(
	id string,
	typ discordgo.PermissionOverwriteType,
	patch overwritePatch,
) {
	ow, ok := s.byID[id]
	if !ok {
		ow = &discordgo.PermissionOverwrite{ID: id, Type: typ}
		s.byID[id] = ow
		s.order = append(s.order, id)
	}
	ow.Allow = (ow.Allow &^ (patch.Deny | patch.Clear)) | patch.Allow
	ow.Deny = (ow.Deny &^ (patch.Allow | patch.Clear)) | patch.Deny
}

func (s *overwriteSet) applyMember(id string, patch overwritePatch) {
	s.apply(id, discordgo.PermissionOverwriteTypeMember, patch)
}

func (s *overwriteSet) applyRole(id string, patch overwritePatch) {
	s.apply(id, discordgo.PermissionOverwriteTypeRole, patch)
}

func (s *overwriteSet) remove(id string) {
	if _, ok := s.byID[id]; !ok {
		return
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// allows reports whether the overwrite for id explicitly allows all of bits.
func (s *overwriteSet) allows(id string, bits int64) bool {
	ow := s.byID[id]
	return ow != nil && ow.Allow&bits == bits
}

// denies reports whether the overwrite for id explicitly denies any of bits.
func (s *overwriteSet) denies(id string, bits int64) bool {
	ow := s.byID[id]
	return ow != nil && ow.Deny&bits != 0
}

// members returns the IDs of all member-type overwrites.
func (s *overwriteSet) members() []string {
	var ids []string
	for _, id := range s.order {
		if s.byID[id].Type == discordgo.PermissionOverwriteTypeMember {
			ids = append(ids, id)
		}
	}
	return ids
}

// list returns the overwrites in their original order. Member overwrites
// which no longer allow or deny anything are dropped.
func (s *overwriteSet) list() []*discordgo.PermissionOverwrite {
	rv := make([]*discordgo.PermissionOverwrite, 0, len(s.order))
	for _, id := range s.order {
		ow := s.byID[id]
		if ow.Type == discordgo.PermissionOverwriteTypeMember && ow.Allow == 0 && ow.Deny == 0 {
			continue
		}
		c := *ow
		rv = append(rv, &c)
	}
	return rv
}

// withoutLockOverrides returns a copy of s keeping role overwrites, the
// bot's own overwrite and the overwrites of keepMembers. When
// resetUserRole is set, the user role is made visible again and its
// connect permission goes back to inheriting.
func (s *overwriteSet) withoutLockOverrides(
	botUserID string,
	userRoleID string,
	keepMembers map[string]bool,
	resetUserRole bool,
) *overwriteSet {
	rv := &overwriteSet{byID: map[string]*discordgo.PermissionOverwrite{}}
	for _, id := range s.order {
		ow := s.byID[id]
		if ow.Type == discordgo.PermissionOverwriteTypeMember && id != botUserID && !keepMembers[id] {
			continue
		}
		c := *ow
		rv.byID[id] = &c
		rv.order = append(rv.order, id)
	}
	if resetUserRole && userRoleID != "" {
		rv.applyRole(userRoleID, allow(permView).and(inherit(permConnect)))
	}
	return rv
}
