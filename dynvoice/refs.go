package dynvoice

import "fmt"

// ChannelRefKind tags a ChannelRef
type ChannelRefKind int

const (
	RefVoiceChannel ChannelRefKind = iota + 1
	RefTextChannel
	RefMember
)

func (k ChannelRefKind) String() string {
	switch k {
	case RefVoiceChannel:
		return "voice_channel"
	case RefTextChannel:
		return "text_channel"
	case RefMember:
		return "member"
	default:
		return "unknown"
	}
}

// ChannelRef points at a dynamic channel: directly by its voice channel,
// by its companion text channel, or by a member currently connected to it.
// Commands build one at the boundary and the Engine resolves it once.
type ChannelRef struct {
	Kind ChannelRefKind
	ID   string
}

func VoiceChannelRef(channelID string) ChannelRef {
	return ChannelRef{Kind: RefVoiceChannel, ID: channelID}
}

func TextChannelRef(channelID string) ChannelRef {
	return ChannelRef{Kind: RefTextChannel, ID: channelID}
}

func MemberRef(memberID string) ChannelRef {
	return ChannelRef{Kind: RefMember, ID: memberID}
}

func (r ChannelRef) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}
