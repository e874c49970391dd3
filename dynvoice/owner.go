package dynvoice

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lmittmann/tint"
)

// Presence is the set of members currently connected to a voice channel,
// mapped to whether the member is a bot.
type Presence map[string]bool

// Has reports whether memberID is connected and isn't a bot
func (p Presence) Has(memberID string) bool {
	isBot, ok := p[memberID]
	return ok && !isBot
}

// Humans returns the number of connected members who aren't bots
func (p Presence) Humans() int {
	n := 0
	for _, isBot := range p {
		if !isBot {
			n++
		}
	}
	return n
}

// OwnerNotifier is called when a channel's owner changes to someone new
type OwnerNotifier func(ctx context.Context, ch *DynChannel, ownerID string)

// OwnerResolver derives who owns a dynamic channel: the member explicitly
// made owner if they're still connected, otherwise the connected member
// who joined first. Results are cached per channel.
type OwnerResolver struct {
	store  *Store
	notify OwnerNotifier
	logger *slog.Logger

	mu     sync.Mutex
	owners map[string]string
}

func NewOwnerResolver(store *Store, notify OwnerNotifier, logger *slog.Logger) *OwnerResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &OwnerResolver{
		store:  store,
		notify: notify,
		logger: logger.With(loggerNameKey, "owner_resolver"),
		owners: map[string]string{},
	}
}

// Get returns the owner of ch, or an empty string if there is none.
// The cached owner is used as long as they're still connected.
func (o *OwnerResolver) Get(ctx context.Context, ch *DynChannel, present Presence) (string, error) {
	if cached, ok := o.Cached(ch.ChannelID); ok && present.Has(cached) {
		return cached, nil
	}
	owner, fixed, err := o.fetch(ctx, ch, present)
	if err != nil || fixed {
		return owner, err
	}
	o.set(ch.ChannelID, owner)
	return owner, nil
}

// fetch resolves the owner from stored state. fixed is true when the
// owner had to be recomputed (and was cached by Fix).
func (o *OwnerResolver) fetch(ctx context.Context, ch *DynChannel, present Presence) (
	owner string,
	fixed bool,
	err error,
) {
	if ch.OwnerOverride != "" && present.Has(ch.OwnerOverride) {
		return ch.OwnerOverride, false, nil
	}
	if ch.OwnerMembershipID != nil {
		m, lookupErr := o.store.MembershipByID(ctx, *ch.OwnerMembershipID)
		if lookupErr != nil {
			return "", false, lookupErr
		}
		if m != nil && m.ChannelID == ch.ChannelID && present.Has(m.MemberID) {
			return m.MemberID, false, nil
		}
	}
	owner, err = o.Fix(ctx, ch, present)
	return owner, true, err
}

// Fix recomputes the owner from join order, persisting the owning
// membership on ch. The override, when connected, still takes precedence.
func (o *OwnerResolver) Fix(ctx context.Context, ch *DynChannel, present Presence) (string, error) {
	memberships, err := o.store.Memberships(ctx, ch.ChannelID)
	if err != nil {
		return "", err
	}

	var first *DynChannelMember
	for i := range memberships {
		if present.Has(memberships[i].MemberID) {
			first = &memberships[i]
			break
		}
	}

	var newMembershipID *uint
	var joinOrderOwner string
	if first != nil {
		id := first.ID
		newMembershipID = &id
		joinOrderOwner = first.MemberID
	}
	if !sameMembership(ch.OwnerMembershipID, newMembershipID) {
		ch.OwnerMembershipID = newMembershipID
		if err = o.store.SaveChannel(ctx, ch); err != nil {
			return "", err
		}
	}

	owner := joinOrderOwner
	if ch.OwnerOverride != "" && present.Has(ch.OwnerOverride) {
		owner = ch.OwnerOverride
	}
	o.cache(ctx, ch, owner)
	return owner, nil
}

// Refresh recomputes the owner after ch's ownership fields were changed
// by the caller, notifying if it changed
func (o *OwnerResolver) Refresh(ctx context.Context, ch *DynChannel, present Presence) (string, error) {
	owner, fixed, err := o.fetch(ctx, ch, present)
	if err != nil || fixed {
		return owner, err
	}
	o.cache(ctx, ch, owner)
	return owner, nil
}

// cache records owner for ch. The notifier runs once per change to
// a new, non-empty owner.
func (o *OwnerResolver) cache(ctx context.Context, ch *DynChannel, owner string) {
	o.mu.Lock()
	previous, had := o.owners[ch.ChannelID]
	if owner == "" {
		delete(o.owners, ch.ChannelID)
	} else {
		o.owners[ch.ChannelID] = owner
	}
	o.mu.Unlock()

	if owner == "" || (had && previous == owner) {
		return
	}
	o.logger.InfoContext(
		ctx,
		"channel owner changed",
		"channel_id", ch.ChannelID,
		"previous_owner", previous,
		"owner", owner,
	)
	if o.notify != nil {
		o.notify(ctx, ch, owner)
	}
}

// set records owner without notifying
func (o *OwnerResolver) set(channelID string, owner string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.owners[channelID] = owner
}

// Invalidate drops the cached owner for channelID
func (o *OwnerResolver) Invalidate(channelID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.owners, channelID)
}

// Cached returns the cached owner for channelID
func (o *OwnerResolver) Cached(channelID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	owner, ok := o.owners[channelID]
	return owner, ok
}

// Clear removes the stored owner of ch, along with the override
func (o *OwnerResolver) Clear(ctx context.Context, ch *DynChannel) error {
	o.Invalidate(ch.ChannelID)
	if ch.OwnerMembershipID == nil && ch.OwnerOverride == "" {
		return nil
	}
	ch.OwnerMembershipID = nil
	ch.OwnerOverride = ""
	if err := o.store.SaveChannel(ctx, ch); err != nil {
		o.logger.ErrorContext(ctx, "error clearing owner", tint.Err(err), "channel", ch)
		return err
	}
	return nil
}

func sameMembership(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
