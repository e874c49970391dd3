// Package dynvoice implements a Discord bot that manages pools of
// "dynamic" voice channels.
//
// A dynamic group is a set of interchangeable voice channels. When every
// channel in a group is occupied, a new sibling is created; when a channel
// empties out it is deleted, as long as another empty sibling remains to
// take new members.
//
// Key components of the package include:
//
//   - DynVoice: The main struct, which owns the Discord session, database,
//     admin API and the background loops.
//   - Engine: Applies join/leave transitions and owner commands (lock,
//     hide, add, remove, transfer...) to Discord and the database.
//   - TransitionScheduler: Debounces voice state changes, so that a
//     member hopping out and back in again doesn't churn channels.
//   - LockRegistry: Per-channel (and per-group) reentrant locks.
//   - OwnerResolver: Derives and caches the owner of each channel.
//   - Store: Persists groups, channels, memberships and role links.
//   - API: Admin HTTP API for group, role link and channel name management.
//
// Channel members interact with the bot through the /voice slash command
// and the buttons on the control message posted to each voice channel's
// chat.
package dynvoice
