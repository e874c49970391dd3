package dynvoice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// TransitionKind is either a join or a leave.
type TransitionKind int

const (
	TransitionJoin TransitionKind = iota
	TransitionLeave
)

func (k TransitionKind) String() string {
	if k == TransitionJoin {
		return "join"
	}
	return "leave"
}

// TransitionKey identifies a member's presence in a specific channel.
type TransitionKey struct {
	MemberID  string
	ChannelID string
}

// ScheduleResult describes what a Joined/Left call did.
type ScheduleResult int

const (
	// ScheduleQueued means a new transition was scheduled
	ScheduleQueued ScheduleResult = iota

	// ScheduleCancelled means the event cancelled the opposite pending
	// transition, so the net effect is nothing
	ScheduleCancelled

	// ScheduleAlreadyPending means the same transition was already pending
	ScheduleAlreadyPending

	// ScheduleCommitted means the transition was committed immediately
	// (kicked members)
	ScheduleCommitted

	// ScheduleStopped means the scheduler no longer accepts events
	ScheduleStopped
)

// TransitionCommitter applies a transition once its delay elapses.
type TransitionCommitter interface {
	MemberJoin(ctx context.Context, memberID, channelID string) error
	MemberLeave(ctx context.Context, memberID, channelID string) error
}

type pendingTransition struct {
	kind      TransitionKind
	cancelled chan struct{}
}

// TransitionScheduler debounces voice state changes. A leave followed by
// a join within LeaveDelay (or a join followed by a leave within JoinDelay)
// cancels out, and nothing is committed.
//
// Each pending transition belongs to exactly one of two outcomes: its timer
// goroutine pops it and commits, or an opposite event pops it and cancels.
// Whichever pops the entry from the pending map first wins.
type TransitionScheduler struct {
	joinDelay  time.Duration
	leaveDelay time.Duration
	committer  TransitionCommitter
	logger     *slog.Logger

	// onError is called when a committed transition fails
	onError func(ctx context.Context, kind TransitionKind, key TransitionKey, err error)

	// after returns a channel that fires after the given duration. Swapped
	// out in tests.
	after func(d time.Duration) <-chan time.Time

	mu           sync.Mutex
	pendingJoin  map[TransitionKey]*pendingTransition
	pendingLeave map[TransitionKey]*pendingTransition
	kicked       map[TransitionKey]struct{}
	stopped      bool
	wg           sync.WaitGroup
}

func NewTransitionScheduler(
	joinDelay time.Duration,
	leaveDelay time.Duration,
	committer TransitionCommitter,
	logger *slog.Logger,
) *TransitionScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransitionScheduler{
		joinDelay:    joinDelay,
		leaveDelay:   leaveDelay,
		committer:    committer,
		logger:       logger.With(loggerNameKey, "transition_scheduler"),
		after:        time.After,
		pendingJoin:  map[TransitionKey]*pendingTransition{},
		pendingLeave: map[TransitionKey]*pendingTransition{},
		kicked:       map[TransitionKey]struct{}{},
	}
}

func (s *TransitionScheduler) pendingMap(kind TransitionKind) map[TransitionKey]*pendingTransition {
	if kind == TransitionJoin {
		return s.pendingJoin
	}
	return s.pendingLeave
}

// MarkKicked flags the next leave for key to be committed immediately,
// bypassing the delay. Used when the bot disconnects a member itself.
func (s *TransitionScheduler) MarkKicked(key TransitionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kicked[key] = struct{}{}
}

// UnmarkKicked clears a flag set by MarkKicked (ex: the disconnect failed).
func (s *TransitionScheduler) UnmarkKicked(key TransitionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kicked, key)
}

// Left records that the member left the channel.
func (s *TransitionScheduler) Left(ctx context.Context, key TransitionKey) (ScheduleResult, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ScheduleStopped, nil
	}
	if _, kicked := s.kicked[key]; kicked {
		delete(s.kicked, key)
		if p, ok := s.pendingJoin[key]; ok {
			delete(s.pendingJoin, key)
			close(p.cancelled)
		}
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "committing kick immediately", transitionLogAttrs(TransitionLeave, key)...)
		return ScheduleCommitted, s.committer.MemberLeave(ctx, key.MemberID, key.ChannelID)
	}
	defer s.mu.Unlock()
	return s.schedule(ctx, TransitionLeave, key, s.leaveDelay), nil
}

// Joined records that the member joined the channel.
func (s *TransitionScheduler) Joined(ctx context.Context, key TransitionKey) ScheduleResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ScheduleStopped
	}
	return s.schedule(ctx, TransitionJoin, key, s.joinDelay)
}

// schedule must be called with s.mu held
func (s *TransitionScheduler) schedule(
	ctx context.Context,
	kind TransitionKind,
	key TransitionKey,
	delay time.Duration,
) ScheduleResult {
	opposite := TransitionJoin
	if kind == TransitionJoin {
		opposite = TransitionLeave
	}
	if p, ok := s.pendingMap(opposite)[key]; ok {
		delete(s.pendingMap(opposite), key)
		close(p.cancelled)
		s.logger.DebugContext(
			ctx,
			"cancelled pending transition",
			transitionLogAttrs(opposite, key)...,
		)
		return ScheduleCancelled
	}

	pending := s.pendingMap(kind)
	if _, ok := pending[key]; ok {
		return ScheduleAlreadyPending
	}

	p := &pendingTransition{kind: kind, cancelled: make(chan struct{})}
	pending[key] = p
	fire := s.after(delay)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-p.cancelled:
			return
		case <-ctx.Done():
			s.pop(kind, key, p)
			return
		case <-fire:
		}
		if !s.pop(kind, key, p) {
			return
		}
		s.commit(ctx, kind, key)
	}()
	return ScheduleQueued
}

// pop removes p from the pending map if it's still the current entry,
// returning true if it did.
func (s *TransitionScheduler) pop(kind TransitionKind, key TransitionKey, p *pendingTransition) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.pendingMap(kind)
	if current, ok := pending[key]; ok && current == p {
		delete(pending, key)
		return true
	}
	return false
}

func (s *TransitionScheduler) commit(ctx context.Context, kind TransitionKind, key TransitionKey) {
	var err error
	switch kind {
	case TransitionJoin:
		err = s.committer.MemberJoin(ctx, key.MemberID, key.ChannelID)
	case TransitionLeave:
		err = s.committer.MemberLeave(ctx, key.MemberID, key.ChannelID)
	}
	if err == nil {
		return
	}
	logAttrs := append(transitionLogAttrs(kind, key), tint.Err(err))
	s.logger.ErrorContext(ctx, "error committing transition", logAttrs...)
	if s.onError != nil {
		s.onError(ctx, kind, key, err)
	}
}

// Pending returns the number of transitions waiting on their delay.
func (s *TransitionScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingJoin) + len(s.pendingLeave)
}

// IsPending reports whether a transition of the given kind is pending for key.
func (s *TransitionScheduler) IsPending(kind TransitionKind, key TransitionKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pendingMap(kind)[key]
	return ok
}

// Stop cancels all pending transitions and rejects new ones.
func (s *TransitionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, p := range s.pendingJoin {
		delete(s.pendingJoin, key)
		close(p.cancelled)
	}
	for key, p := range s.pendingLeave {
		delete(s.pendingLeave, key)
		close(p.cancelled)
	}
}

// Wait blocks until every timer goroutine has returned.
func (s *TransitionScheduler) Wait() {
	s.wg.Wait()
}

func transitionLogAttrs(kind TransitionKind, key TransitionKey) []any {
	return []any{
		"transition", kind.String(),
		"member_id", key.MemberID,
		"channel_id", key.ChannelID,
	}
}
