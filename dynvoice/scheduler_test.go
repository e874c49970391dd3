package dynvoice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type committed struct {
	kind TransitionKind
	key  TransitionKey
}

type recordingCommitter struct {
	mu        sync.Mutex
	committed []committed
	err       error
	done      chan committed
}

func newRecordingCommitter() *recordingCommitter {
	return &recordingCommitter{done: make(chan committed, 100)}
}

func (c *recordingCommitter) record(kind TransitionKind, memberID, channelID string) error {
	entry := committed{kind: kind, key: TransitionKey{MemberID: memberID, ChannelID: channelID}}
	c.mu.Lock()
	c.committed = append(c.committed, entry)
	c.mu.Unlock()
	c.done <- entry
	return c.err
}

func (c *recordingCommitter) MemberJoin(_ context.Context, memberID, channelID string) error {
	return c.record(TransitionJoin, memberID, channelID)
}

func (c *recordingCommitter) MemberLeave(_ context.Context, memberID, channelID string) error {
	return c.record(TransitionLeave, memberID, channelID)
}

func (c *recordingCommitter) Committed() []committed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]committed(nil), c.committed...)
}

// manualClock hands out timer channels which only fire when the test
// says so
type manualClock struct {
	mu     sync.Mutex
	timers []chan time.Time
}

func (m *manualClock) after(time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan time.Time, 1)
	m.timers = append(m.timers, ch)
	return ch
}

func (m *manualClock) fireAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.timers {
		select {
		case ch <- time.Now():
		default:
		}
	}
	m.timers = nil
}

func newTestScheduler(t testing.TB, committer TransitionCommitter) (*TransitionScheduler, *manualClock) {
	t.Helper()
	clock := &manualClock{}
	s := NewTransitionScheduler(time.Second, 5*time.Second, committer, slog.Default())
	s.after = clock.after
	t.Cleanup(
		func() {
			s.Stop()
			s.Wait()
		},
	)
	return s, clock
}

func waitCommitted(t testing.TB, c *recordingCommitter) committed {
	t.Helper()
	select {
	case entry := <-c.done:
		return entry
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for commit")
		return committed{}
	}
}

func TestTransitionScheduler_JoinCommits(t *testing.T) {
	t.Parallel()
	c := newRecordingCommitter()
	s, clock := newTestScheduler(t, c)
	ctx := context.Background()
	key := TransitionKey{MemberID: "1", ChannelID: "2"}

	assert.Equal(t, ScheduleQueued, s.Joined(ctx, key))
	assert.Equal(t, ScheduleAlreadyPending, s.Joined(ctx, key))
	assert.True(t, s.IsPending(TransitionJoin, key))

	clock.fireAll()
	got := waitCommitted(t, c)
	assert.Equal(t, committed{kind: TransitionJoin, key: key}, got)
	s.Stop()
	s.Wait()
	assert.Equal(t, 0, s.Pending())
	assert.Len(t, c.Committed(), 1)
}

func TestTransitionScheduler_LeaveThenRejoinCancels(t *testing.T) {
	t.Parallel()
	c := newRecordingCommitter()
	s, clock := newTestScheduler(t, c)
	ctx := context.Background()
	key := TransitionKey{MemberID: "1", ChannelID: "2"}

	res, err := s.Left(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, ScheduleQueued, res)
	assert.Equal(t, ScheduleCancelled, s.Joined(ctx, key))
	assert.Equal(t, 0, s.Pending())

	clock.fireAll()
	s.Stop()
	s.Wait()
	assert.Empty(t, c.Committed())
}

func TestTransitionScheduler_KickBypassesDelay(t *testing.T) {
	t.Parallel()
	c := newRecordingCommitter()
	s, _ := newTestScheduler(t, c)
	ctx := context.Background()
	key := TransitionKey{MemberID: "1", ChannelID: "2"}

	assert.Equal(t, ScheduleQueued, s.Joined(ctx, key))
	s.MarkKicked(key)
	res, err := s.Left(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, ScheduleCommitted, res)
	assert.False(t, s.IsPending(TransitionJoin, key))
	assert.Equal(t, []committed{{kind: TransitionLeave, key: key}}, c.Committed())

	// the flag is consumed by the first leave
	res, err = s.Left(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, ScheduleQueued, res)

	s.UnmarkKicked(key)
}

func TestTransitionScheduler_CommitErrorCallback(t *testing.T) {
	t.Parallel()
	c := newRecordingCommitter()
	c.err = errors.New("boom")
	s, clock := newTestScheduler(t, c)

	errs := make(chan error, 1)
	s.onError = func(_ context.Context, kind TransitionKind, _ TransitionKey, err error) {
		assert.Equal(t, TransitionLeave, kind)
		errs <- err
	}
	_, err := s.Left(context.Background(), TransitionKey{MemberID: "1", ChannelID: "2"})
	require.NoError(t, err)
	clock.fireAll()

	select {
	case err := <-errs:
		assert.EqualError(t, err, "boom")
	case <-time.After(5 * time.Second):
		t.Fatal("onError not called")
	}
}

func TestTransitionScheduler_Stopped(t *testing.T) {
	t.Parallel()
	c := newRecordingCommitter()
	s, clock := newTestScheduler(t, c)
	ctx := context.Background()
	key := TransitionKey{MemberID: "1", ChannelID: "2"}

	assert.Equal(t, ScheduleQueued, s.Joined(ctx, key))
	s.Stop()
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, ScheduleStopped, s.Joined(ctx, key))
	res, err := s.Left(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, ScheduleStopped, res)

	clock.fireAll()
	s.Wait()
	assert.Empty(t, c.Committed())
}

func TestTransitionScheduler_ContextCancelled(t *testing.T) {
	t.Parallel()
	c := newRecordingCommitter()
	s, _ := newTestScheduler(t, c)
	ctx, cancel := context.WithCancel(context.Background())
	key := TransitionKey{MemberID: "1", ChannelID: "2"}

	assert.Equal(t, ScheduleQueued, s.Joined(ctx, key))
	cancel()
	s.Wait()
	assert.Equal(t, 0, s.Pending())
	assert.Empty(t, c.Committed())
}

// Any sequence of joins and leaves for one key leaves at most one
// transition pending, and it matches the net direction of the sequence.
func TestTransitionScheduler_NetPendingProperty(t *testing.T) {
	t.Parallel()
	rapid.Check(
		t, func(rt *rapid.T) {
			c := newRecordingCommitter()
			clock := &manualClock{}
			s := NewTransitionScheduler(time.Second, 5*time.Second, c, slog.Default())
			s.after = clock.after
			ctx := context.Background()
			key := TransitionKey{MemberID: "1", ChannelID: "2"}

			const (
				none = iota
				join
				leave
			)
			state := none

			events := rapid.SliceOf(rapid.Bool()).Draw(rt, "joins")
			for _, isJoin := range events {
				var res ScheduleResult
				if isJoin {
					res = s.Joined(ctx, key)
				} else {
					var err error
					res, err = s.Left(ctx, key)
					if err != nil {
						rt.Fatalf("unexpected error: %v", err)
					}
				}

				var want ScheduleResult
				switch {
				case isJoin && state == leave, !isJoin && state == join:
					want = ScheduleCancelled
					state = none
				case isJoin && state == join, !isJoin && state == leave:
					want = ScheduleAlreadyPending
				case isJoin:
					want = ScheduleQueued
					state = join
				default:
					want = ScheduleQueued
					state = leave
				}
				if res != want {
					rt.Fatalf("got result %d, want %d", res, want)
				}
			}

			if s.IsPending(TransitionJoin, key) != (state == join) {
				rt.Fatalf("join pending mismatch (state %d)", state)
			}
			if s.IsPending(TransitionLeave, key) != (state == leave) {
				rt.Fatalf("leave pending mismatch (state %d)", state)
			}
			if s.Pending() > 1 {
				rt.Fatalf("more than one pending transition: %d", s.Pending())
			}

			clock.fireAll()
			if state != none {
				entry := <-c.done
				if (entry.kind == TransitionJoin) != (state == join) {
					rt.Fatalf("committed %s, expected state %d", entry.kind, state)
				}
			}
			s.Stop()
			s.Wait()
			if n := len(c.Committed()); (state == none && n != 0) || (state != none && n != 1) {
				rt.Fatalf("unexpected commits: %d", n)
			}
		},
	)
}
