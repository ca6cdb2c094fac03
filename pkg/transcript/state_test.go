package transcript

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/sessioncore/pkg/envelope"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func TestState_ExchangeLifecycle(t *testing.T) {
	s := NewState()
	require.Equal(t, PhaseIdle, s.Phase())

	s.Begin()
	require.True(t, s.Busy())
	require.True(t, s.Loading())
	require.Equal(t, PhaseActive, s.Phase())
	require.Empty(t, s.Messages())

	require.True(t, s.SetCurrentText("he"))
	require.False(t, s.Loading())
	require.True(t, s.Busy())
	require.False(t, s.SetCurrentText("hello"))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, KindAssistant, msgs[0].Kind)
	require.Equal(t, "hello", msgs[0].Text)

	s.Complete()
	require.False(t, s.Busy())
	require.False(t, s.Loading())
	require.False(t, s.HasCurrent())
	require.Equal(t, PhaseIdle, s.Phase())
}

func TestState_CompleteClearsLoadingWithoutContent(t *testing.T) {
	s := NewState()
	s.Begin()
	require.True(t, s.Loading())
	s.Complete()
	require.False(t, s.Busy())
	require.False(t, s.Loading())
	require.Empty(t, s.Messages())
}

func TestState_FailAppendsErrorAndClearsFlags(t *testing.T) {
	s := NewState()
	s.Begin()
	s.SetCurrentText("partial")
	m := s.Fail("boom")

	require.Equal(t, KindError, m.Kind)
	require.False(t, s.Busy())
	require.False(t, s.Loading())
	require.Equal(t, "boom", s.Error())
	require.Equal(t, PhaseErrored, s.Phase())

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "partial", msgs[0].Text)
	require.Equal(t, KindError, msgs[1].Kind)
	require.Equal(t, "boom", msgs[1].Text)

	// errors are never merged into one another
	s.Fail("boom")
	require.Len(t, s.Messages(), 3)

	s.Begin()
	require.Empty(t, s.Error())
	require.Equal(t, PhaseActive, s.Phase())
}

func TestState_FrozenMessageIsNotReopened(t *testing.T) {
	s := NewState()
	s.Begin()
	s.SetCurrentText("first")
	s.Complete()

	require.True(t, s.SetCurrentText("late"))
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "first", msgs[0].Text)
	require.Equal(t, "late", msgs[1].Text)
}

func TestState_SetCurrentEnvelopeFlattensText(t *testing.T) {
	s := NewState()
	s.Begin()
	env, err := envelope.Parse([]byte(`{"message":{"content":[{"id":"a","type":"text","text":"hi"}]}}`))
	require.NoError(t, err)

	require.True(t, s.SetCurrentEnvelope(env))
	require.Equal(t, env, s.CurrentEnvelope())
	require.Equal(t, "hi", s.Messages()[0].Text)

	s.Complete()
	require.Nil(t, s.CurrentEnvelope())
}

func TestState_SnapshotIsACopy(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := NewState(WithClock(clock.now))
	s.Append(KindUser, "question")
	s.Begin()
	s.SetCurrentText("a")
	s.SetSessionID("sess-1")

	snap := s.Snapshot()
	s.SetCurrentText("ab")

	require.Equal(t, "a", snap.Messages[1].Text)
	require.Equal(t, "ab", s.Messages()[1].Text)
	require.Equal(t, "sess-1", snap.SessionID)
	require.True(t, snap.Busy)

	before := s.LastModified()
	s.Complete()
	require.True(t, s.LastModified().After(before))
}

func TestState_ConcurrentReadersDuringWrites(t *testing.T) {
	s := NewState()
	s.Begin()

	var wg sync.WaitGroup
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					snap := s.Snapshot()
					for _, m := range snap.Messages {
						_ = m.Text
					}
				}
			}
		}()
	}

	text := ""
	for i := 0; i < 200; i++ {
		text += "x"
		s.SetCurrentText(text)
	}
	s.Complete()
	close(done)
	wg.Wait()

	require.Equal(t, text, s.Messages()[0].Text)
}
