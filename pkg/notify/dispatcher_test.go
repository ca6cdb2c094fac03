package notify

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/sessioncore/pkg/transcript"
)

type recordingObserver struct {
	mu       sync.Mutex
	calls    []string
	messages [][]transcript.Message
	states   [][3]any
}

func (r *recordingObserver) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *recordingObserver) OnMessageUpdate(messages []transcript.Message) {
	r.record("messages")
	r.mu.Lock()
	r.messages = append(r.messages, messages)
	r.mu.Unlock()
}

func (r *recordingObserver) OnStateChange(busy bool, loading bool, err string) {
	r.record("state")
	r.mu.Lock()
	r.states = append(r.states, [3]any{busy, loading, err})
	r.mu.Unlock()
}

func (r *recordingObserver) OnSessionIDReceived(string) { r.record("session_id") }
func (r *recordingObserver) OnThinkingStatusChanged(bool) { r.record("thinking") }
func (r *recordingObserver) OnSlashCommandsReceived([]string) { r.record("commands") }

func notifyAll(d *Dispatcher) {
	d.NotifyMessageUpdate(nil)
	d.NotifyStateChange(true, false, "")
	d.NotifySessionIDReceived("s")
	d.NotifyThinkingStatusChanged(true)
	d.NotifySlashCommandsReceived([]string{"/help"})
}

func TestDispatcher_NoObserverIsNoop(t *testing.T) {
	require.NotPanics(t, func() { notifyAll(NewDispatcher()) })

	var nilDispatcher *Dispatcher
	require.NotPanics(t, func() { notifyAll(nilDispatcher) })
}

func TestDispatcher_AttachDetachNotify(t *testing.T) {
	d := NewDispatcher()
	obs := &recordingObserver{}

	d.Attach(obs)
	require.True(t, d.Attached())
	notifyAll(d)
	require.Equal(t, []string{"messages", "state", "session_id", "thinking", "commands"}, obs.calls)
	require.Equal(t, [3]any{true, false, ""}, obs.states[0])

	d.Detach()
	require.False(t, d.Attached())
	require.NotPanics(t, func() { notifyAll(d) })
	require.Len(t, obs.calls, 5)
}

func TestDispatcher_ReplaceObserver(t *testing.T) {
	d := NewDispatcher()
	first := &recordingObserver{}
	second := &recordingObserver{}

	d.Attach(first)
	d.NotifySessionIDReceived("a")
	d.Attach(second)
	d.NotifySessionIDReceived("b")
	d.Attach(nil)
	d.NotifySessionIDReceived("c")

	require.Len(t, first.calls, 1)
	require.Len(t, second.calls, 1)
}

func TestDispatcher_DetachRacingNotify(t *testing.T) {
	d := NewDispatcher()
	var delivered atomic.Int64
	obs := Funcs{StateChange: func(bool, bool, string) { delivered.Add(1) }}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			d.NotifyStateChange(true, true, "")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if i%2 == 0 {
				d.Attach(obs)
			} else {
				d.Detach()
			}
		}
	}()
	wg.Wait()

	require.LessOrEqual(t, delivered.Load(), int64(1000))
}

func TestMulti_FansOutAndSkipsNil(t *testing.T) {
	a := &recordingObserver{}
	b := &recordingObserver{}
	m := NewMulti(a, nil, b)
	require.Len(t, m, 2)

	d := NewDispatcher()
	d.Attach(m)
	notifyAll(d)

	require.Equal(t, a.calls, b.calls)
	require.Len(t, a.calls, 5)
}

func TestFuncs_NilCallbacksAreSkipped(t *testing.T) {
	var got []string
	f := Funcs{SlashCommandsReceived: func(c []string) { got = c }}
	d := NewDispatcher()
	d.Attach(f)
	require.NotPanics(t, func() { notifyAll(d) })
	require.Equal(t, []string{"/help"}, got)
}
