// Package notify decouples session changes from whoever is watching them.
package notify

import (
	"sync/atomic"

	"github.com/go-go-golems/sessioncore/pkg/transcript"
)

// Observer receives session notifications. Implementations run on the
// session's event goroutine and should hand work off if it may block.
type Observer interface {
	OnMessageUpdate(messages []transcript.Message)
	OnStateChange(busy bool, loading bool, err string)
	OnSessionIDReceived(sessionID string)
	OnThinkingStatusChanged(thinking bool)
	OnSlashCommandsReceived(commands []string)
}

type slot struct {
	observer Observer
}

// Dispatcher holds at most one Observer. Every notify method is a no-op when no
// observer is attached. Attach and Detach may race notifications freely: a
// notification goes to the observer it loaded or to nobody.
type Dispatcher struct {
	current atomic.Pointer[slot]
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Attach installs o, replacing any previous observer. A nil o detaches.
func (d *Dispatcher) Attach(o Observer) {
	if d == nil {
		return
	}
	if o == nil {
		d.current.Store(nil)
		return
	}
	d.current.Store(&slot{observer: o})
}

func (d *Dispatcher) Detach() {
	if d == nil {
		return
	}
	d.current.Store(nil)
}

func (d *Dispatcher) Attached() bool {
	return d.load() != nil
}

func (d *Dispatcher) load() Observer {
	if d == nil {
		return nil
	}
	s := d.current.Load()
	if s == nil {
		return nil
	}
	return s.observer
}

func (d *Dispatcher) NotifyMessageUpdate(messages []transcript.Message) {
	if o := d.load(); o != nil {
		o.OnMessageUpdate(messages)
	}
}

func (d *Dispatcher) NotifyStateChange(busy bool, loading bool, err string) {
	if o := d.load(); o != nil {
		o.OnStateChange(busy, loading, err)
	}
}

func (d *Dispatcher) NotifySessionIDReceived(sessionID string) {
	if o := d.load(); o != nil {
		o.OnSessionIDReceived(sessionID)
	}
}

func (d *Dispatcher) NotifyThinkingStatusChanged(thinking bool) {
	if o := d.load(); o != nil {
		o.OnThinkingStatusChanged(thinking)
	}
}

func (d *Dispatcher) NotifySlashCommandsReceived(commands []string) {
	if o := d.load(); o != nil {
		o.OnSlashCommandsReceived(commands)
	}
}
