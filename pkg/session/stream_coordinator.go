package session

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// TopicForSession is the pub/sub topic carrying frames for one session.
func TopicForSession(sessionID string) string { return "sessioncore.session." + sessionID }

// StreamCoordinator owns the subscription feeding a session's frames and
// applies them in delivery order.
type StreamCoordinator struct {
	sessionID  string
	subscriber message.Subscriber
	apply      func(Frame)

	// lastSeq is the highest redis stream position applied; redeliveries at or
	// below it are acked and skipped.
	lastSeq uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	done    chan struct{}
}

func NewStreamCoordinator(sessionID string, subscriber message.Subscriber, apply func(Frame)) *StreamCoordinator {
	return &StreamCoordinator{
		sessionID:  sessionID,
		subscriber: subscriber,
		apply:      apply,
	}
}

func (sc *StreamCoordinator) Start(ctx context.Context) error {
	if sc == nil || sc.subscriber == nil {
		return nil
	}
	sc.mu.Lock()
	if sc.running {
		sc.mu.Unlock()
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	ch, err := sc.subscriber.Subscribe(runCtx, TopicForSession(sc.sessionID))
	if err != nil {
		cancel()
		sc.mu.Unlock()
		log.Error().Err(err).Str("component", "session").Str("session_id", sc.sessionID).Msg("stream coordinator: subscribe failed")
		return err
	}
	sc.cancel = cancel
	sc.running = true
	done := make(chan struct{})
	sc.done = done
	sc.mu.Unlock()

	go sc.consume(ch, done)
	return nil
}

func (sc *StreamCoordinator) Stop() {
	if sc == nil {
		return
	}
	sc.mu.Lock()
	if sc.cancel != nil {
		sc.cancel()
	}
	sc.cancel = nil
	sc.running = false
	sc.mu.Unlock()
}

// Close stops consuming and closes the subscriber. Only use it when the
// subscriber is owned by this coordinator.
func (sc *StreamCoordinator) Close() {
	if sc == nil {
		return
	}
	sc.Stop()
	if sc.subscriber != nil {
		if err := sc.subscriber.Close(); err != nil {
			log.Warn().Err(err).Str("component", "session").Str("session_id", sc.sessionID).Msg("stream coordinator: subscriber close failed")
		}
	}
}

func (sc *StreamCoordinator) IsRunning() bool {
	if sc == nil {
		return false
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.running
}

// Done is closed once the consume loop has drained its channel.
func (sc *StreamCoordinator) Done() <-chan struct{} {
	if sc == nil {
		return nil
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.done
}

func (sc *StreamCoordinator) consume(ch <-chan *message.Message, done chan struct{}) {
	defer close(done)
	log.Info().Str("component", "session").Str("session_id", sc.sessionID).Msg("stream coordinator: started")
	for msg := range ch {
		if seq, ok := deriveSeqFromStreamID(extractStreamID(msg)); ok {
			if seq <= sc.lastSeq {
				log.Debug().Str("component", "session").Str("session_id", sc.sessionID).Uint64("seq", seq).Msg("stream coordinator: skipping redelivered frame")
				msg.Ack()
				continue
			}
			sc.lastSeq = seq
		}
		f, err := DecodeFrame(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("component", "session").Str("session_id", sc.sessionID).Msg("stream coordinator: failed to decode frame")
			msg.Ack()
			continue
		}
		if sc.apply != nil {
			sc.apply(f)
		}
		msg.Ack()
	}
	log.Info().Str("component", "session").Str("session_id", sc.sessionID).Msg("stream coordinator: stopped")
	sc.mu.Lock()
	sc.running = false
	sc.cancel = nil
	sc.mu.Unlock()
}

func extractStreamID(msg *message.Message) string {
	if msg == nil || msg.Metadata == nil {
		return ""
	}
	for _, k := range []string{"xid", "redis_xid"} {
		if v := msg.Metadata.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// deriveSeqFromStreamID turns a redis stream id "<ms>-<n>" into a monotonic
// sequence number.
func deriveSeqFromStreamID(streamID string) (uint64, bool) {
	ms, n, ok := strings.Cut(streamID, "-")
	if !ok {
		return 0, false
	}
	msv, err := strconv.ParseUint(ms, 10, 64)
	if err != nil {
		return 0, false
	}
	nv, err := strconv.ParseUint(n, 10, 64)
	if err != nil {
		return 0, false
	}
	return msv*1_000_000 + nv, true
}
