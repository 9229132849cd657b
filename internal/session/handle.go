package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
	"github.com/anantham/live-conversational-threads-sub000/internal/hub"
)

// Handle is the external surface of a live session. Every method is safe to
// call concurrently from multiple ingress goroutines; the owner goroutine underneath serializes
// their effects.
type Handle struct {
	id     string
	owner  *owner
	cancel context.CancelFunc

	closed  atomic.Bool
	closeMu sync.Mutex
}

// SessionID returns the session's identifier.
func (h *Handle) SessionID() string { return h.id }

// ConversationID returns the conversation this session's events are
// attached to. Set once at construction and never mutated afterwards, so
// reading it requires no synchronization with the owner goroutine.
func (h *Handle) ConversationID() string { return h.owner.session.ConversationID }

// PushAudio enqueues a PCM frame for transcription. Non-blocking: when the
// session's audio queue is full, the oldest queued frame is dropped to make
// room for the newest one and [domain.ErrBackpressure] is returned.
func (h *Handle) PushAudio(data []byte, at time.Time) error {
	if h.closed.Load() {
		return domain.ErrSessionClosed
	}
	msg := audioMsg{data: data, at: at}
	select {
	case h.owner.audioCh <- msg:
		return nil
	default:
	}

	select {
	case <-h.owner.audioCh:
	default:
	}
	select {
	case h.owner.audioCh <- msg:
		h.owner.logger.Warn("session: audio queue full, dropped oldest frame", "session_id", h.id)
		return domain.ErrBackpressure
	default:
		return domain.ErrBackpressure
	}
}

// PushTranscriptEvent forwards a client-produced transcript event (the
// alternate ingress mode where the client runs STT locally).
func (h *Handle) PushTranscriptEvent(event domain.TranscriptEvent) error {
	if h.closed.Load() {
		return domain.ErrSessionClosed
	}
	select {
	case h.owner.controlCh <- controlItem{transcript: &transcriptInMsg{event: event}}:
		return nil
	default:
		return domain.ErrBackpressure
	}
}

// Flush requests an immediate STT flush of whatever audio is buffered.
func (h *Handle) Flush() error {
	if h.closed.Load() {
		return domain.ErrSessionClosed
	}
	select {
	case h.owner.controlCh <- controlItem{flush: &flushMsg{}}:
		return nil
	default:
		return domain.ErrBackpressure
	}
}

// Subscribe attaches a new fan-out subscriber.
func (h *Handle) Subscribe() *hub.Subscriber {
	return h.owner.hub.Subscribe()
}

// Publish emits a hub event directly, bypassing the owner's audio/transcript
// pipeline. Used by ingress adapters that need to report upload-specific
// progress (e.g. file-upload stage markers) alongside the pipeline's own
// events.
func (h *Handle) Publish(eventType hub.EventType, payload any) hub.Event {
	return h.owner.hub.Publish(eventType, payload)
}

// Close idempotently tears the session down: flushes pending audio and
// accumulated text, waits up to the configured drain timeout for the graph
// builder to settle, then releases the owner goroutine.
func (h *Handle) Close(reason string) {
	h.closeMu.Lock()
	defer h.closeMu.Unlock()
	if h.closed.Swap(true) {
		return
	}

	done := make(chan struct{})
	h.owner.controlCh <- controlItem{close: &closeMsg{reason: reason, done: done}}
	<-done
	h.cancel()
}

// newHandle starts o's owner loop on a new goroutine and returns a Handle
// bound to it.
func newHandle(id string, o *owner) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{id: id, owner: o, cancel: cancel}
	go o.run(ctx)
	return h
}
