// Package session implements the session registry and the
// single owner goroutine that serializes every mutation of one
// conversation's STT buffer, diarization window, accumulator, and running
// graph.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anantham/live-conversational-threads-sub000/internal/accumulator"
	"github.com/anantham/live-conversational-threads-sub000/internal/diarize"
	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
	"github.com/anantham/live-conversational-threads-sub000/internal/graphbuilder"
	"github.com/anantham/live-conversational-threads-sub000/internal/hub"
	"github.com/anantham/live-conversational-threads-sub000/internal/limiter"
	"github.com/anantham/live-conversational-threads-sub000/internal/sttdriver"
	"github.com/anantham/live-conversational-threads-sub000/internal/store"
	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/stt"
)

// idlePollInterval is how often the owner checks the accumulator's idle
// timeout; it is independent of the timeout itself, only bounding how
// quickly an idle emission is noticed.
const idlePollInterval = 250 * time.Millisecond

type audioMsg struct {
	data []byte
	at   time.Time
}

type transcriptInMsg struct {
	event domain.TranscriptEvent
}

type flushMsg struct{}

type closeMsg struct {
	reason string
	done   chan struct{}
}

// owner runs on its own goroutine for the lifetime of one session. Every
// field below is touched only from run(); cross-goroutine communication
// happens exclusively through audioCh/controlCh.
type owner struct {
	session domain.Session
	logger  *slog.Logger

	audioCh   chan audioMsg
	controlCh chan controlItem

	driver      *sttdriver.Driver
	reconciler  *diarize.Reconciler
	accumulator *accumulator.Accumulator
	builder     *graphbuilder.Builder
	hub         *hub.Hub
	store       store.Store
	lim         *limiter.Limiter

	drainTimeout time.Duration
	cancelGrace  time.Duration
	nextSeq      int64
	now          func() time.Time

	closeOnce chan struct{}
}

// controlItem is the tagged-union payload for owner.controlCh.
type controlItem struct {
	transcript *transcriptInMsg
	flush      *flushMsg
	close      *closeMsg
}

type newOwnerParams struct {
	session     domain.Session
	logger      *slog.Logger
	sttProvider stt.Provider
	builder     *graphbuilder.Builder
	h           *hub.Hub
	st          store.Store
	lim         *limiter.Limiter
	tune        tuning
	audioQueueN int
}

// tuning carries the session-independent numeric knobs from
// [config.TuningConfig] needed to construct an owner's components.
type tuning struct {
	ReconcileWindow        time.Duration
	AssignOverlapThreshold float64
	ChunkTargetWords       int
	ChunkOverlapWords      int
	IdleTimeout            time.Duration
	DrainTimeout           time.Duration
	CancelGrace            time.Duration
}

func newOwner(p newOwnerParams) *owner {
	logger := p.logger
	if logger == nil {
		logger = slog.Default()
	}

	driverCfg := sttdriver.Config{
		Model:            p.session.STT.Model,
		Language:         p.session.STT.Language,
		Diarize:          p.session.STT.Diarize,
		VADEnabled:       p.session.STT.VADEnabled,
		VADMinSeconds:    p.session.STT.VADMinSeconds,
		VADMaxSeconds:    p.session.STT.VADMaxSeconds,
		VADSilenceMs:     p.session.STT.VADSilenceMs,
		FixedIntervalSec: p.session.STT.FixedIntervalSec,
		Timeout:          p.session.STT.Timeout,
	}

	queueN := p.audioQueueN
	if queueN <= 0 {
		queueN = 64
	}

	return &owner{
		session:     p.session,
		logger:      logger,
		audioCh:     make(chan audioMsg, queueN),
		controlCh:   make(chan controlItem, 32),
		driver:      sttdriver.New(p.session.SessionID, driverCfg, p.sttProvider, p.lim, logger),
		reconciler:  diarize.New(p.tune.ReconcileWindow, p.tune.AssignOverlapThreshold),
		accumulator: accumulator.New(p.session.SessionID, p.session.ConversationID, accumulator.Config{
			TargetWords:  p.tune.ChunkTargetWords,
			OverlapWords: p.tune.ChunkOverlapWords,
			IdleTimeout:  p.tune.IdleTimeout,
		}),
		builder:      p.builder,
		hub:          p.h,
		store:        p.st,
		lim:          p.lim,
		drainTimeout: p.tune.DrainTimeout,
		cancelGrace:  p.tune.CancelGrace,
		now:          time.Now,
		closeOnce:    make(chan struct{}),
	}
}

// run is the owner's event loop. It exits only after a close request has
// been fully processed.
func (o *owner) run(ctx context.Context) {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-o.audioCh:
			o.handleAudio(ctx, msg)

		case item := <-o.controlCh:
			switch {
			case item.transcript != nil:
				o.handleTranscriptIn(ctx, item.transcript.event)
			case item.flush != nil:
				o.handleFlush(ctx)
			case item.close != nil:
				o.handleClose(ctx, item.close.reason)
				close(item.close.done)
				return
			}

		case <-ticker.C:
			o.pollIdle(ctx)
		}
	}
}

func (o *owner) handleAudio(ctx context.Context, msg audioMsg) {
	res, err, flushed := o.driver.PushAudio(ctx, msg.data, msg.at)
	if err != nil {
		o.publishWarning("transcribe", fmt.Sprintf("stt flush failed: %v", err))
		return
	}
	if !flushed || res == nil {
		return
	}
	o.emitTranscript(ctx, res)
}

func (o *owner) handleFlush(ctx context.Context) {
	res, err := o.driver.Flush(ctx)
	if err != nil {
		o.publishWarning("transcribe", fmt.Sprintf("stt flush failed: %v", err))
		return
	}
	if res != nil {
		o.emitTranscript(ctx, res)
	}
}

// emitTranscript turns one completed STT flush into a final transcript
// event, persists it, reconciles its speaker against the flush's own
// segments, and feeds the (possibly revised) text into the accumulator.
//
// Each flush produces text only once the provider has fully transcribed the
// buffered audio (the STT transport is request/response, not streaming), so
// there is no interim transcript_partial stage on the live-audio path —
// only the client-forwarded alternate path (handleTranscriptIn) can carry
// partial events.
func (o *owner) emitTranscript(ctx context.Context, res *sttdriver.Result) {
	o.nextSeq++
	event := domain.TranscriptEvent{
		EventID:        domain.NewID(),
		SessionID:      o.session.SessionID,
		ConversationID: o.session.ConversationID,
		SequenceNumber: o.nextSeq,
		Kind:           domain.EventFinal,
		Text:           res.Text,
		SpeakerID:      o.session.SpeakerDefault,
		SegmentStartMs: res.SegmentStartMs,
		SegmentEndMs:   res.SegmentEndMs,
		ReceivedAt:     o.now(),
	}

	if err := o.store.AppendTranscriptEvent(ctx, event); err != nil {
		o.publishWarning("persist", fmt.Sprintf("failed to persist transcript event: %v", err))
	}

	o.hub.Publish(hub.EventTranscriptFinal, hub.TranscriptPayload{
		EventID:           event.EventID,
		Text:              event.Text,
		SpeakerID:         event.SpeakerID,
		SpeakerConfidence: event.SpeakerConfidence,
		TStartMs:          event.SegmentStartMs,
		TEndMs:            event.SegmentEndMs,
	})

	o.reconciler.Track(event)
	effectiveSpeaker := event.SpeakerID
	for _, rev := range o.reconciler.Reconcile(res.Segments) {
		o.applyRevision(ctx, rev)
		if rev.EventID == event.EventID {
			effectiveSpeaker = rev.SpeakerID
		}
	}

	if chunk := o.accumulator.AddFinal(event.EventID, effectiveSpeaker, event.Text); chunk != nil {
		o.builder.Submit(ctx, *chunk)
	}
}

// handleTranscriptIn processes a transcript_event forwarded by a client
// that runs its own STT. Only final events participate in diarization and
// chunking.
func (o *owner) handleTranscriptIn(ctx context.Context, event domain.TranscriptEvent) {
	o.nextSeq++
	event.SessionID = o.session.SessionID
	event.ConversationID = o.session.ConversationID
	event.SequenceNumber = o.nextSeq
	event.ReceivedAt = o.now()
	if event.EventID == "" {
		event.EventID = domain.NewID()
	}

	if err := o.store.AppendTranscriptEvent(ctx, event); err != nil {
		o.publishWarning("persist", fmt.Sprintf("failed to persist transcript event: %v", err))
	}

	evtType := hub.EventTranscriptPartial
	if event.Kind == domain.EventFinal {
		evtType = hub.EventTranscriptFinal
	}
	o.hub.Publish(evtType, hub.TranscriptPayload{
		EventID:           event.EventID,
		Text:              event.Text,
		SpeakerID:         event.SpeakerID,
		SpeakerConfidence: event.SpeakerConfidence,
		TStartMs:          event.SegmentStartMs,
		TEndMs:            event.SegmentEndMs,
	})

	if event.Kind != domain.EventFinal {
		return
	}
	o.reconciler.Track(event)
	if chunk := o.accumulator.AddFinal(event.EventID, event.SpeakerID, event.Text); chunk != nil {
		o.builder.Submit(ctx, *chunk)
	}
}

func (o *owner) applyRevision(ctx context.Context, rev diarize.Revision) {
	update := domain.SpeakerUpdate{
		EventID:            rev.EventID,
		SessionID:          o.session.SessionID,
		NewSpeakerID:       rev.SpeakerID,
		NewConfidence:      rev.Confidence,
		DiarizationVersion: rev.DiarizationVersion,
		Reason:             rev.Reason,
		CreatedAt:          o.now(),
	}
	if err := o.store.AppendSpeakerUpdate(ctx, update); err != nil {
		o.publishWarning("persist", fmt.Sprintf("failed to persist speaker update: %v", err))
	}
	o.hub.Publish(hub.EventSpeakerUpdate, hub.SpeakerUpdatePayload{
		EventID:            rev.EventID,
		SpeakerID:          rev.SpeakerID,
		Confidence:         rev.Confidence,
		DiarizationVersion: rev.DiarizationVersion,
	})
}

func (o *owner) pollIdle(ctx context.Context) {
	if chunk := o.accumulator.PollIdle(); chunk != nil {
		o.builder.Submit(ctx, *chunk)
	}
}

// handleClose implements the DRAINING→CLOSED transition: flush whatever
// audio and buffered text remain, abort an in-flight LLM call that has
// already run past cancelGrace (a younger one is left to finish), then wait
// up to drainTimeout for the graph builder to settle before detaching it.
func (o *owner) handleClose(ctx context.Context, reason string) {
	o.logger.Info("session: closing", "session_id", o.session.SessionID, "reason", reason)

	if res, err := o.driver.Flush(ctx); err == nil && res != nil {
		o.emitTranscript(ctx, res)
	}
	if chunk := o.accumulator.Flush(); chunk != nil {
		o.builder.Submit(ctx, *chunk)
	}
	o.reconciler.Close()

	if o.builder.CancelIfStale(o.cancelGrace) {
		o.logger.Info("session: aborted stale in-flight llm call on close", "session_id", o.session.SessionID)
	}

	done := make(chan struct{})
	go func() {
		o.builder.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(o.drainTimeout):
		o.logger.Warn("session: drain timeout exceeded, detaching in-flight graph work", "session_id", o.session.SessionID)
	}

	o.hub.Close()
}

func (o *owner) publishWarning(stage, message string) {
	o.hub.Publish(hub.EventProcessingStatus, hub.ProcessingStatusPayload{
		Level:   hub.LevelWarning,
		Message: message,
		Context: map[string]string{"stage": stage},
	})
}
