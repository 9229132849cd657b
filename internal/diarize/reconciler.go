// Package diarize implements the diarization reconciler that late-binds
// speaker labels to transcript events within a bounded reconciliation
// window.
//
// A [Reconciler] is owned by exactly one session's owner goroutine; none of
// its methods are safe to call concurrently from multiple goroutines, the
// same ownership discipline as every other per-session component.
package diarize

import (
	"time"

	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
)

// windowed is one TranscriptEvent held in the alignment window along with
// its current diarization version, so a later overlap can bump it.
type windowed struct {
	event   domain.TranscriptEvent
	version int
}

// Revision is an assignment or re-assignment the Reconciler wants published
// as a [domain.SpeakerUpdate] and a hub `speaker_update` event.
type Revision struct {
	EventID            string
	SpeakerID          string
	Confidence         float64
	DiarizationVersion int
	Reason             domain.SpeakerUpdateReason
}

// Reconciler maintains the sliding alignment window that late-binds speaker
// labels to already-emitted transcript events.
type Reconciler struct {
	window          time.Duration
	overlapThresh   float64
	now             func() time.Time
	events          []windowed // ordered by ReceivedAt ascending
	closed          bool
}

// New constructs a Reconciler with the given reconciliation window and
// overlap-assignment threshold.
func New(window time.Duration, overlapThreshold float64) *Reconciler {
	return &Reconciler{
		window:        window,
		overlapThresh: overlapThreshold,
		now:           time.Now,
	}
}

// Track adds e to the alignment window so that subsequent diarized segments
// can assign or revise its speaker. Callers should call Track immediately
// after a transcript_final event is produced (partial events do not
// participate in diarization).
func (r *Reconciler) Track(e domain.TranscriptEvent) {
	if r.closed {
		return
	}
	r.evict()
	version := e.DiarizationVersion
	if version == 0 && e.SpeakerID != "" {
		// An event that arrives already labelled counts as version 1, so its
		// first correction is published as version 2.
		version = 1
	}
	r.events = append(r.events, windowed{event: e, version: version})
}

// Reconcile applies diarized segments (from one STT flush result) against
// every event still in the window, returning the set of Revisions to
// publish: for each windowed event, find the segment with the largest time
// overlap; if the overlap ratio exceeds the assignment threshold and the result differs
// from the event's current speaker, emit a revision with a bumped
// DiarizationVersion.
func (r *Reconciler) Reconcile(segments []domain.SpeakerSegment) []Revision {
	if r.closed {
		return nil
	}
	r.evict()

	var revisions []Revision
	for i := range r.events {
		w := &r.events[i]
		seg, ratio, ok := bestOverlap(w.event, segments)
		if !ok || ratio <= r.overlapThresh || seg.SpeakerID == "" {
			continue
		}

		currentSpeaker := w.event.SpeakerID
		if currentSpeaker == seg.SpeakerID {
			continue
		}

		w.version++
		w.event.SpeakerID = seg.SpeakerID
		w.event.DiarizationVersion = w.version

		reason := domain.ReasonOverlapRefined
		if currentSpeaker == "" {
			reason = domain.ReasonInitial
		}

		revisions = append(revisions, Revision{
			EventID:            w.event.EventID,
			SpeakerID:          seg.SpeakerID,
			Confidence:         overlapConfidence(ratio),
			DiarizationVersion: w.version,
			Reason:             reason,
		})
	}
	return revisions
}

// Close stops the reconciler from accepting new segments and evicts its
// window without emitting further updates.
func (r *Reconciler) Close() {
	r.closed = true
	r.events = nil
}

// evict drops events whose ReceivedAt is older than the reconciliation
// window from now; no further revisions may be emitted for them.
func (r *Reconciler) evict() {
	cutoff := r.now().Add(-r.window)
	i := 0
	for _, w := range r.events {
		if w.event.ReceivedAt.After(cutoff) {
			r.events[i] = w
			i++
		}
	}
	r.events = r.events[:i]
}

// bestOverlap returns the segment with the largest overlap ratio against
// e's [SegmentStartMs, SegmentEndMs] span.
func bestOverlap(e domain.TranscriptEvent, segments []domain.SpeakerSegment) (domain.SpeakerSegment, float64, bool) {
	var best domain.SpeakerSegment
	bestRatio := 0.0
	found := false

	eventSpan := e.SegmentEndMs - e.SegmentStartMs
	if eventSpan <= 0 {
		return best, 0, false
	}

	for _, s := range segments {
		overlapStart := max64(e.SegmentStartMs, s.StartMs)
		overlapEnd := min64(e.SegmentEndMs, s.EndMs)
		overlap := overlapEnd - overlapStart
		if overlap <= 0 {
			continue
		}
		ratio := float64(overlap) / float64(eventSpan)
		if ratio > bestRatio {
			bestRatio = ratio
			best = s
			found = true
		}
	}
	return best, bestRatio, found
}

// overlapConfidence maps an overlap ratio to a [0,1] confidence score. A
// perfect overlap (ratio 1.0) yields confidence 1.0; confidence scales
// linearly below that.
func overlapConfidence(ratio float64) float64 {
	if ratio > 1 {
		return 1
	}
	return ratio
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
