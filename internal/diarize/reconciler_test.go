package diarize

import (
	"testing"
	"time"

	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
)

func TestReconcile_AssignsOnSufficientOverlap(t *testing.T) {
	r := New(2*time.Second, 0.3)
	now := time.Now()
	r.now = func() time.Time { return now }

	e := domain.TranscriptEvent{
		EventID:        "e1",
		SegmentStartMs: 0,
		SegmentEndMs:   3000,
		ReceivedAt:     now,
	}
	r.Track(e)

	revs := r.Reconcile([]domain.SpeakerSegment{
		{StartMs: 0, EndMs: 3000, SpeakerID: "SPEAKER_00"},
	})

	if len(revs) != 1 {
		t.Fatalf("expected 1 revision, got %d", len(revs))
	}
	if revs[0].SpeakerID != "SPEAKER_00" || revs[0].DiarizationVersion != 1 {
		t.Fatalf("unexpected revision: %+v", revs[0])
	}
	if revs[0].Reason != domain.ReasonInitial {
		t.Fatalf("expected initial reason, got %s", revs[0].Reason)
	}
}

func TestReconcile_NoRevisionBelowThreshold(t *testing.T) {
	r := New(2*time.Second, 0.5)
	now := time.Now()
	r.now = func() time.Time { return now }

	r.Track(domain.TranscriptEvent{EventID: "e1", SegmentStartMs: 0, SegmentEndMs: 1000, ReceivedAt: now})

	// Only 200ms of 1000ms overlaps -> ratio 0.2 < 0.5 threshold.
	revs := r.Reconcile([]domain.SpeakerSegment{{StartMs: 800, EndMs: 2000, SpeakerID: "SPEAKER_00"}})
	if len(revs) != 0 {
		t.Fatalf("expected no revisions, got %d", len(revs))
	}
}

func TestReconcile_LateBindingCorrection(t *testing.T) {
	r := New(2*time.Second, 0.3)
	base := time.Now()
	clock := base
	r.now = func() time.Time { return clock }

	e := domain.TranscriptEvent{
		EventID:        "e1",
		SegmentStartMs: 0,
		SegmentEndMs:   3000,
		SpeakerID:      "SPEAKER_00",
		ReceivedAt:     base,
	}
	r.Track(e)

	clock = base.Add(1200 * time.Millisecond)
	revs := r.Reconcile([]domain.SpeakerSegment{
		{StartMs: 0, EndMs: 3000, SpeakerID: "SPEAKER_01"},
	})

	if len(revs) != 1 {
		t.Fatalf("expected 1 revision, got %d", len(revs))
	}
	if revs[0].SpeakerID != "SPEAKER_01" || revs[0].DiarizationVersion != 2 {
		t.Fatalf("unexpected revision: %+v", revs[0])
	}
	if revs[0].Reason != domain.ReasonOverlapRefined {
		t.Fatalf("expected overlap_refined reason, got %s", revs[0].Reason)
	}
}

func TestReconcile_EvictsAfterWindow(t *testing.T) {
	r := New(2*time.Second, 0.3)
	base := time.Now()
	clock := base
	r.now = func() time.Time { return clock }

	r.Track(domain.TranscriptEvent{EventID: "e1", SegmentStartMs: 0, SegmentEndMs: 3000, ReceivedAt: base})

	clock = base.Add(3 * time.Second)
	revs := r.Reconcile([]domain.SpeakerSegment{{StartMs: 0, EndMs: 3000, SpeakerID: "SPEAKER_01"}})
	if len(revs) != 0 {
		t.Fatalf("expected no revisions for an evicted event, got %d", len(revs))
	}
}

func TestReconciler_CloseStopsRevisions(t *testing.T) {
	r := New(2*time.Second, 0.3)
	now := time.Now()
	r.now = func() time.Time { return now }

	r.Track(domain.TranscriptEvent{EventID: "e1", SegmentStartMs: 0, SegmentEndMs: 1000, ReceivedAt: now})
	r.Close()

	revs := r.Reconcile([]domain.SpeakerSegment{{StartMs: 0, EndMs: 1000, SpeakerID: "SPEAKER_00"}})
	if len(revs) != 0 {
		t.Fatalf("expected no revisions after close, got %d", len(revs))
	}
}
