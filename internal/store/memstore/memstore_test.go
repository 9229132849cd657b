package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
	"github.com/anantham/live-conversational-threads-sub000/internal/store/memstore"
)

func TestAppendTranscriptEvent_RejectsOutOfOrderSequence(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	sessionID := "s1"

	e1 := domain.TranscriptEvent{EventID: "e1", SessionID: sessionID, SequenceNumber: 1, ReceivedAt: time.Now()}
	if err := s.AppendTranscriptEvent(ctx, e1); err != nil {
		t.Fatalf("append seq 1: %v", err)
	}

	e2 := domain.TranscriptEvent{EventID: "e2", SessionID: sessionID, SequenceNumber: 1, ReceivedAt: time.Now()}
	if err := s.AppendTranscriptEvent(ctx, e2); err == nil {
		t.Fatal("expected repeated sequence number to be rejected")
	}

	e3 := domain.TranscriptEvent{EventID: "e3", SessionID: sessionID, SequenceNumber: 2, ReceivedAt: time.Now()}
	if err := s.AppendTranscriptEvent(ctx, e3); err != nil {
		t.Fatalf("append seq 2: %v", err)
	}
}

func TestLoadSessionTail_FiltersBySequence(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	sessionID := "s1"

	for i := int64(1); i <= 3; i++ {
		e := domain.TranscriptEvent{EventID: domain.NewID(), SessionID: sessionID, SequenceNumber: i, ReceivedAt: time.Now()}
		if err := s.AppendTranscriptEvent(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, _, err := s.LoadSessionTail(ctx, sessionID, 1)
	if err != nil {
		t.Fatalf("LoadSessionTail: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	for _, e := range events {
		if e.SequenceNumber <= 1 {
			t.Errorf("event with sequence %d should have been filtered", e.SequenceNumber)
		}
	}
}

func TestCurrentSpeaker_FallsBackWhenNoUpdate(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	speaker, _, version, err := s.CurrentSpeaker(ctx, "missing-event", "default-speaker")
	if err != nil {
		t.Fatalf("CurrentSpeaker: %v", err)
	}
	if speaker != "default-speaker" || version != 0 {
		t.Errorf("got (%q, %d), want (default-speaker, 0)", speaker, version)
	}
}

func TestCurrentSpeaker_PrefersHighestVersion(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	_ = s.AppendSpeakerUpdate(ctx, domain.SpeakerUpdate{EventID: "e1", NewSpeakerID: "A", DiarizationVersion: 1})
	_ = s.AppendSpeakerUpdate(ctx, domain.SpeakerUpdate{EventID: "e1", NewSpeakerID: "B", DiarizationVersion: 2})

	speaker, _, version, err := s.CurrentSpeaker(ctx, "e1", "fallback")
	if err != nil {
		t.Fatalf("CurrentSpeaker: %v", err)
	}
	if speaker != "B" || version != 2 {
		t.Errorf("got (%q, %d), want (B, 2)", speaker, version)
	}
}

func TestUpsertNode_PreservesCreatedAtAcrossUpdate(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	n := domain.Node{ConversationID: "c1", NodeName: "intro", Summary: "v1", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.UpsertNode(ctx, n); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	first, err := s.GetNode(ctx, "c1", "intro")
	if err != nil || first == nil {
		t.Fatalf("GetNode: %v", err)
	}

	n2 := n
	n2.Summary = "v2"
	n2.CreatedAt = time.Now().Add(time.Hour) // should be ignored
	if err := s.UpsertNode(ctx, n2); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	second, err := s.GetNode(ctx, "c1", "intro")
	if err != nil || second == nil {
		t.Fatalf("GetNode: %v", err)
	}

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if second.Summary != "v2" {
		t.Errorf("Summary = %q, want v2", second.Summary)
	}
	if second.NodeID != first.NodeID {
		t.Errorf("NodeID changed across upsert")
	}
}

func TestEnsureConversation_IsIdempotent(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	c1, err := s.EnsureConversation(ctx, domain.Conversation{ConversationID: "conv-1", SourceType: "live"})
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	c2, err := s.EnsureConversation(ctx, domain.Conversation{ConversationID: "conv-1", SourceType: "different"})
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if c2.SourceType != c1.SourceType {
		t.Errorf("second ensure overwrote existing conversation: %q != %q", c2.SourceType, c1.SourceType)
	}
}
