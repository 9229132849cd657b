package sttdriver

import (
	"context"
	"testing"
	"time"

	"github.com/anantham/live-conversational-threads-sub000/internal/limiter"
	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/stt"
	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/stt/mock"
)

func silentPCM(ms int) []byte {
	return make([]byte, ms*sampleRate/1000*2)
}

func loudPCM(ms int) []byte {
	b := make([]byte, ms*sampleRate/1000*2)
	for i := 0; i+1 < len(b); i += 2 {
		b[i] = 0xFF
		b[i+1] = 0x7F // max positive int16 sample, well above silenceThreshold
	}
	return b
}

func TestDriver_FixedIntervalFlush(t *testing.T) {
	provider := &mock.Provider{Results: []mock.Result{{Result: &stt.TranscribeResult{Text: "hello"}}}}
	d := New("sess1", Config{FixedIntervalSec: 1.0}, provider, limiter.New(8, 8), nil)

	now := time.Now()
	res, err, flushed := d.PushAudio(context.Background(), silentPCM(1200), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !flushed {
		t.Fatalf("expected flush once buffer exceeds fixed interval")
	}
	if res == nil || res.Text != "hello" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDriver_VADFlushesOnTrailingSilence(t *testing.T) {
	provider := &mock.Provider{Results: []mock.Result{{Result: &stt.TranscribeResult{Text: "hi"}}}}
	d := New("sess1", Config{
		VADEnabled:    true,
		VADMinSeconds: 0.1,
		VADMaxSeconds: 5.0,
		VADSilenceMs:  300,
	}, provider, limiter.New(8, 8), nil)

	now := time.Now()
	if _, _, flushed := d.PushAudio(context.Background(), loudPCM(200), now); flushed {
		t.Fatalf("should not flush on speech alone")
	}
	res, err, flushed := d.PushAudio(context.Background(), silentPCM(350), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !flushed {
		t.Fatalf("expected flush once trailing silence exceeds vad_silence_ms")
	}
	if res.Text != "hi" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDriver_VADForceFlushesAtMax(t *testing.T) {
	provider := &mock.Provider{Results: []mock.Result{{Result: &stt.TranscribeResult{Text: "forced"}}}}
	d := New("sess1", Config{
		VADEnabled:    true,
		VADMinSeconds: 0.1,
		VADMaxSeconds: 0.5,
		VADSilenceMs:  10000, // unreachable within this test
	}, provider, limiter.New(8, 8), nil)

	now := time.Now()
	_, _, flushed := d.PushAudio(context.Background(), loudPCM(600), now)
	if !flushed {
		t.Fatalf("expected force-flush at vad_max_seconds regardless of silence")
	}
}

func TestDriver_EmptyTextIsNoop(t *testing.T) {
	provider := &mock.Provider{Results: []mock.Result{{Result: &stt.TranscribeResult{Text: ""}}}}
	d := New("sess1", Config{FixedIntervalSec: 1.0}, provider, limiter.New(8, 8), nil)

	res, err, flushed := d.PushAudio(context.Background(), silentPCM(1200), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !flushed {
		t.Fatalf("expected a flush attempt")
	}
	if res != nil {
		t.Fatalf("expected nil result for empty transcription, got %+v", res)
	}
}

func TestDriver_TransportErrorDiscardsBuffer(t *testing.T) {
	provider := &mock.Provider{Results: []mock.Result{{Err: context.DeadlineExceeded}}}
	d := New("sess1", Config{FixedIntervalSec: 1.0}, provider, limiter.New(8, 8), nil)

	_, err, flushed := d.PushAudio(context.Background(), silentPCM(1200), time.Now())
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if !flushed {
		t.Fatalf("expected a flush attempt even on error")
	}
	if !d.buf.Empty() {
		t.Fatalf("expected buffer to be discarded after a transport error")
	}
}

func TestDriver_FlushOnClose(t *testing.T) {
	provider := &mock.Provider{Results: []mock.Result{{Result: &stt.TranscribeResult{Text: "final words"}}}}
	d := New("sess1", Config{FixedIntervalSec: 999}, provider, limiter.New(8, 8), nil)

	d.PushAudio(context.Background(), silentPCM(100), time.Now())
	res, err := d.Flush(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res == nil || res.Text != "final words" {
		t.Fatalf("unexpected result: %+v", res)
	}
}
