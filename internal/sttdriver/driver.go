// Package sttdriver buffers PCM frames,
// decides flush boundaries (VAD or fixed interval), and drives an external
// STT provider over a pooled connection.
//
// A Driver is owned by exactly one session's owner goroutine; PushAudio and
// Flush must not be called concurrently.
package sttdriver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
	"github.com/anantham/live-conversational-threads-sub000/internal/limiter"
	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/stt"
)

// Config mirrors [config.STTConfig]/[domain.STTSessionConfig]'s flush
// policy knobs for the duration of one session.
type Config struct {
	Model    string
	Language string
	Diarize  bool

	VADEnabled    bool
	VADMinSeconds float64
	VADMaxSeconds float64
	VADSilenceMs  int

	FixedIntervalSec float64
	Timeout          time.Duration
}

// Result is one flush's transcription, ready for the diarization
// reconciler and accumulator.
type Result struct {
	Text            string
	Segments        []domain.SpeakerSegment
	ProviderLatency time.Duration
	SegmentStartMs  int64
	SegmentEndMs    int64
}

// Driver buffers audio and drives the provider's flush policy.
type Driver struct {
	cfg       Config
	provider  stt.Provider
	limiter   *limiter.Limiter
	sessionID string
	logger    *slog.Logger

	buf         *ringBuffer
	lastFlushAt time.Time
}

// New constructs a Driver for one session.
func New(sessionID string, cfg Config, provider stt.Provider, lim *limiter.Limiter, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	maxSeconds := cfg.VADMaxSeconds
	if !cfg.VADEnabled || maxSeconds <= 0 {
		maxSeconds = 2.0 // backpressure bound: 2 seconds of audio.
	}
	return &Driver{
		cfg:       cfg,
		provider:  provider,
		limiter:   lim,
		sessionID: sessionID,
		logger:    logger,
		buf:       newRingBuffer(maxSeconds),
	}
}

// PushAudio appends a PCM frame to the buffer and, if a flush boundary is
// reached, transcribes the buffered audio and returns the result. Returns
// (nil, nil, false) when no flush boundary was reached yet.
//
// Transport errors (network, timeout, non-2xx) are recoverable:
// the buffer is discarded and (nil, err, true) is returned so the caller
// can publish a processing_status{level:warning, stage:transcribe} and
// continue the pipeline.
func (d *Driver) PushAudio(ctx context.Context, data []byte, at time.Time) (res *Result, err error, flushed bool) {
	if dropped := d.buf.Push(data, at); dropped {
		d.logger.Warn("sttdriver: audio backpressure overflow, dropped oldest frame", "session_id", d.sessionID)
	}

	if !d.shouldFlush(at) {
		return nil, nil, false
	}
	res, err = d.flush(ctx)
	return res, err, true
}

// Flush forces transcription of whatever is buffered, used on session close
// and on an explicit client `flush` message.
func (d *Driver) Flush(ctx context.Context) (*Result, error) {
	if d.buf.Empty() {
		return nil, nil
	}
	return d.flush(ctx)
}

// shouldFlush implements the flush policy: VAD-based trailing-silence
// detection bounded by vad_max_seconds, or a fixed interval when VAD is
// disabled.
func (d *Driver) shouldFlush(now time.Time) bool {
	if d.buf.Empty() {
		return false
	}

	if !d.cfg.VADEnabled {
		interval := d.cfg.FixedIntervalSec
		if interval <= 0 {
			interval = 1.2
		}
		return d.buf.Seconds() >= interval
	}

	if d.buf.Seconds() >= d.cfg.VADMaxSeconds {
		return true // force-flush regardless of trailing silence
	}
	if d.buf.Seconds() < d.cfg.VADMinSeconds {
		return false
	}
	return d.buf.TrailingSilenceMs() >= int64(d.cfg.VADSilenceMs)
}

// flush drains the buffer, POSTs it to the provider under the global
// outbound-HTTP semaphore, and parses the result. The buffer is always
// cleared by Drain before the call so a transport failure cannot cause
// unbounded growth.
func (d *Driver) flush(ctx context.Context) (*Result, error) {
	pcm, startMs, endMs := d.buf.Drain()
	if len(pcm) == 0 {
		return nil, nil
	}

	release, err := d.limiter.AcquireHTTPOut(ctx)
	if err != nil {
		return nil, fmt.Errorf("sttdriver: acquire http-out slot: %w", err)
	}
	defer release()

	callCtx := ctx
	var cancel context.CancelFunc
	if d.cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	result, err := d.provider.Transcribe(callCtx, stt.TranscribeRequest{
		WAV:      encodeWAV(pcm),
		Model:    d.cfg.Model,
		Language: d.cfg.Language,
		Diarize:  d.cfg.Diarize,
	})
	if err != nil {
		return nil, fmt.Errorf("sttdriver: transcribe: %w", err)
	}

	if result.Text == "" && len(result.Segments) == 0 {
		// An STT provider returning empty text is a no-op: no event recorded.
		return nil, nil
	}

	segments := make([]domain.SpeakerSegment, len(result.Segments))
	for i, s := range result.Segments {
		segments[i] = domain.SpeakerSegment{
			StartMs:   s.StartMs,
			EndMs:     s.EndMs,
			Text:      s.Text,
			SpeakerID: s.SpeakerID,
		}
	}

	return &Result{
		Text:            result.Text,
		Segments:        segments,
		ProviderLatency: result.ProviderLatency,
		SegmentStartMs:  startMs,
		SegmentEndMs:    endMs,
	}, nil
}
