package sttdriver

import "time"

// sampleRate is the fixed audio format of the session's AudioBuffer:
// 16 kHz, mono, 16-bit PCM.
const sampleRate = 16000

// bytesPerSecond is the byte cost of one second of audio in this format.
const bytesPerSecond = sampleRate * 2

// frame is one inbound PCM frame with its arrival time.
type frame struct {
	data   []byte
	arrived time.Time
}

// ringBuffer is the in-memory AudioBuffer: raw PCM frames scoped to a
// session, with a hard byte cap enforcing the "audio buffer bytes never
// exceed 2 × sample_rate × 2" testable property.
//
// Not safe for concurrent use; owned exclusively by the STT driver's single
// session-owner goroutine.
type ringBuffer struct {
	frames       []frame
	bytes        int
	maxBytes     int
	startedAt    time.Time
	lastVoiceAt  time.Time
}

// newRingBuffer constructs a buffer capped at maxSeconds of audio.
func newRingBuffer(maxSeconds float64) *ringBuffer {
	return &ringBuffer{
		maxBytes: int(maxSeconds * bytesPerSecond),
	}
}

// Push appends data, dropping the oldest frames if the byte cap would be
// exceeded.
// Returns true if a frame was dropped.
func (b *ringBuffer) Push(data []byte, at time.Time) (dropped bool) {
	if b.startedAt.IsZero() {
		b.startedAt = at
	}
	b.frames = append(b.frames, frame{data: data, arrived: at})
	b.bytes += len(data)

	for b.bytes > b.maxBytes && len(b.frames) > 1 {
		oldest := b.frames[0]
		b.frames = b.frames[1:]
		b.bytes -= len(oldest.data)
		dropped = true
	}
	return dropped
}

// Seconds returns the buffered duration given the current byte count.
func (b *ringBuffer) Seconds() float64 {
	return float64(b.bytes) / bytesPerSecond
}

// Bytes returns the current buffered byte count.
func (b *ringBuffer) Bytes() int { return b.bytes }

// Empty reports whether the buffer holds no audio.
func (b *ringBuffer) Empty() bool { return b.bytes == 0 }

// TrailingSilenceMs returns the duration, in milliseconds, of the
// contiguous run of silent frames at the tail of the buffer.
func (b *ringBuffer) TrailingSilenceMs() int64 {
	return trailingSilenceMs(b.frames, frameDurationMs)
}

// frameDurationMs converts a frame's PCM16 mono 16kHz byte length to
// milliseconds of audio.
func frameDurationMs(f frame) int64 {
	samples := len(f.data) / 2
	return int64(samples) * 1000 / sampleRate
}

// Drain concatenates and clears the buffered PCM, returning it along with
// the span's start/end offsets in milliseconds relative to the session
// start established by the first Push.
func (b *ringBuffer) Drain() (pcm []byte, startMs, endMs int64) {
	pcm = make([]byte, 0, b.bytes)
	for _, f := range b.frames {
		pcm = append(pcm, f.data...)
	}
	if len(b.frames) > 0 {
		startMs = b.frames[0].arrived.Sub(b.startedAt).Milliseconds()
		last := b.frames[len(b.frames)-1]
		endMs = last.arrived.Sub(b.startedAt).Milliseconds()
	}
	b.frames = nil
	b.bytes = 0
	return pcm, startMs, endMs
}
