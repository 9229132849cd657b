// Package accumulator implements the transcript accumulator
// that segments the append-only stream of finalized transcript events into
// LLM-sized processing chunks.
//
// An [Accumulator] is owned by exactly one session's owner goroutine.
package accumulator

import (
	"strings"
	"time"

	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
)

// entry is one buffered (event_id, speaker_id, text) tuple awaiting
// chunking.
type entry struct {
	eventID   string
	speakerID string
	text      string
	words     int
}

// Config carries the sliding-window chunk-emission knobs.
type Config struct {
	TargetWords  int
	OverlapWords int
	IdleTimeout  time.Duration
}

// Accumulator buffers finalized transcript text and emits [domain.Chunk]s
// by a sliding-window rule: word count over TargetWords plus a sentence
// terminator, or IdleTimeout elapsed with any buffered text.
type Accumulator struct {
	cfg Config

	sessionID      string
	conversationID string

	buf        []entry
	nextSeq    int64
	lastActive time.Time
	now        func() time.Time
}

// New constructs an Accumulator for one session.
func New(sessionID, conversationID string, cfg Config) *Accumulator {
	return &Accumulator{
		cfg:            cfg,
		sessionID:      sessionID,
		conversationID: conversationID,
		now:            time.Now,
	}
}

// AddFinal appends a finalized transcript event's text to the buffer and
// returns a chunk if the word/punctuation emission rule fires. speakerID
// may be empty (invariant: chunk lines fall back to plain text when no
// buffered event carries a speaker).
func (a *Accumulator) AddFinal(eventID, speakerID, text string) *domain.Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	a.buf = append(a.buf, entry{
		eventID:   eventID,
		speakerID: speakerID,
		text:      text,
		words:     wordCount(text),
	})
	a.lastActive = a.now()

	if a.wordTotal() > a.cfg.TargetWords && endsSentence(text) {
		return a.emit()
	}
	return nil
}

// PollIdle returns a chunk if the idle timeout has elapsed since the last
// buffered text and the buffer is non-empty.
// Callers invoke this from the session owner's timer tick.
func (a *Accumulator) PollIdle() *domain.Chunk {
	if len(a.buf) == 0 {
		return nil
	}
	if a.now().Sub(a.lastActive) < a.cfg.IdleTimeout {
		return nil
	}
	return a.emit()
}

// Flush force-emits whatever is buffered, used on session close so no
// trailing text is lost.
func (a *Accumulator) Flush() *domain.Chunk {
	if len(a.buf) == 0 {
		return nil
	}
	return a.emit()
}

// emit builds a Chunk from the current buffer, formats its text 
// (speaker-prefixed lines only when any buffered entry has a speaker), and
// retains the trailing OverlapWords words of context for the next chunk.
func (a *Accumulator) emit() *domain.Chunk {
	hasSpeaker := false
	for _, e := range a.buf {
		if e.speakerID != "" {
			hasSpeaker = true
			break
		}
	}

	var lines []string
	var eventIDs []string
	var speakerSegments []domain.ChunkSpeakerLine
	for _, e := range a.buf {
		if hasSpeaker {
			lines = append(lines, "["+e.speakerID+"]: "+e.text)
		} else {
			lines = append(lines, e.text)
		}
		eventIDs = append(eventIDs, e.eventID)
		speakerSegments = append(speakerSegments, domain.ChunkSpeakerLine{SpeakerID: e.speakerID, Text: e.text})
	}

	a.nextSeq++
	chunk := &domain.Chunk{
		ChunkID:         domain.ChunkID(a.nextSeq),
		SessionID:       a.sessionID,
		ConversationID:  a.conversationID,
		Text:            strings.Join(lines, "\n"),
		EventIDs:        eventIDs,
		SpeakerSegments: speakerSegments,
		SequenceNumber:  a.nextSeq,
		CreatedAt:       a.now(),
	}

	a.buf = retainOverlap(a.buf, a.cfg.OverlapWords)
	return chunk
}

// retainOverlap keeps the trailing entries whose combined word count is at
// most overlapWords, discarding everything before them.
func retainOverlap(buf []entry, overlapWords int) []entry {
	if overlapWords <= 0 || len(buf) == 0 {
		return nil
	}
	total := 0
	start := len(buf)
	for i := len(buf) - 1; i >= 0; i-- {
		total += buf[i].words
		if total > overlapWords {
			break
		}
		start = i
	}
	if start == len(buf) {
		return nil
	}
	kept := make([]entry, len(buf)-start)
	copy(kept, buf[start:])
	return kept
}

func (a *Accumulator) wordTotal() int {
	total := 0
	for _, e := range a.buf {
		total += e.words
	}
	return total
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// endsSentence reports whether s ends with sentence-terminal punctuation,
// ignoring trailing whitespace/quotes.
func endsSentence(s string) bool {
	s = strings.TrimRight(s, " \t\n\"')]")
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return true
	default:
		return false
	}
}
