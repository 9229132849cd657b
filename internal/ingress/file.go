package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
	"github.com/anantham/live-conversational-threads-sub000/internal/hub"
	"github.com/anantham/live-conversational-threads-sub000/internal/session"
	"github.com/anantham/live-conversational-threads-sub000/internal/store"
	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/stt"
)

// FileHandler serves the file-upload import endpoint
// (`POST /api/import/process-file`), running the uploaded content through
// the same accumulator → LLM → hub pipeline as a live session and streaming
// the result back as Server-Sent Events.
type FileHandler struct {
	registry     *session.Registry
	store        store.Store
	sttProvider  stt.Provider
	authToken    string
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewFileHandler constructs a FileHandler. sttProvider is used in one-shot
// mode (a single POST per upload, no VAD) for audio source types.
func NewFileHandler(registry *session.Registry, st store.Store, sttProvider stt.Provider, authToken string, maxBodyBytes int64, logger *slog.Logger) *FileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileHandler{
		registry:     registry,
		store:        st,
		sttProvider:  sttProvider,
		authToken:    authToken,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

func (h *FileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !checkBearer(r, h.authToken) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := r.ParseMultipartForm(h.maxBodyBytes); err != nil {
		http.Error(w, "request entity too large", http.StatusRequestEntityTooLarge)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}

	sourceType := r.FormValue("source_type")
	if sourceType == "" || sourceType == "auto" {
		sourceType = detectSourceType(header.Filename)
	}

	cues, err := h.cuesFor(r.Context(), sourceType, data, r.FormValue("speaker_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	ctx := r.Context()
	handle, err := h.registry.Create(ctx, domain.SessionMeta{
		ConversationID: r.FormValue("conversation_id"),
		SpeakerDefault: r.FormValue("speaker_id"),
	}, false)
	if err != nil {
		writeSSE(w, flusher, hub.Event{Type: hub.EventProcessingStatus, Payload: hub.ProcessingStatusPayload{Level: hub.LevelError, Message: err.Error()}})
		return
	}
	conversationID := handle.ConversationID()

	sub := handle.Subscribe()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for evt := range sub.Events() {
			writeSSE(w, flusher, evt)
		}
	}()

	handle.Publish(hub.EventProcessingStatus, hub.ProcessingStatusPayload{
		Level:   hub.LevelInfo,
		Message: "upload received",
		Context: map[string]string{"stage": "upload"},
	})
	handle.Publish(hub.EventProcessingStatus, hub.ProcessingStatusPayload{
		Level:   hub.LevelInfo,
		Message: fmt.Sprintf("parsed %d chunks", len(cues)),
		Context: map[string]string{"stage": "analyze", "chunks_total": fmt.Sprintf("%d", len(cues))},
	})

	for _, c := range cues {
		if ctx.Err() != nil {
			break
		}
		event := domain.TranscriptEvent{
			Kind:      domain.EventFinal,
			Text:      c.Text,
			SpeakerID: c.SpeakerID,
		}
		if err := handle.PushTranscriptEvent(event); err != nil {
			h.logger.Warn("ingress: push transcript event during import", "error", err)
		}
	}

	handle.Close("import complete")
	h.registry.Remove(handle.SessionID())
	<-writerDone

	nodeCount := 0
	if nodes, err := h.store.ListNodes(ctx, conversationID); err == nil {
		nodeCount = len(nodes)
	}
	writeSSE(w, flusher, hub.Event{Type: hub.EventDone, Payload: hub.DonePayload{ConversationID: conversationID, NodeCount: nodeCount}})
}

// cuesFor transcribes or parses data according to sourceType.
func (h *FileHandler) cuesFor(ctx context.Context, sourceType string, data []byte, defaultSpeaker string) ([]cue, error) {
	switch sourceType {
	case "vtt":
		return parseVTT(data), nil
	case "srt":
		return parseSRT(data), nil
	case "google_meet":
		return parsePlainText(data), nil
	case "text":
		return parsePlainText(data), nil
	case "audio":
		return h.transcribeAudio(ctx, data, defaultSpeaker)
	default:
		return nil, fmt.Errorf("ingress: unsupported source_type %q", sourceType)
	}
}

// transcribeAudio runs the uploaded file through the STT provider in a
// single one-shot request: no VAD, one POST for the whole upload.
func (h *FileHandler) transcribeAudio(ctx context.Context, data []byte, defaultSpeaker string) ([]cue, error) {
	result, err := h.sttProvider.Transcribe(ctx, stt.TranscribeRequest{WAV: data})
	if err != nil {
		return nil, fmt.Errorf("ingress: transcribe upload: %w", err)
	}
	if len(result.Segments) == 0 {
		if result.Text == "" {
			return nil, nil
		}
		return []cue{{SpeakerID: defaultSpeaker, Text: result.Text}}, nil
	}
	cues := make([]cue, 0, len(result.Segments))
	for _, s := range result.Segments {
		speaker := s.SpeakerID
		if speaker == "" {
			speaker = defaultSpeaker
		}
		cues = append(cues, cue{SpeakerID: speaker, Text: s.Text})
	}
	return cues, nil
}

// writeSSE writes one `data: <json>\n\n` frame carrying the same envelope
// shape as an outbound WebSocket message, so clients can share one decoder
// across both ingress adapters.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, evt hub.Event) {
	out := outboundMessage{
		SessionID:      evt.SessionID,
		SequenceNumber: evt.SequenceNumber,
		Type:           string(evt.Type),
		Payload:        evt.Payload,
	}
	data, err := json.Marshal(out)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	if flusher != nil {
		flusher.Flush()
	}
}
