// Package ingress implements the two adapters that feed audio and
// transcript events into a session — the live WebSocket
// (`/ws/transcripts`) and the file-upload SSE endpoint
// (`/api/import/process-file`).
package ingress

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/anantham/live-conversational-threads-sub000/internal/domain"
	"github.com/anantham/live-conversational-threads-sub000/internal/hub"
	"github.com/anantham/live-conversational-threads-sub000/internal/session"
)

// wsReadTimeout bounds how long the handler waits for the first
// session_meta frame before closing the connection as a protocol error.
const wsReadTimeout = 10 * time.Second

// inboundMessage is the tagged-union shape of every inbound WS text frame:
// session_meta, transcript_event, flush, close. Binary frames carry raw
// PCM and are handled separately from JSON decoding.
type inboundMessage struct {
	Type string `json:"type"`

	// session_meta fields
	ConversationID string            `json:"conversation_id"`
	SpeakerDefault string            `json:"speaker_default"`
	StoreAudio     bool              `json:"store_audio"`
	STTOverride    map[string]string `json:"stt_config_override"`
	LLMOverride    map[string]string `json:"llm_config_override"`

	// transcript_event fields (alternate client-runs-STT mode)
	EventID   string `json:"event_id"`
	Kind      string `json:"kind"`
	Text      string `json:"text"`
	SpeakerID string `json:"speaker_id"`
}

// outboundMessage is the JSON wire shape published to a WebSocket client,
// matching the hub event envelope plus its type-specific payload.
type outboundMessage struct {
	SessionID      string `json:"session_id"`
	SequenceNumber int64  `json:"sequence_number"`
	Type           string `json:"event_type"`
	Payload        any    `json:"payload"`
}

// WSHandler serves the live transcript WebSocket endpoint.
type WSHandler struct {
	registry  *session.Registry
	authToken string
	logger    *slog.Logger
}

// NewWSHandler constructs a WSHandler. authToken, when non-empty, must
// match the bearer token presented on upgrade.
func NewWSHandler(registry *session.Registry, authToken string, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{registry: registry, authToken: authToken, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !checkBearer(r, h.authToken) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local/dev CORS posture; production fronts this with a TLS-terminating proxy
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "handler exit")

	ctx := r.Context()
	handle, err := h.awaitSessionMeta(ctx, conn)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "protocol error: expected session_meta first")
		return
	}
	defer h.registry.Remove(handle.SessionID())
	defer handle.Close("connection closed")

	sub := handle.Subscribe()
	defer sub.Unsubscribe()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, conn, sub)
	}()

	h.readLoop(ctx, conn, handle)
	conn.Close(websocket.StatusNormalClosure, "session closed")
	<-writerDone
}

// awaitSessionMeta blocks for the first inbound frame and requires it to
// be a well-formed session_meta.
func (h *WSHandler) awaitSessionMeta(ctx context.Context, conn *websocket.Conn) (*session.Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, wsReadTimeout)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	if err != nil {
		return nil, domain.ErrProtocol
	}
	if typ != websocket.MessageText {
		return nil, domain.ErrProtocol
	}

	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "session_meta" {
		return nil, domain.ErrProtocol
	}

	meta := domain.SessionMeta{
		ConversationID: msg.ConversationID,
		SpeakerDefault: msg.SpeakerDefault,
		StoreAudio:     msg.StoreAudio,
		STTOverride:    msg.STTOverride,
		LLMOverride:    msg.LLMOverride,
	}
	return h.registry.Create(ctx, meta, true)
}

// readLoop dispatches every subsequent inbound frame to the session handle
// until the connection closes or a `close` control message arrives.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, handle *session.Handle) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		switch typ {
		case websocket.MessageBinary:
			if err := handle.PushAudio(data, time.Now()); err != nil {
				h.logger.Warn("ingress: push audio", "session_id", handle.SessionID(), "error", err)
			}

		case websocket.MessageText:
			var msg inboundMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			switch msg.Type {
			case "transcript_event":
				event := domain.TranscriptEvent{
					EventID:   msg.EventID,
					Kind:      domain.EventKind(msg.Kind),
					Text:      msg.Text,
					SpeakerID: msg.SpeakerID,
				}
				if err := handle.PushTranscriptEvent(event); err != nil {
					h.logger.Warn("ingress: push transcript event", "session_id", handle.SessionID(), "error", err)
				}
			case "flush":
				_ = handle.Flush()
			case "close":
				return
			}
		}
	}
}

// writeLoop forwards every hub event to the client until the subscriber is
// closed (unsubscribed, or dropped for exceeding its send queue).
func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *hub.Subscriber) {
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			out := outboundMessage{
				SessionID:      evt.SessionID,
				SequenceNumber: evt.SequenceNumber,
				Type:           string(evt.Type),
				Payload:        evt.Payload,
			}
			data, err := json.Marshal(out)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// checkBearer validates the Authorization header against token. When token
// is empty, auth is disabled.
func checkBearer(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	return len(auth) > len(prefix) && auth[:len(prefix)] == prefix && auth[len(prefix):] == token
}
