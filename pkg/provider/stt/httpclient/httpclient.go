// Package httpclient implements [stt.Provider] against an STT backend's
// `POST` contract: a multipart upload that returns JSON in one of three
// tolerated shapes. A single client intentionally accepts all three rather
// than requiring the operator to pin a provider-specific schema:
//
//	A: {"segments":[{"start","end","text","speaker?"}]}
//	B: {"text","timestamps":[{"start","end","text","speaker?"}],"speakers":[...]}
//	C: {"text"}
//
// [gjson] is used instead of strict struct unmarshalling because the three
// shapes share no common Go type and the provider is free to omit fields
// (e.g. "speaker") per-segment; a tolerant path-based reader avoids three
// near-duplicate struct definitions and the silent zero-value ambiguity a
// single lenient struct would otherwise introduce.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/anantham/live-conversational-threads-sub000/pkg/provider/stt"
)

// Provider implements [stt.Provider] with a pooled *http.Client POSTing
// multipart/form-data to a fixed URL.
type Provider struct {
	url    string
	client *http.Client
}

// New constructs a Provider targeting url. When pooled is true the returned
// *http.Client keeps its default transport (connection reuse / keep-alive);
// when false a fresh transport with no connection reuse is used instead,
// matching the `pool_enabled` per-session knob — sessions that disable
// pooling should not share sockets with sessions that enable it.
func New(url string, pooled bool) *Provider {
	client := &http.Client{}
	if !pooled {
		client.Transport = &http.Transport{DisableKeepAlives: true}
	}
	return &Provider{url: url, client: client}
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, req stt.TranscribeRequest) (*stt.TranscribeResult, error) {
	body, contentType, err := buildMultipart(req)
	if err != nil {
		return nil, fmt.Errorf("httpclient: build request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	started := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("httpclient: transcribe: %w", err)
	}
	defer resp.Body.Close()
	latency := time.Since(started)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("httpclient: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpclient: provider returned %d: %s", resp.StatusCode, truncate(raw, 256))
	}

	result, err := parseResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("httpclient: parse response: %w", err)
	}
	result.ProviderLatency = latency
	return result, nil
}

func buildMultipart(req stt.TranscribeRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fw, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(req.WAV); err != nil {
		return nil, "", err
	}

	if req.Model != "" {
		if err := w.WriteField("model", req.Model); err != nil {
			return nil, "", err
		}
	}
	if req.Language != "" {
		if err := w.WriteField("language", req.Language); err != nil {
			return nil, "", err
		}
	}
	if req.Diarize {
		if err := w.WriteField("diarize", "true"); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// parseResponse tolerantly reads whichever of the known response shapes is
// present. hasSpeaker tracks whether any segment in either shape actually
// carried a "speaker" field: Segments must be nil (not an empty,
// speaker-less slice) when none did.
func parseResponse(raw []byte) (*stt.TranscribeResult, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	doc := gjson.ParseBytes(raw)

	text := doc.Get("text").String()
	if !doc.Get("text").Exists() && !doc.Get("segments").Exists() {
		return nil, fmt.Errorf("response has neither %q nor %q", "text", "segments")
	}

	var segments []stt.Segment
	hasSpeaker := false

	// Shape A: top-level "segments".
	if arr := doc.Get("segments"); arr.IsArray() {
		for _, s := range arr.Array() {
			seg, spoke := segmentFrom(s)
			segments = append(segments, seg)
			hasSpeaker = hasSpeaker || spoke
			if text == "" {
				text += seg.Text
			}
		}
	}

	// Shape B: "timestamps" alongside top-level "text".
	if arr := doc.Get("timestamps"); arr.IsArray() {
		for _, s := range arr.Array() {
			seg, spoke := segmentFrom(s)
			segments = append(segments, seg)
			hasSpeaker = hasSpeaker || spoke
		}
	}

	if !hasSpeaker {
		segments = nil
	}

	return &stt.TranscribeResult{Text: text, Segments: segments}, nil
}

func segmentFrom(s gjson.Result) (stt.Segment, bool) {
	seg := stt.Segment{
		StartMs:   int64(s.Get("start").Float() * 1000),
		EndMs:     int64(s.Get("end").Float() * 1000),
		Text:      s.Get("text").String(),
		SpeakerID: s.Get("speaker").String(),
	}
	return seg, s.Get("speaker").Exists()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
