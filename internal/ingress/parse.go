package ingress

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"
)

// cue is one parsed line of imported transcript text, optionally
// attributed to a speaker.
type cue struct {
	SpeakerID string
	Text      string
}

// vttTimingLine matches a WebVTT cue timing line, e.g.
// "00:00:01.000 --> 00:00:04.000".
var vttTimingLine = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}[.,]\d{3}\s*-->\s*\d{2}:\d{2}:\d{2}[.,]\d{3}`)

// srtIndexLine matches a bare SRT cue index ("1", "2", ...).
var srtIndexLine = regexp.MustCompile(`^\d+$`)

// speakerPrefix matches a "Speaker Name: text" line as exported by Google
// Meet transcripts; vttVoiceTag matches a VTT voice tag
// ("<v Speaker Name>text").
var speakerPrefix = regexp.MustCompile(`^([^:<>]{1,64}):\s*(.+)$`)
var vttVoiceTag = regexp.MustCompile(`^<v\s+([^>]+)>(.*)$`)

// parseVTT extracts cues from a WebVTT file, skipping the "WEBVTT" header,
// cue indices, and timing lines. A leading "<v Speaker>" voice tag or a
// "Speaker:" text prefix attributes the cue to a speaker.
func parseVTT(data []byte) []cue {
	return parseCueFile(data, true)
}

// parseSRT extracts cues from a SubRip file; same line shapes as VTT minus
// the WEBVTT header, using comma instead of a period as the millisecond
// separator (tolerated by vttTimingLine).
func parseSRT(data []byte) []cue {
	return parseCueFile(data, false)
}

func parseCueFile(data []byte, isVTT bool) []cue {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var cues []cue
	var buf []string

	flush := func() {
		if len(buf) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(buf, " "))
		buf = nil
		if text == "" {
			return
		}
		if m := vttVoiceTag.FindStringSubmatch(text); m != nil {
			cues = append(cues, cue{SpeakerID: strings.TrimSpace(m[1]), Text: strings.TrimSpace(m[2])})
			return
		}
		if m := speakerPrefix.FindStringSubmatch(text); m != nil {
			cues = append(cues, cue{SpeakerID: strings.TrimSpace(m[1]), Text: strings.TrimSpace(m[2])})
			return
		}
		cues = append(cues, cue{Text: text})
	}

	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first {
			first = false
			if isVTT && strings.HasPrefix(line, "WEBVTT") {
				continue
			}
		}
		if line == "" {
			flush()
			continue
		}
		if srtIndexLine.MatchString(line) || vttTimingLine.MatchString(line) {
			continue
		}
		buf = append(buf, line)
	}
	flush()
	return cues
}

// parsePlainText treats each non-blank line as one cue; a "Speaker:" text
// prefix attributes the cue to a speaker.
func parsePlainText(data []byte) []cue {
	var cues []cue
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if m := speakerPrefix.FindStringSubmatch(line); m != nil {
			cues = append(cues, cue{SpeakerID: strings.TrimSpace(m[1]), Text: strings.TrimSpace(m[2])})
			continue
		}
		cues = append(cues, cue{Text: line})
	}
	return cues
}

// detectSourceType maps a filename extension to a source_type when the
// request specified "auto".
func detectSourceType(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".vtt"):
		return "vtt"
	case strings.HasSuffix(lower, ".srt"):
		return "srt"
	case strings.HasSuffix(lower, ".txt"), strings.HasSuffix(lower, ".text"):
		return "text"
	case strings.HasSuffix(lower, ".wav"), strings.HasSuffix(lower, ".mp3"),
		strings.HasSuffix(lower, ".m4a"), strings.HasSuffix(lower, ".ogg"),
		strings.HasSuffix(lower, ".flac"), strings.HasSuffix(lower, ".webm"):
		return "audio"
	default:
		return "text"
	}
}
