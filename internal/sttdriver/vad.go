package sttdriver

// silenceThreshold is the mean absolute PCM16 sample amplitude below which
// a frame is considered silent. 16-bit PCM samples range ±32768; typical
// room-tone/silence sits under this threshold while speech peaks well
// above it.
const silenceThreshold = 300

// isSilent reports whether the mean absolute amplitude of a PCM16
// little-endian frame falls below silenceThreshold. An empty or malformed
// (odd-length) frame is treated as silent.
func isSilent(pcm []byte) bool {
	if len(pcm) < 2 {
		return true
	}
	var sum int64
	n := len(pcm) / 2
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		if sample < 0 {
			sum -= int64(sample)
		} else {
			sum += int64(sample)
		}
	}
	mean := sum / int64(n)
	return mean < silenceThreshold
}

// trailingSilenceMs walks frames from newest to oldest, summing the
// duration of a contiguous run of silent frames at the tail. durationMs
// gives each frame's playback duration.
func trailingSilenceMs(frames []frame, durationMs func(frame) int64) int64 {
	var silentMs int64
	for i := len(frames) - 1; i >= 0; i-- {
		if !isSilent(frames[i].data) {
			break
		}
		silentMs += durationMs(frames[i])
	}
	return silentMs
}
