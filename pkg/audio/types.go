package audio

import "time"

// AudioFrame is one fixed-duration chunk of mono PCM audio. Frames are the
// atomic unit of capture: a [Source] produces them continuously and the
// segmenter consumes them one at a time.
type AudioFrame struct {
	// Data holds signed 16-bit little-endian mono samples.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for speech recognition input).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of 16-bit samples in the frame.
func (f AudioFrame) Samples() int {
	return len(f.Data) / 2
}

// Duration returns the playback length of the frame. Zero if SampleRate is
// not set.
func (f AudioFrame) Duration() time.Duration {
	return BytesDuration(len(f.Data), f.SampleRate)
}

// BytesDuration converts a byte count of 16-bit mono PCM at sampleRate into a
// duration.
func BytesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n/2) * time.Second / time.Duration(sampleRate)
}

// FrameBytes returns the size in bytes of a 16-bit mono PCM frame of duration
// d at sampleRate.
func FrameBytes(sampleRate int, d time.Duration) int {
	return int(int64(sampleRate)*int64(d)/int64(time.Second)) * 2
}
