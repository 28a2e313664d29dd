package audio

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
)

// sample reads the i-th little-endian int16 sample from pcm.
func sample(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

// putSample writes v as the i-th little-endian int16 sample of pcm.
func putSample(pcm []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
}

// clamp16 saturates v into the int16 range.
func clamp16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}

// Resample converts 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input is returned unchanged when the rates match or
// either rate is invalid.
func Resample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	n := len(pcm) / 2
	outN := int(int64(n) * int64(dstRate) / int64(srcRate))
	if outN == 0 {
		return nil
	}

	out := make([]byte, outN*2)
	step := float64(srcRate) / float64(dstRate)
	for i := range outN {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)

		a := float64(sample(pcm, j))
		b := a
		if j+1 < n {
			b = float64(sample(pcm, j+1))
		}
		putSample(out, i, clamp16(a+(b-a)*frac))
	}
	return out
}

// RMS returns the root-mean-square energy of 16-bit PCM, normalised to
// [0.0, 1.0].
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(sample(pcm, i)) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Peak returns the largest absolute sample value of 16-bit PCM, normalised to
// [0.0, 1.0].
func Peak(pcm []byte) float64 {
	var peak int
	for i := range len(pcm) / 2 {
		v := int(sample(pcm, i))
		if v < 0 {
			v = -v
		}
		peak = max(peak, v)
	}
	return float64(peak) / 32768.0
}

// Limit scales pcm in place so that its peak does not exceed ceiling (a
// fraction of full scale). Chunks already below the ceiling are untouched.
// A ceiling outside (0, 1) disables limiting.
func Limit(pcm []byte, ceiling float64) {
	if ceiling <= 0 || ceiling >= 1 {
		return
	}
	peak := Peak(pcm)
	if peak <= ceiling {
		return
	}
	gain := ceiling / peak
	for i := range len(pcm) / 2 {
		putSample(pcm, i, clamp16(float64(sample(pcm, i))*gain))
	}
}

// ToFloat32 converts 16-bit PCM to float32 samples normalised to [-1.0, 1.0].
// A trailing odd byte is ignored.
func ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(sample(pcm, i)) / 32768.0
	}
	return out
}

// Resampler converts a stream of chunks from one sample rate to another. It
// warns once on the first chunk that needs converting.
// Create one per stream; not designed for shared use across goroutines.
type Resampler struct {
	From, To int

	warned sync.Once
}

// Convert resamples one chunk. An odd-length chunk is dropped with a warning
// since it cannot be valid 16-bit PCM.
func (r *Resampler) Convert(pcm []byte) []byte {
	if len(pcm)%2 != 0 {
		slog.Warn("audio resampler: odd byte count in PCM chunk, dropping", "bytes", len(pcm))
		return nil
	}
	if r.From == r.To || r.From <= 0 || r.To <= 0 {
		return pcm
	}
	r.warned.Do(func() {
		slog.Debug("audio resampler: converting sample rate", "from", r.From, "to", r.To)
	})
	return Resample(pcm, r.From, r.To)
}
