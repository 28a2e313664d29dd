package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wavHeaderSize is the size of the canonical 44-byte PCM WAV header.
const wavHeaderSize = 44

// ErrNotWAV is returned by [DecodeWAV] for data without a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE file")

// EncodeWAV wraps 16-bit mono PCM in a canonical WAV container.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	buf := make([]byte, wavHeaderSize+len(pcm))
	putWAVHeader(buf, len(pcm), sampleRate)
	copy(buf[wavHeaderSize:], pcm)
	return buf
}

// WAVHeader returns a canonical header for dataSize bytes of 16-bit mono PCM.
func WAVHeader(dataSize, sampleRate int) []byte {
	buf := make([]byte, wavHeaderSize)
	putWAVHeader(buf, dataSize, sampleRate)
	return buf
}

func putWAVHeader(buf []byte, dataSize, sampleRate int) {
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
}

// DecodeWAV extracts the PCM payload and sample rate from a WAV file. Only
// 16-bit PCM is accepted; multi-channel audio is down-mixed to mono.
func DecodeWAV(data []byte) (pcm []byte, sampleRate int, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, ErrNotWAV
	}

	var channels, bits int
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("audio: wav fmt chunk too short (%d bytes)", size)
			}
			if format := binary.LittleEndian.Uint16(data[body:]); format != 1 {
				return nil, 0, fmt.Errorf("audio: unsupported wav format %d (want PCM)", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits = int(binary.LittleEndian.Uint16(data[body+14:]))
		case "data":
			if sampleRate == 0 {
				return nil, 0, errors.New("audio: wav data chunk before fmt chunk")
			}
			if bits != 16 {
				return nil, 0, fmt.Errorf("audio: unsupported wav bit depth %d (want 16)", bits)
			}
			return downmix(data[body:body+size], channels), sampleRate, nil
		}
		// Chunks are word-aligned.
		pos = body + size + size%2
	}
	return nil, 0, errors.New("audio: wav has no data chunk")
}

// downmix averages interleaved 16-bit channels into mono.
func downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int
		for c := range channels {
			sum += int(sample(pcm, i*channels+c))
		}
		putSample(out, i, int16(sum/channels))
	}
	return out
}
