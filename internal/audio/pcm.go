// Package audio holds the PCM16 helpers shared by capture and playback.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// SampleRate is the canonical rate of every frame sent upstream.
	SampleRate = 16000
	// BytesPerSample for mono PCM16.
	BytesPerSample = 2
)

// FloatToPCM16 quantizes float samples to little-endian PCM16.
// Samples are clamped to [-1, 1] first so clipped input never wraps around.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := float64(s)
		if math.IsNaN(v) {
			v = 0
		}
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		var q int16
		if v < 0 {
			q = int16(v * 0x8000)
		} else {
			q = int16(v * 0x7fff)
		}
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(q))
	}
	return out
}

// PCM16ToFloat is the inverse of FloatToPCM16, used by playback outputs.
func PCM16ToFloat(pcm []byte) []float32 {
	n := len(pcm) / BytesPerSample
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		q := int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
		if q < 0 {
			out[i] = float32(q) / 0x8000
		} else {
			out[i] = float32(q) / 0x7fff
		}
	}
	return out
}

// Resample converts samples between rates with linear interpolation.
// It is good enough for speech bound for an STT backend.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate || len(samples) == 0 {
		return samples
	}
	outLen := int(math.Round(float64(len(samples)) * float64(toRate) / float64(fromRate)))
	if outLen <= 0 {
		return nil
	}
	out := make([]float32, outLen)
	ratio := float64(fromRate) / float64(toRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx] + (samples[idx+1]-samples[idx])*frac
	}
	return out
}

// Duration returns the playback length of mono PCM16 bytes at sampleRate.
func Duration(pcmBytes, sampleRate int) time.Duration {
	if sampleRate <= 0 || pcmBytes <= 0 {
		return 0
	}
	samples := pcmBytes / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
