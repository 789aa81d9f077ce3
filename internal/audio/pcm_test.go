package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestFloatToPCM16ClampsBeforeQuantizing(t *testing.T) {
	pcm := FloatToPCM16([]float32{0, 1, -1, 2.5, -3, 0.5})
	if len(pcm) != 12 {
		t.Fatalf("len(pcm) = %d, want 12", len(pcm))
	}
	want := []int16{0, 32767, -32768, 32767, -32768, 16383}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if got != w {
			t.Fatalf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestPCM16RoundTripStaysClose(t *testing.T) {
	in := []float32{0.25, -0.25, 0.9, -0.9}
	out := PCM16ToFloat(FloatToPCM16(in))
	for i := range in {
		d := in[i] - out[i]
		if d < -0.001 || d > 0.001 {
			t.Fatalf("sample %d = %f, want ~%f", i, out[i], in[i])
		}
	}
}

func TestResampleChangesLength(t *testing.T) {
	in := make([]float32, 4096)
	out := Resample(in, 48000, 16000)
	if len(out) != 1365 {
		t.Fatalf("len(out) = %d, want 1365", len(out))
	}
	if same := Resample(in, 16000, 16000); len(same) != len(in) {
		t.Fatalf("same-rate resample changed length to %d", len(same))
	}
}

func TestDuration(t *testing.T) {
	if got := Duration(32000, 16000); got != time.Second {
		t.Fatalf("Duration() = %s, want 1s", got)
	}
	if got := Duration(0, 16000); got != 0 {
		t.Fatalf("Duration(0) = %s, want 0", got)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	pcm := FloatToPCM16([]float32{0.1, -0.1, 0.2})
	blob := EncodeWAV(pcm, 24000)
	if !IsWAV(blob) {
		t.Fatalf("IsWAV() = false for encoded blob")
	}
	data, rate, err := DecodeWAV(blob)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if rate != 24000 {
		t.Fatalf("rate = %d, want 24000", rate)
	}
	if string(data) != string(pcm) {
		t.Fatalf("payload mismatch")
	}
	if _, _, err := DecodeWAV([]byte("nope")); err != ErrNotWAV {
		t.Fatalf("DecodeWAV(garbage) error = %v, want ErrNotWAV", err)
	}
}
