package speech

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/antoniostano/voxline/internal/audio"
)

// NewOutput selects an output by name: "discard", "file" (clips written to
// dir) or "portaudio" (default speaker, needs the portaudio build tag).
func NewOutput(kind, dir string) (Output, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "discard":
		return DiscardOutput{Realtime: true}, nil
	case "file":
		return NewFileOutput(dir)
	case "portaudio", "speaker":
		return NewPortAudioOutput()
	default:
		return nil, fmt.Errorf("unknown playback output %q", kind)
	}
}

// DiscardOutput drops clips. With Realtime set it still takes as long as
// the clip would, which keeps the recognition gate timing honest.
type DiscardOutput struct {
	Realtime bool
}

func (d DiscardOutput) Play(ctx context.Context, clip Audio) error {
	if !d.Realtime {
		return ctx.Err()
	}
	dur := clip.Duration()
	if dur <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FileOutput writes every clip to its own file: WAV for PCM16, the raw
// bytes with the format as extension otherwise.
type FileOutput struct {
	dir string
	seq atomic.Int64
}

func NewFileOutput(dir string) (*FileOutput, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create playback dir: %w", err)
	}
	return &FileOutput{dir: dir}, nil
}

func (f *FileOutput) Play(ctx context.Context, clip Audio) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := f.seq.Add(1)
	if clip.Format == FormatPCM16 {
		return audio.WriteWAVFile(filepath.Join(f.dir, fmt.Sprintf("reply-%04d.wav", n)), clip.Data, clip.SampleRate)
	}
	ext := clip.Format
	if ext == "" {
		ext = "bin"
	}
	path := filepath.Join(f.dir, fmt.Sprintf("reply-%04d.%s", n, ext))
	if err := os.WriteFile(path, clip.Data, 0o644); err != nil {
		return fmt.Errorf("write clip: %w", err)
	}
	return nil
}

// Written reports how many clips were written.
func (f *FileOutput) Written() int64 {
	return f.seq.Load()
}
