//go:build !portaudio

package speech

import "errors"

func NewPortAudioOutput() (Output, error) {
	return nil, errors.New("speaker output requires a build with -tags portaudio")
}
