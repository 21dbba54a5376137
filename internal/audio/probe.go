/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

package audio

import (
	"bytes"

	"github.com/go-audio/wav"
)

// Conforms reports whether the audio bytes are already a valid WAV in the
// target profile, in which case conversion can be skipped. Anything that
// fails to parse as WAV (WebM, Ogg, MP3 captures) reports false.
func Conforms(audio []byte) bool {
	d := wav.NewDecoder(bytes.NewReader(audio))
	d.ReadInfo()
	if d.Err() != nil || d.SampleRate == 0 {
		return false
	}

	return int(d.SampleRate) == TargetSampleRate &&
		int(d.NumChans) == TargetChannels &&
		int(d.BitDepth) == 16 &&
		d.WavAudioFormat == 1 // PCM
}
