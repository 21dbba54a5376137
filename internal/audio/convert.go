/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

// Package audio normalizes captured audio into the container and encoding
// the local inference engine requires: mono, 16 kHz, 16-bit PCM WAV.
package audio

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/murmurlabs/murmur-engine/internal/logging"
	"github.com/murmurlabs/murmur-engine/internal/sidecar"
	"go.uber.org/zap"
)

// Target profile for the local engine. Fixed, not negotiable: the sidecar
// feature extractor assumes exactly this input.
const (
	TargetSampleRate = 16000
	TargetChannels   = 1
)

// ConvertError reports an audio conversion failure. Conversion failures
// signal an environment or packaging defect (missing ffmpeg, broken codec
// build) rather than a problem with the request content, so they carry a
// distinct type the caller can detect.
type ConvertError struct {
	Reason string
	Err    error
}

// Error formats the conversion failure.
func (e *ConvertError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("audio conversion failed: %s", e.Reason)
	}
	return fmt.Sprintf("audio conversion failed: %s: %v", e.Reason, e.Err)
}

// Unwrap exposes the underlying error.
func (e *ConvertError) Unwrap() error {
	return e.Err
}

// Converter invokes ffmpeg to transcode arbitrary captured audio into the
// target profile.
type Converter struct {
	ffmpegPath string
	timeout    time.Duration
	runner     sidecar.Runner
}

// NewConverter constructs a converter using the given ffmpeg binary.
func NewConverter(ffmpegPath string, timeout time.Duration) *Converter {
	return &Converter{
		ffmpegPath: ffmpegPath,
		timeout:    timeout,
		runner:     &sidecar.ExecRunner{},
	}
}

// NewConverterWithRunner constructs a converter with an injectable runner
// for tests.
func NewConverterWithRunner(ffmpegPath string, timeout time.Duration, runner sidecar.Runner) *Converter {
	return &Converter{ffmpegPath: ffmpegPath, timeout: timeout, runner: runner}
}

// Convert transcodes inputPath into outputPath, overwriting any existing
// output. The conversion runs under the converter's timeout.
func (c *Converter) Convert(ctx context.Context, inputPath, outputPath string) error {
	args := buildFFmpegArgs(inputPath, outputPath)

	result, err := c.runner.Run(ctx, sidecar.Spec{
		Name:    c.ffmpegPath,
		Args:    args,
		Timeout: c.timeout,
	})

	logging.LogSubprocess(c.ffmpegPath, result.ExitCode,
		zap.Duration("duration", result.Duration),
		zap.Bool("timed_out", result.TimedOut))

	if err != nil {
		if result.TimedOut {
			return &ConvertError{Reason: "ffmpeg timed out", Err: err}
		}
		if result.ExitCode == -1 {
			return &ConvertError{Reason: "ffmpeg could not be started (is it installed?)", Err: err}
		}
		return &ConvertError{
			Reason: fmt.Sprintf("ffmpeg exited with code %d: %s", result.ExitCode, tail(result.Stderr)),
			Err:    err,
		}
	}

	if _, err := os.Stat(outputPath); err != nil {
		return &ConvertError{Reason: "ffmpeg completed but output file is missing", Err: err}
	}

	return nil
}

// buildFFmpegArgs builds the fixed transcode command: mono 16 kHz s16 WAV,
// output overwritten.
func buildFFmpegArgs(inputPath, outputPath string) []string {
	return []string{
		"-y",
		"-loglevel", "error",
		"-i", inputPath,
		"-ar", fmt.Sprintf("%d", TargetSampleRate),
		"-ac", fmt.Sprintf("%d", TargetChannels),
		"-sample_fmt", "s16",
		"-f", "wav",
		outputPath,
	}
}

// tail keeps the end of stderr, which is where ffmpeg puts the actionable
// message.
func tail(stderr string) string {
	const max = 200
	s := stderr
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}
