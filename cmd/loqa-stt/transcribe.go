package main

import (
	"fmt"
	"time"

	"github.com/loqalabs/loqa-stt/internal/audio"
	"github.com/loqalabs/loqa-stt/internal/recognizer"
	"github.com/spf13/cobra"
)

type transcription struct {
	File         string  `json:"file"`
	Text         string  `json:"text"`
	Tokens       []int   `json:"tokens"`
	Chunks       int     `json:"chunks"`
	AudioMS      int64   `json:"audio_ms"`
	ProcessingMS int64   `json:"processing_ms"`
	RTF          float64 `json:"rtf"`
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <wav>...",
	Short: "Recognize WAV files",
	Long: `Recognize one or more integer PCM WAV files. Input of any rate and channel
count is mixed down and resampled to 16 kHz mono. The model is loaded once
and reused for every file.

Examples:
  loqa-stt -m ./models/sherpa-onnx-nemo-parakeet-tdt-0.6b-v3-onnx transcribe hello.wav
  loqa-stt transcribe --json a.wav b.wav`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := sttConfig(cmd)
		if err != nil {
			return err
		}
		opts, err := recognizer.OptionsFromConfig(cfg)
		if err != nil {
			return err
		}
		start := time.Now()
		rec, err := recognizer.Open(cmd.Context(), opts, newLogger())
		if err != nil {
			return err
		}
		defer rec.Close()
		info := rec.Info()
		if !rootFlags.json {
			fmt.Fprintf(cmd.ErrOrStderr(), "loaded %s on %s in %s\n", info.Variant, info.Device, time.Since(start).Round(time.Millisecond))
		}

		out := cmd.OutOrStdout()
		for _, path := range args {
			clip, err := audio.ReadWAVFile(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			res, err := rec.RecognizeAudio(cmd.Context(), clip.Samples, clip.SampleRate, clip.Channels)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if rootFlags.json {
				if err := printJSON(out, transcription{
					File:         path,
					Text:         res.Text,
					Tokens:       res.Tokens,
					Chunks:       res.Chunks,
					AudioMS:      res.AudioDuration.Milliseconds(),
					ProcessingMS: res.ProcessingTime.Milliseconds(),
					RTF:          res.RealTimeFactor(),
				}); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintf(out, "%s\t%s\n", path, res.Text)
			fmt.Fprintf(cmd.ErrOrStderr(), "  %s audio, %s processing, rtf %.3f\n",
				res.AudioDuration.Round(time.Millisecond), res.ProcessingTime.Round(time.Millisecond), res.RealTimeFactor())
		}
		return nil
	},
}
