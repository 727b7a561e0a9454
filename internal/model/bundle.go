// Package model loads a transducer model directory: the encoder, prediction
// and joint networks plus the vocabulary, together with the layout
// descriptor of the detected variant.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/loqalabs/loqa-stt/internal/vocab"
	"golang.org/x/sync/errgroup"
)

// Options configures Load.
type Options struct {
	Dir           string
	Variant       Variant
	StrictVariant bool
	Device        Device
	NumThreads    int
	LibraryPath   string
}

// Bundle owns the three sessions for its lifetime. Sessions are created once
// and never replaced; callers serialize Run calls on one Bundle.
type Bundle struct {
	Descriptor Descriptor
	Device     Device
	Files      Files
	Vocab      *vocab.Vocabulary

	Encoder *Session
	Decoder *Session
	Joiner  *Session
}

// Load resolves files, reads the vocabulary and opens the three networks.
func Load(ctx context.Context, opts Options, logger *slog.Logger) (*Bundle, error) {
	logger = logger.With(slog.String("component", "model"))

	variant, defaulted, err := ResolveVariant(opts.Variant, filepath.Clean(opts.Dir), opts.StrictVariant)
	if err != nil {
		return nil, err
	}
	desc, _ := Describe(variant)
	if defaulted {
		logger.Warn("model variant not recognized from path, assuming default",
			slog.String("dir", opts.Dir),
			slog.String("variant", desc.Name))
	}

	if opts.Device == "" {
		opts.Device = DeviceCPU
	}
	files, err := ResolveFiles(opts.Dir, opts.Device)
	if err != nil {
		return nil, err
	}
	voc, err := vocab.Load(files.Tokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	if err := InitRuntime(opts.LibraryPath); err != nil {
		return nil, err
	}

	b := &Bundle{Descriptor: desc, Device: opts.Device, Files: files, Vocab: voc}
	cfg := sessionConfig{device: opts.Device, numThreads: opts.NumThreads}

	g, gctx := errgroup.WithContext(ctx)
	for _, net := range []struct {
		name string
		path string
		dst  **Session
	}{
		{"encoder", files.Encoder, &b.Encoder},
		{"decoder", files.Decoder, &b.Decoder},
		{"joiner", files.Joiner, &b.Joiner},
	} {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := openSession(net.name, net.path, cfg)
			if err != nil {
				return err
			}
			*net.dst = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = b.Close()
		return nil, err
	}

	logger.Info("model bundle loaded",
		slog.String("variant", desc.Name),
		slog.String("device", string(opts.Device)),
		slog.Bool("quantized", files.Quantized()),
		slog.String("encoder", filepath.Base(files.Encoder)),
		slog.String("decoder", filepath.Base(files.Decoder)),
		slog.String("joiner", filepath.Base(files.Joiner)),
		slog.Int("vocab_size", voc.Size()),
		slog.Int("blank_id", voc.BlankID()))
	return b, nil
}

func (b *Bundle) DecoderHiddenSize() int { return b.Descriptor.DecoderHiddenSize }
func (b *Bundle) MelBins() int           { return b.Descriptor.MelBins }
func (b *Bundle) TransposeInput() bool   { return b.Descriptor.TransposeInput }
func (b *Bundle) VocabSize() int         { return b.Vocab.Size() }
func (b *Bundle) BlankID() int           { return b.Vocab.BlankID() }

// Close releases all sessions.
func (b *Bundle) Close() error {
	if b == nil {
		return nil
	}
	return errors.Join(b.Encoder.Close(), b.Decoder.Close(), b.Joiner.Close())
}
