package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/loqalabs/loqa-stt/internal/model"
	"github.com/loqalabs/loqa-stt/internal/recognizer"
	"github.com/spf13/cobra"
)

type networkInfo struct {
	File    string   `json:"file"`
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}

type inspection struct {
	Dir                 string                 `json:"dir"`
	Variant             string                 `json:"variant"`
	Device              string                 `json:"device"`
	MelBins             int                    `json:"mel_bins"`
	DecoderHiddenSize   int                    `json:"decoder_hidden_size"`
	TransposeInput      bool                   `json:"transpose_input"`
	AcceleratorMemoryMB int                    `json:"accelerator_memory_mb"`
	Quantized           bool                   `json:"quantized"`
	VocabSize           int                    `json:"vocab_size"`
	BlankID             int                    `json:"blank_id"`
	UnknownID           int                    `json:"unknown_id"`
	Networks            map[string]networkInfo `json:"networks"`
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Describe the model directory",
	Long: `Load the model directory and print the detected variant, the resolved network
files, vocabulary size, blank id and the tensor names read from each network.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := sttConfig(cmd)
		if err != nil {
			return err
		}
		opts, err := recognizer.OptionsFromConfig(cfg)
		if err != nil {
			return err
		}
		b, err := model.Load(cmd.Context(), opts.Model, newLogger())
		if err != nil {
			return err
		}
		defer b.Close()

		info := inspection{
			Dir:                 cfg.ModelDir,
			Variant:             b.Descriptor.Name,
			Device:              string(b.Device),
			MelBins:             b.MelBins(),
			DecoderHiddenSize:   b.DecoderHiddenSize(),
			TransposeInput:      b.TransposeInput(),
			AcceleratorMemoryMB: b.Descriptor.AcceleratorMemoryMB,
			Quantized:           b.Files.Quantized(),
			VocabSize:           b.VocabSize(),
			BlankID:             b.BlankID(),
			UnknownID:           b.Vocab.UnknownID(),
			Networks:            make(map[string]networkInfo),
		}
		for _, s := range []*model.Session{b.Encoder, b.Decoder, b.Joiner} {
			info.Networks[s.Name] = networkInfo{File: filepath.Base(s.Path), Inputs: s.Inputs, Outputs: s.Outputs}
		}

		out := cmd.OutOrStdout()
		if rootFlags.json {
			return printJSON(out, info)
		}
		fmt.Fprintf(out, "dir:          %s\n", info.Dir)
		fmt.Fprintf(out, "variant:      %s (%d mel bins, decoder hidden %d, transpose input %v)\n",
			info.Variant, info.MelBins, info.DecoderHiddenSize, info.TransposeInput)
		fmt.Fprintf(out, "device:       %s (accelerator needs ~%d MB)\n", info.Device, info.AcceleratorMemoryMB)
		fmt.Fprintf(out, "quantized:    %v\n", info.Quantized)
		fmt.Fprintf(out, "vocabulary:   %d tokens, blank %d, unk %d\n", info.VocabSize, info.BlankID, info.UnknownID)
		for _, name := range []string{"encoder", "decoder", "joiner"} {
			n := info.Networks[name]
			fmt.Fprintf(out, "%-13s %s\n", name+":", n.File)
			fmt.Fprintf(out, "  inputs:     %s\n", strings.Join(n.Inputs, ", "))
			fmt.Fprintf(out, "  outputs:    %s\n", strings.Join(n.Outputs, ", "))
		}
		return nil
	},
}
