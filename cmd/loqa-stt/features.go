package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/loqalabs/loqa-stt/internal/audio"
	"github.com/loqalabs/loqa-stt/internal/features"
	"github.com/loqalabs/loqa-stt/internal/model"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var featuresFlags struct {
	melBins int
	raw     bool
}

type columnStats struct {
	Bin  int     `json:"bin"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

type featureSummary struct {
	File       string        `json:"file"`
	Frames     int           `json:"frames"`
	Bins       int           `json:"bins"`
	Normalized bool          `json:"normalized"`
	Columns    []columnStats `json:"columns"`
}

var featuresCmd = &cobra.Command{
	Use:   "features <wav>",
	Short: "Print feature matrix shape and per-bin statistics",
	Long: `Compute the log-mel features the encoder would see for a WAV file and print
the matrix shape plus mean, standard deviation, min and max of each mel bin.

The bin count follows the model variant (128 for 0.6b, 80 for 1.1b) unless
--mel-bins is set. Features are normalized over the whole file unless --raw
is given. No model files are loaded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bins := featuresFlags.melBins
		if bins <= 0 {
			cfg, err := sttConfig(cmd)
			if err != nil {
				return err
			}
			requested, err := model.ParseVariant(cfg.Variant)
			if err != nil {
				return err
			}
			v, _, err := model.ResolveVariant(requested, cfg.ModelDir, cfg.StrictVariant)
			if err != nil {
				return err
			}
			desc, _ := model.Describe(v)
			bins = desc.MelBins
		}

		extractor, err := features.New(features.DefaultConfig(bins))
		if err != nil {
			return err
		}
		clip, err := audio.ReadWAVFile(args[0])
		if err != nil {
			return err
		}
		samples := extractor.Conform(clip.Samples, clip.SampleRate, clip.Channels)
		m := extractor.LogMel(samples)
		if !featuresFlags.raw {
			features.Normalize(m)
		}

		summary := featureSummary{File: args[0], Frames: m.Frames, Bins: m.Bins, Normalized: !featuresFlags.raw}
		column := make([]float64, m.Frames)
		for b := 0; b < m.Bins && m.Frames > 0; b++ {
			for t := 0; t < m.Frames; t++ {
				column[t] = float64(m.Data[t*m.Bins+b])
			}
			mean, std := stat.PopMeanStdDev(column, nil)
			summary.Columns = append(summary.Columns, columnStats{
				Bin: b, Mean: mean, Std: std, Min: floats.Min(column), Max: floats.Max(column),
			})
		}

		out := cmd.OutOrStdout()
		if rootFlags.json {
			return printJSON(out, summary)
		}
		fmt.Fprintf(out, "%s: %d frames x %d bins (normalized=%v)\n", summary.File, summary.Frames, summary.Bins, summary.Normalized)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "bin\tmean\tstd\tmin\tmax\t")
		for _, c := range summary.Columns {
			fmt.Fprintf(tw, "%d\t%.4f\t%.4f\t%.4f\t%.4f\t\n", c.Bin, c.Mean, c.Std, c.Min, c.Max)
		}
		return tw.Flush()
	},
}

func init() {
	featuresCmd.Flags().IntVar(&featuresFlags.melBins, "mel-bins", 0, "mel bin count (default: from the model variant)")
	featuresCmd.Flags().BoolVar(&featuresFlags.raw, "raw", false, "print log-mel values before normalization")
}
