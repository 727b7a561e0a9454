package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/loqalabs/loqa-stt/internal/config"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

var rootFlags struct {
	config     string
	modelDir   string
	variant    string
	strict     bool
	device     string
	threads    int
	ortLibrary string
	logLevel   string
	json       bool
}

var rootCmd = &cobra.Command{
	Use:           "loqa-stt",
	Short:         "Offline transducer speech recognition",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&rootFlags.config, "config", "c", "", "path to a loqad configuration file")
	f.StringVarP(&rootFlags.modelDir, "model-dir", "m", "", "model directory (overrides stt.model_dir)")
	f.StringVar(&rootFlags.variant, "variant", "", "model variant: auto, 0.6b or 1.1b")
	f.BoolVar(&rootFlags.strict, "strict-variant", false, "fail when the variant cannot be detected")
	f.StringVar(&rootFlags.device, "device", "", "execution device: cpu or cuda")
	f.IntVar(&rootFlags.threads, "threads", 0, "intra-op threads")
	f.StringVar(&rootFlags.ortLibrary, "ort-library", "", "path to the onnxruntime shared library")
	f.StringVar(&rootFlags.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	f.BoolVar(&rootFlags.json, "json", false, "print JSON instead of text")

	rootCmd.AddCommand(transcribeCmd, featuresCmd, inspectCmd, versionCmd)
}

// sttConfig loads the stt section and applies flag overrides.
func sttConfig(cmd *cobra.Command) (config.STTConfig, error) {
	cfg, err := config.Load(rootFlags.config)
	if err != nil {
		return config.STTConfig{}, err
	}
	stt := cfg.STT
	flags := cmd.Flags()
	if flags.Changed("model-dir") {
		stt.ModelDir = rootFlags.modelDir
	}
	if flags.Changed("variant") {
		stt.Variant = rootFlags.variant
	}
	if flags.Changed("strict-variant") {
		stt.StrictVariant = rootFlags.strict
	}
	if flags.Changed("device") {
		stt.Device = rootFlags.device
	}
	if flags.Changed("threads") {
		stt.NumThreads = rootFlags.threads
	}
	if flags.Changed("ort-library") {
		stt.ORTLibraryPath = rootFlags.ortLibrary
	}
	return stt, nil
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	switch strings.ToLower(rootFlags.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
