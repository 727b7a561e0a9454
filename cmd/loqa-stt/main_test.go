package main

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-stt/internal/audio"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootFlags.json = false
		featuresFlags.melBins = 0
		featuresFlags.raw = false
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func toneWAV(t *testing.T) string {
	t.Helper()
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := audio.WriteWAV(f, audio.Float32ToPCM16(samples), 16000, 1); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != version {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestFeaturesText(t *testing.T) {
	out, err := run(t, "features", "--mel-bins", "80", toneWAV(t))
	if err != nil {
		t.Fatalf("features: %v", err)
	}
	if !strings.Contains(out, "98 frames x 80 bins (normalized=true)") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestFeaturesJSONFollowsVariant(t *testing.T) {
	out, err := run(t, "features", "--json", "--variant", "0.6b", toneWAV(t))
	if err != nil {
		t.Fatalf("features: %v", err)
	}
	var summary featureSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if summary.Bins != 128 || len(summary.Columns) != 128 || summary.Frames != 98 {
		t.Fatalf("unexpected summary shape %d x %d", summary.Frames, summary.Bins)
	}
	for _, c := range summary.Columns {
		if math.Abs(c.Mean) > 1e-3 {
			t.Fatalf("bin %d mean %f after normalization", c.Bin, c.Mean)
		}
	}
}
