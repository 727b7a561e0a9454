package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrModelLoad marks missing or unusable model files and runtime setup
// failures.
var ErrModelLoad = errors.New("model load")

// Device selects where inference runs.
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// ParseDevice validates a device name.
func ParseDevice(s string) (Device, error) {
	switch d := Device(strings.ToLower(strings.TrimSpace(s))); d {
	case "", DeviceCPU:
		return DeviceCPU, nil
	case DeviceCUDA:
		return DeviceCUDA, nil
	default:
		return "", fmt.Errorf("unknown device %q", s)
	}
}

// Accelerated reports whether the device is not the CPU.
func (d Device) Accelerated() bool { return d != DeviceCPU && d != "" }

// TokensFile is the vocabulary file name inside a model directory.
const TokensFile = "tokens.txt"

// Files are the resolved paths for one model directory.
type Files struct {
	Encoder string
	Decoder string
	Joiner  string
	Tokens  string
}

// Quantized reports whether every network resolved to an int8 file.
func (f Files) Quantized() bool {
	return isInt8(f.Encoder) && isInt8(f.Decoder) && isInt8(f.Joiner)
}

func isInt8(path string) bool {
	return strings.HasSuffix(path, ".int8.onnx")
}

// ResolveFiles finds the three networks and the vocabulary in dir. The int8
// export is preferred on CPU and the full-precision one on accelerators;
// either falls back to the other.
func ResolveFiles(dir string, device Device) (Files, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return Files{}, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	if !info.IsDir() {
		return Files{}, fmt.Errorf("%w: %s is not a directory", ErrModelLoad, dir)
	}

	var files Files
	for _, net := range []struct {
		name string
		dst  *string
	}{
		{"encoder", &files.Encoder},
		{"decoder", &files.Decoder},
		{"joiner", &files.Joiner},
	} {
		path, err := pickNetwork(dir, net.name, device)
		if err != nil {
			return Files{}, err
		}
		*net.dst = path
	}

	files.Tokens = filepath.Join(dir, TokensFile)
	if _, err := os.Stat(files.Tokens); err != nil {
		return Files{}, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	return files, nil
}

func pickNetwork(dir, name string, device Device) (string, error) {
	quantized := filepath.Join(dir, name+".int8.onnx")
	full := filepath.Join(dir, name+".onnx")
	candidates := []string{quantized, full}
	if device.Accelerated() {
		candidates = []string{full, quantized}
	}
	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && !st.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: no %s network in %s (looked for %s)", ErrModelLoad, name, dir,
		strings.Join([]string{filepath.Base(candidates[0]), filepath.Base(candidates[1])}, ", "))
}
