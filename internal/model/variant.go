package model

import (
	"fmt"
	"strings"
)

// Variant names a published model layout.
type Variant int

const (
	// VariantAuto asks Load to detect the variant from the model path.
	VariantAuto Variant = iota
	Variant06B
	Variant11B
)

// DefaultVariant is used when the path does not name a known variant.
const DefaultVariant = Variant06B

// Descriptor fixes the tensor layout for one variant.
type Descriptor struct {
	Variant             Variant
	Name                string
	PathMarker          string
	MelBins             int
	DecoderHiddenSize   int
	DecoderLayers       int
	TransposeInput      bool // encoder expects (features, time)
	Durations           []int
	AcceleratorMemoryMB int
}

// StateSize is the element count of one recurrent state tensor.
func (d Descriptor) StateSize() int {
	return d.DecoderLayers * d.DecoderHiddenSize
}

var descriptors = []Descriptor{
	{
		Variant:             Variant06B,
		Name:                "parakeet-tdt-0.6b",
		PathMarker:          "0.6b",
		MelBins:             128,
		DecoderHiddenSize:   640,
		DecoderLayers:       2,
		TransposeInput:      true,
		Durations:           []int{0, 1, 2, 3, 4},
		AcceleratorMemoryMB: 1536,
	},
	{
		Variant:             Variant11B,
		Name:                "parakeet-tdt-1.1b",
		PathMarker:          "1.1b",
		MelBins:             80,
		DecoderHiddenSize:   640,
		DecoderLayers:       2,
		TransposeInput:      false,
		Durations:           []int{0, 1, 2, 3, 4},
		AcceleratorMemoryMB: 4096,
	},
}

// Describe returns the descriptor for v.
func Describe(v Variant) (Descriptor, bool) {
	for _, d := range descriptors {
		if d.Variant == v {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Variants lists the known variants.
func Variants() []Variant {
	out := make([]Variant, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, d.Variant)
	}
	return out
}

func (v Variant) String() string {
	if v == VariantAuto {
		return "auto"
	}
	if d, ok := Describe(v); ok {
		return d.Name
	}
	return fmt.Sprintf("variant(%d)", int(v))
}

// ParseVariant accepts "auto", a path marker such as "0.6b", or a full name
// such as "parakeet-tdt-1.1b".
func ParseVariant(s string) (Variant, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "auto" {
		return VariantAuto, nil
	}
	for _, d := range descriptors {
		if s == d.PathMarker || s == d.Name {
			return d.Variant, nil
		}
	}
	return VariantAuto, fmt.Errorf("unknown model variant %q", s)
}

// DetectVariant matches known markers against path.
func DetectVariant(path string) (Variant, bool) {
	lower := strings.ToLower(path)
	for _, d := range descriptors {
		if strings.Contains(lower, d.PathMarker) {
			return d.Variant, true
		}
	}
	return VariantAuto, false
}

// ResolveVariant picks the variant for dir. An explicit request wins. Under
// auto, an undetectable path falls back to DefaultVariant and reports
// defaulted=true, unless strict is set, in which case it fails.
func ResolveVariant(requested Variant, dir string, strict bool) (v Variant, defaulted bool, err error) {
	if requested != VariantAuto {
		if _, ok := Describe(requested); !ok {
			return VariantAuto, false, fmt.Errorf("%w: unknown variant %d", ErrModelLoad, int(requested))
		}
		return requested, false, nil
	}
	if v, ok := DetectVariant(dir); ok {
		return v, false, nil
	}
	if strict {
		return VariantAuto, false, fmt.Errorf("%w: cannot detect model variant from %q", ErrModelLoad, dir)
	}
	return DefaultVariant, true, nil
}
