package recognizer

import (
	"github.com/loqalabs/loqa-stt/internal/config"
	"github.com/loqalabs/loqa-stt/internal/model"
)

// OptionsFromConfig maps the stt config section onto LoadOptions.
func OptionsFromConfig(cfg config.STTConfig) (LoadOptions, error) {
	variant, err := model.ParseVariant(cfg.Variant)
	if err != nil {
		return LoadOptions{}, err
	}
	device, err := model.ParseDevice(cfg.Device)
	if err != nil {
		return LoadOptions{}, err
	}
	return LoadOptions{
		Model: model.Options{
			Dir:           cfg.ModelDir,
			Variant:       variant,
			StrictVariant: cfg.StrictVariant,
			Device:        device,
			NumThreads:    cfg.NumThreads,
			LibraryPath:   cfg.ORTLibraryPath,
		},
		ChunkFrames:        cfg.ChunkFrames,
		MaxSymbolsPerFrame: cfg.MaxSymbolsPerFrame,
	}, nil
}
