package model

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// minimum (inputs, outputs) each network must declare.
var networkArity = map[string][2]int{
	"encoder": {2, 1}, // features, length -> output[, lengths]
	"decoder": {4, 3}, // targets, target_length, state1, state2 -> output[, lengths], state1, state2
	"joiner":  {2, 1}, // encoder frame, decoder frame -> logits
}

// Session is one loaded network. Tensor names are read from the model file
// and used positionally.
type Session struct {
	Name    string
	Path    string
	Inputs  []string
	Outputs []string

	session *ort.DynamicAdvancedSession
}

type sessionConfig struct {
	device     Device
	numThreads int
}

func openSession(name, path string, cfg sessionConfig) (*Session, error) {
	inputInfo, outputInfo, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s io info: %v", ErrModelLoad, name, err)
	}
	s := &Session{Name: name, Path: path}
	for _, info := range inputInfo {
		s.Inputs = append(s.Inputs, info.Name)
	}
	for _, info := range outputInfo {
		s.Outputs = append(s.Outputs, info.Name)
	}
	if want := networkArity[name]; len(s.Inputs) < want[0] || len(s.Outputs) < want[1] {
		return nil, fmt.Errorf("%w: %s declares %d inputs and %d outputs, need at least %d and %d",
			ErrModelLoad, name, len(s.Inputs), len(s.Outputs), want[0], want[1])
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("%w: session options: %v", ErrModelLoad, err)
	}
	defer options.Destroy()

	if cfg.numThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.numThreads); err != nil {
			return nil, fmt.Errorf("%w: set threads: %v", ErrModelLoad, err)
		}
	}
	if cfg.device == DeviceCUDA {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("%w: cuda provider options: %v", ErrModelLoad, err)
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return nil, fmt.Errorf("%w: enable cuda: %v", ErrModelLoad, err)
		}
	}

	s.session, err = ort.NewDynamicAdvancedSession(path, s.Inputs, s.Outputs, options)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrModelLoad, name, err)
	}
	return s, nil
}

// Run executes the network. Outputs are allocated by the runtime and must be
// destroyed by the caller.
func (s *Session) Run(inputs []ort.Value) ([]ort.Value, error) {
	outputs := make([]ort.Value, len(s.Outputs))
	if err := s.session.Run(inputs, outputs); err != nil {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
		return nil, fmt.Errorf("run %s: %w", s.Name, err)
	}
	return outputs, nil
}

// Close releases the underlying runtime session.
func (s *Session) Close() error {
	if s == nil || s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
