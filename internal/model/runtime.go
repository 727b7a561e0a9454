package model

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// LibraryPathEnv is consulted when no runtime library path is configured.
const LibraryPathEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

var (
	runtimeMu    sync.Mutex
	runtimeReady bool
)

// InitRuntime loads the inference runtime shared library once per process.
// Later calls are no-ops regardless of libraryPath.
func InitRuntime(libraryPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeReady || ort.IsInitialized() {
		runtimeReady = true
		return nil
	}
	if libraryPath == "" {
		libraryPath = os.Getenv(LibraryPathEnv)
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("%w: initialize inference runtime: %v", ErrModelLoad, err)
	}
	runtimeReady = true
	return nil
}

// ShutdownRuntime releases the process-wide runtime environment.
func ShutdownRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !runtimeReady {
		return nil
	}
	runtimeReady = false
	return ort.DestroyEnvironment()
}
