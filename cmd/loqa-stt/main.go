// Command loqa-stt runs the transducer recognizer against local files.
//
// Usage:
//
//	loqa-stt [flags] <command> [args]
//
// Commands:
//
//	transcribe  - recognize one or more WAV files
//	features    - print the normalized feature matrix of a WAV file
//	inspect     - describe the model directory and its networks
//	version     - print the version
//
// Model settings come from the same config file and LOQA_STT_* variables
// as loqad. Flags override both.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
