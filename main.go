// The main package for the lawnet-ingest executable.
package main

import (
	"github.com/jurisdata/lawnet-ingest/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
