// The main package for the adwatch executable.
package main

import (
	"github.com/pvaillant/adwatch/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
