// The main package for the wikitrust executable.
package main

import (
	"github.com/JakeFAU/wikitrust/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
