// Command sipwatch is the thin operator CLI around the capture/dissect/
// callstore/observer core (spec.md §1 Non-goals: a real UI is out of
// scope, but the teacher always ships a CLI entry point).
package main

import (
	"fmt"
	"os"

	"sipwatch.dev/sipwatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
