package main

// Entry point; everything lives in the cobra commands.

import (
	"fmt"
	"os"

	"buybot/cmd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
