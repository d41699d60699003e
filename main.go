// Package main is the entry point for ctitoolkit.
package main

import (
	"fmt"
	"os"

	"ctitoolkit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
