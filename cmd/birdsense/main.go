// Package main is the entry point for the birdsense CLI.
//
// Usage:
//
//	birdsense [flags] <command> [args]
//
// Commands:
//
//	identify   - Classify a recording into ranked species predictions
//	cache      - Result cache maintenance (stats, clear)
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/perchlabs/birdsense/cmd/birdsense/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
