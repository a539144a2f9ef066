// Package main provides the entry point for the gridcat CLI.
package main

import (
	"os"

	"github.com/gridcat/gridcat/cmd/gridcat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
