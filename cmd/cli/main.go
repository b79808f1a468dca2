// Package main is the entry point for the altctl CLI, the terminal client
// for the altlens API.
package main

import (
	"os"

	"altlens/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
