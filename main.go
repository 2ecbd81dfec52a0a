// Package main is the entry point for splinekt.
package main

import (
	"fmt"
	"os"

	"splinekt/cmd"
	"splinekt/internal/version"
)

func main() {
	cmd.SetVersion(version.String())
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "splinekt:", err)
		os.Exit(1)
	}
}
