// Package main is the entry point for the reelpool application.
package main

import (
	"os"

	"github.com/jmylchreest/reelpool/cmd/reelpool/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
