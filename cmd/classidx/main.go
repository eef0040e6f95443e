// Package main provides the entry point for the classidx CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/classidx/cmd/classidx/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
