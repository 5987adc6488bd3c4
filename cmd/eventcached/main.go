// Package main is the entry point for the eventcached CLI.
package main

import (
	"fmt"
	"os"

	"github.com/qsyscore/eventcached/cmd/eventcached/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
