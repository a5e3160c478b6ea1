// Package main is the entry point for seqctl.
package main

import (
	"fmt"
	"os"

	"barcodeseq/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
