// Package main is the entry point for the duckframe CLI binary.
package main

import (
	"os"

	cli "duckframe/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
