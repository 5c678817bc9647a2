package main

import (
	"os"

	"carbon-scribe/mrv-registry/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
