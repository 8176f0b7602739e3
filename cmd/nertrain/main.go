package main

import (
	"os"

	"github.com/PurestEarth/nertrain/ner/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
