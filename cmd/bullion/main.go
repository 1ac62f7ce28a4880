package main

import (
	"os"

	"github.com/rustyeddy/bullion/cmd/bullion/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
