package main

import (
	"os"

	"github.com/rustyeddy/trading-executor/cmd/trading-executor/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
