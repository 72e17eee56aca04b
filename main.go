package main

import (
	"os"

	"github.com/drip-org/drip/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
