package main

import (
	"os"

	"github.com/ArionMiles/bankmail/pkg/logging"
)

func main() {
	logging.Setup(logging.DefaultConfig())

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
