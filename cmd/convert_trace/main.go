package main

import (
	"os"

	"pmtrace/internal/lister"
)

func main() {
	if err := lister.NewConvertCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
