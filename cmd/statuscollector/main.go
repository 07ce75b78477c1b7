package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/zaz600/go-status-collector/internal/app"
)

// go run -ldflags "-X github.com/zaz600/go-status-collector/internal/app.BuildVersion=v1.0.1"
func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	os.Exit(CLI(os.Args))
}

func CLI(args []string) int {
	if err := app.Run(args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Runtime error: %v\n", err)
		return 1
	}
	return 0
}
