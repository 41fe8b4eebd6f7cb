package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/romariotrain/lecture-pipeline/internal/app"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	code := app.Run("pipeline", logger, runner(logger))
	os.Exit(code)
}
