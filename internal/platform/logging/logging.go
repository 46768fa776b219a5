package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup initializes a zerolog.Logger. format "text" (or an empty format in
// development) selects the console writer; anything else logs JSON.
func Setup(env, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if format == "text" || (format == "" && env == "development") {
		return zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
