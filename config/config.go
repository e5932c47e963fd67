// Config loads configuration from the environment.
package config

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const Version = "1.0"

// GetInt loads the environment variable varName, converts it to an integer,
// and returns that integer or an error.
func GetInt(varName string) (int, error) {
	envVar := os.Getenv(varName)
	return strconv.Atoi(envVar)
}

// GetDuration loads the environment variable varName and parses it as a
// time.Duration ("30s", "5m").
func GetDuration(varName string) (time.Duration, error) {
	return time.ParseDuration(os.Getenv(varName))
}

// SetupLogger configures the global zerolog logger: RFC3339 timestamps, and
// the level named by LOG_LEVEL (defaults to info).
func SetupLogger() {
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		parsed, err := zerolog.ParseLevel(lvl)
		if err == nil {
			level = parsed
		} else {
			log.Warn().Str("level", lvl).Msg("unknown LOG_LEVEL, using info")
		}
	}
	zerolog.SetGlobalLevel(level)
}

// SetMaxIdleConnsPerHost sets the MaxIdleConnsPerHost value for the default
// HTTP transport. If you are using a custom transport, calling this function
// won't change anything.
func SetMaxIdleConnsPerHost(maxConns int) {
	http.DefaultTransport.(*http.Transport).MaxIdleConnsPerHost = maxConns
}
