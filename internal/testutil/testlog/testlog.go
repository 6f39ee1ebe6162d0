package testlog

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var quietOnce sync.Once

// Start silences global logging for tests and records the test name once at
// debug level so failures can be correlated with log output when re-enabled.
func Start(t *testing.T) {
	t.Helper()
	quietOnce.Do(func() {
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	})
	log.Debug().Str("test", t.Name()).Msg("start")
}
