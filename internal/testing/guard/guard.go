// Package guard switches the process into test mode when imported, so
// entrypoints skip connecting to Postgres and Redis.
package guard

import (
	"os"
	"sync"
)

// EnvVar mirrors app.TestModeEnv.
const EnvVar = "ODYSSEY_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(EnvVar) == "" {
			_ = os.Setenv(EnvVar, "1")
		}
	})
}
