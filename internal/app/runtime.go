package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// TestModeEnv keeps entrypoints from dialling Postgres, Redis or SMTP.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeOnce sync.Once
)

func loadTestMode() {
	on, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(TestModeEnv)))
	testMode.Store(err == nil && on)
}

// InTestMode reports whether the process should skip runtime side effects.
func InTestMode() bool {
	testModeOnce.Do(loadTestMode)
	return testMode.Load()
}

// RefreshTestMode re-reads the flag after the environment changes.
func RefreshTestMode() {
	testModeOnce.Do(func() {})
	loadTestMode()
}

// Entrypoint actions understood by cmd/odyssey.
const (
	CommandServe = "serve"
	CommandJobs  = "jobs"
	CommandSkip  = "skip"
)

// Command is the action selected from the process arguments.
type Command struct {
	Name string
	Args []string
}

// ResolveCommand maps argv (without the program name) to an action. Test mode
// always resolves to CommandSkip.
func ResolveCommand(args []string) (Command, error) {
	if InTestMode() {
		return Command{Name: CommandSkip}, nil
	}
	if len(args) == 0 {
		return Command{Name: CommandServe}, nil
	}
	switch args[0] {
	case CommandServe:
		return Command{Name: CommandServe, Args: args[1:]}, nil
	case CommandJobs:
		return Command{Name: CommandJobs, Args: args[1:]}, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q (want %s or %s)", args[0], CommandServe, CommandJobs)
	}
}
