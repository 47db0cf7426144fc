package app

import (
	"os"
	"strconv"
	"sync"
)

const testModeEnv = "TAWSEEL_TEST_MODE"

// InTestMode reports whether the binaries should return before dialing
// Postgres or Redis. The flag is read once per process.
var InTestMode = sync.OnceValue(func() bool {
	return testModeFrom(os.LookupEnv)
})

func testModeFrom(lookup func(string) (string, bool)) bool {
	raw, ok := lookup(testModeEnv)
	if !ok {
		return false
	}
	on, err := strconv.ParseBool(raw)
	return err == nil && on
}
