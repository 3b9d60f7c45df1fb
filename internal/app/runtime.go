package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

const testModeEnv = "GLBRIDGE_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether binaries should return before opening
// connections or listeners. The flag is read once; see RefreshTestMode.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads GLBRIDGE_TEST_MODE and returns the new value. Any
// value strconv.ParseBool accepts is honoured.
func RefreshTestMode() bool {
	on, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	testMode.Store(&on)
	return on
}
