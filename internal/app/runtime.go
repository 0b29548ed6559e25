package app

import "os"

const testModeEnv = "MERIDIAN_TEST_MODE"

// InTestMode reports whether runtime side effects (servers, workers, queues)
// should be skipped. The environment is read on every call; the binaries
// consult it once at startup.
func InTestMode() bool {
	return os.Getenv(testModeEnv) == "1"
}
