package observability

import "os"

// terminateProcess is a variable so tests and embedders can swap the
// process-exit behaviour of FatalHandler and EXIT_PROCESS slow-consumer
// escalation without actually killing the test binary.
var terminateProcess = func() {
	os.Exit(1)
}
