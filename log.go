package qcmengine

import "log"

var verbose bool

// SetVerbose toggles debug logging for the whole package.
func SetVerbose(on bool) {
	verbose = on
}

// VerboseLog writes a debug line when verbose logging is enabled. Operational
// events always worth surfacing go through the standard logger directly.
func VerboseLog(format string, args ...interface{}) {
	if verbose {
		log.Printf(format, args...)
	}
}
