// config.go - Runtime toggles, read from the environment
package w86

import "github.com/xyproto/env/v2"

var (
	// VerboseMode dumps every emitted byte to stderr.
	VerboseMode = env.Bool("W86_VERBOSE")

	// ProfilerMode makes the emitters generate stat-counter increments and
	// exit-tracking calls. When false, no profiling bytecode is emitted at
	// all.
	ProfilerMode = env.Bool("W86_PROFILER")
)
