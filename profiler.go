// profiler.go - Stat counters and exit tracing, zero bytecode when disabled
package w86

// Stat identifies a profiler counter in the state block's stat array.
type Stat int

const (
	StatCompile Stat = iota
	StatRun
	StatSafeReadFast
	StatSafeReadSlow
	StatSafeWriteFast
	StatSafeWriteSlow
	StatSafeReadWriteFast
	StatSafeReadWriteSlow
	StatUnguardedRegister
	StatCount
)

// StatOffset returns the state-block cell of the given counter.
func StatOffset(s Stat) uint32 {
	if s < 0 || s >= StatCount {
		panic("w86: stat index out of range")
	}
	return uint32(statArrayOffset) + 4*uint32(s)
}

// ProfilerStatIncrement bumps a stat counter in emitted code. No bytecode is
// emitted unless ProfilerMode is on.
func ProfilerStatIncrement(b *WasmBuilder, s Stat) {
	if !ProfilerMode {
		return
	}
	b.IncrementVariable(StatOffset(s), 1)
}

// DebugTrackJitExit marks a translation-unit exit at the given instruction
// address. No bytecode is emitted unless ProfilerMode is on.
func DebugTrackJitExit(b *WasmBuilder, address uint32) {
	if ProfilerMode {
		Fn1Const(b, "track_jit_exit", address)
	}
}
