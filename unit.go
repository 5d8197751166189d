// unit.go - Minimal translation-unit assembly around the emitters
package w86

// TranslationUnit wraps a builder and context with the standard function
// shape: GPR cache loaded on entry, a page-fault catcher block around the
// body, spill-and-return on both exits. The outer JIT drives the emitters
// through Ctx between Begin and Finish.
type TranslationUnit struct {
	Builder *WasmBuilder
	Ctx     *JitContext
}

// BeginUnit opens a translation unit. The caller emits the instruction
// bodies through the returned unit's Ctx.
func BeginUnit(memPages uint32, cpu CpuContext) *TranslationUnit {
	b := NewWasmBuilder(memPages)
	ctx := NewJitContext(b, cpu)

	// The page-fault catcher. Memory emitters compute their bail-out branch
	// depth from CurrentBrtableDepth; directly inside this block the two
	// ifs a memory emitter opens put the branch at depth 2.
	b.BlockVoid()
	ctx.CurrentBrtableDepth = 2

	return &TranslationUnit{Builder: b, Ctx: ctx}
}

// Finish closes the unit and assembles the module. The normal path spills
// the GPR cache and returns before the catcher ends; the code after the
// catcher block runs only via a page-fault bail-out and spills too, so the
// outer loop sees consistent registers either way.
func (u *TranslationUnit) Finish(exportName string) []byte {
	u.Ctx.MoveRegistersFromLocalsToMemory()
	u.Builder.Return()
	u.Builder.BlockEnd()

	u.Ctx.MoveRegistersFromLocalsToMemory()
	u.Ctx.FreeRegisterLocals()

	return u.Builder.Finish(exportName)
}
