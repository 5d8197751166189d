// context.go - Per-translation-unit compilation context
package w86

// CpuContext carries the CPU attributes the emitters specialize on. The
// values are fixed for the lifetime of one translation unit.
type CpuContext struct {
	Cpl3             bool // user mode: TLB entries with the no-user bit are unusable
	Ssize32          bool // stack-size attribute
	Asize32          bool // address-size attribute
	FlatSegmentation bool // SS base is zero
}

// ModrmResolver is the decoder collaborator that emits the effective-address
// computation for a ModR/M byte, leaving the address on the stack.
type ModrmResolver interface {
	Gen(ctx *JitContext, modrmByte byte)
}

// JitContext is the compilation context of one translation unit: the builder
// the bytecode goes to, the eight locals caching the GPRs, and the bits of
// decoder state the emitters need.
type JitContext struct {
	Builder *WasmBuilder
	Cpu     CpuContext
	Modrm   ModrmResolver

	// RegisterLocals mirror reg32[0..7] for the whole translation unit. The
	// in-memory cells are stale until spilled.
	RegisterLocals [8]Local

	// StartOfCurrentInstruction is the linear address of the instruction
	// being compiled; its low 12 bits survive into PreviousIP on a fault.
	StartOfCurrentInstruction uint32

	// CurrentBrtableDepth is the block depth of the emission point relative
	// to the translation unit's page-fault catcher. Every emitter that opens
	// blocks around a bail-out branch adjusts its br target from this.
	CurrentBrtableDepth int
}

// NewJitContext allocates the GPR cache and emits the entry sequence that
// loads all eight registers from the state block into locals.
func NewJitContext(b *WasmBuilder, cpu CpuContext) *JitContext {
	ctx := &JitContext{Builder: b, Cpu: cpu}
	for i := range ctx.RegisterLocals {
		b.LoadAlignedI32(Reg32Offset(i))
		ctx.RegisterLocals[i] = b.SetNewLocal()
	}
	return ctx
}

// FreeRegisterLocals releases the GPR cache. Call after the last spill on
// every exit path of the translation unit.
func (ctx *JitContext) FreeRegisterLocals() {
	for _, l := range ctx.RegisterLocals {
		ctx.Builder.FreeLocal(l)
	}
}

// ModrmResolve emits the effective-address computation for modrmByte.
func (ctx *JitContext) ModrmResolve(modrmByte byte) {
	if ctx.Modrm == nil {
		panic("w86: no modrm resolver installed")
	}
	ctx.Modrm.Gen(ctx, modrmByte)
}
