// traps.go - Trap emitters: #UD, #GP, task-switch precheck
package w86

// TriggerUD emits an undefined-opcode trap: spill the GPR cache, restore a
// usable fault EIP, call the helper and leave the translation unit.
func (ctx *JitContext) TriggerUD() {
	ctx.MoveRegistersFromLocalsToMemory()
	SetPreviousEipOffsetFromEipWithLowBits(ctx.Builder, int32(ctx.StartOfCurrentInstruction)&0xFFF)
	Fn0Const(ctx.Builder, "trigger_ud")
	DebugTrackJitExit(ctx.Builder, ctx.StartOfCurrentInstruction)
	ctx.Builder.Return()
}

// TriggerGP emits a general-protection trap with the given error code.
func (ctx *JitContext) TriggerGP(errorCode uint32) {
	ctx.MoveRegistersFromLocalsToMemory()
	SetPreviousEipOffsetFromEipWithLowBits(ctx.Builder, int32(ctx.StartOfCurrentInstruction)&0xFFF)
	Fn1Const(ctx.Builder, "trigger_gp", errorCode)
	DebugTrackJitExit(ctx.Builder, ctx.StartOfCurrentInstruction)
	ctx.Builder.Return()
}

// TaskSwitchTest guards FPU instructions:
// if(cr[0] & (CR0_EM | CR0_TS)) { task_switch_test_jit(); return; }
func (ctx *JitContext) TaskSwitchTest() {
	ctx.taskSwitchTest("task_switch_test_jit")
}

// TaskSwitchTestMMX is the MMX variant of the guard; EM raises #UD there
// instead of #NM, which the helper sorts out.
func (ctx *JitContext) TaskSwitchTestMMX() {
	ctx.taskSwitchTest("task_switch_test_mmx_jit")
}

func (ctx *JitContext) taskSwitchTest(helper string) {
	b := ctx.Builder

	// CR0_EM and CR0_TS sit in the low byte, one byte load suffices.
	b.LoadU8(CregOffset(0))
	b.ConstI32(CR0EM | CR0TS)
	b.AndI32()

	b.IfVoid()

	DebugTrackJitExit(b, ctx.StartOfCurrentInstruction)

	SetPreviousEipOffsetFromEipWithLowBits(b, int32(ctx.StartOfCurrentInstruction)&0xFFF)

	ctx.MoveRegistersFromLocalsToMemory()
	Fn0Const(b, helper)

	b.Return()

	b.BlockEnd()
}
