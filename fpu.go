// fpu.go - FPU operand load adapters
package w86

// FpuGetSti leaves st(i) on the stack as f64.
func (ctx *JitContext) FpuGetSti(i uint32) {
	ctx.Builder.ConstI32(int32(i))
	CallFn1RetF64(ctx.Builder, "fpu_get_sti")
}

// FpuLoadM32 reads the m32 operand and leaves it on the stack as f64.
func (ctx *JitContext) FpuLoadM32(modrmByte byte) {
	ctx.ModrmResolveSafeRead32(modrmByte)
	ctx.Builder.ReinterpretI32AsF32()
	ctx.Builder.PromoteF32ToF64()
}

// FpuLoadM64 reads the m64 operand and leaves it on the stack as f64.
func (ctx *JitContext) FpuLoadM64(modrmByte byte) {
	ctx.ModrmResolveSafeRead64(modrmByte)
	ctx.Builder.ReinterpretI64AsF64()
}
