// registers.go - Register access against the GPR local cache
package w86

// GetReg8 leaves reg8[r] on the stack. Indices 4..7 select the high byte of
// registers 0..3.
func (ctx *JitContext) GetReg8(r int) {
	b := ctx.Builder
	switch r {
	case AL, CL, DL, BL:
		b.GetLocal(ctx.RegisterLocals[r])
		b.ConstI32(0xFF)
		b.AndI32()
	case AH, CH, DH, BH:
		b.GetLocal(ctx.RegisterLocals[r-4])
		b.ConstI32(8)
		b.ShrUI32()
		b.ConstI32(0xFF)
		b.AndI32()
	default:
		panic("w86: bad 8-bit register index")
	}
}

// GetReg16 leaves reg16[r] on the stack.
func (ctx *JitContext) GetReg16(r int) {
	ctx.Builder.GetLocal(ctx.RegisterLocals[r])
	ctx.Builder.ConstI32(0xFFFF)
	ctx.Builder.AndI32()
}

// GetReg32 leaves reg32[r] on the stack.
func (ctx *JitContext) GetReg32(r int) {
	ctx.Builder.GetLocal(ctx.RegisterLocals[r])
}

// SetReg8 pops the stack top into reg8[r], preserving the other bits of the
// underlying 32-bit register.
func (ctx *JitContext) SetReg8(r int) {
	b := ctx.Builder
	switch r {
	case AL, CL, DL, BL:
		// reg32[r] = value & 0xFF | reg32[r] &^ 0xFF
		b.ConstI32(0xFF)
		b.AndI32()

		b.GetLocal(ctx.RegisterLocals[r])
		b.ConstI32(^0xFF)
		b.AndI32()

		b.OrI32()
		b.SetLocal(ctx.RegisterLocals[r])
	case AH, CH, DH, BH:
		// reg32[r-4] = value << 8 & 0xFF00 | reg32[r-4] &^ 0xFF00
		b.ConstI32(8)
		b.ShlI32()
		b.ConstI32(0xFF00)
		b.AndI32()

		b.GetLocal(ctx.RegisterLocals[r-4])
		b.ConstI32(^0xFF00)
		b.AndI32()

		b.OrI32()
		b.SetLocal(ctx.RegisterLocals[r-4])
	default:
		panic("w86: bad 8-bit register index")
	}
}

// SetReg16 pops the stack top into reg16[r], preserving the upper half.
func (ctx *JitContext) SetReg16(r int) {
	b := ctx.Builder

	b.ConstI32(0xFFFF)
	b.AndI32()

	b.GetLocal(ctx.RegisterLocals[r])
	b.ConstI32(^0xFFFF)
	b.AndI32()

	b.OrI32()
	b.SetLocal(ctx.RegisterLocals[r])
}

// SetReg32 pops the stack top into reg32[r].
func (ctx *JitContext) SetReg32(r int) {
	ctx.Builder.SetLocal(ctx.RegisterLocals[r])
}

// GetSreg leaves the 16-bit segment selector on the stack.
func (ctx *JitContext) GetSreg(s int) {
	ctx.Builder.LoadAlignedU16(SregOffset(s))
}

// SetReg8R emits reg8[dest] = reg8[src].
func (ctx *JitContext) SetReg8R(dest, src int) {
	ctx.GetReg8(src)
	ctx.SetReg8(dest)
}

// SetReg16R emits reg16[dest] = reg16[src].
func (ctx *JitContext) SetReg16R(dest, src int) {
	ctx.GetReg16(src)
	ctx.SetReg16(dest)
}

// SetReg32R emits reg32[dest] = reg32[src].
func (ctx *JitContext) SetReg32R(dest, src int) {
	ctx.GetReg32(src)
	ctx.SetReg32(dest)
}

// MoveRegistersFromLocalsToMemory spills the GPR cache to the state block.
// Required before any helper call that reads registers from memory or that
// may leave the translation unit.
func (ctx *JitContext) MoveRegistersFromLocalsToMemory() {
	ProfilerStatIncrement(ctx.Builder, StatUnguardedRegister)
	for i := range ctx.RegisterLocals {
		ctx.Builder.ConstI32(int32(Reg32Offset(i)))
		ctx.Builder.GetLocal(ctx.RegisterLocals[i])
		ctx.Builder.StoreAlignedI32(0)
	}
}

// MoveRegistersFromMemoryToLocals reloads the GPR cache from the state
// block. Required after any helper that may have written the registers.
func (ctx *JitContext) MoveRegistersFromMemoryToLocals() {
	ProfilerStatIncrement(ctx.Builder, StatUnguardedRegister)
	for i := range ctx.RegisterLocals {
		ctx.Builder.LoadAlignedI32(Reg32Offset(i))
		ctx.Builder.SetLocal(ctx.RegisterLocals[i])
	}
}
