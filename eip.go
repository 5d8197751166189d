// eip.go - Instruction-pointer mutators and small value primitives
package w86

// AddCsOffset adds the CS base to the address on the stack.
func (ctx *JitContext) AddCsOffset() {
	ctx.Builder.LoadAlignedI32(SegOffset(CS))
	ctx.Builder.AddI32()
}

// SetPreviousEipOffsetFromEip emits previous_ip = instruction_pointer + n.
func SetPreviousEipOffsetFromEip(b *WasmBuilder, n uint32) {
	b.ConstI32(int32(PreviousIP))
	b.LoadAlignedI32(InstructionPointer)
	if n != 0 {
		b.ConstI32(int32(n))
		b.AddI32()
	}
	b.StoreAlignedI32(0)
}

// SetPreviousEipOffsetFromEipWithLowBits emits
// previous_ip = instruction_pointer&^0xFFF | lowBits. The high 20 bits of
// every instruction in a translation unit are the same page, so the low bits
// are enough to reconstruct the faulting EIP.
func SetPreviousEipOffsetFromEipWithLowBits(b *WasmBuilder, lowBits int32) {
	b.ConstI32(int32(PreviousIP))
	b.LoadAlignedI32(InstructionPointer)
	b.ConstI32(^0xFFF)
	b.AndI32()
	b.ConstI32(lowBits)
	b.OrI32()
	b.StoreAlignedI32(0)
}

// IncrementInstructionPointer advances the instruction pointer by n.
func IncrementInstructionPointer(b *WasmBuilder, n uint32) {
	b.ConstI32(int32(InstructionPointer))
	b.LoadAlignedI32(InstructionPointer)
	b.ConstI32(int32(n))
	b.AddI32()
	b.StoreAlignedI32(0)
}

// RelativeJump adds n to the instruction pointer.
func RelativeJump(b *WasmBuilder, n int32) {
	b.ConstI32(int32(InstructionPointer))
	b.LoadAlignedI32(InstructionPointer)
	b.ConstI32(n)
	b.AddI32()
	b.StoreAlignedI32(0)
}

// SetEip stores the value of from into the instruction pointer.
func (ctx *JitContext) SetEip(from Local) {
	ctx.Builder.ConstI32(int32(InstructionPointer))
	ctx.Builder.GetLocal(from)
	ctx.Builder.StoreAlignedI32(0)
}

// GetRealEip leaves instruction_pointer - CS base on the stack.
func (ctx *JitContext) GetRealEip() {
	ctx.Builder.LoadAlignedI32(InstructionPointer)
	ctx.Builder.LoadAlignedI32(SegOffset(CS))
	ctx.Builder.SubI32()
}

// JmpRel16 emits a 16-bit relative jump:
// instruction_pointer = cs + ((instruction_pointer - cs + rel16) & 0xFFFF).
func JmpRel16(b *WasmBuilder, rel16 uint16) {
	b.LoadAlignedI32(SegOffset(CS))
	local := b.SetNewLocal()

	b.ConstI32(int32(InstructionPointer))

	b.LoadAlignedI32(InstructionPointer)
	b.GetLocal(local)
	b.SubI32()

	b.ConstI32(int32(rel16))
	b.AddI32()

	b.ConstI32(0xFFFF)
	b.AndI32()

	b.GetLocal(local)
	b.AddI32()

	b.StoreAlignedI32(0)
	b.FreeLocal(local)
}

// IncrementTimestampCounter bumps the 64-bit timestamp counter by n.
func IncrementTimestampCounter(b *WasmBuilder, n int64) {
	b.IncrementVariableI64(TimestampCounter, n)
}

// SignExtendI8 sign-extends the byte value on the stack to 32 bits.
func SignExtendI8(b *WasmBuilder) {
	b.ConstI32(24)
	b.ShlI32()
	b.ConstI32(24)
	b.ShrSI32()
}

// SignExtendI16 sign-extends the two-byte value on the stack to 32 bits.
func SignExtendI16(b *WasmBuilder) {
	b.ConstI32(16)
	b.ShlI32()
	b.ConstI32(16)
	b.ShrSI32()
}
