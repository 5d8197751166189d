// stack.go - Guest stack operations under the stack-size attribute
package w86

// Pop16Ss16 pops a word with a 16-bit stack pointer.
func (ctx *JitContext) Pop16Ss16() {
	b := ctx.Builder

	// sp = segment_offsets[SS] + reg16[SP] (or just reg16[SP] if flat)
	ctx.GetReg16(SP)

	if !ctx.Cpu.FlatSegmentation {
		b.LoadAlignedI32(SegOffset(SS))
		b.AddI32()
	}

	// result = safe_read16(sp)
	addr := b.SetNewLocal()
	ctx.SafeRead16(addr)
	b.FreeLocal(addr)

	// reg16[SP] += 2
	ctx.GetReg16(SP)
	b.ConstI32(2)
	b.AddI32()
	ctx.SetReg16(SP)

	// the value read is left on the stack
}

// Pop16Ss32 pops a word with a 32-bit stack pointer.
func (ctx *JitContext) Pop16Ss32() {
	b := ctx.Builder

	ctx.GetReg32(ESP)

	if !ctx.Cpu.FlatSegmentation {
		b.LoadAlignedI32(SegOffset(SS))
		b.AddI32()
	}

	addr := b.SetNewLocal()
	ctx.SafeRead16(addr)
	b.FreeLocal(addr)

	ctx.GetReg32(ESP)
	b.ConstI32(2)
	b.AddI32()
	ctx.SetReg32(ESP)
}

// Pop16 pops a word, dispatching on the stack-size attribute. The value is
// left on the stack.
func (ctx *JitContext) Pop16() {
	if ctx.Cpu.Ssize32 {
		ctx.Pop16Ss32()
	} else {
		ctx.Pop16Ss16()
	}
}

// Pop32sSs16 pops a dword with a 16-bit stack pointer.
func (ctx *JitContext) Pop32sSs16() {
	b := ctx.Builder

	ctx.GetReg16(SP)

	if !ctx.Cpu.FlatSegmentation {
		b.LoadAlignedI32(SegOffset(SS))
		b.AddI32()
	}

	addr := b.SetNewLocal()
	ctx.SafeRead32(addr)
	b.FreeLocal(addr)

	ctx.GetReg16(SP)
	b.ConstI32(4)
	b.AddI32()
	ctx.SetReg16(SP)
}

// Pop32sSs32 pops a dword with a 32-bit stack pointer. With flat
// segmentation the ESP local doubles as the address local, saving the copy.
func (ctx *JitContext) Pop32sSs32() {
	b := ctx.Builder

	if !ctx.Cpu.FlatSegmentation {
		ctx.GetReg32(ESP)
		b.LoadAlignedI32(SegOffset(SS))
		b.AddI32()
		addr := b.SetNewLocal()
		ctx.SafeRead32(addr)
		b.FreeLocal(addr)
	} else {
		ctx.SafeRead32(ctx.RegisterLocals[ESP])
	}

	ctx.GetReg32(ESP)
	b.ConstI32(4)
	b.AddI32()
	ctx.SetReg32(ESP)
}

// Pop32s pops a dword, dispatching on the stack-size attribute. The value is
// left on the stack.
func (ctx *JitContext) Pop32s() {
	if ctx.Cpu.Ssize32 {
		ctx.Pop32sSs32()
	} else {
		ctx.Pop32sSs16()
	}
}

// AdjustStackReg adds offset to the stack pointer under the stack-size
// attribute.
func (ctx *JitContext) AdjustStackReg(offset uint32) {
	b := ctx.Builder
	if ctx.Cpu.Ssize32 {
		ctx.GetReg32(ESP)
		b.ConstI32(int32(offset))
		b.AddI32()
		ctx.SetReg32(ESP)
	} else {
		ctx.GetReg16(SP)
		b.ConstI32(int32(offset))
		b.AddI32()
		ctx.SetReg16(SP)
	}
}

// Push16 pushes the word held in value.
func (ctx *JitContext) Push16(value Local) {
	ctx.push(BitsWord, value)
}

// Push32 pushes the dword held in value.
func (ctx *JitContext) Push32(value Local) {
	ctx.push(BitsDword, value)
}

func (ctx *JitContext) push(bits BitSize, value Local) {
	b := ctx.Builder

	if ctx.Cpu.Ssize32 {
		ctx.GetReg32(ESP)
	} else {
		ctx.GetReg16(SP)
	}

	b.ConstI32(bits.Bytes())
	b.SubI32()

	var newSp Local
	if !ctx.Cpu.Ssize32 || !ctx.Cpu.FlatSegmentation {
		newSp = b.TeeNewLocal()
		if !ctx.Cpu.Ssize32 {
			b.ConstI32(0xFFFF)
			b.AndI32()
		}

		if !ctx.Cpu.FlatSegmentation {
			b.LoadAlignedI32(SegOffset(SS))
			b.AddI32()
		}

		addr := b.SetNewLocal()
		if bits == BitsWord {
			ctx.SafeWrite16(addr, value)
		} else {
			ctx.SafeWrite32(addr, value)
		}
		b.FreeLocal(addr)

		b.GetLocal(newSp)
	} else {
		// short path: the address written to equals the decremented ESP
		newSp = b.TeeNewLocal()
		if bits == BitsWord {
			ctx.SafeWrite16(newSp, value)
		} else {
			ctx.SafeWrite32(newSp, value)
		}
	}

	if ctx.Cpu.Ssize32 {
		ctx.SetReg32(ESP)
	} else {
		ctx.SetReg16(SP)
	}
	b.FreeLocal(newSp)
}

// Leave emits LEAVE: [e]bp is replaced by the word or dword it points at,
// and [e]sp becomes the old [e]bp plus the operand width. The old base
// pointer supplies the new stack pointer, so the read happens first.
func (ctx *JitContext) Leave(os32 bool) {
	b := ctx.Builder

	if ctx.Cpu.Ssize32 {
		ctx.GetReg32(EBP)
	} else {
		ctx.GetReg16(BP)
	}

	oldVbp := b.TeeNewLocal()

	if !ctx.Cpu.FlatSegmentation {
		b.LoadAlignedI32(SegOffset(SS))
		b.AddI32()
	}
	if os32 {
		addr := b.SetNewLocal()
		ctx.SafeRead32(addr)
		b.FreeLocal(addr)
		ctx.SetReg32(EBP)
	} else {
		addr := b.SetNewLocal()
		ctx.SafeRead16(addr)
		b.FreeLocal(addr)
		ctx.SetReg16(BP)
	}

	width := int32(2)
	if os32 {
		width = 4
	}
	if ctx.Cpu.Ssize32 {
		b.GetLocal(oldVbp)
		b.ConstI32(width)
		b.AddI32()
		ctx.SetReg32(ESP)
	} else {
		b.GetLocal(oldVbp)
		b.ConstI32(width)
		b.AddI32()
		ctx.SetReg16(SP)
	}

	b.FreeLocal(oldVbp)
}
