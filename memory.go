// memory.go - TLB-checked guest memory access: inline fast path, structured slow-path bail-out
package w86

// BitSize selects the width of a memory access.
type BitSize int

const (
	BitsByte   BitSize = 8
	BitsWord   BitSize = 16
	BitsDword  BitSize = 32
	BitsQword  BitSize = 64
	BitsDqword BitSize = 128
)

// Bytes returns the access width in bytes.
func (s BitSize) Bytes() int32 { return int32(s) / 8 }

// SafeRead8 reads one byte at the address in addr, leaving an i32 on the
// stack. The TLB fast path is inlined; a failed probe calls the slow-path
// helper and, on a page fault, bails out to the translation unit's
// page-fault catcher.
func (ctx *JitContext) SafeRead8(addr Local) { ctx.safeRead(BitsByte, addr, 0) }

// SafeRead16 reads two bytes, leaving an i32 on the stack.
func (ctx *JitContext) SafeRead16(addr Local) { ctx.safeRead(BitsWord, addr, 0) }

// SafeRead32 reads four bytes, leaving an i32 on the stack.
func (ctx *JitContext) SafeRead32(addr Local) { ctx.safeRead(BitsDword, addr, 0) }

// SafeRead64 reads eight bytes, leaving an i64 on the stack.
func (ctx *JitContext) SafeRead64(addr Local) { ctx.safeRead(BitsQword, addr, 0) }

// SafeRead128 reads sixteen bytes into the state block at whereToWrite
// (typically an XMM scratch slot); nothing is left on the stack.
func (ctx *JitContext) SafeRead128(addr Local, whereToWrite uint32) {
	ctx.safeRead(BitsDqword, addr, whereToWrite)
}

// safeRead assumes the virtual address is held in addr and emits the
// fast path of safe_readXX inline, bailing to safe_readXX_slow_jit if
// the TLB probe fails or the access crosses a page.
func (ctx *JitContext) safeRead(bits BitSize, addr Local, whereToWrite uint32) {
	b := ctx.Builder

	b.GetLocal(addr)

	// entry = tlb_data[address >> 12]
	b.ConstI32(12)
	b.ShrUI32()
	b.ConstI32(2)
	b.ShlI32()
	b.LoadAlignedI32FromStack(TlbData)
	entry := b.TeeNewLocal()

	// can_use_fast_path =
	//   (entry & 0xFFF &^ READONLY &^ GLOBAL &^ HAS_CODE &^ (cpl3 ? 0 : NO_USER)) == VALID
	//   && (bits == 8 || (address & 0xFFF) <= 0x1000 - bits/8)
	// Reads are not blocked by the readonly, global, or has-code bits, so
	// those are masked out of the probe.
	mask := int32(0xFFF &^ TlbReadonly &^ TlbGlobal &^ TlbHasCode)
	if !ctx.Cpu.Cpl3 {
		mask &^= TlbNoUser
	}
	b.ConstI32(mask)
	b.AndI32()

	b.ConstI32(TlbValid)
	b.EqI32()

	if bits != BitsByte {
		b.GetLocal(addr)
		b.ConstI32(0xFFF)
		b.AndI32()
		b.ConstI32(0x1000 - bits.Bytes())
		b.LeI32()

		b.AndI32()
	}

	// if(can_use_fast_path) leave_on_stack(mem8[entry &^ 0xFFF ^ address])
	switch bits {
	case BitsDqword:
		b.IfVoid()
	case BitsQword:
		b.IfI64()
	default:
		b.IfI32()
	}

	ProfilerStatIncrement(b, StatSafeReadFast)

	b.GetLocal(entry)
	b.ConstI32(^0xFFF)
	b.AndI32()
	b.GetLocal(addr)
	b.XorI32()

	switch bits {
	case BitsByte:
		b.LoadU8FromStack(Mem8)
	case BitsWord:
		b.LoadUnalignedU16FromStack(Mem8)
	case BitsDword:
		b.LoadUnalignedI32FromStack(Mem8)
	case BitsQword:
		b.LoadUnalignedI64FromStack(Mem8)
	case BitsDqword:
		// Two 64-bit halves through the caller-provided scratch slot.
		physAddr := b.SetNewLocal()
		b.ConstI32(0)
		b.GetLocal(physAddr)
		b.LoadUnalignedI64FromStack(Mem8)
		b.StoreUnalignedI64(whereToWrite)

		b.ConstI32(0)
		b.GetLocal(physAddr)
		b.LoadUnalignedI64FromStack(Mem8 + 8)
		b.StoreUnalignedI64(whereToWrite + 8)

		b.FreeLocal(physAddr)
	}

	// else {
	//     leave_on_stack(safe_read*_slow_jit(address));
	//     if(page_fault) { bail out to the page-fault catcher }
	// }
	b.Else()

	if ProfilerMode {
		b.GetLocal(addr)
		b.GetLocal(entry)
		CallFn2(b, "report_safe_read_jit_slow")
	}

	b.GetLocal(addr)
	switch bits {
	case BitsByte:
		CallFn1Ret(b, "safe_read8_slow_jit")
	case BitsWord:
		CallFn1Ret(b, "safe_read16_slow_jit")
	case BitsDword:
		CallFn1Ret(b, "safe_read32s_slow_jit")
	case BitsQword:
		CallFn1RetI64(b, "safe_read64s_slow_jit")
	case BitsDqword:
		b.ConstI32(int32(whereToWrite))
		CallFn2(b, "safe_read128s_slow_jit")
	}

	b.LoadU8(PageFault)

	b.IfVoid()
	DebugTrackJitExit(b, ctx.StartOfCurrentInstruction)

	SetPreviousEipOffsetFromEipWithLowBits(b, int32(ctx.StartOfCurrentInstruction)&0xFFF)

	// -2 for the exit-with-pagefault block, +2 for leaving the two nested
	// ifs this emitter has opened
	b.Br(ctx.CurrentBrtableDepth - 2 + 2)
	b.BlockEnd()

	b.BlockEnd()

	b.FreeLocal(entry)
}

type safeWriteKind int

const (
	writeI32 safeWriteKind = iota
	writeI64
	writeTwoI64s
)

// safeWriteValue carries the value operand of a safe write; the kind picks
// which local handles are live.
type safeWriteValue struct {
	kind safeWriteKind
	i32  Local
	i64  LocalI64
	hi   LocalI64
}

// SafeWrite8 writes the byte in value to the address in addr.
func (ctx *JitContext) SafeWrite8(addr, value Local) {
	ctx.safeWrite(BitsByte, addr, safeWriteValue{kind: writeI32, i32: value})
}

// SafeWrite16 writes the word in value to the address in addr.
func (ctx *JitContext) SafeWrite16(addr, value Local) {
	ctx.safeWrite(BitsWord, addr, safeWriteValue{kind: writeI32, i32: value})
}

// SafeWrite32 writes the dword in value to the address in addr.
func (ctx *JitContext) SafeWrite32(addr, value Local) {
	ctx.safeWrite(BitsDword, addr, safeWriteValue{kind: writeI32, i32: value})
}

// SafeWrite64 writes the qword in value to the address in addr.
func (ctx *JitContext) SafeWrite64(addr Local, value LocalI64) {
	ctx.safeWrite(BitsQword, addr, safeWriteValue{kind: writeI64, i64: value})
}

// SafeWrite128 writes the two qwords in lo and hi to the address in addr.
func (ctx *JitContext) SafeWrite128(addr Local, lo, hi LocalI64) {
	ctx.safeWrite(BitsDqword, addr, safeWriteValue{kind: writeTwoI64s, i64: lo, hi: hi})
}

func (ctx *JitContext) safeWrite(bits BitSize, addr Local, value safeWriteValue) {
	b := ctx.Builder

	b.GetLocal(addr)

	// entry = tlb_data[address >> 12]
	b.ConstI32(12)
	b.ShrUI32()
	b.ConstI32(2)
	b.ShlI32()
	b.LoadAlignedI32FromStack(TlbData)
	entry := b.TeeNewLocal()

	// can_use_fast_path =
	//   (entry & 0xFFF &^ GLOBAL &^ (cpl3 ? 0 : NO_USER)) == VALID
	//   && (address & 0xFFF) <= 0x1000 - bits/8
	// Unlike reads, readonly and has-code stay in the mask: a write to a
	// read-only or code-holding page must reach the slow path.
	mask := int32(0xFFF &^ TlbGlobal)
	if !ctx.Cpu.Cpl3 {
		mask &^= TlbNoUser
	}
	b.ConstI32(mask)
	b.AndI32()

	b.ConstI32(TlbValid)
	b.EqI32()

	if bits != BitsByte {
		b.GetLocal(addr)
		b.ConstI32(0xFFF)
		b.AndI32()
		b.ConstI32(0x1000 - bits.Bytes())
		b.LeI32()

		b.AndI32()
	}

	// if(can_use_fast_path) { mem8[entry &^ 0xFFF ^ address] = value }
	b.IfVoid()

	ProfilerStatIncrement(b, StatSafeWriteFast)

	b.GetLocal(entry)
	b.ConstI32(^0xFFF)
	b.AndI32()
	b.GetLocal(addr)
	b.XorI32()

	switch value.kind {
	case writeI32:
		b.GetLocal(value.i32)
	case writeI64:
		b.GetLocalI64(value.i64)
	case writeTwoI64s:
		if bits != BitsDqword {
			panic("w86: pair write with non-128-bit width")
		}
		physAddr := b.TeeNewLocal()
		b.GetLocalI64(value.i64)
		b.StoreUnalignedI64(Mem8)

		b.GetLocal(physAddr)
		b.GetLocalI64(value.hi)
		b.StoreUnalignedI64(Mem8 + 8)
		b.FreeLocal(physAddr)
	}
	switch bits {
	case BitsByte:
		b.StoreU8(Mem8)
	case BitsWord:
		b.StoreUnalignedU16(Mem8)
	case BitsDword:
		b.StoreUnalignedI32(Mem8)
	case BitsQword:
		b.StoreUnalignedI64(Mem8)
	case BitsDqword:
		// handled above
	}

	// else {
	//     safe_write*_slow_jit(address, value);
	//     if(page_fault) { bail out to the page-fault catcher }
	// }
	b.Else()

	if ProfilerMode {
		b.GetLocal(addr)
		b.GetLocal(entry)
		CallFn2(b, "report_safe_write_jit_slow")
	}

	b.GetLocal(addr)
	switch value.kind {
	case writeI32:
		b.GetLocal(value.i32)
	case writeI64:
		b.GetLocalI64(value.i64)
	case writeTwoI64s:
		b.GetLocalI64(value.i64)
		b.GetLocalI64(value.hi)
	}
	switch bits {
	case BitsByte:
		CallFn2(b, "safe_write8_slow_jit")
	case BitsWord:
		CallFn2(b, "safe_write16_slow_jit")
	case BitsDword:
		CallFn2(b, "safe_write32_slow_jit")
	case BitsQword:
		CallFn2I32I64(b, "safe_write64_slow_jit")
	case BitsDqword:
		CallFn3I32I64I64(b, "safe_write128_slow_jit")
	}

	b.LoadU8(PageFault)

	b.IfVoid()
	DebugTrackJitExit(b, ctx.StartOfCurrentInstruction)

	SetPreviousEipOffsetFromEipWithLowBits(b, int32(ctx.StartOfCurrentInstruction)&0xFFF)

	// -2 for the exit-with-pagefault block, +2 for leaving the two nested
	// ifs this emitter has opened
	b.Br(ctx.CurrentBrtableDepth - 2 + 2)
	b.BlockEnd()

	b.BlockEnd()

	b.FreeLocal(entry)
}

// SafeReadWrite emits a read-modify-write of the given width at the address
// in addr. The TLB is probed once; f is invoked to transform the value the
// read left on the stack, and the transformed value is written back to the
// same translation. A slow-path read forces a slow-path write; a page fault
// on that second call is impossible (the first call validated the mapping)
// and is reported to the bug helper instead of the catcher.
func (ctx *JitContext) SafeReadWrite(bits BitSize, addr Local, f func(*JitContext)) {
	b := ctx.Builder

	b.GetLocal(addr)

	// entry = tlb_data[address >> 12]
	b.ConstI32(12)
	b.ShrUI32()
	b.ConstI32(2)
	b.ShlI32()
	b.LoadAlignedI32FromStack(TlbData)
	entry := b.TeeNewLocal()

	// can_use_fast_path =
	//   (entry & 0xFFF &^ READONLY &^ GLOBAL &^ (cpl3 ? 0 : NO_USER)) == VALID
	//   && (address & 0xFFF) <= 0x1000 - bits/8
	// Readonly is masked out here: the read half of an RMW on a read-only
	// page may complete fast, the write half below takes the slow path
	// through the same predicate local.
	mask := int32(0xFFF &^ TlbReadonly &^ TlbGlobal)
	if !ctx.Cpu.Cpl3 {
		mask &^= TlbNoUser
	}
	b.ConstI32(mask)
	b.AndI32()

	b.ConstI32(TlbValid)
	b.EqI32()

	if bits != BitsByte {
		b.GetLocal(addr)
		b.ConstI32(0xFFF)
		b.AndI32()
		b.ConstI32(0x1000 - bits.Bytes())
		b.LeI32()
		b.AndI32()
	}

	canUseFastPath := b.TeeNewLocal()

	b.IfI32()

	ProfilerStatIncrement(b, StatSafeReadWriteFast)

	b.GetLocal(entry)
	b.ConstI32(^0xFFF)
	b.AndI32()
	b.GetLocal(addr)
	b.XorI32()

	physAddr := b.TeeNewLocal()

	switch bits {
	case BitsByte:
		b.LoadU8FromStack(Mem8)
	case BitsWord:
		b.LoadUnalignedU16FromStack(Mem8)
	case BitsDword:
		b.LoadUnalignedI32FromStack(Mem8)
	default:
		panic("w86: read-modify-write width must be 8, 16 or 32 bits")
	}

	b.Else()
	{
		if ProfilerMode {
			b.GetLocal(addr)
			b.GetLocal(entry)
			CallFn2(b, "report_safe_read_write_jit_slow")
		}

		b.GetLocal(addr)

		switch bits {
		case BitsByte:
			CallFn1Ret(b, "safe_read_write8_slow_jit")
		case BitsWord:
			CallFn1Ret(b, "safe_read_write16_slow_jit")
		case BitsDword:
			CallFn1Ret(b, "safe_read_write32s_slow_jit")
		}

		b.LoadU8(PageFault)

		b.IfVoid()
		{
			DebugTrackJitExit(b, ctx.StartOfCurrentInstruction)

			SetPreviousEipOffsetFromEipWithLowBits(b, int32(ctx.StartOfCurrentInstruction)&0xFFF)

			// -2 for the exit-with-pagefault block, +2 for leaving the two
			// nested ifs this emitter has opened
			b.Br(ctx.CurrentBrtableDepth - 2 + 2)
		}
		b.BlockEnd()
	}
	b.BlockEnd()

	// value is now on the stack

	f(ctx)
	value := b.SetNewLocal()

	b.GetLocal(canUseFastPath)

	b.IfVoid()
	{
		b.GetLocal(physAddr)
		b.GetLocal(value)

		switch bits {
		case BitsByte:
			b.StoreU8(Mem8)
		case BitsWord:
			b.StoreUnalignedU16(Mem8)
		case BitsDword:
			b.StoreUnalignedI32(Mem8)
		}
	}
	b.Else()
	{
		b.GetLocal(addr)
		b.GetLocal(value)

		switch bits {
		case BitsByte:
			CallFn2(b, "safe_write8_slow_jit")
		case BitsWord:
			CallFn2(b, "safe_write16_slow_jit")
		case BitsDword:
			CallFn2(b, "safe_write32_slow_jit")
		}

		b.LoadU8(PageFault)

		b.IfVoid()
		{
			// The slow read validated this mapping, so a fault here is a
			// bug, not a guest condition.
			b.ConstI32(int32(bits))
			b.GetLocal(addr)
			CallFn2(b, "bug_gen_safe_read_write_page_fault")
		}
		b.BlockEnd()
	}
	b.BlockEnd()

	b.FreeLocal(value)
	b.FreeLocal(canUseFastPath)
	b.FreeLocal(physAddr)
	b.FreeLocal(entry)
}

// ModrmResolveSafeRead8 resolves the ModR/M operand and reads a byte at it.
func (ctx *JitContext) ModrmResolveSafeRead8(modrmByte byte) {
	ctx.ModrmResolve(modrmByte)
	addr := ctx.Builder.SetNewLocal()
	ctx.SafeRead8(addr)
	ctx.Builder.FreeLocal(addr)
}

// ModrmResolveSafeRead16 resolves the ModR/M operand and reads a word at it.
func (ctx *JitContext) ModrmResolveSafeRead16(modrmByte byte) {
	ctx.ModrmResolve(modrmByte)
	addr := ctx.Builder.SetNewLocal()
	ctx.SafeRead16(addr)
	ctx.Builder.FreeLocal(addr)
}

// ModrmResolveSafeRead32 resolves the ModR/M operand and reads a dword at it.
func (ctx *JitContext) ModrmResolveSafeRead32(modrmByte byte) {
	ctx.ModrmResolve(modrmByte)
	addr := ctx.Builder.SetNewLocal()
	ctx.SafeRead32(addr)
	ctx.Builder.FreeLocal(addr)
}

// ModrmResolveSafeRead64 resolves the ModR/M operand and reads a qword at it.
func (ctx *JitContext) ModrmResolveSafeRead64(modrmByte byte) {
	ctx.ModrmResolve(modrmByte)
	addr := ctx.Builder.SetNewLocal()
	ctx.SafeRead64(addr)
	ctx.Builder.FreeLocal(addr)
}

// ModrmResolveSafeRead128 resolves the ModR/M operand and reads sixteen
// bytes at it into the state block at whereToWrite.
func (ctx *JitContext) ModrmResolveSafeRead128(modrmByte byte, whereToWrite uint32) {
	ctx.ModrmResolve(modrmByte)
	addr := ctx.Builder.SetNewLocal()
	ctx.SafeRead128(addr, whereToWrite)
	ctx.Builder.FreeLocal(addr)
}
