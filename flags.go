// flags.go - Lazy EFLAGS: last-operation state, flag materialization, condition predicates
package w86

// The ten conditions without an inline formula dispatch to these imported
// helpers, indexed by the x86 condition nibble.
var conditionFunctions = [16]string{
	"test_o", "test_no", "test_b", "test_nb", "test_z", "test_nz", "test_be", "test_nbe",
	"test_s", "test_ns", "test_p", "test_np", "test_l", "test_nl", "test_le", "test_nle",
}

// Operand is a value source for SetLastOp2: either a Local or an Imm.
type Operand interface {
	genGet(b *WasmBuilder)
}

// Imm is an immediate operand.
type Imm int32

func (i Imm) genGet(b *WasmBuilder) { b.ConstI32(int32(i)) }

func (l Local) genGet(b *WasmBuilder) { b.GetLocal(l) }

// SetLastOp1 stores the first operand of the flag-affecting operation.
func SetLastOp1(b *WasmBuilder, source Local) {
	b.ConstI32(int32(LastOp1))
	b.GetLocal(source)
	b.StoreAlignedI32(0)
}

// SetLastOp2 stores the second operand of the flag-affecting operation.
func SetLastOp2(b *WasmBuilder, source Operand) {
	b.ConstI32(int32(LastOp2))
	source.genGet(b)
	b.StoreAlignedI32(0)
}

// SetLastAddResult stores the additive result used by the carry identity.
func SetLastAddResult(b *WasmBuilder, source Local) {
	b.ConstI32(int32(LastAddResult))
	b.GetLocal(source)
	b.StoreAlignedI32(0)
}

// SetLastResult stores the operation result used by the zero/sign formulas.
func SetLastResult(b *WasmBuilder, source Local) {
	b.ConstI32(int32(LastResult))
	b.GetLocal(source)
	b.StoreAlignedI32(0)
}

// SetLastOpSize stores the operand size (the shift count selecting the sign
// bit: 7, 15 or 31).
func SetLastOpSize(b *WasmBuilder, value int32) {
	b.ConstI32(int32(LastOpSize))
	b.ConstI32(value)
	b.StoreAlignedI32(0)
}

// SetFlagsChanged overwrites the dirty-flag bitmask.
func SetFlagsChanged(b *WasmBuilder, value int32) {
	b.ConstI32(int32(FlagsChanged))
	b.ConstI32(value)
	b.StoreAlignedI32(0)
}

// SetFlagsBits sets bits in the architectural flags word.
func SetFlagsBits(b *WasmBuilder, bitsToSet int32) {
	b.ConstI32(int32(Flags))
	b.LoadAlignedI32(Flags)
	b.ConstI32(bitsToSet)
	b.OrI32()
	b.StoreAlignedI32(0)
}

// ClearFlagsBits clears bits in the architectural flags word.
func ClearFlagsBits(b *WasmBuilder, bitsToClear int32) {
	b.ConstI32(int32(Flags))
	b.LoadAlignedI32(Flags)
	b.ConstI32(^bitsToClear)
	b.AndI32()
	b.StoreAlignedI32(0)
}

// GetZF leaves the zero flag on the stack. If the flag is dirty it is
// recomputed from the last result: ~result & (result - 1) has the sign bit
// of the op width set exactly when all bits at and below it are zero.
func GetZF(b *WasmBuilder) {
	b.LoadAlignedI32(FlagsChanged)
	b.ConstI32(FlagZero)
	b.AndI32()
	b.IfI32()

	b.LoadAlignedI32(LastResult)
	lastResult := b.TeeNewLocal()
	b.ConstI32(-1)
	b.XorI32()
	b.GetLocal(lastResult)
	b.FreeLocal(lastResult)
	b.ConstI32(1)
	b.SubI32()
	b.AndI32()
	b.LoadAlignedI32(LastOpSize)
	b.ShrUI32()
	b.ConstI32(1)
	b.AndI32()

	b.Else()
	b.LoadAlignedI32(Flags)
	b.ConstI32(FlagZero)
	b.AndI32()
	b.BlockEnd()
}

// GetCF leaves the carry flag on the stack. The identity
// ((op1^op2) & (op2^add_result)) ^ op1 recovers the carry out of the sign
// bit for both addition and subtraction, given how LastAddResult is stored.
func GetCF(b *WasmBuilder) {
	b.LoadAlignedI32(FlagsChanged)
	b.ConstI32(FlagCarry)
	b.AndI32()
	b.IfI32()

	b.LoadAlignedI32(LastOp1)
	lastOp1 := b.TeeNewLocal()

	b.LoadAlignedI32(LastOp2)
	lastOp2 := b.TeeNewLocal()

	b.XorI32()

	b.GetLocal(lastOp2)
	b.LoadAlignedI32(LastAddResult)
	b.XorI32()

	b.AndI32()

	b.GetLocal(lastOp1)
	b.XorI32()

	b.FreeLocal(lastOp1)
	b.FreeLocal(lastOp2)

	b.LoadAlignedI32(LastOpSize)
	b.ShrUI32()
	b.ConstI32(1)
	b.AndI32()

	b.Else()
	b.LoadAlignedI32(Flags)
	b.ConstI32(FlagCarry)
	b.AndI32()
	b.BlockEnd()
}

// TestBE leaves CF|ZF on the stack.
func TestBE(b *WasmBuilder) {
	GetCF(b)
	GetZF(b)
	b.OrI32()
}

// TestLoop decrements [E]CX under the address-size attribute and leaves the
// new value on the stack.
func (ctx *JitContext) TestLoop(asize32 bool) {
	b := ctx.Builder
	if asize32 {
		ctx.GetReg32(ECX)
	} else {
		ctx.GetReg16(CX)
	}
	b.ConstI32(1)
	b.SubI32()
	if asize32 {
		ctx.SetReg32(ECX)
		ctx.GetReg32(ECX)
	} else {
		ctx.SetReg16(CX)
		ctx.GetReg16(CX)
	}
}

// TestLoopnz leaves the LOOPNZ predicate ([E]CX != 0 && !ZF) on the stack,
// decrementing the counter.
func (ctx *JitContext) TestLoopnz(asize32 bool) {
	ctx.TestLoop(asize32)
	ctx.Builder.EqzI32()
	GetZF(ctx.Builder)
	ctx.Builder.OrI32()
	ctx.Builder.EqzI32()
}

// TestLoopz leaves the LOOPZ predicate ([E]CX != 0 && ZF) on the stack,
// decrementing the counter.
func (ctx *JitContext) TestLoopz(asize32 bool) {
	ctx.TestLoop(asize32)
	ctx.Builder.EqzI32()
	GetZF(ctx.Builder)
	ctx.Builder.EqzI32()
	ctx.Builder.OrI32()
	ctx.Builder.EqzI32()
}

// TestJcxz leaves the JCXZ predicate ([E]CX == 0) on the stack without
// touching the counter.
func (ctx *JitContext) TestJcxz(asize32 bool) {
	if asize32 {
		ctx.GetReg32(ECX)
	} else {
		ctx.GetReg16(CX)
	}
	ctx.Builder.EqzI32()
}

// ConditionFn leaves the predicate of the given condition encoding on the
// stack. Encodings 0x00-0x0F (and the 0x70/0x80 aliases) are the sixteen
// x86 conditions: B/NB/Z/NZ/BE/NBE are materialized inline from the lazy
// flags, the other ten call their helper. Encodings 0xE0-0xE3 are the LOOP
// family.
func (ctx *JitContext) ConditionFn(condition uint8) {
	b := ctx.Builder
	switch {
	case condition&0xF0 == 0x00 || condition&0xF0 == 0x70 || condition&0xF0 == 0x80:
		condition &= 0xF
		switch condition {
		case 2:
			GetCF(b)
		case 3:
			GetCF(b)
			b.EqzI32()
		case 4:
			GetZF(b)
		case 5:
			GetZF(b)
			b.EqzI32()
		case 6:
			TestBE(b)
		case 7:
			TestBE(b)
			b.EqzI32()
		default:
			Fn0ConstRet(b, conditionFunctions[condition])
		}
	case condition&^0x3 == 0xE0:
		switch condition {
		case 0xE0:
			ctx.TestLoopnz(ctx.Cpu.Asize32)
		case 0xE1:
			ctx.TestLoopz(ctx.Cpu.Asize32)
		case 0xE2:
			ctx.TestLoop(ctx.Cpu.Asize32)
		case 0xE3:
			ctx.TestJcxz(ctx.Cpu.Asize32)
		}
	default:
		panic("w86: bad condition encoding")
	}
}
