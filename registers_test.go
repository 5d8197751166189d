package w86

import (
	"testing"

	"github.com/tetratelabs/wazero/api"
)

func TestHighByteAliasing(t *testing.T) {
	// Writing AH then AL must merge into EAX without touching the upper
	// half.
	h := newHostCalls()
	mod := runUnit(t, h, flatCpu(), func(mem api.Memory) {
		writeU32(t, mem, Reg32Offset(EAX), 0xAABBCCDD)
	}, func(u *TranslationUnit) {
		b := u.Builder
		b.ConstI32(0x11)
		u.Ctx.SetReg8(AH)
		b.ConstI32(0x22)
		u.Ctx.SetReg8(AL)
	})

	if got := readU32(t, mod.Memory(), Reg32Offset(EAX)); got != 0xAABB1122 {
		t.Errorf("EAX = %#x, want 0xAABB1122", got)
	}
}

func TestGetReg8Variants(t *testing.T) {
	tests := []struct {
		reg  int
		want uint32
	}{
		{AL, 0x44},
		{AH, 0x33},
		{CL, 0x88},
		{CH, 0x77},
	}
	for _, tt := range tests {
		h := newHostCalls()
		mod := runUnit(t, h, flatCpu(), func(mem api.Memory) {
			writeU32(t, mem, Reg32Offset(EAX), 0x11223344)
			writeU32(t, mem, Reg32Offset(ECX), 0x55667788)
		}, func(u *TranslationUnit) {
			u.Builder.ConstI32(int32(testResultCell))
			u.Ctx.GetReg8(tt.reg)
			u.Builder.StoreAlignedI32(0)
		})

		if got := readU32(t, mod.Memory(), testResultCell); got != tt.want {
			t.Errorf("reg8[%d] = %#x, want %#x", tt.reg, got, tt.want)
		}
	}
}

func TestSetReg16PreservesUpperHalf(t *testing.T) {
	h := newHostCalls()
	mod := runUnit(t, h, flatCpu(), func(mem api.Memory) {
		writeU32(t, mem, Reg32Offset(EDX), 0x99997777)
	}, func(u *TranslationUnit) {
		u.Builder.ConstI32(0x12345)
		u.Ctx.SetReg16(DX)
	})

	if got := readU32(t, mod.Memory(), Reg32Offset(EDX)); got != 0x99992345 {
		t.Errorf("EDX = %#x, want 0x99992345", got)
	}
}

func TestSetRegRegMoves(t *testing.T) {
	h := newHostCalls()
	mod := runUnit(t, h, flatCpu(), func(mem api.Memory) {
		writeU32(t, mem, Reg32Offset(EAX), 0x11223344)
		writeU32(t, mem, Reg32Offset(EBX), 0xFFFFFFFF)
		writeU32(t, mem, Reg32Offset(ESI), 0xFFFFFFFF)
		writeU32(t, mem, Reg32Offset(EDI), 0xFFFFFFFF)
	}, func(u *TranslationUnit) {
		u.Ctx.SetReg8R(BL, AH)
		u.Ctx.SetReg16R(SI, AX)
		u.Ctx.SetReg32R(EDI, EAX)
	})

	mem := mod.Memory()
	if got := readU32(t, mem, Reg32Offset(EBX)); got != 0xFFFFFF33 {
		t.Errorf("EBX = %#x, want 0xFFFFFF33", got)
	}
	if got := readU32(t, mem, Reg32Offset(ESI)); got != 0xFFFF3344 {
		t.Errorf("ESI = %#x, want 0xFFFF3344", got)
	}
	if got := readU32(t, mem, Reg32Offset(EDI)); got != 0x11223344 {
		t.Errorf("EDI = %#x, want 0x11223344", got)
	}
}

func TestGetSreg(t *testing.T) {
	h := newHostCalls()
	mod := runUnit(t, h, flatCpu(), func(mem api.Memory) {
		mem.WriteUint16Le(SregOffset(DS), 0x2B)
	}, func(u *TranslationUnit) {
		u.Builder.ConstI32(int32(testResultCell))
		u.Ctx.GetSreg(DS)
		u.Builder.StoreAlignedI32(0)
	})

	if got := readU32(t, mod.Memory(), testResultCell); got != 0x2B {
		t.Errorf("sreg[DS] = %#x, want 0x2B", got)
	}
}

func TestRegisterCacheSpillReload(t *testing.T) {
	// The cache is the canonical store mid-block: a helper that rewrites
	// the in-memory registers is only visible after an explicit reload.
	h := newHostCalls()
	mod := runUnit(t, h, flatCpu(), func(mem api.Memory) {
		writeU32(t, mem, Reg32Offset(EBP), 5)
	}, func(u *TranslationUnit) {
		b := u.Builder

		// Overwrite the memory cell behind the cache's back.
		b.ConstI32(int32(Reg32Offset(EBP)))
		b.ConstI32(77)
		b.StoreAlignedI32(0)

		// The cached value still wins...
		b.ConstI32(int32(testResultCell))
		u.Ctx.GetReg32(EBP)
		b.StoreAlignedI32(0)

		// ...until a reload pulls the memory value in.
		u.Ctx.MoveRegistersFromMemoryToLocals()
		b.ConstI32(int32(testResultCell + 4))
		u.Ctx.GetReg32(EBP)
		b.StoreAlignedI32(0)
	})

	mem := mod.Memory()
	if got := readU32(t, mem, testResultCell); got != 5 {
		t.Errorf("cached EBP = %d, want 5", got)
	}
	if got := readU32(t, mem, testResultCell+4); got != 77 {
		t.Errorf("reloaded EBP = %d, want 77", got)
	}
}

func TestSignExtension(t *testing.T) {
	tests := []struct {
		name string
		wide bool
		in   int32
		want uint32
	}{
		{"i8 negative", false, 0x80, 0xFFFFFF80},
		{"i8 positive", false, 0x7F, 0x7F},
		{"i16 negative", true, 0x8000, 0xFFFF8000},
		{"i16 positive", true, 0x1234, 0x1234},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHostCalls()
			mod := runUnit(t, h, flatCpu(), nil, func(u *TranslationUnit) {
				b := u.Builder
				b.ConstI32(int32(testResultCell))
				b.ConstI32(tt.in)
				if tt.wide {
					SignExtendI16(b)
				} else {
					SignExtendI8(b)
				}
				b.StoreAlignedI32(0)
			})

			if got := readU32(t, mod.Memory(), testResultCell); got != tt.want {
				t.Errorf("sign extend %#x = %#x, want %#x", tt.in, got, tt.want)
			}
		})
	}
}

func TestBadRegisterIndexPanics(t *testing.T) {
	b := NewWasmBuilder(testMemPages)
	ctx := NewJitContext(b, flatCpu())

	for _, f := range []func(){
		func() { ctx.GetReg8(8) },
		func() { ctx.SetReg8(-1) },
	} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("bad register index did not panic")
				}
			}()
			f()
		}()
	}
}
