package w86

import (
	"math"
	"testing"

	"github.com/tetratelabs/wazero/api"
)

// constAddrResolver is a stand-in decoder that resolves every ModR/M byte
// to a fixed address.
type constAddrResolver struct {
	addr uint32
}

func (r constAddrResolver) Gen(ctx *JitContext, modrmByte byte) {
	ctx.Builder.ConstI32(int32(r.addr))
}

func TestFpuGetSti(t *testing.T) {
	h := newHostCalls()
	runUnit(t, h, flatCpu(), nil, func(u *TranslationUnit) {
		u.Ctx.FpuGetSti(2)
		CallFn1F64(u.Builder, "debug_record_f64")
	})

	// The harness fpu_get_sti returns i + 0.5.
	if len(h.f64Values) != 1 || h.f64Values[0] != 2.5 {
		t.Fatalf("fpu_get_sti result = %v, want [2.5]", h.f64Values)
	}
}

func TestFpuLoadM64(t *testing.T) {
	h := newHostCalls()
	runUnit(t, h, flatCpu(), func(mem api.Memory) {
		setTLBEntry(mem, 4, 4, TlbValid)
		mem.WriteUint64Le(Mem8+0x4010, math.Float64bits(3.25))
	}, func(u *TranslationUnit) {
		u.Ctx.Modrm = constAddrResolver{addr: 0x4010}
		u.Ctx.FpuLoadM64(0x05)
		CallFn1F64(u.Builder, "debug_record_f64")
	})

	if len(h.f64Values) != 1 || h.f64Values[0] != 3.25 {
		t.Fatalf("m64 load = %v, want [3.25]", h.f64Values)
	}
}

func TestFpuLoadM32(t *testing.T) {
	// An m32 operand is reinterpreted as f32 and promoted to f64.
	h := newHostCalls()
	runUnit(t, h, flatCpu(), func(mem api.Memory) {
		setTLBEntry(mem, 4, 4, TlbValid)
		mem.WriteUint32Le(Mem8+0x4020, math.Float32bits(-1.5))
	}, func(u *TranslationUnit) {
		u.Ctx.Modrm = constAddrResolver{addr: 0x4020}
		u.Ctx.FpuLoadM32(0x05)
		CallFn1F64(u.Builder, "debug_record_f64")
	})

	if len(h.f64Values) != 1 || h.f64Values[0] != -1.5 {
		t.Fatalf("m32 load = %v, want [-1.5]", h.f64Values)
	}
}

func TestModrmResolverRequired(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("modrm resolve without a resolver did not panic")
		}
	}()
	b := NewWasmBuilder(testMemPages)
	ctx := NewJitContext(b, flatCpu())
	ctx.ModrmResolve(0x00)
}
