package w86

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Enough pages for the state block, the TLB and 256 KiB of guest memory.
const testMemPages = 132

// testResultCell is a spare state-block cell the tests store results into.
const testResultCell = 0x1F0

// hostCalls implements the imported helper set against the module's own
// memory and records what the emitted code invoked. The slow-path memory
// helpers use an identity virtual-to-physical mapping and fault on the
// pages listed in faultPages.
type hostCalls struct {
	faultPages      map[uint32]bool
	writeFaultPages map[uint32]bool

	slowReads      []uint32
	slowWrites     []uint32
	slowWriteVals  []uint64
	slowReadWrites []uint32

	ud            bool
	gp            bool
	gpCode        uint32
	taskSwitch    bool
	taskSwitchMMX bool
	bugReadWrite  bool

	condResults map[string]uint32
	condCalls   []string

	f64Values []float64
}

func newHostCalls() *hostCalls {
	return &hostCalls{
		faultPages:      map[uint32]bool{},
		writeFaultPages: map[uint32]bool{},
		condResults:     map[string]uint32{},
	}
}

func (h *hostCalls) faults(addr uint32, width int) bool {
	for p := addr >> 12; p <= (addr + uint32(width) - 1) >> 12; p++ {
		if h.faultPages[p] {
			return true
		}
	}
	return false
}

func setPageFault(m api.Module) {
	if !m.Memory().WriteByte(PageFault, 1) {
		panic("page fault flag out of bounds")
	}
}

func (h *hostCalls) slowRead(m api.Module, addr uint32, width int) uint64 {
	h.slowReads = append(h.slowReads, addr)
	if h.faults(addr, width) {
		setPageFault(m)
		return 0
	}
	var v uint64
	for i := 0; i < width; i++ {
		b, ok := m.Memory().ReadByte(Mem8 + addr + uint32(i))
		if !ok {
			panic("slow read out of bounds")
		}
		v |= uint64(b) << (8 * i)
	}
	return v
}

func (h *hostCalls) writeFaults(addr uint32, width int) bool {
	for p := addr >> 12; p <= (addr+uint32(width)-1)>>12; p++ {
		if h.writeFaultPages[p] {
			return true
		}
	}
	return false
}

func (h *hostCalls) slowWrite(m api.Module, addr uint32, v uint64, width int) {
	h.slowWrites = append(h.slowWrites, addr)
	h.slowWriteVals = append(h.slowWriteVals, v)
	if h.faults(addr, width) || h.writeFaults(addr, width) {
		setPageFault(m)
		return
	}
	for i := 0; i < width; i++ {
		if !m.Memory().WriteByte(Mem8+addr+uint32(i), byte(v>>(8*i))) {
			panic("slow write out of bounds")
		}
	}
}

func (h *hostCalls) slowReadWrite(m api.Module, addr uint32, width int) uint64 {
	h.slowReadWrites = append(h.slowReadWrites, addr)
	if h.faults(addr, width) {
		setPageFault(m)
		return 0
	}
	var v uint64
	for i := 0; i < width; i++ {
		b, _ := m.Memory().ReadByte(Mem8 + addr + uint32(i))
		v |= uint64(b) << (8 * i)
	}
	return v
}

func instantiateEnv(t *testing.T, r wazero.Runtime, h *hostCalls) {
	t.Helper()
	ctx := context.Background()
	b := r.NewHostModuleBuilder(importModule)

	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, addr uint32) uint32 {
		return uint32(h.slowRead(m, addr, 1))
	}).Export("safe_read8_slow_jit")
	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, addr uint32) uint32 {
		return uint32(h.slowRead(m, addr, 2))
	}).Export("safe_read16_slow_jit")
	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, addr uint32) uint32 {
		return uint32(h.slowRead(m, addr, 4))
	}).Export("safe_read32s_slow_jit")
	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, addr uint32) uint64 {
		return h.slowRead(m, addr, 8)
	}).Export("safe_read64s_slow_jit")
	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, addr, dst uint32) {
		lo := h.slowRead(m, addr, 8)
		hi := h.slowRead(m, addr+8, 8)
		m.Memory().WriteUint64Le(dst, lo)
		m.Memory().WriteUint64Le(dst+8, hi)
	}).Export("safe_read128s_slow_jit")

	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, addr, v uint32) {
		h.slowWrite(m, addr, uint64(v), 1)
	}).Export("safe_write8_slow_jit")
	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, addr, v uint32) {
		h.slowWrite(m, addr, uint64(v), 2)
	}).Export("safe_write16_slow_jit")
	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, addr, v uint32) {
		h.slowWrite(m, addr, uint64(v), 4)
	}).Export("safe_write32_slow_jit")
	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, addr uint32, v uint64) {
		h.slowWrite(m, addr, v, 8)
	}).Export("safe_write64_slow_jit")
	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, addr uint32, lo, hi uint64) {
		h.slowWrite(m, addr, lo, 8)
		h.slowWrite(m, addr+8, hi, 8)
	}).Export("safe_write128_slow_jit")

	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, addr uint32) uint32 {
		return uint32(h.slowReadWrite(m, addr, 1))
	}).Export("safe_read_write8_slow_jit")
	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, addr uint32) uint32 {
		return uint32(h.slowReadWrite(m, addr, 2))
	}).Export("safe_read_write16_slow_jit")
	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context, m api.Module, addr uint32) uint32 {
		return uint32(h.slowReadWrite(m, addr, 4))
	}).Export("safe_read_write32s_slow_jit")

	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context) {
		h.ud = true
	}).Export("trigger_ud")
	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context, code uint32) {
		h.gp = true
		h.gpCode = code
	}).Export("trigger_gp")
	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context) {
		h.taskSwitch = true
	}).Export("task_switch_test_jit")
	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context) {
		h.taskSwitchMMX = true
	}).Export("task_switch_test_mmx_jit")
	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context, bits, addr uint32) {
		h.bugReadWrite = true
	}).Export("bug_gen_safe_read_write_page_fault")
	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context, i uint32) float64 {
		return float64(i) + 0.5
	}).Export("fpu_get_sti")
	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context, addr uint32) {
	}).Export("track_jit_exit")
	b = b.NewFunctionBuilder().WithFunc(func(_ context.Context, v float64) {
		h.f64Values = append(h.f64Values, v)
	}).Export("debug_record_f64")

	for _, name := range conditionFunctions {
		name := name
		b = b.NewFunctionBuilder().WithFunc(func(_ context.Context) uint32 {
			h.condCalls = append(h.condCalls, name)
			return h.condResults[name]
		}).Export(name)
	}

	if _, err := b.Instantiate(ctx); err != nil {
		t.Fatalf("instantiate host module: %v", err)
	}
}

// setTLBEntry installs a translation for virtPage to physPage with the
// given status flags.
func setTLBEntry(mem api.Memory, virtPage, physPage, flags uint32) {
	entry := (physPage<<12 ^ virtPage<<12) | flags
	if !mem.WriteUint32Le(TlbData+4*virtPage, entry) {
		panic("tlb entry out of bounds")
	}
}

func readU32(t *testing.T, mem api.Memory, off uint32) uint32 {
	t.Helper()
	v, ok := mem.ReadUint32Le(off)
	if !ok {
		t.Fatalf("read out of bounds at %#x", off)
	}
	return v
}

func writeU32(t *testing.T, mem api.Memory, off, v uint32) {
	t.Helper()
	if !mem.WriteUint32Le(off, v) {
		t.Fatalf("write out of bounds at %#x", off)
	}
}

// runUnit builds a translation unit with build, instantiates it next to the
// helper set, prepares memory with setup and executes it once.
func runUnit(t *testing.T, h *hostCalls, cpu CpuContext, setup func(mem api.Memory), build func(u *TranslationUnit)) api.Module {
	t.Helper()
	ctx := context.Background()

	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { r.Close(ctx) })
	instantiateEnv(t, r, h)

	unit := BeginUnit(testMemPages, cpu)
	unit.Ctx.StartOfCurrentInstruction = 0x1000
	build(unit)
	module := unit.Finish("bb")

	mod, err := r.Instantiate(ctx, module)
	if err != nil {
		t.Fatalf("instantiate unit: %v", err)
	}
	if setup != nil {
		setup(mod.Memory())
	}
	if _, err := mod.ExportedFunction("bb").Call(ctx); err != nil {
		t.Fatalf("run unit: %v", err)
	}
	return mod
}
