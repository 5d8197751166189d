// w86 emits a demonstration translation unit and writes the module to disk.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/xyproto/w86"
)

const memPages = 144 // state block + TLB + 1 MiB of guest memory

func main() {
	outPath := flag.String("o", "unit.wasm", "output file for the WASM module")
	ssize16 := flag.Bool("ssize16", false, "use the 16-bit stack-size attribute")
	flag.Parse()

	cpu := w86.CpuContext{
		Ssize32:          !*ssize16,
		Asize32:          true,
		FlatSegmentation: true,
	}

	module := emitDemoUnit(cpu)

	if err := os.WriteFile(*outPath, module, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "w86: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%d bytes)\n", *outPath, len(module))
}

// emitDemoUnit drives a representative slice of the emitter library: an
// ADD AL, BL with lazy-flag bookkeeping, a push, and a TLB-checked load.
func emitDemoUnit(cpu w86.CpuContext) []byte {
	unit := w86.BeginUnit(memPages, cpu)
	ctx := unit.Ctx
	b := unit.Builder

	ctx.StartOfCurrentInstruction = 0x1000

	// ADD AL, BL
	ctx.GetReg8(w86.AL)
	op1 := b.SetNewLocal()
	ctx.GetReg8(w86.BL)
	op2 := b.SetNewLocal()

	b.GetLocal(op1)
	b.GetLocal(op2)
	b.AddI32()
	result := b.TeeNewLocal()
	ctx.SetReg8(w86.AL)

	w86.SetLastOp1(b, op1)
	w86.SetLastOp2(b, op2)
	w86.SetLastAddResult(b, result)
	w86.SetLastResult(b, result)
	w86.SetLastOpSize(b, 7)
	w86.SetFlagsChanged(b, w86.FlagsAll)

	b.FreeLocal(op1)
	b.FreeLocal(op2)
	b.FreeLocal(result)

	w86.IncrementInstructionPointer(b, 2)
	ctx.StartOfCurrentInstruction += 2

	// PUSH 0x12345678
	b.ConstI32(0x12345678)
	value := b.SetNewLocal()
	ctx.Push32(value)
	b.FreeLocal(value)

	w86.IncrementInstructionPointer(b, 5)
	ctx.StartOfCurrentInstruction += 5

	// MOV EAX, [0x2000]
	b.ConstI32(0x2000)
	addr := b.SetNewLocal()
	ctx.SafeRead32(addr)
	b.FreeLocal(addr)
	ctx.SetReg32(w86.EAX)

	w86.IncrementInstructionPointer(b, 5)
	w86.IncrementTimestampCounter(b, 3)

	return unit.Finish("bb_demo")
}
