// builder.go - Host-bytecode builder: emits one translation unit as a WASM module
package w86

import (
	"fmt"
	"os"
)

// Fixed enumeration of helper call signatures. GetFnIdx takes one of these;
// using two different type indices for the same import name is a programmer
// error and panics.
const (
	FN0TypeIndex = iota
	FN0RetTypeIndex
	FN0RetI64TypeIndex
	FN1TypeIndex
	FN1RetTypeIndex
	FN1RetI64TypeIndex
	FN1RetF64TypeIndex
	FN1F64TypeIndex
	FN1F64RetI32TypeIndex
	FN1F64RetI64TypeIndex
	FN2TypeIndex
	FN2RetTypeIndex
	FN2I32F64TypeIndex
	FN2I32I64TypeIndex
	FN3TypeIndex
	FN3RetTypeIndex
	FN3I32I64I64TypeIndex
	numTypeIndices
)

type funcType struct {
	params  []byte
	results []byte
}

// The type section is fixed: one entry per FN*TypeIndex constant, in order.
var funcTypes = [numTypeIndices]funcType{
	FN0TypeIndex:          {nil, nil},
	FN0RetTypeIndex:       {nil, []byte{typeI32}},
	FN0RetI64TypeIndex:    {nil, []byte{typeI64}},
	FN1TypeIndex:          {[]byte{typeI32}, nil},
	FN1RetTypeIndex:       {[]byte{typeI32}, []byte{typeI32}},
	FN1RetI64TypeIndex:    {[]byte{typeI32}, []byte{typeI64}},
	FN1RetF64TypeIndex:    {[]byte{typeI32}, []byte{typeF64}},
	FN1F64TypeIndex:       {[]byte{typeF64}, nil},
	FN1F64RetI32TypeIndex: {[]byte{typeF64}, []byte{typeI32}},
	FN1F64RetI64TypeIndex: {[]byte{typeF64}, []byte{typeI64}},
	FN2TypeIndex:          {[]byte{typeI32, typeI32}, nil},
	FN2RetTypeIndex:       {[]byte{typeI32, typeI32}, []byte{typeI32}},
	FN2I32F64TypeIndex:    {[]byte{typeI32, typeF64}, nil},
	FN2I32I64TypeIndex:    {[]byte{typeI32, typeI64}, nil},
	FN3TypeIndex:          {[]byte{typeI32, typeI32, typeI32}, nil},
	FN3RetTypeIndex:       {[]byte{typeI32, typeI32, typeI32}, []byte{typeI32}},
	FN3I32I64I64TypeIndex: {[]byte{typeI32, typeI64, typeI64}, nil},
}

// importModule is the WASM module name all helpers are imported from.
const importModule = "env"

// Local is a handle to an i32 local of the function under construction.
type Local struct {
	idx int
}

// Idx returns the raw local index. Useful for debug output only.
func (l Local) Idx() int { return l.idx }

// LocalI64 is a handle to an i64 local.
type LocalI64 struct {
	idx int
}

// LocalF64 is a handle to an f64 local.
type LocalF64 struct {
	idx int
}

type wasmImport struct {
	name    string
	typeIdx int
}

// WasmBuilder accumulates the body of a single translation-unit function and
// assembles the surrounding module on Finish. Helper imports are registered
// lazily as the body references them; locals are handed out from a per-type
// free list so scratch locals can be recycled.
type WasmBuilder struct {
	code       []byte
	blockDepth int

	imports   []wasmImport
	importIdx map[string]int

	localTypes []byte // type of each allocated local, in index order
	freeI32    []int
	freeI64    []int
	freeF64    []int

	memPages uint32
}

// NewWasmBuilder returns a builder whose module declares memPages 64 KiB
// pages of linear memory.
func NewWasmBuilder(memPages uint32) *WasmBuilder {
	return &WasmBuilder{
		importIdx: make(map[string]int),
		memPages:  memPages,
	}
}

func (b *WasmBuilder) writeByte(v byte) {
	b.code = append(b.code, v)
	if VerboseMode {
		fmt.Fprintf(os.Stderr, " %x", v)
	}
}

func (b *WasmBuilder) op(opcode byte) { b.writeByte(opcode) }

func (b *WasmBuilder) uleb(v uint32) {
	before := len(b.code)
	b.code = appendULEB128(b.code, v)
	if VerboseMode {
		for _, c := range b.code[before:] {
			fmt.Fprintf(os.Stderr, " %x", c)
		}
	}
}

func (b *WasmBuilder) sleb(v int32) {
	before := len(b.code)
	b.code = appendSLEB128(b.code, v)
	if VerboseMode {
		for _, c := range b.code[before:] {
			fmt.Fprintf(os.Stderr, " %x", c)
		}
	}
}

// CodeLen returns the number of body bytes emitted so far.
func (b *WasmBuilder) CodeLen() int { return len(b.code) }

// Code returns the raw body bytes emitted so far.
func (b *WasmBuilder) Code() []byte { return b.code }

// === constants and arithmetic ===

func (b *WasmBuilder) ConstI32(v int32) {
	b.op(opI32Const)
	b.sleb(v)
}

func (b *WasmBuilder) ConstI64(v int64) {
	b.op(opI64Const)
	before := len(b.code)
	b.code = appendSLEB128_64(b.code, v)
	if VerboseMode {
		for _, c := range b.code[before:] {
			fmt.Fprintf(os.Stderr, " %x", c)
		}
	}
}

func (b *WasmBuilder) AddI32()  { b.op(opI32Add) }
func (b *WasmBuilder) SubI32()  { b.op(opI32Sub) }
func (b *WasmBuilder) MulI32()  { b.op(opI32Mul) }
func (b *WasmBuilder) AndI32()  { b.op(opI32And) }
func (b *WasmBuilder) OrI32()   { b.op(opI32Or) }
func (b *WasmBuilder) XorI32()  { b.op(opI32Xor) }
func (b *WasmBuilder) ShlI32()  { b.op(opI32Shl) }
func (b *WasmBuilder) ShrUI32() { b.op(opI32ShrU) }
func (b *WasmBuilder) ShrSI32() { b.op(opI32ShrS) }
func (b *WasmBuilder) EqI32()   { b.op(opI32Eq) }
func (b *WasmBuilder) NeI32()   { b.op(opI32Ne) }
func (b *WasmBuilder) LeI32()   { b.op(opI32LeS) }
func (b *WasmBuilder) LtI32()   { b.op(opI32LtS) }
func (b *WasmBuilder) EqzI32()  { b.op(opI32Eqz) }
func (b *WasmBuilder) AddI64()  { b.op(opI64Add) }
func (b *WasmBuilder) Drop()    { b.op(opDrop) }

func (b *WasmBuilder) ReinterpretI32AsF32() { b.op(opF32ReinterpretI32) }
func (b *WasmBuilder) ReinterpretI64AsF64() { b.op(opF64ReinterpretI64) }
func (b *WasmBuilder) PromoteF32ToF64()     { b.op(opF64PromoteF32) }

// === memory access ===
//
// The Load* accessors without a FromStack suffix take a literal state-block
// address (emitted as i32.const 0 with the address as offset immediate); the
// FromStack variants and all Store* accessors expect the base on the value
// stack and take an offset immediate. Unaligned variants use alignment hint 0.

func (b *WasmBuilder) loadOp(opcode byte, align, offset uint32) {
	b.op(opcode)
	b.uleb(align)
	b.uleb(offset)
}

func (b *WasmBuilder) LoadAlignedI32(addr uint32) {
	b.ConstI32(0)
	b.loadOp(opI32Load, 2, addr)
}

func (b *WasmBuilder) LoadAlignedI32FromStack(offset uint32) {
	b.loadOp(opI32Load, 2, offset)
}

func (b *WasmBuilder) LoadAlignedU16(addr uint32) {
	b.ConstI32(0)
	b.loadOp(opI32Load16U, 1, addr)
}

func (b *WasmBuilder) LoadU8(addr uint32) {
	b.ConstI32(0)
	b.loadOp(opI32Load8U, 0, addr)
}

func (b *WasmBuilder) LoadU8FromStack(offset uint32) {
	b.loadOp(opI32Load8U, 0, offset)
}

func (b *WasmBuilder) LoadUnalignedU16FromStack(offset uint32) {
	b.loadOp(opI32Load16U, 0, offset)
}

func (b *WasmBuilder) LoadUnalignedI32FromStack(offset uint32) {
	b.loadOp(opI32Load, 0, offset)
}

func (b *WasmBuilder) LoadUnalignedI64FromStack(offset uint32) {
	b.loadOp(opI64Load, 0, offset)
}

func (b *WasmBuilder) LoadAlignedI64(addr uint32) {
	b.ConstI32(0)
	b.loadOp(opI64Load, 3, addr)
}

// StoreAlignedI32 stores the stack top at base+offset, base also from the
// stack (push the cell address first, then the value).
func (b *WasmBuilder) StoreAlignedI32(offset uint32) {
	b.loadOp(opI32Store, 2, offset)
}

func (b *WasmBuilder) StoreAlignedU16(offset uint32) {
	b.loadOp(opI32Store16, 1, offset)
}

func (b *WasmBuilder) StoreAlignedI64(offset uint32) {
	b.loadOp(opI64Store, 3, offset)
}

func (b *WasmBuilder) StoreU8(offset uint32) {
	b.loadOp(opI32Store8, 0, offset)
}

func (b *WasmBuilder) StoreUnalignedU16(offset uint32) {
	b.loadOp(opI32Store16, 0, offset)
}

func (b *WasmBuilder) StoreUnalignedI32(offset uint32) {
	b.loadOp(opI32Store, 0, offset)
}

func (b *WasmBuilder) StoreUnalignedI64(offset uint32) {
	b.loadOp(opI64Store, 0, offset)
}

// === structured control flow ===

func (b *WasmBuilder) BlockVoid() {
	b.op(opBlock)
	b.writeByte(typeVoid)
	b.blockDepth++
}

func (b *WasmBuilder) IfVoid() {
	b.op(opIf)
	b.writeByte(typeVoid)
	b.blockDepth++
}

func (b *WasmBuilder) IfI32() {
	b.op(opIf)
	b.writeByte(typeI32)
	b.blockDepth++
}

func (b *WasmBuilder) IfI64() {
	b.op(opIf)
	b.writeByte(typeI64)
	b.blockDepth++
}

func (b *WasmBuilder) Else() { b.op(opElse) }

func (b *WasmBuilder) BlockEnd() {
	if b.blockDepth == 0 {
		panic("w86: block end without open block")
	}
	b.blockDepth--
	b.op(opEnd)
}

func (b *WasmBuilder) Br(depth int) {
	if depth < 0 || depth > b.blockDepth {
		panic(fmt.Sprintf("w86: br depth %d with %d open blocks", depth, b.blockDepth))
	}
	b.op(opBr)
	b.uleb(uint32(depth))
}

func (b *WasmBuilder) Return() { b.op(opReturn) }

func (b *WasmBuilder) Unreachable() { b.op(opUnreachable) }

// BlockDepth returns the number of currently open blocks.
func (b *WasmBuilder) BlockDepth() int { return b.blockDepth }

// === function calls ===

// GetFnIdx returns the call index of the named helper, importing it on first
// use. The type index must match on every use.
func (b *WasmBuilder) GetFnIdx(name string, typeIdx int) int {
	if typeIdx < 0 || typeIdx >= numTypeIndices {
		panic("w86: bad type index")
	}
	if idx, ok := b.importIdx[name]; ok {
		if b.imports[idx].typeIdx != typeIdx {
			panic(fmt.Sprintf("w86: helper %q imported with conflicting signatures", name))
		}
		return idx
	}
	idx := len(b.imports)
	b.imports = append(b.imports, wasmImport{name: name, typeIdx: typeIdx})
	b.importIdx[name] = idx
	return idx
}

func (b *WasmBuilder) CallFn(idx int) {
	b.op(opCall)
	b.uleb(uint32(idx))
}

// === locals ===

func (b *WasmBuilder) allocLocal(valType byte, free *[]int) int {
	if n := len(*free); n > 0 {
		idx := (*free)[n-1]
		*free = (*free)[:n-1]
		return idx
	}
	idx := len(b.localTypes)
	b.localTypes = append(b.localTypes, valType)
	return idx
}

func (b *WasmBuilder) freeLocal(idx int, valType byte, free *[]int) {
	if idx < 0 || idx >= len(b.localTypes) || b.localTypes[idx] != valType {
		panic("w86: free of unknown local")
	}
	for _, f := range *free {
		if f == idx {
			panic("w86: double free of local")
		}
	}
	*free = append(*free, idx)
}

// SetNewLocal pops the stack top into a fresh i32 local.
func (b *WasmBuilder) SetNewLocal() Local {
	idx := b.allocLocal(typeI32, &b.freeI32)
	b.op(opLocalSet)
	b.uleb(uint32(idx))
	return Local{idx}
}

// TeeNewLocal copies the stack top into a fresh i32 local, leaving the value
// on the stack.
func (b *WasmBuilder) TeeNewLocal() Local {
	idx := b.allocLocal(typeI32, &b.freeI32)
	b.op(opLocalTee)
	b.uleb(uint32(idx))
	return Local{idx}
}

func (b *WasmBuilder) GetLocal(l Local) {
	b.op(opLocalGet)
	b.uleb(uint32(l.idx))
}

func (b *WasmBuilder) SetLocal(l Local) {
	b.op(opLocalSet)
	b.uleb(uint32(l.idx))
}

func (b *WasmBuilder) TeeLocal(l Local) {
	b.op(opLocalTee)
	b.uleb(uint32(l.idx))
}

func (b *WasmBuilder) FreeLocal(l Local) {
	b.freeLocal(l.idx, typeI32, &b.freeI32)
}

func (b *WasmBuilder) SetNewLocalI64() LocalI64 {
	idx := b.allocLocal(typeI64, &b.freeI64)
	b.op(opLocalSet)
	b.uleb(uint32(idx))
	return LocalI64{idx}
}

func (b *WasmBuilder) TeeNewLocalI64() LocalI64 {
	idx := b.allocLocal(typeI64, &b.freeI64)
	b.op(opLocalTee)
	b.uleb(uint32(idx))
	return LocalI64{idx}
}

func (b *WasmBuilder) GetLocalI64(l LocalI64) {
	b.op(opLocalGet)
	b.uleb(uint32(l.idx))
}

func (b *WasmBuilder) SetLocalI64(l LocalI64) {
	b.op(opLocalSet)
	b.uleb(uint32(l.idx))
}

func (b *WasmBuilder) FreeLocalI64(l LocalI64) {
	b.freeLocal(l.idx, typeI64, &b.freeI64)
}

func (b *WasmBuilder) SetNewLocalF64() LocalF64 {
	idx := b.allocLocal(typeF64, &b.freeF64)
	b.op(opLocalSet)
	b.uleb(uint32(idx))
	return LocalF64{idx}
}

func (b *WasmBuilder) GetLocalF64(l LocalF64) {
	b.op(opLocalGet)
	b.uleb(uint32(l.idx))
}

func (b *WasmBuilder) FreeLocalF64(l LocalF64) {
	b.freeLocal(l.idx, typeF64, &b.freeF64)
}

// AllocatedLocals returns how many locals the function declares so far.
func (b *WasmBuilder) AllocatedLocals() int { return len(b.localTypes) }

// FreeLocalCount returns how many locals currently sit on the free lists.
func (b *WasmBuilder) FreeLocalCount() int {
	return len(b.freeI32) + len(b.freeI64) + len(b.freeF64)
}

// === sugar ===

// IncrementVariable adds n to the i32 cell at addr.
func (b *WasmBuilder) IncrementVariable(addr uint32, n int32) {
	b.ConstI32(int32(addr))
	b.LoadAlignedI32(addr)
	b.ConstI32(n)
	b.AddI32()
	b.StoreAlignedI32(0)
}

// IncrementVariableI64 adds n to the i64 cell at addr.
func (b *WasmBuilder) IncrementVariableI64(addr uint32, n int64) {
	b.ConstI32(int32(addr))
	b.LoadAlignedI64(addr)
	b.ConstI64(n)
	b.AddI64()
	b.StoreAlignedI64(0)
}

// IncrementMem32 adds one to the i32 cell at addr.
func (b *WasmBuilder) IncrementMem32(addr uint32) {
	b.IncrementVariable(addr, 1)
}

// === module assembly ===

// Finish closes the function body and assembles the complete module. The
// translation unit is exported under exportName, the linear memory under
// "memory". All open blocks must have been closed.
func (b *WasmBuilder) Finish(exportName string) []byte {
	if b.blockDepth != 0 {
		panic(fmt.Sprintf("w86: finish with %d open blocks", b.blockDepth))
	}

	var out []byte
	out = append(out, 0x00, 0x61, 0x73, 0x6D) // \0asm
	out = append(out, 0x01, 0x00, 0x00, 0x00) // version 1

	out = appendSection(out, secType, b.encodeTypeSection())
	if len(b.imports) > 0 {
		out = appendSection(out, secImport, b.encodeImportSection())
	}

	// Function section: the single translation-unit function, FN0-typed.
	var fsec []byte
	fsec = appendULEB128(fsec, 1)
	fsec = appendULEB128(fsec, FN0TypeIndex)
	out = appendSection(out, secFunction, fsec)

	var msec []byte
	msec = appendULEB128(msec, 1)
	msec = append(msec, 0x00) // no max
	msec = appendULEB128(msec, b.memPages)
	out = appendSection(out, secMemory, msec)

	var esec []byte
	esec = appendULEB128(esec, 2)
	esec = appendULEB128(esec, uint32(len(exportName)))
	esec = append(esec, exportName...)
	esec = append(esec, extFunc)
	esec = appendULEB128(esec, uint32(len(b.imports)))
	esec = appendULEB128(esec, uint32(len("memory")))
	esec = append(esec, "memory"...)
	esec = append(esec, extMemory)
	esec = appendULEB128(esec, 0)
	out = appendSection(out, secExport, esec)

	body := b.encodeFuncBody()
	var csec []byte
	csec = appendULEB128(csec, 1)
	csec = appendULEB128(csec, uint32(len(body)))
	csec = append(csec, body...)
	out = appendSection(out, secCode, csec)

	if VerboseMode {
		fmt.Fprintf(os.Stderr, "\nw86: module %d bytes, %d imports, %d locals\n",
			len(out), len(b.imports), len(b.localTypes))
	}
	return out
}

func appendSection(out []byte, id byte, payload []byte) []byte {
	out = append(out, id)
	out = appendULEB128(out, uint32(len(payload)))
	return append(out, payload...)
}

func (b *WasmBuilder) encodeTypeSection() []byte {
	var buf []byte
	buf = appendULEB128(buf, uint32(len(funcTypes)))
	for _, t := range funcTypes {
		buf = append(buf, typeFunc)
		buf = appendULEB128(buf, uint32(len(t.params)))
		buf = append(buf, t.params...)
		buf = appendULEB128(buf, uint32(len(t.results)))
		buf = append(buf, t.results...)
	}
	return buf
}

func (b *WasmBuilder) encodeImportSection() []byte {
	var buf []byte
	buf = appendULEB128(buf, uint32(len(b.imports)))
	for _, imp := range b.imports {
		buf = appendULEB128(buf, uint32(len(importModule)))
		buf = append(buf, importModule...)
		buf = appendULEB128(buf, uint32(len(imp.name)))
		buf = append(buf, imp.name...)
		buf = append(buf, extFunc)
		buf = appendULEB128(buf, uint32(imp.typeIdx))
	}
	return buf
}

// encodeFuncBody prefixes the body with run-length-grouped local
// declarations and closes it with end.
func (b *WasmBuilder) encodeFuncBody() []byte {
	var groups [][2]uint32 // count, type
	for _, t := range b.localTypes {
		if n := len(groups); n > 0 && groups[n-1][1] == uint32(t) {
			groups[n-1][0]++
		} else {
			groups = append(groups, [2]uint32{1, uint32(t)})
		}
	}

	var buf []byte
	buf = appendULEB128(buf, uint32(len(groups)))
	for _, g := range groups {
		buf = appendULEB128(buf, g[0])
		buf = append(buf, byte(g[1]))
	}
	buf = append(buf, b.code...)
	return append(buf, opEnd)
}
