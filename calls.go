// calls.go - Typed call emitters for the imported helper functions
package w86

// Fn0Const emits a call to a no-argument helper.
func Fn0Const(b *WasmBuilder, name string) {
	b.CallFn(b.GetFnIdx(name, FN0TypeIndex))
}

// Fn0ConstRet emits a call to a no-argument helper returning i32.
func Fn0ConstRet(b *WasmBuilder, name string) {
	b.CallFn(b.GetFnIdx(name, FN0RetTypeIndex))
}

// Fn1Const emits a call passing the constant arg0.
func Fn1Const(b *WasmBuilder, name string, arg0 uint32) {
	idx := b.GetFnIdx(name, FN1TypeIndex)
	b.ConstI32(int32(arg0))
	b.CallFn(idx)
}

// Fn2Const emits a call passing two constants.
func Fn2Const(b *WasmBuilder, name string, arg0, arg1 uint32) {
	idx := b.GetFnIdx(name, FN2TypeIndex)
	b.ConstI32(int32(arg0))
	b.ConstI32(int32(arg1))
	b.CallFn(idx)
}

// Fn3Const emits a call passing three constants.
func Fn3Const(b *WasmBuilder, name string, arg0, arg1, arg2 uint32) {
	idx := b.GetFnIdx(name, FN3TypeIndex)
	b.ConstI32(int32(arg0))
	b.ConstI32(int32(arg1))
	b.ConstI32(int32(arg2))
	b.CallFn(idx)
}

// The CallFn* variants call fn(_ ...) with the arguments already on the
// stack; the suffix names the signature.

func CallFn1(b *WasmBuilder, name string) {
	b.CallFn(b.GetFnIdx(name, FN1TypeIndex))
}

func CallFn1Ret(b *WasmBuilder, name string) {
	b.CallFn(b.GetFnIdx(name, FN1RetTypeIndex))
}

func CallFn1RetI64(b *WasmBuilder, name string) {
	b.CallFn(b.GetFnIdx(name, FN1RetI64TypeIndex))
}

func CallFn1RetF64(b *WasmBuilder, name string) {
	b.CallFn(b.GetFnIdx(name, FN1RetF64TypeIndex))
}

func CallFn1F64(b *WasmBuilder, name string) {
	b.CallFn(b.GetFnIdx(name, FN1F64TypeIndex))
}

func CallFn1F64RetI32(b *WasmBuilder, name string) {
	b.CallFn(b.GetFnIdx(name, FN1F64RetI32TypeIndex))
}

func CallFn1F64RetI64(b *WasmBuilder, name string) {
	b.CallFn(b.GetFnIdx(name, FN1F64RetI64TypeIndex))
}

func CallFn2(b *WasmBuilder, name string) {
	b.CallFn(b.GetFnIdx(name, FN2TypeIndex))
}

func CallFn2Ret(b *WasmBuilder, name string) {
	b.CallFn(b.GetFnIdx(name, FN2RetTypeIndex))
}

func CallFn2I32F64(b *WasmBuilder, name string) {
	b.CallFn(b.GetFnIdx(name, FN2I32F64TypeIndex))
}

func CallFn2I32I64(b *WasmBuilder, name string) {
	b.CallFn(b.GetFnIdx(name, FN2I32I64TypeIndex))
}

func CallFn3(b *WasmBuilder, name string) {
	b.CallFn(b.GetFnIdx(name, FN3TypeIndex))
}

func CallFn3Ret(b *WasmBuilder, name string) {
	b.CallFn(b.GetFnIdx(name, FN3RetTypeIndex))
}

func CallFn3I32I64I64(b *WasmBuilder, name string) {
	b.CallFn(b.GetFnIdx(name, FN3I32I64I64TypeIndex))
}

// ModrmFn0 calls fn(addr) with the resolved address on the stack.
func ModrmFn0(b *WasmBuilder, name string) {
	b.CallFn(b.GetFnIdx(name, FN1TypeIndex))
}

// ModrmFn1 calls fn(addr, arg0).
func ModrmFn1(b *WasmBuilder, name string, arg0 uint32) {
	idx := b.GetFnIdx(name, FN2TypeIndex)
	b.ConstI32(int32(arg0))
	b.CallFn(idx)
}

// ModrmFn2 calls fn(addr, arg0, arg1).
func ModrmFn2(b *WasmBuilder, name string, arg0, arg1 uint32) {
	idx := b.GetFnIdx(name, FN3TypeIndex)
	b.ConstI32(int32(arg0))
	b.ConstI32(int32(arg1))
	b.CallFn(idx)
}
