package vm

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	kerr "kite/pkg/errors"
	"kite/pkg/jit"
)

// The intrinsics below implement jit.Runtime; the interpreter calls the
// same methods so both engines share one semantics.
var _ jit.Runtime = (*VM)(nil)

// checkHandle validates v against the current table (strict form:
// negative and decodable to an existing slot) and returns the id.
func (vm *VM) checkHandle(v int64, opName string) int {
	if !IsHandle(v, len(vm.arrays)) {
		vm.fail("%s: invalid array handle", opName)
	}
	return HandleToID(v)
}

// ArrayNew allocates a zeroed array of the given size and returns its
// handle. Allocation is the only GC trigger: once the counter reaches
// the threshold a collection runs before the new array exists, so the
// new array can never be swept by it.
func (vm *VM) ArrayNew(size int64) int64 {
	if size < 0 {
		vm.fail("ARRAY_NEW: negative size")
	}

	vm.allocCount++
	if vm.allocCount >= vm.GCThreshold {
		vm.Collect()
		vm.allocCount = 0
	}

	var id int
	if n := len(vm.freeList); n > 0 {
		id = vm.freeList[n-1]
		vm.freeList = vm.freeList[:n-1]
		vm.arrays[id].Data = make([]int64, size)
		vm.arrays[id].Marked = false
	} else {
		id = len(vm.arrays)
		vm.arrays = append(vm.arrays, Array{Data: make([]int64, size)})
	}

	return IDToHandle(id)
}

func (vm *VM) ArrayGet(handle, idx int64) int64 {
	id := vm.checkHandle(handle, "ARRAY_GET")
	data := vm.arrays[id].Data
	if idx < 0 || idx >= int64(len(data)) {
		vm.fail("ARRAY_GET: index out of bounds")
	}
	return data[idx]
}

func (vm *VM) ArraySet(handle, idx, val int64) {
	id := vm.checkHandle(handle, "ARRAY_SET")
	data := vm.arrays[id].Data
	if idx < 0 || idx >= int64(len(data)) {
		vm.fail("ARRAY_SET: index out of bounds")
	}
	data[idx] = val
}

func (vm *VM) ArrayLen(handle int64) int64 {
	id := vm.checkHandle(handle, "ARRAY_LEN")
	return int64(len(vm.arrays[id].Data))
}

func (vm *VM) Print(v int64) {
	fmt.Fprintf(vm.Stdout, "%d\n", v)
}

// PrintFloatBits prints a double with 17 significant digits in the
// default notation, enough to round-trip any value.
func (vm *VM) PrintFloatBits(bits int64) {
	x := math.Float64frombits(uint64(bits))
	fmt.Fprintln(vm.Stdout, strconv.FormatFloat(x, 'g', 17, 64))
}

// PrintBig prints the first length limbs of a base-10⁹ number, least
// significant limb first in memory: the top nonzero limb unpadded, the
// rest zero-padded to nine digits, no separators.
func (vm *VM) PrintBig(handle, length int64) {
	id := vm.checkHandle(handle, "PRINT_BIG")
	data := vm.arrays[id].Data

	if length < 0 {
		vm.fail("PRINT_BIG: negative len")
	}
	if length > int64(len(data)) {
		vm.fail("PRINT_BIG: len out of bounds")
	}
	if length == 0 {
		fmt.Fprintln(vm.Stdout, 0)
		return
	}

	i := length - 1
	for i > 0 && data[i] == 0 {
		i--
	}
	fmt.Fprintf(vm.Stdout, "%d", data[i])
	for i--; i >= 0; i-- {
		fmt.Fprintf(vm.Stdout, "%09d", data[i])
	}
	fmt.Fprintln(vm.Stdout)
}

// TimeMS returns monotonic milliseconds since the first call.
func (vm *VM) TimeMS() int64 {
	if !vm.timeKnown {
		vm.timeBase = time.Now()
		vm.timeKnown = true
	}
	return time.Since(vm.timeBase).Milliseconds()
}

// Rand returns a nonnegative 63-bit pseudo-random integer.
func (vm *VM) Rand() int64 {
	return rand.Int64()
}

func (vm *VM) SqrtBits(bits int64) int64 {
	x := math.Float64frombits(uint64(bits))
	return int64(math.Float64bits(math.Sqrt(x)))
}

// RegisterRoots adds a (base, live-count) pair to the collector's root
// set. The count is dereferenced at collection time.
func (vm *VM) RegisterRoots(base []int64, live *int) {
	vm.rootStacks = append(vm.rootStacks, rootStack{base: base, live: live})
}

// UnregisterRoots drops the n most recently registered root stacks.
func (vm *VM) UnregisterRoots(n int) {
	vm.rootStacks = vm.rootStacks[:len(vm.rootStacks)-n]
}

// CallFunction is the trampoline every cross-function call from
// compiled code (and every interpreter call into a compiled callee)
// goes through. The VM pre-compiles the whole program before running
// the entry function, so an uncompiled callee here is a bug, not a
// user error.
func (vm *VM) CallFunction(fid uint32, args []int64) int64 {
	if int(fid) >= len(vm.Prog.Funcs) {
		panic(kerr.Internalf("call_function: invalid function id %d", fid))
	}
	fn := &vm.Prog.Funcs[fid]

	if vm.Jit == nil || !vm.Jit.IsCompiled(fid) {
		panic(kerr.Internalf(
			"call_function: function '%s' is not compiled; all functions are pre-compiled",
			fn.Name))
	}
	compiled := vm.Jit.Func(fid)

	locals := make([]int64, fn.NLocals)
	n := len(args)
	if n > int(fn.Arity) {
		n = int(fn.Arity)
	}
	copy(locals, args[:n])

	capWords := int(fn.MaxStack)
	if capWords == 0 {
		capWords = 1024
	}
	stack := make([]int64, capWords)

	ctx := &jit.Context{Locals: locals, Stack: stack, RT: vm}

	localsLive := len(locals)
	vm.RegisterRoots(locals, &localsLive)
	vm.RegisterRoots(stack, &ctx.StackSize)
	defer vm.UnregisterRoots(2)

	return compiled(ctx)
}
