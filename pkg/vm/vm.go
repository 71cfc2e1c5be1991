// Package vm executes bytecode programs: a reference interpreter for
// every opcode, the array heap with its mark-and-sweep collector, the
// runtime intrinsics, and the trampoline that carries calls into
// JIT-compiled functions.
package vm

import (
	"io"
	"os"
	"time"

	"kite/pkg/bytecode"
	kerr "kite/pkg/errors"
	"kite/pkg/jit"
)

// DefaultGCThreshold is the allocation count that triggers a collection
// when the CLI does not override it.
const DefaultGCThreshold = 100

// Array is one heap array. Freed arrays keep their table slot with the
// data released; their ids wait on the free list for reuse.
type Array struct {
	Data   []int64
	Marked bool
}

// frame is one in-flight interpreted invocation. Slots
// [bp, bp+nlocals) of the operand stack are the locals; retIP of -1
// marks the entry frame.
type frame struct {
	funcID  uint32
	retIP   int
	bp      int
	nlocals uint32
}

// rootStack is a registered (base, live-count) pair the collector
// scans. The count is read through the pointer at collection time, so
// the owner can grow and shrink without re-registering.
type rootStack struct {
	base []int64
	live *int
}

// VM ties a program to its execution state.
type VM struct {
	Prog *bytecode.Program

	estack []int64
	frames []frame

	arrays   []Array
	freeList []int

	allocCount  int
	GCThreshold int

	rootStacks []rootStack

	// Jit holds the compiled functions; nil runs everything in the
	// interpreter.
	Jit *jit.Compiler

	// Stdout receives everything the print intrinsics write.
	Stdout io.Writer

	timeBase  time.Time
	timeKnown bool
}

func New(prog *bytecode.Program) *VM {
	return &VM{
		Prog:        prog,
		GCThreshold: DefaultGCThreshold,
		Jit:         jit.NewCompiler(),
		Stdout:      os.Stdout,
	}
}

// DisableJIT forces pure interpretation.
func (vm *VM) DisableJIT() {
	vm.Jit = nil
}

// ArrayCount returns the current array-table length (live and freed
// slots alike); tests use it to bound heap growth.
func (vm *VM) ArrayCount() int {
	return len(vm.arrays)
}

func (vm *VM) fail(format string, args ...any) {
	panic(kerr.Runtimef(format, args...))
}

// Run compiles every function (unless the JIT is disabled), then
// executes the named entry function and returns its value. Runtime
// faults raised anywhere below — interpreter, intrinsics, compiled
// code — unwind to here and come back as ordinary errors.
func (vm *VM) Run(entry string) (result int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case *kerr.RuntimeError:
				err = e
			case *kerr.InternalError:
				err = e
			default:
				panic(r)
			}
		}
	}()

	id := vm.Prog.FuncID(entry)
	if id < 0 {
		return 0, kerr.Runtimef("entry function '%s' not found", entry)
	}
	if vm.Prog.Funcs[id].Arity != 0 {
		return 0, kerr.Runtimef("entry function '%s' must take no arguments", entry)
	}

	if vm.Jit != nil {
		for i := range vm.Prog.Funcs {
			// A function the JIT cannot produce stays interpreted.
			_, _ = vm.Jit.Compile(vm.Prog, uint32(i))
		}
	}

	fid := uint32(id)
	if vm.Jit != nil && vm.Jit.IsCompiled(fid) {
		return vm.CallFunction(fid, nil), nil
	}
	return vm.interpret(fid), nil
}

func (vm *VM) pushFrame(fid uint32, retIP int) {
	f := &vm.Prog.Funcs[fid]
	if len(vm.estack) < int(f.Arity) {
		vm.fail("CALL: not enough arguments for function %s", f.Name)
	}
	bp := len(vm.estack) - int(f.Arity)
	for i := f.Arity; i < f.NLocals; i++ {
		vm.estack = append(vm.estack, 0)
	}
	vm.frames = append(vm.frames, frame{funcID: fid, retIP: retIP, bp: bp, nlocals: f.NLocals})
}

func (vm *VM) popFrame() {
	if len(vm.frames) == 0 {
		vm.fail("RET: no frame")
	}
	fr := vm.frames[len(vm.frames)-1]
	vm.frames = vm.frames[:len(vm.frames)-1]

	if len(vm.estack) == 0 {
		vm.fail("RET: empty stack")
	}
	ret := vm.estack[len(vm.estack)-1]
	vm.estack = vm.estack[:fr.bp]
	vm.estack = append(vm.estack, ret)
}

func (vm *VM) push(v int64) {
	vm.estack = append(vm.estack, v)
}

func (vm *VM) pop(opName string) int64 {
	if len(vm.estack) == 0 {
		vm.fail("%s: stack underflow", opName)
	}
	v := vm.estack[len(vm.estack)-1]
	vm.estack = vm.estack[:len(vm.estack)-1]
	return v
}
