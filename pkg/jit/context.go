// Package jit compiles one bytecode function at a time into a fixed
// sequence of per-opcode step templates, after a liveness pass that
// elides dead value-producing work. Compiled code touches the rest of
// the system only through the Runtime interface, and cooperates with
// the collector by publishing its live operand count to the Context
// before every call that can allocate.
package jit

// Runtime is everything compiled code may call back into. The VM
// implements it; keeping it an interface leaves the package free of a
// dependency on the VM and pins down exactly which intrinsics exist.
type Runtime interface {
	ArrayNew(size int64) int64
	ArrayGet(handle, idx int64) int64
	ArraySet(handle, idx, val int64)
	ArrayLen(handle int64) int64

	Print(v int64)
	PrintFloatBits(bits int64)
	PrintBig(handle, length int64)

	TimeMS() int64
	Rand() int64

	// CallFunction re-enters the VM's trampoline. args aliases the
	// caller's operand stack; the callee copies what it needs before
	// any allocation.
	CallFunction(fid uint32, args []int64) int64
}

// Context is one native frame: the locals slab and operand stack owned
// by the trampoline that invoked the function. StackSize is the
// collector's view of how much of Stack is live; compiled code writes
// it immediately before any call that can trigger a collection.
type Context struct {
	Locals    []int64
	Stack     []int64
	StackSize int
	RT        Runtime
}

// Func is a compiled function. The returned word is the value of the
// operand-stack top at RET/HALT, or 0 when the stack is empty.
type Func func(*Context) int64

// step executes one translated instruction. It receives the current
// operand-stack index and returns the index of the next step plus the
// new stack index; a negative next index terminates the function.
type step func(ctx *Context, sp int) (int, int)
