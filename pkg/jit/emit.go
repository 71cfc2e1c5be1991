package jit

import (
	"fmt"
	"math"

	"kite/pkg/bytecode"
	kerr "kite/pkg/errors"
)

// emit translates the decoded instructions into one step per
// instruction, then wires them into a Func. Branch targets resolve
// through ipToIndex — the label table of this backend. Every template
// keeps the discipline: stack index in, stack index out, and
// ctx.StackSize published before anything that can collect.
func emit(insts []bytecode.Instr, ipToIndex []int, resultLive []bool) (Func, error) {
	steps := make([]step, len(insts))

	indexOf := func(ip int) (int, error) {
		if ip < 0 || ip >= len(ipToIndex) || ipToIndex[ip] < 0 {
			return 0, fmt.Errorf("jit: branch target %d is not an instruction", ip)
		}
		return ipToIndex[ip], nil
	}

	for i := range insts {
		in := &insts[i]
		next := i + 1

		needValue := in.Produce > 0 && resultLive[i]
		needExec := in.SideEffect || needValue

		if !needExec {
			// Dead pure producer: only the stack shape survives. The
			// produced slot is zeroed so no stale word masquerades as a
			// handle when the collector scans the stack.
			consume, produce := in.Consume, in.Produce
			if produce > 0 {
				steps[i] = func(ctx *Context, sp int) (int, int) {
					sp -= consume
					ctx.Stack[sp] = 0
					return next, sp + produce
				}
			} else {
				delta := in.Effect()
				steps[i] = func(ctx *Context, sp int) (int, int) {
					return next, sp + delta
				}
			}
			continue
		}

		switch in.Op {
		case bytecode.OpNop:
			steps[i] = func(ctx *Context, sp int) (int, int) {
				return next, sp
			}

		case bytecode.OpIConst, bytecode.OpFConst:
			v := in.Imm
			steps[i] = func(ctx *Context, sp int) (int, int) {
				ctx.Stack[sp] = v
				return next, sp + 1
			}

		case bytecode.OpLoad:
			slot := in.A
			steps[i] = func(ctx *Context, sp int) (int, int) {
				ctx.Stack[sp] = ctx.Locals[slot]
				return next, sp + 1
			}

		case bytecode.OpStore:
			slot := in.A
			steps[i] = func(ctx *Context, sp int) (int, int) {
				sp--
				ctx.Locals[slot] = ctx.Stack[sp]
				return next, sp
			}

		case bytecode.OpIAdd:
			steps[i] = func(ctx *Context, sp int) (int, int) {
				ctx.Stack[sp-2] += ctx.Stack[sp-1]
				return next, sp - 1
			}

		case bytecode.OpISub:
			steps[i] = func(ctx *Context, sp int) (int, int) {
				ctx.Stack[sp-2] -= ctx.Stack[sp-1]
				return next, sp - 1
			}

		case bytecode.OpIMul:
			steps[i] = func(ctx *Context, sp int) (int, int) {
				ctx.Stack[sp-2] *= ctx.Stack[sp-1]
				return next, sp - 1
			}

		case bytecode.OpIDiv:
			nv := needValue
			steps[i] = func(ctx *Context, sp int) (int, int) {
				b := ctx.Stack[sp-1]
				if b == 0 {
					panic(kerr.Runtimef("division by zero"))
				}
				if nv {
					ctx.Stack[sp-2] = ctx.Stack[sp-2] / b
				} else {
					ctx.Stack[sp-2] = 0
				}
				return next, sp - 1
			}

		case bytecode.OpIMod:
			nv := needValue
			steps[i] = func(ctx *Context, sp int) (int, int) {
				b := ctx.Stack[sp-1]
				if b == 0 {
					panic(kerr.Runtimef("mod by zero"))
				}
				if nv {
					ctx.Stack[sp-2] = ctx.Stack[sp-2] % b
				} else {
					ctx.Stack[sp-2] = 0
				}
				return next, sp - 1
			}

		case bytecode.OpCmpLe:
			steps[i] = intCmpStep(next, func(a, b int64) bool { return a <= b })
		case bytecode.OpCmpLt:
			steps[i] = intCmpStep(next, func(a, b int64) bool { return a < b })
		case bytecode.OpCmpGe:
			steps[i] = intCmpStep(next, func(a, b int64) bool { return a >= b })
		case bytecode.OpCmpGt:
			steps[i] = intCmpStep(next, func(a, b int64) bool { return a > b })
		case bytecode.OpCmpEq:
			steps[i] = intCmpStep(next, func(a, b int64) bool { return a == b })
		case bytecode.OpCmpNe:
			steps[i] = intCmpStep(next, func(a, b int64) bool { return a != b })

		case bytecode.OpI2F:
			steps[i] = func(ctx *Context, sp int) (int, int) {
				ctx.Stack[sp-1] = int64(math.Float64bits(float64(ctx.Stack[sp-1])))
				return next, sp
			}

		case bytecode.OpF2I:
			steps[i] = func(ctx *Context, sp int) (int, int) {
				ctx.Stack[sp-1] = int64(math.Float64frombits(uint64(ctx.Stack[sp-1])))
				return next, sp
			}

		case bytecode.OpFAdd:
			steps[i] = floatArithStep(next, func(a, b float64) float64 { return a + b })
		case bytecode.OpFSub:
			steps[i] = floatArithStep(next, func(a, b float64) float64 { return a - b })
		case bytecode.OpFMul:
			steps[i] = floatArithStep(next, func(a, b float64) float64 { return a * b })
		case bytecode.OpFDiv:
			steps[i] = floatArithStep(next, func(a, b float64) float64 { return a / b })

		case bytecode.OpFSqrt:
			steps[i] = func(ctx *Context, sp int) (int, int) {
				x := math.Float64frombits(uint64(ctx.Stack[sp-1]))
				ctx.Stack[sp-1] = int64(math.Float64bits(math.Sqrt(x)))
				return next, sp
			}

		case bytecode.OpFCmpLe:
			steps[i] = floatCmpStep(next, func(a, b float64) bool { return a <= b })
		case bytecode.OpFCmpLt:
			steps[i] = floatCmpStep(next, func(a, b float64) bool { return a < b })
		case bytecode.OpFCmpGe:
			steps[i] = floatCmpStep(next, func(a, b float64) bool { return a >= b })
		case bytecode.OpFCmpGt:
			steps[i] = floatCmpStep(next, func(a, b float64) bool { return a > b })
		case bytecode.OpFCmpEq:
			steps[i] = floatCmpStep(next, func(a, b float64) bool { return a == b })
		case bytecode.OpFCmpNe:
			steps[i] = floatCmpStep(next, func(a, b float64) bool { return a != b })

		case bytecode.OpJump:
			target, err := indexOf(in.Target)
			if err != nil {
				return nil, err
			}
			steps[i] = func(ctx *Context, sp int) (int, int) {
				return target, sp
			}

		case bytecode.OpJumpIfFalse:
			target, err := indexOf(in.Target)
			if err != nil {
				return nil, err
			}
			steps[i] = func(ctx *Context, sp int) (int, int) {
				sp--
				if ctx.Stack[sp] == 0 {
					return target, sp
				}
				return next, sp
			}

		case bytecode.OpPop:
			steps[i] = func(ctx *Context, sp int) (int, int) {
				return next, sp - 1
			}

		case bytecode.OpPrint:
			steps[i] = func(ctx *Context, sp int) (int, int) {
				sp--
				ctx.RT.Print(ctx.Stack[sp])
				return next, sp
			}

		case bytecode.OpPrintF:
			steps[i] = func(ctx *Context, sp int) (int, int) {
				sp--
				ctx.RT.PrintFloatBits(ctx.Stack[sp])
				return next, sp
			}

		case bytecode.OpPrintBig:
			steps[i] = func(ctx *Context, sp int) (int, int) {
				sp -= 2
				ctx.RT.PrintBig(ctx.Stack[sp], ctx.Stack[sp+1])
				return next, sp
			}

		case bytecode.OpArrayNew:
			nv := needValue
			steps[i] = func(ctx *Context, sp int) (int, int) {
				sp--
				n := ctx.Stack[sp]
				ctx.StackSize = sp
				v := ctx.RT.ArrayNew(n)
				if nv {
					ctx.Stack[sp] = v
				} else {
					ctx.Stack[sp] = 0
				}
				return next, sp + 1
			}

		case bytecode.OpArrayGet:
			nv := needValue
			steps[i] = func(ctx *Context, sp int) (int, int) {
				sp -= 2
				v := ctx.RT.ArrayGet(ctx.Stack[sp], ctx.Stack[sp+1])
				if nv {
					ctx.Stack[sp] = v
				} else {
					ctx.Stack[sp] = 0
				}
				return next, sp + 1
			}

		case bytecode.OpArraySet:
			steps[i] = func(ctx *Context, sp int) (int, int) {
				sp -= 3
				ctx.RT.ArraySet(ctx.Stack[sp], ctx.Stack[sp+1], ctx.Stack[sp+2])
				return next, sp
			}

		case bytecode.OpArrayLen:
			nv := needValue
			steps[i] = func(ctx *Context, sp int) (int, int) {
				v := ctx.RT.ArrayLen(ctx.Stack[sp-1])
				if nv {
					ctx.Stack[sp-1] = v
				} else {
					ctx.Stack[sp-1] = 0
				}
				return next, sp
			}

		case bytecode.OpTimeMS:
			nv := needValue
			steps[i] = func(ctx *Context, sp int) (int, int) {
				v := ctx.RT.TimeMS()
				if nv {
					ctx.Stack[sp] = v
				} else {
					ctx.Stack[sp] = 0
				}
				return next, sp + 1
			}

		case bytecode.OpRand:
			nv := needValue
			steps[i] = func(ctx *Context, sp int) (int, int) {
				v := ctx.RT.Rand()
				if nv {
					ctx.Stack[sp] = v
				} else {
					ctx.Stack[sp] = 0
				}
				return next, sp + 1
			}

		case bytecode.OpCall:
			fid := in.A
			argc := int(in.B)
			nv := needValue
			steps[i] = func(ctx *Context, sp int) (int, int) {
				// Publish the live prefix (arguments included) so a
				// collection inside the callee sees them as roots.
				ctx.StackSize = sp
				v := ctx.RT.CallFunction(fid, ctx.Stack[sp-argc:sp])
				sp -= argc
				if nv {
					ctx.Stack[sp] = v
				} else {
					ctx.Stack[sp] = 0
				}
				return next, sp + 1
			}

		case bytecode.OpReturn, bytecode.OpHalt:
			steps[i] = func(ctx *Context, sp int) (int, int) {
				return -1, sp
			}

		default:
			return nil, fmt.Errorf("jit: unhandled opcode %s", in.Op)
		}
	}

	fn := func(ctx *Context) int64 {
		idx, sp := 0, 0
		for idx >= 0 {
			idx, sp = steps[idx](ctx, sp)
		}
		if sp > 0 {
			return ctx.Stack[sp-1]
		}
		return 0
	}
	return fn, nil
}

func intCmpStep(next int, cmp func(a, b int64) bool) step {
	return func(ctx *Context, sp int) (int, int) {
		if cmp(ctx.Stack[sp-2], ctx.Stack[sp-1]) {
			ctx.Stack[sp-2] = 1
		} else {
			ctx.Stack[sp-2] = 0
		}
		return next, sp - 1
	}
}

func floatArithStep(next int, op func(a, b float64) float64) step {
	return func(ctx *Context, sp int) (int, int) {
		a := math.Float64frombits(uint64(ctx.Stack[sp-2]))
		b := math.Float64frombits(uint64(ctx.Stack[sp-1]))
		ctx.Stack[sp-2] = int64(math.Float64bits(op(a, b)))
		return next, sp - 1
	}
}

func floatCmpStep(next int, cmp func(a, b float64) bool) step {
	return func(ctx *Context, sp int) (int, int) {
		a := math.Float64frombits(uint64(ctx.Stack[sp-2]))
		b := math.Float64frombits(uint64(ctx.Stack[sp-1]))
		if cmp(a, b) {
			ctx.Stack[sp-2] = 1
		} else {
			ctx.Stack[sp-2] = 0
		}
		return next, sp - 1
	}
}
