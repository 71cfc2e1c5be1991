package vm

import (
	"math"

	"kite/pkg/bytecode"
)

// interpret runs the entry function in the reference interpreter.
// Frames stack up on the shared operand stack; calls into compiled
// callees route through the trampoline so the call graph looks the
// same from both engines.
func (vm *VM) interpret(entryID uint32) int64 {
	vm.estack = vm.estack[:0]
	vm.frames = vm.frames[:0]

	vm.pushFrame(entryID, -1)
	ip := vm.Prog.Funcs[entryID].Entry
	code := vm.Prog.Code.Buf

	readI64 := func() int64 {
		v := bytecode.I64At(code, ip)
		ip += 8
		return v
	}
	readU32 := func() uint32 {
		v := bytecode.U32At(code, ip)
		ip += 4
		return v
	}

	for {
		op := bytecode.Op(code[ip])
		ip++

		switch op {
		case bytecode.OpNop:

		case bytecode.OpIConst, bytecode.OpFConst:
			vm.push(readI64())

		case bytecode.OpLoad:
			slot := readU32()
			fr := vm.frames[len(vm.frames)-1]
			idx := fr.bp + int(slot)
			if idx >= len(vm.estack) {
				vm.fail("LOAD: slot out of range")
			}
			vm.push(vm.estack[idx])

		case bytecode.OpStore:
			slot := readU32()
			v := vm.pop("STORE")
			fr := vm.frames[len(vm.frames)-1]
			idx := fr.bp + int(slot)
			if idx >= len(vm.estack) {
				vm.fail("STORE: slot out of range")
			}
			vm.estack[idx] = v

		case bytecode.OpIAdd:
			b := vm.pop("IADD")
			a := vm.pop("IADD")
			vm.push(a + b)

		case bytecode.OpISub:
			b := vm.pop("ISUB")
			a := vm.pop("ISUB")
			vm.push(a - b)

		case bytecode.OpIMul:
			b := vm.pop("IMUL")
			a := vm.pop("IMUL")
			vm.push(a * b)

		case bytecode.OpIDiv:
			b := vm.pop("IDIV")
			a := vm.pop("IDIV")
			if b == 0 {
				vm.fail("division by zero")
			}
			vm.push(a / b)

		case bytecode.OpIMod:
			b := vm.pop("IMOD")
			a := vm.pop("IMOD")
			if b == 0 {
				vm.fail("mod by zero")
			}
			vm.push(a % b)

		case bytecode.OpCmpLe:
			b := vm.pop("CMPLE")
			a := vm.pop("CMPLE")
			vm.push(b2i(a <= b))

		case bytecode.OpCmpLt:
			b := vm.pop("CMPLT")
			a := vm.pop("CMPLT")
			vm.push(b2i(a < b))

		case bytecode.OpCmpGe:
			b := vm.pop("CMPGE")
			a := vm.pop("CMPGE")
			vm.push(b2i(a >= b))

		case bytecode.OpCmpGt:
			b := vm.pop("CMPGT")
			a := vm.pop("CMPGT")
			vm.push(b2i(a > b))

		case bytecode.OpCmpEq:
			b := vm.pop("CMPEQ")
			a := vm.pop("CMPEQ")
			vm.push(b2i(a == b))

		case bytecode.OpCmpNe:
			b := vm.pop("CMPNE")
			a := vm.pop("CMPNE")
			vm.push(b2i(a != b))

		case bytecode.OpI2F:
			a := vm.pop("I2F")
			vm.push(int64(math.Float64bits(float64(a))))

		case bytecode.OpF2I:
			bits := vm.pop("F2I")
			vm.push(int64(math.Float64frombits(uint64(bits))))

		case bytecode.OpFAdd:
			b := f64(vm.pop("FADD"))
			a := f64(vm.pop("FADD"))
			vm.push(fbits(a + b))

		case bytecode.OpFSub:
			b := f64(vm.pop("FSUB"))
			a := f64(vm.pop("FSUB"))
			vm.push(fbits(a - b))

		case bytecode.OpFMul:
			b := f64(vm.pop("FMUL"))
			a := f64(vm.pop("FMUL"))
			vm.push(fbits(a * b))

		case bytecode.OpFDiv:
			b := f64(vm.pop("FDIV"))
			a := f64(vm.pop("FDIV"))
			vm.push(fbits(a / b))

		case bytecode.OpFSqrt:
			bits := vm.pop("FSQRT")
			vm.push(vm.SqrtBits(bits))

		case bytecode.OpFCmpLe:
			b := f64(vm.pop("FCMPLE"))
			a := f64(vm.pop("FCMPLE"))
			vm.push(b2i(a <= b))

		case bytecode.OpFCmpLt:
			b := f64(vm.pop("FCMPLT"))
			a := f64(vm.pop("FCMPLT"))
			vm.push(b2i(a < b))

		case bytecode.OpFCmpGe:
			b := f64(vm.pop("FCMPGE"))
			a := f64(vm.pop("FCMPGE"))
			vm.push(b2i(a >= b))

		case bytecode.OpFCmpGt:
			b := f64(vm.pop("FCMPGT"))
			a := f64(vm.pop("FCMPGT"))
			vm.push(b2i(a > b))

		case bytecode.OpFCmpEq:
			b := f64(vm.pop("FCMPEQ"))
			a := f64(vm.pop("FCMPEQ"))
			vm.push(b2i(a == b))

		case bytecode.OpFCmpNe:
			b := f64(vm.pop("FCMPNE"))
			a := f64(vm.pop("FCMPNE"))
			vm.push(b2i(a != b))

		case bytecode.OpJump:
			ip = int(readU32())

		case bytecode.OpJumpIfFalse:
			addr := readU32()
			if vm.pop("JMP_IF_FALSE") == 0 {
				ip = int(addr)
			}

		case bytecode.OpCall:
			fid := readU32()
			argc := int(readU32())
			if int(fid) >= len(vm.Prog.Funcs) {
				vm.fail("CALL: invalid function id %d", fid)
			}

			if vm.Jit != nil && vm.Jit.IsCompiled(fid) {
				if len(vm.estack) < argc {
					vm.fail("CALL: not enough arguments")
				}
				args := vm.estack[len(vm.estack)-argc:]
				res := vm.CallFunction(fid, args)
				vm.estack = vm.estack[:len(vm.estack)-argc]
				vm.push(res)
				break
			}

			vm.pushFrame(fid, ip)
			ip = vm.Prog.Funcs[fid].Entry

		case bytecode.OpReturn:
			if len(vm.frames) == 0 {
				vm.fail("RET: no frame")
			}
			retTo := vm.frames[len(vm.frames)-1].retIP
			vm.popFrame()
			if retTo == -1 {
				if len(vm.estack) == 0 {
					return 0
				}
				return vm.estack[len(vm.estack)-1]
			}
			ip = retTo

		case bytecode.OpPop:
			vm.pop("POP")

		case bytecode.OpPrint:
			vm.Print(vm.pop("PRINT"))

		case bytecode.OpPrintF:
			vm.PrintFloatBits(vm.pop("PRINT_F"))

		case bytecode.OpPrintBig:
			length := vm.pop("PRINT_BIG")
			handle := vm.pop("PRINT_BIG")
			vm.PrintBig(handle, length)

		case bytecode.OpHalt:
			if len(vm.estack) == 0 {
				return 0
			}
			return vm.estack[len(vm.estack)-1]

		case bytecode.OpArrayNew:
			size := vm.pop("ARRAY_NEW")
			vm.push(vm.ArrayNew(size))

		case bytecode.OpArrayGet:
			idx := vm.pop("ARRAY_GET")
			handle := vm.pop("ARRAY_GET")
			vm.push(vm.ArrayGet(handle, idx))

		case bytecode.OpArraySet:
			val := vm.pop("ARRAY_SET")
			idx := vm.pop("ARRAY_SET")
			handle := vm.pop("ARRAY_SET")
			vm.ArraySet(handle, idx, val)

		case bytecode.OpArrayLen:
			handle := vm.pop("ARRAY_LEN")
			vm.push(vm.ArrayLen(handle))

		case bytecode.OpTimeMS:
			vm.push(vm.TimeMS())

		case bytecode.OpRand:
			vm.push(vm.Rand())

		default:
			vm.fail("unknown opcode %d", uint8(op))
		}
	}
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func f64(bits int64) float64 {
	return math.Float64frombits(uint64(bits))
}

func fbits(x float64) int64 {
	return int64(math.Float64bits(x))
}
