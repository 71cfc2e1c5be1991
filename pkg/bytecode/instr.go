package bytecode

import "fmt"

// Instr is one decoded instruction together with the static attributes
// the stack analyses need: how many operand slots it consumes and
// produces, whether it has observable side effects, and whether its
// inputs matter when its results do not.
type Instr struct {
	IP  int
	Op  Op
	Imm int64  // ICONST/FCONST payload
	A   uint32 // LOAD/STORE slot, JMP/JMP_IF_FALSE target, CALL callee id
	B   uint32 // CALL argc

	Next        int // ip of the fallthrough successor
	Target      int // jump target (valid when HasJump)
	HasJump     bool
	Fallthrough bool
	IsEnd       bool

	Consume    int
	Produce    int
	SideEffect bool
	UsesInputs bool
}

// Effect is the net operand-stack effect of the instruction.
func (in *Instr) Effect() int {
	return in.Produce - in.Consume
}

// Decode reads the instruction starting at ip. It fails on an opcode it
// does not know or on immediates running past the end of code; callers
// that cannot tolerate that (the JIT) treat the failure as "leave this
// function to the interpreter".
func Decode(code []byte, ip int) (Instr, error) {
	if ip >= len(code) {
		return Instr{}, fmt.Errorf("decode: offset %d out of range", ip)
	}

	in := Instr{IP: ip, Op: Op(code[ip]), Fallthrough: true, UsesInputs: true}
	next := ip + 1

	imm64 := func() error {
		if next+8 > len(code) {
			return fmt.Errorf("decode: truncated i64 immediate at %d", next)
		}
		in.Imm = I64At(code, next)
		next += 8
		return nil
	}
	immU32 := func(dst *uint32) error {
		if next+4 > len(code) {
			return fmt.Errorf("decode: truncated u32 immediate at %d", next)
		}
		*dst = U32At(code, next)
		next += 4
		return nil
	}

	switch in.Op {
	case OpNop:
		in.UsesInputs = false

	case OpIConst, OpFConst:
		if err := imm64(); err != nil {
			return Instr{}, err
		}
		in.Produce = 1
		in.UsesInputs = false

	case OpLoad:
		if err := immU32(&in.A); err != nil {
			return Instr{}, err
		}
		in.Produce = 1
		in.UsesInputs = false

	case OpStore:
		if err := immU32(&in.A); err != nil {
			return Instr{}, err
		}
		in.Consume = 1
		in.SideEffect = true

	case OpIAdd, OpISub, OpIMul:
		in.Consume = 2
		in.Produce = 1

	case OpIDiv, OpIMod:
		// Division faults on a zero divisor, so it must execute even
		// when its result is dead.
		in.Consume = 2
		in.Produce = 1
		in.SideEffect = true

	case OpCmpLe, OpCmpLt, OpCmpGe, OpCmpGt, OpCmpEq, OpCmpNe,
		OpFCmpLe, OpFCmpLt, OpFCmpGe, OpFCmpGt, OpFCmpEq, OpFCmpNe:
		in.Consume = 2
		in.Produce = 1

	case OpI2F, OpF2I, OpFSqrt:
		in.Consume = 1
		in.Produce = 1

	case OpFAdd, OpFSub, OpFMul, OpFDiv:
		in.Consume = 2
		in.Produce = 1

	case OpJump:
		if err := immU32(&in.A); err != nil {
			return Instr{}, err
		}
		in.Target = int(in.A)
		in.HasJump = true
		in.Fallthrough = false
		in.SideEffect = true
		in.UsesInputs = false

	case OpJumpIfFalse:
		if err := immU32(&in.A); err != nil {
			return Instr{}, err
		}
		in.Target = int(in.A)
		in.HasJump = true
		in.Consume = 1
		in.SideEffect = true

	case OpCall:
		if err := immU32(&in.A); err != nil {
			return Instr{}, err
		}
		if err := immU32(&in.B); err != nil {
			return Instr{}, err
		}
		in.Consume = int(in.B)
		in.Produce = 1
		in.SideEffect = true

	case OpReturn:
		in.Consume = 1
		in.SideEffect = true
		in.IsEnd = true
		in.Fallthrough = false

	case OpHalt:
		in.SideEffect = true
		in.IsEnd = true
		in.Fallthrough = false
		in.UsesInputs = false

	case OpPop:
		in.Consume = 1
		in.UsesInputs = false

	case OpPrint, OpPrintF:
		in.Consume = 1
		in.SideEffect = true

	case OpPrintBig:
		in.Consume = 2
		in.SideEffect = true

	case OpArrayNew:
		in.Consume = 1
		in.Produce = 1
		in.SideEffect = true

	case OpArrayGet:
		in.Consume = 2
		in.Produce = 1
		in.SideEffect = true

	case OpArraySet:
		in.Consume = 3
		in.SideEffect = true

	case OpArrayLen:
		in.Consume = 1
		in.Produce = 1
		in.SideEffect = true

	case OpTimeMS, OpRand:
		in.Produce = 1
		in.SideEffect = true
		in.UsesInputs = false

	default:
		return Instr{}, fmt.Errorf("decode: unknown opcode %d at %d", code[ip], ip)
	}

	in.Next = next
	return in, nil
}

// ScanFunc decodes every instruction of fn in order. The second result
// maps byte offsets to indices into the first (-1 where no instruction
// starts).
func ScanFunc(p *Program, fn *Function) ([]Instr, []int, error) {
	code := p.Code.Buf
	insts := make([]Instr, 0, fn.End-fn.Entry)
	ipToIndex := make([]int, len(code)+1)
	for i := range ipToIndex {
		ipToIndex[i] = -1
	}

	for ip := fn.Entry; ip < fn.End; {
		in, err := Decode(code, ip)
		if err != nil {
			return nil, nil, err
		}
		ipToIndex[ip] = len(insts)
		insts = append(insts, in)
		ip = in.Next
	}
	return insts, ipToIndex, nil
}
