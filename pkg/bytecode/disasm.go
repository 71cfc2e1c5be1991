package bytecode

import (
	"fmt"
	"math"
	"strings"
)

// DisassembleFunc renders one function, one instruction per line with
// byte offsets. Undecodable tails are rendered as raw bytes so a broken
// buffer can still be inspected.
func DisassembleFunc(p *Program, fn *Function) string {
	var b strings.Builder
	fmt.Fprintf(&b, "fn %s (id=%d arity=%d locals=%d maxstack=%d) [%d..%d)\n",
		fn.Name, fn.ID, fn.Arity, fn.NLocals, fn.MaxStack, fn.Entry, fn.End)

	code := p.Code.Buf
	for ip := fn.Entry; ip < fn.End; {
		in, err := Decode(code, ip)
		if err != nil {
			fmt.Fprintf(&b, "  %04d  .byte %d\n", ip, code[ip])
			ip++
			continue
		}

		switch in.Op {
		case OpIConst:
			fmt.Fprintf(&b, "  %04d  %-13s %d\n", ip, in.Op, in.Imm)
		case OpFConst:
			fmt.Fprintf(&b, "  %04d  %-13s %g\n", ip, in.Op, math.Float64frombits(uint64(in.Imm)))
		case OpLoad, OpStore:
			fmt.Fprintf(&b, "  %04d  %-13s slot %d\n", ip, in.Op, in.A)
		case OpJump, OpJumpIfFalse:
			fmt.Fprintf(&b, "  %04d  %-13s -> %d\n", ip, in.Op, in.Target)
		case OpCall:
			name := fmt.Sprintf("#%d", in.A)
			if int(in.A) < len(p.Funcs) {
				name = p.Funcs[in.A].Name
			}
			fmt.Fprintf(&b, "  %04d  %-13s %s argc=%d\n", ip, in.Op, name, in.B)
		default:
			fmt.Fprintf(&b, "  %04d  %s\n", ip, in.Op)
		}
		ip = in.Next
	}
	return b.String()
}

// DisassembleProgram renders every function in id order.
func DisassembleProgram(p *Program) string {
	var b strings.Builder
	for i := range p.Funcs {
		b.WriteString(DisassembleFunc(p, &p.Funcs[i]))
	}
	fmt.Fprintf(&b, "code: %d bytes\n", len(p.Code.Buf))
	return b.String()
}
