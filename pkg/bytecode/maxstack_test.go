package bytecode

import "testing"

// buildFunc wraps raw emission into a one-function program.
func buildFunc(t *testing.T, emitBody func(c *Code)) (*Program, *Function) {
	t.Helper()
	p := NewProgram()
	p.AddFunc("f", 0, 0, 0)
	fn := &p.Funcs[0]
	fn.Entry = p.Code.PC()
	emitBody(&p.Code)
	fn.End = p.Code.PC()
	return p, fn
}

func TestMaxStackStraightLine(t *testing.T) {
	// 2 3 IADD RET peaks at height 2.
	p, fn := buildFunc(t, func(c *Code) {
		c.EmitOp(OpIConst)
		c.EmitI64(2)
		c.EmitOp(OpIConst)
		c.EmitI64(3)
		c.EmitOp(OpIAdd)
		c.EmitOp(OpReturn)
	})

	if got := ComputeMaxStack(p, fn); got != 2+maxStackMargin {
		t.Errorf("max stack = %d, want %d", got, 2+maxStackMargin)
	}
}

func TestMaxStackCallEffect(t *testing.T) {
	// Three args collapse to one result: peak 3.
	p, fn := buildFunc(t, func(c *Code) {
		c.EmitOp(OpIConst)
		c.EmitI64(1)
		c.EmitOp(OpIConst)
		c.EmitI64(2)
		c.EmitOp(OpIConst)
		c.EmitI64(3)
		c.EmitOp(OpCall)
		c.EmitU32(0)
		c.EmitU32(3)
		c.EmitOp(OpReturn)
	})

	if got := ComputeMaxStack(p, fn); got != 3+maxStackMargin {
		t.Errorf("max stack = %d, want %d", got, 3+maxStackMargin)
	}
}

func TestMaxStackBranchesMerge(t *testing.T) {
	// Both arms of a diamond leave one value; the peak is inside the
	// condition (height 1 before the branch pops it).
	var jz, jend int
	p, fn := buildFunc(t, func(c *Code) {
		c.EmitOp(OpIConst)
		c.EmitI64(1)
		c.EmitOp(OpJumpIfFalse)
		jz = c.PC()
		c.EmitU32(0)

		c.EmitOp(OpIConst) // then arm
		c.EmitI64(10)
		c.EmitOp(OpJump)
		jend = c.PC()
		c.EmitU32(0)

		c.Patch32(jz, uint32(c.PC()))
		c.EmitOp(OpIConst) // else arm
		c.EmitI64(20)

		c.Patch32(jend, uint32(c.PC()))
		c.EmitOp(OpReturn)
	})

	if got := ComputeMaxStack(p, fn); got != 1+maxStackMargin {
		t.Errorf("max stack = %d, want %d", got, 1+maxStackMargin)
	}
}

func TestMaxStackLoopDoesNotDiverge(t *testing.T) {
	// while(1){} compiles to a back edge; heights must stabilise.
	var jz int
	p, fn := buildFunc(t, func(c *Code) {
		start := c.PC()
		c.EmitOp(OpIConst)
		c.EmitI64(1)
		c.EmitOp(OpJumpIfFalse)
		jz = c.PC()
		c.EmitU32(0)
		c.EmitOp(OpJump)
		c.EmitU32(uint32(start))
		c.Patch32(jz, uint32(c.PC()))
		c.EmitOp(OpIConst)
		c.EmitI64(0)
		c.EmitOp(OpReturn)
	})

	if got := ComputeMaxStack(p, fn); got != 1+maxStackMargin {
		t.Errorf("max stack = %d, want %d", got, 1+maxStackMargin)
	}
}
