package compiler

import (
	"math"

	"kite/pkg/bytecode"
	"kite/pkg/parser"
)

// Floatness inference mirrors the opcode selection below: comparisons
// and % always produce integers; + - * / promote when either side is a
// float; sqrt is the one float-producing builtin.

func (fs *funcScope) exprIsFloat(e *parser.Expr) bool {
	if len(e.Rest) != 0 {
		return false
	}
	return fs.cmpIsFloat(e.Left)
}

func (fs *funcScope) cmpIsFloat(e *parser.CmpExpr) bool {
	if len(e.Rest) != 0 {
		return false
	}
	return fs.addIsFloat(e.Left)
}

func (fs *funcScope) addIsFloat(e *parser.AddExpr) bool {
	f := fs.mulIsFloat(e.Left)
	for _, t := range e.Rest {
		if fs.mulIsFloat(t.Right) {
			f = true
		}
	}
	return f
}

func (fs *funcScope) mulIsFloat(e *parser.MulExpr) bool {
	f := fs.unaryIsFloat(e.Left)
	for _, t := range e.Rest {
		if t.Op == "%" {
			f = false
			continue
		}
		if fs.unaryIsFloat(t.Right) {
			f = true
		}
	}
	return f
}

func (fs *funcScope) unaryIsFloat(e *parser.Unary) bool {
	if e.Minus != nil {
		return fs.unaryIsFloat(e.Minus)
	}
	return fs.postfixIsFloat(e.Post)
}

func (fs *funcScope) postfixIsFloat(e *parser.Postfix) bool {
	if len(e.Indexes) != 0 {
		return false
	}
	p := e.Prim
	switch {
	case p.Float != nil:
		return true
	case p.Int != nil:
		return false
	case p.Call != nil:
		return p.Call.Name == "sqrt"
	case p.Var != nil:
		if l, ok := fs.locals[*p.Var]; ok {
			return l.isFloat
		}
		return false
	case p.Paren != nil:
		return fs.exprIsFloat(p.Paren)
	}
	return false
}

func (fs *funcScope) genExpr(e *parser.Expr) {
	lf := fs.cmpIsFloat(e.Left)
	fs.genCmp(e.Left)
	for _, t := range e.Rest {
		rf := fs.cmpIsFloat(t.Right)
		fs.genCmp(t.Right)
		useF := lf || rf
		switch t.Op {
		case "==":
			fs.emitVariant(useF, bytecode.OpFCmpEq, bytecode.OpCmpEq)
		case "!=":
			fs.emitVariant(useF, bytecode.OpFCmpNe, bytecode.OpCmpNe)
		}
		lf = false
	}
}

func (fs *funcScope) genCmp(e *parser.CmpExpr) {
	lf := fs.addIsFloat(e.Left)
	fs.genAdd(e.Left)
	for _, t := range e.Rest {
		rf := fs.addIsFloat(t.Right)
		fs.genAdd(t.Right)
		useF := lf || rf
		switch t.Op {
		case "<=":
			fs.emitVariant(useF, bytecode.OpFCmpLe, bytecode.OpCmpLe)
		case "<":
			fs.emitVariant(useF, bytecode.OpFCmpLt, bytecode.OpCmpLt)
		case ">=":
			fs.emitVariant(useF, bytecode.OpFCmpGe, bytecode.OpCmpGe)
		case ">":
			fs.emitVariant(useF, bytecode.OpFCmpGt, bytecode.OpCmpGt)
		}
		lf = false
	}
}

func (fs *funcScope) emitVariant(useFloat bool, f, i bytecode.Op) {
	if useFloat {
		fs.code.EmitOp(f)
	} else {
		fs.code.EmitOp(i)
	}
}

func (fs *funcScope) genAdd(e *parser.AddExpr) {
	lf := fs.mulIsFloat(e.Left)
	fs.genMul(e.Left)
	for _, t := range e.Rest {
		rf := fs.mulIsFloat(t.Right)
		fs.genMul(t.Right)
		useF := lf || rf
		switch t.Op {
		case "+":
			fs.emitVariant(useF, bytecode.OpFAdd, bytecode.OpIAdd)
		case "-":
			fs.emitVariant(useF, bytecode.OpFSub, bytecode.OpISub)
		}
		lf = useF
	}
}

func (fs *funcScope) genMul(e *parser.MulExpr) {
	lf := fs.unaryIsFloat(e.Left)
	fs.genUnary(e.Left)
	for _, t := range e.Rest {
		rf := fs.unaryIsFloat(t.Right)
		fs.genUnary(t.Right)
		useF := lf || rf
		switch t.Op {
		case "*":
			fs.emitVariant(useF, bytecode.OpFMul, bytecode.OpIMul)
			lf = useF
		case "/":
			fs.emitVariant(useF, bytecode.OpFDiv, bytecode.OpIDiv)
			lf = useF
		case "%":
			fs.code.EmitOp(bytecode.OpIMod)
			lf = false
		}
	}
}

// Unary minus lowers to 0 - x; an integer zero's bit pattern is also a
// float +0.0, so the subtract variant alone decides the typing.
func (fs *funcScope) genUnary(e *parser.Unary) {
	if e.Minus != nil {
		fs.code.EmitOp(bytecode.OpIConst)
		fs.code.EmitI64(0)
		fs.genUnary(e.Minus)
		if fs.unaryIsFloat(e.Minus) {
			fs.code.EmitOp(bytecode.OpFSub)
		} else {
			fs.code.EmitOp(bytecode.OpISub)
		}
		return
	}
	fs.genPostfix(e.Post)
}

func (fs *funcScope) genPostfix(e *parser.Postfix) {
	fs.genPrimary(e.Prim)
	for _, idx := range e.Indexes {
		fs.genExpr(idx)
		fs.code.EmitOp(bytecode.OpArrayGet)
	}
}

func (fs *funcScope) genPrimary(p *parser.Primary) {
	switch {
	case p.Float != nil:
		fs.code.EmitOp(bytecode.OpFConst)
		fs.code.EmitI64(int64(math.Float64bits(*p.Float)))

	case p.Int != nil:
		fs.code.EmitOp(bytecode.OpIConst)
		fs.code.EmitI64(*p.Int)

	case p.Call != nil:
		fs.genCall(p.Call)

	case p.Var != nil:
		l, ok := fs.locals[*p.Var]
		if !ok {
			fs.c.errorf(p.Pos, "unknown variable: %s", *p.Var)
			fs.code.EmitOp(bytecode.OpIConst)
			fs.code.EmitI64(0)
			return
		}
		fs.code.EmitOp(bytecode.OpLoad)
		fs.code.EmitU32(l.slot)

	case p.Paren != nil:
		fs.genExpr(p.Paren)
	}
}

func (fs *funcScope) genCall(call *parser.Call) {
	argc := len(call.Args)
	wrongArity := func(want int) bool {
		if argc != want {
			fs.c.errorf(call.Pos, "%s expects %d args, got %d", call.Name, want, argc)
			fs.code.EmitOp(bytecode.OpIConst)
			fs.code.EmitI64(0)
			return true
		}
		return false
	}

	switch call.Name {
	case "print":
		if wrongArity(1) {
			return
		}
		isF := fs.exprIsFloat(call.Args[0])
		fs.genExpr(call.Args[0])
		if isF {
			fs.code.EmitOp(bytecode.OpPrintF)
		} else {
			fs.code.EmitOp(bytecode.OpPrint)
		}
		fs.code.EmitOp(bytecode.OpIConst)
		fs.code.EmitI64(0)
		return

	case "print_big":
		if wrongArity(2) {
			return
		}
		fs.genExpr(call.Args[0])
		fs.genExpr(call.Args[1])
		fs.code.EmitOp(bytecode.OpPrintBig)
		fs.code.EmitOp(bytecode.OpIConst)
		fs.code.EmitI64(0)
		return

	case "len":
		if wrongArity(1) {
			return
		}
		fs.genExpr(call.Args[0])
		fs.code.EmitOp(bytecode.OpArrayLen)
		return

	case "array":
		if wrongArity(1) {
			return
		}
		fs.genExpr(call.Args[0])
		fs.code.EmitOp(bytecode.OpArrayNew)
		return

	case "time_ms", "now":
		if wrongArity(0) {
			return
		}
		fs.code.EmitOp(bytecode.OpTimeMS)
		return

	case "rand":
		if wrongArity(0) {
			return
		}
		fs.code.EmitOp(bytecode.OpRand)
		return

	case "sqrt":
		if wrongArity(1) {
			return
		}
		fs.genExpr(call.Args[0])
		fs.code.EmitOp(bytecode.OpFSqrt)
		return
	}

	fid := fs.c.prog.FuncID(call.Name)
	if fid < 0 {
		fs.c.errorf(call.Pos, "unknown function: %s", call.Name)
		fs.code.EmitOp(bytecode.OpIConst)
		fs.code.EmitI64(0)
		return
	}

	fn := &fs.c.prog.Funcs[fid]
	if uint32(argc) != fn.Arity {
		fs.c.errorf(call.Pos, "function %s expects %d args, got %d", call.Name, fn.Arity, argc)
		fs.code.EmitOp(bytecode.OpIConst)
		fs.code.EmitI64(0)
		return
	}

	for _, a := range call.Args {
		fs.genExpr(a)
	}
	fs.code.EmitOp(bytecode.OpCall)
	fs.code.EmitU32(uint32(fid))
	fs.code.EmitU32(uint32(argc))
}
