// Package compiler lowers the AST to bytecode. It tracks a per-slot
// "floatness" attribute so each arithmetic expression gets the integer
// or floating opcode variant, patches forward jumps for structured
// control flow, and computes every function's max operand-stack height.
package compiler

import (
	"fmt"

	"github.com/alecthomas/participle/v2/lexer"

	"kite/pkg/bytecode"
	kerr "kite/pkg/errors"
	"kite/pkg/parser"
)

// Compiler lowers one module. Errors accumulate so a single run reports
// everything; on any error the produced program must not be executed.
type Compiler struct {
	prog *bytecode.Program
	errs []error
}

// Compile lowers mod into a fresh program.
func Compile(mod *parser.Module) (*bytecode.Program, []error) {
	c := &Compiler{prog: bytecode.NewProgram()}

	// Register every function first so bodies can call forward.
	type pending struct {
		id uint32
		fn *parser.FuncDecl
	}
	var todo []pending
	for _, fn := range mod.Funcs {
		if c.prog.FuncID(fn.Name) >= 0 {
			c.errorf(fn.Pos, "duplicate function: %s", fn.Name)
			continue
		}
		arity := uint32(len(fn.Params))
		id := c.prog.AddFunc(fn.Name, arity, arity, 0)
		todo = append(todo, pending{id: id, fn: fn})
	}

	for _, p := range todo {
		c.lowerFunc(p.id, p.fn)
	}

	return c.prog, c.errs
}

func (c *Compiler) errorf(pos lexer.Position, format string, args ...any) {
	c.errs = append(c.errs, kerr.Resolvef(posString(pos), format, args...))
}

func posString(pos lexer.Position) string {
	if pos.Line == 0 {
		return ""
	}
	return fmt.Sprintf("%d:%d", pos.Line, pos.Column)
}

// local is a named slot plus its current floatness. The attribute is
// kept beside the index, never folded into it.
type local struct {
	slot    uint32
	isFloat bool
}

type loopCtx struct {
	breaks    []int
	continues []int
}

// funcScope is the per-function lowering state.
type funcScope struct {
	c      *Compiler
	code   *bytecode.Code
	locals map[string]*local
	next   uint32
	loops  []loopCtx
}

func (c *Compiler) lowerFunc(id uint32, fn *parser.FuncDecl) {
	fs := &funcScope{
		c:      c,
		code:   &c.prog.Code,
		locals: make(map[string]*local),
	}
	for i, p := range fn.Params {
		if _, dup := fs.locals[p]; dup {
			c.errorf(fn.Pos, "duplicate parameter %s in function %s", p, fn.Name)
			continue
		}
		fs.locals[p] = &local{slot: uint32(i)}
	}
	fs.next = uint32(len(fn.Params))

	f := &c.prog.Funcs[id]
	f.Entry = fs.code.PC()

	fs.genBlock(fn.Body)

	// Implicit `return 0` so every path ends at a RET.
	fs.code.EmitOp(bytecode.OpIConst)
	fs.code.EmitI64(0)
	fs.code.EmitOp(bytecode.OpReturn)

	f.NLocals = fs.next
	f.End = fs.code.PC()
	f.MaxStack = bytecode.ComputeMaxStack(c.prog, f)
}

// ensureLocal returns the named slot, allocating one on first sight.
func (fs *funcScope) ensureLocal(name string) *local {
	if l, ok := fs.locals[name]; ok {
		return l
	}
	l := &local{slot: fs.next}
	fs.next++
	fs.locals[name] = l
	return l
}

func (fs *funcScope) genBlock(b *parser.Block) {
	for _, s := range b.Stmts {
		fs.genStmt(s)
	}
}

func (fs *funcScope) genStmt(s *parser.Stmt) {
	switch {
	case s.Let != nil:
		fs.genLet(s.Let.Pos, s.Let.Name, s.Let.Init)

	case s.Return != nil:
		fs.genExpr(s.Return.Value)
		fs.code.EmitOp(bytecode.OpReturn)

	case s.Break != nil:
		if len(fs.loops) == 0 {
			fs.c.errorf(s.Break.Pos, "break outside of loop")
			return
		}
		fs.code.EmitOp(bytecode.OpJump)
		at := fs.code.PC()
		fs.code.EmitU32(0)
		top := &fs.loops[len(fs.loops)-1]
		top.breaks = append(top.breaks, at)

	case s.Continue != nil:
		if len(fs.loops) == 0 {
			fs.c.errorf(s.Continue.Pos, "continue outside of loop")
			return
		}
		fs.code.EmitOp(bytecode.OpJump)
		at := fs.code.PC()
		fs.code.EmitU32(0)
		top := &fs.loops[len(fs.loops)-1]
		top.continues = append(top.continues, at)

	case s.If != nil:
		fs.genIf(s.If)

	case s.While != nil:
		fs.genWhile(s.While)

	case s.For != nil:
		fs.genFor(s.For)

	case s.Simple != nil:
		fs.genSimple(s.Simple)
	}
}

func (fs *funcScope) genLet(pos lexer.Position, name string, init *parser.Expr) {
	l := fs.ensureLocal(name)
	if init != nil {
		// Floatness is decided on the pre-assignment state, then the
		// slot attribute flips before code is emitted.
		l.isFloat = fs.exprIsFloat(init)
		fs.genExpr(init)
	} else {
		l.isFloat = false
		fs.code.EmitOp(bytecode.OpIConst)
		fs.code.EmitI64(0)
	}
	fs.code.EmitOp(bytecode.OpStore)
	fs.code.EmitU32(l.slot)
}

func (fs *funcScope) genAssignVar(pos lexer.Position, name string, value *parser.Expr) {
	l, ok := fs.locals[name]
	if !ok {
		fs.c.errorf(pos, "assign to unknown variable: %s", name)
		return
	}
	l.isFloat = fs.exprIsFloat(value)
	fs.genExpr(value)
	fs.code.EmitOp(bytecode.OpStore)
	fs.code.EmitU32(l.slot)
}

func (fs *funcScope) genSimple(s *parser.SimpleStmt) {
	if s.Value == nil {
		fs.genExpr(s.Target)
		fs.code.EmitOp(bytecode.OpPop)
		return
	}

	post, ok := assignTarget(s.Target)
	if !ok {
		fs.c.errorf(s.Pos, "invalid assignment target")
		return
	}

	if len(post.Indexes) == 0 {
		if post.Prim.Var == nil {
			fs.c.errorf(s.Pos, "invalid assignment target")
			return
		}
		fs.genAssignVar(s.Pos, *post.Prim.Var, s.Value)
		return
	}

	// a[i][j] = v lowers to gets down the chain, then one set.
	fs.genPrimary(post.Prim)
	for _, idx := range post.Indexes[:len(post.Indexes)-1] {
		fs.genExpr(idx)
		fs.code.EmitOp(bytecode.OpArrayGet)
	}
	fs.genExpr(post.Indexes[len(post.Indexes)-1])
	fs.genExpr(s.Value)
	fs.code.EmitOp(bytecode.OpArraySet)
}

// assignTarget strips the expression ladder down to a bare postfix;
// anything with an operator in it is not assignable.
func assignTarget(e *parser.Expr) (*parser.Postfix, bool) {
	if len(e.Rest) != 0 || len(e.Left.Rest) != 0 || len(e.Left.Left.Rest) != 0 ||
		len(e.Left.Left.Left.Rest) != 0 {
		return nil, false
	}
	u := e.Left.Left.Left.Left
	if u.Minus != nil {
		return nil, false
	}
	return u.Post, true
}

func (fs *funcScope) genIf(s *parser.IfStmt) {
	fs.genExpr(s.Cond)

	fs.code.EmitOp(bytecode.OpJumpIfFalse)
	jz := fs.code.PC()
	fs.code.EmitU32(0)

	fs.genBlock(s.Then)

	if s.Else != nil {
		fs.code.EmitOp(bytecode.OpJump)
		jend := fs.code.PC()
		fs.code.EmitU32(0)

		fs.code.Patch32(jz, uint32(fs.code.PC()))
		fs.genBlock(s.Else)
		fs.code.Patch32(jend, uint32(fs.code.PC()))
	} else {
		fs.code.Patch32(jz, uint32(fs.code.PC()))
	}
}

func (fs *funcScope) genWhile(s *parser.WhileStmt) {
	fs.loops = append(fs.loops, loopCtx{})

	start := fs.code.PC()
	fs.genExpr(s.Cond)
	fs.code.EmitOp(bytecode.OpJumpIfFalse)
	jz := fs.code.PC()
	fs.code.EmitU32(0)

	fs.genBlock(s.Body)

	fs.closeLoop(start, jz, start)
}

func (fs *funcScope) genFor(s *parser.ForStmt) {
	fs.loops = append(fs.loops, loopCtx{})

	if s.Init != nil {
		switch {
		case s.Init.Let != nil:
			fs.genLet(s.Init.Let.Pos, s.Init.Let.Name, s.Init.Let.Init)
		case s.Init.Assign != nil:
			fs.genAssignVar(s.Init.Assign.Pos, s.Init.Assign.Name, s.Init.Assign.Value)
		}
	}

	start := fs.code.PC()
	if s.Cond != nil {
		fs.genExpr(s.Cond)
	} else {
		fs.code.EmitOp(bytecode.OpIConst)
		fs.code.EmitI64(1)
	}
	fs.code.EmitOp(bytecode.OpJumpIfFalse)
	jz := fs.code.PC()
	fs.code.EmitU32(0)

	fs.genBlock(s.Body)

	continueTarget := fs.code.PC()
	if s.Step != nil {
		fs.genAssignVar(s.Step.Pos, s.Step.Name, s.Step.Value)
	}

	fs.closeLoop(start, jz, continueTarget)
}

// closeLoop emits the back edge and patches the exit jump plus every
// pending break/continue of the innermost loop.
func (fs *funcScope) closeLoop(start, jz, continueTarget int) {
	top := fs.loops[len(fs.loops)-1]

	for _, at := range top.continues {
		fs.code.Patch32(at, uint32(continueTarget))
	}

	fs.code.EmitOp(bytecode.OpJump)
	fs.code.EmitU32(uint32(start))

	end := fs.code.PC()
	fs.code.Patch32(jz, uint32(end))
	for _, at := range top.breaks {
		fs.code.Patch32(at, uint32(end))
	}

	fs.loops = fs.loops[:len(fs.loops)-1]
}
