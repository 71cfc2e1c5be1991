package jit

import (
	"fmt"

	"kite/pkg/bytecode"
)

const debugJIT = false

func debugf(format string, args ...any) {
	if debugJIT {
		fmt.Printf(format, args...)
	}
}

// Compiler holds every function compiled so far, keyed by function id.
type Compiler struct {
	funcs map[uint32]Func
}

func NewCompiler() *Compiler {
	return &Compiler{funcs: make(map[uint32]Func)}
}

// IsCompiled reports whether fid has a compiled form.
func (c *Compiler) IsCompiled(fid uint32) bool {
	_, ok := c.funcs[fid]
	return ok
}

// Func returns the compiled form of fid, or nil.
func (c *Compiler) Func(fid uint32) Func {
	return c.funcs[fid]
}

// Compile translates one function. On error nothing is recorded and the
// caller falls back to the interpreter for this function.
func (c *Compiler) Compile(p *bytecode.Program, fid uint32) (Func, error) {
	if int(fid) >= len(p.Funcs) {
		return nil, fmt.Errorf("jit: function id %d out of range", fid)
	}
	fn := &p.Funcs[fid]

	insts, ipToIndex, err := bytecode.ScanFunc(p, fn)
	if err != nil {
		return nil, err
	}
	if len(insts) == 0 {
		return nil, fmt.Errorf("jit: function %s has no instructions", fn.Name)
	}

	resultLive := analyze(insts, ipToIndex, fn.End)

	dead := 0
	for i, live := range resultLive {
		if !live && insts[i].Produce > 0 && !insts[i].SideEffect {
			dead++
		}
	}
	debugf("jit: %s: %d instructions, %d dead producers elided\n",
		fn.Name, len(insts), dead)

	compiled, err := emit(insts, ipToIndex, resultLive)
	if err != nil {
		return nil, err
	}

	c.funcs[fid] = compiled
	return compiled, nil
}
