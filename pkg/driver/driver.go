// Package driver wires the pipeline: source text through the parser
// and compiler into a Program, then a VM (with or without the JIT)
// running its main function.
package driver

import (
	"io"
	"os"

	"kite/pkg/bytecode"
	"kite/pkg/compiler"
	kerr "kite/pkg/errors"
	"kite/pkg/parser"
	"kite/pkg/vm"
)

// Options configure one run.
type Options struct {
	// DisableJIT runs the interpreter exclusively.
	DisableJIT bool
	// GCThreshold overrides the collector's allocation threshold when
	// positive.
	GCThreshold int
	// Stdout receives program output; nil means os.Stdout.
	Stdout io.Writer
}

// CompileSource parses and lowers one module. The filename only labels
// positions in error messages.
func CompileSource(filename, src string) (*bytecode.Program, error) {
	mod, err := parser.Parse(filename, src)
	if err != nil {
		return nil, err
	}
	prog, errs := compiler.Compile(mod)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return prog, nil
}

// CompileFile reads and compiles a source file.
func CompileFile(path string) (*bytecode.Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, kerr.Runtimef("cannot open: %s", path)
	}
	return CompileSource(path, string(src))
}

// Run executes prog's main function and returns its value.
func Run(prog *bytecode.Program, opts Options) (int64, error) {
	if prog.FuncID("main") < 0 {
		return 0, kerr.Resolvef("", "no function named 'main'")
	}

	machine := vm.New(prog)
	if opts.DisableJIT {
		machine.DisableJIT()
	}
	if opts.GCThreshold > 0 {
		machine.GCThreshold = opts.GCThreshold
	}
	if opts.Stdout != nil {
		machine.Stdout = opts.Stdout
	}

	return machine.Run("main")
}

// RunSource compiles and runs in one step; tests lean on it.
func RunSource(filename, src string, opts Options) (int64, error) {
	prog, err := CompileSource(filename, src)
	if err != nil {
		return 0, err
	}
	return Run(prog, opts)
}
