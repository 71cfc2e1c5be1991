package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"kite/pkg/bytecode"
	"kite/pkg/driver"
)

// Flags follow the file argument, so the arg loop is by hand rather
// than through the flag package.
func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: kite <file> [--no-jit] [--gc=N] [--bytecode]")
		return 2
	}

	file := args[0]
	var opts driver.Options
	showBytecode := false

	for _, arg := range args[1:] {
		switch {
		case arg == "--no-jit":
			opts.DisableJIT = true
		case strings.HasPrefix(arg, "--gc="):
			n, err := strconv.Atoi(strings.TrimPrefix(arg, "--gc="))
			if err != nil || n <= 0 {
				fmt.Fprintf(os.Stderr, "Bad arg: %s\n", arg)
				return 2
			}
			opts.GCThreshold = n
		case arg == "--bytecode":
			showBytecode = true
		default:
			fmt.Fprintf(os.Stderr, "Unknown arg: %s\n", arg)
			return 2
		}
	}

	prog, err := driver.CompileFile(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}

	if showBytecode {
		fmt.Print(bytecode.DisassembleProgram(prog))
	}

	// The program's value is not the process exit code.
	if _, err := driver.Run(prog, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}
	return 0
}
