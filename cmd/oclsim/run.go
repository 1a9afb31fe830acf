// run.go implements the 'oclsim run' command.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/kolkov/oclsim/sim"
)

// runCommand implements the 'oclsim run' command: it assembles a
// kernel IR file and launches one kernel over the requested NDRange.
func runCommand(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	kernelName := fs.String("kernel", "", "kernel to launch (default: first declared)")
	globalFlag := fs.String("global", "1", "global work size, up to three comma-separated dimensions")
	localFlag := fs.String("local", "", "local work size (defaults to 1 per dimension)")
	offsetFlag := fs.String("offset", "", "global work offset")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: oclsim run [flags] <file.clir>")
		fs.PrintDefaults()
	}
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	path := fs.Arg(0)

	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	module, err := sim.Assemble(filepath.Base(path), src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	name := *kernelName
	if name == "" {
		names := module.KernelNames()
		if len(names) == 0 {
			fmt.Fprintf(os.Stderr, "Error: %s declares no kernels\n", path)
			os.Exit(1)
		}
		name = names[0]
	}
	kernel, err := module.Kernel(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	globalSize, err := parseDims(*globalFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid -global: %v\n", err)
		os.Exit(1)
	}
	workDim := len(globalSize)
	localSize, err := parseDims(*localFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid -local: %v\n", err)
		os.Exit(1)
	}
	globalOffset, err := parseDims(*offsetFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid -offset: %v\n", err)
		os.Exit(1)
	}

	dev := sim.NewDevice()
	if dev.IsInteractive() && !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "oclsim: OCLGRIND_INTERACTIVE=1 but stdin is not a terminal; reading commands from pipe")
	}

	dev.Run(kernel, workDim, globalOffset, globalSize, localSize)
}

// parseDims parses a comma-separated dimension list, e.g. "64" or
// "8,8,2". An empty string yields no dimensions.
func parseDims(s string) ([]uint64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) > 3 {
		return nil, fmt.Errorf("at most three dimensions, got %d", len(parts))
	}
	dims := make([]uint64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid dimension %q", part)
		}
		dims = append(dims, v)
	}
	return dims, nil
}
