// Package main implements the oclsim CLI tool.
//
// oclsim executes OpenCL-style kernels on the CPU under a cooperative
// simulator that detects data races, invalid memory accesses, and
// work-group divergence, and optionally drops into an interactive
// debugger.
//
// Usage:
//
//	oclsim run -global 64 -local 16 kernel.clir
//	oclsim version
//
// This is the CLI entry point for the standalone simulator.
package main

import (
	"fmt"
	"os"

	"github.com/kolkov/oclsim/sim"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "run":
		runCommand(os.Args[2:])
	case "version", "--version", "-v":
		info := sim.GetInfo()
		fmt.Printf("oclsim version %s (IR %s)\n", info.Version, info.IRVersion)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`oclsim - OpenCL kernel simulator and debugger

USAGE:
    oclsim <command> [arguments]

COMMANDS:
    run        Launch a kernel from an IR file
    version    Show version information
    help       Show this help message

EXAMPLES:
    # Run a kernel over a 64-item NDRange in groups of 16
    oclsim run -global 64 -local 16 kernel.clir

    # Step through a kernel in the interactive debugger
    OCLGRIND_INTERACTIVE=1 oclsim run -global 8 -local 8 kernel.clir

    # Print an instruction histogram after the launch
    OCLGRIND_INST_COUNTS=1 oclsim run -global 64 -local 16 kernel.clir

ENVIRONMENT:
    OCLGRIND_INTERACTIVE=1    Enter the (oclgrind) debugger prompt
    OCLGRIND_INST_COUNTS=1    Emit an instruction histogram after launch
    OCLGRIND_QUICK=1          Enumerate only first and last work-groups

ABOUT:
    oclsim interprets kernels one instruction at a time under a
    single-threaded cooperative scheduler. Every memory access is
    bounds-checked and attributed, so intra-work-group data races and
    barrier divergence are reported exactly, with the work-items
    involved identified by their global ids.
`)
}
