// Package sim is the public API for the oclsim OpenCL kernel
// simulator.
//
// The simulator executes an NDRange launch of a compiled kernel on the
// CPU, one instruction at a time, under a single-threaded cooperative
// scheduler. Because the scheduler controls every interleaving, the
// simulator detects data races, invalid memory accesses, and
// work-group divergence exactly, and can pause execution at any
// instruction boundary for interactive debugging.
//
// A minimal launch:
//
//	module, err := sim.Assemble("vecadd.clir", src)
//	if err != nil {
//		return err
//	}
//	kernel, err := module.Kernel("vecadd")
//	if err != nil {
//		return err
//	}
//	dev := sim.NewDevice()
//	dev.Run(kernel, 1, nil, []uint64{64}, []uint64{16})
//
// Behavior is configured through the environment contract:
// OCLGRIND_INTERACTIVE=1 enters the (oclgrind) debugger prompt,
// OCLGRIND_INST_COUNTS=1 prints an instruction histogram after the
// launch, and OCLGRIND_QUICK=1 enumerates only the first and last
// work-groups.
package sim
