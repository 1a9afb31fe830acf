package sim

import "github.com/kolkov/oclsim/internal/sim/asm"

// Version information for the oclsim runtime.
const (
	// Version is the current version of the simulator.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides runtime information about the simulator.
type Info struct {
	// Version is the runtime version string.
	Version string

	// IRVersion is the kernel IR dialect version accepted by the
	// assembler's requires directive.
	IRVersion string

	// Model names the execution model.
	Model string
}

// GetInfo returns information about the simulator runtime.
//
// Example:
//
//	info := sim.GetInfo()
//	fmt.Printf("oclsim %s (%s)\n", info.Version, info.Model)
func GetInfo() Info {
	return Info{
		Version:   Version,
		IRVersion: asm.RuntimeVersion,
		Model:     "single-threaded cooperative NDRange",
	}
}
