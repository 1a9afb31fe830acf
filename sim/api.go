package sim

import (
	"github.com/kolkov/oclsim/internal/sim/asm"
	"github.com/kolkov/oclsim/internal/sim/device"
	"github.com/kolkov/oclsim/internal/sim/interp"
	"github.com/kolkov/oclsim/internal/sim/mem"
)

// Memory is a simulated address-spaced byte store.
type Memory = mem.Memory

// Device is the per-launch execution engine. See device.Device.
type Device = device.Device

// Kernel is a launchable kernel bound to argument values.
type Kernel = interp.Kernel

// Module is an assembled kernel file.
type Module = asm.Module

// Buffer declares a global buffer installed at launch.
type Buffer = interp.Buffer

// Local declares a per-work-group local allocation.
type Local = interp.Local

// FatalError is an unrecoverable launch error with its origin.
type FatalError = device.FatalError

// NewDevice creates a Device configured from the OCLGRIND_*
// environment variables.
func NewDevice() *Device {
	return device.New()
}

// Assemble parses kernel IR text into a Module. filename appears in
// error positions and debug metadata defaults.
func Assemble(filename string, src []byte) (*Module, error) {
	return asm.Assemble(filename, src)
}
