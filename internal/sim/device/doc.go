// Package device implements the per-launch execution engine: the
// Device that enumerates and schedules an NDRange, the WorkGroup that
// cooperatively rotates its work-items and coordinates barriers, and
// the interactive line-oriented debugger that drives the Device.
//
// The scheduling model is single-threaded and cooperative. Work-items
// yield only at instruction boundaries and barriers, so the simulator
// controls every interleaving and race diagnostics are exact.
//
// The Device is the single subscriber for diagnostics: it implements
// mem.Monitor and is injected into every memory it or its work-groups
// create. Notifications render a full error context and set the
// force-break latch consulted by the continue loop.
package device
