package ir

// NamedCount pairs a counted instruction name with its execution count.
type NamedCount struct {
	Name  string
	Count uint64
}

// opcodeCounts accumulates per-instruction execution counts across all
// work-items of the current launch. Calls are keyed per callee name.
// Not synchronized: the simulator is single-threaded.
var opcodeCounts = make(map[string]uint64)

// Count records one execution of the instruction.
func Count(in *Instruction) {
	opcodeCounts[in.CountedName()]++
}

// ClearInstructionCounts resets the execution histogram. The Device
// calls this once per launch.
func ClearInstructionCounts() {
	opcodeCounts = make(map[string]uint64)
}

// InstructionCounts returns a snapshot of the execution histogram in
// unspecified order. Entries with a zero count are omitted.
func InstructionCounts() []NamedCount {
	counts := make([]NamedCount, 0, len(opcodeCounts))
	for name, n := range opcodeCounts {
		if n == 0 {
			continue
		}
		counts = append(counts, NamedCount{Name: name, Count: n})
	}
	return counts
}
