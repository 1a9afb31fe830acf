package device

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/kolkov/oclsim/internal/sim/ir"
)

// defaultLocale resolves the process locale for number formatting,
// honoring LC_ALL over LC_NUMERIC over LANG as the C runtime does.
func defaultLocale() language.Tag {
	for _, key := range []string{"LC_ALL", "LC_NUMERIC", "LANG"} {
		value := os.Getenv(key)
		if value == "" {
			continue
		}
		// Strip the codeset suffix, e.g. "en_US.UTF-8".
		value, _, _ = strings.Cut(value, ".")
		if value == "C" || value == "POSIX" {
			return language.Und
		}
		if tag, err := language.Parse(value); err == nil {
			return tag
		}
	}
	return language.Und
}

// printInstructionCounts emits the per-opcode execution histogram for
// the finished launch: counts formatted with the process locale, 16
// columns wide, sorted by count descending. Zero counts and debug
// intrinsic calls are excluded.
func (d *Device) printInstructionCounts(kernelName string) {
	printer := message.NewPrinter(defaultLocale())

	fmt.Fprintf(d.out, "Instructions executed for kernel '%s':\n", kernelName)

	counts := ir.InstructionCounts()
	filtered := counts[:0]
	for _, c := range counts {
		if strings.HasPrefix(c.Name, "call llvm.dbg.") {
			continue
		}
		filtered = append(filtered, c)
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Count != filtered[j].Count {
			return filtered[i].Count > filtered[j].Count
		}
		return filtered[i].Name < filtered[j].Name
	})

	for _, c := range filtered {
		fmt.Fprintf(d.out, "%16s - %s\n", printer.Sprintf("%d", c.Count), c.Name)
	}
	fmt.Fprintln(d.out)
}
