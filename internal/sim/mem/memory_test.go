package mem_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kolkov/oclsim/internal/sim/ir"
	"github.com/kolkov/oclsim/internal/sim/mem"
)

// monitorRecorder implements mem.Monitor for tests, recording every
// notification and impersonating a configurable accessor.
type monitorRecorder struct {
	workItem  int64
	workGroup int64
	inst      *ir.Instruction

	memoryErrors []string
	races        []mem.RaceKind
	raceAddrs    []uint64
	raceOthers   []int64
}

func newRecorder() *monitorRecorder {
	return &monitorRecorder{workItem: -1, workGroup: -1}
}

func (m *monitorRecorder) MemoryError(read bool, space ir.AddressSpace, address, size uint64) {
	kind := "write"
	if read {
		kind = "read"
	}
	m.memoryErrors = append(m.memoryErrors, kind)
}

func (m *monitorRecorder) DataRace(kind mem.RaceKind, space ir.AddressSpace, address uint64,
	lastWorkItem, lastWorkGroup int64, lastInstruction *ir.Instruction) {
	m.races = append(m.races, kind)
	m.raceAddrs = append(m.raceAddrs, address)
	if space == ir.AddrSpaceLocal {
		m.raceOthers = append(m.raceOthers, lastWorkItem)
	} else {
		m.raceOthers = append(m.raceOthers, lastWorkGroup)
	}
}

func (m *monitorRecorder) CurrentAccessor() mem.Accessor {
	return mem.Accessor{WorkItem: m.workItem, WorkGroup: m.workGroup, Instruction: m.inst}
}

// TestAllocateAndValidity verifies the address validity invariant over
// allocation boundaries.
func TestAllocateAndValidity(t *testing.T) {
	m := mem.New(ir.AddrSpaceGlobal, nil)

	addr, err := m.Allocate(16)
	if err != nil {
		t.Fatalf("Allocate(16) failed: %v", err)
	}
	if addr%4 != 0 {
		t.Errorf("allocation base %#x not 4-byte aligned", addr)
	}

	if !m.IsAddressValid(addr, 16) {
		t.Error("full range of allocation reported invalid")
	}
	if !m.IsAddressValid(addr+15, 1) {
		t.Error("last byte of allocation reported invalid")
	}
	if m.IsAddressValid(addr+16, 1) {
		t.Error("byte past end of allocation reported valid")
	}
	if m.IsAddressValid(addr, 17) {
		t.Error("range overlapping end of allocation reported valid")
	}

	if _, err := m.Allocate(0); err == nil {
		t.Error("Allocate(0) succeeded, want error")
	}

	if err := m.Deallocate(addr); err != nil {
		t.Fatalf("Deallocate failed: %v", err)
	}
	if m.IsAddressValid(addr, 1) {
		t.Error("deallocated range reported valid")
	}
	if err := m.Deallocate(addr); err == nil {
		t.Error("double Deallocate succeeded, want error")
	}
}

// TestLoadStoreRoundTrip verifies stored bytes are loaded back
// unchanged.
func TestLoadStoreRoundTrip(t *testing.T) {
	m := mem.New(ir.AddrSpaceGlobal, nil)
	addr, _ := m.Allocate(8)

	src := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if !m.Store(src, addr) {
		t.Fatal("Store to valid address failed")
	}

	dst := make([]byte, 8)
	if !m.Load(dst, addr) {
		t.Fatal("Load from valid address failed")
	}
	if !bytes.Equal(dst, src) {
		t.Errorf("Load = %v, want %v", dst, src)
	}
}

// TestInvalidAccessReportsAndPreserves verifies a failed store mutates
// nothing and notifies the monitor.
func TestInvalidAccessReportsAndPreserves(t *testing.T) {
	rec := newRecorder()
	m := mem.New(ir.AddrSpaceGlobal, rec)
	addr, _ := m.Allocate(4)
	m.Store([]byte{9, 9, 9, 9}, addr)

	// Spans the end of the allocation.
	if m.Store([]byte{1, 2, 3, 4}, addr+2) {
		t.Error("Store spanning allocation end succeeded")
	}
	if len(rec.memoryErrors) != 1 || rec.memoryErrors[0] != "write" {
		t.Errorf("memory errors = %v, want one write error", rec.memoryErrors)
	}

	dst := make([]byte, 4)
	m.Load(dst, addr)
	if !bytes.Equal(dst, []byte{9, 9, 9, 9}) {
		t.Errorf("buffer mutated by invalid store: %v", dst)
	}

	if m.Load(dst, addr+100) {
		t.Error("Load from unallocated address succeeded")
	}
	if len(rec.memoryErrors) != 2 || rec.memoryErrors[1] != "read" {
		t.Errorf("memory errors = %v, want read error appended", rec.memoryErrors)
	}
}

// TestWriteWriteRace verifies two work-items writing the same local
// byte report exactly one write-write race naming the first writer.
func TestWriteWriteRace(t *testing.T) {
	rec := newRecorder()
	m := mem.New(ir.AddrSpaceLocal, rec)
	addr, _ := m.Allocate(16)

	rec.workItem = 0
	m.Store([]byte{1, 0, 0, 0}, addr)

	rec.workItem = 1
	m.Store([]byte{2, 0, 0, 0}, addr)

	if len(rec.races) != 1 {
		t.Fatalf("races = %d, want 1", len(rec.races))
	}
	if rec.races[0] != mem.WriteWriteRace {
		t.Errorf("race kind = %v, want WriteWriteRace", rec.races[0])
	}
	if rec.raceAddrs[0] != addr {
		t.Errorf("race address = %#x, want %#x", rec.raceAddrs[0], addr)
	}
	if rec.raceOthers[0] != 0 {
		t.Errorf("race attributed to work-item %d, want 0", rec.raceOthers[0])
	}
}

// TestReadWriteRace verifies a read conflicting with an earlier write
// reports a read-write race.
func TestReadWriteRace(t *testing.T) {
	rec := newRecorder()
	m := mem.New(ir.AddrSpaceLocal, rec)
	addr, _ := m.Allocate(4)

	rec.workItem = 0
	m.Store([]byte{1, 0, 0, 0}, addr)

	rec.workItem = 1
	dst := make([]byte, 4)
	m.Load(dst, addr)

	if len(rec.races) != 1 || rec.races[0] != mem.ReadWriteRace {
		t.Fatalf("races = %v, want one ReadWriteRace", rec.races)
	}
}

// TestRaceNotReportedTwiceForSamePair verifies the once-per-interval
// deduplication of an (address, pair) combination.
func TestRaceNotReportedTwiceForSamePair(t *testing.T) {
	rec := newRecorder()
	m := mem.New(ir.AddrSpaceLocal, rec)
	addr, _ := m.Allocate(4)

	rec.workItem = 0
	m.Store([]byte{1, 0, 0, 0}, addr)
	rec.workItem = 1
	m.Store([]byte{2, 0, 0, 0}, addr)
	rec.workItem = 0
	m.Store([]byte{3, 0, 0, 0}, addr)

	if len(rec.races) != 1 {
		t.Errorf("races = %d, want 1 (pair deduplicated)", len(rec.races))
	}
}

// TestReadsDoNotRace verifies two reads never conflict.
func TestReadsDoNotRace(t *testing.T) {
	rec := newRecorder()
	m := mem.New(ir.AddrSpaceLocal, rec)
	addr, _ := m.Allocate(4)

	dst := make([]byte, 4)
	rec.workItem = 0
	m.Load(dst, addr)
	rec.workItem = 1
	m.Load(dst, addr)

	if len(rec.races) != 0 {
		t.Errorf("races = %d, want 0 for read-read", len(rec.races))
	}
}

// TestClearAccessTrackingActsAsBarrier verifies accesses across a
// tracking clear do not race.
func TestClearAccessTrackingActsAsBarrier(t *testing.T) {
	rec := newRecorder()
	m := mem.New(ir.AddrSpaceLocal, rec)
	addr, _ := m.Allocate(4)

	rec.workItem = 0
	m.Store([]byte{1, 0, 0, 0}, addr)

	m.ClearAccessTracking()

	rec.workItem = 1
	m.Store([]byte{2, 0, 0, 0}, addr)

	if len(rec.races) != 0 {
		t.Errorf("races across barrier = %d, want 0", len(rec.races))
	}
}

// TestGlobalRacesTrackWorkGroups verifies global memory races compare
// work-groups, not work-items.
func TestGlobalRacesTrackWorkGroups(t *testing.T) {
	rec := newRecorder()
	m := mem.New(ir.AddrSpaceGlobal, rec)
	addr, _ := m.Allocate(4)

	// Same group, different work-items: no race in global scope.
	rec.workGroup = 0
	rec.workItem = 0
	m.Store([]byte{1, 0, 0, 0}, addr)
	rec.workItem = 1
	m.Store([]byte{2, 0, 0, 0}, addr)
	if len(rec.races) != 0 {
		t.Fatalf("intra-group global races = %d, want 0", len(rec.races))
	}

	// Different group: race.
	rec.workGroup = 1
	m.Store([]byte{3, 0, 0, 0}, addr)
	if len(rec.races) != 1 {
		t.Fatalf("inter-group global races = %d, want 1", len(rec.races))
	}
	if rec.raceOthers[0] != 0 {
		t.Errorf("race attributed to work-group %d, want 0", rec.raceOthers[0])
	}
}

// TestSynchronizeClearsTracking verifies Synchronize starts a fresh
// interval.
func TestSynchronizeClearsTracking(t *testing.T) {
	rec := newRecorder()
	m := mem.New(ir.AddrSpaceGlobal, rec)
	addr, _ := m.Allocate(4)

	rec.workGroup = 0
	m.Store([]byte{1, 0, 0, 0}, addr)
	m.Synchronize()
	rec.workGroup = 1
	m.Store([]byte{2, 0, 0, 0}, addr)

	if len(rec.races) != 0 {
		t.Errorf("races across Synchronize = %d, want 0", len(rec.races))
	}
}

// TestInspectBypassesTracking verifies debugger reads neither notify
// nor participate in race detection.
func TestInspectBypassesTracking(t *testing.T) {
	rec := newRecorder()
	m := mem.New(ir.AddrSpaceLocal, rec)
	addr, _ := m.Allocate(4)

	rec.workItem = 0
	m.Store([]byte{7, 0, 0, 0}, addr)

	rec.workItem = 1
	dst := make([]byte, 4)
	if !m.Inspect(dst, addr) {
		t.Fatal("Inspect of valid address failed")
	}
	if dst[0] != 7 {
		t.Errorf("Inspect = %v, want leading 7", dst)
	}
	if len(rec.races) != 0 || len(rec.memoryErrors) != 0 {
		t.Error("Inspect produced diagnostics")
	}

	if m.Inspect(dst, addr+100) {
		t.Error("Inspect of invalid address succeeded")
	}
	if len(rec.memoryErrors) != 0 {
		t.Error("failed Inspect notified the monitor")
	}
}

// TestHexdumpFormat pins the 16-bytes-per-row dump format.
func TestHexdumpFormat(t *testing.T) {
	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(i)
	}
	var b strings.Builder
	mem.Hexdump(&b, 0, data)

	want := "               0:  00 01 02 03  04 05 06 07  08 09 0A 0B  0C 0D 0E 0F\n"
	if b.String() != want {
		t.Errorf("Hexdump row:\n got %q\nwant %q", b.String(), want)
	}
}

// TestHexdumpPartialRow verifies short tails render without padding
// bytes.
func TestHexdumpPartialRow(t *testing.T) {
	var b strings.Builder
	mem.Hexdump(&b, 0x20, []byte{0xAA, 0xBB})
	want := "              20:  AA BB\n"
	if b.String() != want {
		t.Errorf("Hexdump row:\n got %q\nwant %q", b.String(), want)
	}
}

// TestDumpOrdersAllocations verifies Dump walks allocations in base
// order.
func TestDumpOrdersAllocations(t *testing.T) {
	m := mem.New(ir.AddrSpaceGlobal, nil)
	a, _ := m.Allocate(4)
	b, _ := m.Allocate(4)
	m.Store([]byte{1, 1, 1, 1}, a)
	m.Store([]byte{2, 2, 2, 2}, b)

	var out bytes.Buffer
	m.Dump(&out)
	text := out.String()
	first := strings.Index(text, "01 01 01 01")
	second := strings.Index(text, "02 02 02 02")
	if first < 0 || second < 0 || first > second {
		t.Errorf("Dump out of order:\n%s", text)
	}
}
