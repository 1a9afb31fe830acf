package device

import (
	"fmt"
	"sort"

	"github.com/kolkov/oclsim/internal/sim/ir"
	"github.com/kolkov/oclsim/internal/sim/mem"
)

// WorkGroup owns the local memory and work-items of one tile of the
// NDRange. It schedules its work-items cooperatively, coordinates the
// barrier protocol, and reports divergence through the Device.
type WorkGroup struct {
	dev     *Device
	groupID [3]uint64
	localMem *mem.Memory

	// workItems holds every work-item in local-id order; ready and
	// barrier are scheduling views over the same items.
	workItems []WorkItem
	ready     []WorkItem
	barrier   []WorkItem
	finished  int

	// Barrier fingerprint of the first arrival, the reference against
	// which later arrivals are checked.
	barrierInst  *ir.Instruction
	barrierFlags uint64
	firstArrival WorkItem

	// divergent latches once a fingerprint mismatch or early exit is
	// detected; the barrier can then never be released.
	divergent bool
}

// newWorkGroup instantiates the group at the given coordinates and asks
// the kernel to create its work-items.
func newWorkGroup(dev *Device, kernel Kernel, groupID [3]uint64) (*WorkGroup, error) {
	wg := &WorkGroup{
		dev:      dev,
		groupID:  groupID,
		localMem: mem.New(ir.AddrSpaceLocal, dev),
	}
	items, err := kernel.CreateWorkItems(wg)
	if err != nil {
		return nil, fmt.Errorf("creating work-items for group (%d,%d,%d): %w",
			groupID[0], groupID[1], groupID[2], err)
	}
	wg.workItems = items
	wg.ready = append(wg.ready, items...)
	dev.groupsCreated++
	return wg, nil
}

// Device returns the owning device.
func (wg *WorkGroup) Device() *Device { return wg.dev }

// GroupID returns the 3-D group id.
func (wg *WorkGroup) GroupID() [3]uint64 { return wg.groupID }

// LocalMemory returns the group's local memory.
func (wg *WorkGroup) LocalMemory() *mem.Memory { return wg.localMem }

// GetNextWorkItem returns the next ready work-item in local-id order,
// or nil when none is ready. The work-item stays scheduled until it
// blocks or finishes.
func (wg *WorkGroup) GetNextWorkItem() WorkItem {
	if len(wg.ready) == 0 {
		return nil
	}
	return wg.ready[0]
}

// GetWorkItem returns the work-item with the given local id.
func (wg *WorkGroup) GetWorkItem(localID [3]uint64) WorkItem {
	local := wg.dev.localSize
	idx := localID[0] + localID[1]*local[0] + localID[2]*local[0]*local[1]
	if idx >= uint64(len(wg.workItems)) {
		return nil
	}
	return wg.workItems[idx]
}

// HasBarrier reports whether every non-finished work-item is blocked at
// the same barrier, i.e. the barrier is collective and may be released.
// A divergent group never reports a barrier.
func (wg *WorkGroup) HasBarrier() bool {
	if wg.divergent || len(wg.barrier) == 0 || len(wg.ready) != 0 {
		return false
	}
	return wg.finished+len(wg.barrier) == len(wg.workItems)
}

// ClearBarrier releases a collective barrier: every blocked work-item
// becomes ready again (in local-id order), the fingerprint resets, and
// the local memory starts a fresh race-tracking interval.
func (wg *WorkGroup) ClearBarrier() {
	for _, wi := range wg.barrier {
		wi.ClearBarrier()
	}
	wg.ready = append(wg.ready, wg.barrier...)
	wg.barrier = wg.barrier[:0]
	sort.Slice(wg.ready, func(i, j int) bool {
		return wg.localIndex(wg.ready[i]) < wg.localIndex(wg.ready[j])
	})
	wg.barrierInst = nil
	wg.barrierFlags = 0
	wg.firstArrival = nil
	wg.localMem.ClearAccessTracking()
}

func (wg *WorkGroup) localIndex(wi WorkItem) uint64 {
	lid := wi.LocalID()
	local := wg.dev.localSize
	return lid[0] + lid[1]*local[0] + lid[2]*local[0]*local[1]
}

// NotifyBarrier records that wi reached a barrier. The first arrival
// fixes the fingerprint; any later arrival with a different instruction
// or flags marks the group divergent.
func (wg *WorkGroup) NotifyBarrier(wi WorkItem) {
	wg.removeReady(wi)
	inst, flags := wi.BarrierFingerprint()
	if wg.firstArrival == nil {
		wg.barrierInst = inst
		wg.barrierFlags = flags
		wg.firstArrival = wi
		if wg.finished > 0 && !wg.divergent {
			// Some work-items already returned; this barrier can
			// never become collective.
			wg.divergent = true
			wg.dev.NotifyDivergence(inst, "early exit", workItemInfo(wi), "")
		}
	} else if inst != wg.barrierInst || flags != wg.barrierFlags {
		wg.divergent = true
		wg.dev.NotifyDivergence(wg.barrierInst, "barrier",
			workItemInfo(wi), workItemInfo(wg.firstArrival))
	}
	wg.barrier = append(wg.barrier, wi)
}

// NotifyFinished records that wi returned from the kernel. Finishing
// while other work-items wait at a barrier is an early-exit divergence:
// the barrier can never become collective.
func (wg *WorkGroup) NotifyFinished(wi WorkItem) {
	wg.removeReady(wi)
	wg.finished++
	if len(wg.barrier) > 0 && !wg.divergent {
		wg.divergent = true
		wg.dev.NotifyDivergence(wg.barrierInst, "early exit",
			workItemInfo(wi), workItemInfo(wg.firstArrival))
	}
}

func (wg *WorkGroup) removeReady(wi WorkItem) {
	for i, r := range wg.ready {
		if r == wi {
			wg.ready = append(wg.ready[:i], wg.ready[i+1:]...)
			return
		}
	}
}

// release drops the group's resources. Called by the Device when the
// group retires or the launch is abandoned.
func (wg *WorkGroup) release() {
	wg.workItems = nil
	wg.ready = nil
	wg.barrier = nil
	wg.firstArrival = nil
	wg.localMem = nil
	wg.dev.groupsReleased++
}

// workItemInfo renders a work-item identity line for divergence
// diagnostics.
func workItemInfo(wi WorkItem) string {
	if wi == nil {
		return ""
	}
	gid := wi.GlobalID()
	lid := wi.LocalID()
	return fmt.Sprintf("Work-item: Global(%d,%d,%d) Local(%d,%d,%d)",
		gid[0], gid[1], gid[2], lid[0], lid[1], lid[2])
}
