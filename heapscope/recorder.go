package heapscope

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"
)

// goroutineID returns the calling goroutine's id, parsed from the
// "goroutine N [...]:" header of its stack dump.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// recursiveMutex serializes the event path across goroutines while letting
// the owning goroutine re-enter without deadlocking, the same role the
// recursive pthread mutex plays in classic allocator hooks. Nested entries
// by the owner do not perform bookkeeping; that is enforced separately by
// the depth gate in the recorder, not by the lock.
type recursiveMutex struct {
	inner sync.Mutex
	meta  sync.Mutex
	owner int64
	held  int
}

func (m *recursiveMutex) Lock() {
	id := goroutineID()
	m.meta.Lock()
	if m.held > 0 && m.owner == id {
		m.held++
		m.meta.Unlock()
		return
	}
	m.meta.Unlock()

	m.inner.Lock()
	m.meta.Lock()
	m.owner = id
	m.held = 1
	m.meta.Unlock()
}

func (m *recursiveMutex) Unlock() {
	m.meta.Lock()
	m.held--
	release := m.held == 0
	if release {
		m.owner = 0
	}
	m.meta.Unlock()
	if release {
		m.inner.Unlock()
	}
}

// OnAllocate records an allocate event for ptr of the given size. It is
// invoked synchronously by the interception layer on the allocating
// goroutine and is safe to call concurrently and reentrantly: a call issued
// from within the engine's own bookkeeping is suppressed by the depth gate
// and performs no work.
func (e *Engine) OnAllocate(ptr uintptr, size uint64) {
	if !e.enabled.Load() {
		return
	}
	e.eventMu.Lock()
	defer e.eventMu.Unlock()

	if e.enterBookkeeping() {
		return
	}
	defer e.leaveBookkeeping()

	// Skip runtime.Callers, captureCallStack, OnAllocate.
	stack := captureCallStack(2)
	e.table[ptr] = AllocationRecord{Ptr: ptr, Size: size, Stack: stack}
	e.counters.noteAlloc(size)
}

// OnFree records a free event for ptr. Freeing an address with no live
// record is never fatal: the free is still counted, and with invalid-free
// tracking enabled a diagnostic line is appended to the output destination
// when the captured stack passes validation.
func (e *Engine) OnFree(ptr uintptr) {
	if !e.enabled.Load() {
		return
	}
	e.eventMu.Lock()
	defer e.eventMu.Unlock()

	if e.enterBookkeeping() {
		return
	}
	defer e.leaveBookkeeping()

	if rec, ok := e.table[ptr]; ok {
		delete(e.table, ptr)
		e.counters.noteFree(rec.Size)
		return
	}

	if e.cfg.TrackInvalidFrees {
		stack := captureCallStack(2)
		if e.validator.IsValid(stack, false) {
			e.noteInvalidFree()
		}
	}
	e.counters.TotalFrees++
}

// enterBookkeeping claims the shared recursion depth counter. It returns
// true when another bookkeeping pass is already in flight, in which case the
// caller must treat the event as a nested echo and do nothing. The counter
// is deliberately shared rather than per-goroutine to reproduce the gating
// of the original hook protocol; a per-goroutine reentry flag would be more
// precise under contention.
func (e *Engine) enterBookkeeping() bool {
	e.depthMu.Lock()
	defer e.depthMu.Unlock()
	if e.depth != 0 {
		return true
	}
	e.depth++
	return false
}

func (e *Engine) leaveBookkeeping() {
	e.depthMu.Lock()
	e.depth--
	e.depthMu.Unlock()
}

// noteInvalidFree appends one diagnostic line to the output destination,
// matching the emission granularity of the summary report, and mirrors it on
// the diagnostic sink.
func (e *Engine) noteInvalidFree() {
	e.sink.Report(SeverityWarning, "invalid deallocation detected")
	if e.cfg.OutputFile == "" {
		return
	}
	f, err := os.OpenFile(e.cfg.OutputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "invalid deallocation detected\n\n")
}
