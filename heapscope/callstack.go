package heapscope

import "runtime"

// MaxCallStack limits the callstack depth captured per allocation event.
const MaxCallStack = 20

// CallStack is a fixed-capacity sequence of return addresses captured at an
// allocation or deallocation event. Frame 0 is the innermost (capture site)
// frame; the highest valid index is the frame closest to program entry.
//
// The type is comparable, so two stacks with byte-identical address
// sequences are equal and it can be used directly as a map key when grouping
// allocations by originating call site.
type CallStack struct {
	pc    [MaxCallStack]uintptr
	depth int
}

// captureCallStack records the calling goroutine's current stack. skip
// frames are omitted from the top, not counting captureCallStack itself.
func captureCallStack(skip int) CallStack {
	var cs CallStack
	cs.depth = runtime.Callers(skip+1, cs.pc[:])
	return cs
}

// callStackOf builds a CallStack from explicit addresses. Addresses beyond
// MaxCallStack are dropped.
func callStackOf(pcs ...uintptr) CallStack {
	var cs CallStack
	cs.depth = copy(cs.pc[:], pcs)
	return cs
}

// Depth returns the number of captured frames.
func (cs CallStack) Depth() int { return cs.depth }

// Frame returns the address at index i. Index 0 is the innermost frame.
func (cs CallStack) Frame(i int) uintptr { return cs.pc[i] }

// Frames returns the captured addresses, innermost first.
func (cs CallStack) Frames() []uintptr { return cs.pc[:cs.depth] }
