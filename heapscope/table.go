package heapscope

// AllocationRecord describes one live allocation. It is owned by the
// allocation table from the allocate event until the matching free event
// erases it; records still present at report time are the leaks.
type AllocationRecord struct {
	Ptr   uintptr
	Size  uint64
	Stack CallStack
}

// RuntimeCounters are the running statistics of the monitored process. They
// are only mutated inside the serialized event path, so plain integers are
// sufficient. PeakAllocBytes is a watermark and never decreases.
type RuntimeCounters struct {
	TotalAllocs       uint64
	TotalFrees        uint64
	TotalAllocBytes   uint64
	CurrentAllocBytes uint64
	PeakAllocBytes    uint64
}

func (c *RuntimeCounters) noteAlloc(size uint64) {
	c.TotalAllocs++
	c.TotalAllocBytes += size
	c.CurrentAllocBytes += size
	if c.CurrentAllocBytes > c.PeakAllocBytes {
		c.PeakAllocBytes = c.CurrentAllocBytes
	}
}

func (c *RuntimeCounters) noteFree(size uint64) {
	c.CurrentAllocBytes -= size
	c.TotalFrees++
}
