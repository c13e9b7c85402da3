package heapscope

import "sort"

// AggregatedLeak is one group of live allocations sharing a byte-identical
// call stack. Built once per report from the allocation table; not
// persisted.
type AggregatedLeak struct {
	Stack  CallStack
	Bytes  uint64
	Blocks uint64
}

// aggregateLeaks groups the live allocations by exact call stack equality
// and computes the unfiltered lost totals over every live allocation. The
// returned list is sorted descending by total bytes; ties order by
// descending block count, then by ascending first frame address so the
// report is deterministic.
func aggregateLeaks(table map[uintptr]AllocationRecord) (leaks []AggregatedLeak, lostBytes, lostBlocks uint64) {
	byStack := make(map[CallStack]*AggregatedLeak)
	for _, rec := range table {
		group, ok := byStack[rec.Stack]
		if !ok {
			group = &AggregatedLeak{Stack: rec.Stack}
			byStack[rec.Stack] = group
		}
		group.Bytes += rec.Size
		group.Blocks++

		lostBytes += rec.Size
		lostBlocks++
	}

	leaks = make([]AggregatedLeak, 0, len(byStack))
	for _, group := range byStack {
		leaks = append(leaks, *group)
	}

	sort.Slice(leaks, func(i, j int) bool {
		if leaks[i].Bytes != leaks[j].Bytes {
			return leaks[i].Bytes > leaks[j].Bytes
		}
		if leaks[i].Blocks != leaks[j].Blocks {
			return leaks[i].Blocks > leaks[j].Blocks
		}
		return leaks[i].Stack.Frame(0) < leaks[j].Stack.Frame(0)
	})
	return leaks, lostBytes, lostBlocks
}

// filterLeaks applies the itemization policy: entries strictly below the
// minimum-leak threshold are dropped, and each survivor's stack is
// re-validated as an allocation-side check. The unfiltered lost totals are
// unaffected by either filter.
func (e *Engine) filterLeaks(leaks []AggregatedLeak) []AggregatedLeak {
	itemized := make([]AggregatedLeak, 0, len(leaks))
	for _, leak := range leaks {
		if leak.Bytes < e.cfg.MinLeakBytes {
			continue
		}
		if !e.validator.IsValid(leak.Stack, true) {
			continue
		}
		itemized = append(itemized, leak)
	}
	return itemized
}
