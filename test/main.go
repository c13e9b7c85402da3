// Sample program standing in for a monitored process: it drives the engine
// the way an interception layer would, leaking a few allocation groups so
// the emitted report has something to show.
package main

import (
	"fmt"
	"os"

	"github.com/heapscope/heapscope/heapscope"
)

func main() {
	if os.Getenv("HU_FILE") == "" {
		os.Setenv("HU_FILE", "heapscope.json")
	}
	os.Setenv("HU_FREE", "1")

	engine, err := heapscope.Initialize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "heapscope: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	engine.SetEnabled(true)

	next := uintptr(0x10000)
	alloc := func(size uint64) uintptr {
		ptr := next
		next += uintptr(size) + 16
		engine.OnAllocate(ptr, size)
		return ptr
	}

	// A burst of paired allocations; every second one leaks.
	var leaked []uintptr
	for i := 0; i < 64; i++ {
		ptr := alloc(256)
		if i%2 == 0 {
			engine.OnFree(ptr)
		} else {
			leaked = append(leaked, ptr)
		}
	}

	// One large leak from a distinct call site.
	alloc(1 << 20)

	// An invalid deallocation.
	engine.OnFree(0xdeadbeef)

	engine.SetEnabled(false)
	engine.EmitSummary()

	fmt.Printf("leaked %d blocks, report written to %s\n", len(leaked)+1, os.Getenv("HU_FILE"))
}
