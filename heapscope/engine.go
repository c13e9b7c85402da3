// Package heapscope is the tracking and reporting engine of a heap-usage
// leak checker. An external interception layer feeds it every allocate and
// free event of the monitored process; at shutdown the engine groups the
// allocations that were never released by originating call site and appends
// a structured report to the configured destination.
package heapscope

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

var (
	ErrNotInitialized     = errors.New("heapscope: not initialized")
	ErrAlreadyInitialized = errors.New("heapscope: already initialized")
)

var (
	setupMu      sync.Mutex
	globalEngine *Engine
)

// Engine holds all tracking state for one monitored process: configuration,
// the live-allocation table, runtime counters, and the resolution caches.
// Exactly one instance exists per monitored process; every entry point the
// interception layer uses goes through it.
type Engine struct {
	cfg  *Config
	sink DiagSink
	pid  int

	enabled atomic.Bool

	// eventMu serializes the full event critical section across goroutines
	// while tolerating same-goroutine reentry; depth is the shared recursion
	// counter gating whether an invocation performs real bookkeeping.
	eventMu recursiveMutex
	depthMu sync.Mutex
	depth   int

	table    map[uintptr]AllocationRecord
	counters RuntimeCounters

	modules   *moduleMap
	symbols   *symbolizer
	validator *stackValidator
}

// NewEngine constructs an engine from an explicit configuration. A nil sink
// falls back to logging diagnostics. Recording starts disabled; the launcher
// enables it once the monitored window begins.
func NewEngine(cfg *Config, sink DiagSink) *Engine {
	if sink == nil {
		sink = logSink{}
	}
	modules := newModuleMap()
	e := &Engine{
		cfg:       cfg,
		sink:      sink,
		pid:       os.Getpid(),
		table:     make(map[uintptr]AllocationRecord),
		modules:   modules,
		symbols:   newSymbolizer(modules, DefaultELFReader()),
		validator: newStackValidator(modules),
	}
	e.checkOutputFile()
	return e
}

// checkOutputFile reports destination problems once at initialization. The
// engine keeps tracking either way; only report emission degrades to a
// no-op.
func (e *Engine) checkOutputFile() {
	if e.cfg.OutputFile == "" {
		e.sink.Report(SeverityError, "no output file specified")
		return
	}
	f, err := os.Create(e.cfg.OutputFile)
	if err != nil {
		e.sink.Report(SeverityError, fmt.Sprintf("unable to open output file (%s) for writing", e.cfg.OutputFile))
		return
	}
	f.Close()
}

// Initialize loads the configuration from the environment, constructs the
// process-wide engine and registers it as the singleton the interception
// layer reaches through Get. Calling it twice returns
// ErrAlreadyInitialized.
func Initialize() (*Engine, error) {
	setupMu.Lock()
	defer setupMu.Unlock()
	if globalEngine != nil {
		return nil, ErrAlreadyInitialized
	}

	cfg, err := LoadConfig(nil)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	globalEngine = NewEngine(cfg, nil)
	return globalEngine, nil
}

// Get returns the singleton engine, or ErrNotInitialized before Initialize
// or after Close.
func Get() (*Engine, error) {
	setupMu.Lock()
	defer setupMu.Unlock()
	if globalEngine == nil {
		return nil, ErrNotInitialized
	}
	return globalEngine, nil
}

// Close disables recording and removes the singleton registration.
func (e *Engine) Close() {
	e.SetEnabled(false)
	setupMu.Lock()
	defer setupMu.Unlock()
	if globalEngine == e {
		globalEngine = nil
	}
}

// SetEnabled toggles event recording. While disabled, OnAllocate and OnFree
// are no-ops; the launcher disables recording before report generation so
// the engine does not observe its own work.
func (e *Engine) SetEnabled(enabled bool) {
	e.enabled.Store(enabled)
}

// Counters returns a copy of the runtime counters.
func (e *Engine) Counters() RuntimeCounters {
	e.eventMu.Lock()
	defer e.eventMu.Unlock()
	return e.counters
}

// LiveAllocations returns the number of live table entries.
func (e *Engine) LiveAllocations() int {
	e.eventMu.Lock()
	defer e.eventMu.Unlock()
	return len(e.table)
}

// EmitSummary aggregates the live-allocation table into ranked leak entries
// and appends the report document to the output destination. The caller
// disables recording first, so the table is read without concurrent
// mutation. With no usable destination the JSON report is a no-op; a
// configured profile destination is still served.
func (e *Engine) EmitSummary() {
	leaks, lostBytes, lostBlocks := aggregateLeaks(e.table)
	itemized := e.filterLeaks(leaks)

	if e.cfg.ProfileFile != "" {
		e.writeProfile(itemized)
	}
	if e.cfg.OutputFile == "" {
		return
	}
	e.writeReport(e.buildReport(itemized, lostBytes, lostBlocks))
}
