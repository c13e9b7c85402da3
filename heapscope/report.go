package heapscope

import (
	"os"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Stable field names of the report document; addresses are emitted as
// unsigned integers sized to the platform pointer width.
type reportDocument struct {
	PID     int            `json:"pid"`
	Runtime runtimeSection `json:"runtime"`
	Lost    lostSection    `json:"lost"`
	Leaks   []leakSection  `json:"leaks"`
}

type runtimeSection struct {
	Allocs uint64 `json:"allocs"`
	Frees  uint64 `json:"frees"`
	Bytes  uint64 `json:"bytes"`
}

type lostSection struct {
	Bytes  uint64 `json:"bytes"`
	Blocks uint64 `json:"blocks"`
}

type leakSection struct {
	Bytes  uint64       `json:"bytes"`
	Blocks uint64       `json:"blocks"`
	Trace  []traceFrame `json:"trace,omitempty"`
	Note   string       `json:"note,omitempty"`
}

type traceFrame struct {
	Address  uint64 `json:"address"`
	Location string `json:"location"`
}

// traceWindowSize bounds how many frames appear per leak entry. Only the
// window nearest the outer end of the captured stack is kept, preserving the
// windowing of the original report format.
const traceWindowSize = 5

// traceForStack renders the windowed trace of a captured stack. A zero-depth
// stack yields a diagnostic note in place of a trace instead of failing the
// enclosing leak entry.
func (e *Engine) traceForStack(cs CallStack) ([]traceFrame, string) {
	if cs.Depth() <= 0 {
		return nil, "stack capture returned empty callstack"
	}
	var frames []traceFrame
	for i := 1; i < cs.Depth(); i++ {
		if i < cs.Depth()-traceWindowSize {
			continue
		}
		frames = append(frames, traceFrame{
			Address:  uint64(cs.Frame(i)),
			Location: e.resolveFrame(cs.Frame(i)),
		})
	}
	return frames, ""
}

func (e *Engine) resolveFrame(addr uintptr) string {
	if e.cfg.NoSymbols {
		return ""
	}
	return e.symbols.Resolve(addr)
}

func (e *Engine) buildReport(itemized []AggregatedLeak, lostBytes, lostBlocks uint64) reportDocument {
	doc := reportDocument{
		PID: e.pid,
		Runtime: runtimeSection{
			Allocs: e.counters.TotalAllocs,
			Frees:  e.counters.TotalFrees,
			Bytes:  e.counters.TotalAllocBytes,
		},
		Lost: lostSection{
			Bytes:  lostBytes,
			Blocks: lostBlocks,
		},
		Leaks: make([]leakSection, 0, len(itemized)),
	}

	for _, leak := range itemized {
		entry := leakSection{
			Bytes:  leak.Bytes,
			Blocks: leak.Blocks,
		}
		entry.Trace, entry.Note = e.traceForStack(leak.Stack)
		doc.Leaks = append(doc.Leaks, entry)
	}
	return doc
}

// writeReport appends the pretty-printed document to the output destination.
// An unopenable destination makes the whole operation a no-op; no partial
// output is written.
func (e *Engine) writeReport(doc reportDocument) {
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return
	}

	f, err := os.OpenFile(e.cfg.OutputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	data = append(data, '\n')
	f.Write(data)
}
