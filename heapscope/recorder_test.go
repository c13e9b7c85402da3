package heapscope

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu   sync.Mutex
	msgs []string
}

func (s *captureSink) Report(_ Severity, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func newTestEngine(t *testing.T, cfg *Config) (*Engine, *captureSink) {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.OutputFile == "" {
		cfg.OutputFile = filepath.Join(t.TempDir(), "heapscope.json")
	}
	sink := &captureSink{}
	e := NewEngine(cfg, sink)
	e.SetEnabled(true)
	return e, sink
}

func TestCurrentBytesConservation(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	events := []struct {
		alloc bool
		ptr   uintptr
		size  uint64
	}{
		{true, 0x1000, 100},
		{true, 0x2000, 250},
		{false, 0x1000, 0},
		{true, 0x3000, 75},
		{false, 0x9999, 0}, // never allocated
	}
	for _, ev := range events {
		if ev.alloc {
			e.OnAllocate(ev.ptr, ev.size)
		} else {
			e.OnFree(ev.ptr)
		}
	}

	c := e.Counters()
	require.Equal(t, uint64(325), c.CurrentAllocBytes)
	require.Equal(t, uint64(425), c.TotalAllocBytes)
	require.Equal(t, uint64(3), c.TotalAllocs)
	require.Equal(t, uint64(2), c.TotalFrees)
	require.Equal(t, 2, e.LiveAllocations())
}

func TestPeakBytesWatermark(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	e.OnAllocate(0x1000, 500)
	require.Equal(t, uint64(500), e.Counters().PeakAllocBytes)

	e.OnFree(0x1000)
	require.Equal(t, uint64(500), e.Counters().PeakAllocBytes)

	e.OnAllocate(0x2000, 300)
	// Current dropped to 300, peak must not decrease.
	c := e.Counters()
	require.Equal(t, uint64(300), c.CurrentAllocBytes)
	require.Equal(t, uint64(500), c.PeakAllocBytes)

	e.OnAllocate(0x3000, 400)
	require.Equal(t, uint64(700), e.Counters().PeakAllocBytes)
}

func TestStaleEntryOverwritten(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	e.OnAllocate(0x1000, 100)
	e.OnAllocate(0x1000, 40)
	require.Equal(t, 1, e.LiveAllocations())
	require.Equal(t, uint64(40), e.table[0x1000].Size)
}

func TestDisabledRecorderIsNoop(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	e.SetEnabled(false)

	e.OnAllocate(0x1000, 100)
	e.OnFree(0x1000)

	c := e.Counters()
	require.Zero(t, c.TotalAllocs)
	require.Zero(t, c.TotalFrees)
	require.Zero(t, e.LiveAllocations())
}

func TestInvalidFreeDiagnostic(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.json")
	e, _ := newTestEngine(t, &Config{OutputFile: out, TrackInvalidFrees: true})

	before := e.Counters()
	e.OnFree(0xdead)
	after := e.Counters()

	require.Equal(t, before.CurrentAllocBytes, after.CurrentAllocBytes)
	require.Equal(t, before.TotalFrees+1, after.TotalFrees)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(data), "invalid deallocation"))
}

func TestInvalidFreeUntrackedByDefault(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.json")
	e, _ := newTestEngine(t, &Config{OutputFile: out})

	e.OnFree(0xdead)
	require.Equal(t, uint64(1), e.Counters().TotalFrees)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.NotContains(t, string(data), "invalid deallocation")
}

func TestConcurrentDisjointAddresses(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	const goroutines = 8
	const perGoroutine = 100

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			base := uintptr(g+1) << 20
			for i := 0; i < perGoroutine; i++ {
				ptr := base + uintptr(i)*16
				e.OnAllocate(ptr, 8)
				if i%2 == 1 {
					e.OnFree(ptr)
				}
			}
		}(g)
	}
	wg.Wait()

	require.Equal(t, goroutines*perGoroutine/2, e.LiveAllocations())
	for g := 0; g < goroutines; g++ {
		base := uintptr(g+1) << 20
		for i := 0; i < perGoroutine; i++ {
			ptr := base + uintptr(i)*16
			_, live := e.table[ptr]
			require.Equal(t, i%2 == 0, live, fmt.Sprintf("goroutine %d ptr %#x", g, ptr))
		}
	}

	c := e.Counters()
	require.Equal(t, uint64(goroutines*perGoroutine), c.TotalAllocs)
	require.Equal(t, uint64(goroutines*perGoroutine/2), c.TotalFrees)
}

func TestReentrantCallSuppressed(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	// Mimic an event fired from inside the recorder's own bookkeeping: the
	// outer invocation holds the event lock and the depth counter is
	// claimed.
	e.eventMu.Lock()
	e.depthMu.Lock()
	e.depth++
	e.depthMu.Unlock()

	e.OnAllocate(0x1000, 100)
	e.OnFree(0x1000)

	e.depthMu.Lock()
	e.depth--
	e.depthMu.Unlock()
	e.eventMu.Unlock()

	c := e.Counters()
	require.Zero(t, c.TotalAllocs)
	require.Zero(t, c.TotalFrees)
	require.Zero(t, e.LiveAllocations())
}

func TestRecursiveMutexReentry(t *testing.T) {
	var mu recursiveMutex

	mu.Lock()
	mu.Lock() // same goroutine must not deadlock
	mu.Unlock()
	mu.Unlock()

	// A second goroutine can take the lock after full release.
	done := make(chan struct{})
	go func() {
		mu.Lock()
		mu.Unlock()
		close(done)
	}()
	<-done
}
