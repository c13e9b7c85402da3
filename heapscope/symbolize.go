package heapscope

import (
	"encoding/binary"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"
	"github.com/ianlancetaylor/demangle"
	log "github.com/sirupsen/logrus"
)

// Cache capacities are sized so that entries effectively never get evicted
// during a process lifetime; the caches are append-only in practice and are
// never invalidated.
const (
	symbolCacheSize  = 16384
	objfileCacheSize = 16384
)

func hashAddr(addr uintptr) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(addr))
	return uint32(xxhash.Sum64(b[:]))
}

func newAddrCache(capacity uint32) *freelru.LRU[uintptr, string] {
	cache, err := freelru.New[uintptr, string](capacity, hashAddr)
	if err != nil {
		// Only fails on a zero capacity.
		panic(err)
	}
	return cache
}

// symbolTable holds one module's function symbols sorted by start address.
type symbolTable struct {
	fixedLoad bool
	symbols   []SymbolInfo
}

// symbolizer resolves raw code addresses to human readable "name:offset"
// strings. Results, including failed lookups, are cached per address so the
// platform is consulted at most once per address.
type symbolizer struct {
	modules *moduleMap
	reader  ELFReader
	cache   *freelru.LRU[uintptr, string]
	tables  map[string]*symbolTable // nil entry records a failed load
}

func newSymbolizer(modules *moduleMap, reader ELFReader) *symbolizer {
	return &symbolizer{
		modules: modules,
		reader:  reader,
		cache:   newAddrCache(symbolCacheSize),
		tables:  make(map[string]*symbolTable),
	}
}

// Resolve maps addr to a symbol string. An empty result means the address
// could not be attributed to any symbol; it is cached like any other result.
func (s *symbolizer) Resolve(addr uintptr) string {
	if sym, ok := s.cache.Get(addr); ok {
		return sym
	}
	sym := s.resolveUncached(addr)
	s.cache.Add(addr, sym)
	return sym
}

func (s *symbolizer) resolveUncached(addr uintptr) string {
	mapping, ok := s.modules.lookup(addr)
	if !ok {
		return ""
	}
	table := s.tableFor(mapping.path)
	if table == nil || len(table.symbols) == 0 {
		return ""
	}

	vaddr := uint64(addr)
	if !table.fixedLoad {
		vaddr = uint64(addr-mapping.start) + mapping.offset
	}

	// Nearest symbol at or below the address.
	i := sort.Search(len(table.symbols), func(i int) bool {
		return table.symbols[i].Address > vaddr
	}) - 1
	if i < 0 {
		return ""
	}
	sym := table.symbols[i]

	name := sym.Name
	if strings.HasPrefix(name, "_") {
		// Mangled C++ names come back unchanged from Filter when they do not
		// demangle; keep the raw name in that case.
		name = demangle.Filter(name)
	}
	if name == "" {
		return ""
	}

	// Byte offset disambiguates interior addresses of the function.
	return name + ":" + strconv.FormatUint(vaddr-sym.Address, 10)
}

func (s *symbolizer) tableFor(path string) *symbolTable {
	if table, ok := s.tables[path]; ok {
		return table
	}

	var table *symbolTable
	f, err := s.reader.Open(path)
	if err != nil {
		log.WithError(err).WithField("module", path).Debug("unable to open object file")
	} else {
		defer f.Close()
		syms, err := f.FunctionSymbols()
		if err != nil {
			log.WithError(err).WithField("module", path).Debug("unable to read symbols")
		} else {
			table = &symbolTable{fixedLoad: f.FixedLoadAddress(), symbols: syms}
		}
	}

	s.tables[path] = table
	return table
}
