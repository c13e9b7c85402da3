package heapscope

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// moduleMapping is one executable mapping of the process address space.
type moduleMapping struct {
	start  uintptr
	end    uintptr
	offset uint64
	path   string
}

func (m moduleMapping) contains(addr uintptr) bool {
	return addr >= m.start && addr < m.end
}

func (m moduleMapping) base() string {
	return filepath.Base(m.path)
}

// moduleMap resolves a code address to the object file mapped at that
// address. The mappings are read from /proc/self/maps once and reused for
// the process lifetime; the loaded-image layout is assumed stable between
// first capture and report emission.
type moduleMap struct {
	once     sync.Once
	mappings []moduleMapping
}

func newModuleMap() *moduleMap {
	return &moduleMap{}
}

// newStaticModuleMap builds a moduleMap from known mappings, bypassing
// /proc/self/maps.
func newStaticModuleMap(mappings []moduleMapping) *moduleMap {
	m := &moduleMap{mappings: mappings}
	m.once.Do(func() {})
	return m
}

func (m *moduleMap) load() {
	m.once.Do(func() {
		f, err := os.Open("/proc/self/maps")
		if err != nil {
			return
		}
		defer f.Close()
		m.mappings = parseModuleMappings(f)
	})
}

// lookup returns the mapping containing addr, if any.
func (m *moduleMap) lookup(addr uintptr) (moduleMapping, bool) {
	m.load()
	for _, mapping := range m.mappings {
		if mapping.contains(addr) {
			return mapping, true
		}
	}
	return moduleMapping{}, false
}

// parseModuleMappings reads /proc/<pid>/maps formatted text and keeps the
// executable, file-backed mappings.
func parseModuleMappings(r io.Reader) []moduleMapping {
	var mappings []moduleMapping
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		// address           perms offset  dev   inode      pathname
		// 55d6b7e04000-55d6b7e26000 r-xp 00004000 103:02 2623 /usr/bin/cat
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}
		perms := fields[1]
		if !strings.Contains(perms, "x") {
			continue
		}
		path := fields[5]
		if path == "" || strings.HasPrefix(path, "[") {
			continue
		}
		addrs := strings.SplitN(fields[0], "-", 2)
		if len(addrs) != 2 {
			continue
		}
		start, err := strconv.ParseUint(addrs[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(addrs[1], 16, 64)
		if err != nil {
			continue
		}
		offset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			continue
		}
		mappings = append(mappings, moduleMapping{
			start:  uintptr(start),
			end:    uintptr(end),
			offset: offset,
			path:   path,
		})
	}
	return mappings
}
