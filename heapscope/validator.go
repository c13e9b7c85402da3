package heapscope

import (
	"github.com/elastic/go-freelru"
)

// excludedObjectFile is a runtime library known to issue spurious
// deallocation notifications; deallocation stacks originating from it are
// suppressed.
const excludedObjectFile = "libobjc.A.dylib"

// stackValidator classifies a captured call stack as attributable to a known
// noise source. It shares the object-file cache population strategy with the
// symbol resolver: each address is looked up against the process mappings at
// most once.
type stackValidator struct {
	modules *moduleMap
	cache   *freelru.LRU[uintptr, string]
}

func newStackValidator(modules *moduleMap) *stackValidator {
	return &stackValidator{
		modules: modules,
		cache:   newAddrCache(objfileCacheSize),
	}
}

// IsValid walks the stack from its outermost frame inward and stops at the
// first frame whose containing object file resolves to a non-empty name. A
// deallocation stack originating from the excluded library is invalid;
// everything else, including stacks that never resolve, is valid.
func (v *stackValidator) IsValid(cs CallStack, isAlloc bool) bool {
	var objfile string
	for i := cs.depth - 1; i > 0; i-- {
		addr := cs.pc[i]
		if name, ok := v.cache.Get(addr); ok {
			objfile = name
		} else {
			var name string
			if mapping, ok := v.modules.lookup(addr); ok {
				name = mapping.base()
			}
			v.cache.Add(addr, name)
			objfile = name
		}

		if objfile != "" {
			// Only the originating object file matters.
			break
		}
	}

	if objfile != "" && !isAlloc && objfile == excludedObjectFile {
		return false
	}
	return true
}
