package heapscope

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testValidatorModules() *moduleMap {
	return newStaticModuleMap([]moduleMapping{
		{start: 0x400000, end: 0x500000, path: "/usr/bin/app"},
		{start: 0x7f0000000000, end: 0x7f0000100000, path: "/usr/lib/libobjc.A.dylib"},
	})
}

func TestValidatorExcludesNoiseLibraryDeallocations(t *testing.T) {
	v := newStackValidator(testValidatorModules())

	// Outermost resolvable frame originates in the excluded library.
	stack := callStackOf(0x400100, 0x400200, 0x7f0000000100)

	require.False(t, v.IsValid(stack, false))
	// The same stack is fine for an allocation event.
	require.True(t, v.IsValid(stack, true))
}

func TestValidatorStopsAtOutermostResolvedFrame(t *testing.T) {
	v := newStackValidator(testValidatorModules())

	// Outermost frame does not resolve; the walk continues inward and stops
	// at the application frame, which is not excluded.
	stack := callStackOf(0x7f0000000100, 0x400200, 0x1234)
	require.True(t, v.IsValid(stack, false))
}

func TestValidatorFailsOpen(t *testing.T) {
	v := newStackValidator(newStaticModuleMap(nil))

	stack := callStackOf(0x1000, 0x2000, 0x3000)
	require.True(t, v.IsValid(stack, false))
	require.True(t, v.IsValid(stack, true))
}

func TestValidatorCachesObjectFiles(t *testing.T) {
	v := newStackValidator(testValidatorModules())

	stack := callStackOf(0x400100, 0x7f0000000100)
	require.False(t, v.IsValid(stack, false))

	name, ok := v.cache.Get(0x7f0000000100)
	require.True(t, ok)
	require.Equal(t, "libobjc.A.dylib", name)

	// Cached result is reused on the second pass.
	require.False(t, v.IsValid(stack, false))
}
