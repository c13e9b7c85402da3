// Copyright 2022-2025 The Parca Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package heapscope

import (
	"debug/elf"
	"fmt"
	"os"
	"sort"
)

// SymbolInfo represents information about a function symbol in an ELF file.
type SymbolInfo struct {
	Name    string
	Address uint64
	Size    uint64
}

// ELFReader is the interface for reading ELF files.
// This allows users to provide their own optimized implementation
// (e.g., using ebpf-profiler's pfelf) while heapscope provides a
// default implementation using debug/elf.
type ELFReader interface {
	// Open opens an ELF file for reading.
	Open(path string) (ELFFile, error)
}

// ELFFile represents an open ELF file.
type ELFFile interface {
	// Close closes the ELF file.
	Close() error

	// FunctionSymbols returns the file's function symbols sorted by
	// ascending start address.
	FunctionSymbols() ([]SymbolInfo, error)

	// FixedLoadAddress reports whether the image is linked at a fixed
	// address (ET_EXEC) rather than position independent (ET_DYN).
	FixedLoadAddress() bool
}

// defaultELFReader is the default implementation using debug/elf.
type defaultELFReader struct{}

// DefaultELFReader returns the default ELF reader implementation using debug/elf.
func DefaultELFReader() ELFReader {
	return &defaultELFReader{}
}

func (r *defaultELFReader) Open(path string) (ELFFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	elfFile, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &defaultELFFile{
		file:    f,
		elfFile: elfFile,
	}, nil
}

// defaultELFFile implements ELFFile using debug/elf.
type defaultELFFile struct {
	file    *os.File
	elfFile *elf.File
}

func (f *defaultELFFile) Close() error {
	f.elfFile.Close()
	return f.file.Close()
}

func (f *defaultELFFile) FixedLoadAddress() bool {
	return f.elfFile.Type == elf.ET_EXEC
}

func (f *defaultELFFile) FunctionSymbols() ([]SymbolInfo, error) {
	symbols, symErr := f.elfFile.Symbols()
	dynamic, dynErr := f.elfFile.DynamicSymbols()
	if symErr != nil && dynErr != nil {
		return nil, fmt.Errorf("failed to read symbols: %w", symErr)
	}

	var out []SymbolInfo
	for _, sym := range append(symbols, dynamic...) {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Name == "" {
			continue
		}
		out = append(out, SymbolInfo{
			Name:    sym.Name,
			Address: sym.Value,
			Size:    sym.Size,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Address < out[j].Address
	})
	return out, nil
}
