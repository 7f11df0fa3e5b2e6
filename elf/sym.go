// SPDX-License-Identifier: MIT
//
// Copyright (c) 2024 Adrian "asie" Siekierka

package elf

const (
	symSize32 = 16
	symSize64 = 24
)

// readSymbol parses one Elf32_Sym/Elf64_Sym at off, following the
// teacher's serialization_sym.go split of st_info into type/binding.
func (e *ElfImage) readSymbol(off uint64) *Symbol {
	s := &Symbol{}
	if e.Width == 64 {
		s.NameOffset = e.get32(off)
		info := e.Bytes[off+4]
		s.Type = SymbolType(info & 0xF)
		s.Binding = SymbolBinding(info >> 4)
		s.Other = e.Bytes[off+5]
		s.Shndx = e.get16(off + 6)
		s.Value = e.get64(off + 8)
		s.Size = e.get64(off + 16)
	} else {
		s.NameOffset = e.get32(off)
		s.Value = uint64(e.get32(off + 4))
		s.Size = uint64(e.get32(off + 8))
		info := e.Bytes[off+12]
		s.Type = SymbolType(info & 0xF)
		s.Binding = SymbolBinding(info >> 4)
		s.Other = e.Bytes[off+13]
		s.Shndx = e.get16(off + 14)
	}
	return s
}

func (e *ElfImage) writeSymbolShndxAndValue(off uint64, shndx uint16, value uint64, rewriteValue bool) {
	if e.Width == 64 {
		e.put16(off+6, shndx)
		if rewriteValue {
			e.put64(off+8, value)
		}
	} else {
		if rewriteValue {
			e.put32(off+4, uint32(value))
		}
		e.put16(off+14, shndx)
	}
}

func (e *ElfImage) symSize() uint64 {
	if e.Width == 64 {
		return symSize64
	}
	return symSize32
}
