// SPDX-License-Identifier: MIT
//
// Copyright (c) 2024 Adrian "asie" Siekierka

package elf

// readSectionHeader parses one Elf32_Shdr/Elf64_Shdr at off, following the
// teacher's serialization_shdr.go split between the 32 and 64 bit layouts.
// Unlike the teacher, this does not slurp the section's data into memory:
// ElfImage keeps one shared Bytes buffer (spec.md §9).
func (e *ElfImage) readSectionHeader(off uint64) (*SectionHeader, error) {
	sh := &SectionHeader{}
	if e.Width == 64 {
		sh.NameOffset = e.get32(off)
		sh.Type = SectionHeaderType(e.get32(off + 4))
		sh.Flags = SectionHeaderFlag(e.get64(off + 8))
		sh.Addr = e.get64(off + 16)
		sh.Offset = e.get64(off + 24)
		sh.Size = e.get64(off + 32)
		sh.Link = e.get32(off + 40)
		sh.Info = e.get32(off + 44)
		sh.AddrAlign = e.get64(off + 48)
		sh.EntSize = e.get64(off + 56)
	} else {
		sh.NameOffset = e.get32(off)
		sh.Type = SectionHeaderType(e.get32(off + 4))
		sh.Flags = SectionHeaderFlag(e.get32(off + 8))
		sh.Addr = uint64(e.get32(off + 12))
		sh.Offset = uint64(e.get32(off + 16))
		sh.Size = uint64(e.get32(off + 20))
		sh.Link = e.get32(off + 24)
		sh.Info = e.get32(off + 28)
		sh.AddrAlign = uint64(e.get32(off + 32))
		sh.EntSize = uint64(e.get32(off + 36))
	}
	if sh.Type.HasDataInFile() && sh.Size > 0 {
		end, ok := checkedAdd(sh.Offset, sh.Size)
		if !ok || end > uint64(len(e.Bytes)) {
			return nil, structuralf("section header data out of bounds")
		}
	}
	return sh, nil
}

func (e *ElfImage) writeSectionHeader(off uint64, sh *SectionHeader) {
	if e.Width == 64 {
		e.put32(off, sh.NameOffset)
		e.put32(off+4, uint32(sh.Type))
		e.put64(off+8, uint64(sh.Flags))
		e.put64(off+16, sh.Addr)
		e.put64(off+24, sh.Offset)
		e.put64(off+32, sh.Size)
		e.put32(off+40, sh.Link)
		e.put32(off+44, sh.Info)
		e.put64(off+48, sh.AddrAlign)
		e.put64(off+56, sh.EntSize)
	} else {
		e.put32(off, sh.NameOffset)
		e.put32(off+4, uint32(sh.Type))
		e.put32(off+8, uint32(sh.Flags))
		e.put32(off+12, uint32(sh.Addr))
		e.put32(off+16, uint32(sh.Offset))
		e.put32(off+20, uint32(sh.Size))
		e.put32(off+24, sh.Link)
		e.put32(off+28, sh.Info)
		e.put32(off+32, uint32(sh.AddrAlign))
		e.put32(off+36, uint32(sh.EntSize))
	}
}

func (e *ElfImage) shdrSize() uint64 {
	if e.Width == 64 {
		return shdrSize64
	}
	return shdrSize32
}
