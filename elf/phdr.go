// SPDX-License-Identifier: MIT
//
// Copyright (c) 2024 Adrian "asie" Siekierka

package elf

// readProgramHeader parses one Elf32_Phdr/Elf64_Phdr at off, following the
// teacher's serialization_phdr.go split between the 32 and 64 bit layouts.
func (e *ElfImage) readProgramHeader(off uint64) (*ProgramHeader, error) {
	ph := &ProgramHeader{}
	if e.Width == 64 {
		ph.Type = ProgramHeaderType(e.get32(off))
		ph.Flags = ProgramHeaderFlag(e.get32(off + 4))
		ph.Offset = e.get64(off + 8)
		ph.VAddr = e.get64(off + 16)
		ph.PAddr = e.get64(off + 24)
		ph.Filesz = e.get64(off + 32)
		ph.Memsz = e.get64(off + 40)
		ph.Align = e.get64(off + 48)
	} else {
		ph.Type = ProgramHeaderType(e.get32(off))
		ph.Offset = uint64(e.get32(off + 4))
		ph.VAddr = uint64(e.get32(off + 8))
		ph.PAddr = uint64(e.get32(off + 12))
		ph.Filesz = uint64(e.get32(off + 16))
		ph.Memsz = uint64(e.get32(off + 20))
		ph.Flags = ProgramHeaderFlag(e.get32(off + 24))
		ph.Align = uint64(e.get32(off + 28))
	}
	if ph.Filesz > 0 {
		end, ok := checkedAdd(ph.Offset, ph.Filesz)
		if !ok || end > uint64(len(e.Bytes)) {
			return nil, structuralf("program header data out of bounds")
		}
	}
	return ph, nil
}

func (e *ElfImage) writeProgramHeader(off uint64, ph *ProgramHeader) {
	if e.Width == 64 {
		e.put32(off, uint32(ph.Type))
		e.put32(off+4, uint32(ph.Flags))
		e.put64(off+8, ph.Offset)
		e.put64(off+16, ph.VAddr)
		e.put64(off+24, ph.PAddr)
		e.put64(off+32, ph.Filesz)
		e.put64(off+40, ph.Memsz)
		e.put64(off+48, ph.Align)
	} else {
		e.put32(off, uint32(ph.Type))
		e.put32(off+4, uint32(ph.Offset))
		e.put32(off+8, uint32(ph.VAddr))
		e.put32(off+12, uint32(ph.PAddr))
		e.put32(off+16, uint32(ph.Filesz))
		e.put32(off+20, uint32(ph.Memsz))
		e.put32(off+24, uint32(ph.Flags))
		e.put32(off+28, uint32(ph.Align))
	}
}

func (e *ElfImage) phdrSize() uint64 {
	if e.Width == 64 {
		return phdrSize64
	}
	return phdrSize32
}
